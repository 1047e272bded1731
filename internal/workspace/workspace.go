// Package workspace manages the directory hierarchy of a firerisk project.
//
// Directory layout:
//
//	<root>/
//	    forest.yaml              # horizon, policy catalog, simulation, toolchain
//	    optimizer.yaml           # price walk, discount rate, plan count
//	    stands.yaml              # stand catalog with per-policy schedules
//	    firerisk.db              # run history
//	    scenarios/<scenario>/    # optimizer inputs and outputs
//	        solutions.csv
//	        objectives.csv
//	        fuels/               # fuels_plan_<s>_period_<t>.tif
//	    results/<run-id>/        # report bundle and exported artifacts
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"firerisk/internal/config"
	"firerisk/internal/forest"
)

const (
	StandsFile   = "stands.yaml"
	DatabaseFile = "firerisk.db"

	scenariosDir = "scenarios"
	resultsDir   = "results"
	fuelsDir     = "fuels"
)

// ErrNotWorkspace is returned by Open when root has no forest.yaml.
var ErrNotWorkspace = errors.New("not a firerisk workspace")

// Workspace is an initialized project directory.
type Workspace struct {
	Root string
}

// Init creates the workspace hierarchy under root and writes both config
// documents. It errors if root already holds a workspace.
func Init(root string, cfg config.Config) (*Workspace, error) {
	if _, err := os.Stat(filepath.Join(root, config.ForestFile)); err == nil {
		return nil, fmt.Errorf("workspace already exists at %s", root)
	}
	w := &Workspace{Root: root}
	dirs := []string{filepath.Join(root, resultsDir)}
	for _, sc := range forest.Scenarios {
		dirs = append(dirs, w.FuelsDir(sc))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace: %w", err)
		}
	}
	if err := cfg.Write(root); err != nil {
		return nil, err
	}
	return w, nil
}

// Open opens an existing workspace.
func Open(root string) (*Workspace, error) {
	if _, err := os.Stat(filepath.Join(root, config.ForestFile)); err != nil {
		return nil, fmt.Errorf("%w: %s (run 'firerisk init %s' first)", ErrNotWorkspace, root, root)
	}
	return &Workspace{Root: root}, nil
}

// Path resolves a workspace-relative path. Absolute paths are returned
// unchanged; empty stays empty.
func (w *Workspace) Path(rel string) string {
	if rel == "" || filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(w.Root, rel)
}

// StandsPath is the stand catalog.
func (w *Workspace) StandsPath() string { return filepath.Join(w.Root, StandsFile) }

// DatabasePath is the run history database.
func (w *Workspace) DatabasePath() string { return filepath.Join(w.Root, DatabaseFile) }

// ScenarioDir holds the optimizer files of one scenario.
func (w *Workspace) ScenarioDir(sc forest.Scenario) string {
	return filepath.Join(w.Root, scenariosDir, string(sc))
}

// FuelsDir holds the fuel rasters of one scenario.
func (w *Workspace) FuelsDir(sc forest.Scenario) string {
	return filepath.Join(w.ScenarioDir(sc), fuelsDir)
}

// ResultsDir is the output directory of one run.
func (w *Workspace) ResultsDir(run string) string {
	return filepath.Join(w.Root, resultsDir, run)
}

// CreateResultsDir creates the output directory of a new run. It errors if
// the run already has results.
func (w *Workspace) CreateResultsDir(run string) (string, error) {
	dir := w.ResultsDir(run)
	if _, err := os.Stat(dir); err == nil {
		return "", fmt.Errorf("results for run %q already exist at %s", run, dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}
	return dir, nil
}

// ListRuns returns the sorted names of all run directories under results/.
func (w *Workspace) ListRuns() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(w.Root, resultsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read results dir: %w", err)
	}
	var runs []string
	for _, e := range entries {
		if e.IsDir() {
			runs = append(runs, e.Name())
		}
	}
	sort.Strings(runs)
	return runs, nil
}

// RemoveRun deletes the results of one run.
func (w *Workspace) RemoveRun(run string) error {
	dir := w.ResultsDir(run)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("run %q not found", run)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove run: %w", err)
	}
	return nil
}

// LoadConfig reads both config documents and the process environment.
func (w *Workspace) LoadConfig() (config.Config, error) {
	return config.Load(w.Root)
}

// LoadCatalog reads stands.yaml and checks its policies against cfg.
func (w *Workspace) LoadCatalog(cfg config.Forest) (*forest.Catalog, error) {
	catalog, err := forest.LoadCatalog(w.StandsPath(), cfg.Horizon)
	if err != nil {
		return nil, err
	}
	if err := cfg.CheckCatalog(catalog); err != nil {
		return nil, err
	}
	return catalog, nil
}
