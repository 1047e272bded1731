// Package optimizer exchanges files with the external plan optimizer: it
// writes the optimizer's inputs into a scenario directory, optionally runs
// the optimizer there, and reads back the objective values and the solution
// table.
package optimizer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"firerisk/internal/config"
	"firerisk/internal/forest"
	"firerisk/internal/records"
	"firerisk/internal/toolchain"
)

// File names inside a scenario directory.
const (
	SolutionsFile  = "solutions.csv"
	ObjectivesFile = "objectives.csv"
	StandsFile     = "stands.yaml"
	PoliciesFile   = "policies.yaml"
	PricesFile     = "prices.yaml"
)

// Solver runs the optimizer in a scenario directory.
type Solver interface {
	Solve(ctx context.Context, dir string, in toolchain.OptimizerInputs) error
}

// Inputs is what the optimizer consumes.
type Inputs struct {
	Catalog  *forest.Catalog
	Policies []config.Policy
	Prices   []float64
	Plans    int
}

// Output is what the optimizer produced for one scenario.
type Output struct {
	Objectives map[forest.PlanID]float64
	Solutions  records.Table
}

// ObjectivesFor returns the objective of each plan, in the order given.
func (o Output) ObjectivesFor(plans []forest.PlanRecords) ([]float64, error) {
	out := make([]float64, len(plans))
	for i, p := range plans {
		v, ok := o.Objectives[p.Plan]
		if !ok {
			return nil, fmt.Errorf("%w: no objective for %s", forest.ErrMisaligned, p.Plan)
		}
		out[i] = v
	}
	return out, nil
}

// Run writes the inputs into dir, runs solver if it is non-nil, and reads
// the results. With a nil solver dir must already hold the optimizer's
// output files.
func Run(ctx context.Context, solver Solver, dir string, in Inputs) (Output, error) {
	if solver != nil {
		files, err := WriteInputs(dir, in)
		if err != nil {
			return Output{}, err
		}
		if err := solver.Solve(ctx, dir, files); err != nil {
			return Output{}, fmt.Errorf("optimizer: %w", err)
		}
	}
	return Load(dir)
}

// Load reads the optimizer's output files from dir.
func Load(dir string) (Output, error) {
	table, err := records.LoadTable(filepath.Join(dir, SolutionsFile))
	if err != nil {
		return Output{}, err
	}
	path := filepath.Join(dir, ObjectivesFile)
	fh, err := os.Open(path)
	if err != nil {
		return Output{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer fh.Close()
	objectives, err := ReadObjectives(fh)
	if err != nil {
		return Output{}, fmt.Errorf("%s: %w", path, err)
	}

	plans := table.Plans()
	if len(plans) != len(objectives) {
		return Output{}, fmt.Errorf("%w: %d plans in %s but %d objectives",
			forest.ErrMisaligned, len(plans), SolutionsFile, len(objectives))
	}
	for _, p := range plans {
		if _, ok := objectives[p]; !ok {
			return Output{}, fmt.Errorf("%w: no objective for %s", forest.ErrMisaligned, p)
		}
	}
	return Output{Objectives: objectives, Solutions: table}, nil
}

// ReadObjectives parses a plan,objective CSV.
func ReadObjectives(r io.Reader) (map[forest.PlanID]float64, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = 2
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: objectives table is empty", forest.ErrInvalidConfiguration)
		}
		return nil, err
	}
	if strings.TrimSpace(header[0]) != "plan" || strings.TrimSpace(header[1]) != "objective" {
		return nil, fmt.Errorf("objectives header is %v, want [plan objective]", header)
	}
	out := make(map[forest.PlanID]float64)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		plan, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil || plan < 0 {
			return nil, fmt.Errorf("line %d: plan %q is not a non-negative integer", line, rec[0])
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: objective %q: %w", line, rec[1], err)
		}
		if _, dup := out[forest.PlanID(plan)]; dup {
			return nil, fmt.Errorf("line %d: duplicate plan %d", line, plan)
		}
		out[forest.PlanID(plan)] = v
	}
	return out, nil
}

// WriteObjectives encodes objectives in ascending plan order.
func WriteObjectives(w io.Writer, objectives map[forest.PlanID]float64) error {
	plans := make([]forest.PlanID, 0, len(objectives))
	for p := range objectives {
		plans = append(plans, p)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i] < plans[j] })

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"plan", "objective"}); err != nil {
		return err
	}
	for _, p := range plans {
		if err := cw.Write([]string{strconv.Itoa(int(p)), strconv.FormatFloat(objectives[p], 'g', -1, 64)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteInputs stores the stand catalog, the policy catalog and the price
// series in dir for the optimizer to read.
func WriteInputs(dir string, in Inputs) (toolchain.OptimizerInputs, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return toolchain.OptimizerInputs{}, fmt.Errorf("create %s: %w", dir, err)
	}
	files := toolchain.OptimizerInputs{
		Stands:   filepath.Join(dir, StandsFile),
		Policies: filepath.Join(dir, PoliciesFile),
		Prices:   filepath.Join(dir, PricesFile),
		Plans:    in.Plans,
		Horizon:  in.Catalog.Horizon(),
	}

	fh, err := os.Create(files.Stands)
	if err != nil {
		return toolchain.OptimizerInputs{}, err
	}
	if err := forest.WriteCatalog(fh, in.Catalog); err != nil {
		fh.Close()
		return toolchain.OptimizerInputs{}, err
	}
	if err := fh.Close(); err != nil {
		return toolchain.OptimizerInputs{}, err
	}

	docs := []struct {
		path string
		v    any
	}{
		{files.Policies, map[string]any{"policies": in.Policies}},
		{files.Prices, map[string]any{"prices": in.Prices}},
	}
	for _, d := range docs {
		data, err := yaml.Marshal(d.v)
		if err != nil {
			return toolchain.OptimizerInputs{}, fmt.Errorf("encode %s: %w", d.path, err)
		}
		if err := os.WriteFile(d.path, data, 0o644); err != nil {
			return toolchain.OptimizerInputs{}, fmt.Errorf("write %s: %w", d.path, err)
		}
	}
	return files, nil
}
