package export

import (
	"fmt"
	"os"
	"path/filepath"

	"firerisk/internal/burnrisk"
	"firerisk/internal/forest"
)

// BurnProbabilityName is the nested-sequence file of a scenario.
func BurnProbabilityName(sc forest.Scenario) string {
	return fmt.Sprintf("bp_%s.txt", sc)
}

// AnnotatedName is the annotated stand table of one plan.
func AnnotatedName(sc forest.Scenario, plan forest.PlanID) string {
	return fmt.Sprintf("annotated_%s_plan_%d.csv", sc, plan.Ordinal())
}

// WriteScenarioArtifacts writes the burn-probability file and one annotated
// table per plan into dir.
func WriteScenarioArtifacts(dir string, sc forest.Scenario, recs []forest.PlanRecords, res burnrisk.Result) error {
	if len(recs) != len(res.Plans) {
		return fmt.Errorf("%w: %d record sets but %d risk sets", forest.ErrMisaligned, len(recs), len(res.Plans))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	if err := writeFile(filepath.Join(dir, BurnProbabilityName(sc)), func(f *os.File) error {
		return WriteBurnProbability(f, res.Matrix())
	}); err != nil {
		return err
	}
	for i, rec := range recs {
		risk := res.Plans[i]
		if err := writeFile(filepath.Join(dir, AnnotatedName(sc, rec.Plan)), func(f *os.File) error {
			return WriteAnnotated(f, rec, risk)
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
