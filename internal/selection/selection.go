// Package selection ranks plans within a scenario and across the two
// investment scenarios, and reports how much of each plan's planned value
// survives fire risk.
package selection

import (
	"fmt"

	"firerisk/internal/forest"
	"firerisk/internal/gap"
)

// DefaultErosionPrefix is the number of leading plans covered by the erosion
// diagnostic when none is configured.
const DefaultErosionPrefix = 5

// Choice is the best plan of a comparison.
type Choice struct {
	Scenario forest.Scenario
	Plan     forest.PlanID
	Value    float64
}

// Ordinal returns the 1-based plan index.
func (c Choice) Ordinal() int { return c.Plan.Ordinal() }

func (c Choice) String() string {
	return fmt.Sprintf("%s from the %q scenario with value %g", c.Plan, c.Scenario.Label(), c.Value)
}

// Best returns the plan and value of the largest entry. plans[i] names the
// plan behind values[i]. Ties go to the earlier entry.
func Best(plans []forest.PlanID, values []float64) (forest.PlanID, float64, error) {
	if len(plans) != len(values) {
		return 0, 0, fmt.Errorf("%w: %d plans but %d plan values", forest.ErrMisaligned, len(plans), len(values))
	}
	if len(values) == 0 {
		return 0, 0, fmt.Errorf("%w: no plan values to rank", forest.ErrInvalidConfiguration)
	}
	best := 0
	for i, v := range values[1:] {
		if v > values[best] {
			best = i + 1
		}
	}
	return plans[best], values[best], nil
}

// Select compares the maxima of both scenarios. The plan without firebreaks
// wins only when its maximum is strictly greater.
func Select(without, with Scenario) (Choice, error) {
	wp, wv, err := Best(without.Plans, without.Values)
	if err != nil {
		return Choice{}, fmt.Errorf("%s: %w", forest.WithoutFirebreak.Label(), err)
	}
	fp, fv, err := Best(with.Plans, with.Values)
	if err != nil {
		return Choice{}, fmt.Errorf("%s: %w", forest.WithFirebreak.Label(), err)
	}
	if wv > fv {
		return Choice{Scenario: forest.WithoutFirebreak, Plan: wp, Value: wv}, nil
	}
	return Choice{Scenario: forest.WithFirebreak, Plan: fp, Value: fv}, nil
}

// Ratio is the erosion diagnostic of one plan.
type Ratio struct {
	Plan      forest.PlanID
	Value     float64 // post-fire risk-adjusted value
	Objective float64 // optimizer's deterministic objective
	// Ratio is Value/Objective, missing when the objective is zero.
	Ratio gap.Float
}

// Erosion compares the first prefix plans' values, in list order, against their optimizer
// objectives. A prefix below one uses DefaultErosionPrefix; a prefix beyond
// the plan count covers every plan.
func Erosion(plans []forest.PlanID, values, objectives []float64, prefix int) ([]Ratio, error) {
	if len(values) != len(objectives) || len(plans) != len(values) {
		return nil, fmt.Errorf("%w: %d plans, %d plan values and %d objectives",
			forest.ErrMisaligned, len(plans), len(values), len(objectives))
	}
	if prefix < 1 {
		prefix = DefaultErosionPrefix
	}
	n := min(prefix, len(values))
	out := make([]Ratio, n)
	for i := range n {
		r := Ratio{Plan: plans[i], Value: values[i], Objective: objectives[i]}
		if objectives[i] != 0 {
			r.Ratio = gap.Some(values[i] / objectives[i])
		}
		out[i] = r
	}
	return out, nil
}

// Scenario is one scenario's ranking input.
type Scenario struct {
	Name forest.Scenario
	// Plans identifies the plan behind each entry of Values and Objectives.
	Plans []forest.PlanID
	// Values is the per-plan figure being ranked.
	Values     []float64
	Objectives []float64
}

// ScenarioSummary is the within-scenario part of a Report.
type ScenarioSummary struct {
	Name    forest.Scenario
	Best    forest.PlanID
	Value   float64
	Erosion []Ratio
}

// Report is the outcome of comparing both scenarios.
type Report struct {
	Choice    Choice
	Scenarios []ScenarioSummary
}

// Compare ranks both scenarios and attaches their erosion tables.
func Compare(without, with Scenario, prefix int) (Report, error) {
	choice, err := Select(without, with)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Choice: choice}
	for _, sc := range []Scenario{without, with} {
		best, value, err := Best(sc.Plans, sc.Values)
		if err != nil {
			return Report{}, fmt.Errorf("%s: %w", sc.Name.Label(), err)
		}
		erosion, err := Erosion(sc.Plans, sc.Values, sc.Objectives, prefix)
		if err != nil {
			return Report{}, fmt.Errorf("%s: %w", sc.Name.Label(), err)
		}
		rep.Scenarios = append(rep.Scenarios, ScenarioSummary{
			Name:    sc.Name,
			Best:    best,
			Value:   value,
			Erosion: erosion,
		})
	}
	return rep, nil
}
