// Package revenue combines plan records, cumulative burn probability and the
// price path into risk-adjusted biomass and economic value per plan.
package revenue

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"firerisk/internal/burnrisk"
	"firerisk/internal/forest"
	"firerisk/internal/gap"
)

// Options controls aggregation.
type Options struct {
	// DiscountRate discounts period t by (1+rate)^t in DiscountedValue.
	DiscountRate float64
	// Policy decides how missing risk-adjusted cells enter the sums.
	// The default, gap.Exclude, drops them.
	Policy gap.Policy
}

// PlanValue is the scenario result of one plan.
type PlanValue struct {
	Plan forest.PlanID
	// TotalBiomass is Σ_r Σ_t biomass·p over the cells kept by the policy.
	TotalBiomass float64
	// Value is Σ_t price[t]·Σ_r biomass·p.
	Value           float64
	DiscountedValue float64
	// PeriodBiomass is Σ_r biomass·p per period.
	PeriodBiomass []float64
	// SalableBiomass is the unadjusted biomass over the same cells.
	SalableBiomass float64
	// BurnedShare is TotalBiomass / SalableBiomass; missing when nothing is salable.
	BurnedShare gap.Float
	// GapCells counts (stand, period) cells that had no burn probability.
	GapCells int
}

// RiskAdjusted returns biomass × cumulative burn probability, indexed
// [stand][period]. A missing probability yields a missing cell.
func RiskAdjusted(rec forest.PlanRecords, risk burnrisk.PlanRisk) ([][]gap.Float, error) {
	if err := checkAligned(rec, risk); err != nil {
		return nil, err
	}
	out := make([][]gap.Float, len(rec.Records))
	for r, record := range rec.Records {
		row := make([]gap.Float, len(record.Biomass))
		for t, b := range record.Biomass {
			row[t] = risk.At(r, forest.Period(t)).Mul(b)
		}
		out[r] = row
	}
	return out, nil
}

// Aggregate prices one plan. prices must have one entry per period.
func Aggregate(rec forest.PlanRecords, risk burnrisk.PlanRisk, prices []float64, opts Options) (PlanValue, error) {
	ra, err := RiskAdjusted(rec, risk)
	if err != nil {
		return PlanValue{}, err
	}
	horizon := len(prices)
	for _, record := range rec.Records {
		if len(record.Biomass) != horizon {
			return PlanValue{}, fmt.Errorf("%w: stand %q has %d periods, price series has %d",
				forest.ErrMisaligned, record.Stand, len(record.Biomass), horizon)
		}
	}

	for t, price := range prices {
		if !finite(price) {
			return PlanValue{}, fmt.Errorf("%w: price %v at period %d is not finite", forest.ErrInvalidConfiguration, price, t)
		}
	}

	perPeriod := make([]decimal.Decimal, horizon)
	total := decimal.Zero
	salable := decimal.Zero
	gaps := 0
	for r, row := range ra {
		for t, cell := range row {
			if !cell.Valid() {
				gaps++
			}
			v, keep := opts.Policy.Resolve(cell)
			if !keep {
				continue
			}
			biomass := rec.Records[r].Biomass[t]
			if !finite(v) || !finite(biomass) {
				return PlanValue{}, fmt.Errorf("%w: %s stand %q period %d has non-finite biomass %v",
					forest.ErrInvalidConfiguration, rec.Plan, rec.Records[r].Stand, t, biomass)
			}
			d := decimal.NewFromFloat(v)
			perPeriod[t] = perPeriod[t].Add(d)
			total = total.Add(d)
			salable = salable.Add(decimal.NewFromFloat(biomass))
		}
	}

	value := decimal.Zero
	discounted := decimal.Zero
	out := PlanValue{Plan: rec.Plan, PeriodBiomass: make([]float64, horizon), GapCells: gaps}
	for t, b := range perPeriod {
		priced := b.Mul(decimal.NewFromFloat(prices[t]))
		value = value.Add(priced)
		f := 1 / math.Pow(1+opts.DiscountRate, float64(t))
		if !finite(f) {
			return PlanValue{}, fmt.Errorf("%w: discount rate %v gives a non-finite factor at period %d",
				forest.ErrInvalidConfiguration, opts.DiscountRate, t)
		}
		factor := decimal.NewFromFloat(f)
		discounted = discounted.Add(priced.Mul(factor))
		out.PeriodBiomass[t] = b.InexactFloat64()
	}

	out.TotalBiomass = total.InexactFloat64()
	out.Value = value.InexactFloat64()
	out.DiscountedValue = discounted.InexactFloat64()
	out.SalableBiomass = salable.InexactFloat64()
	if !salable.IsZero() {
		out.BurnedShare = gap.Some(total.Div(salable).InexactFloat64())
	}
	return out, nil
}

// AggregateAll prices every plan. records and risk must list the same plans
// in the same order.
func AggregateAll(recs []forest.PlanRecords, risk []burnrisk.PlanRisk, prices []float64, opts Options) ([]PlanValue, error) {
	if len(recs) != len(risk) {
		return nil, fmt.Errorf("%w: %d record sets but %d risk sets", forest.ErrMisaligned, len(recs), len(risk))
	}
	out := make([]PlanValue, len(recs))
	for i := range recs {
		v, err := Aggregate(recs[i], risk[i], prices, opts)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Totals returns TotalBiomass of each plan.
func Totals(values []PlanValue) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v.TotalBiomass
	}
	return out
}

// Values returns Value of each plan.
func Values(values []PlanValue) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v.Value
	}
	return out
}

// Plans returns the plan identifier of each value, in the same order.
func Plans(values []PlanValue) []forest.PlanID {
	out := make([]forest.PlanID, len(values))
	for i, v := range values {
		out[i] = v.Plan
	}
	return out
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func checkAligned(rec forest.PlanRecords, risk burnrisk.PlanRisk) error {
	if rec.Plan != risk.Plan {
		return fmt.Errorf("%w: records for %s paired with risk for %s", forest.ErrMisaligned, rec.Plan, risk.Plan)
	}
	if len(rec.Records) != len(risk.Stands) || len(risk.Cumulative) != len(risk.Stands) {
		return fmt.Errorf("%w: %s has %d records but %d risk rows", forest.ErrMisaligned, rec.Plan, len(rec.Records), len(risk.Stands))
	}
	for r, record := range rec.Records {
		if record.Stand != risk.Stands[r] {
			return fmt.Errorf("%w: %s row %d is stand %q in records but %q in risk",
				forest.ErrMisaligned, rec.Plan, r, record.Stand, risk.Stands[r])
		}
		if len(risk.Cumulative[r]) != len(record.Biomass) {
			return fmt.Errorf("%w: %s stand %q has %d biomass periods but %d risk periods",
				forest.ErrMisaligned, rec.Plan, record.Stand, len(record.Biomass), len(risk.Cumulative[r]))
		}
	}
	return nil
}
