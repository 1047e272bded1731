package revenue_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firerisk/internal/burnrisk"
	"firerisk/internal/forest"
	"firerisk/internal/gap"
	"firerisk/internal/revenue"
)

func record(id forest.StandID, biomass ...float64) forest.Record {
	return forest.Record{Stand: id, Schedule: forest.Schedule{Biomass: biomass}}
}

func TestEndToEndExample(t *testing.T) {
	rec := forest.PlanRecords{Plan: 0, Records: []forest.Record{record("r", 100, 200)}}
	risk := burnrisk.PlanRisk{
		Plan:       0,
		Stands:     []forest.StandID{"r"},
		Cumulative: [][]gap.Float{burnrisk.Cumulative([]gap.Float{gap.Some(0.5), gap.None()})},
	}

	ra, err := revenue.RiskAdjusted(rec, risk)
	require.NoError(t, err)
	assert.Equal(t, gap.Some(50), ra[0][0])
	assert.False(t, ra[0][1].Valid())

	v, err := revenue.Aggregate(rec, risk, []float64{10, 20}, revenue.Options{})
	require.NoError(t, err)
	assert.Equal(t, 500.0, v.Value)
	assert.Equal(t, 50.0, v.TotalBiomass)
	assert.Equal(t, 1, v.GapCells)
	assert.Equal(t, 100.0, v.SalableBiomass, "salable biomass covers only kept cells")
	assert.Equal(t, gap.Some(0.5), v.BurnedShare)
	assert.Equal(t, []float64{50, 0}, v.PeriodBiomass)
}

func TestZeroFillCountsGapsButSumsSame(t *testing.T) {
	rec := forest.PlanRecords{Plan: 0, Records: []forest.Record{record("r", 100, 200)}}
	risk := burnrisk.PlanRisk{Plan: 0, Stands: []forest.StandID{"r"}, Cumulative: [][]gap.Float{{gap.Some(0.5), gap.None()}}}
	v, err := revenue.Aggregate(rec, risk, []float64{10, 20}, revenue.Options{Policy: gap.ZeroFill})
	require.NoError(t, err)
	assert.Equal(t, 500.0, v.Value)
	assert.Equal(t, 1, v.GapCells)
	assert.Equal(t, 300.0, v.SalableBiomass)
}

func TestDiscountedValue(t *testing.T) {
	rec := forest.PlanRecords{Plan: 2, Records: []forest.Record{record("r", 10, 10)}}
	risk := burnrisk.PlanRisk{Plan: 2, Stands: []forest.StandID{"r"}, Cumulative: [][]gap.Float{{gap.Some(1), gap.Some(1)}}}
	v, err := revenue.Aggregate(rec, risk, []float64{1, 1.1}, revenue.Options{DiscountRate: 0.1})
	require.NoError(t, err)
	assert.InDelta(t, 21.0, v.Value, 1e-9)
	assert.InDelta(t, 20.0, v.DiscountedValue, 1e-9)
}

// Value must not depend on the order stands are listed in.
func TestValueInvariantToStandOrder(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	const stands, horizon = 12, 7
	prices := make([]float64, horizon)
	for i := range prices {
		prices[i] = 1 + rng.Float64()*50
	}
	var recs []forest.Record
	var cum [][]gap.Float
	var ids []forest.StandID
	for r := 0; r < stands; r++ {
		id := forest.StandID(string(rune('a' + r)))
		b := make([]float64, horizon)
		p := make([]gap.Float, horizon)
		for t := range b {
			b[t] = rng.Float64() * 1000
			if rng.IntN(5) == 0 {
				p[t] = gap.None()
			} else {
				p[t] = gap.Some(rng.Float64())
			}
		}
		recs = append(recs, record(id, b...))
		cum = append(cum, p)
		ids = append(ids, id)
	}
	base, err := revenue.Aggregate(
		forest.PlanRecords{Plan: 0, Records: recs},
		burnrisk.PlanRisk{Plan: 0, Stands: ids, Cumulative: cum},
		prices, revenue.Options{})
	require.NoError(t, err)

	for trial := 0; trial < 5; trial++ {
		perm := rng.Perm(stands)
		pr := make([]forest.Record, stands)
		pc := make([][]gap.Float, stands)
		pi := make([]forest.StandID, stands)
		for i, j := range perm {
			pr[i], pc[i], pi[i] = recs[j], cum[j], ids[j]
		}
		got, err := revenue.Aggregate(
			forest.PlanRecords{Plan: 0, Records: pr},
			burnrisk.PlanRisk{Plan: 0, Stands: pi, Cumulative: pc},
			prices, revenue.Options{})
		require.NoError(t, err)
		assert.Equal(t, base.Value, got.Value)
		assert.Equal(t, base.TotalBiomass, got.TotalBiomass)
		assert.Equal(t, base.GapCells, got.GapCells)
	}
}

func TestAggregateRejectsMisaligned(t *testing.T) {
	rec := forest.PlanRecords{Plan: 0, Records: []forest.Record{record("a", 1), record("b", 1)}}
	tests := map[string]burnrisk.PlanRisk{
		"plan":   {Plan: 1, Stands: []forest.StandID{"a", "b"}, Cumulative: [][]gap.Float{{gap.Some(1)}, {gap.Some(1)}}},
		"order":  {Plan: 0, Stands: []forest.StandID{"b", "a"}, Cumulative: [][]gap.Float{{gap.Some(1)}, {gap.Some(1)}}},
		"count":  {Plan: 0, Stands: []forest.StandID{"a"}, Cumulative: [][]gap.Float{{gap.Some(1)}}},
		"period": {Plan: 0, Stands: []forest.StandID{"a", "b"}, Cumulative: [][]gap.Float{{gap.Some(1), gap.Some(1)}, {gap.Some(1)}}},
	}
	for name, risk := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := revenue.Aggregate(rec, risk, []float64{1}, revenue.Options{})
			assert.ErrorIs(t, err, forest.ErrMisaligned)
		})
	}

	good := burnrisk.PlanRisk{Plan: 0, Stands: []forest.StandID{"a", "b"}, Cumulative: [][]gap.Float{{gap.Some(1)}, {gap.Some(1)}}}
	_, err := revenue.Aggregate(rec, good, []float64{1, 2}, revenue.Options{})
	assert.ErrorIs(t, err, forest.ErrMisaligned, "price series length must match horizon")
}

func TestAggregateAll(t *testing.T) {
	recs := []forest.PlanRecords{
		{Plan: 0, Records: []forest.Record{record("a", 10)}},
		{Plan: 1, Records: []forest.Record{record("a", 20)}},
	}
	risk := []burnrisk.PlanRisk{
		{Plan: 0, Stands: []forest.StandID{"a"}, Cumulative: [][]gap.Float{{gap.Some(0.5)}}},
		{Plan: 1, Stands: []forest.StandID{"a"}, Cumulative: [][]gap.Float{{gap.Some(0.5)}}},
	}
	vals, err := revenue.AggregateAll(recs, risk, []float64{2}, revenue.Options{})
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 10}, revenue.Totals(vals))
	assert.Equal(t, []float64{10, 20}, revenue.Values(vals))

	_, err = revenue.AggregateAll(recs, risk[:1], []float64{2}, revenue.Options{})
	assert.ErrorIs(t, err, forest.ErrMisaligned)
}

func TestBurnedShareMissingWhenNothingSalable(t *testing.T) {
	rec := forest.PlanRecords{Plan: 0, Records: []forest.Record{record("a", 0)}}
	risk := burnrisk.PlanRisk{Plan: 0, Stands: []forest.StandID{"a"}, Cumulative: [][]gap.Float{{gap.Some(0.3)}}}
	v, err := revenue.Aggregate(rec, risk, []float64{5}, revenue.Options{})
	require.NoError(t, err)
	assert.False(t, v.BurnedShare.Valid())
}

func TestAggregateRejectsNonFinite(t *testing.T) {
	risk := burnrisk.PlanRisk{Plan: 0, Stands: []forest.StandID{"a"}, Cumulative: [][]gap.Float{{gap.Some(0.5), gap.Some(0.5)}}}
	tests := []struct {
		name    string
		biomass []float64
		prices  []float64
		rate    float64
	}{
		{"nan biomass", []float64{math.NaN(), 1}, []float64{1, 1}, 0},
		{"infinite biomass", []float64{1, math.Inf(1)}, []float64{1, 1}, 0},
		{"infinite price", []float64{1, 1}, []float64{10, math.Inf(1)}, 0},
		{"nan price", []float64{1, 1}, []float64{math.NaN(), 1}, 0},
		{"discount rate of minus one", []float64{1, 1}, []float64{1, 1}, -1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := forest.PlanRecords{Plan: 0, Records: []forest.Record{record("a", tc.biomass...)}}
			assert.NotPanics(t, func() {
				_, err := revenue.Aggregate(rec, risk, tc.prices, revenue.Options{DiscountRate: tc.rate})
				assert.ErrorIs(t, err, forest.ErrInvalidConfiguration)
			})
		})
	}
}

func TestPlansKeepsIdentifiers(t *testing.T) {
	vals := []revenue.PlanValue{{Plan: 4}, {Plan: 7}}
	assert.Equal(t, []forest.PlanID{4, 7}, revenue.Plans(vals))
}
