package burnrisk

import "firerisk/internal/gap"

// accumulator keeps the running sums for one plan. Periods must be fed in
// increasing order.
type accumulator struct {
	sums    []float64
	elapsed int
}

func newAccumulator(stands int) *accumulator {
	return &accumulator{sums: make([]float64, stands)}
}

// step folds one period of raw samples (one per stand) and returns the
// cumulative figure for that period.
//
// The denominator is the number of elapsed periods, missing ones included.
// A missing current sample yields a missing cumulative value but leaves the
// running sum intact for later periods.
func (a *accumulator) step(raw []gap.Float) []gap.Float {
	a.elapsed++
	denom := float64(a.elapsed)
	out := make([]gap.Float, len(raw))
	for r, s := range raw {
		v, ok := s.Get()
		if !ok {
			continue
		}
		a.sums[r] += v
		out[r] = gap.Some(a.sums[r] / denom)
	}
	return out
}

// Cumulative returns the gap-tolerant running time-average of one stand's
// per-period burn probabilities.
//
//	[0.1, 0.2, 0.3]      -> [0.1, 0.15, 0.2]
//	[missing, 0.4, 0.5]  -> [missing, 0.2, 0.3]
func Cumulative(raw []gap.Float) []gap.Float {
	acc := newAccumulator(1)
	out := make([]gap.Float, len(raw))
	for t, s := range raw {
		out[t] = acc.step([]gap.Float{s})[0]
	}
	return out
}
