// Package burnrisktest provides a deterministic stand-in for the fire-spread
// toolchain. It serves fixture fuel rasters and burn probabilities keyed by
// (plan, period) and can script missing fuels and simulator failures.
package burnrisktest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"firerisk/internal/burnrisk"
	"firerisk/internal/forest"
	"firerisk/internal/gap"
)

// Key addresses one (plan, period).
type Key struct {
	Plan   forest.PlanID
	Period forest.Period
}

// ErrScripted is returned by scripted simulator failures.
var ErrScripted = errors.New("scripted simulator failure")

// Toolchain implements burnrisk.FuelSource, burnrisk.Simulator and
// burnrisk.ZonalStatistics. It is safe for concurrent use.
type Toolchain struct {
	mu       sync.Mutex
	probs    map[Key]map[forest.StandID]gap.Float
	noFuel   map[Key]bool
	failures map[Key]int
	noResult map[Key]bool
	rasters  map[string]Key

	requests []burnrisk.SimulationRequest
	attempts map[Key]int
}

// New returns an empty toolchain. Unset (plan, period) pairs have fuel and
// an empty zonal result, which the aggregator reads as zero risk.
func New() *Toolchain {
	return &Toolchain{
		probs:    make(map[Key]map[forest.StandID]gap.Float),
		noFuel:   make(map[Key]bool),
		failures: make(map[Key]int),
		noResult: make(map[Key]bool),
		rasters:  make(map[string]Key),
		attempts: make(map[Key]int),
	}
}

// Set fixes the zonal means returned for (plan, period).
func (tc *Toolchain) Set(plan forest.PlanID, period forest.Period, means map[forest.StandID]gap.Float) *Toolchain {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.probs[Key{plan, period}] = means
	return tc
}

// SetSeries fixes one stand's zonal mean for every period of plan.
// A gap.None entry leaves the zonal value undefined.
func (tc *Toolchain) SetSeries(plan forest.PlanID, stand forest.StandID, series ...gap.Float) *Toolchain {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	for t, v := range series {
		k := Key{plan, forest.Period(t)}
		if tc.probs[k] == nil {
			tc.probs[k] = make(map[forest.StandID]gap.Float)
		}
		tc.probs[k][stand] = v
	}
	return tc
}

// MissingFuel makes the fuel raster of (plan, period) absent.
func (tc *Toolchain) MissingFuel(plan forest.PlanID, period forest.Period) *Toolchain {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.noFuel[Key{plan, period}] = true
	return tc
}

// FailSimulation makes the first n simulator attempts for (plan, period)
// fail. n < 0 fails every attempt.
func (tc *Toolchain) FailSimulation(plan forest.PlanID, period forest.Period, n int) *Toolchain {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.failures[Key{plan, period}] = n
	return tc
}

// NoResults makes the simulator return no results location for (plan, period).
func (tc *Toolchain) NoResults(plan forest.PlanID, period forest.Period) *Toolchain {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.noResult[Key{plan, period}] = true
	return tc
}

// Fuel implements burnrisk.FuelSource.
func (tc *Toolchain) Fuel(ctx context.Context, plan forest.PlanID, period forest.Period) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.noFuel[Key{plan, period}] {
		return "", fmt.Errorf("fuels for %s period %d: %w", plan, period, burnrisk.ErrMissingArtifact)
	}
	return fmt.Sprintf("fixture://fuels/plan-%d/period-%d", plan, period), nil
}

// Simulate implements burnrisk.Simulator.
func (tc *Toolchain) Simulate(ctx context.Context, req burnrisk.SimulationRequest) (burnrisk.SimulationResult, error) {
	if err := ctx.Err(); err != nil {
		return burnrisk.SimulationResult{}, err
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	k := Key{req.Plan, req.Period}
	tc.requests = append(tc.requests, req)
	tc.attempts[k]++

	if n := tc.failures[k]; n < 0 || tc.attempts[k] <= n {
		return burnrisk.SimulationResult{}, ErrScripted
	}
	if tc.noResult[k] {
		return burnrisk.SimulationResult{}, nil
	}
	raster := fmt.Sprintf("fixture://bp/plan-%d/period-%d", req.Plan, req.Period)
	tc.rasters[raster] = k
	return burnrisk.SimulationResult{BurnProbability: raster}, nil
}

// Mean implements burnrisk.ZonalStatistics.
func (tc *Toolchain) Mean(ctx context.Context, raster, workDir string) (map[forest.StandID]gap.Float, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	k, ok := tc.rasters[raster]
	if !ok {
		return nil, fmt.Errorf("unknown raster %q", raster)
	}
	out := make(map[forest.StandID]gap.Float, len(tc.probs[k]))
	for id, v := range tc.probs[k] {
		out[id] = v
	}
	return out, nil
}

// Requests returns a copy of every simulator request received.
func (tc *Toolchain) Requests() []burnrisk.SimulationRequest {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return append([]burnrisk.SimulationRequest(nil), tc.requests...)
}

// Attempts returns the number of simulator attempts for (plan, period).
func (tc *Toolchain) Attempts(plan forest.PlanID, period forest.Period) int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.attempts[Key{plan, period}]
}
