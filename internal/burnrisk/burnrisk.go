// Package burnrisk drives the external fire-spread simulator for every
// (plan, period), extracts per-stand burn probability and accumulates the
// cumulative burn probability of each stand.
//
// Periods of one plan run strictly in order because the cumulative figure
// depends on every earlier period. Plans are independent and run in parallel,
// each inside its own scoped temporary directory.
package burnrisk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"firerisk/internal/forest"
	"firerisk/internal/gap"
)

var (
	// ErrMissingArtifact marks a fuel raster that was never produced.
	ErrMissingArtifact = errors.New("missing artifact")
	// ErrNoResults marks a simulator run that produced no results location.
	ErrNoResults = errors.New("simulator returned no results")
)

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// FuelSource locates the fuel raster of a plan in a period.
type FuelSource interface {
	// Fuel returns the raster path, or an error wrapping ErrMissingArtifact.
	Fuel(ctx context.Context, plan forest.PlanID, period forest.Period) (string, error)
}

// SimulationRequest is one fire-spread run.
type SimulationRequest struct {
	Plan       forest.PlanID
	Period     forest.Period
	Fuel       string
	Firebreaks string // empty when the scenario has no firebreaks
	WorkDir    string // scoped to the plan
}

// SimulationResult locates the burn-probability raster of a run.
type SimulationResult struct {
	BurnProbability string
}

// Simulator runs the fire-spread model. Calls block until the run ends.
type Simulator interface {
	Simulate(ctx context.Context, req SimulationRequest) (SimulationResult, error)
}

// ZonalStatistics averages a raster within each stand polygon.
type ZonalStatistics interface {
	Mean(ctx context.Context, raster, workDir string) (map[forest.StandID]gap.Float, error)
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// Gap records a (plan, period) that produced no raw samples.
type Gap struct {
	Plan   forest.PlanID
	Period forest.Period
	Reason string
}

func (g Gap) String() string {
	return fmt.Sprintf("%s period %d: %s", g.Plan, g.Period, g.Reason)
}

// PlanRisk holds one plan's samples, indexed [stand][period] in the order of
// Stands.
type PlanRisk struct {
	Plan       forest.PlanID
	Stands     []forest.StandID
	Raw        [][]gap.Float
	Cumulative [][]gap.Float
}

// At returns the cumulative burn probability of stand r in period t.
func (p PlanRisk) At(r int, t forest.Period) gap.Float {
	return p.Cumulative[r][t]
}

// Result is the output of one scenario batch.
type Result struct {
	Plans []PlanRisk
	Gaps  []Gap
}

// Matrix returns the cumulative burn probability indexed [plan][stand][period].
func (r Result) Matrix() [][][]gap.Float {
	out := make([][][]gap.Float, len(r.Plans))
	for i, p := range r.Plans {
		out[i] = p.Cumulative
	}
	return out
}

// ---------------------------------------------------------------------------
// Aggregator
// ---------------------------------------------------------------------------

// Config controls one scenario batch.
type Config struct {
	Scenario   string
	Firebreaks string // firebreak raster; empty disables firebreaks
	Horizon    int
	// Workers bounds the number of plans simulated at once.
	Workers int
	// MaxAttempts bounds simulator attempts per (plan, period).
	MaxAttempts int
	// InitialBackoff is the first wait between attempts. Later waits grow
	// exponentially up to backoff.DefaultMaxInterval.
	InitialBackoff time.Duration
	// RetryLimit caps the total time spent on one (plan, period), waits
	// included. Zero leaves MaxAttempts as the only bound.
	RetryLimit time.Duration
	// TempDir is the parent of the batch's scoped temporary storage.
	// Empty means os.TempDir().
	TempDir string
}

// Aggregator computes cumulative burn probability for a scenario.
type Aggregator struct {
	fuels  FuelSource
	sim    Simulator
	zonal  ZonalStatistics
	cfg    Config
	log    *log.Logger
	tracer trace.Tracer
}

// New returns an Aggregator. A nil logger discards warnings.
func New(fuels FuelSource, sim Simulator, zonal ZonalStatistics, cfg Config, logger *log.Logger) *Aggregator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.RetryLimit < 0 {
		cfg.RetryLimit = 0
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Aggregator{
		fuels:  fuels,
		sim:    sim,
		zonal:  zonal,
		cfg:    cfg,
		log:    logger,
		tracer: otel.Tracer("firerisk/internal/burnrisk"),
	}
}

// Run simulates every plan over the horizon. All plans must share the same
// stand ordering. Only context cancellation and setup failures abort the
// batch; simulator gaps are recorded in Result.Gaps.
func (a *Aggregator) Run(ctx context.Context, plans []forest.PlanRecords) (Result, error) {
	if a.cfg.Horizon <= 0 {
		return Result{}, fmt.Errorf("%w: horizon must be positive, got %d", forest.ErrInvalidConfiguration, a.cfg.Horizon)
	}
	if len(plans) == 0 {
		return Result{}, fmt.Errorf("%w: no plans to evaluate", forest.ErrInvalidConfiguration)
	}
	stands, err := standOrder(plans)
	if err != nil {
		return Result{}, err
	}

	root, err := os.MkdirTemp(a.cfg.TempDir, "firerisk-"+a.cfg.Scenario+"-")
	if err != nil {
		return Result{}, fmt.Errorf("create batch temp dir: %w", err)
	}
	defer os.RemoveAll(root)

	out := make([]PlanRisk, len(plans))
	gaps := make([][]Gap, len(plans))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)
	for i, p := range plans {
		g.Go(func() error {
			risk, pg, err := a.runPlan(gctx, root, p.Plan, stands)
			if err != nil {
				return fmt.Errorf("%s: %w", p.Plan, err)
			}
			out[i] = risk
			gaps[i] = pg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{Plans: out}
	for _, pg := range gaps {
		res.Gaps = append(res.Gaps, pg...)
	}
	return res, nil
}

func standOrder(plans []forest.PlanRecords) ([]forest.StandID, error) {
	first := plans[0].Records
	stands := make([]forest.StandID, len(first))
	for i, r := range first {
		stands[i] = r.Stand
	}
	for _, p := range plans[1:] {
		if len(p.Records) != len(stands) {
			return nil, fmt.Errorf("%w: %s has %d stands, want %d", forest.ErrMisaligned, p.Plan, len(p.Records), len(stands))
		}
		for i, r := range p.Records {
			if r.Stand != stands[i] {
				return nil, fmt.Errorf("%w: %s stand %d is %q, want %q", forest.ErrMisaligned, p.Plan, i, r.Stand, stands[i])
			}
		}
	}
	return stands, nil
}

func (a *Aggregator) runPlan(ctx context.Context, root string, plan forest.PlanID, stands []forest.StandID) (PlanRisk, []Gap, error) {
	ctx, span := a.tracer.Start(ctx, "burnrisk.plan", trace.WithAttributes(
		attribute.String("scenario", a.cfg.Scenario),
		attribute.Int("plan", plan.Ordinal()),
	))
	defer span.End()

	dir, err := os.MkdirTemp(root, fmt.Sprintf("plan-%d-", int(plan)))
	if err != nil {
		return PlanRisk{}, nil, fmt.Errorf("create plan temp dir: %w", err)
	}

	h := a.cfg.Horizon
	risk := PlanRisk{
		Plan:       plan,
		Stands:     stands,
		Raw:        make([][]gap.Float, len(stands)),
		Cumulative: make([][]gap.Float, len(stands)),
	}
	for r := range stands {
		risk.Raw[r] = make([]gap.Float, h)
		risk.Cumulative[r] = make([]gap.Float, h)
	}

	var gaps []Gap
	acc := newAccumulator(len(stands))
	for t := forest.Period(0); int(t) < h; t++ {
		raw, reason, err := a.samplePeriod(ctx, dir, plan, t, stands)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return PlanRisk{}, nil, err
		}
		if reason != "" {
			g := Gap{Plan: plan, Period: t, Reason: reason}
			a.log.Printf("warning: scenario=%s %s", a.cfg.Scenario, g)
			gaps = append(gaps, g)
		}
		cum := acc.step(raw)
		for r := range stands {
			risk.Raw[r][t] = raw[r]
			risk.Cumulative[r][t] = cum[r]
		}
	}
	span.SetAttributes(attribute.Int("gaps", len(gaps)))
	return risk, gaps, nil
}

// samplePeriod returns one raw sample per stand. A non-empty reason means
// the whole period is missing; err is reserved for cancellation.
func (a *Aggregator) samplePeriod(ctx context.Context, dir string, plan forest.PlanID, t forest.Period, stands []forest.StandID) ([]gap.Float, string, error) {
	ctx, span := a.tracer.Start(ctx, "burnrisk.period", trace.WithAttributes(
		attribute.Int("plan", plan.Ordinal()),
		attribute.Int("period", int(t)),
	))
	defer span.End()

	missing := make([]gap.Float, len(stands))
	skip := func(reason string) ([]gap.Float, string, error) {
		span.SetStatus(codes.Error, reason)
		return missing, reason, nil
	}

	fuel, err := a.fuels.Fuel(ctx, plan, t)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return skip(fmt.Sprintf("fuel raster unavailable: %v", err))
	}

	req := SimulationRequest{Plan: plan, Period: t, Fuel: fuel, Firebreaks: a.cfg.Firebreaks, WorkDir: dir}
	res, err := a.simulate(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return skip(fmt.Sprintf("simulator failure: %v", err))
	}

	means, err := a.zonal.Mean(ctx, res.BurnProbability, dir)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return skip(fmt.Sprintf("zonal statistics failure: %v", err))
	}

	raw := make([]gap.Float, len(stands))
	for r, id := range stands {
		// An undefined zonal mean over a valid raster counts as zero risk.
		v := means[id].Or(0)
		if math.IsNaN(v) {
			v = 0
		}
		if v < 0 || v > 1 {
			return skip(fmt.Sprintf("zonal mean %v for stand %q outside [0,1]", v, id))
		}
		raw[r] = gap.Some(v)
	}
	return raw, "", nil
}

// simulate runs the simulator with bounded exponential backoff.
func (a *Aggregator) simulate(ctx context.Context, req SimulationRequest) (SimulationResult, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.cfg.InitialBackoff
	b.MaxInterval = backoff.DefaultMaxInterval

	attempt := 0
	op := func() (SimulationResult, error) {
		attempt++
		res, err := a.sim.Simulate(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return res, backoff.Permanent(ctx.Err())
			}
			return res, err
		}
		if res.BurnProbability == "" {
			return res, ErrNoResults
		}
		return res, nil
	}
	notify := func(err error, next time.Duration) {
		a.log.Printf("retry: scenario=%s %s period %d attempt %d/%d failed: %v (next in %s)",
			a.cfg.Scenario, req.Plan, req.Period, attempt, a.cfg.MaxAttempts, err, next)
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(a.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(a.cfg.RetryLimit),
		backoff.WithNotify(notify),
	)
}
