// Package pipeline evaluates both management scenarios of a workspace end to
// end: price walk, optimizer output, plan records, fuels, burn risk and
// revenue, followed by the cross-scenario plan selection. The outcome is
// exported into the run's results directory and recorded in the run store.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"firerisk/internal/burnrisk"
	"firerisk/internal/config"
	"firerisk/internal/export"
	"firerisk/internal/forest"
	"firerisk/internal/gap"
	"firerisk/internal/optimizer"
	"firerisk/internal/price"
	"firerisk/internal/records"
	"firerisk/internal/revenue"
	"firerisk/internal/selection"
	"firerisk/internal/store"
	"firerisk/internal/toolchain"
	"firerisk/internal/workspace"
)

// FuelsCreator writes the fuel rasters of a scenario.
type FuelsCreator interface {
	Create(ctx context.Context, dir string, plans []forest.PlanRecords, horizon int) error
}

// RunStore records completed runs.
type RunStore interface {
	SaveRun(ctx context.Context, rec store.Record) error
}

// Deps are the collaborators of a run. Only Simulator and Zonal are
// required.
type Deps struct {
	// Solver runs the optimizer. Nil reads the optimizer files already in
	// each scenario directory.
	Solver optimizer.Solver
	// FuelsCreator regenerates fuel rasters before simulation. Nil uses the
	// rasters already in each scenario's fuels directory.
	FuelsCreator FuelsCreator
	// Fuels locates the fuel rasters of a scenario. Nil reads the scenario's
	// fuels directory.
	Fuels     func(sc forest.Scenario) burnrisk.FuelSource
	Simulator burnrisk.Simulator
	Zonal     burnrisk.ZonalStatistics
	// Store, when set, receives the run summary.
	Store RunStore
	Log   *log.Logger
	// Now and NewRunID default to time.Now and store.NewRunID.
	Now      func() time.Time
	NewRunID func() string
}

// FromConfig wires the external toolchain named in cfg.
func FromConfig(cfg config.Config, ws *workspace.Workspace, logger *log.Logger) Deps {
	tc := cfg.Forest.Toolchain
	sim := cfg.Forest.Simulation
	stands := ws.Path(tc.Stands)

	deps := Deps{
		Simulator: &toolchain.Simulator{
			Command:       tc.Simulator,
			FirebreakArgs: tc.FirebreakArgs,
			Weather:       ws.Path(sim.Weather),
			Simulations:   sim.Simulations,
			Seed:          sim.Seed,
			Threads:       sim.Threads,
		},
		Zonal: &toolchain.ZonalStatistics{Command: tc.Zonal, Stands: stands},
		Log:   logger,
	}
	if len(tc.Optimizer) > 0 {
		deps.Solver = &toolchain.Optimizer{Command: tc.Optimizer}
	}
	if len(tc.Rasterize) > 0 {
		deps.FuelsCreator = &toolchain.FuelsCreator{
			Rasterizer: &toolchain.Rasterizer{Command: tc.Rasterize, Stands: stands},
			Workers:    cfg.Runtime.Workers,
			TempDir:    cfg.Runtime.TempDir,
			Log:        logger,
		}
	}
	return deps
}

func (d *Deps) setDefaults(ws *workspace.Workspace) {
	if d.Fuels == nil {
		d.Fuels = func(sc forest.Scenario) burnrisk.FuelSource {
			return toolchain.DirFuelSource{Dir: ws.FuelsDir(sc)}
		}
	}
	if d.Log == nil {
		d.Log = log.New(io.Discard, "", 0)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewRunID == nil {
		d.NewRunID = store.NewRunID
	}
}

// ScenarioResult is the evaluation of one scenario.
type ScenarioResult struct {
	Scenario   forest.Scenario
	Plans      []forest.PlanRecords
	Risk       burnrisk.Result
	Values     []revenue.PlanValue
	Objectives []float64
}

// Report is the outcome of a run.
type Report struct {
	Run        string
	ResultsDir string
	Prices     []float64
	Scenarios  []ScenarioResult
	Selection  selection.Report
}

// Run evaluates both scenarios of ws and exports the results.
//
// Configuration and identifier errors abort the run. Simulator gaps never
// do; they are reported per scenario.
func Run(ctx context.Context, deps Deps, ws *workspace.Workspace, cfg config.Config) (rep Report, err error) {
	deps.setDefaults(ws)
	run := deps.NewRunID()

	ctx, span := otel.Tracer("firerisk/internal/pipeline").Start(ctx, "pipeline.run")
	span.SetAttributes(attribute.String("run", run))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	in, err := prepare(ws, cfg)
	if err != nil {
		return Report{}, err
	}
	in.firebreaks, err = FirebreakRaster(ws, cfg)
	if err != nil {
		return Report{}, err
	}
	rep = Report{Run: run, Prices: in.prices}

	for _, sc := range forest.Scenarios {
		res, err := runScenario(ctx, deps, ws, cfg, in, sc)
		if err != nil {
			return Report{}, fmt.Errorf("%s: %w", sc.Label(), err)
		}
		deps.Log.Printf("run %s: %s: %d plans, %d gaps", run, sc.Label(), len(res.Plans), len(res.Risk.Gaps))
		rep.Scenarios = append(rep.Scenarios, res)
	}

	without, with := rep.Scenarios[0], rep.Scenarios[1]
	rep.Selection, err = selection.Compare(
		selection.Scenario{Name: without.Scenario, Plans: revenue.Plans(without.Values), Values: revenue.Values(without.Values), Objectives: without.Objectives},
		selection.Scenario{Name: with.Scenario, Plans: revenue.Plans(with.Values), Values: revenue.Values(with.Values), Objectives: with.Objectives},
		cfg.Optimizer.ErosionPrefix,
	)
	if err != nil {
		return Report{}, err
	}
	choice := rep.Selection.Choice
	deps.Log.Printf("run %s: best is %s", run, choice)

	generated := deps.Now()
	rep.ResultsDir, err = ws.CreateResultsDir(run)
	if err != nil {
		return Report{}, err
	}
	if err := exportResults(rep, cfg, generated); err != nil {
		return Report{}, err
	}
	if deps.Store != nil {
		if err := deps.Store.SaveRun(ctx, storeRecord(rep, cfg, generated)); err != nil {
			return Report{}, fmt.Errorf("save run: %w", err)
		}
	}
	return rep, nil
}

// CreateFuels regenerates the fuel rasters of both scenarios from the
// optimizer output already in the workspace.
func CreateFuels(ctx context.Context, deps Deps, ws *workspace.Workspace, cfg config.Config) error {
	if deps.FuelsCreator == nil {
		return fmt.Errorf("fuels: %w", toolchain.ErrNotConfigured)
	}
	in, err := prepare(ws, cfg)
	if err != nil {
		return err
	}
	for _, sc := range forest.Scenarios {
		catalog, err := in.catalogFor(sc)
		if err != nil {
			return err
		}
		out, err := optimizer.Load(ws.ScenarioDir(sc))
		if err != nil {
			return fmt.Errorf("%s: %w", sc.Label(), err)
		}
		plans, err := records.Build(catalog, out.Solutions)
		if err != nil {
			return fmt.Errorf("%s: %w", sc.Label(), err)
		}
		plans = records.Limit(plans, cfg.Optimizer.Plans)
		if err := deps.FuelsCreator.Create(ctx, ws.FuelsDir(sc), plans, cfg.Forest.Horizon); err != nil {
			return fmt.Errorf("%s: %w", sc.Label(), err)
		}
	}
	return nil
}

// inputs are shared by both scenarios.
type inputs struct {
	catalog    *forest.Catalog
	prices     []float64
	firebreaks string
}

func prepare(ws *workspace.Workspace, cfg config.Config) (inputs, error) {
	catalog, err := ws.LoadCatalog(cfg.Forest)
	if err != nil {
		return inputs{}, err
	}
	prices, err := price.Generate(cfg.Optimizer.PriceParams(cfg.Forest.Horizon))
	if err != nil {
		return inputs{}, err
	}
	return inputs{catalog: catalog, prices: prices}, nil
}

// FirebreakRaster resolves the firebreak raster of the with-firebreak
// scenario. Without one that scenario would repeat the baseline, so a missing
// setting or file is ErrInvalidConfiguration.
func FirebreakRaster(ws *workspace.Workspace, cfg config.Config) (string, error) {
	rel := cfg.Forest.Simulation.Firebreaks
	if rel == "" {
		return "", fmt.Errorf("%w: simulation.firebreaks is not set", forest.ErrInvalidConfiguration)
	}
	path := ws.Path(rel)
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: firebreak raster: %v", forest.ErrInvalidConfiguration, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: firebreak raster %s is a directory", forest.ErrInvalidConfiguration, path)
	}
	return path, nil
}

// catalogFor returns the stand catalog of sc: the firebreak scenario loses
// the biomass of each stand's firebreak share.
func (in inputs) catalogFor(sc forest.Scenario) (*forest.Catalog, error) {
	if !sc.Firebreaks() {
		return in.catalog, nil
	}
	return records.ApplyFirebreakShare(in.catalog)
}

func runScenario(ctx context.Context, deps Deps, ws *workspace.Workspace, cfg config.Config, in inputs, sc forest.Scenario) (ScenarioResult, error) {
	catalog, err := in.catalogFor(sc)
	if err != nil {
		return ScenarioResult{}, err
	}
	out, err := optimizer.Run(ctx, deps.Solver, ws.ScenarioDir(sc), optimizer.Inputs{
		Catalog:  catalog,
		Policies: cfg.Forest.Policies,
		Prices:   in.prices,
		Plans:    cfg.Optimizer.Plans,
	})
	if err != nil {
		return ScenarioResult{}, err
	}
	plans, err := records.Build(catalog, out.Solutions)
	if err != nil {
		return ScenarioResult{}, err
	}
	plans = records.Limit(plans, cfg.Optimizer.Plans)
	objectives, err := out.ObjectivesFor(plans)
	if err != nil {
		return ScenarioResult{}, err
	}

	if deps.FuelsCreator != nil {
		if err := deps.FuelsCreator.Create(ctx, ws.FuelsDir(sc), plans, cfg.Forest.Horizon); err != nil {
			return ScenarioResult{}, err
		}
	}

	bcfg := burnrisk.Config{
		Scenario:       string(sc),
		Horizon:        cfg.Forest.Horizon,
		Workers:        cfg.Runtime.Workers,
		MaxAttempts:    cfg.Runtime.MaxAttempts,
		InitialBackoff: cfg.Runtime.InitialBackoff,
		RetryLimit:     cfg.Runtime.RetryLimit,
		TempDir:        cfg.Runtime.TempDir,
	}
	if sc.Firebreaks() {
		bcfg.Firebreaks = in.firebreaks
	}
	risk, err := burnrisk.New(deps.Fuels(sc), deps.Simulator, deps.Zonal, bcfg, deps.Log).Run(ctx, plans)
	if err != nil {
		return ScenarioResult{}, err
	}

	values, err := revenue.AggregateAll(plans, risk.Plans, in.prices, revenue.Options{
		DiscountRate: cfg.Optimizer.DiscountRate,
		Policy:       cfg.Optimizer.Policy(),
	})
	if err != nil {
		return ScenarioResult{}, err
	}
	return ScenarioResult{Scenario: sc, Plans: plans, Risk: risk, Values: values, Objectives: objectives}, nil
}

func exportResults(rep Report, cfg config.Config, generated time.Time) error {
	rr := export.RunReport{
		Run:       rep.Run,
		Generated: generated,
		Horizon:   cfg.Forest.Horizon,
		Policy:    cfg.Optimizer.Policy(),
		Selection: rep.Selection,
	}
	for _, sc := range rep.Scenarios {
		if err := export.WriteScenarioArtifacts(rep.ResultsDir, sc.Scenario, sc.Plans, sc.Risk); err != nil {
			return err
		}
		rr.Scenarios = append(rr.Scenarios, export.ScenarioReport{
			Scenario:   sc.Scenario,
			Prices:     rep.Prices,
			Values:     sc.Values,
			Objectives: sc.Objectives,
			Gaps:       sc.Risk.Gaps,
		})
	}
	bundle, err := export.GenerateReportBundle(rr)
	if err != nil {
		return err
	}
	return export.WriteReportBundle(bundle, rep.ResultsDir)
}

func storeRecord(rep Report, cfg config.Config, generated time.Time) store.Record {
	choice := rep.Selection.Choice
	rec := store.Record{Run: store.Run{
		ID:        rep.Run,
		CreatedAt: generated,
		Horizon:   cfg.Forest.Horizon,
		GapPolicy: cfg.Optimizer.Policy().String(),
		Scenario:  string(choice.Scenario),
		Plan:      choice.Ordinal(),
		Value:     choice.Value,
	}}
	for _, sc := range rep.Scenarios {
		for i, v := range sc.Values {
			pv := store.PlanValue{
				Scenario:        string(sc.Scenario),
				Plan:            v.Plan.Ordinal(),
				Value:           v.Value,
				DiscountedValue: v.DiscountedValue,
				TotalBiomass:    v.TotalBiomass,
				GapCells:        v.GapCells,
			}
			if i < len(sc.Objectives) {
				pv.Objective = gap.Some(sc.Objectives[i])
			}
			rec.Values = append(rec.Values, pv)
		}
		for _, g := range sc.Risk.Gaps {
			rec.Gaps = append(rec.Gaps, store.Gap{
				Scenario: string(sc.Scenario),
				Plan:     g.Plan.Ordinal(),
				Period:   int(g.Period),
				Reason:   g.Reason,
			})
		}
	}
	return rec
}
