package toolchain_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firerisk/internal/burnrisk"
	"firerisk/internal/forest"
	"firerisk/internal/gap"
	"firerisk/internal/toolchain"
)

func sh(script string, args ...string) toolchain.Command {
	return append(toolchain.Command{"sh", "-c", script}, args...)
}

func TestExpand(t *testing.T) {
	cmd := toolchain.Command{"sim", "--fuel={fuel}", "{output}", "{seed}"}
	args, err := cmd.Expand(map[string]string{"fuel": "f.tif", "output": "o.tif", "seed": "3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sim", "--fuel=f.tif", "o.tif", "3"}, args)

	_, err = cmd.Expand(map[string]string{"fuel": "f.tif"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output, seed")

	_, err = toolchain.Command(nil).Expand(nil)
	assert.ErrorIs(t, err, toolchain.ErrNotConfigured)
}

func TestRunReportsToolOutput(t *testing.T) {
	err := sh(`echo "bad weather file" >&2; exit 3`).Run(context.Background(), t.TempDir(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad weather file")
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sh(`sleep 5`).Run(ctx, t.TempDir(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimulatorWritesRaster(t *testing.T) {
	dir := t.TempDir()
	sim := &toolchain.Simulator{
		Command:       sh(`printf '%s %s' "$0" "$2" > "$1"`, "{fuel}", "{output}", "{seed}"),
		FirebreakArgs: toolchain.Command{"{firebreaks}"},
		Seed:          42,
	}
	res, err := sim.Simulate(context.Background(), burnrisk.SimulationRequest{
		Plan: 1, Period: 2, Fuel: "fuels.tif", WorkDir: dir,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.BurnProbability, dir))
	data, err := os.ReadFile(res.BurnProbability)
	require.NoError(t, err)
	assert.Equal(t, "fuels.tif 42", string(data))

	// Firebreak args land after the base template.
	sim.Command = sh(`printf '%s' "$1" > "$0"`, "{output}")
	res, err = sim.Simulate(context.Background(), burnrisk.SimulationRequest{
		Plan: 1, Period: 3, Fuel: "fuels.tif", Firebreaks: "breaks.tif", WorkDir: dir,
	})
	require.NoError(t, err)
	data, err = os.ReadFile(res.BurnProbability)
	require.NoError(t, err)
	assert.Equal(t, "breaks.tif", string(data))
}

func TestSimulatorWithoutOutputIsNoResults(t *testing.T) {
	sim := &toolchain.Simulator{Command: sh(`true`)}
	_, err := sim.Simulate(context.Background(), burnrisk.SimulationRequest{WorkDir: t.TempDir()})
	assert.ErrorIs(t, err, burnrisk.ErrNoResults)
}

func TestZonalStatisticsMean(t *testing.T) {
	z := &toolchain.ZonalStatistics{
		Command: sh(`printf 'stand_id,mean\na,0.25\nb,\nc,nan\n' > "$0"`, "{output}"),
		Stands:  "stands.shp",
	}
	dir := t.TempDir()
	means, err := z.Mean(context.Background(), "bp.tif", dir)
	require.NoError(t, err)
	assert.Equal(t, gap.Some(0.25), means["a"])
	assert.False(t, means["b"].Valid())
	assert.False(t, means["c"].Valid())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "zonal output is removed after parsing")
}

func TestReadMeansRejects(t *testing.T) {
	for name, in := range map[string]string{
		"empty":      "",
		"no columns": "id,value\na,1\n",
		"bad number": "stand_id,mean\na,high\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := toolchain.ReadMeans(strings.NewReader(in))
			assert.Error(t, err)
		})
	}
}

func TestDirFuelSource(t *testing.T) {
	dir := t.TempDir()
	src := toolchain.DirFuelSource{Dir: dir}
	_, err := src.Fuel(context.Background(), 0, 1)
	assert.ErrorIs(t, err, burnrisk.ErrMissingArtifact)

	path := filepath.Join(dir, toolchain.FuelsName(0, 1))
	require.NoError(t, os.WriteFile(path, []byte("grid"), 0o644))
	got, err := src.Fuel(context.Background(), 0, 1)
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.Equal(t, "fuels_plan_0_period_1.tif", filepath.Base(got))
}

func TestFuelsCreator(t *testing.T) {
	fuels := filepath.Join(t.TempDir(), "fuels")
	fc := &toolchain.FuelsCreator{
		Rasterizer: &toolchain.Rasterizer{Command: sh(`cp "$0" "$1"`, "{attributes}", "{output}")},
		Workers:    2,
		TempDir:    t.TempDir(),
	}
	plans := []forest.PlanRecords{
		{Plan: 0, Records: []forest.Record{
			{Stand: "a", Schedule: forest.Schedule{FuelCodes: []int{1, 2}}},
			{Stand: "b", Schedule: forest.Schedule{FuelCodes: []int{3, 4}}},
		}},
		{Plan: 1, Records: []forest.Record{
			{Stand: "a", Schedule: forest.Schedule{FuelCodes: []int{5, 6}}},
			{Stand: "b", Schedule: forest.Schedule{FuelCodes: []int{7, 8}}},
		}},
	}
	require.NoError(t, fc.Create(context.Background(), fuels, plans, 2))

	entries, err := os.ReadDir(fuels)
	require.NoError(t, err)
	assert.Len(t, entries, 4)

	data, err := os.ReadFile(filepath.Join(fuels, toolchain.FuelsName(1, 1)))
	require.NoError(t, err)
	assert.Equal(t, "stand_id,fuel_code\na,6\nb,8\n", string(data))
}

func TestFuelsCreatorMisaligned(t *testing.T) {
	fc := &toolchain.FuelsCreator{
		Rasterizer: &toolchain.Rasterizer{Command: sh(`true`)},
		TempDir:    t.TempDir(),
	}
	plans := []forest.PlanRecords{{Plan: 0, Records: []forest.Record{
		{Stand: "a", Schedule: forest.Schedule{FuelCodes: []int{1}}},
	}}}
	err := fc.Create(context.Background(), t.TempDir(), plans, 2)
	assert.ErrorIs(t, err, forest.ErrMisaligned)
}

func TestOptimizerSolve(t *testing.T) {
	dir := t.TempDir()
	opt := &toolchain.Optimizer{Command: sh(`printf '%s %s' "$0" "$1" > objectives.csv`, "{plans}", "{horizon}")}
	require.NoError(t, opt.Solve(context.Background(), dir, toolchain.OptimizerInputs{Plans: 3, Horizon: 5}))
	data, err := os.ReadFile(filepath.Join(dir, "objectives.csv"))
	require.NoError(t, err)
	assert.Equal(t, "3 5", string(data))
}
