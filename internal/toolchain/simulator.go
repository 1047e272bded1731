package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"firerisk/internal/burnrisk"
)

// Simulator runs the fire-spread simulator. The command must write the
// burn-probability raster to {output}.
type Simulator struct {
	Command Command
	// FirebreakArgs is appended when the request carries a firebreak raster.
	FirebreakArgs Command
	Weather       string
	Simulations   int
	Seed          int
	Threads       int
}

// Simulate implements burnrisk.Simulator.
func (s *Simulator) Simulate(ctx context.Context, req burnrisk.SimulationRequest) (burnrisk.SimulationResult, error) {
	name := fmt.Sprintf("bp_plan_%d_period_%d", int(req.Plan), int(req.Period))
	results := filepath.Join(req.WorkDir, name)
	if err := os.MkdirAll(results, 0o755); err != nil {
		return burnrisk.SimulationResult{}, fmt.Errorf("create results dir: %w", err)
	}
	output := filepath.Join(results, "burn_probability.tif")
	// A stale raster from an earlier attempt must not count as a result.
	if err := os.Remove(output); err != nil && !os.IsNotExist(err) {
		return burnrisk.SimulationResult{}, fmt.Errorf("remove stale output: %w", err)
	}

	cmd := s.Command
	if req.Firebreaks != "" {
		cmd = append(append(Command(nil), s.Command...), s.FirebreakArgs...)
	}
	vars := map[string]string{
		"fuel":        req.Fuel,
		"firebreaks":  req.Firebreaks,
		"output":      output,
		"workdir":     results,
		"weather":     s.Weather,
		"simulations": strconv.Itoa(s.Simulations),
		"seed":        strconv.Itoa(s.Seed),
		"threads":     strconv.Itoa(s.Threads),
	}
	if err := cmd.Run(ctx, req.WorkDir, vars); err != nil {
		return burnrisk.SimulationResult{}, err
	}
	if _, err := os.Stat(output); err != nil {
		return burnrisk.SimulationResult{}, fmt.Errorf("%w: %s not written", burnrisk.ErrNoResults, output)
	}
	return burnrisk.SimulationResult{BurnProbability: output}, nil
}
