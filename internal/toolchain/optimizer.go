package toolchain

import (
	"context"
	"strconv"
)

// Optimizer runs the external plan optimizer for one scenario. The command
// reads its inputs from the scenario directory and writes solutions.csv and
// objectives.csv back into it.
type Optimizer struct {
	Command Command
}

// OptimizerInputs locates the optimizer's input documents.
type OptimizerInputs struct {
	Stands   string
	Policies string
	Prices   string
	Plans    int
	Horizon  int
}

// Solve runs the optimizer in dir.
func (o *Optimizer) Solve(ctx context.Context, dir string, in OptimizerInputs) error {
	vars := map[string]string{
		"workdir":  dir,
		"stands":   in.Stands,
		"policies": in.Policies,
		"prices":   in.Prices,
		"plans":    strconv.Itoa(in.Plans),
		"horizon":  strconv.Itoa(in.Horizon),
	}
	return o.Command.Run(ctx, dir, vars)
}
