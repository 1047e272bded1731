package toolchain

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sync/errgroup"

	"firerisk/internal/burnrisk"
	"firerisk/internal/forest"
)

// FuelsName returns the file name of the fuel raster of (plan, period).
func FuelsName(plan forest.PlanID, period forest.Period) string {
	return fmt.Sprintf("fuels_plan_%d_period_%d.tif", int(plan), int(period))
}

// DirFuelSource serves fuel rasters written by FuelsCreator.
type DirFuelSource struct {
	Dir string
}

// Fuel implements burnrisk.FuelSource.
func (d DirFuelSource) Fuel(ctx context.Context, plan forest.PlanID, period forest.Period) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(d.Dir, FuelsName(plan, period))
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", path, burnrisk.ErrMissingArtifact)
		}
		return "", err
	}
	return path, nil
}

// Rasterizer burns a categorical attribute of the stand polygons into a
// raster grid.
type Rasterizer struct {
	Command Command
	Stands  string
}

// Rasterize joins attributes (a stand_id,<column> CSV) to the stand polygons
// and writes the raster of column to output.
func (r *Rasterizer) Rasterize(ctx context.Context, attributes, column, output, workDir string) error {
	vars := map[string]string{
		"stands":     r.Stands,
		"attributes": attributes,
		"column":     column,
		"output":     output,
		"workdir":    workDir,
	}
	return r.Command.Run(ctx, workDir, vars)
}

// FuelsCreator writes one fuel raster per (plan, period) from the fuel codes
// of the plan records.
type FuelsCreator struct {
	Rasterizer *Rasterizer
	Workers    int
	TempDir    string
	Log        *log.Logger
}

// fuelColumn is the attribute rasterized into fuel grids.
const fuelColumn = "fuel_code"

// Create writes every fuel raster into dir, replacing existing files.
func (f *FuelsCreator) Create(ctx context.Context, dir string, plans []forest.PlanRecords, horizon int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create fuels dir: %w", err)
	}
	tmp, err := os.MkdirTemp(f.TempDir, "firerisk-fuels-")
	if err != nil {
		return fmt.Errorf("create fuels temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(f.Workers, 1))
	for _, p := range plans {
		g.Go(func() error {
			for t := forest.Period(0); int(t) < horizon; t++ {
				if err := f.createOne(gctx, tmp, dir, p, t); err != nil {
					return fmt.Errorf("fuels for %s period %d: %w", p.Plan, t, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if f.Log != nil {
		f.Log.Printf("fuels: wrote %d rasters to %s", len(plans)*horizon, dir)
	}
	return nil
}

func (f *FuelsCreator) createOne(ctx context.Context, tmp, dir string, p forest.PlanRecords, t forest.Period) error {
	attrs := filepath.Join(tmp, fmt.Sprintf("fuels_plan_%d_period_%d.csv", int(p.Plan), int(t)))
	if err := writeFuelCodes(attrs, p, t); err != nil {
		return err
	}
	out := filepath.Join(dir, FuelsName(p.Plan, t))
	if err := os.Remove(out); err != nil && !os.IsNotExist(err) {
		return err
	}
	return f.Rasterizer.Rasterize(ctx, attrs, fuelColumn, out, tmp)
}

func writeFuelCodes(path string, p forest.PlanRecords, t forest.Period) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(fh)
	if err := w.Write([]string{"stand_id", fuelColumn}); err != nil {
		fh.Close()
		return err
	}
	for _, r := range p.Records {
		if int(t) >= len(r.FuelCodes) {
			fh.Close()
			return fmt.Errorf("%w: stand %q has no fuel code for period %d", forest.ErrMisaligned, r.Stand, t)
		}
		if err := w.Write([]string{string(r.Stand), strconv.Itoa(r.FuelCodes[t])}); err != nil {
			fh.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}
