package toolchain

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"firerisk/internal/forest"
	"firerisk/internal/gap"
)

// ZonalStatistics averages a raster over the stand polygons. The command
// writes a CSV with columns stand_id,mean to {output}.
type ZonalStatistics struct {
	Command Command
	// Stands is the stand polygon dataset.
	Stands string
}

// Mean implements burnrisk.ZonalStatistics.
func (z *ZonalStatistics) Mean(ctx context.Context, raster, workDir string) (map[forest.StandID]gap.Float, error) {
	out, err := os.CreateTemp(workDir, "zonal-*.csv")
	if err != nil {
		return nil, fmt.Errorf("create zonal output: %w", err)
	}
	path := out.Name()
	out.Close()
	defer os.Remove(path)

	vars := map[string]string{
		"raster":  raster,
		"stands":  z.Stands,
		"output":  path,
		"workdir": workDir,
	}
	if err := z.Command.Run(ctx, workDir, vars); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	means, err := ReadMeans(f)
	if err != nil {
		return nil, fmt.Errorf("zonal output: %w", err)
	}
	return means, nil
}

// ReadMeans parses a stand_id,mean table. An empty, NaN or "None" mean is
// undefined.
func ReadMeans(r io.Reader) (map[forest.StandID]gap.Float, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty table")
		}
		return nil, err
	}
	idCol, meanCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case "stand_id":
			idCol = i
		case "mean", "_mean":
			meanCol = i
		}
	}
	if idCol < 0 || meanCol < 0 {
		return nil, fmt.Errorf("header %v lacks stand_id and mean columns", header)
	}

	out := make(map[forest.StandID]gap.Float)
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		id := forest.StandID(strings.TrimSpace(row[idCol]))
		raw := strings.TrimSpace(row[meanCol])
		switch strings.ToLower(raw) {
		case "", "nan", "none", "null":
			out[id] = gap.None()
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: mean %q: %w", line, raw, err)
		}
		out[id] = gap.Some(v)
	}
	return out, nil
}
