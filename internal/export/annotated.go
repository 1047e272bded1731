package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"firerisk/internal/burnrisk"
	"firerisk/internal/forest"
)

var annotatedColumns = []string{"stand_id", "period", "event", "biomass", "burn_prob"}

// WriteAnnotated writes one row per (stand, period) of a plan: the stand
// attributes extended with the period index, the management event and the
// cumulative burn probability. A missing probability is an empty cell.
func WriteAnnotated(w io.Writer, rec forest.PlanRecords, risk burnrisk.PlanRisk) error {
	if rec.Plan != risk.Plan || len(rec.Records) != len(risk.Stands) {
		return fmt.Errorf("%w: annotating %s with risk for %s", forest.ErrMisaligned, rec.Plan, risk.Plan)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(annotatedColumns); err != nil {
		return err
	}
	for r, record := range rec.Records {
		if record.Stand != risk.Stands[r] {
			return fmt.Errorf("%w: %s row %d is %q in records but %q in risk",
				forest.ErrMisaligned, rec.Plan, r, record.Stand, risk.Stands[r])
		}
		if len(risk.Cumulative[r]) != len(record.Biomass) {
			return fmt.Errorf("%w: %s stand %q has %d periods of biomass but %d of risk",
				forest.ErrMisaligned, rec.Plan, record.Stand, len(record.Biomass), len(risk.Cumulative[r]))
		}
		for t := range record.Biomass {
			bp := ""
			if v, ok := risk.At(r, forest.Period(t)).Get(); ok {
				bp = strconv.FormatFloat(v, 'g', -1, 64)
			}
			event := ""
			if t < len(record.Events) {
				event = record.Events[t]
			}
			row := []string{
				string(record.Stand),
				strconv.Itoa(t),
				event,
				strconv.FormatFloat(record.Biomass[t], 'g', -1, 64),
				bp,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
