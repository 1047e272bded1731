// Package records joins the optimizer's solution table to the stand catalog,
// producing one ordered record set per plan.
//
// The join is keyed by stand identifier. Every plan must cover every catalog
// stand exactly once, because burn-risk and revenue arrays downstream are
// aligned to the catalog ordering.
package records

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"firerisk/internal/forest"
)

// Row is one solution-table line: the policy chosen for a stand in a plan.
type Row struct {
	Plan   forest.PlanID
	Stand  forest.StandID
	Policy string
}

// Table is a parsed solution table in file order.
type Table struct {
	Rows []Row
}

// Plans returns the distinct plan IDs in ascending order.
func (t Table) Plans() []forest.PlanID {
	seen := make(map[forest.PlanID]bool)
	var out []forest.PlanID
	for _, r := range t.Rows {
		if !seen[r.Plan] {
			seen[r.Plan] = true
			out = append(out, r.Plan)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var requiredColumns = []string{"plan", "stand_id", "policy"}

// ReadTable parses a solution table CSV with header plan,stand_id,policy.
// Extra columns are ignored.
func ReadTable(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Table{}, fmt.Errorf("%w: solution table is empty", forest.ErrInvalidConfiguration)
		}
		return Table{}, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return Table{}, fmt.Errorf("solution table missing column %q", name)
		}
	}
	cr.FieldsPerRecord = len(header)

	var t Table
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("line %d: %w", line, err)
		}
		plan, err := strconv.Atoi(strings.TrimSpace(rec[col["plan"]]))
		if err != nil || plan < 0 {
			return Table{}, fmt.Errorf("line %d: plan %q is not a non-negative integer", line, rec[col["plan"]])
		}
		id := strings.TrimSpace(rec[col["stand_id"]])
		if id == "" {
			return Table{}, fmt.Errorf("line %d: empty stand_id", line)
		}
		t.Rows = append(t.Rows, Row{
			Plan:   forest.PlanID(plan),
			Stand:  forest.StandID(id),
			Policy: strings.TrimSpace(rec[col["policy"]]),
		})
	}
	return t, nil
}

// LoadTable reads a solution table from path.
func LoadTable(path string) (Table, error) {
	fh, err := os.Open(path)
	if err != nil {
		return Table{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer fh.Close()
	t, err := ReadTable(fh)
	if err != nil {
		return Table{}, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// WriteTable encodes t with the canonical header.
func WriteTable(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(requiredColumns); err != nil {
		return err
	}
	for _, r := range t.Rows {
		if err := cw.Write([]string{strconv.Itoa(int(r.Plan)), string(r.Stand), r.Policy}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Build resolves every row against the catalog and returns one record set per
// plan, in ascending plan order, each aligned to the catalog ordering.
//
// A row naming an unknown stand or a policy the stand does not offer fails
// with forest.ErrMissingIdentifier. A plan that skips a stand or repeats one
// fails with forest.ErrMisaligned.
func Build(catalog *forest.Catalog, table Table) ([]forest.PlanRecords, error) {
	if len(table.Rows) == 0 {
		return nil, fmt.Errorf("%w: solution table has no plans", forest.ErrInvalidConfiguration)
	}

	byPlan := make(map[forest.PlanID][]forest.Record)
	filled := make(map[forest.PlanID][]bool)
	for _, row := range table.Rows {
		stand, pos, ok := catalog.Lookup(row.Stand)
		if !ok {
			return nil, fmt.Errorf("%w: %s references stand %q absent from the stand catalog",
				forest.ErrMissingIdentifier, row.Plan, row.Stand)
		}
		sched, ok := stand.Option(row.Policy)
		if !ok {
			return nil, fmt.Errorf("%w: %s assigns policy %q to stand %q, which does not offer it",
				forest.ErrMissingIdentifier, row.Plan, row.Policy, row.Stand)
		}
		recs, ok := byPlan[row.Plan]
		if !ok {
			recs = make([]forest.Record, catalog.Len())
			byPlan[row.Plan] = recs
			filled[row.Plan] = make([]bool, catalog.Len())
		}
		if filled[row.Plan][pos] {
			return nil, fmt.Errorf("%w: %s lists stand %q more than once", forest.ErrMisaligned, row.Plan, row.Stand)
		}
		filled[row.Plan][pos] = true
		recs[pos] = forest.Record{Stand: stand.ID, Policy: row.Policy, Schedule: sched}
	}

	plans := table.Plans()
	out := make([]forest.PlanRecords, 0, len(plans))
	for _, p := range plans {
		for pos, ok := range filled[p] {
			if !ok {
				return nil, fmt.Errorf("%w: %s has no row for stand %q", forest.ErrMisaligned, p, catalog.Stands()[pos].ID)
			}
		}
		out = append(out, forest.PlanRecords{Plan: p, Records: byPlan[p]})
	}
	return out, nil
}

// ApplyFirebreakShare returns a catalog for the firebreak scenario: each
// stand's biomass is scaled by the share of its area left after firebreak
// construction.
func ApplyFirebreakShare(c *forest.Catalog) (*forest.Catalog, error) {
	src := c.Stands()
	stands := make([]forest.Stand, len(src))
	for i, s := range src {
		keep := 1 - s.FirebreakShare
		opts := make([]forest.Option, len(s.Options))
		for j, o := range s.Options {
			opts[j] = forest.Option{Policy: o.Policy, Schedule: o.Scaled(keep)}
		}
		stands[i] = forest.Stand{ID: s.ID, FirebreakShare: s.FirebreakShare, Options: opts}
	}
	return forest.NewCatalog(stands, c.Horizon())
}

// Limit keeps the first n plans. n <= 0 keeps all.
func Limit(plans []forest.PlanRecords, n int) []forest.PlanRecords {
	if n <= 0 || n >= len(plans) {
		return plans
	}
	return plans[:n]
}
