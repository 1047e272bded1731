// Package forest holds the stand, plan and schedule types shared by every
// stage of the evaluation, and the stand catalog that fixes the canonical
// stand ordering.
package forest

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidConfiguration marks configuration that cannot produce a run:
	// non-positive horizon or price, an empty plan set, malformed arrays.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrMissingIdentifier marks a reference to a stand or policy that the
	// catalog does not contain.
	ErrMissingIdentifier = errors.New("missing identifier")
	// ErrMisaligned marks collections whose plan or stand labels disagree.
	ErrMisaligned = errors.New("misaligned collections")
)

// StandID identifies a stand across the geospatial dataset, the optimizer
// output and the burn-risk samples.
type StandID string

// PlanID is the optimizer's 0-based position of a plan.
type PlanID int

// Ordinal returns the 1-based index used in reports.
func (p PlanID) Ordinal() int { return int(p) + 1 }

func (p PlanID) String() string { return fmt.Sprintf("plan %d", p.Ordinal()) }

// Period is a planning period in [0, horizon).
type Period int

// Scenario names one investment alternative. It doubles as the scenario's
// directory name in a workspace.
type Scenario string

const (
	WithoutFirebreak Scenario = "without_firebreak"
	WithFirebreak    Scenario = "with_firebreak"
)

// Scenarios lists both alternatives in evaluation order.
var Scenarios = []Scenario{WithoutFirebreak, WithFirebreak}

// Label returns the human-readable name, e.g. "without firebreak".
func (s Scenario) Label() string { return strings.ReplaceAll(string(s), "_", " ") }

// Firebreaks reports whether the scenario builds firebreaks.
func (s Scenario) Firebreaks() bool { return s == WithFirebreak }

// ParseScenario accepts either the directory name or the label.
func ParseScenario(s string) (Scenario, error) {
	for _, sc := range Scenarios {
		if s == string(sc) || s == sc.Label() {
			return sc, nil
		}
	}
	return "", fmt.Errorf("%w: unknown scenario %q", ErrInvalidConfiguration, s)
}

// Schedule is one management option for a stand: what happens in each
// period, the resulting fuel code and the salable biomass.
type Schedule struct {
	Events    []string  `yaml:"events"`
	FuelCodes []int     `yaml:"fuel_codes"`
	Biomass   []float64 `yaml:"biomass"`
}

// Validate checks every array has exactly horizon elements.
func (s Schedule) Validate(horizon int) error {
	if len(s.Events) != horizon || len(s.FuelCodes) != horizon || len(s.Biomass) != horizon {
		return fmt.Errorf("%w: schedule arrays have lengths events=%d fuel_codes=%d biomass=%d, want %d",
			ErrInvalidConfiguration, len(s.Events), len(s.FuelCodes), len(s.Biomass), horizon)
	}
	for t, b := range s.Biomass {
		if b < 0 || math.IsNaN(b) || math.IsInf(b, 0) {
			return fmt.Errorf("%w: biomass %v at period %d must be finite and non-negative", ErrInvalidConfiguration, b, t)
		}
	}
	return nil
}

// Scaled returns a copy with biomass multiplied by factor.
func (s Schedule) Scaled(factor float64) Schedule {
	out := Schedule{
		Events:    append([]string(nil), s.Events...),
		FuelCodes: append([]int(nil), s.FuelCodes...),
		Biomass:   make([]float64, len(s.Biomass)),
	}
	for i, b := range s.Biomass {
		out.Biomass[i] = b * factor
	}
	return out
}

// Option binds a schedule to the policy that produces it.
type Option struct {
	Policy   string `yaml:"policy"`
	Schedule `yaml:",inline"`
}

// Stand is a spatial management unit with its feasible schedules.
type Stand struct {
	ID StandID `yaml:"id"`
	// FirebreakShare is the fraction of the stand occupied by firebreaks in
	// the firebreak scenario.
	FirebreakShare float64  `yaml:"firebreak_share,omitempty"`
	Options        []Option `yaml:"options"`
}

// Option returns the schedule for policy.
func (s Stand) Option(policy string) (Schedule, bool) {
	for _, o := range s.Options {
		if o.Policy == policy {
			return o.Schedule, true
		}
	}
	return Schedule{}, false
}

// Record is one stand's chosen schedule within a plan.
type Record struct {
	Stand  StandID
	Policy string
	Schedule
}

// PlanRecords is the record set of one plan, in catalog order.
type PlanRecords struct {
	Plan    PlanID
	Records []Record
}

// Catalog is the canonical, ordered stand list.
type Catalog struct {
	horizon int
	stands  []Stand
	index   map[StandID]int
}

// NewCatalog validates stands against horizon and indexes them by ID.
func NewCatalog(stands []Stand, horizon int) (*Catalog, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("%w: horizon must be positive, got %d", ErrInvalidConfiguration, horizon)
	}
	if len(stands) == 0 {
		return nil, fmt.Errorf("%w: stand catalog is empty", ErrInvalidConfiguration)
	}
	c := &Catalog{
		horizon: horizon,
		stands:  stands,
		index:   make(map[StandID]int, len(stands)),
	}
	for i, s := range stands {
		if s.ID == "" {
			return nil, fmt.Errorf("%w: stand %d has no id", ErrInvalidConfiguration, i)
		}
		if _, dup := c.index[s.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate stand id %q", ErrInvalidConfiguration, s.ID)
		}
		if s.FirebreakShare < 0 || s.FirebreakShare > 1 {
			return nil, fmt.Errorf("%w: stand %q firebreak_share %v outside [0,1]", ErrInvalidConfiguration, s.ID, s.FirebreakShare)
		}
		if len(s.Options) == 0 {
			return nil, fmt.Errorf("%w: stand %q has no options", ErrInvalidConfiguration, s.ID)
		}
		for _, o := range s.Options {
			if err := o.Validate(horizon); err != nil {
				return nil, fmt.Errorf("stand %q policy %q: %w", s.ID, o.Policy, err)
			}
		}
		c.index[s.ID] = i
	}
	return c, nil
}

// Horizon returns the number of periods every schedule spans.
func (c *Catalog) Horizon() int { return c.horizon }

// Len returns the number of stands.
func (c *Catalog) Len() int { return len(c.stands) }

// Stands returns the stands in canonical order. The slice must not be modified.
func (c *Catalog) Stands() []Stand { return c.stands }

// IDs returns the stand identifiers in canonical order.
func (c *Catalog) IDs() []StandID {
	ids := make([]StandID, len(c.stands))
	for i, s := range c.stands {
		ids[i] = s.ID
	}
	return ids
}

// Lookup returns the stand and its canonical position.
func (c *Catalog) Lookup(id StandID) (Stand, int, bool) {
	i, ok := c.index[id]
	if !ok {
		return Stand{}, -1, false
	}
	return c.stands[i], i, true
}

// Policies returns every policy ID referenced by any stand option.
func (c *Catalog) Policies() map[string]bool {
	out := make(map[string]bool)
	for _, s := range c.stands {
		for _, o := range s.Options {
			out[o.Policy] = true
		}
	}
	return out
}

// catalogFile is the on-disk shape of stands.yaml.
type catalogFile struct {
	Stands []Stand `yaml:"stands"`
}

// ReadCatalog decodes a stands document.
func ReadCatalog(r io.Reader, horizon int) (*Catalog, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode stands: %w", err)
	}
	return NewCatalog(f.Stands, horizon)
}

// LoadCatalog reads a stands document from path.
func LoadCatalog(path string, horizon int) (*Catalog, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer fh.Close()
	c, err := ReadCatalog(fh, horizon)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// WriteCatalog encodes stands in the stands document shape.
func WriteCatalog(w io.Writer, c *Catalog) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(catalogFile{Stands: c.stands}); err != nil {
		return fmt.Errorf("encode stands: %w", err)
	}
	return enc.Close()
}
