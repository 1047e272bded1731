// Package config loads the two declarative documents of a firerisk workspace
// (forest.yaml and optimizer.yaml) and the runtime overrides taken from the
// environment. A Config is built once and handed to every component.
package config

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"firerisk/internal/forest"
	"firerisk/internal/gap"
	"firerisk/internal/price"
)

const (
	ForestFile    = "forest.yaml"
	OptimizerFile = "optimizer.yaml"
)

//go:embed schema/*.json
var schemas embed.FS

// Config is the complete, validated configuration of one run.
type Config struct {
	Forest    Forest
	Optimizer Optimizer
	Runtime   Runtime
}

// Forest is forest.yaml: the planning horizon, the feasible-policy catalog,
// simulation parameters and the external toolchain commands.
type Forest struct {
	Horizon    int        `yaml:"horizon"`
	Policies   []Policy   `yaml:"policies"`
	Simulation Simulation `yaml:"simulation,omitempty"`
	Toolchain  Toolchain  `yaml:"toolchain,omitempty"`
}

// Policy is one feasible management policy. Periods are optional; a policy
// without them leaves the stand to grow.
type Policy struct {
	ID       string `yaml:"id"`
	Thinning *int   `yaml:"thinning,omitempty"`
	Harvest  *int   `yaml:"harvest,omitempty"`
}

// Simulation parameters are passed through to the fire-spread simulator.
type Simulation struct {
	Simulations int    `yaml:"simulations,omitempty"`
	Seed        int    `yaml:"seed,omitempty"`
	Threads     int    `yaml:"threads,omitempty"`
	Weather     string `yaml:"weather,omitempty"`
	// Firebreaks is the firebreak raster, relative to the workspace root.
	Firebreaks string `yaml:"firebreaks,omitempty"`
}

// Toolchain holds argument templates for the external collaborators. An
// empty template disables the corresponding step.
type Toolchain struct {
	// Stands is the stand polygon dataset read by zonal statistics and
	// rasterization, relative to the workspace root.
	Stands    string   `yaml:"stands,omitempty"`
	Optimizer []string `yaml:"optimizer,omitempty"`
	Simulator []string `yaml:"simulator,omitempty"`
	Zonal     []string `yaml:"zonal,omitempty"`
	Rasterize []string `yaml:"rasterize,omitempty"`
	// FirebreakArgs is appended to Simulator when the scenario has firebreaks.
	FirebreakArgs []string `yaml:"firebreak_args,omitempty"`
}

// Optimizer is optimizer.yaml.
type Optimizer struct {
	Price        Price   `yaml:"price"`
	DiscountRate float64 `yaml:"discount_rate,omitempty"`
	// Plans is the number of optimizer plans to evaluate.
	Plans         int    `yaml:"plans"`
	ErosionPrefix int    `yaml:"erosion_prefix,omitempty"`
	GapPolicy     string `yaml:"gap_policy,omitempty"`
}

// Price parameterizes the lognormal price walk.
type Price struct {
	Initial    float64 `yaml:"initial"`
	Drift      float64 `yaml:"drift"`
	Volatility float64 `yaml:"volatility"`
	Seed       uint64  `yaml:"seed"`
}

// Runtime holds settings that vary per machine rather than per workspace.
type Runtime struct {
	Workers        int           `env:"FIRERISK_WORKERS" envDefault:"1"`
	MaxAttempts    int           `env:"FIRERISK_MAX_ATTEMPTS" envDefault:"3"`
	InitialBackoff time.Duration `env:"FIRERISK_RETRY_BACKOFF" envDefault:"500ms"`
	// RetryLimit caps the time spent retrying one simulation; zero means
	// only MaxAttempts applies.
	RetryLimit   time.Duration `env:"FIRERISK_RETRY_LIMIT" envDefault:"0s"`
	TempDir      string        `env:"FIRERISK_TEMP_DIR"`
	OTelEndpoint string        `env:"FIRERISK_OTEL_ENDPOINT"`
}

// Load reads both documents from dir and the runtime settings from the
// process environment.
func Load(dir string) (Config, error) {
	f, err := LoadForest(filepath.Join(dir, ForestFile))
	if err != nil {
		return Config{}, err
	}
	o, err := LoadOptimizer(filepath.Join(dir, OptimizerFile))
	if err != nil {
		return Config{}, err
	}
	r, err := ParseRuntime(nil)
	if err != nil {
		return Config{}, err
	}
	return Config{Forest: f, Optimizer: o, Runtime: r}, nil
}

// LoadForest reads and validates forest.yaml.
func LoadForest(path string) (Forest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Forest{}, fmt.Errorf("read %s: %w", path, err)
	}
	f, err := ParseForest(data)
	if err != nil {
		return Forest{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// LoadOptimizer reads and validates optimizer.yaml.
func LoadOptimizer(path string) (Optimizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Optimizer{}, fmt.Errorf("read %s: %w", path, err)
	}
	o, err := ParseOptimizer(data)
	if err != nil {
		return Optimizer{}, fmt.Errorf("%s: %w", path, err)
	}
	return o, nil
}

// ParseForest decodes forest.yaml, checks it against the embedded schema and
// applies defaults.
func ParseForest(data []byte) (Forest, error) {
	var f Forest
	if err := decode(data, "forest.schema.json", &f); err != nil {
		return Forest{}, err
	}
	f.setDefaults()
	if err := f.Validate(); err != nil {
		return Forest{}, err
	}
	return f, nil
}

// ParseOptimizer decodes optimizer.yaml, checks it against the embedded
// schema and applies defaults.
func ParseOptimizer(data []byte) (Optimizer, error) {
	o := Optimizer{Price: Price{Drift: 0.05, Volatility: 0.1, Seed: 1}}
	if err := decode(data, "optimizer.schema.json", &o); err != nil {
		return Optimizer{}, err
	}
	o.setDefaults()
	if err := o.Validate(); err != nil {
		return Optimizer{}, err
	}
	return o, nil
}

// ParseRuntime reads runtime overrides. A nil environ uses the process
// environment.
func ParseRuntime(environ map[string]string) (Runtime, error) {
	var r Runtime
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&r, opts); err != nil {
		return Runtime{}, fmt.Errorf("%w: parse env: %v", forest.ErrInvalidConfiguration, err)
	}
	if r.Workers < 1 {
		return Runtime{}, fmt.Errorf("%w: FIRERISK_WORKERS must be positive, got %d", forest.ErrInvalidConfiguration, r.Workers)
	}
	if r.MaxAttempts < 1 {
		return Runtime{}, fmt.Errorf("%w: FIRERISK_MAX_ATTEMPTS must be positive, got %d", forest.ErrInvalidConfiguration, r.MaxAttempts)
	}
	if r.RetryLimit < 0 {
		return Runtime{}, fmt.Errorf("%w: FIRERISK_RETRY_LIMIT must not be negative, got %s", forest.ErrInvalidConfiguration, r.RetryLimit)
	}
	return r, nil
}

func (f *Forest) setDefaults() {
	if f.Simulation.Simulations == 0 {
		f.Simulation.Simulations = 1
	}
	if f.Simulation.Threads == 0 {
		f.Simulation.Threads = 1
	}
}

func (o *Optimizer) setDefaults() {
	if o.ErosionPrefix == 0 {
		o.ErosionPrefix = 5
	}
	if o.GapPolicy == "" {
		o.GapPolicy = gap.Exclude.String()
	}
}

// Validate checks the invariants the schema cannot express.
func (f Forest) Validate() error {
	if f.Horizon <= 0 {
		return fmt.Errorf("%w: horizon must be positive, got %d", forest.ErrInvalidConfiguration, f.Horizon)
	}
	if len(f.Policies) == 0 {
		return fmt.Errorf("%w: policy catalog is empty", forest.ErrInvalidConfiguration)
	}
	seen := make(map[string]bool, len(f.Policies))
	for _, p := range f.Policies {
		if p.ID == "" {
			return fmt.Errorf("%w: policy without id", forest.ErrInvalidConfiguration)
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: duplicate policy %q", forest.ErrInvalidConfiguration, p.ID)
		}
		seen[p.ID] = true
		for name, at := range map[string]*int{"thinning": p.Thinning, "harvest": p.Harvest} {
			if at != nil && (*at < 0 || *at >= f.Horizon) {
				return fmt.Errorf("%w: policy %q %s period %d outside horizon %d",
					forest.ErrInvalidConfiguration, p.ID, name, *at, f.Horizon)
			}
		}
	}
	return nil
}

// Validate checks the invariants the schema cannot express.
func (o Optimizer) Validate() error {
	if err := o.PriceParams(1).Validate(); err != nil {
		return err
	}
	if o.Plans <= 0 {
		return fmt.Errorf("%w: plans must be positive, got %d", forest.ErrInvalidConfiguration, o.Plans)
	}
	if o.DiscountRate < 0 {
		return fmt.Errorf("%w: discount rate must not be negative", forest.ErrInvalidConfiguration)
	}
	if _, err := ParseGapPolicy(o.GapPolicy); err != nil {
		return err
	}
	return nil
}

// PriceParams returns the price walk parameters for the given horizon.
func (o Optimizer) PriceParams(horizon int) price.Params {
	return price.Params{
		Initial:    o.Price.Initial,
		Drift:      o.Price.Drift,
		Volatility: o.Price.Volatility,
		Horizon:    horizon,
		Seed:       o.Price.Seed,
	}
}

// Policy returns the declared gap policy.
func (o Optimizer) Policy() gap.Policy {
	p, _ := ParseGapPolicy(o.GapPolicy)
	return p
}

// ParseGapPolicy maps a policy name to its value. Empty means gap.Exclude.
func ParseGapPolicy(s string) (gap.Policy, error) {
	switch s {
	case "", gap.Exclude.String():
		return gap.Exclude, nil
	case gap.ZeroFill.String():
		return gap.ZeroFill, nil
	}
	return 0, fmt.Errorf("%w: unknown gap policy %q", forest.ErrInvalidConfiguration, s)
}

// CheckCatalog verifies that every option in the stand catalog names a policy
// from the feasible-policy catalog.
func (f Forest) CheckCatalog(c *forest.Catalog) error {
	known := make(map[string]bool, len(f.Policies))
	for _, p := range f.Policies {
		known[p.ID] = true
	}
	for _, s := range c.Stands() {
		for _, opt := range s.Options {
			if !known[opt.Policy] {
				return fmt.Errorf("%w: stand %q uses policy %q outside the policy catalog",
					forest.ErrMissingIdentifier, s.ID, opt.Policy)
			}
		}
	}
	return nil
}

// Write stores both documents in dir, overwriting existing files.
func (c Config) Write(dir string) error {
	docs := []struct {
		name string
		v    any
	}{
		{ForestFile, c.Forest},
		{OptimizerFile, c.Optimizer},
	}
	for _, d := range docs {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(d.v); err != nil {
			return fmt.Errorf("encode %s: %w", d.name, err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encode %s: %w", d.name, err)
		}
		path := filepath.Join(dir, d.name)
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

// decode validates data against the named schema, then decodes it strictly
// into v.
func decode(data []byte, schemaName string, v any) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", forest.ErrInvalidConfiguration, err)
	}
	if doc == nil {
		return fmt.Errorf("%w: empty document", forest.ErrInvalidConfiguration)
	}
	schema, err := compileSchema(schemaName)
	if err != nil {
		return err
	}
	if err := validateAgainstSchema(schema, doc); err != nil {
		return fmt.Errorf("%w: %v", forest.ErrInvalidConfiguration, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", forest.ErrInvalidConfiguration, err)
	}
	return nil
}

func compileSchema(name string) (*jsonschema.Schema, error) {
	f, err := schemas.Open("schema/" + name)
	if err != nil {
		return nil, fmt.Errorf("open schema %s: %w", name, err)
	}
	defer f.Close()

	url := "mem://firerisk/schema/" + name
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, f); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// validateAgainstSchema round-trips doc through JSON so that YAML scalars
// take the types the validator expects.
func validateAgainstSchema(schema *jsonschema.Schema, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	return schema.Validate(payload)
}
