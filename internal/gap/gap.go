// Package gap represents values that may be absent.
//
// A burn-probability sample is missing when its fuel raster was never produced
// or the simulator gave up. Missing is carried explicitly through every stage
// instead of being folded into arithmetic, and every aggregation names the
// Policy it applies.
package gap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Float is a float64 that may be missing. The zero value is missing.
type Float struct {
	v  float64
	ok bool
}

// Some returns a present value.
func Some(v float64) Float { return Float{v: v, ok: true} }

// None returns a missing value.
func None() Float { return Float{} }

// Get returns the value and whether it is present.
func (f Float) Get() (float64, bool) { return f.v, f.ok }

// Valid reports whether the value is present.
func (f Float) Valid() bool { return f.ok }

// Or returns the value, or def when missing.
func (f Float) Or(def float64) float64 {
	if !f.ok {
		return def
	}
	return f.v
}

// Mul multiplies a present value by x. Missing stays missing.
func (f Float) Mul(x float64) Float {
	if !f.ok {
		return f
	}
	return Some(f.v * x)
}

func (f Float) String() string {
	if !f.ok {
		return "missing"
	}
	return strconv.FormatFloat(f.v, 'g', -1, 64)
}

// MarshalJSON encodes a missing value as null.
func (f Float) MarshalJSON() ([]byte, error) {
	if !f.ok {
		return []byte("null"), nil
	}
	return json.Marshal(f.v)
}

// UnmarshalJSON decodes null as missing.
func (f *Float) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = None()
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("gap: %w", err)
	}
	*f = Some(v)
	return nil
}

// Policy says how an aggregation treats missing cells.
type Policy int

const (
	// Exclude drops missing cells from sums and counts them as gaps.
	Exclude Policy = iota
	// ZeroFill substitutes zero for missing cells.
	ZeroFill
)

func (p Policy) String() string {
	switch p {
	case Exclude:
		return "exclude"
	case ZeroFill:
		return "zero-fill"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Resolve applies p to f. The second result is false when the cell must be
// skipped entirely.
func (p Policy) Resolve(f Float) (float64, bool) {
	if v, ok := f.Get(); ok {
		return v, true
	}
	if p == ZeroFill {
		return 0, true
	}
	return 0, false
}

// Count returns the number of missing values in fs.
func Count(fs []Float) int {
	n := 0
	for _, f := range fs {
		if !f.ok {
			n++
		}
	}
	return n
}
