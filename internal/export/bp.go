package export

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"firerisk/internal/gap"
)

// missingLiteral is how a missing probability is spelled in the
// nested-sequence file.
const missingLiteral = "None"

// WriteBurnProbability writes m, indexed [plan][stand][period], as one
// nested-sequence literal, e.g. [[[0.1, 0.15], [None, 0.2]]].
func WriteBurnProbability(w io.Writer, m [][][]gap.Float) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("[")
	for s, plan := range m {
		if s > 0 {
			bw.WriteString(", ")
		}
		bw.WriteString("[")
		for r, stand := range plan {
			if r > 0 {
				bw.WriteString(", ")
			}
			bw.WriteString("[")
			for t, v := range stand {
				if t > 0 {
					bw.WriteString(", ")
				}
				bw.WriteString(formatProbability(v))
			}
			bw.WriteString("]")
		}
		bw.WriteString("]")
	}
	bw.WriteString("]\n")
	return bw.Flush()
}

// formatProbability always writes a decimal point so that values read back
// as floats.
func formatProbability(v gap.Float) string {
	x, ok := v.Get()
	if !ok || math.IsNaN(x) {
		return missingLiteral
	}
	s := strconv.FormatFloat(x, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eI") {
		s += ".0"
	}
	return s
}

// ReadBurnProbability parses a nested-sequence file. Missing values may be
// spelled None or null.
func ReadBurnProbability(r io.Reader) ([][][]gap.Float, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	// The literal is a valid YAML flow sequence.
	var raw [][][]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("burn probability: %w", err)
	}
	out := make([][][]gap.Float, len(raw))
	for s, plan := range raw {
		out[s] = make([][]gap.Float, len(plan))
		for r, stand := range plan {
			out[s][r] = make([]gap.Float, len(stand))
			for t, v := range stand {
				f, err := probabilityValue(v)
				if err != nil {
					return nil, fmt.Errorf("burn probability [%d][%d][%d]: %w", s, r, t, err)
				}
				out[s][r][t] = f
			}
		}
	}
	return out, nil
}

func probabilityValue(v any) (gap.Float, error) {
	switch x := v.(type) {
	case nil:
		return gap.None(), nil
	case string:
		if x == missingLiteral {
			return gap.None(), nil
		}
	case int:
		return gap.Some(float64(x)), nil
	case float64:
		return gap.Some(x), nil
	}
	return gap.Float{}, fmt.Errorf("unexpected value %v", v)
}
