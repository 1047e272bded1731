// Package price generates stochastic timber price paths.
package price

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"firerisk/internal/forest"
)

// Params configures a lognormal random walk.
type Params struct {
	Initial    float64 // p0, must be > 0
	Drift      float64 // μ per period
	Volatility float64 // σ per period, must be >= 0
	Horizon    int     // number of periods, must be > 0
	Seed       uint64
}

// Validate reports parameter errors as forest.ErrInvalidConfiguration.
func (p Params) Validate() error {
	switch {
	case p.Horizon <= 0:
		return fmt.Errorf("%w: price horizon must be positive, got %d", forest.ErrInvalidConfiguration, p.Horizon)
	case p.Initial <= 0 || math.IsNaN(p.Initial) || math.IsInf(p.Initial, 0):
		return fmt.Errorf("%w: initial price must be positive, got %v", forest.ErrInvalidConfiguration, p.Initial)
	case math.IsNaN(p.Drift) || math.IsInf(p.Drift, 0):
		return fmt.Errorf("%w: drift must be finite, got %v", forest.ErrInvalidConfiguration, p.Drift)
	case p.Volatility < 0 || math.IsNaN(p.Volatility) || math.IsInf(p.Volatility, 0):
		return fmt.Errorf("%w: volatility must be finite and non-negative, got %v", forest.ErrInvalidConfiguration, p.Volatility)
	}
	return nil
}

// Generate returns Horizon prices with p[0] = Initial and
//
//	p[t] = p[t-1] · exp((μ − σ²/2) + σ·Z_t),  Z_t ~ N(0, 1)
//
// The same Params always yield the same path.
func Generate(p Params) ([]float64, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	z := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15)}
	drift := p.Drift - p.Volatility*p.Volatility/2

	out := make([]float64, p.Horizon)
	out[0] = p.Initial
	for t := 1; t < p.Horizon; t++ {
		out[t] = out[t-1] * math.Exp(drift+p.Volatility*z.Rand())
		if math.IsInf(out[t], 0) || math.IsNaN(out[t]) || out[t] == 0 {
			return nil, fmt.Errorf("%w: price at period %d is %v, drift %v and volatility %v leave the float range",
				forest.ErrInvalidConfiguration, t, out[t], p.Drift, p.Volatility)
		}
	}
	return out, nil
}
