package config

import (
	"fmt"
	"strconv"

	"firerisk/internal/forest"
)

// Question is one prompt asked by `firerisk init`.
type Question struct {
	Key     string
	Prompt  string
	Default string
}

// Questions returns the prompts needed to build a starter configuration.
func Questions() []Question {
	return []Question{
		{Key: "horizon", Prompt: "Planning horizon (periods)", Default: "10"},
		{Key: "price", Prompt: "Initial price", Default: "100"},
		{Key: "plans", Prompt: "Number of plans to evaluate", Default: "10"},
		{Key: "discount_rate", Prompt: "Discount rate", Default: "0.05"},
	}
}

// FromAnswers builds a starter configuration from prompt answers. Missing
// or blank answers take the question's default.
func FromAnswers(answers map[string]string) (Config, error) {
	get := func(key string) string {
		if v := answers[key]; v != "" {
			return v
		}
		for _, q := range Questions() {
			if q.Key == key {
				return q.Default
			}
		}
		return ""
	}

	horizon, err := strconv.Atoi(get("horizon"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: horizon: %v", forest.ErrInvalidConfiguration, err)
	}
	initial, err := strconv.ParseFloat(get("price"), 64)
	if err != nil {
		return Config{}, fmt.Errorf("%w: price: %v", forest.ErrInvalidConfiguration, err)
	}
	plans, err := strconv.Atoi(get("plans"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: plans: %v", forest.ErrInvalidConfiguration, err)
	}
	rate, err := strconv.ParseFloat(get("discount_rate"), 64)
	if err != nil {
		return Config{}, fmt.Errorf("%w: discount rate: %v", forest.ErrInvalidConfiguration, err)
	}

	thin, harvest := horizon/3, horizon-1
	cfg := Config{
		Forest: Forest{
			Horizon: horizon,
			Policies: []Policy{
				{ID: "grow"},
				{ID: "harvest", Harvest: &harvest},
				{ID: "thin-harvest", Thinning: &thin, Harvest: &harvest},
			},
			Simulation: Simulation{Simulations: 50, Seed: 1, Threads: 1, Weather: "weather.csv", Firebreaks: "firebreaks.tif"},
		},
		Optimizer: Optimizer{
			Price:         Price{Initial: initial, Drift: 0.05, Volatility: 0.1, Seed: 1},
			DiscountRate:  rate,
			Plans:         plans,
			ErosionPrefix: 5,
		},
	}
	cfg.Optimizer.setDefaults()
	if err := cfg.Forest.Validate(); err != nil {
		return Config{}, err
	}
	if err := cfg.Optimizer.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
