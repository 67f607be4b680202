package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParseGradeBounds parses "A:20,B:40,..." into bounds ordered by upper limit.
// Malformed entries are skipped; an empty result falls back to the default ladder.
func ParseGradeBounds(raw string) []GradeBound {
	var bounds []GradeBound
	for _, part := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(kv) != 2 {
			continue
		}
		upper, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			continue
		}
		bounds = append(bounds, GradeBound{Grade: strings.TrimSpace(kv[0]), Upper: upper})
	}

	if len(bounds) == 0 {
		return DefaultGradeBounds()
	}

	sort.SliceStable(bounds, func(i, j int) bool { return bounds[i].Upper < bounds[j].Upper })
	return bounds
}

func DefaultGradeBounds() []GradeBound {
	return []GradeBound{
		{Grade: "A", Upper: 20},
		{Grade: "B", Upper: 40},
		{Grade: "C", Upper: 60},
		{Grade: "D", Upper: 80},
		{Grade: "F", Upper: 100},
	}
}

// Validate reports configuration that would make a stage produce nonsense.
func (c *Config) Validate() error {
	w := c.Risk.Weights
	if sum := w.Stockout + w.Excess + w.Delivery + w.Margin; sum <= 0 || sum > 1.0001 {
		return fmt.Errorf("risk weights must sum to (0, 1], got %.4f", sum)
	}
	if n := len(c.Risk.Grades); n == 0 || c.Risk.Grades[n-1].Upper < 100 {
		return fmt.Errorf("risk grade bounds must cover 100")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.Pipeline.PageSize <= 0 {
		return fmt.Errorf("page size must be positive")
	}
	if c.Planning.HorizonDays <= 0 {
		return fmt.Errorf("planning horizon must be positive")
	}
	if c.Forecast.TrainRatio <= 0 || c.Forecast.TrainRatio >= 1 {
		return fmt.Errorf("forecast train ratio must be in (0, 1)")
	}
	switch c.Forecast.Strategy {
	case "gbm", "naive":
	default:
		return fmt.Errorf("unknown forecast strategy %q", c.Forecast.Strategy)
	}
	return nil
}
