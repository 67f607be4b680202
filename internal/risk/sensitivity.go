package risk

import (
	"github.com/andresuchdata/controltower/internal/config"
	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/andresuchdata/controltower/internal/stats"
)

// Scenario is a named weighting of the four sub-scores.
type Scenario struct {
	Name    string
	Weights config.RiskWeights
}

// Scenarios returns the configured weights followed by the stock-out heavy,
// equal, delivery heavy and stock-out plus excess alternatives.
func Scenarios(current config.RiskWeights) []Scenario {
	return []Scenario{
		{Name: "current", Weights: current},
		{Name: "stockout_heavy", Weights: config.RiskWeights{Stockout: 0.50, Excess: 0.15, Delivery: 0.20, Margin: 0.15}},
		{Name: "equal", Weights: config.RiskWeights{Stockout: 0.25, Excess: 0.25, Delivery: 0.25, Margin: 0.25}},
		{Name: "delivery_heavy", Weights: config.RiskWeights{Stockout: 0.25, Excess: 0.15, Delivery: 0.45, Margin: 0.15}},
		{Name: "stockout_excess", Weights: config.RiskWeights{Stockout: 0.35, Excess: 0.35, Delivery: 0.20, Margin: 0.10}},
	}
}

// Sensitivity re-grades stored sub-scores under each scenario. Every grade
// in bounds is listed, in order, even when its count is zero. High risk is
// any grade after the second bound (C or worse with the default bounds).
func Sensitivity(scores []domain.RiskScore, scenarios []Scenario, bounds []config.GradeBound) []domain.WeightScenario {
	if len(bounds) == 0 {
		bounds = config.DefaultGradeBounds()
	}
	rank := make(map[string]int, len(bounds))
	for i, b := range bounds {
		rank[b.Grade] = i
	}

	out := make([]domain.WeightScenario, 0, len(scenarios))
	for _, sc := range scenarios {
		counts := make([]int, len(bounds))
		totals := make([]float64, len(scores))
		high := 0
		for i, r := range scores {
			totals[i] = Total(r, sc.Weights)
			g := rank[Grade(totals[i], bounds)]
			counts[g]++
			if g >= 2 {
				high++
			}
		}

		ws := domain.WeightScenario{
			Name: sc.Name,
			Weights: map[string]float64{
				domain.RiskStockout: sc.Weights.Stockout,
				domain.RiskExcess:   sc.Weights.Excess,
				domain.RiskDelivery: sc.Weights.Delivery,
				domain.RiskMargin:   sc.Weights.Margin,
			},
			Grades: make([]domain.GradeCount, len(bounds)),
		}
		for i, b := range bounds {
			ws.Grades[i] = domain.GradeCount{Grade: b.Grade, Count: counts[i]}
		}
		if len(scores) > 0 {
			ws.AvgTotalRisk = stats.Round(stats.Mean(totals), 2)
			ws.HighRiskPct = stats.Round(float64(high)/float64(len(scores))*100, 1)
		}
		out = append(out, ws)
	}
	return out
}
