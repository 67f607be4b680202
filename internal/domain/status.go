package domain

import "strings"

const (
	OrderStatusOpen   = "R"
	POStatusFulfilled = "F"
)

// Risk kinds scored by the risk engine.
const (
	RiskStockout = "stockout"
	RiskExcess   = "excess"
	RiskDelivery = "delivery"
	RiskMargin   = "margin"
)

// Action types emitted by the action queue.
const (
	ActionExpeditePO         = "expedite_po"
	ActionIncreaseProduction = "increase_production"
	ActionReduceProduction   = "reduce_production"
	ActionExpediteProduction = "expedite_production"
	ActionAdjustPrice        = "adjust_price"
)

const (
	ActionStatusPending         = "pending"
	RecommendationStatusPending = "pending"
	PlanStatusDraft             = "draft"
	PlanHorizonWeekly           = "weekly"
)

// Severity, priority and urgency share one four-step ladder.
const (
	LevelCritical = "critical"
	LevelHigh     = "high"
	LevelMedium   = "medium"
	LevelLow      = "low"
)

const (
	PlanIncrease = "increase"
	PlanDecrease = "decrease"
	PlanMaintain = "maintain"
	PlanNew      = "new"
)

const (
	OrderMethodEOQ       = "eoq"
	OrderMethodLotForLot = "lot_for_lot"
)

var levelRanks = map[string]int{
	LevelCritical: 0,
	LevelHigh:     1,
	LevelMedium:   2,
	LevelLow:      3,
}

// LevelRank orders levels from most to least pressing. Unknown labels sort last.
func LevelRank(level string) int {
	if r, ok := levelRanks[strings.ToLower(level)]; ok {
		return r
	}

	return len(levelRanks)
}

var riskLabels = map[string]string{
	RiskStockout: "Stockout",
	RiskExcess:   "Excess inventory",
	RiskDelivery: "Delivery delay",
	RiskMargin:   "Margin erosion",
}

// RiskLabel returns a human-readable label for a risk kind.
func RiskLabel(kind string) string {
	if label, ok := riskLabels[kind]; ok {
		return label
	}

	return kind
}

// IsPoorGrade reports whether grade is one of the two worst bands.
func IsPoorGrade(grade string) bool {
	return grade == "D" || grade == "F"
}
