package domain

// GradeCount is one bar of the risk grade distribution.
type GradeCount struct {
	Grade string `json:"grade" db:"grade"`
	Count int    `json:"count" db:"count"`
}

// RiskSummary is the dashboard card set for the latest risk evaluation.
type RiskSummary struct {
	EvalDate     string       `json:"eval_date"`
	Products     int          `json:"products"`
	AvgTotalRisk float64      `json:"avg_total_risk"`
	Grades       []GradeCount `json:"grades"`
	OpenActions  int          `json:"open_actions"`
}

// WeightScenario is the grade distribution the latest risk scores would
// have under one alternative weighting.
type WeightScenario struct {
	Name         string             `json:"name"`
	Weights      map[string]float64 `json:"weights"`
	Grades       []GradeCount       `json:"grades"`
	AvgTotalRisk float64            `json:"avg_total_risk"`
	HighRiskPct  float64            `json:"high_risk_pct"`
}

// RiskSensitivity compares the configured weights with alternative ones.
type RiskSensitivity struct {
	EvalDate  string           `json:"eval_date"`
	Products  int              `json:"products"`
	Scenarios []WeightScenario `json:"scenarios"`
}

// RiskFilter narrows risk score listings.
type RiskFilter struct {
	Grade string `json:"grade"`
	Limit int    `json:"limit"`
}

// ActionFilter narrows action queue listings.
type ActionFilter struct {
	EvalDate string `json:"eval_date"`
	Status   string `json:"status"`
	Limit    int    `json:"limit"`
}
