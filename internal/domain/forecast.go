package domain

import "time"

// Forecast is one forecast_result row. ActualQty is set for validation-slice
// rows and nil for forward forecasts.
type Forecast struct {
	ModelID      string    `json:"model_id" db:"model_id"`
	ProductID    string    `json:"product_id" db:"product_id"`
	ForecastDate time.Time `json:"forecast_date" db:"forecast_date"`
	TargetDate   time.Time `json:"target_date" db:"target_date"`
	HorizonDays  int       `json:"horizon_days" db:"horizon_days"`
	P10          float64   `json:"p10" db:"p10"`
	P50          float64   `json:"p50" db:"p50"`
	P90          float64   `json:"p90" db:"p90"`
	ActualQty    *float64  `json:"actual_qty" db:"actual_qty"`
}

// ModelEvaluation holds walk-forward metrics for one product and horizon.
type ModelEvaluation struct {
	ModelID       string    `json:"model_id" db:"model_id"`
	ProductID     string    `json:"product_id" db:"product_id"`
	HorizonKey    string    `json:"horizon_key" db:"horizon_key"`
	HorizonDays   int       `json:"horizon_days" db:"horizon_days"`
	EvalDate      time.Time `json:"eval_date" db:"eval_date"`
	MAPE          *float64  `json:"mape" db:"mape"`
	RMSE          float64   `json:"rmse" db:"rmse"`
	MAE           float64   `json:"mae" db:"mae"`
	CoverageRate  float64   `json:"coverage_rate" db:"coverage_rate"`
	PinballP10    float64   `json:"pinball_p10" db:"pinball_p10"`
	PinballP50    float64   `json:"pinball_p50" db:"pinball_p50"`
	PinballP90    float64   `json:"pinball_p90" db:"pinball_p90"`
	NFolds        int       `json:"n_folds" db:"n_folds"`
	NSamplesTotal int       `json:"n_samples_total" db:"n_samples_total"`
	ParamsJSON    string    `json:"params_json" db:"params_json"`
}

type FeatureImportance struct {
	ModelID         string    `json:"model_id" db:"model_id"`
	HorizonKey      string    `json:"horizon_key" db:"horizon_key"`
	EvalDate        time.Time `json:"eval_date" db:"eval_date"`
	FeatureName     string    `json:"feature_name" db:"feature_name"`
	ImportanceGain  float64   `json:"importance_gain" db:"importance_gain"`
	ImportanceSplit float64   `json:"importance_split" db:"importance_split"`
	RankGain        int       `json:"rank_gain" db:"rank_gain"`
}

// TuningResult is one evaluated grid-search parameter combination.
type TuningResult struct {
	ModelID     string    `json:"model_id" db:"model_id"`
	HorizonKey  string    `json:"horizon_key" db:"horizon_key"`
	EvalDate    time.Time `json:"eval_date" db:"eval_date"`
	ParamsJSON  string    `json:"params_json" db:"params_json"`
	MetricName  string    `json:"metric_name" db:"metric_name"`
	MetricValue *float64  `json:"metric_value" db:"metric_value"`
	IsBest      bool      `json:"is_best" db:"is_best"`
	NFolds      int       `json:"n_folds" db:"n_folds"`
	NProducts   int       `json:"n_products" db:"n_products"`
}
