package forecast

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/andresuchdata/controltower/internal/config"
	"github.com/andresuchdata/controltower/internal/stats"
)

// Quantile levels every strategy predicts.
var levels = [3]float64{0.1, 0.5, 0.9}

// Params are the booster hyperparameters a grid search may vary.
type Params struct {
	NEstimators  int
	MaxDepth     int
	LearningRate float64
	MinChildSize int
	Subsample    float64
	Seed         int64
}

// DefaultParams reads the booster defaults from cfg.
func DefaultParams(cfg config.ForecastConfig) Params {
	return Params{
		NEstimators:  cfg.NEstimators,
		MaxDepth:     cfg.MaxDepth,
		LearningRate: cfg.LearningRate,
		MinChildSize: cfg.MinChildSize,
		Subsample:    cfg.Subsample,
		Seed:         cfg.Seed,
	}
}

// With overrides the named parameters. Unknown names are ignored.
func (p Params) With(values map[string]float64) Params {
	for k, v := range values {
		switch k {
		case "n_estimators":
			p.NEstimators = int(v)
		case "max_depth":
			p.MaxDepth = int(v)
		case "learning_rate":
			p.LearningRate = v
		case "min_child_samples":
			p.MinChildSize = int(v)
		case "subsample":
			p.Subsample = v
		}
	}
	return p
}

// Map is the tunable subset of p keyed like a parameter grid.
func (p Params) Map() map[string]float64 {
	return map[string]float64{
		"n_estimators":      float64(p.NEstimators),
		"max_depth":         float64(p.MaxDepth),
		"learning_rate":     p.LearningRate,
		"min_child_samples": float64(p.MinChildSize),
		"subsample":         p.Subsample,
	}
}

// paramsJSON encodes values with sorted keys.
func paramsJSON(values map[string]float64) string {
	b, err := json.Marshal(values)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Quantiles is one p10/p50/p90 prediction.
type Quantiles struct {
	P10, P50, P90 float64
}

// normalize floors negative demand at zero and sorts the three values so
// p10 <= p50 <= p90 holds even when independently fitted models cross.
func (q Quantiles) normalize() Quantiles {
	v := []float64{math.Max(q.P10, 0), math.Max(q.P50, 0), math.Max(q.P90, 0)}
	sort.Float64s(v)
	return Quantiles{P10: v[0], P50: v[1], P90: v[2]}
}

func (q Quantiles) rounded() Quantiles {
	return Quantiles{P10: stats.Round(q.P10, 6), P50: stats.Round(q.P50, 6), P90: stats.Round(q.P90, 6)}
}

// Model predicts demand quantiles from one feature vector.
type Model interface {
	Predict(x []float64) Quantiles
	// Importance returns per-feature gain and split counts, or nils when the
	// model has no notion of features.
	Importance() (gain, split []float64)
}

// Strategy fits quantile models. Implementations are chosen once at startup.
type Strategy interface {
	Name() string
	ModelID(base string) string
	Fit(X [][]float64, y []float64, p Params) Model
}

// NewStrategy returns the strategy registered under name.
func NewStrategy(name string, tail int) (Strategy, error) {
	switch strings.ToLower(name) {
	case "", "gbm":
		return GBM{}, nil
	case "naive":
		return Naive{Tail: tail}, nil
	}
	return nil, fmt.Errorf("unknown forecast strategy %q (want gbm or naive)", name)
}

// GBM fits one boosted ensemble per quantile level.
type GBM struct{}

func (GBM) Name() string               { return "gbm" }
func (GBM) ModelID(base string) string { return base }

func (GBM) Fit(X [][]float64, y []float64, p Params) Model {
	var m gbmModel
	for i, alpha := range levels {
		m.byLevel[i] = fitGBM(X, y, alpha, p)
	}
	return &m
}

type gbmModel struct {
	byLevel [3]*gbm
}

func (m *gbmModel) Predict(x []float64) Quantiles {
	return Quantiles{
		P10: m.byLevel[0].predict(x),
		P50: m.byLevel[1].predict(x),
		P90: m.byLevel[2].predict(x),
	}.normalize()
}

// Importance reports the median model's split statistics.
func (m *gbmModel) Importance() (gain, split []float64) {
	return m.byLevel[1].gain, m.byLevel[1].split
}

// Naive predicts the 10th/50th/90th percentile of the trailing Tail targets,
// ignoring features.
type Naive struct {
	Tail int
}

func (Naive) Name() string { return "naive" }

func (Naive) ModelID(base string) string {
	if strings.Contains(base, "gbm") {
		return strings.Replace(base, "gbm", "naive", 1)
	}
	return "naive_" + base
}

func (n Naive) Fit(_ [][]float64, y []float64, _ Params) Model {
	recent := y
	if n.Tail > 0 && len(recent) > n.Tail {
		recent = recent[len(recent)-n.Tail:]
	}
	return naiveModel{q: Quantiles{
		P10: stats.Percentile(recent, 0.1),
		P50: stats.Percentile(recent, 0.5),
		P90: stats.Percentile(recent, 0.9),
	}.normalize()}
}

type naiveModel struct {
	q Quantiles
}

func (m naiveModel) Predict([]float64) Quantiles         { return m.q }
func (m naiveModel) Importance() (gain, split []float64) { return nil, nil }
