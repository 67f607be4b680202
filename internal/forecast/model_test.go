package forecast

import (
	"math"
	"testing"

	"github.com/andresuchdata/controltower/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore(t *testing.T) {
	q := Quantiles{P10: 5, P50: 10, P90: 15}
	m, ok := Score([]float64{10, 0, 20}, []Quantiles{q, q, q})
	require.True(t, ok)

	assert.InDelta(t, 6.666667, m.MAE, 1e-9)
	assert.InDelta(t, 8.164966, m.RMSE, 1e-9)
	require.NotNil(t, m.MAPE)
	assert.InDelta(t, 25.0, *m.MAPE, 1e-9, "zero actuals are left out of MAPE")
	assert.InDelta(t, 33.33, m.Coverage, 1e-9)
	assert.InDelta(t, 2.166667, m.PinballP10, 1e-9)
	assert.InDelta(t, 3.333333, m.PinballP50, 1e-9)
	assert.InDelta(t, 2.166667, m.PinballP90, 1e-9)

	v, ok := m.Metric("pinball_p50")
	assert.True(t, ok)
	assert.Equal(t, m.PinballP50, v)
	_, ok = m.Metric("r2")
	assert.False(t, ok)
}

func TestScoreEdgeCases(t *testing.T) {
	_, ok := Score(nil, nil)
	assert.False(t, ok)
	_, ok = Score([]float64{1, 2}, []Quantiles{{}})
	assert.False(t, ok)

	wide := Quantiles{P10: 0, P50: 1, P90: 100}
	m, ok := Score([]float64{0, 0}, []Quantiles{wide, wide})
	require.True(t, ok)
	assert.Nil(t, m.MAPE)
	assert.Equal(t, 100.0, m.Coverage)
	_, ok = m.Metric("mape")
	assert.False(t, ok)

	narrow := Quantiles{P10: 50, P50: 60, P90: 70}
	m, _ = Score([]float64{1, 2}, []Quantiles{narrow, narrow})
	assert.Equal(t, 0.0, m.Coverage)
}

func TestQuantilesNormalize(t *testing.T) {
	assert.Equal(t, Quantiles{P10: 0, P50: 3, P90: 5}, Quantiles{P10: 5, P50: -1, P90: 3}.normalize())
	assert.Equal(t, Quantiles{P10: 1, P50: 2, P90: 3}, Quantiles{P10: 1, P50: 2, P90: 3}.normalize())
}

func TestCombinations(t *testing.T) {
	combos := Combinations(map[string][]float64{
		"b": {1, 2},
		"a": {10, 20},
	})
	assert.Equal(t, []map[string]float64{
		{"a": 10, "b": 1},
		{"a": 10, "b": 2},
		{"a": 20, "b": 1},
		{"a": 20, "b": 2},
	}, combos)

	assert.Len(t, Combinations(nil), 1, "an empty grid is the single default assignment")
}

func TestParams(t *testing.T) {
	cfg := config.Defaults().Forecast
	p := DefaultParams(cfg).With(map[string]float64{"n_estimators": 200, "max_depth": 5, "unknown": 1})

	assert.Equal(t, 200, p.NEstimators)
	assert.Equal(t, 5, p.MaxDepth)
	assert.Equal(t, cfg.LearningRate, p.LearningRate)
	assert.Equal(t, cfg.Seed, p.Seed)
	assert.Equal(t, p, DefaultParams(cfg).With(p.Map()))
	assert.Equal(t, `{"a":1,"b":0.5}`, paramsJSON(map[string]float64{"b": 0.5, "a": 1}))
}

func series(n int, f func(i int) float64) ([][]float64, []float64) {
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := range y {
		X[i] = []float64{float64(i)}
		y[i] = f(i)
	}
	return X, y
}

func TestWalkForward(t *testing.T) {
	X, y := series(20, func(i int) float64 { return float64(i) })

	cv, ok := WalkForward(Naive{Tail: 3}, X, y, Params{}, 3, 8)
	require.True(t, ok)
	assert.Equal(t, 2, cv.Folds, "the first fold trains on 5 rows and is skipped")
	assert.Equal(t, 10, cv.Samples)
	assert.Nil(t, cv.Gain)

	// 23 rows split into chunks of 5; the last fold validates rows 15..22
	X, y = series(23, func(i int) float64 { return float64(i) })
	cv, ok = WalkForward(Naive{Tail: 3}, X, y, Params{}, 3, 8)
	require.True(t, ok)
	assert.Equal(t, 2, cv.Folds)
	assert.Equal(t, 13, cv.Samples, "trailing rows belong to the last fold")

	_, ok = WalkForward(Naive{}, X[:10], y[:10], Params{}, 3, 1)
	assert.False(t, ok, "folds shorter than 3 rows are not scored")

	_, ok = WalkForward(Naive{}, X, y, Params{}, 3, 100)
	assert.False(t, ok, "every fold below the minimum training size")
}

func TestGBMLearnsStep(t *testing.T) {
	X, y := series(60, func(i int) float64 {
		if i < 30 {
			return 10
		}
		return 50
	})
	p := Params{NEstimators: 100, MaxDepth: 2, LearningRate: 0.1, MinChildSize: 2, Subsample: 1, Seed: 1}

	m := GBM{}.Fit(X, y, p)
	low := m.Predict([]float64{5})
	high := m.Predict([]float64{50})

	for _, q := range []Quantiles{low, high} {
		assert.LessOrEqual(t, q.P10, q.P50)
		assert.LessOrEqual(t, q.P50, q.P90)
	}
	assert.InDelta(t, 10, low.P50, 1)
	assert.InDelta(t, 50, high.P50, 1)
	assert.InDelta(t, 10, low.P90, 1)
	assert.InDelta(t, 50, high.P10, 1)

	gain, split := m.Importance()
	require.Len(t, gain, 1)
	assert.Greater(t, gain[0], 0.0)
	assert.Greater(t, split[0], 0.0)
}

func TestGBMDeterministicWithSubsample(t *testing.T) {
	X, y := series(40, func(i int) float64 { return float64(i % 7) })
	p := Params{NEstimators: 20, MaxDepth: 3, LearningRate: 0.1, MinChildSize: 2, Subsample: 0.7, Seed: 42}

	a := GBM{}.Fit(X, y, p).Predict([]float64{12})
	b := GBM{}.Fit(X, y, p).Predict([]float64{12})
	assert.Equal(t, a, b)
	assert.False(t, math.IsNaN(a.P50))
}

func TestNaive(t *testing.T) {
	X, y := series(10, func(i int) float64 { return float64(i + 1) })

	n := Naive{Tail: 5}
	m := n.Fit(X, y, Params{})
	q := m.Predict(nil)
	assert.Equal(t, 8.0, q.P50)
	assert.InDelta(t, 6.4, q.P10, 1e-9)
	assert.InDelta(t, 9.6, q.P90, 1e-9)

	gain, split := m.Importance()
	assert.Nil(t, gain)
	assert.Nil(t, split)

	assert.Equal(t, "naive_q_weekly_v1", n.ModelID("gbm_q_weekly_v1"))
	assert.Equal(t, "naive_custom", n.ModelID("custom"))
}

func TestNewStrategy(t *testing.T) {
	s, err := NewStrategy("", 13)
	require.NoError(t, err)
	assert.Equal(t, "gbm", s.Name())

	s, err = NewStrategy("NAIVE", 13)
	require.NoError(t, err)
	assert.Equal(t, Naive{Tail: 13}, s)

	_, err = NewStrategy("prophet", 13)
	assert.Error(t, err)
}

func TestGridSearchKeepsFirstOnTies(t *testing.T) {
	X, y := series(20, func(i int) float64 { return float64(i % 4) })
	grid := map[string][]float64{"max_depth": {2, 3}, "learning_rate": {0.05, 0.1}}

	best, results := GridSearch(Naive{Tail: 4}, []Series{{X: X, Y: y}}, grid, Params{MaxDepth: 9}, 3, 3, "pinball_p50")
	require.Len(t, results, 4)
	for _, r := range results {
		assert.Equal(t, 1, r.NProducts)
		assert.False(t, math.IsInf(r.Value, 1))
	}
	assert.Equal(t, 2, best.MaxDepth, "naive ignores params so every combination ties")
	assert.Equal(t, 0.05, best.LearningRate)

	_, results = GridSearch(Naive{}, nil, grid, Params{}, 3, 3, "pinball_p50")
	assert.True(t, math.IsInf(results[0].Value, 1))
}
