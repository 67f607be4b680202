package forecast

import (
	"math"
	"sort"

	"github.com/andresuchdata/controltower/internal/stats"
)

// Metrics summarize how p10/p50/p90 predictions track actuals.
type Metrics struct {
	MAE        float64
	RMSE       float64
	MAPE       *float64 // nil when every actual is zero
	Coverage   float64  // percent of actuals inside [p10, p90]
	PinballP10 float64
	PinballP50 float64
	PinballP90 float64
}

// Metric returns the named loss, lower being better.
func (m Metrics) Metric(name string) (float64, bool) {
	switch name {
	case "pinball_p10":
		return m.PinballP10, true
	case "pinball_p50":
		return m.PinballP50, true
	case "pinball_p90":
		return m.PinballP90, true
	case "mae":
		return m.MAE, true
	case "rmse":
		return m.RMSE, true
	case "mape":
		if m.MAPE == nil {
			return 0, false
		}
		return *m.MAPE, true
	}
	return 0, false
}

func pinball(actual, pred, alpha float64) float64 {
	diff := actual - pred
	if diff >= 0 {
		return alpha * diff
	}
	return (alpha - 1) * diff
}

// Score computes Metrics over paired actuals and predictions.
func Score(actual []float64, preds []Quantiles) (Metrics, bool) {
	n := len(actual)
	if n == 0 || len(preds) != n {
		return Metrics{}, false
	}

	var absErr, sqErr, pctErr, within, pb10, pb50, pb90 float64
	nonzero := 0
	for i, y := range actual {
		q := preds[i]
		d := y - q.P50
		absErr += math.Abs(d)
		sqErr += d * d
		if y != 0 {
			pctErr += math.Abs(d / y)
			nonzero++
		}
		if y >= q.P10 && y <= q.P90 {
			within++
		}
		pb10 += pinball(y, q.P10, 0.1)
		pb50 += pinball(y, q.P50, 0.5)
		pb90 += pinball(y, q.P90, 0.9)
	}

	fn := float64(n)
	m := Metrics{
		MAE:        stats.Round(absErr/fn, 6),
		RMSE:       stats.Round(math.Sqrt(sqErr/fn), 6),
		Coverage:   stats.Round(within/fn*100, 2),
		PinballP10: stats.Round(pb10/fn, 6),
		PinballP50: stats.Round(pb50/fn, 6),
		PinballP90: stats.Round(pb90/fn, 6),
	}
	if nonzero > 0 {
		m.MAPE = stats.Ptr(stats.Round(pctErr/float64(nonzero)*100, 4))
	}
	return m, true
}

// CVResult is the outcome of walk-forward validation for one series.
type CVResult struct {
	Metrics
	Folds   int
	Samples int
	Gain    []float64 // mean per-fold importance of the median model
	Split   []float64
}

// WalkForward runs expanding-window validation. The series is cut into
// folds+1 chunks; fold k trains on chunks 0..k and validates on chunk k+1.
// The last fold also validates the rows left over by the integer split.
// Folds whose training window is shorter than minTrain are skipped.
func WalkForward(s Strategy, X [][]float64, y []float64, p Params, folds, minTrain int) (CVResult, bool) {
	n := len(y)
	if folds < 1 {
		return CVResult{}, false
	}
	size := n / (folds + 1)
	if size < 3 {
		return CVResult{}, false
	}

	var (
		actual []float64
		preds  []Quantiles
		gain   []float64
		split  []float64
		fitted int
		res    CVResult
	)
	for k := 0; k < folds; k++ {
		trainEnd := (k + 1) * size
		valEnd := trainEnd + size
		if k == folds-1 || valEnd > n {
			valEnd = n
		}
		if trainEnd < minTrain || valEnd <= trainEnd {
			continue
		}

		m := s.Fit(X[:trainEnd], y[:trainEnd], p)
		for i := trainEnd; i < valEnd; i++ {
			actual = append(actual, y[i])
			preds = append(preds, m.Predict(X[i]))
		}
		res.Folds++

		g, sp := m.Importance()
		if g != nil {
			gain = accumulate(gain, g)
			split = accumulate(split, sp)
			fitted++
		}
	}

	metrics, ok := Score(actual, preds)
	if !ok {
		return CVResult{}, false
	}
	res.Metrics = metrics
	res.Samples = len(actual)
	if fitted > 0 {
		res.Gain = scale(gain, 1/float64(fitted))
		res.Split = scale(split, 1/float64(fitted))
	}
	return res, true
}

func accumulate(acc, v []float64) []float64 {
	if acc == nil {
		acc = make([]float64, len(v))
	}
	for i := range v {
		acc[i] += v[i]
	}
	return acc
}

func scale(v []float64, f float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = v[i] * f
	}
	return out
}

// Series is one product's training data for a horizon.
type Series struct {
	X [][]float64
	Y []float64
}

// GridResult is the mean tuning metric of one parameter combination.
type GridResult struct {
	Params    map[string]float64
	Metric    string
	Value     float64 // +Inf when no series could be scored
	NProducts int
}

// Combinations expands grid into every parameter assignment, in a stable
// order (keys sorted, last key varying fastest).
func Combinations(grid map[string][]float64) []map[string]float64 {
	keys := make([]string, 0, len(grid))
	for k := range grid {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	combos := []map[string]float64{{}}
	for _, k := range keys {
		var next []map[string]float64
		for _, c := range combos {
			for _, v := range grid[k] {
				m := make(map[string]float64, len(c)+1)
				for ck, cv := range c {
					m[ck] = cv
				}
				m[k] = v
				next = append(next, m)
			}
		}
		combos = next
	}
	return combos
}

// GridSearch scores every combination by walk-forward CV over the sampled
// series and returns the best parameters plus every evaluated row.
func GridSearch(s Strategy, series []Series, grid map[string][]float64, base Params, folds, minTrain int, metric string) (Params, []GridResult) {
	combos := Combinations(grid)
	results := make([]GridResult, 0, len(combos))
	best := -1

	for _, combo := range combos {
		p := base.With(combo)
		var scores []float64
		for _, sr := range series {
			cv, ok := WalkForward(s, sr.X, sr.Y, p, folds, minTrain)
			if !ok {
				continue
			}
			if v, ok := cv.Metric(metric); ok {
				scores = append(scores, v)
			}
		}

		r := GridResult{Params: combo, Metric: metric, Value: math.Inf(1), NProducts: len(scores)}
		if len(scores) > 0 {
			r.Value = stats.Mean(scores)
		}
		results = append(results, r)
		if best < 0 || r.Value < results[best].Value {
			best = len(results) - 1
		}
	}

	if best < 0 {
		return base, results
	}
	return base.With(results[best].Params), results
}
