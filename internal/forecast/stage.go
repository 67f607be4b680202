// Package forecast trains per-product quantile demand models on the feature
// stores and writes walk-forward evaluations, forecasts, feature importance
// and tuning results.
package forecast

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/andresuchdata/controltower/internal/cache"
	"github.com/andresuchdata/controltower/internal/config"
	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/andresuchdata/controltower/internal/pipeline"
	"github.com/andresuchdata/controltower/internal/stats"
	"github.com/andresuchdata/controltower/internal/storage"
	"github.com/rs/zerolog/log"
)

type Store interface {
	WeeklyFeatures(ctx context.Context) ([]domain.WeeklyFeatures, error)
	MonthlyFeatures(ctx context.Context) ([]domain.MonthlyFeatures, error)
	InsertForecasts(ctx context.Context, rows []domain.Forecast) (int, error)
	SaveModelEvaluations(ctx context.Context, rows []domain.ModelEvaluation) (int, error)
	SaveFeatureImportance(ctx context.Context, rows []domain.FeatureImportance) (int, error)
	SaveTuningResults(ctx context.Context, rows []domain.TuningResult) (int, error)
}

// Stage forecasts one granularity. R is the feature row type it trains on.
type Stage[R domain.FeatureRow] struct {
	key       string
	name      string
	table     string
	horizons  []domain.Horizon
	gran      func(config.ForecastConfig) config.GranularityConfig
	load      func(ctx context.Context) ([]R, error)
	store     Store
	params    cache.ParamsCache
	artifacts storage.ObjectStorage
}

// NewWeekly builds stage 4. params and artifacts may be nil.
func NewWeekly(store Store, params cache.ParamsCache, artifacts storage.ObjectStorage) *Stage[*domain.WeeklyFeatures] {
	return &Stage[*domain.WeeklyFeatures]{
		key:      "4",
		name:     "weekly forecast",
		table:    "feature_store_weekly",
		horizons: domain.WeeklyHorizons,
		gran:     func(c config.ForecastConfig) config.GranularityConfig { return c.Weekly },
		load: func(ctx context.Context) ([]*domain.WeeklyFeatures, error) {
			rows, err := store.WeeklyFeatures(ctx)
			return pointers(rows), err
		},
		store:     store,
		params:    orNoop(params),
		artifacts: artifacts,
	}
}

// NewMonthly builds stage 4m.
func NewMonthly(store Store, params cache.ParamsCache, artifacts storage.ObjectStorage) *Stage[*domain.MonthlyFeatures] {
	return &Stage[*domain.MonthlyFeatures]{
		key:      "4m",
		name:     "monthly forecast",
		table:    "feature_store_monthly",
		horizons: domain.MonthlyHorizons,
		gran:     func(c config.ForecastConfig) config.GranularityConfig { return c.Monthly },
		load: func(ctx context.Context) ([]*domain.MonthlyFeatures, error) {
			rows, err := store.MonthlyFeatures(ctx)
			return pointers(rows), err
		},
		store:     store,
		params:    orNoop(params),
		artifacts: artifacts,
	}
}

func orNoop(c cache.ParamsCache) cache.ParamsCache {
	if c == nil {
		return cache.NewNoopParamsCache()
	}
	return c
}

func pointers[T any](rows []T) []*T {
	out := make([]*T, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out
}

func (s *Stage[R]) Key() string  { return s.key }
func (s *Stage[R]) Name() string { return s.name }

// run carries the resolved settings of one invocation.
type run[R domain.FeatureRow] struct {
	env      *pipeline.Env
	cfg      config.ForecastConfig
	gran     config.GranularityConfig
	strategy Strategy
	modelID  string
	horizons []domain.Horizon
	params   map[string]Params
}

// outcome is what one product contributes beyond its forecast rows.
type outcome struct {
	evals      []domain.ModelEvaluation
	importance map[string]importance
	forecasts  int
}

type importance struct {
	gain, split []float64
}

func (s *Stage[R]) Run(ctx context.Context, env *pipeline.Env) (pipeline.Result, error) {
	rows, err := s.load(ctx)
	if err != nil {
		return pipeline.Result{}, err
	}
	if len(rows) == 0 {
		return pipeline.Result{}, pipeline.MissingUpstream(s.table + " is empty, run stage " + s.featureStage() + " first")
	}

	r := &run[R]{env: env, cfg: env.Config.Forecast, horizons: s.horizons}
	r.gran = s.gran(r.cfg)
	if err := domain.CheckColumns(rows[0], r.gran.FeatureCols); err != nil {
		return pipeline.Result{}, err
	}
	r.strategy, err = NewStrategy(r.cfg.Strategy, r.gran.FallbackTail)
	if err != nil {
		return pipeline.Result{}, err
	}
	r.modelID = r.strategy.ModelID(r.gran.ModelID)

	byProduct := groupByProduct(rows)
	products := make([]string, 0, len(byProduct))
	for pid := range byProduct {
		products = append(products, pid)
	}
	sort.Strings(products)

	tuning, err := s.resolveParams(ctx, r, byProduct, products)
	if err != nil {
		return pipeline.Result{}, err
	}

	buf := pipeline.NewBuffer("forecast_result", env.Config.Pipeline.BatchSize, s.store.InsertForecasts)
	outcomes, err := pipeline.Map(ctx, env.Workers(), products, func(ctx context.Context, pid string) (outcome, error) {
		out, forecasts := r.forecastProduct(byProduct[pid])
		if err := buf.Add(ctx, forecasts...); err != nil {
			return out, fmt.Errorf("buffer forecasts for %s: %w", pid, err)
		}
		return out, nil
	})
	if err != nil {
		return pipeline.Result{}, err
	}
	if err := buf.Finalize(ctx); err != nil {
		return pipeline.Result{}, fmt.Errorf("flush forecast_result: %w", err)
	}

	var evals []domain.ModelEvaluation
	skipped := 0
	for _, o := range outcomes {
		evals = append(evals, o.evals...)
		if o.forecasts == 0 {
			skipped++
		}
	}
	imp := r.rankImportance(outcomes)

	log.Info().
		Str("stage", s.key).
		Str("model_id", r.modelID).
		Int("products", len(products)).
		Int("skipped", skipped).
		Int("forecasts", buf.Written()).
		Int("evaluations", len(evals)).
		Int("tuning_rows", len(tuning)).
		Msg("forecast run finished")

	if buf.Written() == 0 {
		return pipeline.Result{Skipped: skipped}, pipeline.NothingToDo(
			fmt.Sprintf("no product has %d labeled periods", r.gran.MinSamples))
	}

	if _, err := s.store.SaveModelEvaluations(ctx, evals); err != nil {
		return pipeline.Result{}, fmt.Errorf("save model_evaluation: %w", err)
	}
	if _, err := s.store.SaveFeatureImportance(ctx, imp); err != nil {
		return pipeline.Result{}, fmt.Errorf("save feature_importance: %w", err)
	}
	if len(tuning) > 0 {
		if _, err := s.store.SaveTuningResults(ctx, tuning); err != nil {
			return pipeline.Result{}, fmt.Errorf("save tuning_result: %w", err)
		}
	}

	s.uploadArtifact(ctx, r, evals, imp, tuning)
	return pipeline.Result{Rows: buf.Written(), Skipped: skipped, Note: r.modelID}, nil
}

func (s *Stage[R]) featureStage() string {
	if s.key == "4m" {
		return "3m"
	}
	return "3"
}

// groupByProduct splits rows per product, each slice in period order.
func groupByProduct[R domain.FeatureRow](rows []R) map[string][]R {
	out := make(map[string][]R)
	for _, row := range rows {
		out[row.Product()] = append(out[row.Product()], row)
	}
	for _, rs := range out {
		sort.SliceStable(rs, func(i, j int) bool {
			if !rs[i].PeriodStart().Equal(rs[j].PeriodStart()) {
				return rs[i].PeriodStart().Before(rs[j].PeriodStart())
			}
			return rs[i].Period() < rs[j].Period()
		})
	}
	return out
}

// labeled keeps the rows whose target for key is known.
func labeled[R domain.FeatureRow](rows []R, key string) ([]R, []float64) {
	var (
		kept []R
		y    []float64
	)
	for _, row := range rows {
		if t := row.Target(key); t != nil {
			kept = append(kept, row)
			y = append(y, *t)
		}
	}
	return kept, y
}

// resolveParams fills r.params per horizon, either by grid search or from
// the cache, and returns the tuning rows of a search.
func (s *Stage[R]) resolveParams(ctx context.Context, r *run[R], byProduct map[string][]R, products []string) ([]domain.TuningResult, error) {
	base := DefaultParams(r.cfg)
	r.params = make(map[string]Params, len(s.horizons))

	if !r.env.Tune || r.strategy.Name() == "naive" {
		for _, h := range s.horizons {
			p := base
			cached, ok, err := s.params.GetParams(ctx, r.modelID, h.Key)
			if err != nil {
				log.Warn().Err(err).Str("horizon", h.Key).Msg("params cache read failed, using defaults")
			} else if ok {
				p = base.With(cached)
			}
			r.params[h.Key] = p
		}
		return nil, nil
	}

	searches, err := pipeline.Map(ctx, r.env.Workers(), s.horizons, func(ctx context.Context, h domain.Horizon) (search, error) {
		series := r.tuningSample(byProduct, products, h.Key)
		best, results := GridSearch(r.strategy, series, r.gran.ParamGrid, base, r.gran.CVFolds, r.gran.MinTrainSize, r.cfg.TuningMetric)

		log.Info().
			Str("horizon", h.Key).
			Int("sampled", len(series)).
			Int("combinations", len(results)).
			Str("best", paramsJSON(best.Map())).
			Msg("grid search finished")

		if err := s.params.SetParams(ctx, r.modelID, h.Key, best.Map()); err != nil {
			log.Warn().Err(err).Str("horizon", h.Key).Msg("params cache write failed")
		}
		return search{best: best, rows: r.tuningRows(h.Key, results)}, nil
	})
	if err != nil {
		return nil, err
	}

	var rows []domain.TuningResult
	for i, h := range s.horizons {
		r.params[h.Key] = searches[i].best
		rows = append(rows, searches[i].rows...)
	}
	return rows, nil
}

type search struct {
	best Params
	rows []domain.TuningResult
}

// tuningSample draws up to TuneSample eligible products with a seeded shuffle.
func (r *run[R]) tuningSample(byProduct map[string][]R, products []string, key string) []Series {
	var eligible []Series
	for _, pid := range products {
		rows, y := labeled(byProduct[pid], key)
		if len(y) < r.gran.MinSamples {
			continue
		}
		eligible = append(eligible, Series{X: domain.FeatureMatrix(rows, r.gran.FeatureCols), Y: y})
	}
	if r.cfg.TuneSample <= 0 || len(eligible) <= r.cfg.TuneSample {
		return eligible
	}

	rng := rand.New(rand.NewSource(r.cfg.Seed))
	rng.Shuffle(len(eligible), func(i, j int) { eligible[i], eligible[j] = eligible[j], eligible[i] })
	return eligible[:r.cfg.TuneSample]
}

func (r *run[R]) tuningRows(key string, results []GridResult) []domain.TuningResult {
	best := math.Inf(1)
	for _, g := range results {
		best = math.Min(best, g.Value)
	}

	rows := make([]domain.TuningResult, 0, len(results))
	marked := false
	for _, g := range results {
		row := domain.TuningResult{
			ModelID:    r.modelID,
			HorizonKey: key,
			EvalDate:   r.env.Today,
			ParamsJSON: paramsJSON(g.Params),
			MetricName: g.Metric,
			NFolds:     r.gran.CVFolds,
			NProducts:  g.NProducts,
		}
		if !math.IsInf(g.Value, 1) {
			row.MetricValue = stats.Ptr(stats.Round(g.Value, 6))
			if g.Value == best && !marked {
				row.IsBest, marked = true, true
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// forecastProduct evaluates, backtests and forecasts every horizon of one
// product's rows.
func (r *run[R]) forecastProduct(rows []R) (outcome, []domain.Forecast) {
	out := outcome{importance: make(map[string]importance)}
	if len(rows) == 0 {
		return out, nil
	}
	pid := rows[0].Product()
	latest := domain.FeatureMatrix(rows[len(rows)-1:], r.gran.FeatureCols)[0]
	var forecasts []domain.Forecast
	for _, h := range r.horizons {
		kept, y := labeled(rows, h.Key)
		n := len(y)
		if n < r.gran.MinSamples {
			continue
		}
		X := domain.FeatureMatrix(kept, r.gran.FeatureCols)
		p := r.params[h.Key]

		if cv, ok := WalkForward(r.strategy, X, y, p, r.gran.CVFolds, r.gran.MinTrainSize); ok {
			out.evals = append(out.evals, r.evaluation(pid, h, cv, p))
			if cv.Gain != nil {
				out.importance[h.Key] = importance{gain: cv.Gain, split: cv.Split}
			}
		}

		split := int(float64(n) * r.cfg.TrainRatio)
		if split >= 3 && n-split >= 2 {
			m := r.strategy.Fit(X[:split], y[:split], p)
			for i := split; i < n; i++ {
				forecasts = append(forecasts, r.row(pid, h, kept[i].PeriodStart(), m.Predict(X[i]), stats.Ptr(y[i])))
			}
		}

		m := r.strategy.Fit(X, y, p)
		forecasts = append(forecasts, r.row(pid, h, r.env.Today, m.Predict(latest), nil))
		out.forecasts++
	}
	return out, forecasts
}

// row builds a forecast_result row whose target date is from plus the
// horizon. actual is nil for forward forecasts.
func (r *run[R]) row(pid string, h domain.Horizon, from time.Time, q Quantiles, actual *float64) domain.Forecast {
	q = q.normalize().rounded()
	return domain.Forecast{
		ModelID:      r.modelID,
		ProductID:    pid,
		ForecastDate: r.env.Today,
		TargetDate:   domain.DateOnly(from).AddDate(0, 0, h.Days),
		HorizonDays:  h.Days,
		P10:          q.P10,
		P50:          q.P50,
		P90:          q.P90,
		ActualQty:    actual,
	}
}

func (r *run[R]) evaluation(pid string, h domain.Horizon, cv CVResult, p Params) domain.ModelEvaluation {
	params := p.Map()
	if r.strategy.Name() == "naive" {
		params = map[string]float64{"tail": float64(r.gran.FallbackTail)}
	}
	return domain.ModelEvaluation{
		ModelID:       r.modelID,
		ProductID:     pid,
		HorizonKey:    h.Key,
		HorizonDays:   h.Days,
		EvalDate:      r.env.Today,
		MAPE:          cv.MAPE,
		RMSE:          cv.RMSE,
		MAE:           cv.MAE,
		CoverageRate:  cv.Coverage,
		PinballP10:    cv.PinballP10,
		PinballP50:    cv.PinballP50,
		PinballP90:    cv.PinballP90,
		NFolds:        cv.Folds,
		NSamplesTotal: cv.Samples,
		ParamsJSON:    paramsJSON(params),
	}
}

// rankImportance averages per-product importance for each horizon and ranks
// features by gain.
func (r *run[R]) rankImportance(outcomes []outcome) []domain.FeatureImportance {
	cols := r.gran.FeatureCols
	var rows []domain.FeatureImportance
	for _, h := range r.horizons {
		var gain, split []float64
		count := 0
		for _, o := range outcomes {
			imp, ok := o.importance[h.Key]
			if !ok {
				continue
			}
			gain = accumulate(gain, imp.gain)
			split = accumulate(split, imp.split)
			count++
		}
		if count == 0 {
			continue
		}
		gain = scale(gain, 1/float64(count))
		split = scale(split, 1/float64(count))

		order := make([]int, len(cols))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			if gain[order[a]] != gain[order[b]] {
				return gain[order[a]] > gain[order[b]]
			}
			return cols[order[a]] < cols[order[b]]
		})

		for rank, j := range order {
			rows = append(rows, domain.FeatureImportance{
				ModelID:         r.modelID,
				HorizonKey:      h.Key,
				EvalDate:        r.env.Today,
				FeatureName:     cols[j],
				ImportanceGain:  stats.Round(gain[j], 6),
				ImportanceSplit: stats.Round(split[j], 6),
				RankGain:        rank + 1,
			})
		}
	}
	return rows
}
