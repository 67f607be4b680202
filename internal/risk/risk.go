// Package risk scores each product's stockout, excess, delivery and margin
// risk and rolls them into a graded total.
package risk

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/andresuchdata/controltower/internal/cache"
	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/andresuchdata/controltower/internal/pipeline"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Store interface {
	LatestForwardForecasts(ctx context.Context) ([]domain.Forecast, error)
	LatestInventory(ctx context.Context) (map[string]float64, error)
	LatestLeadTimes(ctx context.Context) ([]domain.LeadTimeStat, error)
	OpenOrders(ctx context.Context) ([]domain.DailyOrder, error)
	OrdersSince(ctx context.Context, since time.Time) ([]domain.DailyOrder, error)
	BOM(ctx context.Context) ([]domain.BOMLine, error)
	PurchaseOrders(ctx context.Context) ([]domain.PurchaseOrder, error)
	Revenues(ctx context.Context) ([]domain.DailyRevenue, error)
	SaveRiskScores(ctx context.Context, rows []domain.RiskScore) (int, error)
}

type Stage struct {
	store     Store
	dashboard cache.DashboardCache
}

// New builds stage 5. dashboard may be nil; when set, cached risk summaries
// are dropped after every evaluation.
func New(store Store, dashboard cache.DashboardCache) *Stage {
	if dashboard == nil {
		dashboard = cache.NewNoopDashboardCache()
	}
	return &Stage{store: store, dashboard: dashboard}
}

func (s *Stage) Key() string  { return "5" }
func (s *Stage) Name() string { return "risk score" }

func (s *Stage) Run(ctx context.Context, env *pipeline.Env) (pipeline.Result, error) {
	cfg := env.Config.Risk
	since := env.Today.AddDate(0, 0, -cfg.DemandLookback)

	var in Inputs
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { in.Forecasts, err = s.store.LatestForwardForecasts(gctx); return })
	g.Go(func() (err error) { in.Inventory, err = s.store.LatestInventory(gctx); return })
	g.Go(func() (err error) { in.LeadTimes, err = s.store.LatestLeadTimes(gctx); return })
	g.Go(func() (err error) { in.OpenOrders, err = s.store.OpenOrders(gctx); return })
	g.Go(func() (err error) { in.Orders, err = s.store.OrdersSince(gctx, since); return })
	g.Go(func() (err error) { in.BOM, err = s.store.BOM(gctx); return })
	g.Go(func() (err error) { in.POs, err = s.store.PurchaseOrders(gctx); return })
	g.Go(func() (err error) { in.Revenues, err = s.store.Revenues(gctx); return })
	if err := g.Wait(); err != nil {
		return pipeline.Result{}, err
	}

	rows := Evaluate(in, cfg, env.Today)
	log.Info().
		Int("forecasts", len(in.Forecasts)).
		Int("inventory_products", len(in.Inventory)).
		Int("lead_time_products", len(in.LeadTimes)).
		Int("open_orders", len(in.OpenOrders)).
		Int("scored", len(rows)).
		Str("grades", gradeDistribution(rows)).
		Msg("risk evaluated")

	if len(rows) == 0 {
		return pipeline.Result{}, pipeline.NothingToDo("no product has a forecast, inventory or recent demand")
	}

	n, err := s.store.SaveRiskScores(ctx, rows)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("save risk_score: %w", err)
	}
	if err := s.dashboard.InvalidateAll(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to invalidate risk summary cache")
	}
	return pipeline.Result{Rows: n}, nil
}

func gradeDistribution(rows []domain.RiskScore) string {
	counts := make(map[string]int)
	for _, r := range rows {
		counts[r.RiskGrade]++
	}
	grades := make([]string, 0, len(counts))
	for g := range counts {
		grades = append(grades, g)
	}
	sort.Strings(grades)

	out := ""
	for i, g := range grades {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%d", g, counts[g])
	}
	return out
}
