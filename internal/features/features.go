// Package features builds the weekly and monthly feature stores the
// forecasting stages train on.
package features

import (
	"context"
	"fmt"

	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/andresuchdata/controltower/internal/pipeline"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Store interface {
	WeeklyProductSummaries(ctx context.Context) ([]domain.WeeklyProductSummary, error)
	WeeklyCustomerSummaries(ctx context.Context) ([]domain.WeeklyCustomerSummary, error)
	MonthlyProductSummaries(ctx context.Context) ([]domain.MonthlyProductSummary, error)
	MonthlyCustomerSummaries(ctx context.Context) ([]domain.MonthlyCustomerSummary, error)
	CalendarWeeks(ctx context.Context) ([]domain.CalendarWeek, error)
	InventorySnapshots(ctx context.Context) ([]domain.InventorySnapshot, error)
	PurchaseOrders(ctx context.Context) ([]domain.PurchaseOrder, error)
	EconomicIndicators(ctx context.Context) ([]domain.EconomicIndicator, error)
	ExchangeRates(ctx context.Context) ([]domain.ExchangeRate, error)
	TradeStatistics(ctx context.Context) ([]domain.TradeStatistic, error)
	SaveWeeklyFeatures(ctx context.Context, rows []domain.WeeklyFeatures) (int, error)
	SaveMonthlyFeatures(ctx context.Context, rows []domain.MonthlyFeatures) (int, error)
}

// shared are the inputs common to both granularities.
type shared struct {
	inventory  []domain.InventorySnapshot
	pos        []domain.PurchaseOrder
	indicators []domain.EconomicIndicator
	rates      []domain.ExchangeRate
	trade      []domain.TradeStatistic
}

func loadShared(ctx context.Context, g *errgroup.Group, store Store, sh *shared) {
	g.Go(func() (err error) { sh.inventory, err = store.InventorySnapshots(ctx); return })
	g.Go(func() (err error) { sh.pos, err = store.PurchaseOrders(ctx); return })
	g.Go(func() (err error) { sh.indicators, err = store.EconomicIndicators(ctx); return })
	g.Go(func() (err error) { sh.rates, err = store.ExchangeRates(ctx); return })
	g.Go(func() (err error) { sh.trade, err = store.TradeStatistics(ctx); return })
}

// WeeklyStage writes feature_store_weekly.
type WeeklyStage struct {
	store Store
}

func NewWeekly(store Store) *WeeklyStage {
	return &WeeklyStage{store: store}
}

func (s *WeeklyStage) Key() string  { return "3" }
func (s *WeeklyStage) Name() string { return "weekly features" }

func (s *WeeklyStage) Run(ctx context.Context, _ *pipeline.Env) (pipeline.Result, error) {
	in := WeeklyInputs{}
	var sh shared

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { in.Products, err = s.store.WeeklyProductSummaries(gctx); return })
	g.Go(func() (err error) { in.Customers, err = s.store.WeeklyCustomerSummaries(gctx); return })
	g.Go(func() (err error) { in.Calendar, err = s.store.CalendarWeeks(gctx); return })
	loadShared(gctx, g, s.store, &sh)
	if err := g.Wait(); err != nil {
		return pipeline.Result{}, err
	}
	if len(in.Products) == 0 {
		return pipeline.Result{}, pipeline.MissingUpstream("weekly_product_summary is empty, run stage 0 first")
	}

	in.Inventory, in.POs, in.Indicators, in.Rates, in.Trade = sh.inventory, sh.pos, sh.indicators, sh.rates, sh.trade
	rows := BuildWeekly(in)
	log.Info().
		Int("summaries", len(in.Products)).
		Int("calendar_weeks", len(in.Calendar)).
		Int("indicator_points", len(in.Indicators)).
		Int("rows", len(rows)).
		Int("trainable", countWithTarget(rows)).
		Msg("weekly features built")

	if len(rows) == 0 {
		return pipeline.Result{}, pipeline.NothingToDo(fmt.Sprintf("no product has %d weeks of history", MinWeeklyRows))
	}
	n, err := s.store.SaveWeeklyFeatures(ctx, rows)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("save feature_store_weekly: %w", err)
	}
	return pipeline.Result{Rows: n, Note: domain.WeeklyFeatureVersion}, nil
}

// MonthlyStage writes feature_store_monthly.
type MonthlyStage struct {
	store Store
}

func NewMonthly(store Store) *MonthlyStage {
	return &MonthlyStage{store: store}
}

func (s *MonthlyStage) Key() string  { return "3m" }
func (s *MonthlyStage) Name() string { return "monthly features" }

func (s *MonthlyStage) Run(ctx context.Context, _ *pipeline.Env) (pipeline.Result, error) {
	in := MonthlyInputs{}
	var sh shared

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { in.Products, err = s.store.MonthlyProductSummaries(gctx); return })
	g.Go(func() (err error) { in.Customers, err = s.store.MonthlyCustomerSummaries(gctx); return })
	loadShared(gctx, g, s.store, &sh)
	if err := g.Wait(); err != nil {
		return pipeline.Result{}, err
	}
	if len(in.Products) == 0 {
		return pipeline.Result{}, pipeline.MissingUpstream("monthly_product_summary is empty, run stage 0 first")
	}

	in.Inventory, in.POs, in.Indicators, in.Rates, in.Trade = sh.inventory, sh.pos, sh.indicators, sh.rates, sh.trade
	rows := BuildMonthly(in)
	log.Info().
		Int("summaries", len(in.Products)).
		Int("rows", len(rows)).
		Msg("monthly features built")

	if len(rows) == 0 {
		return pipeline.Result{}, pipeline.NothingToDo(fmt.Sprintf("no product has %d months of history", MinMonthlyRows))
	}
	n, err := s.store.SaveMonthlyFeatures(ctx, rows)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("save feature_store_monthly: %w", err)
	}
	return pipeline.Result{Rows: n, Note: domain.MonthlyFeatureVersion}, nil
}

func countWithTarget(rows []domain.WeeklyFeatures) int {
	n := 0
	for i := range rows {
		if rows[i].Target1w != nil {
			n++
		}
	}
	return n
}
