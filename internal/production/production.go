// Package production sizes a bounded, risk-adjusted build plan per product.
package production

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/andresuchdata/controltower/internal/config"
	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/andresuchdata/controltower/internal/pipeline"
	"github.com/andresuchdata/controltower/internal/stats"
	"github.com/andresuchdata/controltower/internal/stockpolicy"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Forecast horizons, in days, tried in order for the plan window demand.
var planHorizons = []int{7, 14, 28, 30}

const (
	pushAbove      = 60 // stockout or excess score that bends a poor-grade plan
	nearCapacity   = 0.9
	increaseAbove  = 1.15
	decreaseBelow  = 0.85
	p90Uplift      = 1.5
	minQtyFraction = 0.8
)

type Store interface {
	LatestForwardForecasts(ctx context.Context) ([]domain.Forecast, error)
	LatestInventory(ctx context.Context) (map[string]float64, error)
	ProductionsSince(ctx context.Context, since time.Time) ([]domain.DailyProduction, error)
	LatestRiskScores(ctx context.Context) ([]domain.RiskScore, error)
	LatestLeadTimes(ctx context.Context) ([]domain.LeadTimeStat, error)
	OpenOrders(ctx context.Context) ([]domain.DailyOrder, error)
	OrdersSince(ctx context.Context, since time.Time) ([]domain.DailyOrder, error)
	SaveProductionPlans(ctx context.Context, rows []domain.ProductionPlan) (int, error)
}

type Stage struct {
	store Store
}

func New(store Store) *Stage {
	return &Stage{store: store}
}

func (s *Stage) Key() string  { return "7" }
func (s *Stage) Name() string { return "production plan" }

// Inputs are the tables one planning run reads.
type Inputs struct {
	Forecasts   []domain.Forecast
	Inventory   map[string]float64
	Productions []domain.DailyProduction // lookback window only
	Risks       []domain.RiskScore
	LeadTimes   []domain.LeadTimeStat
	OpenOrders  []domain.DailyOrder
	Orders      []domain.DailyOrder // lookback window only
}

func (s *Stage) Run(ctx context.Context, env *pipeline.Env) (pipeline.Result, error) {
	since := env.Today.AddDate(0, 0, -env.Config.Planning.LookbackDays)

	var in Inputs
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { in.Forecasts, err = s.store.LatestForwardForecasts(gctx); return })
	g.Go(func() (err error) { in.Inventory, err = s.store.LatestInventory(gctx); return })
	g.Go(func() (err error) { in.Productions, err = s.store.ProductionsSince(gctx, since); return })
	g.Go(func() (err error) { in.Risks, err = s.store.LatestRiskScores(gctx); return })
	g.Go(func() (err error) { in.LeadTimes, err = s.store.LatestLeadTimes(gctx); return })
	g.Go(func() (err error) { in.OpenOrders, err = s.store.OpenOrders(gctx); return })
	g.Go(func() (err error) { in.Orders, err = s.store.OrdersSince(gctx, since); return })
	if err := g.Wait(); err != nil {
		return pipeline.Result{}, err
	}

	rows := Plan(in, env.Config.Planning, env.Config.Risk, env.Today)
	log.Info().
		Int("forecasts", len(in.Forecasts)).
		Int("inventory_products", len(in.Inventory)).
		Int("risk_products", len(in.Risks)).
		Int("planned", len(rows)).
		Str("priority", distribution(rows, func(p domain.ProductionPlan) string { return p.Priority })).
		Str("plan_type", distribution(rows, func(p domain.ProductionPlan) string { return p.PlanType })).
		Msg("production planned")

	if len(rows) == 0 {
		return pipeline.Result{}, pipeline.NothingToDo("no product has a forecast or recent demand")
	}

	n, err := s.store.SaveProductionPlans(ctx, rows)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("save production_plan: %w", err)
	}
	return pipeline.Result{Rows: n}, nil
}

// Capacity is a product's recent daily output.
type Capacity struct {
	DailyAvg   float64
	DailyMax   float64
	ActiveDays int
}

// Capacities aggregates production by day and averages over active days.
func Capacities(rows []domain.DailyProduction) map[string]Capacity {
	byDay := make(map[string]map[time.Time]float64)
	for _, r := range rows {
		if byDay[r.ProductID] == nil {
			byDay[r.ProductID] = make(map[time.Time]float64)
		}
		byDay[r.ProductID][domain.DateOnly(r.ProductionDate)] += r.ProducedQty
	}

	out := make(map[string]Capacity, len(byDay))
	for pid, days := range byDay {
		vals := make([]float64, 0, len(days))
		for _, v := range days {
			vals = append(vals, v)
		}
		out[pid] = Capacity{DailyAvg: stats.Mean(vals), DailyMax: stats.Max(vals), ActiveDays: len(vals)}
	}
	return out
}

// Priority ranks a plan by its risk grade and sub-scores.
func Priority(grade string, stockout, excess float64) string {
	switch {
	case grade == "F" || stockout >= 80:
		return domain.LevelCritical
	case grade == "D" || stockout >= 60 || excess >= 80:
		return domain.LevelHigh
	case grade == "C" || stockout >= 40 || excess >= 60:
		return domain.LevelMedium
	}
	return domain.LevelLow
}

// PlanType compares planned against recent output over the same window.
func PlanType(planned, recent float64) string {
	if recent <= 0 {
		if planned > 0 {
			return domain.PlanNew
		}
		return domain.PlanMaintain
	}
	switch ratio := planned / recent; {
	case ratio > increaseAbove:
		return domain.PlanIncrease
	case ratio < decreaseBelow:
		return domain.PlanDecrease
	}
	return domain.PlanMaintain
}

// Plan builds one weekly draft per product with a forecast or recent demand.
func Plan(in Inputs, cfg config.PlanningConfig, risk config.RiskConfig, today time.Time) []domain.ProductionPlan {
	today = domain.DateOnly(today)
	window := float64(cfg.HorizonDays)
	start := today
	end := today.AddDate(0, 0, cfg.HorizonDays-1)

	forecasts := stockpolicy.IndexForecasts(in.Forecasts)
	demand := stockpolicy.DailyDemand(in.Orders, today.AddDate(0, 0, -cfg.LookbackDays))
	leads := stockpolicy.NewLeadTimes(in.LeadTimes, risk.DefaultLeadAvg, risk.DefaultLeadP90)
	capacity := Capacities(in.Productions)
	risks := make(map[string]domain.RiskScore, len(in.Risks))
	for _, r := range in.Risks {
		risks[r.ProductID] = r
	}
	urgent := make(map[string]float64)
	for _, o := range in.OpenOrders {
		if o.IsOpen() && !domain.DateOnly(*o.ExpectedDeliveryDate).After(end) {
			urgent[o.ProductID] += o.OrderQty
		}
	}

	products := make(map[string]struct{})
	for pid := range forecasts {
		products[pid] = struct{}{}
	}
	for pid := range demand {
		products[pid] = struct{}{}
	}
	ids := make([]string, 0, len(products))
	for pid := range products {
		ids = append(ids, pid)
	}
	sort.Strings(ids)

	out := make([]domain.ProductionPlan, 0, len(ids))
	for _, pid := range ids {
		var p50, p90 float64
		if fc, ok := forecasts.Pick(pid, planHorizons...); ok {
			p50, p90 = fc.P50, fc.P90
		}
		if p50 <= 0 {
			p50 = demand[pid] * window
			p90 = p50 * p90Uplift
		}

		inv := in.Inventory[pid]
		_, leadP90 := leads.For(pid)
		safety := stockpolicy.SafetyStock(demand[pid], leadP90)
		netReq := stockpolicy.NetRequirement(p50, safety, inv)
		netReqMax := stockpolicy.NetRequirement(p90, safety, inv)
		if u := urgent[pid]; u > 0 {
			netReq = math.Max(netReq, u-inv)
		}

		hist := capacity[pid]
		dailyCap := hist.DailyAvg * cfg.CapacityBuffer
		maxCap := math.Inf(1)
		if dailyCap > 0 {
			maxCap = dailyCap * window
		}

		r, scored := risks[pid]
		grade := "A"
		if scored && r.RiskGrade != "" {
			grade = r.RiskGrade
		}

		var planned float64
		switch {
		case domain.IsPoorGrade(grade) && r.StockoutRisk > pushAbove:
			planned = math.Min(netReqMax, maxCap)
		case domain.IsPoorGrade(grade) && r.ExcessRisk > pushAbove:
			planned = netReq * cfg.ExcessDiscount
		default:
			planned = math.Min(netReq, maxCap)
		}
		planned = math.Max(0, planned)

		plan := domain.ProductionPlan{
			ProductID:      pid,
			PlanDate:       today,
			PlanHorizon:    domain.PlanHorizonWeekly,
			TargetStart:    start,
			TargetEnd:      end,
			DemandP50:      stats.Round(p50, 6),
			DemandP90:      stats.Round(p90, 6),
			CurrentInv:     stats.Round(inv, 6),
			SafetyStock:    stats.Round(safety, 6),
			NetRequirement: stats.Round(netReq, 6),
			PlannedQty:     stats.Round(planned, 6),
			MinQty:         stats.Round(math.Max(0, netReq*minQtyFraction), 6),
			MaxQty:         stats.Round(netReqMax, 6),
			RiskGrade:      grade,
			Priority:       Priority(grade, r.StockoutRisk, r.ExcessRisk),
			PlanType:       PlanType(planned, hist.DailyAvg*window),
			Description:    describe(r, urgent[pid], planned, maxCap),
			Status:         domain.PlanStatusDraft,
		}
		if dailyCap > 0 {
			plan.DailyCapacity = stats.Ptr(stats.Round(dailyCap, 6))
			plan.MaxCapacity = stats.Ptr(stats.Round(maxCap, 6))
		}
		out = append(out, plan)
	}
	return out
}

func describe(r domain.RiskScore, urgent, planned, maxCap float64) string {
	var parts []string
	if r.StockoutRisk > pushAbove {
		parts = append(parts, fmt.Sprintf("stockout risk %.0f", r.StockoutRisk))
	}
	if r.ExcessRisk > pushAbove {
		parts = append(parts, fmt.Sprintf("excess risk %.0f", r.ExcessRisk))
	}
	if urgent > 0 {
		parts = append(parts, fmt.Sprintf("urgent orders %.0f", urgent))
	}
	if !math.IsInf(maxCap, 1) && planned >= maxCap*nearCapacity {
		parts = append(parts, "near capacity")
	}
	return strings.Join(parts, ", ")
}

func distribution(rows []domain.ProductionPlan, label func(domain.ProductionPlan) string) string {
	counts := make(map[string]int)
	for _, r := range rows {
		counts[label(r)]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	return strings.Join(parts, " ")
}
