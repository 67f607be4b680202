// Package actions turns high risk scores into a queue of planner actions.
package actions

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/andresuchdata/controltower/internal/config"
	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/andresuchdata/controltower/internal/pipeline"
	"github.com/andresuchdata/controltower/internal/stats"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// expediteAbove is the stockout score from which buying beats building.
const expediteAbove = 60

type Store interface {
	LatestRiskScores(ctx context.Context) ([]domain.RiskScore, error)
	Products(ctx context.Context) ([]domain.Product, error)
	BOM(ctx context.Context) ([]domain.BOMLine, error)
	LatestProductionPlans(ctx context.Context) ([]domain.ProductionPlan, error)
	LatestPurchaseRecommendations(ctx context.Context) ([]domain.PurchaseRecommendation, error)
	ReplacePendingActions(ctx context.Context, evalDate time.Time, rows []domain.Action) (int, error)
}

type Stage struct {
	store Store
}

func New(store Store) *Stage {
	return &Stage{store: store}
}

func (s *Stage) Key() string  { return "6" }
func (s *Stage) Name() string { return "action queue" }

// Inputs are what Generate reads besides the thresholds.
type Inputs struct {
	Scores    []domain.RiskScore
	Products  []domain.Product
	BOM       []domain.BOMLine
	Plans     []domain.ProductionPlan
	Purchases []domain.PurchaseRecommendation
}

func (s *Stage) Run(ctx context.Context, env *pipeline.Env) (pipeline.Result, error) {
	var in Inputs
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { in.Scores, err = s.store.LatestRiskScores(gctx); return })
	g.Go(func() (err error) { in.Products, err = s.store.Products(gctx); return })
	g.Go(func() (err error) { in.BOM, err = s.store.BOM(gctx); return })
	g.Go(func() (err error) { in.Plans, err = s.store.LatestProductionPlans(gctx); return })
	g.Go(func() (err error) { in.Purchases, err = s.store.LatestPurchaseRecommendations(gctx); return })
	if err := g.Wait(); err != nil {
		return pipeline.Result{}, err
	}
	if len(in.Scores) == 0 {
		return pipeline.Result{}, pipeline.MissingUpstream("risk_score is empty, run stage 5 first")
	}

	actions := Generate(in, env.Config.Risk)
	byDate := make(map[time.Time][]domain.Action)
	for _, a := range actions {
		byDate[a.EvalDate] = append(byDate[a.EvalDate], a)
	}
	log.Info().
		Int("scores", len(in.Scores)).
		Int("actions", len(actions)).
		Int("eval_dates", len(byDate)).
		Msg("actions generated")

	if len(actions) == 0 {
		return pipeline.Result{}, pipeline.NothingToDo("no product is above the action threshold")
	}

	dates := make([]time.Time, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	written := 0
	for _, d := range dates {
		n, err := s.store.ReplacePendingActions(ctx, d, byDate[d])
		if err != nil {
			return pipeline.Result{Rows: written}, fmt.Errorf("replace action_queue for %s: %w", d.Format("2006-01-02"), err)
		}
		written += n
	}
	return pipeline.Result{Rows: written}, nil
}

// Severity grades one sub-score in the context of the product's total risk.
func Severity(sub, total float64) string {
	switch {
	case sub >= 90 && total > 60:
		return domain.LevelCritical
	case sub >= 80 || (sub >= 60 && total > 60):
		return domain.LevelHigh
	case sub > 40:
		return domain.LevelMedium
	}
	return domain.LevelLow
}

// ActionType maps a triggered risk kind to the action that addresses it.
func ActionType(kind string, sub float64) string {
	switch kind {
	case domain.RiskStockout:
		if sub > expediteAbove {
			return domain.ActionExpeditePO
		}
		return domain.ActionIncreaseProduction
	case domain.RiskExcess:
		return domain.ActionReduceProduction
	case domain.RiskDelivery:
		return domain.ActionExpediteProduction
	}
	return domain.ActionAdjustPrice
}

// Generate emits one action per sub-score above cfg.SubThreshold for every
// product whose total risk exceeds cfg.ActionThreshold.
func Generate(in Inputs, cfg config.RiskConfig) []domain.Action {
	names := make(map[string]string, len(in.Products))
	for _, p := range in.Products {
		if p.Name != "" {
			names[p.Code] = p.Name
		}
	}
	plans := make(map[string]domain.ProductionPlan, len(in.Plans))
	for _, p := range in.Plans {
		plans[p.ProductID] = p
	}
	purchased := make(map[string]float64)
	for _, r := range in.Purchases {
		purchased[r.ComponentProductID] += r.RecommendedQty
	}
	components := make(map[string][]string)
	for _, line := range in.BOM {
		components[line.ParentProductID] = append(components[line.ParentProductID], line.ComponentProductID)
	}

	scores := append([]domain.RiskScore(nil), in.Scores...)
	sort.Slice(scores, func(i, j int) bool { return scores[i].ProductID < scores[j].ProductID })

	var out []domain.Action
	for _, r := range scores {
		if r.TotalRisk <= cfg.ActionThreshold {
			continue
		}
		name := names[r.ProductID]
		if name == "" {
			name = r.ProductID
		}
		for _, kind := range domain.RiskKinds {
			sub := r.SubScore(kind)
			if sub <= cfg.SubThreshold {
				continue
			}
			typ := ActionType(kind, sub)
			plan, hasPlan := plans[r.ProductID]
			out = append(out, domain.Action{
				ProductID:    r.ProductID,
				EvalDate:     r.EvalDate,
				RiskType:     kind,
				Severity:     Severity(sub, r.TotalRisk),
				ActionType:   typ,
				Description:  describe(name, r, kind, sub),
				SuggestedQty: suggest(typ, r, plan, hasPlan, components[r.ProductID], purchased),
				Status:       domain.ActionStatusPending,
			})
		}
	}
	return out
}

func suggest(typ string, r domain.RiskScore, plan domain.ProductionPlan, hasPlan bool, components []string, purchased map[string]float64) *float64 {
	switch typ {
	case domain.ActionExpeditePO:
		var qty float64
		found := false
		for _, c := range components {
			if q, ok := purchased[c]; ok {
				qty += q
				found = true
			}
		}
		if found {
			return stats.Ptr(stats.Round(qty, 2))
		}
		return stats.Ptr(stats.Round(math.Max(0, r.SafetyStock-r.InventoryQty), 2))
	case domain.ActionIncreaseProduction, domain.ActionExpediteProduction:
		if hasPlan {
			return stats.Ptr(stats.Round(plan.PlannedQty, 2))
		}
	case domain.ActionReduceProduction:
		if hasPlan {
			if cut := plan.NetRequirement - plan.PlannedQty; cut > 0 {
				return stats.Ptr(stats.Round(cut, 2))
			}
		}
	}
	return nil
}

func describe(name string, r domain.RiskScore, kind string, sub float64) string {
	days := "N/A"
	if r.InventoryDays != nil {
		days = fmt.Sprintf("%.0f", *r.InventoryDays)
	}

	switch kind {
	case domain.RiskStockout:
		if sub > expediteAbove {
			return fmt.Sprintf("[%s] %s days of inventory, stockout risk %.0f. Place an urgent order or pull in open PO deliveries.", name, days, sub)
		}
		return fmt.Sprintf("[%s] %s days of inventory, stockout watch %.0f. Review a production increase.", name, days, sub)
	case domain.RiskExcess:
		return fmt.Sprintf("[%s] %s days of inventory, excess risk %.0f. Cut production or run a promotion.", name, days, sub)
	case domain.RiskDelivery:
		return fmt.Sprintf("[%s] delivery risk %.0f. Reprioritize production or ship partially.", name, sub)
	}
	return fmt.Sprintf("[%s] margin risk %.0f. Renegotiate unit prices or source an alternate supplier.", name, sub)
}
