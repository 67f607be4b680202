// Package purchase explodes the production plan through the BOM and
// recommends component orders with EOQ sizing and supplier selection.
package purchase

import (
	"context"
	"encoding/json"
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
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const maxParents = 5

type Store interface {
	LatestProductionPlans(ctx context.Context) ([]domain.ProductionPlan, error)
	BOM(ctx context.Context) ([]domain.BOMLine, error)
	LatestInventory(ctx context.Context) (map[string]float64, error)
	PurchaseOrders(ctx context.Context) ([]domain.PurchaseOrder, error)
	LatestLeadTimes(ctx context.Context) ([]domain.LeadTimeStat, error)
	Suppliers(ctx context.Context) ([]domain.Supplier, error)
	SavePurchaseRecommendations(ctx context.Context, rows []domain.PurchaseRecommendation) (int, error)
}

type Stage struct {
	store Store
}

func New(store Store) *Stage {
	return &Stage{store: store}
}

func (s *Stage) Key() string  { return "8" }
func (s *Stage) Name() string { return "purchase optimization" }

// Inputs are the tables one optimization run reads.
type Inputs struct {
	Plans     []domain.ProductionPlan // newest plan_date only
	BOM       []domain.BOMLine
	Inventory map[string]float64
	POs       []domain.PurchaseOrder
	LeadTimes []domain.LeadTimeStat
	Suppliers []domain.Supplier
}

func (s *Stage) Run(ctx context.Context, env *pipeline.Env) (pipeline.Result, error) {
	var in Inputs
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { in.Plans, err = s.store.LatestProductionPlans(gctx); return })
	g.Go(func() (err error) { in.BOM, err = s.store.BOM(gctx); return })
	g.Go(func() (err error) { in.Inventory, err = s.store.LatestInventory(gctx); return })
	g.Go(func() (err error) { in.POs, err = s.store.PurchaseOrders(gctx); return })
	g.Go(func() (err error) { in.LeadTimes, err = s.store.LatestLeadTimes(gctx); return })
	g.Go(func() (err error) { in.Suppliers, err = s.store.Suppliers(gctx); return })
	if err := g.Wait(); err != nil {
		return pipeline.Result{}, err
	}
	if len(in.Plans) == 0 {
		return pipeline.Result{}, pipeline.MissingUpstream("production_plan is empty, run stage 7 first")
	}

	rows, exploded := Optimize(in, env.Config, env.Today)
	log.Info().
		Int("plans", len(in.Plans)).
		Int("bom_lines", len(in.BOM)).
		Int("components", exploded).
		Int("recommended", len(rows)).
		Str("urgency", distribution(rows, func(r domain.PurchaseRecommendation) string { return r.Urgency })).
		Str("order_method", distribution(rows, func(r domain.PurchaseRecommendation) string { return r.OrderMethod })).
		Msg("purchases optimized")

	if exploded == 0 {
		return pipeline.Result{}, pipeline.NothingToDo("BOM explosion is empty, no BOM for planned products or nothing planned")
	}
	if len(rows) == 0 {
		return pipeline.Result{Skipped: exploded}, pipeline.NothingToDo("every component is covered")
	}

	n, err := s.store.SavePurchaseRecommendations(ctx, rows)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("save purchase_recommendation: %w", err)
	}
	return pipeline.Result{Rows: n, Skipped: exploded - len(rows)}, nil
}

// Requirement is a component's gross need and the parents driving it.
type Requirement struct {
	Gross   float64
	Parents map[string]struct{}
}

// Explode multiplies each positive planned quantity through the BOM.
func Explode(plans []domain.ProductionPlan, bom []domain.BOMLine) map[string]*Requirement {
	lines := make(map[string][]domain.BOMLine)
	for _, l := range bom {
		lines[l.ParentProductID] = append(lines[l.ParentProductID], l)
	}

	out := make(map[string]*Requirement)
	for _, p := range plans {
		if p.PlannedQty <= 0 {
			continue
		}
		for _, l := range lines[p.ProductID] {
			req := out[l.ComponentProductID]
			if req == nil {
				req = &Requirement{Parents: make(map[string]struct{})}
				out[l.ComponentProductID] = req
			}
			req.Gross += p.PlannedQty * l.UsageQty
			req.Parents[p.ProductID] = struct{}{}
		}
	}
	return out
}

// PendingPOs sums po_qty of every purchase order not yet fulfilled.
func PendingPOs(pos []domain.PurchaseOrder) map[string]float64 {
	out := make(map[string]float64)
	for _, po := range pos {
		if po.Fulfilled() || po.ComponentProductID == "" {
			continue
		}
		out[po.ComponentProductID] += po.POQty
	}
	return out
}

// EOQ is sqrt(2DS/H) with H = price x holdingRate. Without demand it is
// zero; without a price, a holding cost or a defined root it falls back to
// a monthly lot of annualDemand/12.
func EOQ(annualDemand, unitPrice, orderingCost, holdingRate float64) (float64, string) {
	if annualDemand <= 0 {
		return 0, domain.OrderMethodLotForLot
	}
	monthly := annualDemand / 12

	holding := decimal.NewFromFloat(unitPrice).Mul(decimal.NewFromFloat(holdingRate))
	if unitPrice <= 0 || !holding.IsPositive() {
		return monthly, domain.OrderMethodLotForLot
	}
	radicand := decimal.NewFromInt(2).
		Mul(decimal.NewFromFloat(annualDemand)).
		Mul(decimal.NewFromFloat(orderingCost)).
		Div(holding)
	if radicand.IsNegative() {
		return monthly, domain.OrderMethodLotForLot
	}
	return math.Sqrt(radicand.InexactFloat64()), domain.OrderMethodEOQ
}

// Urgency grades how soon an order must be placed.
func Urgency(deadline, today time.Time, net, inventory float64, urgencyDays int) string {
	switch {
	case !deadline.After(today) && net > inventory:
		return domain.LevelCritical
	case !deadline.After(today.AddDate(0, 0, urgencyDays)):
		return domain.LevelHigh
	case net > 0:
		return domain.LevelMedium
	}
	return domain.LevelLow
}

// Optimize returns one recommendation per component that needs buying and
// the number of components the BOM explosion produced.
func Optimize(in Inputs, cfg *config.Config, today time.Time) ([]domain.PurchaseRecommendation, int) {
	today = domain.DateOnly(today)
	window := cfg.Planning.HorizonDays
	needDate := today.AddDate(0, 0, window)

	reqs := Explode(in.Plans, in.BOM)
	pending := PendingPOs(in.POs)
	leads := stockpolicy.NewLeadTimes(in.LeadTimes, cfg.Risk.DefaultLeadAvg, cfg.Risk.DefaultLeadP90)
	profiles := Profiles(in.POs, in.Suppliers, cfg.Purchase.OnTimeLimitDays)

	comps := make([]string, 0, len(reqs))
	for c := range reqs {
		comps = append(comps, c)
	}
	sort.Strings(comps)

	var out []domain.PurchaseRecommendation
	for _, comp := range comps {
		req := reqs[comp]
		inv := in.Inventory[comp]
		onOrder := pending[comp]
		net := math.Max(0, req.Gross-inv-onOrder)

		var daily float64
		if window > 0 {
			daily = req.Gross / float64(window)
		}
		leadAvg, leadP90 := leads.For(comp)
		safety := stockpolicy.SafetyStock(daily, leadP90)
		rop := stockpolicy.ReorderPoint(daily, leadAvg, safety)

		ranked := RankSuppliers(profiles[comp], cfg.Purchase.SupplierWeights)
		var unitPrice float64
		if len(ranked) > 0 && ranked[0].AvgPrice != nil {
			unitPrice = *ranked[0].AvgPrice
		}
		eoq, method := EOQ(daily*365, unitPrice, cfg.Purchase.OrderingCost, cfg.Purchase.HoldingRate)

		var qty float64
		switch {
		case net <= 0:
			if inv+onOrder >= rop {
				continue
			}
			qty = math.Max(safety, eoq)
		case eoq > 0 && eoq > net:
			qty = eoq
		default:
			qty = net
			method = domain.OrderMethodLotForLot
		}
		if qty <= 0 {
			continue
		}

		supplierLead := leadAvg
		if len(ranked) > 0 && ranked[0].AvgLead != nil && *ranked[0].AvgLead > 0 {
			supplierLead = *ranked[0].AvgLead
		}
		leadDays := int(supplierLead)
		deadline := needDate.AddDate(0, 0, -leadDays)
		if deadline.Before(today) {
			deadline = today
		}
		receipt := today.AddDate(0, 0, leadDays)

		rec := domain.PurchaseRecommendation{
			ComponentProductID: comp,
			PlanDate:           today,
			GrossRequirement:   stats.Round(req.Gross, 6),
			CurrentInventory:   stats.Round(inv, 6),
			PendingPOQty:       stats.Round(onOrder, 6),
			NetRequirement:     stats.Round(net, 6),
			SafetyStock:        stats.Round(safety, 6),
			ReorderPoint:       stats.Round(rop, 6),
			EOQ:                stats.Round(eoq, 6),
			RecommendedQty:     stats.Round(qty, 6),
			OrderMethod:        method,
			LeadTimeDays:       stats.Round(supplierLead, 2),
			OrderDeadline:      deadline,
			ExpectedReceipt:    &receipt,
			Urgency:            Urgency(deadline, today, net, inv, cfg.Purchase.UrgencyDays),
			ParentProductIDs:   parentList(req.Parents),
			Status:             domain.RecommendationStatusPending,
		}
		if len(ranked) > 0 {
			best := ranked[0]
			rec.SupplierCode = &best.Code
			rec.SupplierName = &best.Name
			if best.Score != nil {
				rec.SupplierScore = stats.Ptr(stats.Round(*best.Score, 4))
			}
		}
		if len(ranked) > 1 {
			alt := ranked[1]
			rec.AltSupplierCode = &alt.Code
			rec.AltSupplierName = &alt.Name
		}
		if unitPrice > 0 {
			rec.UnitPrice = stats.Ptr(stats.Round(unitPrice, 6))
			cost := decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(unitPrice)).Round(2)
			rec.EstimatedCost = stats.Ptr(cost.InexactFloat64())
		}
		out = append(out, rec)
	}
	return out, len(reqs)
}

// parentList encodes up to five sorted parent ids as a JSON array.
func parentList(parents map[string]struct{}) string {
	ids := make([]string, 0, len(parents))
	for p := range parents {
		ids = append(ids, p)
	}
	sort.Strings(ids)
	if len(ids) > maxParents {
		ids = ids[:maxParents]
	}
	b, _ := json.Marshal(ids)
	return string(b)
}

func distribution(rows []domain.PurchaseRecommendation, label func(domain.PurchaseRecommendation) string) string {
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
