// Package inventory projects daily stock per product from the monthly
// physical snapshot plus cumulative production minus cumulative shipments.
package inventory

import (
	"context"
	"sort"
	"time"

	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/andresuchdata/controltower/internal/pipeline"
	"github.com/andresuchdata/controltower/internal/stats"
	"github.com/rs/zerolog/log"
)

// flushRows bounds how many projected rows are held before writing.
const flushRows = 5000

type Store interface {
	InventorySnapshots(ctx context.Context) ([]domain.InventorySnapshot, error)
	Productions(ctx context.Context) ([]domain.DailyProduction, error)
	Revenues(ctx context.Context) ([]domain.DailyRevenue, error)
	SaveInventoryEstimates(ctx context.Context, rows []domain.InventoryEstimate) (int, error)
}

type Stage struct {
	store Store
}

func New(store Store) *Stage {
	return &Stage{store: store}
}

func (s *Stage) Key() string  { return "1" }
func (s *Stage) Name() string { return "inventory estimate" }

func (s *Stage) Run(ctx context.Context, _ *pipeline.Env) (pipeline.Result, error) {
	snaps, err := s.store.InventorySnapshots(ctx)
	if err != nil {
		return pipeline.Result{}, err
	}
	prods, err := s.store.Productions(ctx)
	if err != nil {
		return pipeline.Result{}, err
	}
	ships, err := s.store.Revenues(ctx)
	if err != nil {
		return pipeline.Result{}, err
	}

	g := NewGrid(snaps, prods, ships)
	if g.Empty() {
		return pipeline.Result{}, pipeline.NothingToDo("no production or shipment facts")
	}
	log.Info().
		Int("products", len(g.products)).
		Time("from", g.from).
		Time("to", g.to).
		Msg("projecting daily inventory")

	buf := pipeline.NewBuffer("daily_inventory_estimated", flushRows, s.store.SaveInventoryEstimates)
	err = g.Each(func(e domain.InventoryEstimate) error {
		return buf.Add(ctx, e)
	})
	if err == nil {
		err = buf.Finalize(ctx)
	}
	return pipeline.Result{Rows: buf.Written()}, err
}

// Grid holds per-day production and shipment totals keyed by product.
type Grid struct {
	snapshots map[string]map[string]float64 // YYYYMM -> product -> qty
	produced  map[string]map[time.Time]float64
	shipped   map[string]map[time.Time]float64
	products  []string
	from, to  time.Time
}

// NewGrid indexes the facts. Warehouses of the same snapshot month are summed.
func NewGrid(snaps []domain.InventorySnapshot, prods []domain.DailyProduction, ships []domain.DailyRevenue) *Grid {
	g := &Grid{
		snapshots: map[string]map[string]float64{},
		produced:  map[string]map[time.Time]float64{},
		shipped:   map[string]map[time.Time]float64{},
	}
	seen := map[string]struct{}{}

	for _, s := range snaps {
		m, ok := g.snapshots[s.SnapshotDate]
		if !ok {
			m = map[string]float64{}
			g.snapshots[s.SnapshotDate] = m
		}
		m[s.ProductID] += s.InventoryQty
		seen[s.ProductID] = struct{}{}
	}

	add := func(dst map[string]map[time.Time]float64, product string, date time.Time, qty float64) {
		if date.IsZero() {
			return
		}
		d := domain.DateOnly(date)
		m, ok := dst[product]
		if !ok {
			m = map[time.Time]float64{}
			dst[product] = m
		}
		m[d] += qty
		seen[product] = struct{}{}
		if g.from.IsZero() || d.Before(g.from) {
			g.from = d
		}
		if d.After(g.to) {
			g.to = d
		}
	}
	for _, p := range prods {
		add(g.produced, p.ProductID, p.ProductionDate, p.ProducedQty)
	}
	for _, r := range ships {
		add(g.shipped, r.ProductID, r.RevenueDate, r.Quantity)
	}

	for p := range seen {
		g.products = append(g.products, p)
	}
	sort.Strings(g.products)
	return g
}

// Empty reports whether no dated production or shipment exists.
func (g *Grid) Empty() bool {
	return g.from.IsZero()
}

// Each emits one estimate per product per day in [from, to]. Running totals
// reset on the first day of every month.
func (g *Grid) Each(fn func(domain.InventoryEstimate) error) error {
	if g.Empty() {
		return nil
	}
	for _, pid := range g.products {
		prod, ship := g.produced[pid], g.shipped[pid]
		var cumP, cumS float64
		for d := g.from; !d.After(g.to); d = d.AddDate(0, 0, 1) {
			if d.Day() == 1 {
				cumP, cumS = 0, 0
			}
			cumP += prod[d]
			cumS += ship[d]
			base := g.snapshots[d.Format("200601")][pid]

			err := fn(domain.InventoryEstimate{
				ProductID:     pid,
				TargetDate:    d,
				SnapshotBase:  stats.Round(base, 6),
				CumulProduced: stats.Round(cumP, 6),
				CumulShipped:  stats.Round(cumS, 6),
				EstimatedQty:  stats.Round(base+cumP-cumS, 6),
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}
