// Package leadtime summarizes purchase-order lead times per component and supplier.
package leadtime

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/andresuchdata/controltower/internal/pipeline"
	"github.com/andresuchdata/controltower/internal/stats"
	"github.com/rs/zerolog/log"
)

type Store interface {
	PurchaseOrders(ctx context.Context) ([]domain.PurchaseOrder, error)
	SaveLeadTimes(ctx context.Context, rows []domain.LeadTimeStat) (int, error)
}

type Stage struct {
	store Store
}

func New(store Store) *Stage {
	return &Stage{store: store}
}

func (s *Stage) Key() string  { return "2" }
func (s *Stage) Name() string { return "lead time" }

func (s *Stage) Run(ctx context.Context, env *pipeline.Env) (pipeline.Result, error) {
	pos, err := s.store.PurchaseOrders(ctx)
	if err != nil {
		return pipeline.Result{}, err
	}

	samples := Collect(pos)
	rows := Summarize(samples.ByPair, env.Today)
	log.Info().
		Int("purchase_orders", len(pos)).
		Int("samples", samples.Valid).
		Int("discarded", samples.Discarded).
		Int("groups", len(rows)).
		Msg("lead times computed")

	if len(rows) == 0 {
		return pipeline.Result{Skipped: samples.Discarded}, pipeline.NothingToDo("no fulfilled purchase orders with valid dates")
	}

	n, err := s.store.SaveLeadTimes(ctx, rows)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("save product_lead_time: %w", err)
	}
	return pipeline.Result{Rows: n, Skipped: samples.Discarded}, nil
}

// Pair identifies a component bought from one supplier.
type Pair struct {
	Product  string
	Supplier string
}

// Samples are the valid lead days per pair plus the discard count.
type Samples struct {
	ByPair    map[Pair][]float64
	Valid     int
	Discarded int
}

// Collect keeps fulfilled orders with both dates and a non-negative span.
// Fulfilled orders with missing or inverted dates are discarded and counted.
func Collect(pos []domain.PurchaseOrder) Samples {
	s := Samples{ByPair: map[Pair][]float64{}}
	for _, po := range pos {
		if !po.Fulfilled() {
			continue
		}
		days, ok := po.LeadDays()
		if !ok {
			s.Discarded++
			continue
		}
		k := Pair{Product: po.ComponentProductID, Supplier: po.SupplierCode}
		s.ByPair[k] = append(s.ByPair[k], days)
		s.Valid++
	}
	return s
}

// Summarize emits one row per pair and one supplier_code=ALL row per product.
func Summarize(byPair map[Pair][]float64, calcDate time.Time) []domain.LeadTimeStat {
	all := map[string][]float64{}
	var rows []domain.LeadTimeStat

	for k, days := range byPair {
		if len(days) == 0 {
			continue
		}
		rows = append(rows, summarize(k.Product, k.Supplier, days, calcDate))
		all[k.Product] = append(all[k.Product], days...)
	}
	for product, days := range all {
		rows = append(rows, summarize(product, domain.SupplierAll, days, calcDate))
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ProductID != rows[j].ProductID {
			return rows[i].ProductID < rows[j].ProductID
		}
		return rows[i].SupplierCode < rows[j].SupplierCode
	})
	return rows
}

func summarize(product, supplier string, days []float64, calcDate time.Time) domain.LeadTimeStat {
	return domain.LeadTimeStat{
		ProductID:    product,
		SupplierCode: supplier,
		CalcDate:     domain.DateOnly(calcDate),
		AvgLeadDays:  stats.Round(stats.Mean(days), 2),
		MedLeadDays:  stats.Round(stats.Median(days), 2),
		P90LeadDays:  stats.Round(stats.NearestRank(days, 0.9), 2),
		MinLeadDays:  stats.Min(days),
		MaxLeadDays:  stats.Max(days),
		SampleCount:  len(days),
	}
}
