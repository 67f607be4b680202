// Package aggregation rolls daily order, shipment and production facts into
// the ISO-week calendar and the weekly and monthly period summaries.
package aggregation

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

// Store is the slice of the data store the aggregation stage uses.
type Store interface {
	Orders(ctx context.Context) ([]domain.DailyOrder, error)
	Revenues(ctx context.Context) ([]domain.DailyRevenue, error)
	Productions(ctx context.Context) ([]domain.DailyProduction, error)

	SaveCalendarWeeks(ctx context.Context, rows []domain.CalendarWeek) (int, error)
	SaveWeeklyProductSummaries(ctx context.Context, rows []domain.WeeklyProductSummary) (int, error)
	SaveWeeklyCustomerSummaries(ctx context.Context, rows []domain.WeeklyCustomerSummary) (int, error)
	SaveMonthlyProductSummaries(ctx context.Context, rows []domain.MonthlyProductSummary) (int, error)
	SaveMonthlyCustomerSummaries(ctx context.Context, rows []domain.MonthlyCustomerSummary) (int, error)
}

type Stage struct {
	store Store
}

func New(store Store) *Stage {
	return &Stage{store: store}
}

func (s *Stage) Key() string  { return "0" }
func (s *Stage) Name() string { return "aggregation" }

func (s *Stage) Run(ctx context.Context, _ *pipeline.Env) (pipeline.Result, error) {
	orders, err := s.store.Orders(ctx)
	if err != nil {
		return pipeline.Result{}, err
	}
	revenues, err := s.store.Revenues(ctx)
	if err != nil {
		return pipeline.Result{}, err
	}
	productions, err := s.store.Productions(ctx)
	if err != nil {
		return pipeline.Result{}, err
	}
	log.Info().Int("orders", len(orders)).Int("revenues", len(revenues)).Int("productions", len(productions)).Msg("facts loaded")

	out, ok := Build(orders, revenues, productions)
	if out.Discarded > 0 {
		log.Warn().Int("discarded", out.Discarded).Msg("facts without a date or product skipped")
	}
	if !ok {
		return pipeline.Result{Skipped: out.Discarded}, pipeline.NothingToDo("no dated order, revenue or production facts")
	}

	res := pipeline.Result{Skipped: out.Discarded}
	writes := []struct {
		table string
		save  func() (int, error)
	}{
		{"calendar_week", func() (int, error) { return s.store.SaveCalendarWeeks(ctx, out.Calendar) }},
		{"weekly_product_summary", func() (int, error) { return s.store.SaveWeeklyProductSummaries(ctx, out.WeeklyProduct) }},
		{"weekly_customer_summary", func() (int, error) { return s.store.SaveWeeklyCustomerSummaries(ctx, out.WeeklyCustomer) }},
		{"monthly_product_summary", func() (int, error) { return s.store.SaveMonthlyProductSummaries(ctx, out.MonthlyProduct) }},
		{"monthly_customer_summary", func() (int, error) { return s.store.SaveMonthlyCustomerSummaries(ctx, out.MonthlyCustomer) }},
	}
	for _, w := range writes {
		n, err := w.save()
		if err != nil {
			return res, fmt.Errorf("save %s: %w", w.table, err)
		}
		log.Info().Str("table", w.table).Int("rows", n).Msg("summary written")
		res.Rows += n
	}

	return res, nil
}

// Output is everything the aggregation stage writes.
type Output struct {
	Calendar        []domain.CalendarWeek
	WeeklyProduct   []domain.WeeklyProductSummary
	WeeklyCustomer  []domain.WeeklyCustomerSummary
	MonthlyProduct  []domain.MonthlyProductSummary
	MonthlyCustomer []domain.MonthlyCustomerSummary

	// Discarded counts facts skipped for a zero date or an empty product.
	Discarded int
}

// Build aggregates the facts. ok is false when there is no dated fact at all.
func Build(orders []domain.DailyOrder, revenues []domain.DailyRevenue, productions []domain.DailyProduction) (Output, bool) {
	var first, last time.Time
	see := func(t time.Time) {
		if t.IsZero() {
			return
		}
		if first.IsZero() || t.Before(first) {
			first = t
		}
		if last.IsZero() || t.After(last) {
			last = t
		}
	}

	discarded := 0
	valid := func(date time.Time, product string) bool {
		if date.IsZero() || product == "" {
			discarded++
			return false
		}
		see(date)
		return true
	}

	weekly := newRollup(YearWeek)
	monthly := newRollup(YearMonth)
	for _, o := range orders {
		if valid(o.OrderDate, o.ProductID) {
			weekly.addOrder(o)
			monthly.addOrder(o)
		}
	}
	for _, r := range revenues {
		if valid(r.RevenueDate, r.ProductID) {
			weekly.addRevenue(r)
			monthly.addRevenue(r)
		}
	}
	for _, p := range productions {
		if valid(p.ProductionDate, p.ProductID) {
			weekly.addProduction(p)
			monthly.addProduction(p)
		}
	}

	if first.IsZero() {
		return Output{Discarded: discarded}, false
	}

	out := Output{Calendar: CalendarWeeks(first, last), Discarded: discarded}

	for _, k := range weekly.productKeys() {
		b := weekly.products[k]
		start := WeekStart(b.firstDate)
		out.WeeklyProduct = append(out.WeeklyProduct, domain.WeeklyProductSummary{
			ProductID:       k.product,
			YearWeek:        k.period,
			WeekStart:       start,
			WeekEnd:         start.AddDate(0, 0, 6),
			PeriodTotals:    b.totals(),
			ProducedQty:     stats.Round(b.produced, 6),
			ProductionCount: b.productionCount,
			CustomerCount:   b.customerCount(),
		})
	}
	for _, k := range weekly.customerKeys() {
		b := weekly.customers[k]
		start := WeekStart(b.firstDate)
		out.WeeklyCustomer = append(out.WeeklyCustomer, domain.WeeklyCustomerSummary{
			ProductID:    k.product,
			CustomerID:   k.customer,
			YearWeek:     k.period,
			WeekStart:    start,
			WeekEnd:      start.AddDate(0, 0, 6),
			PeriodTotals: b.totals(),
		})
	}
	for _, k := range monthly.productKeys() {
		b := monthly.products[k]
		out.MonthlyProduct = append(out.MonthlyProduct, domain.MonthlyProductSummary{
			ProductID:       k.product,
			YearMonth:       k.period,
			PeriodTotals:    b.totals(),
			ProducedQty:     stats.Round(b.produced, 6),
			ProductionCount: b.productionCount,
			CustomerCount:   b.customerCount(),
		})
	}
	for _, k := range monthly.customerKeys() {
		b := monthly.customers[k]
		out.MonthlyCustomer = append(out.MonthlyCustomer, domain.MonthlyCustomerSummary{
			ProductID:    k.product,
			CustomerID:   k.customer,
			YearMonth:    k.period,
			PeriodTotals: b.totals(),
		})
	}

	return out, true
}

type periodKey struct {
	product, customer, period string
}

// bucket accumulates one (product[, customer], period) cell. Missing
// streams stay zero, which is the outer-join fill.
type bucket struct {
	firstDate        time.Time
	t                domain.PeriodTotals
	produced         float64
	productionCount  int
	orderCustomers   map[string]struct{}
	revenueCustomers map[string]struct{}
}

func (b *bucket) totals() domain.PeriodTotals {
	t := b.t
	t.OrderQty = stats.Round(t.OrderQty, 6)
	t.OrderAmount = stats.Round(t.OrderAmount, 4)
	t.RevenueQty = stats.Round(t.RevenueQty, 6)
	t.RevenueAmount = stats.Round(t.RevenueAmount, 4)
	return t
}

// customerCount takes the larger distinct count of the two streams rather
// than their sum; order and shipment customers overlap heavily.
func (b *bucket) customerCount() int {
	if len(b.orderCustomers) > len(b.revenueCustomers) {
		return len(b.orderCustomers)
	}
	return len(b.revenueCustomers)
}

type rollup struct {
	period    func(time.Time) string
	products  map[periodKey]*bucket
	customers map[periodKey]*bucket
}

func newRollup(period func(time.Time) string) *rollup {
	return &rollup{
		period:    period,
		products:  map[periodKey]*bucket{},
		customers: map[periodKey]*bucket{},
	}
}

func (r *rollup) cell(m map[periodKey]*bucket, k periodKey, date time.Time) *bucket {
	b, ok := m[k]
	if !ok {
		b = &bucket{
			firstDate:        date,
			orderCustomers:   map[string]struct{}{},
			revenueCustomers: map[string]struct{}{},
		}
		m[k] = b
	}
	return b
}

func (r *rollup) addOrder(o domain.DailyOrder) {
	p := r.period(o.OrderDate)

	b := r.cell(r.products, periodKey{product: o.ProductID, period: p}, o.OrderDate)
	b.t.OrderQty += o.OrderQty
	b.t.OrderAmount += o.OrderAmount
	b.t.OrderCount++
	b.orderCustomers[o.CustomerID] = struct{}{}

	c := r.cell(r.customers, periodKey{o.ProductID, o.CustomerID, p}, o.OrderDate)
	c.t.OrderQty += o.OrderQty
	c.t.OrderAmount += o.OrderAmount
	c.t.OrderCount++
}

func (r *rollup) addRevenue(v domain.DailyRevenue) {
	p := r.period(v.RevenueDate)

	b := r.cell(r.products, periodKey{product: v.ProductID, period: p}, v.RevenueDate)
	b.t.RevenueQty += v.Quantity
	b.t.RevenueAmount += v.RevenueAmount
	b.t.RevenueCount++
	b.revenueCustomers[v.CustomerID] = struct{}{}

	c := r.cell(r.customers, periodKey{v.ProductID, v.CustomerID, p}, v.RevenueDate)
	c.t.RevenueQty += v.Quantity
	c.t.RevenueAmount += v.RevenueAmount
	c.t.RevenueCount++
}

func (r *rollup) addProduction(d domain.DailyProduction) {
	b := r.cell(r.products, periodKey{product: d.ProductID, period: r.period(d.ProductionDate)}, d.ProductionDate)
	b.produced += d.ProducedQty
	b.productionCount++
}

func sortedKeys(m map[periodKey]*bucket) []periodKey {
	keys := make([]periodKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.product != b.product {
			return a.product < b.product
		}
		if a.period != b.period {
			return a.period < b.period
		}
		return a.customer < b.customer
	})
	return keys
}

func (r *rollup) productKeys() []periodKey  { return sortedKeys(r.products) }
func (r *rollup) customerKeys() []periodKey { return sortedKeys(r.customers) }
