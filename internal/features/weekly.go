package features

import (
	"sort"

	"github.com/andresuchdata/controltower/internal/aggregation"
	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/andresuchdata/controltower/internal/stats"
)

// MinWeeklyRows is the history a product needs to enter the weekly store.
const MinWeeklyRows = 26

var holidayWeeks = map[int]bool{1: true, 2: true, 5: true, 6: true, 38: true, 39: true, 40: true}

// WeeklyInputs are the tables the weekly feature store joins.
type WeeklyInputs struct {
	Products   []domain.WeeklyProductSummary
	Customers  []domain.WeeklyCustomerSummary
	Calendar   []domain.CalendarWeek
	Inventory  []domain.InventorySnapshot
	POs        []domain.PurchaseOrder
	Indicators []domain.EconomicIndicator
	Rates      []domain.ExchangeRate
	Trade      []domain.TradeStatistic
}

// history is one product's period rows split into aligned series.
type history struct {
	orderQty, orderCount, orderAmount series
	revenueQty, producedQty, customers series
}

func (h *history) add(t domain.PeriodTotals, produced float64, customers int) {
	h.orderQty = append(h.orderQty, t.OrderQty)
	h.orderCount = append(h.orderCount, float64(t.OrderCount))
	h.orderAmount = append(h.orderAmount, t.OrderAmount)
	h.revenueQty = append(h.revenueQty, t.RevenueQty)
	h.producedQty = append(h.producedQty, produced)
	h.customers = append(h.customers, float64(customers))
}

// BuildWeekly derives feature_store_weekly rows. Values joined per period
// (customer concentration, inventory, indicators) are taken from the
// previous period so no column at week t depends on week t itself.
func BuildWeekly(in WeeklyInputs) []domain.WeeklyFeatures {
	byProduct := map[string][]domain.WeeklyProductSummary{}
	for _, r := range in.Products {
		byProduct[r.ProductID] = append(byProduct[r.ProductID], r)
	}
	products := make([]string, 0, len(byProduct))
	for p := range byProduct {
		products = append(products, p)
	}
	sort.Strings(products)

	shares := weeklyShares(in.Customers)
	inventory := monthlyInventory(in.Inventory)
	sup := newSupply(in.POs)
	ext := weeklyExternal(in.Calendar, in.Indicators, in.Rates, in.Trade)

	var out []domain.WeeklyFeatures
	for _, p := range products {
		rows := denseWeeks(byProduct[p])

		var h history
		for _, r := range rows {
			h.add(r.PeriodTotals, r.ProducedQty, r.CustomerCount)
		}

		// rows[0] has no lag1 and is never emitted
		if len(rows)-1 < MinWeeklyRows {
			continue
		}
		for i := 1; i < len(rows); i++ {
			prev := rows[i-1]
			f := weeklyRow(rows[i], h, i, sup)

			if c, ok := shares[key{p, prev.YearWeek}]; ok {
				f.Top1CustomerPct = stats.Ptr(c.top1)
				f.Top3CustomerPct = stats.Ptr(c.top3)
				f.CustomerHHI = stats.Ptr(c.hhi)
			}
			if inv, ok := inventory[key{p, prev.WeekEnd.Format("2006-01")}]; ok {
				f.InventoryQty = round6(stats.Ptr(inv))
				f.InventoryWeeks = round6(ratio(f.InventoryQty, f.OrderQtyMA4, nil))
			}
			if j, ok := ext.index[rows[i].YearWeek]; ok && j > 0 {
				f.External = ext.external(j - 1)
				f.SoxRoc4w = round6(ext.roc("sox_index", j-1, 4))
				f.DramRoc4w = round6(ext.roc("dram_price", j-1, 4))
				f.UsdKrwRoc4w = round6(ext.roc("usd_krw", j-1, 4))
			}
			out = append(out, f)
		}
	}
	return out
}

// denseWeeks orders one product's summaries and inserts a zero row for every
// calendar week between its first and last week, so position i-k is always
// the week k weeks before i.
func denseWeeks(rows []domain.WeeklyProductSummary) []domain.WeeklyProductSummary {
	sort.Slice(rows, func(i, j int) bool { return rows[i].WeekStart.Before(rows[j].WeekStart) })
	if len(rows) == 0 {
		return rows
	}
	byWeek := make(map[string]domain.WeeklyProductSummary, len(rows))
	for _, r := range rows {
		byWeek[aggregation.YearWeek(r.WeekStart)] = r
	}

	first := aggregation.WeekStart(rows[0].WeekStart)
	last := aggregation.WeekStart(rows[len(rows)-1].WeekStart)
	out := make([]domain.WeeklyProductSummary, 0, len(rows))
	for start := first; !start.After(last); start = start.AddDate(0, 0, 7) {
		yw := aggregation.YearWeek(start)
		r, ok := byWeek[yw]
		if !ok {
			r = domain.WeeklyProductSummary{
				ProductID: rows[0].ProductID,
				YearWeek:  yw,
				WeekStart: start,
				WeekEnd:   start.AddDate(0, 0, 6),
			}
		}
		out = append(out, r)
	}
	return out
}

func weeklyRow(r domain.WeeklyProductSummary, h history, i int, sup supply) domain.WeeklyFeatures {
	q := h.orderQty
	ma4 := q.mean(i, 1, 4)
	std4 := q.std(i, 1, 4)
	lag1 := q.lag(i, 1)
	amountLag1 := h.orderAmount.lag(i, 1)

	_, week := r.WeekStart.ISOWeek()
	month := int(r.WeekStart.Month())

	var orderAvg *float64
	if lag1 != nil && *lag1 > 0 {
		orderAvg = ratio(amountLag1, lag1, nil)
	}

	cv4 := stats.Ptr(0)
	if ma4 != nil && *ma4 > 0 {
		cv4 = ratio(std4, ma4, nil)
	}

	return domain.WeeklyFeatures{
		ProductID: r.ProductID,
		YearWeek:  r.YearWeek,
		WeekStart: r.WeekStart,

		OrderQtyLag1:  round6(lag1),
		OrderQtyLag2:  round6(q.lag(i, 2)),
		OrderQtyLag4:  round6(q.lag(i, 4)),
		OrderQtyLag8:  round6(q.lag(i, 8)),
		OrderQtyLag13: round6(q.lag(i, 13)),
		OrderQtyLag26: round6(q.lag(i, 26)),
		OrderQtyLag52: round6(q.lag(i, 52)),
		OrderQtyMA4:   round6(ma4),
		OrderQtyMA13:  round6(q.mean(i, 1, 13)),
		OrderQtyMA26:  round6(q.mean(i, 1, 26)),

		OrderCountLag1:  round6(h.orderCount.lag(i, 1)),
		OrderCountMA4:   round6(h.orderCount.mean(i, 1, 4)),
		OrderAmountLag1: round6(amountLag1),

		OrderQtyRoc4w:  round6(roc(ma4, q.mean(i, 5, 4))),
		OrderQtyRoc13w: round6(roc(ma4, q.mean(i, 14, 4))),
		OrderQtyDiff1w: round6(sub(lag1, q.lag(i, 2))),
		OrderQtyDiff4w: round6(sub(lag1, q.lag(i, 5))),

		OrderQtyStd4:      round6(std4),
		OrderQtyStd13:     round6(q.std(i, 1, 13)),
		OrderQtyCV4:       round6(cv4),
		OrderQtyMax4:      round6(q.max(i, 1, 4)),
		OrderQtyMin4:      round6(q.min(i, 1, 4)),
		OrderQtyNonzero4w: q.nonzero(i, 1, 4),
		OrderQtyNonzero13: q.nonzero(i, 1, 13),

		RevenueQtyLag1:  round6(h.revenueQty.lag(i, 1)),
		RevenueQtyMA4:   round6(h.revenueQty.mean(i, 1, 4)),
		ProducedQtyLag1: round6(h.producedQty.lag(i, 1)),
		ProducedQtyMA4:  round6(h.producedQty.mean(i, 1, 4)),
		AvgLeadDays:     round6(sup.leadDays(r.ProductID, r.WeekStart)),
		BookToBill4w:    round6(ratio(q.sum(i, 1, 4), h.revenueQty.sum(i, 1, 4), stats.Ptr(1))),

		CustomerCountLag1: round6(h.customers.lag(i, 1)),
		CustomerCountMA4:  round6(h.customers.mean(i, 1, 4)),

		AvgUnitPrice:  round6(sup.unitPrice(r.ProductID, r.WeekStart)),
		OrderAvgValue: round6(orderAvg),

		WeekNum:       week,
		Month:         month,
		Quarter:       (month-1)/3 + 1,
		IsHolidayWeek: holidayWeeks[week],
		IsYearEnd:     week >= 51,

		Target1w: round6(q.ahead(i, 1)),
		Target2w: round6(q.ahead(i, 2)),
		Target4w: round6(q.ahead(i, 4)),
	}
}
