package features

import (
	"sort"
	"time"

	"github.com/andresuchdata/controltower/internal/aggregation"
	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/andresuchdata/controltower/internal/stats"
)

// MinMonthlyRows is the history a product needs to enter the monthly store.
const MinMonthlyRows = 6

type MonthlyInputs struct {
	Products   []domain.MonthlyProductSummary
	Customers  []domain.MonthlyCustomerSummary
	Inventory  []domain.InventorySnapshot
	POs        []domain.PurchaseOrder
	Indicators []domain.EconomicIndicator
	Rates      []domain.ExchangeRate
	Trade      []domain.TradeStatistic
}

// BuildMonthly derives feature_store_monthly rows with the same one-period
// lag on joined values as BuildWeekly.
func BuildMonthly(in MonthlyInputs) []domain.MonthlyFeatures {
	byProduct := map[string][]domain.MonthlyProductSummary{}
	monthSet := map[string]bool{}
	for _, r := range in.Products {
		byProduct[r.ProductID] = append(byProduct[r.ProductID], r)
	}
	products := make([]string, 0, len(byProduct))
	for p := range byProduct {
		products = append(products, p)
		byProduct[p] = denseMonths(byProduct[p])
		for _, r := range byProduct[p] {
			monthSet[r.YearMonth] = true
		}
	}
	sort.Strings(products)
	months := make([]string, 0, len(monthSet))
	for m := range monthSet {
		months = append(months, m)
	}
	sort.Strings(months)

	shares := monthlyShares(in.Customers)
	inventory := monthlyInventory(in.Inventory)
	sup := newSupply(in.POs)
	ext := monthlyExternal(months, in.Indicators, in.Rates, in.Trade)

	var out []domain.MonthlyFeatures
	for _, p := range products {
		rows := byProduct[p]
		if len(rows)-1 < MinMonthlyRows {
			continue
		}

		var h history
		for _, r := range rows {
			h.add(r.PeriodTotals, r.ProducedQty, r.CustomerCount)
		}

		for i := 1; i < len(rows); i++ {
			prev := rows[i-1]
			f := monthlyRow(rows[i], h, i, sup)

			if c, ok := shares[key{p, prev.YearMonth}]; ok {
				f.Top1CustomerPct = stats.Ptr(c.top1)
				f.Top3CustomerPct = stats.Ptr(c.top3)
				f.CustomerHHI = stats.Ptr(c.hhi)
			}
			if inv, ok := inventory[key{p, prev.YearMonth}]; ok {
				f.InventoryQty = round6(stats.Ptr(inv))
				f.InventoryMonths = round6(ratio(f.InventoryQty, f.OrderQtyMA3, nil))
			}
			if j, ok := ext.index[rows[i].YearMonth]; ok && j > 0 {
				f.External = ext.external(j - 1)
				f.External.BalticDryIndex = nil
				f.External.CopperLME = nil
				f.SoxRoc3m = round6(ext.roc("sox_index", j-1, 3))
				f.DramRoc3m = round6(ext.roc("dram_price", j-1, 3))
				f.UsdKrwRoc3m = round6(ext.roc("usd_krw", j-1, 3))
			}
			out = append(out, f)
		}
	}
	return out
}

// denseMonths orders one product's summaries and inserts a zero row for
// every month between its first and last month.
func denseMonths(rows []domain.MonthlyProductSummary) []domain.MonthlyProductSummary {
	byMonth := make(map[string]domain.MonthlyProductSummary, len(rows))
	var first, last time.Time
	for _, r := range rows {
		start := MonthStart(r.YearMonth)
		if start.IsZero() {
			continue
		}
		r.YearMonth = aggregation.YearMonth(start)
		byMonth[r.YearMonth] = r
		if first.IsZero() || start.Before(first) {
			first = start
		}
		if start.After(last) {
			last = start
		}
	}
	if len(byMonth) == 0 {
		return nil
	}

	out := make([]domain.MonthlyProductSummary, 0, len(byMonth))
	for m := first; !m.After(last); m = m.AddDate(0, 1, 0) {
		ym := aggregation.YearMonth(m)
		r, ok := byMonth[ym]
		if !ok {
			r = domain.MonthlyProductSummary{ProductID: rows[0].ProductID, YearMonth: ym}
		}
		out = append(out, r)
	}
	return out
}

// MonthStart parses "2006-01" to the first day of that month.
func MonthStart(yearMonth string) time.Time {
	t, err := time.Parse("2006-01", normalizeMonth(yearMonth))
	if err != nil {
		return time.Time{}
	}
	return t
}

func monthlyRow(r domain.MonthlyProductSummary, h history, i int, sup supply) domain.MonthlyFeatures {
	q := h.orderQty
	ma3 := q.mean(i, 1, 3)
	std3 := q.std(i, 1, 3)
	lag1 := q.lag(i, 1)
	amountLag1 := h.orderAmount.lag(i, 1)

	start := MonthStart(r.YearMonth)
	month := int(start.Month())

	var orderAvg *float64
	if lag1 != nil && *lag1 > 0 {
		orderAvg = ratio(amountLag1, lag1, nil)
	}
	cv3 := stats.Ptr(0)
	if ma3 != nil && *ma3 > 0 {
		cv3 = ratio(std3, ma3, nil)
	}

	return domain.MonthlyFeatures{
		ProductID:  r.ProductID,
		YearMonth:  r.YearMonth,
		MonthStart: start,

		OrderQtyLag1:  round6(lag1),
		OrderQtyLag2:  round6(q.lag(i, 2)),
		OrderQtyLag3:  round6(q.lag(i, 3)),
		OrderQtyLag6:  round6(q.lag(i, 6)),
		OrderQtyLag12: round6(q.lag(i, 12)),
		OrderQtyMA3:   round6(ma3),
		OrderQtyMA6:   round6(q.mean(i, 1, 6)),
		OrderQtyMA12:  round6(q.mean(i, 1, 12)),

		OrderCountLag1:  round6(h.orderCount.lag(i, 1)),
		OrderAmountLag1: round6(amountLag1),

		OrderQtyRoc3m:  round6(roc(ma3, q.mean(i, 4, 3))),
		OrderQtyRoc6m:  round6(roc(ma3, q.mean(i, 7, 3))),
		OrderQtyDiff1m: round6(sub(lag1, q.lag(i, 2))),
		OrderQtyDiff3m: round6(sub(lag1, q.lag(i, 4))),

		OrderQtyStd3:      round6(std3),
		OrderQtyStd6:      round6(q.std(i, 1, 6)),
		OrderQtyCV3:       round6(cv3),
		OrderQtyMax3:      round6(q.max(i, 1, 3)),
		OrderQtyMin3:      round6(q.min(i, 1, 3)),
		OrderQtyNonzero3m: q.nonzero(i, 1, 3),
		OrderQtyNonzero6m: q.nonzero(i, 1, 6),

		RevenueQtyLag1:  round6(h.revenueQty.lag(i, 1)),
		RevenueQtyMA3:   round6(h.revenueQty.mean(i, 1, 3)),
		ProducedQtyLag1: round6(h.producedQty.lag(i, 1)),
		ProducedQtyMA3:  round6(h.producedQty.mean(i, 1, 3)),
		AvgLeadDays:     round6(sup.leadDays(r.ProductID, start)),
		BookToBill3m:    round6(ratio(q.sum(i, 1, 3), h.revenueQty.sum(i, 1, 3), stats.Ptr(1))),

		CustomerCountLag1: round6(h.customers.lag(i, 1)),
		CustomerCountMA3:  round6(h.customers.mean(i, 1, 3)),

		AvgUnitPrice:  round6(sup.unitPrice(r.ProductID, start)),
		OrderAvgValue: round6(orderAvg),

		Month:     month,
		Quarter:   (month-1)/3 + 1,
		IsYearEnd: month >= 11,

		Target1m: round6(q.ahead(i, 1)),
		Target3m: round6(q.ahead(i, 3)),
		Target6m: round6(q.ahead(i, 6)),
	}
}
