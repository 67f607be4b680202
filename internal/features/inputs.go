package features

import (
	"sort"
	"strings"
	"time"

	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/andresuchdata/controltower/internal/stats"
)

type key struct {
	product string
	period  string
}

type concentration struct {
	top1 float64
	top3 float64
	hhi  float64
}

// customerShares computes top-1/top-3 share (percent) and HHI of order qty
// per (product, period). A period without positive volume scores zero.
func customerShares(qty map[key]map[string]float64) map[key]concentration {
	out := make(map[key]concentration, len(qty))
	for k, byCustomer := range qty {
		total := 0.0
		shares := make([]float64, 0, len(byCustomer))
		for _, q := range byCustomer {
			total += q
			shares = append(shares, q)
		}
		if total <= 0 {
			out[k] = concentration{}
			continue
		}
		sort.Sort(sort.Reverse(sort.Float64Slice(shares)))
		var c concentration
		for i, q := range shares {
			s := q / total
			c.hhi += s * s
			if i == 0 {
				c.top1 = s * 100
			}
			if i < 3 {
				c.top3 += s * 100
			}
		}
		out[k] = concentration{
			top1: stats.Round(c.top1, 2),
			top3: stats.Round(c.top3, 2),
			hhi:  stats.Round(c.hhi, 4),
		}
	}
	return out
}

func weeklyShares(rows []domain.WeeklyCustomerSummary) map[key]concentration {
	qty := map[key]map[string]float64{}
	for _, r := range rows {
		k := key{r.ProductID, r.YearWeek}
		if qty[k] == nil {
			qty[k] = map[string]float64{}
		}
		qty[k][r.CustomerID] += r.OrderQty
	}
	return customerShares(qty)
}

func monthlyShares(rows []domain.MonthlyCustomerSummary) map[key]concentration {
	qty := map[key]map[string]float64{}
	for _, r := range rows {
		k := key{r.ProductID, r.YearMonth}
		if qty[k] == nil {
			qty[k] = map[string]float64{}
		}
		qty[k][r.CustomerID] += r.OrderQty
	}
	return customerShares(qty)
}

// observation is one dated purchase-order measurement.
type observation struct {
	at time.Time
	v  float64
}

// supply holds each product's lead-time and price observations sorted by
// the date they became known: receipt for lead time, order date for price.
type supply struct {
	leads  map[string][]observation
	prices map[string][]observation
}

func newSupply(pos []domain.PurchaseOrder) supply {
	s := supply{leads: map[string][]observation{}, prices: map[string][]observation{}}
	for _, po := range pos {
		p := po.ComponentProductID
		if p == "" {
			continue
		}
		if days, ok := po.LeadDays(); ok && po.Fulfilled() {
			s.leads[p] = append(s.leads[p], observation{domain.DateOnly(*po.ReceiptDate), days})
		}
		if po.PODate != nil && po.UnitPrice != nil && *po.UnitPrice != 0 {
			s.prices[p] = append(s.prices[p], observation{domain.DateOnly(*po.PODate), *po.UnitPrice})
		}
	}
	for _, m := range []map[string][]observation{s.leads, s.prices} {
		for _, obs := range m {
			sort.Slice(obs, func(i, j int) bool { return obs[i].at.Before(obs[j].at) })
		}
	}
	return s
}

// leadDays is the mean lead time of orders received before start.
func (s supply) leadDays(product string, start time.Time) *float64 {
	return meanBefore(s.leads[product], start)
}

// unitPrice is the mean price of orders placed before start.
func (s supply) unitPrice(product string, start time.Time) *float64 {
	return meanBefore(s.prices[product], start)
}

func meanBefore(obs []observation, start time.Time) *float64 {
	n := sort.Search(len(obs), func(i int) bool { return !obs[i].at.Before(start) })
	if n == 0 {
		return nil
	}
	vs := make([]float64, n)
	for i := range vs {
		vs[i] = obs[i].v
	}
	return stats.Ptr(stats.Mean(vs))
}

// normalizeMonth turns "202401" into "2024-01"; "2024-01" passes through.
func normalizeMonth(s string) string {
	s = strings.TrimSpace(s)
	if len(s) == 6 && !strings.Contains(s, "-") {
		return s[:4] + "-" + s[4:]
	}
	if len(s) > 7 {
		return s[:7]
	}
	return s
}

// monthlyInventory sums snapshot quantity across warehouses per (product, year-month).
func monthlyInventory(snaps []domain.InventorySnapshot) map[key]float64 {
	out := map[key]float64{}
	for _, s := range snaps {
		out[key{s.ProductID, normalizeMonth(s.SnapshotDate)}] += s.InventoryQty
	}
	return out
}
