package risk

import (
	"sort"
	"time"

	"github.com/andresuchdata/controltower/internal/config"
	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/andresuchdata/controltower/internal/stats"
	"github.com/andresuchdata/controltower/internal/stockpolicy"
	"github.com/shopspring/decimal"
)

// Forecast horizons, in days, tried in order for the demand columns.
var demandHorizons = []int{28, 30, 14, 7}

// Inputs are the tables one risk evaluation reads.
type Inputs struct {
	Forecasts  []domain.Forecast
	Inventory  map[string]float64
	LeadTimes  []domain.LeadTimeStat
	OpenOrders []domain.DailyOrder
	Orders     []domain.DailyOrder // at least the demand lookback window
	BOM        []domain.BOMLine
	POs        []domain.PurchaseOrder
	Revenues   []domain.DailyRevenue
}

// Evaluate scores every product that has a forecast, an inventory count or
// recent demand. A missing signal zeroes the sub-score that needs it.
func Evaluate(in Inputs, cfg config.RiskConfig, today time.Time) []domain.RiskScore {
	today = domain.DateOnly(today)
	forecasts := stockpolicy.IndexForecasts(in.Forecasts)
	demand := stockpolicy.DailyDemand(in.Orders, today.AddDate(0, 0, -cfg.DemandLookback))
	leads := stockpolicy.NewLeadTimes(in.LeadTimes, cfg.DefaultLeadAvg, cfg.DefaultLeadP90)
	deliveries := openDeliveries(in.OpenOrders)
	margins := Margins(in.BOM, in.POs, in.Revenues)

	products := make(map[string]struct{})
	for pid := range forecasts {
		products[pid] = struct{}{}
	}
	for pid := range in.Inventory {
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

	out := make([]domain.RiskScore, 0, len(ids))
	for _, pid := range ids {
		inv := in.Inventory[pid]
		avgDemand := demand[pid]
		leadAvg, leadP90 := leads.For(pid)
		pos := stockpolicy.Calculate(stockpolicy.Position{
			OnHand:      inv,
			DailyDemand: avgDemand,
			AvgLeadDays: leadAvg,
			P90LeadDays: leadP90,
		})

		r := domain.RiskScore{
			ProductID:    pid,
			EvalDate:     today,
			StockoutRisk: Stockout(inv, avgDemand, leadP90),
			ExcessRisk:   Excess(inv, avgDemand),
			DeliveryRisk: Delivery(deliveries[pid], today, leadAvg),
			MarginRisk:   Margin(margins[pid]),
			InventoryQty: inv,
			DemandP50:    stats.Round(avgDemand*30, 6),
			DemandP90:    stats.Round(avgDemand*30, 6),
			SafetyStock:  stats.Round(pos.SafetyStock, 6),
		}
		if fc, ok := forecasts.Pick(pid, demandHorizons...); ok {
			r.DemandP50 = stats.Round(fc.P50, 6)
			r.DemandP90 = stats.Round(fc.P90, 6)
		}
		if pos.DaysCover != nil {
			r.InventoryDays = stats.Ptr(stats.Round(*pos.DaysCover, 2))
		}

		r.TotalRisk = Total(r, cfg.Weights)
		r.RiskGrade = Grade(r.TotalRisk, cfg.Grades)

		r.StockoutRisk = stats.Round(r.StockoutRisk, 2)
		r.ExcessRisk = stats.Round(r.ExcessRisk, 2)
		r.DeliveryRisk = stats.Round(r.DeliveryRisk, 2)
		r.MarginRisk = stats.Round(r.MarginRisk, 2)
		out = append(out, r)
	}
	return out
}

// Total is the weighted sum of the four sub-scores, clamped to [0, 100].
func Total(r domain.RiskScore, w config.RiskWeights) float64 {
	total := r.StockoutRisk*w.Stockout +
		r.ExcessRisk*w.Excess +
		r.DeliveryRisk*w.Delivery +
		r.MarginRisk*w.Margin
	return stats.Round(stats.Clamp(total, 0, 100), 2)
}

func clamp(v float64) float64 {
	return stats.Clamp(v, 0, 100)
}

// Stockout scores how far cover falls short of the p90 lead time.
func Stockout(inv, dailyDemand, leadP90 float64) float64 {
	if dailyDemand <= 0 {
		return 0
	}
	if inv <= 0 {
		return 100
	}

	days := inv / dailyDemand
	safety := stockpolicy.SafetyStock(dailyDemand, leadP90)
	switch {
	case leadP90 > 0 && days < leadP90:
		return clamp(80 + (leadP90-days)/leadP90*20)
	case inv < safety:
		return clamp(50 + (safety-inv)/safety*30)
	case leadP90 > 0 && days < 2*leadP90:
		return clamp(30 * (1 - (days-leadP90)/leadP90))
	}
	return 0
}

// Excess scores months of supply above two months. Stock with no demand at
// all earns a flat warning score.
func Excess(inv, dailyDemand float64) float64 {
	if dailyDemand <= 0 {
		if inv > 0 {
			return 30
		}
		return 0
	}

	months := inv / (dailyDemand * 30)
	switch {
	case months > 6:
		return clamp(80 + (months-6)*5)
	case months > 3:
		return clamp(40 + (months-3)*13.3)
	case months > 2:
		return clamp(20 + (months-2)*20)
	}
	return 0
}

// Delivery scores open orders that are overdue, or due sooner than the
// average lead time. Overdue orders take precedence.
func Delivery(due []time.Time, today time.Time, leadAvg float64) float64 {
	var overdue, urgent int
	for _, d := range due {
		remaining := float64(domain.DaysBetween(today, d))
		switch {
		case remaining < 0:
			overdue++
		case remaining < leadAvg:
			urgent++
		}
	}

	switch {
	case overdue > 0:
		return clamp(70 + 5*float64(overdue))
	case urgent > 0:
		return clamp(40 + 8*float64(urgent))
	}
	return 0
}

// Margin scores a thin margin percentage. nil means cost or price is unknown.
func Margin(pct *float64) float64 {
	if pct == nil {
		return 0
	}
	m := *pct
	switch {
	case m < 5:
		return clamp(80 + (5-m)*4)
	case m < 10:
		return clamp(40 + (10-m)*8)
	case m < 20:
		return clamp(10 + (20 - m))
	}
	return 0
}

// Grade maps total to the first grade whose upper bound it does not exceed.
func Grade(total float64, bounds []config.GradeBound) string {
	if len(bounds) == 0 {
		bounds = config.DefaultGradeBounds()
	}
	for _, b := range bounds {
		if total <= b.Upper {
			return b.Grade
		}
	}
	return bounds[len(bounds)-1].Grade
}

func openDeliveries(orders []domain.DailyOrder) map[string][]time.Time {
	out := make(map[string][]time.Time)
	for _, o := range orders {
		if !o.IsOpen() {
			continue
		}
		out[o.ProductID] = append(out[o.ProductID], *o.ExpectedDeliveryDate)
	}
	return out
}

// Margins returns each product's margin percentage: average selling price
// against the BOM cost at average component PO prices. Products lacking
// either side are absent.
func Margins(bom []domain.BOMLine, pos []domain.PurchaseOrder, revenues []domain.DailyRevenue) map[string]*float64 {
	prices := ComponentPrices(pos)

	cost := make(map[string]decimal.Decimal)
	for _, line := range bom {
		price, ok := prices[line.ComponentProductID]
		if !ok {
			continue
		}
		cost[line.ParentProductID] = cost[line.ParentProductID].Add(price.Mul(decimal.NewFromFloat(line.UsageQty)))
	}

	type sale struct{ amount, qty decimal.Decimal }
	sales := make(map[string]sale)
	for _, r := range revenues {
		s := sales[r.ProductID]
		s.amount = s.amount.Add(decimal.NewFromFloat(r.RevenueAmount))
		s.qty = s.qty.Add(decimal.NewFromFloat(r.Quantity))
		sales[r.ProductID] = s
	}

	hundred := decimal.NewFromInt(100)
	out := make(map[string]*float64)
	for pid, c := range cost {
		s, ok := sales[pid]
		if !ok || !s.qty.IsPositive() || !s.amount.IsPositive() {
			continue
		}
		price := s.amount.Div(s.qty)
		pct := price.Sub(c).Div(price).Mul(hundred)
		out[pid] = stats.Ptr(pct.InexactFloat64())
	}
	return out
}

// ComponentPrices averages the non-zero unit prices on each component's POs.
func ComponentPrices(pos []domain.PurchaseOrder) map[string]decimal.Decimal {
	sum := make(map[string]decimal.Decimal)
	count := make(map[string]int64)
	for _, po := range pos {
		if po.ComponentProductID == "" || po.UnitPrice == nil || *po.UnitPrice == 0 {
			continue
		}
		sum[po.ComponentProductID] = sum[po.ComponentProductID].Add(decimal.NewFromFloat(*po.UnitPrice))
		count[po.ComponentProductID]++
	}

	out := make(map[string]decimal.Decimal, len(sum))
	for pid, s := range sum {
		out[pid] = s.Div(decimal.NewFromInt(count[pid]))
	}
	return out
}
