package stockpolicy

import (
	"time"

	"github.com/andresuchdata/controltower/internal/domain"
)

// DailyDemand is each product's ordered quantity since the cutoff divided by
// the number of distinct days it was ordered on.
func DailyDemand(orders []domain.DailyOrder, since time.Time) map[string]float64 {
	since = domain.DateOnly(since)
	total := make(map[string]float64)
	days := make(map[string]map[time.Time]struct{})
	for _, o := range orders {
		d := domain.DateOnly(o.OrderDate)
		if d.Before(since) {
			continue
		}
		total[o.ProductID] += o.OrderQty
		if days[o.ProductID] == nil {
			days[o.ProductID] = make(map[time.Time]struct{})
		}
		days[o.ProductID][d] = struct{}{}
	}

	out := make(map[string]float64, len(total))
	for pid, qty := range total {
		out[pid] = qty / float64(len(days[pid]))
	}
	return out
}

// LeadTimes resolves a product's average and p90 lead days from the
// aggregate product_lead_time rows, with defaults for unknown products.
type LeadTimes struct {
	byProduct  map[string]domain.LeadTimeStat
	defaultAvg float64
	defaultP90 float64
}

func NewLeadTimes(rows []domain.LeadTimeStat, defaultAvg, defaultP90 float64) LeadTimes {
	l := LeadTimes{
		byProduct:  make(map[string]domain.LeadTimeStat, len(rows)),
		defaultAvg: defaultAvg,
		defaultP90: defaultP90,
	}
	for _, r := range rows {
		if r.SupplierCode != "" && r.SupplierCode != domain.SupplierAll {
			continue
		}
		if cur, ok := l.byProduct[r.ProductID]; !ok || r.CalcDate.After(cur.CalcDate) {
			l.byProduct[r.ProductID] = r
		}
	}
	return l
}

// For returns the average and p90 lead days of product.
func (l LeadTimes) For(product string) (avg, p90 float64) {
	r, ok := l.byProduct[product]
	if !ok {
		return l.defaultAvg, l.defaultP90
	}
	return r.AvgLeadDays, r.P90LeadDays
}

// Known reports whether product has measured lead times.
func (l LeadTimes) Known(product string) bool {
	_, ok := l.byProduct[product]
	return ok
}

// Forecasts indexes forward forecasts by product and horizon days.
type Forecasts map[string]map[int]domain.Forecast

// IndexForecasts keeps the newest forecast per product and horizon.
func IndexForecasts(rows []domain.Forecast) Forecasts {
	out := make(Forecasts)
	for _, r := range rows {
		byHorizon := out[r.ProductID]
		if byHorizon == nil {
			byHorizon = make(map[int]domain.Forecast)
			out[r.ProductID] = byHorizon
		}
		if cur, ok := byHorizon[r.HorizonDays]; !ok || r.ForecastDate.After(cur.ForecastDate) {
			byHorizon[r.HorizonDays] = r
		}
	}
	return out
}

// Pick returns the first available forecast among horizons, in order.
func (f Forecasts) Pick(product string, horizons ...int) (domain.Forecast, bool) {
	byHorizon := f[product]
	for _, h := range horizons {
		if fc, ok := byHorizon[h]; ok {
			return fc, true
		}
	}
	return domain.Forecast{}, false
}
