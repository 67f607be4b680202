package purchase

import (
	"sort"

	"github.com/andresuchdata/controltower/internal/config"
	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/andresuchdata/controltower/internal/stats"
)

// neutralScore stands in for a metric a supplier has no history for.
const neutralScore = 0.5

// SupplierProfile summarizes one supplier's history for one component.
type SupplierProfile struct {
	Code       string
	Name       string
	AvgLead    *float64 // fulfilled POs only
	AvgPrice   *float64
	OnTimeRate *float64
	Samples    int
}

// Profiles groups POs by component and supplier. Suppliers with neither a
// lead time nor a price are dropped. Each component's list is sorted by code.
func Profiles(pos []domain.PurchaseOrder, suppliers []domain.Supplier, onTimeDays int) map[string][]SupplierProfile {
	names := make(map[string]string, len(suppliers))
	for _, s := range suppliers {
		names[s.Code] = s.Name
	}

	type history struct {
		leads  []float64
		prices []float64
		onTime int
	}
	byComp := make(map[string]map[string]*history)
	for _, po := range pos {
		if po.ComponentProductID == "" || po.SupplierCode == "" {
			continue
		}
		sups := byComp[po.ComponentProductID]
		if sups == nil {
			sups = make(map[string]*history)
			byComp[po.ComponentProductID] = sups
		}
		h := sups[po.SupplierCode]
		if h == nil {
			h = &history{}
			sups[po.SupplierCode] = h
		}
		if po.UnitPrice != nil && *po.UnitPrice != 0 {
			h.prices = append(h.prices, *po.UnitPrice)
		}
		if !po.Fulfilled() {
			continue
		}
		if days, ok := po.LeadDays(); ok {
			h.leads = append(h.leads, days)
			if days <= float64(onTimeDays) {
				h.onTime++
			}
		}
	}

	out := make(map[string][]SupplierProfile, len(byComp))
	for comp, sups := range byComp {
		var list []SupplierProfile
		for code, h := range sups {
			if len(h.leads) == 0 && len(h.prices) == 0 {
				continue
			}
			p := SupplierProfile{Code: code, Name: names[code], Samples: len(h.leads)}
			if p.Name == "" {
				p.Name = code
			}
			if len(h.leads) > 0 {
				p.AvgLead = stats.Ptr(stats.Mean(h.leads))
				p.OnTimeRate = stats.Ptr(float64(h.onTime) / float64(len(h.leads)))
			}
			if len(h.prices) > 0 {
				p.AvgPrice = stats.Ptr(stats.Mean(h.prices))
			}
			list = append(list, p)
		}
		if len(list) == 0 {
			continue
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Code < list[j].Code })
		out[comp] = list
	}
	return out
}

// Scored is a supplier with its weighted score in [0, 1]. Score is nil when
// the component has a single supplier and there is nothing to rank.
type Scored struct {
	SupplierProfile
	Score *float64
}

// RankSuppliers scores lead time and price by min-max position (lower is
// better) and reliability by on-time rate, best first. Ties keep input order.
func RankSuppliers(profiles []SupplierProfile, w config.SupplierWeights) []Scored {
	if len(profiles) == 1 {
		return []Scored{{SupplierProfile: profiles[0]}}
	}

	var leads, prices []float64
	for _, p := range profiles {
		if p.AvgLead != nil {
			leads = append(leads, *p.AvgLead)
		}
		if p.AvgPrice != nil {
			prices = append(prices, *p.AvgPrice)
		}
	}
	leadMin, leadRange := spread(leads)
	priceMin, priceRange := spread(prices)

	out := make([]Scored, len(profiles))
	for i, p := range profiles {
		lead, price, rel := neutralScore, neutralScore, neutralScore
		if p.AvgLead != nil {
			lead = 1 - (*p.AvgLead-leadMin)/leadRange
		}
		if p.AvgPrice != nil {
			price = 1 - (*p.AvgPrice-priceMin)/priceRange
		}
		if p.OnTimeRate != nil {
			rel = *p.OnTimeRate
		}
		out[i] = Scored{SupplierProfile: p, Score: stats.Ptr(w.LeadTime*lead + w.UnitPrice*price + w.Reliability*rel)}
	}
	sort.SliceStable(out, func(i, j int) bool { return *out[i].Score > *out[j].Score })
	return out
}

// spread returns the minimum and the range of xs. A degenerate or empty
// range is 1.
func spread(xs []float64) (lo, width float64) {
	if len(xs) == 0 {
		return 0, 1
	}
	lo, hi := stats.Min(xs), stats.Max(xs)
	if hi == lo {
		return lo, 1
	}
	return lo, hi - lo
}
