// Package stockpolicy computes the inventory position metrics shared by risk
// scoring, production planning and purchasing.
package stockpolicy

import "math"

// Position is one item's stock situation.
type Position struct {
	OnHand      float64
	DailyDemand float64
	AvgLeadDays float64
	P90LeadDays float64
}

// Metrics are the derived replenishment figures for a Position.
type Metrics struct {
	SafetyStock  float64
	ReorderPoint float64
	DaysCover    *float64 // nil without demand
	MonthsSupply *float64 // nil without demand
}

// Calculate derives safety stock, reorder point and cover for p.
func Calculate(p Position) Metrics {
	m := Metrics{
		SafetyStock: SafetyStock(p.DailyDemand, p.P90LeadDays),
	}
	m.ReorderPoint = ReorderPoint(p.DailyDemand, p.AvgLeadDays, m.SafetyStock)

	if p.DailyDemand > 0 {
		days := p.OnHand / p.DailyDemand
		months := p.OnHand / (p.DailyDemand * 30)
		m.DaysCover = &days
		m.MonthsSupply = &months
	}
	return m
}

// SafetyStock sizes the buffer as p90 lead time times daily demand.
func SafetyStock(dailyDemand, p90LeadDays float64) float64 {
	return math.Max(0, p90LeadDays*dailyDemand)
}

// ReorderPoint is lead-time demand plus safety stock, never negative.
func ReorderPoint(dailyDemand, avgLeadDays, safetyStock float64) float64 {
	return math.Max(0, dailyDemand*avgLeadDays+safetyStock)
}

// NetRequirement is what must be added to cover demand plus safety stock.
func NetRequirement(demand, safetyStock, onHand float64) float64 {
	return math.Max(0, demand+safetyStock-onHand)
}
