package domain

import "time"

// CalendarWeek is an ISO week. YearMonth and Quarter follow the week's Thursday.
type CalendarWeek struct {
	YearWeek  string    `json:"year_week" db:"year_week"`
	Year      int       `json:"year" db:"year"`
	WeekNum   int       `json:"week_num" db:"week_num"`
	WeekStart time.Time `json:"week_start" db:"week_start"`
	WeekEnd   time.Time `json:"week_end" db:"week_end"`
	YearMonth string    `json:"year_month" db:"year_month"`
	Quarter   int       `json:"quarter" db:"quarter"`
}

// PeriodTotals are the additive measures shared by every summary table.
type PeriodTotals struct {
	OrderQty      float64 `json:"order_qty" db:"order_qty"`
	OrderAmount   float64 `json:"order_amount" db:"order_amount"`
	OrderCount    int     `json:"order_count" db:"order_count"`
	RevenueQty    float64 `json:"revenue_qty" db:"revenue_qty"`
	RevenueAmount float64 `json:"revenue_amount" db:"revenue_amount"`
	RevenueCount  int     `json:"revenue_count" db:"revenue_count"`
}

type WeeklyProductSummary struct {
	ProductID string    `json:"product_id" db:"product_id"`
	YearWeek  string    `json:"year_week" db:"year_week"`
	WeekStart time.Time `json:"week_start" db:"week_start"`
	WeekEnd   time.Time `json:"week_end" db:"week_end"`
	PeriodTotals
	ProducedQty     float64 `json:"produced_qty" db:"produced_qty"`
	ProductionCount int     `json:"production_count" db:"production_count"`
	CustomerCount   int     `json:"customer_count" db:"customer_count"`
}

type WeeklyCustomerSummary struct {
	ProductID  string    `json:"product_id" db:"product_id"`
	CustomerID string    `json:"customer_id" db:"customer_id"`
	YearWeek   string    `json:"year_week" db:"year_week"`
	WeekStart  time.Time `json:"week_start" db:"week_start"`
	WeekEnd    time.Time `json:"week_end" db:"week_end"`
	PeriodTotals
}

type MonthlyProductSummary struct {
	ProductID string `json:"product_id" db:"product_id"`
	YearMonth string `json:"year_month" db:"year_month"`
	PeriodTotals
	ProducedQty     float64 `json:"produced_qty" db:"produced_qty"`
	ProductionCount int     `json:"production_count" db:"production_count"`
	CustomerCount   int     `json:"customer_count" db:"customer_count"`
}

type MonthlyCustomerSummary struct {
	ProductID  string `json:"product_id" db:"product_id"`
	CustomerID string `json:"customer_id" db:"customer_id"`
	YearMonth  string `json:"year_month" db:"year_month"`
	PeriodTotals
}

// InventoryEstimate projects stock for one product on one day.
// EstimatedQty = SnapshotBase + CumulProduced - CumulShipped.
type InventoryEstimate struct {
	ProductID     string    `json:"product_id" db:"product_id"`
	TargetDate    time.Time `json:"target_date" db:"target_date"`
	SnapshotBase  float64   `json:"snapshot_base" db:"snapshot_base"`
	CumulProduced float64   `json:"cumul_produced" db:"cumul_produced"`
	CumulShipped  float64   `json:"cumul_shipped" db:"cumul_shipped"`
	EstimatedQty  float64   `json:"estimated_qty" db:"estimated_qty"`
}

// SupplierAll marks the per-product aggregate lead-time row.
const SupplierAll = "ALL"

type LeadTimeStat struct {
	ProductID    string    `json:"product_id" db:"product_id"`
	SupplierCode string    `json:"supplier_code" db:"supplier_code"`
	CalcDate     time.Time `json:"calc_date" db:"calc_date"`
	AvgLeadDays  float64   `json:"avg_lead_days" db:"avg_lead_days"`
	MedLeadDays  float64   `json:"med_lead_days" db:"med_lead_days"`
	P90LeadDays  float64   `json:"p90_lead_days" db:"p90_lead_days"`
	MinLeadDays  float64   `json:"min_lead_days" db:"min_lead_days"`
	MaxLeadDays  float64   `json:"max_lead_days" db:"max_lead_days"`
	SampleCount  int       `json:"sample_count" db:"sample_count"`
}
