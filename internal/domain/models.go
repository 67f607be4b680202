// internal/domain/models.go
package domain

import "time"

// DailyOrder is one order line as recorded by the operational system.
type DailyOrder struct {
	OrderDate            time.Time  `json:"order_date" db:"order_date"`
	CustomerID           string     `json:"customer_id" db:"customer_id"`
	ProductID            string     `json:"product_id" db:"product_id"`
	OrderQty             float64    `json:"order_qty" db:"order_qty"`
	OrderAmount          float64    `json:"order_amount" db:"order_amount"`
	ExpectedDeliveryDate *time.Time `json:"expected_delivery_date,omitempty" db:"expected_delivery_date"`
	Status               string     `json:"status" db:"status"`
}

// IsOpen reports whether the order is still waiting for delivery.
func (o DailyOrder) IsOpen() bool {
	return o.Status == OrderStatusOpen && o.ExpectedDeliveryDate != nil
}

// DailyRevenue is a shipment (revenue recognition) line.
type DailyRevenue struct {
	RevenueDate   time.Time `json:"revenue_date" db:"revenue_date"`
	CustomerID    string    `json:"customer_id" db:"customer_id"`
	ProductID     string    `json:"product_id" db:"product_id"`
	Quantity      float64   `json:"quantity" db:"quantity"`
	RevenueAmount float64   `json:"revenue_amount" db:"revenue_amount"`
}

type DailyProduction struct {
	ProductionDate time.Time `json:"production_date" db:"production_date"`
	ProductID      string    `json:"product_id" db:"product_id"`
	ProducedQty    float64   `json:"produced_qty" db:"produced_qty"`
}

// InventorySnapshot is a monthly physical count. SnapshotDate is YYYYMM.
type InventorySnapshot struct {
	SnapshotDate  string  `json:"snapshot_date" db:"snapshot_date"`
	ProductID     string  `json:"product_id" db:"product_id"`
	WarehouseCode string  `json:"warehouse_code" db:"warehouse_code"`
	InventoryQty  float64 `json:"inventory_qty" db:"inventory_qty"`
}

// PurchaseOrder is a component purchase order line.
type PurchaseOrder struct {
	ComponentProductID string     `json:"component_product_id" db:"component_product_id"`
	SupplierCode       string     `json:"cd_partner" db:"cd_partner"`
	PODate             *time.Time `json:"po_date,omitempty" db:"po_date"`
	ReceiptDate        *time.Time `json:"receipt_date,omitempty" db:"receipt_date"`
	POQty              float64    `json:"po_qty" db:"po_qty"`
	UnitPrice          *float64   `json:"unit_price,omitempty" db:"unit_price"`
	Status             string     `json:"status" db:"status"`
}

// Fulfilled reports whether the PO has been received.
func (p PurchaseOrder) Fulfilled() bool {
	return p.Status == POStatusFulfilled
}

// LeadDays returns receipt minus order date in whole days. ok is false when
// either date is missing or the span is negative.
func (p PurchaseOrder) LeadDays() (days float64, ok bool) {
	if p.PODate == nil || p.ReceiptDate == nil {
		return 0, false
	}
	d := DaysBetween(*p.PODate, *p.ReceiptDate)
	if d < 0 {
		return 0, false
	}
	return float64(d), true
}

// BOMLine states how many units of a component one parent unit consumes.
type BOMLine struct {
	ParentProductID    string  `json:"parent_product_id" db:"parent_product_id"`
	ComponentProductID string  `json:"component_product_id" db:"component_product_id"`
	UsageQty           float64 `json:"usage_qty" db:"usage_qty"`
}

type Supplier struct {
	Code string `json:"customer_code" db:"customer_code"`
	Name string `json:"customer_name" db:"customer_name"`
}

type Product struct {
	Code string `json:"product_code" db:"product_code"`
	Name string `json:"product_name" db:"product_name"`
}

// EconomicIndicator is a harvested market or macro observation.
type EconomicIndicator struct {
	Source        string    `json:"source" db:"source"`
	IndicatorCode string    `json:"indicator_code" db:"indicator_code"`
	Date          time.Time `json:"date" db:"date"`
	Value         *float64  `json:"value" db:"value"`
}

type ExchangeRate struct {
	BaseCurrency string    `json:"base_currency" db:"base_currency"`
	RateDate     time.Time `json:"rate_date" db:"rate_date"`
	Rate         *float64  `json:"rate" db:"rate"`
}

// TradeStatistic is a monthly export/import figure for one HS code.
type TradeStatistic struct {
	HSCode       string  `json:"hs_code" db:"hs_code"`
	YearMonth    string  `json:"year_month" db:"year_month"`
	ExportAmount float64 `json:"export_amount" db:"export_amount"`
	ImportAmount float64 `json:"import_amount" db:"import_amount"`
}

// DateOnly truncates t to midnight UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(DateOnly(b).Sub(DateOnly(a)).Hours() / 24)
}
