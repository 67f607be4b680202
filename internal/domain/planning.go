package domain

import "time"

// RiskScore is one product's composite risk for an evaluation date.
type RiskScore struct {
	ProductID     string    `json:"product_id" db:"product_id"`
	EvalDate      time.Time `json:"eval_date" db:"eval_date"`
	StockoutRisk  float64   `json:"stockout_risk" db:"stockout_risk"`
	ExcessRisk    float64   `json:"excess_risk" db:"excess_risk"`
	DeliveryRisk  float64   `json:"delivery_risk" db:"delivery_risk"`
	MarginRisk    float64   `json:"margin_risk" db:"margin_risk"`
	TotalRisk     float64   `json:"total_risk" db:"total_risk"`
	RiskGrade     string    `json:"risk_grade" db:"risk_grade"`
	InventoryQty  float64   `json:"inventory_qty" db:"inventory_qty"`
	InventoryDays *float64  `json:"inventory_days" db:"inventory_days"`
	DemandP50     float64   `json:"demand_p50" db:"demand_p50"`
	DemandP90     float64   `json:"demand_p90" db:"demand_p90"`
	SafetyStock   float64   `json:"safety_stock" db:"safety_stock"`
}

// SubScore returns the sub-score for a risk kind.
func (r RiskScore) SubScore(kind string) float64 {
	switch kind {
	case RiskStockout:
		return r.StockoutRisk
	case RiskExcess:
		return r.ExcessRisk
	case RiskDelivery:
		return r.DeliveryRisk
	case RiskMargin:
		return r.MarginRisk
	}
	return 0
}

// RiskKinds lists risk kinds in evaluation order.
var RiskKinds = []string{RiskStockout, RiskExcess, RiskDelivery, RiskMargin}

// Action is a recommended planner action derived from one risk sub-score.
type Action struct {
	ProductID    string    `json:"product_id" db:"product_id"`
	EvalDate     time.Time `json:"eval_date" db:"eval_date"`
	RiskType     string    `json:"risk_type" db:"risk_type"`
	Severity     string    `json:"severity" db:"severity"`
	ActionType   string    `json:"action_type" db:"action_type"`
	Description  string    `json:"description" db:"description"`
	SuggestedQty *float64  `json:"suggested_qty" db:"suggested_qty"`
	Status       string    `json:"status" db:"status"`
}

// ProductionPlan is the bounded, risk-adjusted build quantity for one window.
type ProductionPlan struct {
	ProductID      string    `json:"product_id" db:"product_id"`
	PlanDate       time.Time `json:"plan_date" db:"plan_date"`
	PlanHorizon    string    `json:"plan_horizon" db:"plan_horizon"`
	TargetStart    time.Time `json:"target_start" db:"target_start"`
	TargetEnd      time.Time `json:"target_end" db:"target_end"`
	DemandP50      float64   `json:"demand_p50" db:"demand_p50"`
	DemandP90      float64   `json:"demand_p90" db:"demand_p90"`
	CurrentInv     float64   `json:"current_inventory" db:"current_inventory"`
	SafetyStock    float64   `json:"safety_stock" db:"safety_stock"`
	NetRequirement float64   `json:"net_requirement" db:"net_requirement"`
	DailyCapacity  *float64  `json:"daily_capacity" db:"daily_capacity"`
	MaxCapacity    *float64  `json:"max_capacity" db:"max_capacity"`
	PlannedQty     float64   `json:"planned_qty" db:"planned_qty"`
	MinQty         float64   `json:"min_qty" db:"min_qty"`
	MaxQty         float64   `json:"max_qty" db:"max_qty"`
	RiskGrade      string    `json:"risk_grade" db:"risk_grade"`
	Priority       string    `json:"priority" db:"priority"`
	PlanType       string    `json:"plan_type" db:"plan_type"`
	Description    string    `json:"description" db:"description"`
	Status         string    `json:"status" db:"status"`
}

// PurchaseRecommendation is a component replenishment proposal.
type PurchaseRecommendation struct {
	ComponentProductID string     `json:"component_product_id" db:"component_product_id"`
	PlanDate           time.Time  `json:"plan_date" db:"plan_date"`
	GrossRequirement   float64    `json:"gross_requirement" db:"gross_requirement"`
	CurrentInventory   float64    `json:"current_inventory" db:"current_inventory"`
	PendingPOQty       float64    `json:"pending_po_qty" db:"pending_po_qty"`
	NetRequirement     float64    `json:"net_requirement" db:"net_requirement"`
	SafetyStock        float64    `json:"safety_stock" db:"safety_stock"`
	ReorderPoint       float64    `json:"reorder_point" db:"reorder_point"`
	EOQ                float64    `json:"eoq" db:"eoq"`
	RecommendedQty     float64    `json:"recommended_qty" db:"recommended_qty"`
	OrderMethod        string     `json:"order_method" db:"order_method"`
	SupplierCode       *string    `json:"supplier_code" db:"supplier_code"`
	SupplierName       *string    `json:"supplier_name" db:"supplier_name"`
	SupplierScore      *float64   `json:"supplier_score" db:"supplier_score"`
	AltSupplierCode    *string    `json:"alt_supplier_code" db:"alt_supplier_code"`
	AltSupplierName    *string    `json:"alt_supplier_name" db:"alt_supplier_name"`
	UnitPrice          *float64   `json:"unit_price" db:"unit_price"`
	EstimatedCost      *float64   `json:"estimated_cost" db:"estimated_cost"`
	LeadTimeDays       float64    `json:"lead_time_days" db:"lead_time_days"`
	OrderDeadline      time.Time  `json:"order_deadline" db:"order_deadline"`
	ExpectedReceipt    *time.Time `json:"expected_receipt" db:"expected_receipt"`
	Urgency            string     `json:"urgency" db:"urgency"`
	ParentProductIDs   string     `json:"parent_product_ids" db:"parent_product_ids"`
	Status             string     `json:"status" db:"status"`
}
