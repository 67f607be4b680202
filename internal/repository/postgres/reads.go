package postgres

import (
	"context"
	"sort"
	"time"

	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

func (s *Store) Orders(ctx context.Context) ([]domain.DailyOrder, error) {
	return fetchAll[domain.DailyOrder](ctx, s, query{table: "daily_order", orderBy: "order_date, product_id"})
}

// OrdersSince returns order lines dated on or after since.
func (s *Store) OrdersSince(ctx context.Context, since time.Time) ([]domain.DailyOrder, error) {
	return fetchAll[domain.DailyOrder](ctx, s, query{
		table:   "daily_order",
		where:   "order_date >= ?",
		args:    []any{since},
		orderBy: "order_date, product_id",
	})
}

// OpenOrders returns orders still awaiting delivery.
func (s *Store) OpenOrders(ctx context.Context) ([]domain.DailyOrder, error) {
	return fetchAll[domain.DailyOrder](ctx, s, query{
		table:   "daily_order",
		where:   "status = ? AND expected_delivery_date IS NOT NULL",
		args:    []any{domain.OrderStatusOpen},
		orderBy: "expected_delivery_date, product_id",
	})
}

func (s *Store) Revenues(ctx context.Context) ([]domain.DailyRevenue, error) {
	return fetchAll[domain.DailyRevenue](ctx, s, query{table: "daily_revenue", orderBy: "revenue_date, product_id"})
}

func (s *Store) Productions(ctx context.Context) ([]domain.DailyProduction, error) {
	return fetchAll[domain.DailyProduction](ctx, s, query{table: "daily_production", orderBy: "production_date, product_id"})
}

// ProductionsSince returns production lines dated on or after since.
func (s *Store) ProductionsSince(ctx context.Context, since time.Time) ([]domain.DailyProduction, error) {
	return fetchAll[domain.DailyProduction](ctx, s, query{
		table:   "daily_production",
		where:   "production_date >= ?",
		args:    []any{since},
		orderBy: "production_date, product_id",
	})
}

func (s *Store) InventorySnapshots(ctx context.Context) ([]domain.InventorySnapshot, error) {
	return fetchAll[domain.InventorySnapshot](ctx, s, query{table: "inventory", orderBy: "snapshot_date, product_id, warehouse_code"})
}

func (s *Store) PurchaseOrders(ctx context.Context) ([]domain.PurchaseOrder, error) {
	return fetchAll[domain.PurchaseOrder](ctx, s, query{table: "purchase_order", orderBy: "component_product_id, po_date"})
}

func (s *Store) BOM(ctx context.Context) ([]domain.BOMLine, error) {
	return fetchAll[domain.BOMLine](ctx, s, query{table: "bom", orderBy: "parent_product_id, component_product_id"})
}

func (s *Store) Suppliers(ctx context.Context) ([]domain.Supplier, error) {
	return fetchAll[domain.Supplier](ctx, s, query{table: "supplier", orderBy: "customer_code"})
}

func (s *Store) Products(ctx context.Context) ([]domain.Product, error) {
	return fetchAll[domain.Product](ctx, s, query{table: "product_master", orderBy: "product_code"})
}

func (s *Store) EconomicIndicators(ctx context.Context) ([]domain.EconomicIndicator, error) {
	return fetchAll[domain.EconomicIndicator](ctx, s, query{table: "economic_indicator", orderBy: "indicator_code, date"})
}

func (s *Store) ExchangeRates(ctx context.Context) ([]domain.ExchangeRate, error) {
	return fetchAll[domain.ExchangeRate](ctx, s, query{table: "exchange_rate", orderBy: "base_currency, rate_date"})
}

func (s *Store) TradeStatistics(ctx context.Context) ([]domain.TradeStatistic, error) {
	return fetchAll[domain.TradeStatistic](ctx, s, query{table: "trade_statistics", orderBy: "year_month, hs_code"})
}

func (s *Store) CalendarWeeks(ctx context.Context) ([]domain.CalendarWeek, error) {
	return fetchAll[domain.CalendarWeek](ctx, s, query{table: "calendar_week", orderBy: "year_week"})
}

func (s *Store) WeeklyProductSummaries(ctx context.Context) ([]domain.WeeklyProductSummary, error) {
	return fetchAll[domain.WeeklyProductSummary](ctx, s, query{table: "weekly_product_summary", orderBy: "product_id, year_week"})
}

func (s *Store) WeeklyCustomerSummaries(ctx context.Context) ([]domain.WeeklyCustomerSummary, error) {
	return fetchAll[domain.WeeklyCustomerSummary](ctx, s, query{table: "weekly_customer_summary", orderBy: "product_id, year_week, customer_id"})
}

func (s *Store) MonthlyProductSummaries(ctx context.Context) ([]domain.MonthlyProductSummary, error) {
	return fetchAll[domain.MonthlyProductSummary](ctx, s, query{table: "monthly_product_summary", orderBy: "product_id, year_month"})
}

func (s *Store) MonthlyCustomerSummaries(ctx context.Context) ([]domain.MonthlyCustomerSummary, error) {
	return fetchAll[domain.MonthlyCustomerSummary](ctx, s, query{table: "monthly_customer_summary", orderBy: "product_id, year_month, customer_id"})
}

func (s *Store) WeeklyFeatures(ctx context.Context) ([]domain.WeeklyFeatures, error) {
	return fetchAll[domain.WeeklyFeatures](ctx, s, query{table: "feature_store_weekly", orderBy: "product_id, year_week"})
}

func (s *Store) MonthlyFeatures(ctx context.Context) ([]domain.MonthlyFeatures, error) {
	return fetchAll[domain.MonthlyFeatures](ctx, s, query{table: "feature_store_monthly", orderBy: "product_id, year_month"})
}

// LatestLeadTimes returns the newest per-product aggregate lead-time rows.
func (s *Store) LatestLeadTimes(ctx context.Context) ([]domain.LeadTimeStat, error) {
	return fetchLatest[domain.LeadTimeStat](ctx, s, "product_lead_time",
		[]string{"product_id"}, "calc_date", "supplier_code = ?", domain.SupplierAll)
}

// LatestForwardForecasts returns, per product and horizon, the newest
// forecast that has no actual yet.
func (s *Store) LatestForwardForecasts(ctx context.Context) ([]domain.Forecast, error) {
	return fetchLatest[domain.Forecast](ctx, s, "forecast_result",
		[]string{"product_id", "horizon_days"}, "forecast_date", "actual_qty IS NULL")
}

// LatestRiskScores returns each product's newest risk evaluation.
func (s *Store) LatestRiskScores(ctx context.Context) ([]domain.RiskScore, error) {
	return fetchLatest[domain.RiskScore](ctx, s, "risk_score", []string{"product_id"}, "eval_date", "")
}

// LatestProductionPlans returns the rows of the newest plan_date.
func (s *Store) LatestProductionPlans(ctx context.Context) ([]domain.ProductionPlan, error) {
	return fetchLatest[domain.ProductionPlan](ctx, s, "production_plan", nil, "plan_date", "")
}

// LatestPurchaseRecommendations returns the rows of the newest plan_date.
func (s *Store) LatestPurchaseRecommendations(ctx context.Context) ([]domain.PurchaseRecommendation, error) {
	return fetchLatest[domain.PurchaseRecommendation](ctx, s, "purchase_recommendation", nil, "plan_date", "")
}

type productQty struct {
	ProductID string  `db:"product_id"`
	Qty       float64 `db:"qty"`
}

// LatestInventory sums each product's most recent monthly snapshot across warehouses.
func (s *Store) LatestInventory(ctx context.Context) (map[string]float64, error) {
	stmt := `
		SELECT i.product_id, SUM(i.inventory_qty) AS qty
		FROM inventory i
		JOIN (
			SELECT product_id, MAX(snapshot_date) AS snapshot_date
			FROM inventory
			GROUP BY product_id
		) m ON i.product_id = m.product_id AND i.snapshot_date = m.snapshot_date
		GROUP BY i.product_id
	`

	var rows []productQty
	err := s.retry(ctx, "read latest inventory", func() error {
		rows = rows[:0]
		return sqlx.SelectContext(ctx, s.db, &rows, stmt)
	})
	if err != nil {
		if IsMissingTable(err) {
			return map[string]float64{}, nil
		}
		return nil, errors.Wrap(err, "read latest inventory")
	}

	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.ProductID] = r.Qty
	}
	return out, nil
}

// RiskScores lists the latest evaluation ordered by total risk, optionally by grade.
func (s *Store) RiskScores(ctx context.Context, filter domain.RiskFilter) ([]domain.RiskScore, error) {
	latest, err := s.LatestRiskScores(ctx)
	if err != nil {
		return nil, err
	}

	rows := latest[:0]
	for _, r := range latest {
		if filter.Grade == "" || r.RiskGrade == filter.Grade {
			rows = append(rows, r)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].TotalRisk > rows[j].TotalRisk })
	if filter.Limit > 0 && len(rows) > filter.Limit {
		rows = rows[:filter.Limit]
	}
	return rows, nil
}

// Actions lists action_queue rows for an evaluation date and status.
func (s *Store) Actions(ctx context.Context, evalDate time.Time, status string) ([]domain.Action, error) {
	where, args := "eval_date = ?", []any{evalDate}
	if status != "" {
		where += " AND status = ?"
		args = append(args, status)
	}
	return fetchAll[domain.Action](ctx, s, query{
		table:   "action_queue",
		where:   where,
		args:    args,
		orderBy: "product_id, risk_type",
	})
}

// LatestActionDate returns the newest eval_date in action_queue, or zero time.
func (s *Store) LatestActionDate(ctx context.Context) (time.Time, error) {
	rows, err := fetchLatest[domain.Action](ctx, s, "action_queue", nil, "eval_date", "")
	if err != nil || len(rows) == 0 {
		return time.Time{}, err
	}
	return rows[0].EvalDate, nil
}

// ProductForecasts returns every forecast row for one product, newest first.
func (s *Store) ProductForecasts(ctx context.Context, productID string) ([]domain.Forecast, error) {
	return fetchAll[domain.Forecast](ctx, s, query{
		table:   "forecast_result",
		where:   "product_id = ?",
		args:    []any{productID},
		orderBy: "forecast_date DESC, horizon_days, target_date",
	})
}
