package postgres

import (
	"context"
	"time"

	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

func (s *Store) SaveCalendarWeeks(ctx context.Context, rows []domain.CalendarWeek) (int, error) {
	return upsert(ctx, s, "calendar_week", keyCalendarWeek, rows)
}

func (s *Store) SaveWeeklyProductSummaries(ctx context.Context, rows []domain.WeeklyProductSummary) (int, error) {
	return upsert(ctx, s, "weekly_product_summary", keyWeeklyProduct, rows)
}

func (s *Store) SaveWeeklyCustomerSummaries(ctx context.Context, rows []domain.WeeklyCustomerSummary) (int, error) {
	return upsert(ctx, s, "weekly_customer_summary", keyWeeklyCustomer, rows)
}

func (s *Store) SaveMonthlyProductSummaries(ctx context.Context, rows []domain.MonthlyProductSummary) (int, error) {
	return upsert(ctx, s, "monthly_product_summary", keyMonthlyProduct, rows)
}

func (s *Store) SaveMonthlyCustomerSummaries(ctx context.Context, rows []domain.MonthlyCustomerSummary) (int, error) {
	return upsert(ctx, s, "monthly_customer_summary", keyMonthlyCustomer, rows)
}

func (s *Store) SaveInventoryEstimates(ctx context.Context, rows []domain.InventoryEstimate) (int, error) {
	return upsert(ctx, s, "daily_inventory_estimated", keyInventoryEstimate, rows)
}

func (s *Store) SaveLeadTimes(ctx context.Context, rows []domain.LeadTimeStat) (int, error) {
	return upsert(ctx, s, "product_lead_time", keyLeadTime, rows)
}

func (s *Store) SaveWeeklyFeatures(ctx context.Context, rows []domain.WeeklyFeatures) (int, error) {
	return upsert(ctx, s, "feature_store_weekly", keyWeeklyFeatures, rows)
}

func (s *Store) SaveMonthlyFeatures(ctx context.Context, rows []domain.MonthlyFeatures) (int, error) {
	return upsert(ctx, s, "feature_store_monthly", keyMonthlyFeatures, rows)
}

// InsertForecasts writes forecast rows, first deleting any stored row with
// the same model, product, forecast date and horizon so a rerun of a day
// leaves one row per key. The stage flushes in batches, so the delete is
// scoped to the rows of each call. Deletes and inserts share a transaction.
func (s *Store) InsertForecasts(ctx context.Context, rows []domain.Forecast) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	stmt := buildUpsert("forecast_result", columns[domain.Forecast](), nil)
	del := s.db.Rebind("DELETE FROM forecast_result WHERE model_id = ? AND product_id = ? AND forecast_date = ? AND horizon_days = ?")
	var deleted int64
	err := s.retry(ctx, "replace forecast_result", func() error {
		deleted = 0
		return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			for _, r := range rows {
				res, err := tx.ExecContext(ctx, del, r.ModelID, r.ProductID, r.ForecastDate, r.HorizonDays)
				if err != nil {
					return errors.Wrap(err, "delete forecast_result")
				}
				n, _ := res.RowsAffected()
				deleted += n
			}
			return writeRows(ctx, tx, "forecast_result", stmt, rows)
		})
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		log.Info().Int64("rows", deleted).Msg("replaced previous forecasts")
	}
	return len(rows), nil
}

func (s *Store) SaveModelEvaluations(ctx context.Context, rows []domain.ModelEvaluation) (int, error) {
	return upsert(ctx, s, "model_evaluation", keyModelEvaluation, rows)
}

func (s *Store) SaveFeatureImportance(ctx context.Context, rows []domain.FeatureImportance) (int, error) {
	return upsert(ctx, s, "feature_importance", keyFeatureImportance, rows)
}

func (s *Store) SaveTuningResults(ctx context.Context, rows []domain.TuningResult) (int, error) {
	return upsert(ctx, s, "tuning_result", keyTuningResult, rows)
}

func (s *Store) SaveRiskScores(ctx context.Context, rows []domain.RiskScore) (int, error) {
	return upsert(ctx, s, "risk_score", keyRiskScore, rows)
}

// ReplacePendingActions deletes the pending actions of evalDate and inserts rows.
func (s *Store) ReplacePendingActions(ctx context.Context, evalDate time.Time, rows []domain.Action) (int, error) {
	deleted, err := s.exec(ctx, "delete pending actions",
		"DELETE FROM action_queue WHERE eval_date = ? AND status = ?", evalDate, domain.ActionStatusPending)
	if err != nil && !IsMissingTable(err) {
		return 0, err
	}
	if deleted > 0 {
		log.Info().Int64("rows", deleted).Time("eval_date", evalDate).Msg("removed previous pending actions")
	}

	return upsert(ctx, s, "action_queue", nil, rows)
}

func (s *Store) SaveProductionPlans(ctx context.Context, rows []domain.ProductionPlan) (int, error) {
	return upsert(ctx, s, "production_plan", keyProductionPlan, rows)
}

func (s *Store) SavePurchaseRecommendations(ctx context.Context, rows []domain.PurchaseRecommendation) (int, error) {
	return upsert(ctx, s, "purchase_recommendation", keyPurchaseRecommendation, rows)
}

// Seed helpers for source tables, used by local runs and tests.

func (s *Store) InsertOrders(ctx context.Context, rows []domain.DailyOrder) (int, error) {
	return upsert(ctx, s, "daily_order", nil, rows)
}

func (s *Store) InsertRevenues(ctx context.Context, rows []domain.DailyRevenue) (int, error) {
	return upsert(ctx, s, "daily_revenue", nil, rows)
}

func (s *Store) InsertProductions(ctx context.Context, rows []domain.DailyProduction) (int, error) {
	return upsert(ctx, s, "daily_production", nil, rows)
}

func (s *Store) InsertInventorySnapshots(ctx context.Context, rows []domain.InventorySnapshot) (int, error) {
	return upsert(ctx, s, "inventory", nil, rows)
}

func (s *Store) InsertPurchaseOrders(ctx context.Context, rows []domain.PurchaseOrder) (int, error) {
	return upsert(ctx, s, "purchase_order", nil, rows)
}

func (s *Store) SaveBOM(ctx context.Context, rows []domain.BOMLine) (int, error) {
	return upsert(ctx, s, "bom", []string{"parent_product_id", "component_product_id"}, rows)
}

func (s *Store) SaveSuppliers(ctx context.Context, rows []domain.Supplier) (int, error) {
	return upsert(ctx, s, "supplier", []string{"customer_code"}, rows)
}

func (s *Store) SaveProducts(ctx context.Context, rows []domain.Product) (int, error) {
	return upsert(ctx, s, "product_master", []string{"product_code"}, rows)
}
