package postgres

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type tableDef struct {
	name   string
	row    any
	unique []string
}

// Tables the pipeline owns or reads. Source tables are created too so a fresh
// local database can be seeded.
var tableDefs = []tableDef{
	{"daily_order", domain.DailyOrder{}, nil},
	{"daily_revenue", domain.DailyRevenue{}, nil},
	{"daily_production", domain.DailyProduction{}, nil},
	{"inventory", domain.InventorySnapshot{}, nil},
	{"purchase_order", domain.PurchaseOrder{}, nil},
	{"bom", domain.BOMLine{}, []string{"parent_product_id", "component_product_id"}},
	{"supplier", domain.Supplier{}, []string{"customer_code"}},
	{"product_master", domain.Product{}, []string{"product_code"}},
	{"economic_indicator", domain.EconomicIndicator{}, nil},
	{"exchange_rate", domain.ExchangeRate{}, nil},
	{"trade_statistics", domain.TradeStatistic{}, nil},

	{"calendar_week", domain.CalendarWeek{}, keyCalendarWeek},
	{"weekly_product_summary", domain.WeeklyProductSummary{}, keyWeeklyProduct},
	{"weekly_customer_summary", domain.WeeklyCustomerSummary{}, keyWeeklyCustomer},
	{"monthly_product_summary", domain.MonthlyProductSummary{}, keyMonthlyProduct},
	{"monthly_customer_summary", domain.MonthlyCustomerSummary{}, keyMonthlyCustomer},
	{"daily_inventory_estimated", domain.InventoryEstimate{}, keyInventoryEstimate},
	{"product_lead_time", domain.LeadTimeStat{}, keyLeadTime},
	{"feature_store_weekly", domain.WeeklyFeatures{}, keyWeeklyFeatures},
	{"feature_store_monthly", domain.MonthlyFeatures{}, keyMonthlyFeatures},
	{"forecast_result", domain.Forecast{}, nil},
	{"model_evaluation", domain.ModelEvaluation{}, keyModelEvaluation},
	{"feature_importance", domain.FeatureImportance{}, keyFeatureImportance},
	{"tuning_result", domain.TuningResult{}, keyTuningResult},
	{"risk_score", domain.RiskScore{}, keyRiskScore},
	{"action_queue", domain.Action{}, nil},
	{"production_plan", domain.ProductionPlan{}, keyProductionPlan},
	{"purchase_recommendation", domain.PurchaseRecommendation{}, keyPurchaseRecommendation},
	{"pipeline_runs", domain.StageRun{}, []string{"id"}},
}

// Natural keys used as upsert conflict targets.
var (
	keyCalendarWeek           = []string{"year_week"}
	keyWeeklyProduct          = []string{"product_id", "year_week"}
	keyWeeklyCustomer         = []string{"product_id", "customer_id", "year_week"}
	keyMonthlyProduct         = []string{"product_id", "year_month"}
	keyMonthlyCustomer        = []string{"product_id", "customer_id", "year_month"}
	keyInventoryEstimate      = []string{"product_id", "target_date"}
	keyLeadTime               = []string{"product_id", "supplier_code", "calc_date"}
	keyWeeklyFeatures         = []string{"product_id", "year_week"}
	keyMonthlyFeatures        = []string{"product_id", "year_month"}
	keyModelEvaluation        = []string{"model_id", "product_id", "horizon_key", "eval_date"}
	keyFeatureImportance      = []string{"model_id", "horizon_key", "eval_date", "feature_name"}
	keyTuningResult           = []string{"model_id", "horizon_key", "eval_date", "params_json"}
	keyRiskScore              = []string{"product_id", "eval_date"}
	keyProductionPlan         = []string{"product_id", "plan_date", "plan_horizon"}
	keyPurchaseRecommendation = []string{"component_product_id", "plan_date"}
)

var timeType = reflect.TypeOf(time.Time{})

func sqlType(col string, t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch {
	case t == timeType && strings.HasSuffix(col, "_at"):
		return "TIMESTAMP"
	case t == timeType:
		return "DATE"
	}
	switch t.Kind() {
	case reflect.Float32, reflect.Float64:
		return "DOUBLE PRECISION"
	case reflect.Int, reflect.Int32, reflect.Int64:
		return "INTEGER"
	case reflect.Bool:
		return "BOOLEAN"
	}
	return "TEXT"
}

func createTableDDL(def tableDef) string {
	t := reflect.TypeOf(def.row)
	var defs []string
	for _, f := range reflect.VisibleFields(t) {
		if f.Anonymous || !f.IsExported() {
			continue
		}
		col := strings.Split(f.Tag.Get("db"), ",")[0]
		if col == "" || col == "-" {
			continue
		}
		defs = append(defs, fmt.Sprintf("%s %s", col, sqlType(col, f.Type)))
	}
	if len(def.unique) > 0 {
		defs = append(defs, fmt.Sprintf("UNIQUE (%s)", strings.Join(def.unique, ", ")))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", def.name, strings.Join(defs, ",\n\t"))
}

// Migrate creates every table that does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, def := range tableDefs {
		if _, err := s.db.ExecContext(ctx, createTableDDL(def)); err != nil {
			return errors.Wrapf(err, "create table %s", def.name)
		}
	}

	log.Info().Int("tables", len(tableDefs)).Msg("schema ready")
	return nil
}
