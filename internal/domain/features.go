package domain

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
)

// WeeklyFeatureVersion identifies the weekly feature_store_weekly schema.
const WeeklyFeatureVersion = "fsw_v2"

// MonthlyFeatureVersion identifies the feature_store_monthly schema.
const MonthlyFeatureVersion = "fsm_v2"

// WeeklyFeatures is one row of feature_store_weekly. Every feature at week t
// is derived from data up to week t-1; only the target columns look forward.
// A nil pointer means the history needed for that feature was not available.
type WeeklyFeatures struct {
	ProductID string    `json:"product_id" db:"product_id"`
	YearWeek  string    `json:"year_week" db:"year_week"`
	WeekStart time.Time `json:"week_start" db:"week_start"`

	OrderQtyLag1  *float64 `json:"order_qty_lag1" db:"order_qty_lag1"`
	OrderQtyLag2  *float64 `json:"order_qty_lag2" db:"order_qty_lag2"`
	OrderQtyLag4  *float64 `json:"order_qty_lag4" db:"order_qty_lag4"`
	OrderQtyLag8  *float64 `json:"order_qty_lag8" db:"order_qty_lag8"`
	OrderQtyLag13 *float64 `json:"order_qty_lag13" db:"order_qty_lag13"`
	OrderQtyLag26 *float64 `json:"order_qty_lag26" db:"order_qty_lag26"`
	OrderQtyLag52 *float64 `json:"order_qty_lag52" db:"order_qty_lag52"`
	OrderQtyMA4   *float64 `json:"order_qty_ma4" db:"order_qty_ma4"`
	OrderQtyMA13  *float64 `json:"order_qty_ma13" db:"order_qty_ma13"`
	OrderQtyMA26  *float64 `json:"order_qty_ma26" db:"order_qty_ma26"`

	OrderCountLag1  *float64 `json:"order_count_lag1" db:"order_count_lag1"`
	OrderCountMA4   *float64 `json:"order_count_ma4" db:"order_count_ma4"`
	OrderAmountLag1 *float64 `json:"order_amount_lag1" db:"order_amount_lag1"`

	OrderQtyRoc4w  *float64 `json:"order_qty_roc_4w" db:"order_qty_roc_4w"`
	OrderQtyRoc13w *float64 `json:"order_qty_roc_13w" db:"order_qty_roc_13w"`
	OrderQtyDiff1w *float64 `json:"order_qty_diff_1w" db:"order_qty_diff_1w"`
	OrderQtyDiff4w *float64 `json:"order_qty_diff_4w" db:"order_qty_diff_4w"`

	OrderQtyStd4      *float64 `json:"order_qty_std4" db:"order_qty_std4"`
	OrderQtyStd13     *float64 `json:"order_qty_std13" db:"order_qty_std13"`
	OrderQtyCV4       *float64 `json:"order_qty_cv4" db:"order_qty_cv4"`
	OrderQtyMax4      *float64 `json:"order_qty_max4" db:"order_qty_max4"`
	OrderQtyMin4      *float64 `json:"order_qty_min4" db:"order_qty_min4"`
	OrderQtyNonzero4w *float64 `json:"order_qty_nonzero_4w" db:"order_qty_nonzero_4w"`
	OrderQtyNonzero13 *float64 `json:"order_qty_nonzero_13w" db:"order_qty_nonzero_13w"`

	RevenueQtyLag1  *float64 `json:"revenue_qty_lag1" db:"revenue_qty_lag1"`
	RevenueQtyMA4   *float64 `json:"revenue_qty_ma4" db:"revenue_qty_ma4"`
	ProducedQtyLag1 *float64 `json:"produced_qty_lag1" db:"produced_qty_lag1"`
	ProducedQtyMA4  *float64 `json:"produced_qty_ma4" db:"produced_qty_ma4"`
	InventoryQty    *float64 `json:"inventory_qty" db:"inventory_qty"`
	InventoryWeeks  *float64 `json:"inventory_weeks" db:"inventory_weeks"`
	AvgLeadDays     *float64 `json:"avg_lead_days" db:"avg_lead_days"`
	BookToBill4w    *float64 `json:"book_to_bill_4w" db:"book_to_bill_4w"`

	CustomerCountLag1 *float64 `json:"customer_count_lag1" db:"customer_count_lag1"`
	CustomerCountMA4  *float64 `json:"customer_count_ma4" db:"customer_count_ma4"`
	Top1CustomerPct   *float64 `json:"top1_customer_pct" db:"top1_customer_pct"`
	Top3CustomerPct   *float64 `json:"top3_customer_pct" db:"top3_customer_pct"`
	CustomerHHI       *float64 `json:"customer_hhi" db:"customer_hhi"`

	AvgUnitPrice  *float64 `json:"avg_unit_price" db:"avg_unit_price"`
	OrderAvgValue *float64 `json:"order_avg_value" db:"order_avg_value"`

	External
	SoxRoc4w    *float64 `json:"sox_roc_4w" db:"sox_roc_4w"`
	DramRoc4w   *float64 `json:"dram_roc_4w" db:"dram_roc_4w"`
	UsdKrwRoc4w *float64 `json:"usd_krw_roc_4w" db:"usd_krw_roc_4w"`

	WeekNum       int  `json:"week_num" db:"week_num"`
	Month         int  `json:"month" db:"month"`
	Quarter       int  `json:"quarter" db:"quarter"`
	IsHolidayWeek bool `json:"is_holiday_week" db:"is_holiday_week"`
	IsYearEnd     bool `json:"is_year_end" db:"is_year_end"`

	Target1w *float64 `json:"target_1w" db:"target_1w"`
	Target2w *float64 `json:"target_2w" db:"target_2w"`
	Target4w *float64 `json:"target_4w" db:"target_4w"`
}

// MonthlyFeatures is one row of feature_store_monthly.
type MonthlyFeatures struct {
	ProductID  string    `json:"product_id" db:"product_id"`
	YearMonth  string    `json:"year_month" db:"year_month"`
	MonthStart time.Time `json:"month_start" db:"month_start"`

	OrderQtyLag1  *float64 `json:"order_qty_lag1" db:"order_qty_lag1"`
	OrderQtyLag2  *float64 `json:"order_qty_lag2" db:"order_qty_lag2"`
	OrderQtyLag3  *float64 `json:"order_qty_lag3" db:"order_qty_lag3"`
	OrderQtyLag6  *float64 `json:"order_qty_lag6" db:"order_qty_lag6"`
	OrderQtyLag12 *float64 `json:"order_qty_lag12" db:"order_qty_lag12"`
	OrderQtyMA3   *float64 `json:"order_qty_ma3" db:"order_qty_ma3"`
	OrderQtyMA6   *float64 `json:"order_qty_ma6" db:"order_qty_ma6"`
	OrderQtyMA12  *float64 `json:"order_qty_ma12" db:"order_qty_ma12"`

	OrderCountLag1  *float64 `json:"order_count_lag1" db:"order_count_lag1"`
	OrderAmountLag1 *float64 `json:"order_amount_lag1" db:"order_amount_lag1"`

	OrderQtyRoc3m  *float64 `json:"order_qty_roc_3m" db:"order_qty_roc_3m"`
	OrderQtyRoc6m  *float64 `json:"order_qty_roc_6m" db:"order_qty_roc_6m"`
	OrderQtyDiff1m *float64 `json:"order_qty_diff_1m" db:"order_qty_diff_1m"`
	OrderQtyDiff3m *float64 `json:"order_qty_diff_3m" db:"order_qty_diff_3m"`

	OrderQtyStd3      *float64 `json:"order_qty_std3" db:"order_qty_std3"`
	OrderQtyStd6      *float64 `json:"order_qty_std6" db:"order_qty_std6"`
	OrderQtyCV3       *float64 `json:"order_qty_cv3" db:"order_qty_cv3"`
	OrderQtyMax3      *float64 `json:"order_qty_max3" db:"order_qty_max3"`
	OrderQtyMin3      *float64 `json:"order_qty_min3" db:"order_qty_min3"`
	OrderQtyNonzero3m *float64 `json:"order_qty_nonzero_3m" db:"order_qty_nonzero_3m"`
	OrderQtyNonzero6m *float64 `json:"order_qty_nonzero_6m" db:"order_qty_nonzero_6m"`

	RevenueQtyLag1  *float64 `json:"revenue_qty_lag1" db:"revenue_qty_lag1"`
	RevenueQtyMA3   *float64 `json:"revenue_qty_ma3" db:"revenue_qty_ma3"`
	ProducedQtyLag1 *float64 `json:"produced_qty_lag1" db:"produced_qty_lag1"`
	ProducedQtyMA3  *float64 `json:"produced_qty_ma3" db:"produced_qty_ma3"`
	InventoryQty    *float64 `json:"inventory_qty" db:"inventory_qty"`
	InventoryMonths *float64 `json:"inventory_months" db:"inventory_months"`
	AvgLeadDays     *float64 `json:"avg_lead_days" db:"avg_lead_days"`
	BookToBill3m    *float64 `json:"book_to_bill_3m" db:"book_to_bill_3m"`

	CustomerCountLag1 *float64 `json:"customer_count_lag1" db:"customer_count_lag1"`
	CustomerCountMA3  *float64 `json:"customer_count_ma3" db:"customer_count_ma3"`
	Top1CustomerPct   *float64 `json:"top1_customer_pct" db:"top1_customer_pct"`
	Top3CustomerPct   *float64 `json:"top3_customer_pct" db:"top3_customer_pct"`
	CustomerHHI       *float64 `json:"customer_hhi" db:"customer_hhi"`

	AvgUnitPrice  *float64 `json:"avg_unit_price" db:"avg_unit_price"`
	OrderAvgValue *float64 `json:"order_avg_value" db:"order_avg_value"`

	External
	SoxRoc3m    *float64 `json:"sox_roc_3m" db:"sox_roc_3m"`
	DramRoc3m   *float64 `json:"dram_roc_3m" db:"dram_roc_3m"`
	UsdKrwRoc3m *float64 `json:"usd_krw_roc_3m" db:"usd_krw_roc_3m"`

	Month     int  `json:"month" db:"month"`
	Quarter   int  `json:"quarter" db:"quarter"`
	IsYearEnd bool `json:"is_year_end" db:"is_year_end"`

	Target1m *float64 `json:"target_1m" db:"target_1m"`
	Target3m *float64 `json:"target_3m" db:"target_3m"`
	Target6m *float64 `json:"target_6m" db:"target_6m"`
}

// External holds per-period market, FX, macro and trade indicators.
// BalticDryIndex and CopperLME are only populated at weekly granularity.
type External struct {
	SoxIndex          *float64 `json:"sox_index" db:"sox_index"`
	DramPrice         *float64 `json:"dram_price" db:"dram_price"`
	NandPrice         *float64 `json:"nand_price" db:"nand_price"`
	SiliconWaferPrice *float64 `json:"silicon_wafer_price" db:"silicon_wafer_price"`
	BalticDryIndex    *float64 `json:"baltic_dry_index,omitempty" db:"baltic_dry_index"`
	CopperLME         *float64 `json:"copper_lme,omitempty" db:"copper_lme"`
	UsdKrw            *float64 `json:"usd_krw" db:"usd_krw"`
	JpyKrw            *float64 `json:"jpy_krw" db:"jpy_krw"`
	EurKrw            *float64 `json:"eur_krw" db:"eur_krw"`
	CnyKrw            *float64 `json:"cny_krw" db:"cny_krw"`
	FedFundsRate      *float64 `json:"fed_funds_rate" db:"fed_funds_rate"`
	WtiPrice          *float64 `json:"wti_price" db:"wti_price"`
	IndproIndex       *float64 `json:"indpro_index" db:"indpro_index"`
	IpmanIndex        *float64 `json:"ipman_index" db:"ipman_index"`
	KrBaseRate        *float64 `json:"kr_base_rate" db:"kr_base_rate"`
	KrIpiMfg          *float64 `json:"kr_ipi_mfg" db:"kr_ipi_mfg"`
	KrBsiMfg          *float64 `json:"kr_bsi_mfg" db:"kr_bsi_mfg"`
	CnPmiMfg          *float64 `json:"cn_pmi_mfg" db:"cn_pmi_mfg"`
	SemiExportAmt     *float64 `json:"semi_export_amt" db:"semi_export_amt"`
	SemiImportAmt     *float64 `json:"semi_import_amt" db:"semi_import_amt"`
	SemiTradeBalance  *float64 `json:"semi_trade_balance" db:"semi_trade_balance"`
	SemiExportRoc     *float64 `json:"semi_export_roc" db:"semi_export_roc"`
}

// Horizon ties a target column to the number of days it covers.
type Horizon struct {
	Key  string
	Days int
}

var (
	WeeklyHorizons  = []Horizon{{"target_1w", 7}, {"target_2w", 14}, {"target_4w", 28}}
	MonthlyHorizons = []Horizon{{"target_1m", 30}, {"target_3m", 90}, {"target_6m", 180}}
)

// FeatureRow is implemented by both feature store records.
type FeatureRow interface {
	Product() string
	Period() string
	PeriodStart() time.Time
	Target(key string) *float64
}

func (f *WeeklyFeatures) Product() string        { return f.ProductID }
func (f *WeeklyFeatures) Period() string         { return f.YearWeek }
func (f *WeeklyFeatures) PeriodStart() time.Time { return f.WeekStart }

func (f *WeeklyFeatures) Target(key string) *float64 {
	switch key {
	case "target_1w":
		return f.Target1w
	case "target_2w":
		return f.Target2w
	case "target_4w":
		return f.Target4w
	}
	return nil
}

func (f *MonthlyFeatures) Product() string        { return f.ProductID }
func (f *MonthlyFeatures) Period() string         { return f.YearMonth }
func (f *MonthlyFeatures) PeriodStart() time.Time { return f.MonthStart }

func (f *MonthlyFeatures) Target(key string) *float64 {
	switch key {
	case "target_1m":
		return f.Target1m
	case "target_3m":
		return f.Target3m
	case "target_6m":
		return f.Target6m
	}
	return nil
}

var fieldIndexCache sync.Map // reflect.Type -> map[string][]int

func fieldIndex(t reflect.Type) map[string][]int {
	if cached, ok := fieldIndexCache.Load(t); ok {
		return cached.(map[string][]int)
	}
	idx := make(map[string][]int)
	for _, f := range reflect.VisibleFields(t) {
		if f.Anonymous {
			continue
		}
		tag := strings.Split(f.Tag.Get("db"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		idx[tag] = f.Index
	}
	fieldIndexCache.Store(t, idx)
	return idx
}

// HasFeature reports whether row's type carries column col.
func HasFeature(row FeatureRow, col string) bool {
	_, ok := fieldIndex(reflect.TypeOf(row).Elem())[col]
	return ok
}

// FeatureValue reads column col from row as a float. ok is false for an
// unknown column or a missing (nil) value.
func FeatureValue(row FeatureRow, col string) (v float64, ok bool) {
	rv := reflect.ValueOf(row).Elem()
	path, found := fieldIndex(rv.Type())[col]
	if !found {
		return 0, false
	}
	fv := rv.FieldByIndex(path)
	switch fv.Kind() {
	case reflect.Ptr:
		if fv.IsNil() {
			return 0, false
		}
		return fv.Elem().Float(), true
	case reflect.Float64:
		return fv.Float(), true
	case reflect.Int:
		return float64(fv.Int()), true
	case reflect.Bool:
		if fv.Bool() {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// FeatureMatrix extracts cols from rows in order. Missing values become 0.
func FeatureMatrix[R FeatureRow](rows []R, cols []string) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		vec := make([]float64, len(cols))
		for j, c := range cols {
			if v, ok := FeatureValue(r, c); ok {
				vec[j] = v
			}
		}
		out[i] = vec
	}
	return out
}

// CheckColumns returns an error naming every col the row type lacks.
func CheckColumns(row FeatureRow, cols []string) error {
	var missing []string
	for _, c := range cols {
		if !HasFeature(row, c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("feature columns not in %T: %s", row, strings.Join(missing, ", "))
	}
	return nil
}
