package config

// Model input columns. Identifiers, dates and target columns are excluded.
var WeeklyFeatureCols = []string{
	"order_qty_lag1", "order_qty_lag2", "order_qty_lag4",
	"order_qty_lag8", "order_qty_lag13", "order_qty_lag26", "order_qty_lag52",
	"order_qty_ma4", "order_qty_ma13", "order_qty_ma26",
	"order_count_lag1", "order_count_ma4", "order_amount_lag1",
	"order_qty_roc_4w", "order_qty_roc_13w",
	"order_qty_diff_1w", "order_qty_diff_4w",
	"order_qty_std4", "order_qty_std13", "order_qty_cv4",
	"order_qty_max4", "order_qty_min4",
	"order_qty_nonzero_4w", "order_qty_nonzero_13w",
	"revenue_qty_lag1", "revenue_qty_ma4",
	"produced_qty_lag1", "produced_qty_ma4",
	"inventory_qty", "inventory_weeks", "avg_lead_days", "book_to_bill_4w",
	"customer_count_lag1", "customer_count_ma4",
	"top1_customer_pct", "top3_customer_pct", "customer_hhi",
	"avg_unit_price", "order_avg_value",
	"sox_index", "sox_roc_4w", "dram_price", "dram_roc_4w",
	"nand_price", "silicon_wafer_price", "baltic_dry_index", "copper_lme",
	"usd_krw", "usd_krw_roc_4w", "jpy_krw", "eur_krw", "cny_krw",
	"fed_funds_rate", "wti_price", "indpro_index", "ipman_index",
	"kr_base_rate", "kr_ipi_mfg", "kr_bsi_mfg", "cn_pmi_mfg",
	"semi_export_amt", "semi_import_amt", "semi_trade_balance", "semi_export_roc",
	"week_num", "month", "quarter", "is_holiday_week", "is_year_end",
}

var MonthlyFeatureCols = []string{
	"order_qty_lag1", "order_qty_lag2", "order_qty_lag3",
	"order_qty_lag6", "order_qty_lag12",
	"order_qty_ma3", "order_qty_ma6", "order_qty_ma12",
	"order_count_lag1", "order_amount_lag1",
	"order_qty_roc_3m", "order_qty_roc_6m",
	"order_qty_diff_1m", "order_qty_diff_3m",
	"order_qty_std3", "order_qty_std6", "order_qty_cv3",
	"order_qty_max3", "order_qty_min3",
	"order_qty_nonzero_3m", "order_qty_nonzero_6m",
	"revenue_qty_lag1", "revenue_qty_ma3",
	"produced_qty_lag1", "produced_qty_ma3",
	"inventory_qty", "inventory_months", "avg_lead_days", "book_to_bill_3m",
	"customer_count_lag1", "customer_count_ma3",
	"top1_customer_pct", "top3_customer_pct", "customer_hhi",
	"avg_unit_price", "order_avg_value",
	"sox_index", "sox_roc_3m", "dram_price", "dram_roc_3m",
	"nand_price", "silicon_wafer_price",
	"usd_krw", "usd_krw_roc_3m", "jpy_krw", "eur_krw", "cny_krw",
	"fed_funds_rate", "wti_price", "indpro_index", "ipman_index",
	"kr_base_rate", "kr_ipi_mfg", "kr_bsi_mfg", "cn_pmi_mfg",
	"semi_export_amt", "semi_import_amt", "semi_trade_balance", "semi_export_roc",
	"month", "quarter", "is_year_end",
}
