package features

import (
	"math"
	"sort"

	"github.com/andresuchdata/controltower/internal/aggregation"
	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/andresuchdata/controltower/internal/stats"
)

// Indicator codes by native frequency.
var (
	dailyCodes = map[string]string{
		"SOX":        "sox_index",
		"BALTIC_DRY": "baltic_dry_index",
		"COPPER_LME": "copper_lme",
	}
	weeklyCodes = map[string]string{
		"DRAM_DDR4":  "dram_price",
		"NAND_TLC":   "nand_price",
		"WTI_WEEKLY": "wti_price",
	}
	monthlyCodes = map[string]string{
		"SILICON_WAFER": "silicon_wafer_price",
		"FEDFUNDS":      "fed_funds_rate",
		"INDPRO":        "indpro_index",
		"IPMAN":         "ipman_index",
		"KR_BASE_RATE":  "kr_base_rate",
		"KR_IPI_MFG":    "kr_ipi_mfg",
		"KR_BSI_MFG":    "kr_bsi_mfg",
		"CN_PMI_MFG":    "cn_pmi_mfg",
	}
	currencyCols = map[string]string{
		"USD": "usd_krw",
		"JPY": "jpy_krw",
		"EUR": "eur_krw",
		"CNY": "cny_krw",
	}
)

var externalFields = map[string]func(*domain.External) **float64{
	"sox_index":           func(e *domain.External) **float64 { return &e.SoxIndex },
	"dram_price":          func(e *domain.External) **float64 { return &e.DramPrice },
	"nand_price":          func(e *domain.External) **float64 { return &e.NandPrice },
	"silicon_wafer_price": func(e *domain.External) **float64 { return &e.SiliconWaferPrice },
	"baltic_dry_index":    func(e *domain.External) **float64 { return &e.BalticDryIndex },
	"copper_lme":          func(e *domain.External) **float64 { return &e.CopperLME },
	"usd_krw":             func(e *domain.External) **float64 { return &e.UsdKrw },
	"jpy_krw":             func(e *domain.External) **float64 { return &e.JpyKrw },
	"eur_krw":             func(e *domain.External) **float64 { return &e.EurKrw },
	"cny_krw":             func(e *domain.External) **float64 { return &e.CnyKrw },
	"fed_funds_rate":      func(e *domain.External) **float64 { return &e.FedFundsRate },
	"wti_price":           func(e *domain.External) **float64 { return &e.WtiPrice },
	"indpro_index":        func(e *domain.External) **float64 { return &e.IndproIndex },
	"ipman_index":         func(e *domain.External) **float64 { return &e.IpmanIndex },
	"kr_base_rate":        func(e *domain.External) **float64 { return &e.KrBaseRate },
	"kr_ipi_mfg":          func(e *domain.External) **float64 { return &e.KrIpiMfg },
	"kr_bsi_mfg":          func(e *domain.External) **float64 { return &e.KrBsiMfg },
	"cn_pmi_mfg":          func(e *domain.External) **float64 { return &e.CnPmiMfg },
	"semi_export_amt":     func(e *domain.External) **float64 { return &e.SemiExportAmt },
	"semi_import_amt":     func(e *domain.External) **float64 { return &e.SemiImportAmt },
	"semi_trade_balance":  func(e *domain.External) **float64 { return &e.SemiTradeBalance },
	"semi_export_roc":     func(e *domain.External) **float64 { return &e.SemiExportRoc },
}

// frame is a column store of indicators over an ordered list of periods.
type frame struct {
	periods []string
	index   map[string]int
	cols    map[string][]*float64
}

func newFrame(periods []string) *frame {
	f := &frame{periods: periods, index: make(map[string]int, len(periods)), cols: map[string][]*float64{}}
	for i, p := range periods {
		f.index[p] = i
	}
	return f
}

func (f *frame) set(col, period string, v float64) {
	i, ok := f.index[period]
	if !ok {
		return
	}
	if f.cols[col] == nil {
		f.cols[col] = make([]*float64, len(f.periods))
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	f.cols[col][i] = stats.Ptr(v)
}

func (f *frame) value(col string, i int) *float64 {
	c := f.cols[col]
	if c == nil || i < 0 || i >= len(c) {
		return nil
	}
	return c[i]
}

// forwardFill carries each column's last known value into later gaps.
func (f *frame) forwardFill() {
	for _, c := range f.cols {
		var last *float64
		for i := range c {
			if c[i] == nil {
				c[i] = last
			} else {
				last = c[i]
			}
		}
	}
}

// external assembles the indicator block for period index i.
func (f *frame) external(i int) domain.External {
	var e domain.External
	for col, field := range externalFields {
		*field(&e) = f.value(col, i)
	}
	return e
}

// roc is the rate of change of col between period i and i-back.
func (f *frame) roc(col string, i, back int) *float64 {
	return roc(f.value(col, i), f.value(col, i-back))
}

type meanAcc map[string]map[string][]float64 // col -> period -> values

func (m meanAcc) add(col, period string, v float64) {
	if m[col] == nil {
		m[col] = map[string][]float64{}
	}
	m[col][period] = append(m[col][period], v)
}

func (m meanAcc) apply(f *frame) {
	for col, byPeriod := range m {
		for p, vs := range byPeriod {
			f.set(col, p, stats.Mean(vs))
		}
	}
}

// lastAcc keeps, per column and period, the value with the latest date.
type lastAcc map[string]map[string]dated

type dated struct {
	at string
	v  float64
}

func (m lastAcc) add(col, period, at string, v float64) {
	if m[col] == nil {
		m[col] = map[string]dated{}
	}
	if cur, ok := m[col][period]; !ok || at >= cur.at {
		m[col][period] = dated{at, v}
	}
}

// tradeByMonth sums exports and imports per month and derives the balance
// and the month-over-month export change.
func tradeByMonth(trade []domain.TradeStatistic) map[string]map[string]*float64 {
	exp, imp := map[string]float64{}, map[string]float64{}
	for _, t := range trade {
		ym := normalizeMonth(t.YearMonth)
		exp[ym] += t.ExportAmount
		imp[ym] += t.ImportAmount
	}
	months := make([]string, 0, len(exp))
	for ym := range exp {
		months = append(months, ym)
	}
	sort.Strings(months)

	out := make(map[string]map[string]*float64, len(months))
	for i, ym := range months {
		row := map[string]*float64{
			"semi_export_amt":    stats.Ptr(exp[ym]),
			"semi_import_amt":    stats.Ptr(imp[ym]),
			"semi_trade_balance": stats.Ptr(exp[ym] - imp[ym]),
		}
		if i > 0 && exp[months[i-1]] != 0 {
			prev := exp[months[i-1]]
			row["semi_export_roc"] = stats.Ptr((exp[ym] - prev) / prev)
		}
		out[ym] = row
	}
	return out
}

// weeklyExternal builds the forward-filled indicator frame over the calendar weeks.
func weeklyExternal(cal []domain.CalendarWeek, ind []domain.EconomicIndicator, fx []domain.ExchangeRate, trade []domain.TradeStatistic) *frame {
	cal = append([]domain.CalendarWeek(nil), cal...)
	sort.Slice(cal, func(i, j int) bool { return cal[i].YearWeek < cal[j].YearWeek })

	periods := make([]string, len(cal))
	monthOf := make(map[string]string, len(cal))
	for i, w := range cal {
		periods[i] = w.YearWeek
		monthOf[w.YearWeek] = w.YearMonth
	}
	f := newFrame(periods)

	means := meanAcc{}
	weekLast := lastAcc{}
	monthLast := lastAcc{}
	for _, r := range ind {
		if r.Value == nil {
			continue
		}
		week := aggregation.YearWeek(r.Date)
		at := r.Date.Format("2006-01-02")
		if col, ok := dailyCodes[r.IndicatorCode]; ok {
			means.add(col, week, *r.Value)
		} else if col, ok := weeklyCodes[r.IndicatorCode]; ok {
			weekLast.add(col, week, at, *r.Value)
		} else if col, ok := monthlyCodes[r.IndicatorCode]; ok {
			monthLast.add(col, aggregation.YearMonth(r.Date), at, *r.Value)
		}
	}
	for _, r := range fx {
		if col, ok := currencyCols[r.BaseCurrency]; ok && r.Rate != nil {
			means.add(col, aggregation.YearWeek(r.RateDate), *r.Rate)
		}
	}
	means.apply(f)
	for col, byWeek := range weekLast {
		for w, d := range byWeek {
			f.set(col, w, d.v)
		}
	}

	trades := tradeByMonth(trade)
	for _, w := range periods {
		ym := monthOf[w]
		for col, byMonth := range monthLast {
			if d, ok := byMonth[ym]; ok {
				f.set(col, w, d.v)
			}
		}
		for col, v := range trades[ym] {
			if v != nil {
				f.set(col, w, *v)
			}
		}
	}

	f.forwardFill()
	return f
}

// monthlyExternal averages every indicator and rate per month, forward-filled
// over months. Daily-only series (baltic dry, copper) are not carried monthly.
func monthlyExternal(months []string, ind []domain.EconomicIndicator, fx []domain.ExchangeRate, trade []domain.TradeStatistic) *frame {
	f := newFrame(months)

	means := meanAcc{}
	for _, r := range ind {
		if r.Value == nil {
			continue
		}
		col, ok := monthlyMeanCol(r.IndicatorCode)
		if !ok {
			continue
		}
		means.add(col, aggregation.YearMonth(r.Date), *r.Value)
	}
	for _, r := range fx {
		if col, ok := currencyCols[r.BaseCurrency]; ok && r.Rate != nil {
			means.add(col, aggregation.YearMonth(r.RateDate), *r.Rate)
		}
	}
	means.apply(f)

	for ym, row := range tradeByMonth(trade) {
		for col, v := range row {
			if v != nil {
				f.set(col, ym, *v)
			}
		}
	}

	f.forwardFill()
	return f
}

func monthlyMeanCol(code string) (string, bool) {
	if code == "SOX" {
		return dailyCodes[code], true
	}
	if col, ok := weeklyCodes[code]; ok {
		return col, true
	}
	col, ok := monthlyCodes[code]
	return col, ok
}
