package features

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andresuchdata/controltower/internal/aggregation"
	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/andresuchdata/controltower/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var firstMonday = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func val(v float64) *float64 { return &v }

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// weeks builds n consecutive weekly summaries whose order qty at week i is qty(i).
func weeks(product string, n int, qty func(i int) float64) []domain.WeeklyProductSummary {
	out := make([]domain.WeeklyProductSummary, n)
	for i := range out {
		start := firstMonday.AddDate(0, 0, 7*i)
		out[i] = domain.WeeklyProductSummary{
			ProductID: product,
			YearWeek:  aggregation.YearWeek(start),
			WeekStart: start,
			WeekEnd:   start.AddDate(0, 0, 6),
			PeriodTotals: domain.PeriodTotals{
				OrderQty:    qty(i),
				OrderAmount: 10 * qty(i),
				OrderCount:  1,
				RevenueQty:  2,
			},
			CustomerCount: 1,
		}
	}
	return out
}

func ascending(i int) float64 { return float64(i + 1) }

func byWeek(rows []domain.WeeklyFeatures) map[string]domain.WeeklyFeatures {
	out := make(map[string]domain.WeeklyFeatures, len(rows))
	for _, r := range rows {
		out[r.YearWeek] = r
	}
	return out
}

func weekKey(i int) string {
	return aggregation.YearWeek(firstMonday.AddDate(0, 0, 7*i))
}

func TestBuildWeeklyLagsAndTargets(t *testing.T) {
	rows := BuildWeekly(WeeklyInputs{
		Products: weeks("P1", 30, ascending),
		Calendar: aggregation.CalendarWeeks(firstMonday, firstMonday.AddDate(0, 0, 7*29)),
	})
	require.Len(t, rows, 29, "first week has no lag and is dropped")

	got := byWeek(rows)
	r := got[weekKey(10)]
	assert.Equal(t, val(10), r.OrderQtyLag1)
	assert.Equal(t, val(9), r.OrderQtyLag2)
	assert.Equal(t, val(3), r.OrderQtyLag8)
	assert.Nil(t, r.OrderQtyLag13)
	assert.Equal(t, val(8.5), r.OrderQtyMA4)
	assert.Equal(t, val(10), r.OrderQtyMax4)
	assert.Equal(t, val(7), r.OrderQtyMin4)
	assert.Equal(t, val(1.290994), r.OrderQtyStd4)
	assert.Equal(t, val(0.888889), r.OrderQtyRoc4w)
	assert.Equal(t, val(1), r.OrderQtyDiff1w)
	assert.Equal(t, val(4), r.OrderQtyDiff4w)
	assert.Equal(t, val(4), r.OrderQtyNonzero4w)
	assert.Equal(t, val(4.25), r.BookToBill4w)
	assert.Equal(t, val(10), r.OrderAvgValue)

	assert.Equal(t, val(12), r.Target1w)
	assert.Equal(t, val(25), r.Target2w)
	assert.Equal(t, val(54), r.Target4w)

	assert.Equal(t, 11, r.WeekNum)
	assert.Equal(t, 3, r.Month)
	assert.Equal(t, 1, r.Quarter)
	assert.False(t, r.IsHolidayWeek)
	assert.True(t, got[weekKey(1)].IsHolidayWeek)

	assert.Equal(t, val(30), got[weekKey(28)].Target1w)
	assert.Nil(t, got[weekKey(28)].Target2w)
	assert.Nil(t, got[weekKey(29)].Target1w)
}

func TestBuildWeeklyDropsShortHistory(t *testing.T) {
	products := append(weeks("P1", 27, ascending), weeks("P2", 26, ascending)...)
	rows := BuildWeekly(WeeklyInputs{Products: products})

	for _, r := range rows {
		assert.Equal(t, "P1", r.ProductID)
	}
	assert.Len(t, rows, 26)
}

// Features at week t must not move when weeks t and later change.
func TestBuildWeeklyHasNoLookahead(t *testing.T) {
	base := BuildWeekly(WeeklyInputs{Products: weeks("P1", 40, ascending)})

	for _, cut := range []int{3, 12, 27, 39} {
		perturbed := BuildWeekly(WeeklyInputs{Products: weeks("P1", 40, func(i int) float64 {
			if i >= cut {
				return 1e6 + float64(i)
			}
			return ascending(i)
		})})

		want, got := byWeek(base)[weekKey(cut)], byWeek(perturbed)[weekKey(cut)]
		want.Target1w, want.Target2w, want.Target4w = nil, nil, nil
		got.Target1w, got.Target2w, got.Target4w = nil, nil, nil
		assert.Equal(t, want, got, "week %d", cut)
	}

	// with a strictly increasing series every backward-looking value is
	// below the current period's own value
	for i, r := range base {
		current := ascending(i + 1)
		for name, f := range map[string]*float64{
			"lag1": r.OrderQtyLag1, "ma4": r.OrderQtyMA4, "ma26": r.OrderQtyMA26,
			"max4": r.OrderQtyMax4, "min4": r.OrderQtyMin4,
		} {
			require.NotNil(t, f, name)
			assert.Less(t, *f, current, "%s at row %d", name, i)
		}
	}
}

func TestBuildWeeklyJoinsPreviousPeriod(t *testing.T) {
	products := weeks("P1", 30, ascending)
	placed, received, reordered := date(2024, 1, 1), date(2024, 1, 11), date(2024, 2, 1)

	rows := BuildWeekly(WeeklyInputs{
		Products: products,
		Calendar: aggregation.CalendarWeeks(firstMonday, firstMonday.AddDate(0, 0, 7*29)),
		Customers: []domain.WeeklyCustomerSummary{
			{ProductID: "P1", CustomerID: "C1", YearWeek: weekKey(9), PeriodTotals: domain.PeriodTotals{OrderQty: 3}},
			{ProductID: "P1", CustomerID: "C2", YearWeek: weekKey(9), PeriodTotals: domain.PeriodTotals{OrderQty: 1}},
		},
		Inventory: []domain.InventorySnapshot{
			{SnapshotDate: "202403", ProductID: "P1", WarehouseCode: "W1", InventoryQty: 60},
			{SnapshotDate: "202403", ProductID: "P1", WarehouseCode: "W2", InventoryQty: 40},
		},
		POs: []domain.PurchaseOrder{
			{ComponentProductID: "P1", Status: domain.POStatusFulfilled, PODate: &placed, ReceiptDate: &received, UnitPrice: val(2)},
			{ComponentProductID: "P1", Status: "R", PODate: &reordered, UnitPrice: val(4)},
		},
		Indicators: []domain.EconomicIndicator{
			{IndicatorCode: "SOX", Date: date(2024, 1, 2), Value: val(100)},
			{IndicatorCode: "SOX", Date: date(2024, 1, 3), Value: val(110)},
			{IndicatorCode: "FEDFUNDS", Date: date(2024, 2, 15), Value: val(5.25)},
		},
		Rates: []domain.ExchangeRate{
			{BaseCurrency: "USD", RateDate: date(2024, 1, 3), Rate: val(1300)},
			{BaseCurrency: "USD", RateDate: date(2024, 1, 4), Rate: val(1310)},
		},
		Trade: []domain.TradeStatistic{
			{HSCode: "8542", YearMonth: "202401", ExportAmount: 100, ImportAmount: 40},
			{HSCode: "8542", YearMonth: "202402", ExportAmount: 150, ImportAmount: 50},
		},
	})
	got := byWeek(rows)

	assert.Nil(t, got[weekKey(9)].CustomerHHI)
	r := got[weekKey(10)]
	assert.Equal(t, val(75), r.Top1CustomerPct)
	assert.Equal(t, val(100), r.Top3CustomerPct)
	assert.Equal(t, val(0.625), r.CustomerHHI)

	assert.Equal(t, val(100), r.InventoryQty)
	assert.Equal(t, val(11.764706), r.InventoryWeeks)
	assert.Equal(t, val(10), r.AvgLeadDays)
	assert.Equal(t, val(3), r.AvgUnitPrice)

	// week 1 sees week 0's indicators; later weeks inherit them by forward fill
	assert.Equal(t, val(105), got[weekKey(1)].SoxIndex)
	assert.Equal(t, val(1305), got[weekKey(1)].UsdKrw)
	assert.Equal(t, val(105), got[weekKey(6)].SoxIndex)

	// week 4 (starting Jan 29) has its Thursday in February
	assert.Nil(t, got[weekKey(4)].FedFundsRate)
	assert.Equal(t, val(5.25), got[weekKey(5)].FedFundsRate)
	assert.Equal(t, val(150), got[weekKey(5)].SemiExportAmt)
	assert.Equal(t, val(100), got[weekKey(5)].SemiTradeBalance)
	assert.Equal(t, val(0.5), got[weekKey(5)].SemiExportRoc)
	assert.Equal(t, val(100), got[weekKey(2)].SemiExportAmt)
	assert.Nil(t, got[weekKey(2)].SemiExportRoc)
}

func TestBuildWeeklyFillsMissingWeeks(t *testing.T) {
	var sparse []domain.WeeklyProductSummary
	for i, r := range weeks("P1", 59, ascending) {
		if i%2 == 0 {
			sparse = append(sparse, r)
		}
	}

	rows := BuildWeekly(WeeklyInputs{Products: sparse})
	require.Len(t, rows, 58, "gap weeks are emitted with zero demand")
	got := byWeek(rows)

	r := got[weekKey(2)]
	assert.Equal(t, val(0), r.OrderQtyLag1)
	assert.Equal(t, val(1), r.OrderQtyLag2)
	assert.Equal(t, val(0), r.Target1w)
	assert.Equal(t, val(5), r.Target2w)

	r = got[weekKey(4)]
	assert.Equal(t, val(1), r.OrderQtyMA4)
	assert.Equal(t, val(2), r.OrderQtyNonzero4w)

	filled := got[weekKey(3)]
	assert.Equal(t, "P1", filled.ProductID)
	assert.Equal(t, firstMonday.AddDate(0, 0, 21), filled.WeekStart)
	assert.Equal(t, val(3), filled.OrderQtyLag1)
}

func TestBuildWeeklySupplyUsesOnlyEarlierOrders(t *testing.T) {
	placed, received := date(2024, 7, 15), date(2024, 7, 22)
	rows := BuildWeekly(WeeklyInputs{
		Products: weeks("P1", 35, ascending),
		POs: []domain.PurchaseOrder{
			{ComponentProductID: "P1", Status: domain.POStatusFulfilled, PODate: &placed, ReceiptDate: &received, UnitPrice: val(5)},
		},
	})
	got := byWeek(rows)

	early := got[weekKey(1)]
	assert.Nil(t, early.AvgLeadDays)
	assert.Nil(t, early.AvgUnitPrice)

	// week 29 starts on the receipt date: the price is known, the lead time is not
	received29 := got[weekKey(29)]
	assert.Nil(t, received29.AvgLeadDays)
	assert.Equal(t, val(5), received29.AvgUnitPrice)

	assert.Equal(t, val(7), got[weekKey(30)].AvgLeadDays)
}

func TestCustomerShares(t *testing.T) {
	k := key{"P1", "2024-W01"}
	shares := customerShares(map[key]map[string]float64{
		k:                  {"A": 5, "B": 3, "C": 1, "D": 1},
		{"P1", "2024-W02"}: {"A": 0},
	})

	assert.Equal(t, 50.0, shares[k].top1)
	assert.Equal(t, 90.0, shares[k].top3)
	assert.Equal(t, 0.36, shares[k].hhi)
	assert.Equal(t, concentration{}, shares[key{"P1", "2024-W02"}])
}

func months(product string, n int) []domain.MonthlyProductSummary {
	out := make([]domain.MonthlyProductSummary, n)
	for i := range out {
		out[i] = domain.MonthlyProductSummary{
			ProductID:    product,
			YearMonth:    aggregation.YearMonth(date(2024, time.Month(i+1), 1)),
			PeriodTotals: domain.PeriodTotals{OrderQty: float64(i + 1), RevenueQty: 1},
		}
	}
	return out
}

func TestBuildMonthly(t *testing.T) {
	rows := BuildMonthly(MonthlyInputs{
		Products: append(months("P1", 8), months("P2", 6)...),
		Inventory: []domain.InventorySnapshot{
			{SnapshotDate: "202403", ProductID: "P1", InventoryQty: 12},
		},
	})
	require.Len(t, rows, 7)

	r := rows[2]
	assert.Equal(t, "2024-04", r.YearMonth)
	assert.Equal(t, date(2024, 4, 1), r.MonthStart)
	assert.Equal(t, val(3), r.OrderQtyLag1)
	assert.Equal(t, val(2), r.OrderQtyMA3)
	assert.Equal(t, val(1), r.OrderQtyDiff1m)
	assert.Nil(t, r.OrderQtyDiff3m)
	assert.Equal(t, val(5), r.Target1m)
	assert.Equal(t, val(18), r.Target3m)
	assert.Nil(t, r.Target6m)
	assert.Equal(t, 4, r.Month)
	assert.Equal(t, 2, r.Quarter)
	assert.False(t, r.IsYearEnd)

	assert.Equal(t, val(12), r.InventoryQty, "April reads March inventory")
	assert.Equal(t, val(6), r.InventoryMonths)
	assert.Nil(t, rows[1].InventoryQty)
}

func TestBuildMonthlyFillsMissingMonths(t *testing.T) {
	var sparse []domain.MonthlyProductSummary
	for _, r := range months("P1", 9) {
		if r.YearMonth != "2024-04" {
			sparse = append(sparse, r)
		}
	}

	rows := BuildMonthly(MonthlyInputs{Products: sparse})
	require.Len(t, rows, 8)

	assert.Equal(t, val(0), rows[1].Target1m, "March looks ahead to the empty April")
	assert.Equal(t, "2024-04", rows[2].YearMonth)
	assert.Equal(t, val(3), rows[2].OrderQtyLag1)

	may := rows[3]
	assert.Equal(t, "2024-05", may.YearMonth)
	assert.Equal(t, val(0), may.OrderQtyLag1)
	assert.Equal(t, val(3), may.OrderQtyLag2)
}

type fakeStore struct {
	Store
	weekly []domain.WeeklyProductSummary
	saved  []domain.WeeklyFeatures
}

func (f *fakeStore) WeeklyProductSummaries(context.Context) ([]domain.WeeklyProductSummary, error) {
	return f.weekly, nil
}
func (f *fakeStore) WeeklyCustomerSummaries(context.Context) ([]domain.WeeklyCustomerSummary, error) {
	return nil, nil
}
func (f *fakeStore) CalendarWeeks(context.Context) ([]domain.CalendarWeek, error) { return nil, nil }
func (f *fakeStore) InventorySnapshots(context.Context) ([]domain.InventorySnapshot, error) {
	return nil, nil
}
func (f *fakeStore) PurchaseOrders(context.Context) ([]domain.PurchaseOrder, error) { return nil, nil }
func (f *fakeStore) EconomicIndicators(context.Context) ([]domain.EconomicIndicator, error) {
	return nil, nil
}
func (f *fakeStore) ExchangeRates(context.Context) ([]domain.ExchangeRate, error) { return nil, nil }
func (f *fakeStore) TradeStatistics(context.Context) ([]domain.TradeStatistic, error) {
	return nil, nil
}
func (f *fakeStore) SaveWeeklyFeatures(_ context.Context, rows []domain.WeeklyFeatures) (int, error) {
	f.saved = append(f.saved, rows...)
	return len(rows), nil
}

func TestWeeklyStageRun(t *testing.T) {
	env := pipeline.NewEnv(nil, firstMonday, false, "run")

	_, err := NewWeekly(&fakeStore{}).Run(context.Background(), env)
	assert.True(t, errors.Is(err, pipeline.ErrMissingUpstream))

	store := &fakeStore{weekly: weeks("P1", 5, ascending)}
	_, err = NewWeekly(store).Run(context.Background(), env)
	assert.True(t, errors.Is(err, pipeline.ErrNothingToDo))

	store.weekly = weeks("P1", 30, ascending)
	res, err := NewWeekly(store).Run(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, 29, res.Rows)
	assert.Equal(t, domain.WeeklyFeatureVersion, res.Note)
	assert.Len(t, store.saved, 29)
}
