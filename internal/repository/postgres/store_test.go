package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/andresuchdata/controltower/internal/config"
	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewStore(db, config.PipelineConfig{BatchSize: 2, PageSize: 2, MaxRetries: 3})
	s.sleep = func(context.Context, time.Duration) error { return nil }
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(v float64) *float64 { return &v }

func TestFetchAllPagesUntilShortPage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	orders := []domain.DailyOrder{
		{OrderDate: day(2024, 1, 1), CustomerID: "C1", ProductID: "P1", OrderQty: 1, Status: "F"},
		{OrderDate: day(2024, 1, 2), CustomerID: "C1", ProductID: "P1", OrderQty: 2, Status: "F"},
		{OrderDate: day(2024, 1, 3), CustomerID: "C2", ProductID: "P2", OrderQty: 3, Status: "F"},
		{OrderDate: day(2024, 1, 4), CustomerID: "C2", ProductID: "P2", OrderQty: 4, Status: "F"},
		{OrderDate: day(2024, 1, 5), CustomerID: "C3", ProductID: "P3", OrderQty: 5, Status: "R"},
	}
	n, err := s.InsertOrders(ctx, orders)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	got, err := s.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, o := range got {
		assert.Equal(t, float64(i+1), o.OrderQty)
		assert.True(t, o.OrderDate.Equal(orders[i].OrderDate))
	}

	since, err := s.OrdersSince(ctx, day(2024, 1, 4))
	require.NoError(t, err)
	assert.Len(t, since, 2)
}

func TestUpsertOverwritesOnNaturalKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	evalDate := day(2024, 3, 1)
	_, err := s.SaveRiskScores(ctx, []domain.RiskScore{
		{ProductID: "P1", EvalDate: evalDate, TotalRisk: 10, RiskGrade: "A"},
		{ProductID: "P2", EvalDate: evalDate, TotalRisk: 50, RiskGrade: "C"},
	})
	require.NoError(t, err)

	_, err = s.SaveRiskScores(ctx, []domain.RiskScore{
		{ProductID: "P1", EvalDate: evalDate, TotalRisk: 85, RiskGrade: "F", InventoryDays: ptr(3.5)},
	})
	require.NoError(t, err)

	rows, err := s.RiskScores(ctx, domain.RiskFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "P1", rows[0].ProductID)
	assert.Equal(t, "F", rows[0].RiskGrade)
	require.NotNil(t, rows[0].InventoryDays)
	assert.InDelta(t, 3.5, *rows[0].InventoryDays, 1e-9)
	assert.Nil(t, rows[1].InventoryDays)

	graded, err := s.RiskScores(ctx, domain.RiskFilter{Grade: "C"})
	require.NoError(t, err)
	require.Len(t, graded, 1)
	assert.Equal(t, "P2", graded[0].ProductID)
}

func TestUpsertFlattensEmbeddedColumns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	row := domain.WeeklyProductSummary{
		ProductID: "P1", YearWeek: "2024-W01",
		WeekStart: day(2024, 1, 1), WeekEnd: day(2024, 1, 7),
		PeriodTotals: domain.PeriodTotals{OrderQty: 12, OrderCount: 3},
		CustomerCount: 2,
	}
	_, err := s.SaveWeeklyProductSummaries(ctx, []domain.WeeklyProductSummary{row})
	require.NoError(t, err)

	row.OrderQty = 20
	_, err = s.SaveWeeklyProductSummaries(ctx, []domain.WeeklyProductSummary{row})
	require.NoError(t, err)

	got, err := s.WeeklyProductSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 20.0, got[0].OrderQty)
	assert.Equal(t, 3, got[0].OrderCount)
}

func TestReplacePendingActionsKeepsOtherStatuses(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	evalDate := day(2024, 3, 1)
	first := []domain.Action{
		{ProductID: "P1", EvalDate: evalDate, RiskType: domain.RiskStockout, Status: domain.ActionStatusPending},
		{ProductID: "P2", EvalDate: evalDate, RiskType: domain.RiskExcess, Status: domain.ActionStatusPending},
		{ProductID: "P3", EvalDate: evalDate, RiskType: domain.RiskMargin, Status: "done"},
	}
	_, err := s.ReplacePendingActions(ctx, evalDate, first)
	require.NoError(t, err)

	_, err = s.ReplacePendingActions(ctx, evalDate, []domain.Action{
		{ProductID: "P1", EvalDate: evalDate, RiskType: domain.RiskStockout, Status: domain.ActionStatusPending},
	})
	require.NoError(t, err)

	all, err := s.Actions(ctx, evalDate, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := s.Actions(ctx, evalDate, domain.ActionStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "P1", pending[0].ProductID)

	latest, err := s.LatestActionDate(ctx)
	require.NoError(t, err)
	assert.True(t, latest.Equal(evalDate))
}

func TestMissingTableReadsAsEmpty(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.DB().ExecContext(ctx, "DROP TABLE trade_statistics")
	require.NoError(t, err)

	rows, err := s.TradeStatistics(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLatestQueries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.InsertForecasts(ctx, []domain.Forecast{
		{ModelID: "m", ProductID: "P1", ForecastDate: day(2024, 1, 1), HorizonDays: 7, P50: 1},
		{ModelID: "m", ProductID: "P1", ForecastDate: day(2024, 1, 8), HorizonDays: 7, P50: 2},
		{ModelID: "m", ProductID: "P1", ForecastDate: day(2024, 1, 15), HorizonDays: 7, P50: 99, ActualQty: ptr(5)},
		{ModelID: "m", ProductID: "P1", ForecastDate: day(2024, 1, 1), HorizonDays: 28, P50: 3},
		{ModelID: "m", ProductID: "P2", ForecastDate: day(2024, 1, 8), HorizonDays: 7, P50: 4},
	})
	require.NoError(t, err)

	fc, err := s.LatestForwardForecasts(ctx)
	require.NoError(t, err)
	require.Len(t, fc, 3)
	byKey := map[string]float64{}
	for _, f := range fc {
		byKey[fmt.Sprintf("%s/%d", f.ProductID, f.HorizonDays)] = f.P50
	}
	assert.Equal(t, map[string]float64{"P1/7": 2, "P1/28": 3, "P2/7": 4}, byKey)

	_, err = s.SaveLeadTimes(ctx, []domain.LeadTimeStat{
		{ProductID: "C1", SupplierCode: domain.SupplierAll, CalcDate: day(2024, 1, 1), AvgLeadDays: 5},
		{ProductID: "C1", SupplierCode: domain.SupplierAll, CalcDate: day(2024, 2, 1), AvgLeadDays: 9},
		{ProductID: "C1", SupplierCode: "S1", CalcDate: day(2024, 3, 1), AvgLeadDays: 1},
	})
	require.NoError(t, err)

	lt, err := s.LatestLeadTimes(ctx)
	require.NoError(t, err)
	require.Len(t, lt, 1)
	assert.Equal(t, 9.0, lt[0].AvgLeadDays)

	_, err = s.InsertInventorySnapshots(ctx, []domain.InventorySnapshot{
		{SnapshotDate: "202401", ProductID: "P1", WarehouseCode: "W1", InventoryQty: 100},
		{SnapshotDate: "202402", ProductID: "P1", WarehouseCode: "W1", InventoryQty: 40},
		{SnapshotDate: "202402", ProductID: "P1", WarehouseCode: "W2", InventoryQty: 10},
	})
	require.NoError(t, err)

	inv, err := s.LatestInventory(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"P1": 50}, inv)
}

func TestInsertForecastsReplacesSameRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	run := day(2024, 5, 1)
	rows := []domain.Forecast{
		{ModelID: "m", ProductID: "P", ForecastDate: run, TargetDate: day(2024, 5, 8), HorizonDays: 7, P50: 10},
		{ModelID: "m", ProductID: "P", ForecastDate: run, TargetDate: day(2024, 5, 29), HorizonDays: 28, P50: 40},
		{ModelID: "m", ProductID: "Q", ForecastDate: day(2024, 4, 24), HorizonDays: 7, P50: 3},
	}
	_, err := s.InsertForecasts(ctx, rows)
	require.NoError(t, err)

	// a rerun of the same day, flushed in two calls
	rows[0].P50 = 12
	_, err = s.InsertForecasts(ctx, rows[:1])
	require.NoError(t, err)
	_, err = s.InsertForecasts(ctx, rows[1:2])
	require.NoError(t, err)

	fc, err := s.LatestForwardForecasts(ctx)
	require.NoError(t, err)
	require.Len(t, fc, 3)
	byKey := map[string]float64{}
	for _, f := range fc {
		byKey[fmt.Sprintf("%s/%d", f.ProductID, f.HorizonDays)] = f.P50
	}
	assert.Equal(t, map[string]float64{"P/7": 12, "P/28": 40, "Q/7": 3}, byKey)

	var stored int
	require.NoError(t, s.DB().GetContext(ctx, &stored, "SELECT COUNT(*) FROM forecast_result"))
	assert.Equal(t, 3, stored)
}

func TestLatestPlansUseNewestPlanDate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.SaveProductionPlans(ctx, []domain.ProductionPlan{
		{ProductID: "P1", PlanDate: day(2024, 1, 1), PlanHorizon: domain.PlanHorizonWeekly, PlannedQty: 10},
		{ProductID: "P2", PlanDate: day(2024, 1, 8), PlanHorizon: domain.PlanHorizonWeekly, PlannedQty: 20},
		{ProductID: "P3", PlanDate: day(2024, 1, 8), PlanHorizon: domain.PlanHorizonWeekly, PlannedQty: 30},
	})
	require.NoError(t, err)

	plans, err := s.LatestProductionPlans(ctx)
	require.NoError(t, err)
	ids := make([]string, len(plans))
	for i, p := range plans {
		ids[i] = p.ProductID
	}
	assert.ElementsMatch(t, []string{"P2", "P3"}, ids)
}

func TestStageRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	run := &domain.StageRun{
		ID: "run-1", StageKey: "0", StageName: "aggregation",
		Status: domain.RunRunning, StartedAt: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.CreateRun(ctx, run))

	done := run.StartedAt.Add(time.Minute)
	run.Status, run.RowsWritten, run.CompletedAt = domain.RunCompleted, 42, &done
	require.NoError(t, s.UpdateRun(ctx, run))

	runs, err := s.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunCompleted, runs[0].Status)
	assert.Equal(t, 42, runs[0].RowsWritten)
	require.NotNil(t, runs[0].CompletedAt)

	err = s.UpdateRun(ctx, &domain.StageRun{ID: "missing"})
	assert.Error(t, err)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	s := newTestStore(t)

	calls := 0
	err := s.retry(context.Background(), "op", func() error {
		calls++
		return errors.New("syntax error")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)

	calls = 0
	err = s.retry(context.Background(), "op", func() error {
		calls++
		return errors.New("database is locked")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestBuildUpsert(t *testing.T) {
	stmt := buildUpsert("t", []string{"a", "b", "c"}, []string{"a"})
	assert.Equal(t, "INSERT INTO t (a, b, c) VALUES (:a, :b, :c) ON CONFLICT (a) DO UPDATE SET b = EXCLUDED.b, c = EXCLUDED.c", stmt)

	assert.Equal(t, "INSERT INTO t (a) VALUES (:a)", buildUpsert("t", []string{"a"}, nil))
	assert.Contains(t, buildUpsert("t", []string{"a"}, []string{"a"}), "DO NOTHING")
}
