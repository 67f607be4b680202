package aggregation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/andresuchdata/controltower/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCalendarWeeks(t *testing.T) {
	weeks := CalendarWeeks(day(2023, 12, 31), day(2024, 1, 10))
	require.Len(t, weeks, 3)

	assert.Equal(t, "2023-W52", weeks[0].YearWeek)
	assert.Equal(t, day(2023, 12, 25), weeks[0].WeekStart)
	assert.Equal(t, day(2023, 12, 31), weeks[0].WeekEnd)
	assert.Equal(t, "2023-12", weeks[0].YearMonth)
	assert.Equal(t, 4, weeks[0].Quarter)

	assert.Equal(t, "2024-W01", weeks[1].YearWeek)
	assert.Equal(t, 2024, weeks[1].Year)
	assert.Equal(t, 1, weeks[1].WeekNum)
	assert.Equal(t, "2024-W02", weeks[2].YearWeek)
}

func TestCalendarMonthFollowsThursday(t *testing.T) {
	weeks := CalendarWeeks(day(2024, 1, 30), day(2024, 1, 30))
	require.Len(t, weeks, 1)
	assert.Equal(t, "2024-W05", weeks[0].YearWeek)
	assert.Equal(t, day(2024, 1, 29), weeks[0].WeekStart)
	assert.Equal(t, "2024-02", weeks[0].YearMonth)

	weeks = CalendarWeeks(day(2021, 1, 1), day(2021, 1, 1))
	require.Len(t, weeks, 1)
	assert.Equal(t, "2020-W53", weeks[0].YearWeek)
	assert.Equal(t, "2020-12", weeks[0].YearMonth)
}

func TestBuildSummaries(t *testing.T) {
	orders := []domain.DailyOrder{
		{OrderDate: day(2024, 1, 2), CustomerID: "C1", ProductID: "P1", OrderQty: 0.1, OrderAmount: 10},
		{OrderDate: day(2024, 1, 3), CustomerID: "C2", ProductID: "P1", OrderQty: 0.2, OrderAmount: 20},
		{OrderDate: day(2023, 12, 31), CustomerID: "C1", ProductID: "P1", OrderQty: 5, OrderAmount: 50},
	}
	revenues := []domain.DailyRevenue{
		{RevenueDate: day(2024, 1, 4), CustomerID: "C3", ProductID: "P1", Quantity: 7, RevenueAmount: 70},
	}
	productions := []domain.DailyProduction{
		{ProductionDate: day(2024, 1, 5), ProductID: "P2", ProducedQty: 40},
		{ProductionDate: day(2024, 1, 6), ProductID: "P2", ProducedQty: 60},
	}

	out, ok := Build(orders, revenues, productions)
	require.True(t, ok)
	require.Len(t, out.Calendar, 2)

	require.Len(t, out.WeeklyProduct, 3)
	w52, w01, p2 := out.WeeklyProduct[0], out.WeeklyProduct[1], out.WeeklyProduct[2]

	assert.Equal(t, "2023-W52", w52.YearWeek)
	assert.Equal(t, 5.0, w52.OrderQty)

	assert.Equal(t, "2024-W01", w01.YearWeek)
	assert.Equal(t, day(2024, 1, 1), w01.WeekStart)
	assert.Equal(t, day(2024, 1, 7), w01.WeekEnd)
	assert.Equal(t, 0.3, w01.OrderQty)
	assert.Equal(t, 2, w01.OrderCount)
	assert.Equal(t, 7.0, w01.RevenueQty)
	assert.Equal(t, 1, w01.RevenueCount)
	assert.Equal(t, 2, w01.CustomerCount, "max of distinct order and revenue customers")
	assert.Zero(t, w01.ProducedQty)

	assert.Equal(t, "P2", p2.ProductID)
	assert.Equal(t, 100.0, p2.ProducedQty)
	assert.Equal(t, 2, p2.ProductionCount)
	assert.Zero(t, p2.OrderQty)
	assert.Zero(t, p2.CustomerCount)

	var customers []string
	for _, c := range out.WeeklyCustomer {
		if c.YearWeek == "2024-W01" {
			customers = append(customers, c.CustomerID)
		}
	}
	assert.Equal(t, []string{"C1", "C2", "C3"}, customers)

	require.Len(t, out.MonthlyProduct, 3)
	assert.Equal(t, "2023-12", out.MonthlyProduct[0].YearMonth, "monthly uses the date's own month")
	assert.Equal(t, "2024-01", out.MonthlyProduct[1].YearMonth)
	assert.Equal(t, 0.3, out.MonthlyProduct[1].OrderQty)
	assert.Len(t, out.MonthlyCustomer, 4)
}

func TestBuildWithoutFacts(t *testing.T) {
	_, ok := Build(nil, nil, nil)
	assert.False(t, ok)

	out, ok := Build([]domain.DailyOrder{{ProductID: "P1", OrderQty: 3}}, nil, nil)
	assert.False(t, ok)
	assert.Equal(t, 1, out.Discarded)
}

func TestBuildCountsDiscardedFacts(t *testing.T) {
	orders := []domain.DailyOrder{
		{OrderDate: day(2024, 1, 2), CustomerID: "C1", ProductID: "P1", OrderQty: 1},
		{CustomerID: "C1", ProductID: "P1", OrderQty: 50},
		{OrderDate: day(2024, 1, 3), CustomerID: "C1", OrderQty: 9},
	}
	revenues := []domain.DailyRevenue{{CustomerID: "C1", ProductID: "P1", Quantity: 4}}
	productions := []domain.DailyProduction{
		{ProductID: "P1", ProducedQty: 8},
		{ProductionDate: day(2024, 1, 4), ProductID: "P1", ProducedQty: 2},
	}

	out, ok := Build(orders, revenues, productions)
	require.True(t, ok)
	assert.Equal(t, 4, out.Discarded)

	require.Len(t, out.WeeklyProduct, 1)
	assert.Equal(t, 1.0, out.WeeklyProduct[0].OrderQty)
	assert.Zero(t, out.WeeklyProduct[0].RevenueQty)
	assert.Equal(t, 2.0, out.WeeklyProduct[0].ProducedQty)
	require.Len(t, out.MonthlyProduct, 1)
	assert.Equal(t, 1, out.MonthlyProduct[0].OrderCount)
}

type fakeStore struct {
	orders []domain.DailyOrder
	saved  map[string]int
}

func (f *fakeStore) Orders(context.Context) ([]domain.DailyOrder, error) { return f.orders, nil }
func (f *fakeStore) Revenues(context.Context) ([]domain.DailyRevenue, error) {
	return nil, nil
}
func (f *fakeStore) Productions(context.Context) ([]domain.DailyProduction, error) {
	return nil, nil
}
func (f *fakeStore) count(table string, n int) (int, error) {
	if f.saved == nil {
		f.saved = map[string]int{}
	}
	f.saved[table] += n
	return n, nil
}
func (f *fakeStore) SaveCalendarWeeks(_ context.Context, r []domain.CalendarWeek) (int, error) {
	return f.count("calendar", len(r))
}
func (f *fakeStore) SaveWeeklyProductSummaries(_ context.Context, r []domain.WeeklyProductSummary) (int, error) {
	return f.count("weekly_product", len(r))
}
func (f *fakeStore) SaveWeeklyCustomerSummaries(_ context.Context, r []domain.WeeklyCustomerSummary) (int, error) {
	return f.count("weekly_customer", len(r))
}
func (f *fakeStore) SaveMonthlyProductSummaries(_ context.Context, r []domain.MonthlyProductSummary) (int, error) {
	return f.count("monthly_product", len(r))
}
func (f *fakeStore) SaveMonthlyCustomerSummaries(_ context.Context, r []domain.MonthlyCustomerSummary) (int, error) {
	return f.count("monthly_customer", len(r))
}

func TestStageRun(t *testing.T) {
	store := &fakeStore{}
	_, err := New(store).Run(context.Background(), &pipeline.Env{})
	assert.True(t, errors.Is(err, pipeline.ErrNothingToDo))

	store.orders = []domain.DailyOrder{
		{OrderDate: day(2024, 1, 2), CustomerID: "C1", ProductID: "P1", OrderQty: 1},
		{OrderDate: day(2024, 2, 2), CustomerID: "C1", ProductID: "P1", OrderQty: 1},
		{CustomerID: "C1", ProductID: "P1", OrderQty: 1},
	}
	res, err := New(store).Run(context.Background(), &pipeline.Env{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 5, store.saved["calendar"])
	assert.Equal(t, 2, store.saved["weekly_product"])
	assert.Equal(t, 2, store.saved["monthly_customer"])
	assert.Equal(t, 5+2+2+2+2, res.Rows)
}
