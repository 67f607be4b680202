package inventory

import (
	"context"
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

func collect(t *testing.T, g *Grid) []domain.InventoryEstimate {
	t.Helper()
	var out []domain.InventoryEstimate
	require.NoError(t, g.Each(func(e domain.InventoryEstimate) error {
		out = append(out, e)
		return nil
	}))
	return out
}

func TestCumulativeResetsEachMonth(t *testing.T) {
	snaps := []domain.InventorySnapshot{
		{SnapshotDate: "202401", ProductID: "P1", WarehouseCode: "A", InventoryQty: 60},
		{SnapshotDate: "202401", ProductID: "P1", WarehouseCode: "B", InventoryQty: 40},
		{SnapshotDate: "202402", ProductID: "P1", WarehouseCode: "A", InventoryQty: 500},
	}
	var prods []domain.DailyProduction
	var ships []domain.DailyRevenue
	for d := day(2024, 1, 29); !d.After(day(2024, 2, 3)); d = d.AddDate(0, 0, 1) {
		prods = append(prods, domain.DailyProduction{ProductionDate: d, ProductID: "P1", ProducedQty: 10})
		ships = append(ships, domain.DailyRevenue{RevenueDate: d, ProductID: "P1", Quantity: 4})
	}

	rows := collect(t, NewGrid(snaps, prods, ships))
	require.Len(t, rows, 6)

	assert.Equal(t, 100.0, rows[0].SnapshotBase)
	assert.Equal(t, 10.0, rows[0].CumulProduced)
	assert.Equal(t, 106.0, rows[0].EstimatedQty)
	assert.Equal(t, 30.0, rows[2].CumulProduced)
	assert.Equal(t, 12.0, rows[2].CumulShipped)

	feb1 := rows[3]
	assert.Equal(t, day(2024, 2, 1), feb1.TargetDate)
	assert.Equal(t, 500.0, feb1.SnapshotBase)
	assert.Equal(t, 10.0, feb1.CumulProduced, "reset on the first of the month")
	assert.Equal(t, 4.0, feb1.CumulShipped)

	for i := 1; i < len(rows); i++ {
		if rows[i].TargetDate.Day() == 1 {
			continue
		}
		assert.GreaterOrEqual(t, rows[i].CumulProduced, rows[i-1].CumulProduced)
		assert.GreaterOrEqual(t, rows[i].CumulShipped, rows[i-1].CumulShipped)
	}
}

func TestProductsOnlyInSnapshotsOrStreams(t *testing.T) {
	snaps := []domain.InventorySnapshot{{SnapshotDate: "202403", ProductID: "S", InventoryQty: 7}}
	ships := []domain.DailyRevenue{
		{RevenueDate: day(2024, 3, 1), ProductID: "R", Quantity: 2},
		{RevenueDate: day(2024, 3, 2), ProductID: "R", Quantity: 3},
	}

	rows := collect(t, NewGrid(snaps, nil, ships))
	require.Len(t, rows, 4)

	assert.Equal(t, "R", rows[0].ProductID)
	assert.Equal(t, -5.0, rows[1].EstimatedQty)
	assert.Equal(t, "S", rows[2].ProductID)
	assert.Equal(t, 7.0, rows[3].EstimatedQty)
}

type fakeStore struct {
	ships   []domain.DailyRevenue
	batches [][]domain.InventoryEstimate
}

func (f *fakeStore) InventorySnapshots(context.Context) ([]domain.InventorySnapshot, error) {
	return nil, nil
}
func (f *fakeStore) Productions(context.Context) ([]domain.DailyProduction, error) { return nil, nil }
func (f *fakeStore) Revenues(context.Context) ([]domain.DailyRevenue, error)       { return f.ships, nil }
func (f *fakeStore) SaveInventoryEstimates(_ context.Context, rows []domain.InventoryEstimate) (int, error) {
	f.batches = append(f.batches, rows)
	return len(rows), nil
}

func TestStageRun(t *testing.T) {
	store := &fakeStore{}
	_, err := New(store).Run(context.Background(), &pipeline.Env{})
	assert.ErrorIs(t, err, pipeline.ErrNothingToDo)

	store.ships = []domain.DailyRevenue{
		{RevenueDate: day(2024, 1, 1), ProductID: "P1", Quantity: 1},
		{RevenueDate: day(2024, 1, 10), ProductID: "P2", Quantity: 1},
	}
	res, err := New(store).Run(context.Background(), &pipeline.Env{})
	require.NoError(t, err)
	assert.Equal(t, 20, res.Rows)
	require.Len(t, store.batches, 1)
}
