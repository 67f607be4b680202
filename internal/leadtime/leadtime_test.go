package leadtime

import (
	"context"
	"testing"
	"time"

	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/andresuchdata/controltower/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func po(product, supplier, status string, placed, received *time.Time) domain.PurchaseOrder {
	return domain.PurchaseOrder{
		ComponentProductID: product,
		SupplierCode:       supplier,
		Status:             status,
		PODate:             placed,
		ReceiptDate:        received,
	}
}

func at(d int) *time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
	return &t
}

func TestCollectDiscardsInvalidRows(t *testing.T) {
	s := Collect([]domain.PurchaseOrder{
		po("C1", "S1", "F", at(0), at(5)),
		po("C1", "S1", "F", at(0), at(9)),
		po("C1", "S1", "R", at(0), at(2)),
		po("C1", "S2", "F", at(10), at(3)),
		po("C1", "S2", "F", nil, at(3)),
	})

	assert.Equal(t, 2, s.Valid)
	assert.Equal(t, 2, s.Discarded)
	assert.Equal(t, []float64{5, 9}, s.ByPair[Pair{"C1", "S1"}])
	assert.NotContains(t, s.ByPair, Pair{"C1", "S2"})
}

func TestSummarize(t *testing.T) {
	calc := time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)
	rows := Summarize(map[Pair][]float64{
		{"C1", "S1"}: {1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		{"C1", "S2"}: {20},
	}, calc)
	require.Len(t, rows, 3)

	all := rows[0]
	assert.Equal(t, domain.SupplierAll, all.SupplierCode)
	assert.Equal(t, 11, all.SampleCount)
	assert.Equal(t, 20.0, all.MaxLeadDays)
	assert.Equal(t, 10.0, all.P90LeadDays)
	assert.Equal(t, 6.82, all.AvgLeadDays)

	s1 := rows[1]
	assert.Equal(t, "S1", s1.SupplierCode)
	assert.Equal(t, 5.5, s1.AvgLeadDays)
	assert.Equal(t, 5.5, s1.MedLeadDays)
	assert.Equal(t, 10.0, s1.P90LeadDays)
	assert.Equal(t, 1.0, s1.MinLeadDays)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), s1.CalcDate)

	s2 := rows[2]
	assert.Equal(t, 20.0, s2.P90LeadDays)
	assert.Equal(t, 1, s2.SampleCount)
}

type fakeStore struct {
	pos   []domain.PurchaseOrder
	saved []domain.LeadTimeStat
}

func (f *fakeStore) PurchaseOrders(context.Context) ([]domain.PurchaseOrder, error) { return f.pos, nil }
func (f *fakeStore) SaveLeadTimes(_ context.Context, rows []domain.LeadTimeStat) (int, error) {
	f.saved = rows
	return len(rows), nil
}

func TestStageRun(t *testing.T) {
	store := &fakeStore{pos: []domain.PurchaseOrder{
		po("C1", "S1", "F", at(0), at(4)),
		po("C1", "S1", "F", at(5), at(1)),
	}}
	env := &pipeline.Env{Today: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}

	res, err := New(store).Run(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, store.saved, 2)

	store.pos = nil
	_, err = New(store).Run(context.Background(), env)
	assert.ErrorIs(t, err, pipeline.ErrNothingToDo)
}
