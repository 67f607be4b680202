package actions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andresuchdata/controltower/internal/config"
	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/andresuchdata/controltower/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var today = time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

func val(v float64) *float64 { return &v }

func TestSeverity(t *testing.T) {
	tests := []struct {
		sub, total float64
		want       string
	}{
		{95, 70, domain.LevelCritical},
		{95, 50, domain.LevelHigh},
		{80, 45, domain.LevelHigh},
		{65, 61, domain.LevelHigh},
		{65, 45, domain.LevelMedium},
		{41, 41, domain.LevelMedium},
		{40, 90, domain.LevelLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Severity(tt.sub, tt.total), "sub %v total %v", tt.sub, tt.total)
	}
}

func TestActionType(t *testing.T) {
	assert.Equal(t, domain.ActionExpeditePO, ActionType(domain.RiskStockout, 61))
	assert.Equal(t, domain.ActionIncreaseProduction, ActionType(domain.RiskStockout, 60))
	assert.Equal(t, domain.ActionReduceProduction, ActionType(domain.RiskExcess, 90))
	assert.Equal(t, domain.ActionExpediteProduction, ActionType(domain.RiskDelivery, 90))
	assert.Equal(t, domain.ActionAdjustPrice, ActionType(domain.RiskMargin, 90))
}

func TestGenerateSingleStockoutAction(t *testing.T) {
	in := Inputs{
		Scores: []domain.RiskScore{{
			ProductID:     "P1",
			EvalDate:      today,
			StockoutRisk:  65,
			TotalRisk:     41,
			InventoryQty:  20,
			InventoryDays: val(2),
			SafetyStock:   50,
		}},
		Products: []domain.Product{{Code: "P1", Name: "Widget"}},
	}

	got := Generate(in, config.Defaults().Risk)
	require.Len(t, got, 1)
	a := got[0]
	assert.Equal(t, domain.ActionExpeditePO, a.ActionType)
	assert.Equal(t, domain.RiskStockout, a.RiskType)
	assert.Equal(t, domain.LevelMedium, a.Severity)
	assert.Equal(t, domain.ActionStatusPending, a.Status)
	assert.Equal(t, today, a.EvalDate)
	assert.Contains(t, a.Description, "[Widget]")
	assert.Contains(t, a.Description, "2 days of inventory")
	require.NotNil(t, a.SuggestedQty)
	assert.Equal(t, 30.0, *a.SuggestedQty, "safety stock gap")
}

func TestGenerateThresholds(t *testing.T) {
	in := Inputs{Scores: []domain.RiskScore{
		{ProductID: "LOW", TotalRisk: 40, StockoutRisk: 100},
		{ProductID: "SUB", TotalRisk: 55, StockoutRisk: 40, ExcessRisk: 40},
	}}
	assert.Empty(t, Generate(in, config.Defaults().Risk))
}

func TestGenerateSuggestedQuantities(t *testing.T) {
	in := Inputs{
		Scores: []domain.RiskScore{
			{ProductID: "A", TotalRisk: 70, StockoutRisk: 95, DeliveryRisk: 75},
			{ProductID: "B", TotalRisk: 50, ExcessRisk: 85},
			{ProductID: "C", TotalRisk: 45, StockoutRisk: 50, MarginRisk: 88},
		},
		BOM: []domain.BOMLine{
			{ParentProductID: "A", ComponentProductID: "C1", UsageQty: 2},
			{ParentProductID: "A", ComponentProductID: "C2", UsageQty: 1},
		},
		Purchases: []domain.PurchaseRecommendation{
			{ComponentProductID: "C1", RecommendedQty: 120},
			{ComponentProductID: "C2", RecommendedQty: 30.5},
		},
		Plans: []domain.ProductionPlan{
			{ProductID: "A", PlannedQty: 300},
			{ProductID: "B", NetRequirement: 100, PlannedQty: 90},
			{ProductID: "C", PlannedQty: 40},
		},
	}

	got := Generate(in, config.Defaults().Risk)
	require.Len(t, got, 5)

	type key struct{ product, action string }
	byKey := map[key]domain.Action{}
	for _, a := range got {
		byKey[key{a.ProductID, a.ActionType}] = a
	}

	expedite := byKey[key{"A", domain.ActionExpeditePO}]
	require.NotNil(t, expedite.SuggestedQty)
	assert.Equal(t, 150.5, *expedite.SuggestedQty)
	assert.Equal(t, domain.LevelCritical, expedite.Severity)
	assert.Contains(t, expedite.Description, "[A] N/A days")

	late := byKey[key{"A", domain.ActionExpediteProduction}]
	require.NotNil(t, late.SuggestedQty)
	assert.Equal(t, 300.0, *late.SuggestedQty)
	assert.Equal(t, domain.LevelHigh, late.Severity)

	reduce := byKey[key{"B", domain.ActionReduceProduction}]
	require.NotNil(t, reduce.SuggestedQty)
	assert.Equal(t, 10.0, *reduce.SuggestedQty)

	increase := byKey[key{"C", domain.ActionIncreaseProduction}]
	require.NotNil(t, increase.SuggestedQty)
	assert.Equal(t, 40.0, *increase.SuggestedQty)

	price := byKey[key{"C", domain.ActionAdjustPrice}]
	assert.Nil(t, price.SuggestedQty)
	assert.Equal(t, domain.LevelHigh, price.Severity)
}

type fakeStore struct {
	in       Inputs
	replaced map[time.Time][]domain.Action
}

func (f *fakeStore) LatestRiskScores(context.Context) ([]domain.RiskScore, error) {
	return f.in.Scores, nil
}

func (f *fakeStore) Products(context.Context) ([]domain.Product, error) { return f.in.Products, nil }

func (f *fakeStore) BOM(context.Context) ([]domain.BOMLine, error) { return f.in.BOM, nil }

func (f *fakeStore) LatestProductionPlans(context.Context) ([]domain.ProductionPlan, error) {
	return f.in.Plans, nil
}

func (f *fakeStore) LatestPurchaseRecommendations(context.Context) ([]domain.PurchaseRecommendation, error) {
	return f.in.Purchases, nil
}

func (f *fakeStore) ReplacePendingActions(_ context.Context, evalDate time.Time, rows []domain.Action) (int, error) {
	if f.replaced == nil {
		f.replaced = make(map[time.Time][]domain.Action)
	}
	f.replaced[evalDate] = rows
	return len(rows), nil
}

func TestStageRun(t *testing.T) {
	yesterday := today.AddDate(0, 0, -1)
	store := &fakeStore{in: Inputs{Scores: []domain.RiskScore{
		{ProductID: "P1", EvalDate: today, TotalRisk: 41, StockoutRisk: 65},
		{ProductID: "P2", EvalDate: yesterday, TotalRisk: 60, ExcessRisk: 90, MarginRisk: 50},
		{ProductID: "P3", EvalDate: today, TotalRisk: 10},
	}}}
	env := pipeline.NewEnv(config.Defaults(), today, false, "run-1")

	res, err := New(store).Run(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.Len(t, store.replaced[today], 1)
	assert.Len(t, store.replaced[yesterday], 2)
}

func TestStageRunErrors(t *testing.T) {
	env := pipeline.NewEnv(config.Defaults(), today, false, "run-1")

	_, err := New(&fakeStore{}).Run(context.Background(), env)
	assert.True(t, errors.Is(err, pipeline.ErrMissingUpstream))

	quiet := &fakeStore{in: Inputs{Scores: []domain.RiskScore{{ProductID: "P", TotalRisk: 5}}}}
	_, err = New(quiet).Run(context.Background(), env)
	assert.True(t, errors.Is(err, pipeline.ErrNothingToDo))
	assert.Empty(t, quiet.replaced)
}
