package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/andresuchdata/controltower/internal/config"
	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/andresuchdata/controltower/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var evalDate = time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

type fakeRiskStore struct {
	scores     []domain.RiskScore
	actions    []domain.Action
	actionDate time.Time
	reads      int
	askedDate  time.Time
}

func (f *fakeRiskStore) LatestRiskScores(context.Context) ([]domain.RiskScore, error) {
	f.reads++
	return f.scores, nil
}

func (f *fakeRiskStore) RiskScores(_ context.Context, filter domain.RiskFilter) ([]domain.RiskScore, error) {
	return f.scores, nil
}

func (f *fakeRiskStore) Actions(_ context.Context, date time.Time, status string) ([]domain.Action, error) {
	f.askedDate = date
	var out []domain.Action
	for _, a := range f.actions {
		if status == "" || a.Status == status {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeRiskStore) LatestActionDate(context.Context) (time.Time, error) {
	return f.actionDate, nil
}

type memoryDashboard struct {
	summary *domain.RiskSummary
}

func (m *memoryDashboard) GetRiskSummary(context.Context, string) (*domain.RiskSummary, bool, error) {
	return m.summary, m.summary != nil, nil
}

func (m *memoryDashboard) SetRiskSummary(_ context.Context, _ string, s *domain.RiskSummary) error {
	m.summary = s
	return nil
}

func (m *memoryDashboard) InvalidateAll(context.Context) error {
	m.summary = nil
	return nil
}

func TestSummarize(t *testing.T) {
	got := Summarize([]domain.RiskScore{
		{ProductID: "A", EvalDate: evalDate, TotalRisk: 10, RiskGrade: "A"},
		{ProductID: "B", EvalDate: evalDate.AddDate(0, 0, -1), TotalRisk: 50, RiskGrade: "C"},
		{ProductID: "C", EvalDate: evalDate, TotalRisk: 15, RiskGrade: "A"},
	})

	assert.Equal(t, 3, got.Products)
	assert.Equal(t, "2024-06-30", got.EvalDate)
	assert.Equal(t, 25.0, got.AvgTotalRisk)
	assert.Equal(t, []domain.GradeCount{{Grade: "A", Count: 2}, {Grade: "C", Count: 1}}, got.Grades)

	empty := Summarize(nil)
	assert.Equal(t, 0, empty.Products)
	assert.NotNil(t, empty.Grades)
}

func TestRiskServiceSummaryIsCached(t *testing.T) {
	store := &fakeRiskStore{
		scores:     []domain.RiskScore{{ProductID: "A", EvalDate: evalDate, TotalRisk: 70, RiskGrade: "D"}},
		actions:    []domain.Action{{ProductID: "A", Status: domain.ActionStatusPending}, {ProductID: "A", Status: "done"}},
		actionDate: evalDate,
	}
	dash := &memoryDashboard{}
	svc := NewRiskService(store, dash, config.Defaults().Risk)

	first, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.OpenActions)

	second, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.reads)

	require.NoError(t, dash.InvalidateAll(context.Background()))
	_, err = svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, store.reads)
}

func TestRiskServiceActions(t *testing.T) {
	store := &fakeRiskStore{
		actions: []domain.Action{
			{ProductID: "A", Severity: domain.LevelLow},
			{ProductID: "B", Severity: domain.LevelCritical},
			{ProductID: "C", Severity: domain.LevelMedium},
		},
		actionDate: evalDate,
	}
	svc := NewRiskService(store, nil, config.Defaults().Risk)

	rows, err := svc.Actions(context.Background(), domain.ActionFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "B", rows[0].ProductID)
	assert.Equal(t, "C", rows[1].ProductID)
	assert.Equal(t, evalDate, store.askedDate)

	_, err = svc.Actions(context.Background(), domain.ActionFilter{EvalDate: "2024-06-01"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), store.askedDate)

	_, err = svc.Actions(context.Background(), domain.ActionFilter{EvalDate: "06/01/2024"})
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestRiskServiceSensitivity(t *testing.T) {
	store := &fakeRiskStore{scores: []domain.RiskScore{
		{ProductID: "A", EvalDate: evalDate, StockoutRisk: 100, ExcessRisk: 100, DeliveryRisk: 100, MarginRisk: 100},
		{ProductID: "B", EvalDate: evalDate.AddDate(0, 0, -7)},
	}}
	cfg := config.Defaults().Risk
	cfg.Weights = config.RiskWeights{Stockout: 1}

	got, err := NewRiskService(store, nil, cfg).Sensitivity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024-06-30", got.EvalDate)
	assert.Equal(t, 2, got.Products)
	require.Len(t, got.Scenarios, 5)
	for _, s := range got.Scenarios {
		assert.Equal(t, 50.0, s.AvgTotalRisk, s.Name)
		assert.Equal(t, 50.0, s.HighRiskPct, s.Name)
		assert.Equal(t, 1, s.Grades[4].Count, s.Name)
	}
	assert.Equal(t, 1.0, got.Scenarios[0].Weights[domain.RiskStockout], "configured weights come first")
}

func TestRiskServiceActionsWithoutQueue(t *testing.T) {
	rows, err := NewRiskService(&fakeRiskStore{}, nil, config.Defaults().Risk).Actions(context.Background(), domain.ActionFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

type stubStage struct {
	key     string
	err     error
	started chan struct{}
	release chan struct{}
	ran     int
}

func (s *stubStage) Key() string  { return s.key }
func (s *stubStage) Name() string { return "stub " + s.key }

func (s *stubStage) Run(context.Context, *pipeline.Env) (pipeline.Result, error) {
	s.ran++
	if s.started != nil {
		close(s.started)
	}
	if s.release != nil {
		<-s.release
	}
	return pipeline.Result{Rows: 1}, s.err
}

func TestPipelineServiceRun(t *testing.T) {
	s0, s1, s7 := &stubStage{key: "0"}, &stubStage{key: "1", err: errors.New("boom")}, &stubStage{key: "7"}
	svc := NewPipelineService(config.Defaults(), pipeline.NewRegistry(s0, s1, s7), nil)

	report, err := svc.Run(context.Background(), RunRequest{Keys: []string{"7", "1", "0"}, KeepGoing: true, Today: evalDate})
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Equal(t, []string{"0", "1", "7"}, report.Stages)
	assert.Equal(t, "2024-06-30", report.Today)
	assert.NotEmpty(t, report.RunID)
	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, domain.RunFailed, report.Outcomes[1].Status)
	assert.Equal(t, 1, s7.ran)

	_, err = svc.Run(context.Background(), RunRequest{Keys: []string{"9"}})
	assert.Error(t, err)
}

func TestPipelineServiceRejectsConcurrentRuns(t *testing.T) {
	slow := &stubStage{key: "0", started: make(chan struct{}), release: make(chan struct{})}
	svc := NewPipelineService(config.Defaults(), pipeline.NewRegistry(slow), nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = svc.Run(context.Background(), RunRequest{Keys: []string{"0"}})
	}()

	<-slow.started
	_, err := svc.Run(context.Background(), RunRequest{Keys: []string{"0"}})
	assert.ErrorIs(t, err, ErrPipelineBusy)

	close(slow.release)
	wg.Wait()
}

func TestPipelineServiceStages(t *testing.T) {
	svc := NewPipelineService(config.Defaults(), pipeline.NewRegistry(&stubStage{key: "0"}, &stubStage{key: "8"}), nil)
	assert.Equal(t, []StageInfo{
		{Key: "0", Name: "stub 0", Default: true},
		{Key: "8", Name: "stub 8", Default: false},
	}, svc.Stages())
}
