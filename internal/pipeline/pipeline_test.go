package pipeline

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStage struct {
	key, name string
	res       Result
	err       error
	calls     int
}

func (f *fakeStage) Key() string  { return f.key }
func (f *fakeStage) Name() string { return f.name }
func (f *fakeStage) Run(context.Context, *Env) (Result, error) {
	f.calls++
	return f.res, f.err
}

type memRuns struct {
	mu   sync.Mutex
	runs map[string]domain.StageRun
}

func (m *memRuns) CreateRun(_ context.Context, r *domain.StageRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = map[string]domain.StageRun{}
	}
	m.runs[r.ID] = *r
	return nil
}

func (m *memRuns) UpdateRun(_ context.Context, r *domain.StageRun) error {
	return m.CreateRun(context.Background(), r)
}

func newRegistry() *Registry {
	var stages []Stage
	for _, k := range []string{"0", "1", "2", "3", "3m", "4", "4m", "5", "6", "7", "8"} {
		stages = append(stages, &fakeStage{key: k, name: "stage " + k})
	}
	return NewRegistry(stages...)
}

func keysOf(stages []Stage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = s.Key()
	}
	return out
}

func TestResolve(t *testing.T) {
	r := newRegistry()

	tests := []struct {
		name string
		sel  []string
		want []string
	}{
		{"default weekly sequence", nil, DefaultKeys},
		{"all", []string{"all"}, []string{"0", "1", "2", "3", "3m", "4", "4m", "5", "6", "7", "8"}},
		{"reordered to dependency order", []string{"5", "0", "3M"}, []string{"0", "3m", "5"}},
		{"duplicates collapse", ParseKeys("4, 4,4m"), []string{"4", "4m"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.sel)
			require.NoError(t, err)
			assert.Equal(t, tt.want, keysOf(got))
		})
	}

	_, err := r.Resolve([]string{"9"})
	assert.ErrorContains(t, err, "unknown stage")
}

func TestOrchestratorStopsOnFailure(t *testing.T) {
	a := &fakeStage{key: "0", name: "a", res: Result{Rows: 3}}
	b := &fakeStage{key: "1", name: "b", err: errors.New("boom")}
	c := &fakeStage{key: "2", name: "c"}
	runs := &memRuns{}

	outcomes, err := NewOrchestrator(runs, false).Run(context.Background(), &Env{}, []Stage{a, b, c})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage 1 (b)")
	assert.Len(t, outcomes, 2)
	assert.Equal(t, 0, c.calls)
	assert.Len(t, runs.runs, 2)
}

func TestOrchestratorKeepGoing(t *testing.T) {
	a := &fakeStage{key: "0", name: "a", err: NothingToDo("no dated facts")}
	b := &fakeStage{key: "1", name: "b", err: MissingUpstream("weekly summary")}
	c := &fakeStage{key: "2", name: "c", res: Result{Rows: 7, Skipped: 1}}
	runs := &memRuns{}

	outcomes, err := NewOrchestrator(runs, true).Run(context.Background(), &Env{}, []Stage{a, b, c})
	require.Error(t, err)
	require.Len(t, outcomes, 3)
	assert.Equal(t, domain.RunSkipped, outcomes[0].Status)
	assert.Equal(t, domain.RunFailed, outcomes[1].Status)
	assert.Equal(t, domain.RunCompleted, outcomes[2].Status)
	assert.Equal(t, 7, outcomes[2].Rows)

	for _, r := range runs.runs {
		assert.NotNil(t, r.CompletedAt)
		assert.NotEqual(t, domain.RunRunning, r.Status)
	}

	var buf bytes.Buffer
	require.NoError(t, PrintSummary(&buf, outcomes))
	assert.Contains(t, buf.String(), "STATUS")
	assert.Contains(t, buf.String(), domain.RunFailed)
}

func TestNothingToDoIsNotAFailure(t *testing.T) {
	a := &fakeStage{key: "0", name: "a", err: NothingToDo("empty")}
	_, err := NewOrchestrator(nil, false).Run(context.Background(), &Env{}, []Stage{a})
	assert.NoError(t, err)
}

func TestForEachAndMap(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}

	var sum atomic.Int64
	err := ForEach(context.Background(), 3, items, func(_ context.Context, n int) error {
		sum.Add(int64(n))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(36), sum.Load())

	sq, err := Map(context.Background(), 4, items, func(_ context.Context, n int) (int, error) {
		return n * n, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 9, 16, 25, 36, 49, 64}, sq)

	_, err = Map(context.Background(), 2, items, func(_ context.Context, n int) (int, error) {
		if n == 5 {
			return 0, errors.New("bad item")
		}
		return n, nil
	})
	assert.EqualError(t, err, "bad item")
}

func TestBufferFlushesInBatches(t *testing.T) {
	var batches [][]int
	b := NewBuffer("test", 3, func(_ context.Context, rows []int) (int, error) {
		batches = append(batches, append([]int(nil), rows...))
		return len(rows), nil
	})

	ctx := context.Background()
	require.NoError(t, b.Add(ctx, 1, 2))
	require.NoError(t, b.Add(ctx, 3))
	require.NoError(t, b.Add(ctx, 4))
	assert.Equal(t, 3, b.Written())
	require.NoError(t, b.Finalize(ctx))
	require.NoError(t, b.Finalize(ctx))

	assert.Equal(t, [][]int{{1, 2, 3}, {4}}, batches)
	assert.Equal(t, 4, b.Written())
}

func TestNewEnvTruncatesToday(t *testing.T) {
	env := NewEnv(nil, time.Date(2024, 5, 6, 13, 45, 0, 0, time.UTC), true, "r")
	assert.Equal(t, time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC), env.Today)
	assert.Equal(t, 1, env.Workers())
}
