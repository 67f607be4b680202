package service

import (
	"context"
	"sync"
	"time"

	"github.com/andresuchdata/controltower/internal/actions"
	"github.com/andresuchdata/controltower/internal/aggregation"
	"github.com/andresuchdata/controltower/internal/cache"
	"github.com/andresuchdata/controltower/internal/config"
	"github.com/andresuchdata/controltower/internal/features"
	"github.com/andresuchdata/controltower/internal/forecast"
	"github.com/andresuchdata/controltower/internal/inventory"
	"github.com/andresuchdata/controltower/internal/leadtime"
	"github.com/andresuchdata/controltower/internal/pipeline"
	"github.com/andresuchdata/controltower/internal/production"
	"github.com/andresuchdata/controltower/internal/purchase"
	"github.com/andresuchdata/controltower/internal/repository/postgres"
	"github.com/andresuchdata/controltower/internal/risk"
	"github.com/andresuchdata/controltower/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Deps are the optional collaborators of the stages. Nil members fall back
// to noop implementations.
type Deps struct {
	Params    cache.ParamsCache
	Dashboard cache.DashboardCache
	Artifacts storage.ObjectStorage
}

// NewRegistry registers every stage against store in execution order.
func NewRegistry(store *postgres.Store, deps Deps) *pipeline.Registry {
	return pipeline.NewRegistry(
		aggregation.New(store),
		inventory.New(store),
		leadtime.New(store),
		features.NewWeekly(store),
		features.NewMonthly(store),
		forecast.NewWeekly(store, deps.Params, deps.Artifacts),
		forecast.NewMonthly(store, deps.Params, deps.Artifacts),
		risk.New(store, deps.Dashboard),
		actions.New(store),
		production.New(store),
		purchase.New(store),
	)
}

// RunRequest selects stages for one pipeline invocation. A zero Today means now.
type RunRequest struct {
	Keys      []string
	Tune      bool
	KeepGoing bool
	Today     time.Time
}

// RunReport is what one invocation did.
type RunReport struct {
	RunID    string             `json:"run_id"`
	Today    string             `json:"today"`
	Stages   []string           `json:"stages"`
	Outcomes []pipeline.Outcome `json:"outcomes"`
	Error    string             `json:"error,omitempty"`
}

// StageInfo describes one registered stage.
type StageInfo struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	Default bool   `json:"default"`
}

// PipelineService runs stages one invocation at a time.
type PipelineService struct {
	cfg      *config.Config
	registry *pipeline.Registry
	runs     pipeline.RunStore
	mu       sync.Mutex
	now      func() time.Time
}

// NewPipelineService creates a PipelineService. runs may be nil.
func NewPipelineService(cfg *config.Config, registry *pipeline.Registry, runs pipeline.RunStore) *PipelineService {
	return &PipelineService{cfg: cfg, registry: registry, runs: runs, now: time.Now}
}

func (s *PipelineService) Stages() []StageInfo {
	defaults := make(map[string]bool, len(pipeline.DefaultKeys))
	for _, k := range pipeline.DefaultKeys {
		defaults[k] = true
	}

	stages := s.registry.Stages()
	out := make([]StageInfo, len(stages))
	for i, st := range stages {
		out[i] = StageInfo{Key: st.Key(), Name: st.Name(), Default: defaults[st.Key()]}
	}
	return out
}

// Run resolves req.Keys and executes them. It returns ErrPipelineBusy when
// another invocation holds the pipeline. The report is returned alongside a
// stage failure so callers can show partial outcomes.
func (s *PipelineService) Run(ctx context.Context, req RunRequest) (*RunReport, error) {
	stages, err := s.registry.Resolve(req.Keys)
	if err != nil {
		return nil, err
	}
	if !s.mu.TryLock() {
		return nil, ErrPipelineBusy
	}
	defer s.mu.Unlock()

	today := req.Today
	if today.IsZero() {
		today = s.now()
	}
	env := pipeline.NewEnv(s.cfg, today, req.Tune, uuid.NewString())

	report := &RunReport{RunID: env.RunID, Today: env.Today.Format(dateLayout)}
	for _, st := range stages {
		report.Stages = append(report.Stages, st.Key())
	}
	log.Info().
		Str("run_id", env.RunID).
		Strs("stages", report.Stages).
		Bool("tune", req.Tune).
		Bool("keep_going", req.KeepGoing).
		Msg("pipeline started")

	outcomes, err := pipeline.NewOrchestrator(s.runs, req.KeepGoing).Run(ctx, env, stages)
	report.Outcomes = outcomes
	if err != nil {
		report.Error = err.Error()
		log.Error().Err(err).Str("run_id", env.RunID).Msg("pipeline finished with errors")
		return report, err
	}
	log.Info().Str("run_id", env.RunID).Int("stages", len(outcomes)).Msg("pipeline finished")
	return report, nil
}
