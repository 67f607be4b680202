package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/andresuchdata/controltower/pkg/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RunStore persists pipeline_runs rows.
type RunStore interface {
	CreateRun(ctx context.Context, run *domain.StageRun) error
	UpdateRun(ctx context.Context, run *domain.StageRun) error
}

// Outcome is the summary line of one executed stage.
type Outcome struct {
	Key     string        `json:"key"`
	Name    string        `json:"name"`
	Status  string        `json:"status"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Rows    int           `json:"rows"`
	Skipped int           `json:"skipped"`
	Error   string        `json:"error,omitempty"`
}

// Orchestrator runs selected stages in order and records each run.
type Orchestrator struct {
	runs      RunStore
	keepGoing bool
	now       func() time.Time
}

// NewOrchestrator creates an Orchestrator. runs may be nil to skip tracking.
func NewOrchestrator(runs RunStore, keepGoing bool) *Orchestrator {
	return &Orchestrator{
		runs:      runs,
		keepGoing: keepGoing,
		now:       time.Now,
	}
}

// Run executes stages sequentially. A stage reporting ErrNothingToDo is
// recorded as skipped. On failure Run stops unless keep-going is set, in
// which case it continues and returns an error naming every failed stage.
func (o *Orchestrator) Run(ctx context.Context, env *Env, stages []Stage) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(stages))
	var failed []string

	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		out, err := o.runStage(ctx, env, st)
		outcomes = append(outcomes, out)
		if err == nil {
			continue
		}

		if !o.keepGoing {
			return outcomes, fmt.Errorf("stage %s (%s): %w", st.Key(), st.Name(), err)
		}
		failed = append(failed, st.Key())
	}

	if len(failed) > 0 {
		return outcomes, fmt.Errorf("%d stage(s) failed: %v", len(failed), failed)
	}
	return outcomes, nil
}

func (o *Orchestrator) runStage(ctx context.Context, env *Env, st Stage) (Outcome, error) {
	stageLog := logger.Stage(st.Key(), st.Name())
	started := o.now()

	run := &domain.StageRun{
		ID:        uuid.NewString(),
		StageKey:  st.Key(),
		StageName: st.Name(),
		Status:    domain.RunRunning,
		StartedAt: started,
	}
	o.record(ctx, run, true)

	stageLog.Info().Msg("stage started")
	res, err := st.Run(ctx, env)
	elapsed := o.now().Sub(started)

	out := Outcome{
		Key:     st.Key(),
		Name:    st.Name(),
		Elapsed: elapsed,
		Rows:    res.Rows,
		Skipped: res.Skipped,
	}

	switch {
	case err == nil:
		out.Status = domain.RunCompleted
		stageLog.Info().Int("rows", res.Rows).Int("skipped", res.Skipped).Dur("elapsed", elapsed).Msg("stage completed")
	case errors.Is(err, ErrNothingToDo):
		out.Status = domain.RunSkipped
		out.Error = err.Error()
		stageLog.Warn().Str("reason", err.Error()).Msg("stage skipped")
		err = nil
	default:
		out.Status = domain.RunFailed
		out.Error = err.Error()
		stageLog.Error().Err(err).Dur("elapsed", elapsed).Msg("stage failed")
	}

	completed := o.now()
	run.Status = out.Status
	run.RowsWritten = res.Rows
	run.Skipped = res.Skipped
	run.CompletedAt = &completed
	run.ErrorMessage = out.Error
	o.record(ctx, run, false)

	return out, err
}

// record writes run tracking. Tracking failures are logged and never fail a stage.
func (o *Orchestrator) record(ctx context.Context, run *domain.StageRun, create bool) {
	if o.runs == nil {
		return
	}

	var err error
	if create {
		err = o.runs.CreateRun(ctx, run)
	} else {
		err = o.runs.UpdateRun(ctx, run)
	}
	if err != nil {
		log.Warn().Err(err).Str("run_id", run.ID).Str("stage", run.StageKey).Msg("failed to record stage run")
	}
}

// PrintSummary writes an aligned stage/elapsed/status table.
func PrintSummary(w io.Writer, outcomes []Outcome) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tNAME\tELAPSED\tROWS\tSKIPPED\tSTATUS")
	for _, o := range outcomes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			o.Key, o.Name, o.Elapsed.Round(time.Millisecond), o.Rows, o.Skipped, o.Status)
	}
	return tw.Flush()
}
