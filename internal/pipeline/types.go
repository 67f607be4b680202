package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresuchdata/controltower/internal/config"
	"github.com/andresuchdata/controltower/internal/domain"
)

// Stage is one batch transform of the control tower. A stage reads tables
// produced upstream and upserts the tables it owns.
type Stage interface {
	// Key is the selector used on the command line ("0", "3m", ...).
	Key() string

	Name() string

	Run(ctx context.Context, env *Env) (Result, error)
}

// Env is the per-invocation context handed to every stage.
type Env struct {
	Config *config.Config
	Today  time.Time
	Tune   bool // enables grid search in the forecasting stages
	RunID  string
}

// NewEnv builds an Env for cfg evaluated on today.
func NewEnv(cfg *config.Config, today time.Time, tune bool, runID string) *Env {
	return &Env{
		Config: cfg,
		Today:  domain.DateOnly(today),
		Tune:   tune,
		RunID:  runID,
	}
}

// Workers is the per-stage fan-out width.
func (e *Env) Workers() int {
	if e.Config == nil || e.Config.Pipeline.WorkerCount < 1 {
		return 1
	}
	return e.Config.Pipeline.WorkerCount
}

// Result reports what a stage wrote.
type Result struct {
	Rows    int
	Skipped int
	Note    string
}

var (
	// ErrMissingUpstream aborts a stage whose required input is empty.
	ErrMissingUpstream = errors.New("missing upstream data")

	// ErrNothingToDo marks a stage that found no input and wrote nothing.
	ErrNothingToDo = errors.New("nothing to do")
)

// MissingUpstream wraps ErrMissingUpstream with the name of what is missing.
func MissingUpstream(what string) error {
	return fmt.Errorf("%w: %s", ErrMissingUpstream, what)
}

// NothingToDo wraps ErrNothingToDo with a reason.
func NothingToDo(reason string) error {
	return fmt.Errorf("%w: %s", ErrNothingToDo, reason)
}
