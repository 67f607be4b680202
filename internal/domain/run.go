package domain

import "time"

// Stage run states recorded in pipeline_runs.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunSkipped   = "skipped"
	RunFailed    = "failed"
)

// StageRun is one execution of one pipeline stage.
type StageRun struct {
	ID           string     `json:"id" db:"id"`
	StageKey     string     `json:"stage_key" db:"stage_key"`
	StageName    string     `json:"stage_name" db:"stage_name"`
	Status       string     `json:"status" db:"status"`
	RowsWritten  int        `json:"rows_written" db:"rows_written"`
	Skipped      int        `json:"skipped" db:"skipped"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ErrorMessage string     `json:"error_message,omitempty" db:"error_message"`
}
