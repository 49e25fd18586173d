// Package jobs keeps the history of archive, clean and audit retention runs
// so operators can see when maintenance last ran and why it failed.
package jobs

import (
	"time"
)

// RunState is the lifecycle state of a maintenance run.
type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStateSucceeded RunState = "succeeded"
	RunStateFailed    RunState = "failed"
	// RunStateAbandoned marks runs whose process died before finishing.
	RunStateAbandoned RunState = "abandoned"
)

// Run is the GORM model of one maintenance run.
type Run struct {
	ID         string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	Kind       string     `gorm:"column:kind;index:idx_run_kind_started,priority:1;not null"`
	Trigger    string     `gorm:"column:trigger_source;not null"`
	Instance   string     `gorm:"column:instance"`
	State      RunState   `gorm:"column:state;index:idx_run_state;not null;default:running"`
	StartedAt  time.Time  `gorm:"column:started_at;index:idx_run_kind_started,priority:2;not null"`
	FinishedAt *time.Time `gorm:"column:finished_at"`
	Count      int64      `gorm:"column:record_count"`
	LastError  string     `gorm:"column:last_error"`
	DurationMs int64      `gorm:"column:duration_ms"`
}

// TableName returns the GORM table name.
func (Run) TableName() string { return "maintenance_runs" }

// IsTerminal returns true if the run has ended.
func (r *Run) IsTerminal() bool {
	return r.State != RunStateRunning
}
