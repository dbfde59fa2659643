// Package model defines the records shared by the pipelines and the task
// ledger.
package model

import "time"

// TaskStatus is the lifecycle state of an export task.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskQueued, TaskRunning, TaskCompleted, TaskFailed:
		return true
	}
	return false
}

// Terminal reports whether the task has finished.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskKind names what an export task produces.
type TaskKind string

const (
	KindHourly    TaskKind = "hourly"
	KindSeasonal  TaskKind = "seasonal"
	KindConcat    TaskKind = "concat"
	KindAggregate TaskKind = "aggregate"
)

// TaskSpec describes an export before it is queued.
type TaskSpec struct {
	Kind        TaskKind          `json:"kind"`
	Description string            `json:"description"`
	Region      string            `json:"region"`
	Year        int               `json:"year"`
	StartMonth  int               `json:"start_month"`
	EndMonth    int               `json:"end_month"`
	Params      map[string]string `json:"params,omitempty"`
}

// ExportTask is a ledger entry for one export.
type ExportTask struct {
	ID          string            `json:"id"`
	Kind        TaskKind          `json:"kind"`
	Description string            `json:"description"`
	Region      string            `json:"region"`
	Year        int               `json:"year"`
	StartMonth  int               `json:"start_month"`
	EndMonth    int               `json:"end_month"`
	Params      map[string]string `json:"params,omitempty"`
	Status      TaskStatus        `json:"status"`
	Rows        int               `json:"rows"`
	OutputPath  string            `json:"output_path,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
