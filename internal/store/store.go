// Package store persists the export task ledger in SQLite or Postgres.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/exposure-cli/internal/model"
)

// ErrTaskNotFound is returned when a task id is unknown.
var ErrTaskNotFound = eris.New("store: task not found")

// TaskFilter specifies criteria for listing tasks.
type TaskFilter struct {
	Status model.TaskStatus `json:"status,omitempty"`
	Region string           `json:"region,omitempty"`
	Kind   model.TaskKind   `json:"kind,omitempty"`
	Limit  int              `json:"limit,omitempty"`
	Offset int              `json:"offset,omitempty"`
}

// Store defines the persistence interface for export tasks.
type Store interface {
	CreateTask(ctx context.Context, spec model.TaskSpec) (*model.ExportTask, error)
	StartTask(ctx context.Context, id string) error
	CompleteTask(ctx context.Context, id string, rows int, outputPath string) error
	FailTask(ctx context.Context, id string, taskErr error) error
	GetTask(ctx context.Context, id string) (*model.ExportTask, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]model.ExportTask, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the ledger for driver ("sqlite" or "postgres") and migrates it.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	var (
		s   Store
		err error
	)
	switch driver {
	case "sqlite", "":
		if dsn == "" {
			dsn = "exposure.db"
		}
		s, err = NewSQLite(dsn)
	case "postgres":
		s, err = NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
