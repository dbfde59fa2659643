package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/exposure-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// one writer; batch workers serialise through the pool
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS export_tasks (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	description TEXT NOT NULL,
	region      TEXT NOT NULL DEFAULT '',
	year        INTEGER NOT NULL DEFAULT 0,
	start_month INTEGER NOT NULL DEFAULT 0,
	end_month   INTEGER NOT NULL DEFAULT 0,
	params      TEXT,
	status      TEXT NOT NULL DEFAULT 'queued',
	row_count   INTEGER NOT NULL DEFAULT 0,
	output_path TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_export_tasks_status ON export_tasks(status);
CREATE INDEX IF NOT EXISTS idx_export_tasks_region ON export_tasks(region);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateTask(ctx context.Context, spec model.TaskSpec) (*model.ExportTask, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	params, err := json.Marshal(spec.Params)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal params")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO export_tasks (id, kind, description, region, year, start_month, end_month, params, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(spec.Kind), spec.Description, spec.Region, spec.Year, spec.StartMonth, spec.EndMonth,
		string(params), string(model.TaskQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert task")
	}

	return newTask(id, spec, now), nil
}

func (s *SQLiteStore) StartTask(ctx context.Context, id string) error {
	return s.update(ctx, id,
		`UPDATE export_tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(model.TaskRunning), time.Now().UTC(), id,
	)
}

func (s *SQLiteStore) CompleteTask(ctx context.Context, id string, rows int, outputPath string) error {
	return s.update(ctx, id,
		`UPDATE export_tasks SET status = ?, row_count = ?, output_path = ?, updated_at = ? WHERE id = ?`,
		string(model.TaskCompleted), rows, outputPath, time.Now().UTC(), id,
	)
}

func (s *SQLiteStore) FailTask(ctx context.Context, id string, taskErr error) error {
	return s.update(ctx, id,
		`UPDATE export_tasks SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.TaskFailed), errString(taskErr), time.Now().UTC(), id,
	)
}

func (s *SQLiteStore) update(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update task %s", id)
	}
	return checkRowsAffected(res, id)
}

const sqliteTaskColumns = `id, kind, description, region, year, start_month, end_month, params, status, row_count, output_path, error, created_at, updated_at`

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.ExportTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteTaskColumns+` FROM export_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrTaskNotFound, "%s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get task")
	}
	return t, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskFilter) ([]model.ExportTask, error) {
	query := `SELECT ` + sqliteTaskColumns + ` FROM export_tasks WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Region != "" {
		query += ` AND region = ?`
		args = append(args, filter.Region)
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tasks")
	}
	defer rows.Close() //nolint:errcheck

	var tasks []model.ExportTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan task")
		}
		tasks = append(tasks, *t)
	}
	return tasks, eris.Wrap(rows.Err(), "sqlite: list tasks iterate")
}

// helpers

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrTaskNotFound, "%s", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (*model.ExportTask, error) {
	var t model.ExportTask
	var params sql.NullString
	err := row.Scan(&t.ID, &t.Kind, &t.Description, &t.Region, &t.Year, &t.StartMonth, &t.EndMonth,
		&params, &t.Status, &t.Rows, &t.OutputPath, &t.Error, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if params.Valid && params.String != "" && params.String != "null" {
		if err := json.Unmarshal([]byte(params.String), &t.Params); err != nil {
			return nil, eris.Wrap(err, "unmarshal params")
		}
	}
	return &t, nil
}

func newTask(id string, spec model.TaskSpec, now time.Time) *model.ExportTask {
	return &model.ExportTask{
		ID:          id,
		Kind:        spec.Kind,
		Description: spec.Description,
		Region:      spec.Region,
		Year:        spec.Year,
		StartMonth:  spec.StartMonth,
		EndMonth:    spec.EndMonth,
		Params:      spec.Params,
		Status:      model.TaskQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
