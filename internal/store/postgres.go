package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/exposure-cli/internal/db"
	"github.com/sells-group/exposure-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"insert_task":   `INSERT INTO export_tasks (id, kind, description, region, year, start_month, end_month, params, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
	"start_task":    `UPDATE export_tasks SET status = $1, updated_at = $2 WHERE id = $3`,
	"complete_task": `UPDATE export_tasks SET status = $1, row_count = $2, output_path = $3, updated_at = $4 WHERE id = $5`,
	"fail_task":     `UPDATE export_tasks SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
	"get_task":      `SELECT ` + pgTaskColumns + ` FROM export_tasks WHERE id = $1`,
}

const pgTaskColumns = `id, kind, description, region, year, start_month, end_month, params, status, row_count, output_path, error, created_at, updated_at`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS export_tasks (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	kind        TEXT NOT NULL,
	description TEXT NOT NULL,
	region      TEXT NOT NULL DEFAULT '',
	year        INTEGER NOT NULL DEFAULT 0,
	start_month INTEGER NOT NULL DEFAULT 0,
	end_month   INTEGER NOT NULL DEFAULT 0,
	params      JSONB,
	status      TEXT NOT NULL DEFAULT 'queued',
	row_count   INTEGER NOT NULL DEFAULT 0,
	output_path TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_export_tasks_status ON export_tasks(status);
CREATE INDEX IF NOT EXISTS idx_export_tasks_region ON export_tasks(region);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, spec model.TaskSpec) (*model.ExportTask, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	params, err := json.Marshal(spec.Params)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal params")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO export_tasks (id, kind, description, region, year, start_month, end_month, params, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id, string(spec.Kind), spec.Description, spec.Region, spec.Year, spec.StartMonth, spec.EndMonth,
		params, string(model.TaskQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert task")
	}
	return newTask(id, spec, now), nil
}

func (s *PostgresStore) StartTask(ctx context.Context, id string) error {
	return s.update(ctx, id,
		`UPDATE export_tasks SET status = $1, updated_at = $2 WHERE id = $3`,
		string(model.TaskRunning), time.Now().UTC(), id,
	)
}

func (s *PostgresStore) CompleteTask(ctx context.Context, id string, rows int, outputPath string) error {
	return s.update(ctx, id,
		`UPDATE export_tasks SET status = $1, row_count = $2, output_path = $3, updated_at = $4 WHERE id = $5`,
		string(model.TaskCompleted), rows, outputPath, time.Now().UTC(), id,
	)
}

func (s *PostgresStore) FailTask(ctx context.Context, id string, taskErr error) error {
	return s.update(ctx, id,
		`UPDATE export_tasks SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.TaskFailed), errString(taskErr), time.Now().UTC(), id,
	)
}

func (s *PostgresStore) update(ctx context.Context, id, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update task %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrTaskNotFound, "%s", id)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*model.ExportTask, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgTaskColumns+` FROM export_tasks WHERE id = $1`, id)
	t, err := scanPGTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrTaskNotFound, "%s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get task")
	}
	return t, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]model.ExportTask, error) {
	query := `SELECT ` + pgTaskColumns + ` FROM export_tasks WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.Region != "" {
		args = append(args, filter.Region)
		query += ` AND region = $` + strconv.Itoa(len(args))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		query += ` AND kind = $` + strconv.Itoa(len(args))
	}
	args = append(args, limitOrDefault(filter.Limit))
	query += ` ORDER BY created_at DESC, id LIMIT $` + strconv.Itoa(len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tasks")
	}
	defer rows.Close()

	var tasks []model.ExportTask
	for rows.Next() {
		t, err := scanPGTask(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan task")
		}
		tasks = append(tasks, *t)
	}
	return tasks, eris.Wrap(rows.Err(), "postgres: list tasks iterate")
}

func scanPGTask(row pgx.Row) (*model.ExportTask, error) {
	var t model.ExportTask
	var kind, status string
	var params []byte
	err := row.Scan(&t.ID, &kind, &t.Description, &t.Region, &t.Year, &t.StartMonth, &t.EndMonth,
		&params, &status, &t.Rows, &t.OutputPath, &t.Error, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Kind = model.TaskKind(kind)
	t.Status = model.TaskStatus(status)
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, &t.Params); err != nil {
			return nil, eris.Wrap(err, "unmarshal params")
		}
	}
	return &t, nil
}
