package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/exposure-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func hourlySpec(region string, year int) model.TaskSpec {
	return model.TaskSpec{
		Kind:        model.KindHourly,
		Description: "weather_hourly_" + region,
		Region:      region,
		Year:        year,
		StartMonth:  1,
		EndMonth:    3,
		Params:      map[string]string{"source": "openmeteo"},
	}
}

func TestSQLite_TaskLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	task, err := st.CreateTask(ctx, hourlySpec("TJK", 2020))
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, model.TaskQueued, task.Status)

	require.NoError(t, st.StartTask(ctx, task.ID))
	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskRunning, got.Status)

	require.NoError(t, st.CompleteTask(ctx, task.ID, 42, "exports/weather_hourly_TJK_2020_m01-03.csv"))
	got, err = st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, got.Status)
	assert.Equal(t, 42, got.Rows)
	assert.Equal(t, "exports/weather_hourly_TJK_2020_m01-03.csv", got.OutputPath)
	assert.Equal(t, model.KindHourly, got.Kind)
	assert.Equal(t, 2020, got.Year)
	assert.Equal(t, 3, got.EndMonth)
	assert.Equal(t, "openmeteo", got.Params["source"])
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSQLite_FailTask(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	task, err := st.CreateTask(ctx, hourlySpec("KGZ", 2021))
	require.NoError(t, err)
	require.NoError(t, st.FailTask(ctx, task.ID, errors.New("region empty")))

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, got.Status)
	assert.Equal(t, "region empty", got.Error)
}

func TestSQLite_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetTask(ctx, "missing")
	assert.True(t, errors.Is(err, ErrTaskNotFound))
	assert.True(t, errors.Is(st.StartTask(ctx, "missing"), ErrTaskNotFound))
	assert.True(t, errors.Is(st.CompleteTask(ctx, "missing", 1, "x"), ErrTaskNotFound))
	assert.True(t, errors.Is(st.FailTask(ctx, "missing", nil), ErrTaskNotFound))
}

func TestSQLite_ListTasks(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a, err := st.CreateTask(ctx, hourlySpec("TJK", 2020))
	require.NoError(t, err)
	_, err = st.CreateTask(ctx, hourlySpec("TJK", 2021))
	require.NoError(t, err)
	seasonal := hourlySpec("UZB", 2020)
	seasonal.Kind = model.KindSeasonal
	_, err = st.CreateTask(ctx, seasonal)
	require.NoError(t, err)
	require.NoError(t, st.CompleteTask(ctx, a.ID, 1, "a.csv"))

	all, err := st.ListTasks(ctx, TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	done, err := st.ListTasks(ctx, TaskFilter{Status: model.TaskCompleted})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, a.ID, done[0].ID)

	tjk, err := st.ListTasks(ctx, TaskFilter{Region: "TJK"})
	require.NoError(t, err)
	assert.Len(t, tjk, 2)

	seas, err := st.ListTasks(ctx, TaskFilter{Kind: model.KindSeasonal})
	require.NoError(t, err)
	assert.Len(t, seas, 1)

	page, err := st.ListTasks(ctx, TaskFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, "sqlite", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	_, err = st.CreateTask(ctx, hourlySpec("IDN_B2", 2025))
	require.NoError(t, err)

	_, err = Open(ctx, "mysql", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}
