package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/factor-relay/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS factors`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetFactor_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT item_id, factor, created_at, updated_at FROM factors WHERE item_id = \$1`).
		WithArgs("999").
		WillReturnError(pgx.ErrNoRows)

	f, err := s.GetFactor(context.Background(), "999")
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetFactor_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT item_id, factor, created_at, updated_at FROM factors`).
		WithArgs("123").
		WillReturnRows(pgxmock.NewRows([]string{"item_id", "factor", "created_at", "updated_at"}).
			AddRow("123", 2.5, now, now))

	f, err := s.GetFactor(context.Background(), "123")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, 2.5, f.Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetFactor_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT item_id, factor`).
		WithArgs("123").
		WillReturnError(errors.New("connection reset"))

	_, err := s.GetFactor(context.Background(), "123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get factor 123")
}

func TestPostgresStore_SetFactor_Overwrite(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT factor FROM factors WHERE item_id = \$1 FOR UPDATE`).
		WithArgs("123").
		WillReturnRows(pgxmock.NewRows([]string{"factor"}).AddRow(2.5))
	mock.ExpectQuery(`INSERT INTO factors`).
		WithArgs("123", 3.0, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now.Add(-time.Hour), now))
	mock.ExpectCommit()

	old, f, err := s.SetFactor(context.Background(), "123", 3)
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.Equal(t, 2.5, *old)
	assert.Equal(t, 3.0, f.Value)
	assert.Equal(t, now, f.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetFactor_Create(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT factor FROM factors`).
		WithArgs("123").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO factors`).
		WithArgs("123", 2.5, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectCommit()

	old, f, err := s.SetFactor(context.Background(), "123", 2.5)
	require.NoError(t, err)
	assert.Nil(t, old)
	assert.Equal(t, 2.5, f.Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetFactor_InvalidSkipsDB(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	_, _, err := s.SetFactor(context.Background(), "123", -0.5)
	require.ErrorIs(t, err, model.ErrInvalidFactor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetFactor_UpsertFails(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT factor FROM factors`).
		WithArgs("123").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO factors`).
		WithArgs("123", 2.5, pgxmock.AnyArg()).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, _, err := s.SetFactor(context.Background(), "123", 2.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert factor 123")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListFactors(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT item_id, factor, created_at, updated_at FROM factors ORDER BY item_id`).
		WillReturnRows(pgxmock.NewRows([]string{"item_id", "factor", "created_at", "updated_at"}).
			AddRow("1", 1.0, now, now).
			AddRow("2", 0.5, now, now))

	got, err := s.ListFactors(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[1].ItemID)
	assert.Equal(t, 0.5, got[1].Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendHistory(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	e := &model.HistoryEntry{
		ID:          "h-1",
		ItemID:      "123",
		Action:      model.ActionRecalculation,
		NewValue:    25,
		InputValue:  model.Float(10),
		ResultValue: model.Float(25),
		TriggeredBy: model.TriggeredByWebhook,
		Metadata:    model.Metadata{"factor": 2.5},
		CreatedAt:   now,
	}

	mock.ExpectExec(`INSERT INTO history`).
		WithArgs("h-1", "123", "recalculation", e.OldValue, 25.0, e.InputValue, e.ResultValue,
			"webhook", []byte(`{"factor":2.5}`), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.AppendHistory(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendHistory_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO history`).
		WillReturnError(errors.New("relation does not exist"))

	err := s.AppendHistory(context.Background(), &model.HistoryEntry{
		ID: "h-1", ItemID: "123", Action: model.ActionFactorUpdated,
		TriggeredBy: model.TriggeredByAPI, CreatedAt: time.Now(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append history for 123")
}

func TestPostgresStore_ListHistory(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	cols := []string{"id", "item_id", "action", "old_value", "new_value", "input_value", "result_value", "triggered_by", "metadata", "created_at"}

	mock.ExpectQuery(`(?s)SELECT id, item_id, action.+FROM history WHERE item_id = \$1\s+ORDER BY created_at DESC, seq DESC`).
		WithArgs("123", 50).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("h-2", "123", "recalculation", (*float64)(nil), 25.0, model.Float(10), model.Float(25), "webhook", []byte(`{"calculation":"10 * 2.5 = 25"}`), now).
			AddRow("h-1", "123", "factor_updated", (*float64)(nil), 2.5, (*float64)(nil), (*float64)(nil), "api", []byte(nil), now.Add(-time.Minute)))

	got, err := s.ListHistory(context.Background(), "123", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, model.ActionRecalculation, got[0].Action)
	assert.Equal(t, model.TriggeredByWebhook, got[0].TriggeredBy)
	require.NotNil(t, got[0].ResultValue)
	assert.Equal(t, 25.0, *got[0].ResultValue)
	assert.Equal(t, "10 * 2.5 = 25", got[0].Metadata["calculation"])

	assert.Equal(t, model.ActionFactorUpdated, got[1].Action)
	assert.Nil(t, got[1].InputValue)
	assert.Nil(t, got[1].Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendHistory_InvalidEntrySkipsDB(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	err := s.AppendHistory(context.Background(), &model.HistoryEntry{
		ID: "h-1", ItemID: "123", Action: model.ActionFactorUpdated,
		TriggeredBy: "cron", CreatedAt: time.Now(),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvalidEntry))
	assert.NoError(t, mock.ExpectationsWereMet())
}
