package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/factor-relay/internal/model"
)

const defaultHistoryLimit = 50

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
CREATE TABLE IF NOT EXISTS factors (
	item_id    TEXT PRIMARY KEY,
	factor     REAL NOT NULL CHECK (factor >= 0),
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS history (
	id           TEXT PRIMARY KEY,
	item_id      TEXT NOT NULL,
	action       TEXT NOT NULL,
	old_value    REAL,
	new_value    REAL NOT NULL,
	input_value  REAL,
	result_value REAL,
	triggered_by TEXT NOT NULL,
	metadata     TEXT,
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_item_created ON history(item_id, created_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetFactor(ctx context.Context, itemID string) (*model.Factor, error) {
	var f model.Factor
	err := s.db.QueryRowContext(ctx,
		`SELECT item_id, factor, created_at, updated_at FROM factors WHERE item_id = ?`,
		itemID,
	).Scan(&f.ItemID, &f.Value, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get factor %s", itemID)
	}
	return &f, nil
}

func (s *SQLiteStore) SetFactor(ctx context.Context, itemID string, value float64) (*float64, *model.Factor, error) {
	if err := model.ValidateFactor(value); err != nil {
		return nil, nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	f := model.Factor{ItemID: itemID, Value: value, CreatedAt: now, UpdatedAt: now}

	var prev sql.NullFloat64
	var createdAt time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT factor, created_at FROM factors WHERE item_id = ?`, itemID,
	).Scan(&prev, &createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, nil, eris.Wrapf(err, "sqlite: read factor %s", itemID)
	default:
		f.CreatedAt = createdAt
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO factors (item_id, factor, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(item_id) DO UPDATE SET factor = excluded.factor, updated_at = excluded.updated_at`,
		itemID, value, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "sqlite: upsert factor %s", itemID)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: commit factor")
	}

	var old *float64
	if prev.Valid {
		old = model.Float(prev.Float64)
	}
	return old, &f, nil
}

func (s *SQLiteStore) ListFactors(ctx context.Context) ([]model.Factor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, factor, created_at, updated_at FROM factors ORDER BY item_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list factors")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Factor
	for rows.Next() {
		var f model.Factor
		if err := rows.Scan(&f.ItemID, &f.Value, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan factor")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list factors iterate")
}

func (s *SQLiteStore) AppendHistory(ctx context.Context, e *model.HistoryEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	meta, err := marshalMetadata(e.Metadata)
	if err != nil {
		return err
	}
	var metaText any
	if meta != nil {
		metaText = string(meta)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO history (id, item_id, action, old_value, new_value, input_value, result_value, triggered_by, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ItemID, string(e.Action), e.OldValue, e.NewValue, e.InputValue, e.ResultValue,
		string(e.TriggeredBy), metaText, e.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: append history for %s", e.ItemID)
}

func (s *SQLiteStore) ListHistory(ctx context.Context, itemID string, limit int) ([]model.HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_id, action, old_value, new_value, input_value, result_value, triggered_by, metadata, created_at
		 FROM history WHERE item_id = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		itemID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list history %s", itemID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.HistoryEntry
	for rows.Next() {
		var (
			e                     model.HistoryEntry
			oldV, inputV, resultV sql.NullFloat64
			action, triggeredBy   string
			meta                  sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ItemID, &action, &oldV, &e.NewValue, &inputV, &resultV, &triggeredBy, &meta, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan history")
		}
		e.Action = model.Action(action)
		e.TriggeredBy = model.TriggeredBy(triggeredBy)
		e.OldValue = nullFloat(oldV)
		e.InputValue = nullFloat(inputV)
		e.ResultValue = nullFloat(resultV)
		if meta.Valid {
			if e.Metadata, err = unmarshalMetadata([]byte(meta.String)); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list history iterate")
}

// helpers

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return model.Float(v.Float64)
}

func marshalMetadata(m model.Metadata) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal metadata")
	}
	return data, nil
}

func unmarshalMetadata(data []byte) (model.Metadata, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m model.Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal metadata")
	}
	return m, nil
}
