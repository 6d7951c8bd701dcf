package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/factor-relay/internal/db"
	"github.com/sells-group/factor-relay/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller keeps ownership.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS factors (
	item_id    TEXT PRIMARY KEY,
	factor     DOUBLE PRECISION NOT NULL CHECK (factor >= 0),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS history (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	seq          BIGSERIAL,
	item_id      TEXT NOT NULL,
	action       TEXT NOT NULL,
	old_value    DOUBLE PRECISION,
	new_value    DOUBLE PRECISION NOT NULL,
	input_value  DOUBLE PRECISION,
	result_value DOUBLE PRECISION,
	triggered_by TEXT NOT NULL,
	metadata     JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_history_item_created ON history(item_id, created_at DESC, seq DESC);
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

func (s *PostgresStore) GetFactor(ctx context.Context, itemID string) (*model.Factor, error) {
	var f model.Factor
	err := s.pool.QueryRow(ctx,
		`SELECT item_id, factor, created_at, updated_at FROM factors WHERE item_id = $1`,
		itemID,
	).Scan(&f.ItemID, &f.Value, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get factor %s", itemID)
	}
	return &f, nil
}

func (s *PostgresStore) SetFactor(ctx context.Context, itemID string, value float64) (*float64, *model.Factor, error) {
	if err := model.ValidateFactor(value); err != nil {
		return nil, nil, err
	}

	var old *float64
	f := model.Factor{ItemID: itemID, Value: value}
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var prev float64
		err := tx.QueryRow(ctx,
			`SELECT factor FROM factors WHERE item_id = $1 FOR UPDATE`, itemID,
		).Scan(&prev)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return eris.Wrapf(err, "postgres: read factor %s", itemID)
		default:
			old = model.Float(prev)
		}

		now := time.Now().UTC()
		err = tx.QueryRow(ctx,
			`INSERT INTO factors (item_id, factor, created_at, updated_at) VALUES ($1, $2, $3, $3)
			 ON CONFLICT (item_id) DO UPDATE SET factor = EXCLUDED.factor, updated_at = EXCLUDED.updated_at
			 RETURNING created_at, updated_at`,
			itemID, value, now,
		).Scan(&f.CreatedAt, &f.UpdatedAt)
		return eris.Wrapf(err, "postgres: upsert factor %s", itemID)
	})
	if err != nil {
		return nil, nil, err
	}
	return old, &f, nil
}

func (s *PostgresStore) ListFactors(ctx context.Context) ([]model.Factor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT item_id, factor, created_at, updated_at FROM factors ORDER BY item_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list factors")
	}
	defer rows.Close()

	var out []model.Factor
	for rows.Next() {
		var f model.Factor
		if err := rows.Scan(&f.ItemID, &f.Value, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan factor")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list factors iterate")
}

func (s *PostgresStore) AppendHistory(ctx context.Context, e *model.HistoryEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	meta, err := marshalMetadata(e.Metadata)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO history (id, item_id, action, old_value, new_value, input_value, result_value, triggered_by, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.ItemID, string(e.Action), e.OldValue, e.NewValue, e.InputValue, e.ResultValue,
		string(e.TriggeredBy), meta, e.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: append history for %s", e.ItemID)
}

func (s *PostgresStore) ListHistory(ctx context.Context, itemID string, limit int) ([]model.HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, item_id, action, old_value, new_value, input_value, result_value, triggered_by, metadata, created_at
		 FROM history WHERE item_id = $1
		 ORDER BY created_at DESC, seq DESC
		 LIMIT $2`,
		itemID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list history %s", itemID)
	}
	defer rows.Close()

	var out []model.HistoryEntry
	for rows.Next() {
		var (
			e                   model.HistoryEntry
			action, triggeredBy string
			meta                []byte
		)
		if err := rows.Scan(&e.ID, &e.ItemID, &action, &e.OldValue, &e.NewValue, &e.InputValue, &e.ResultValue, &triggeredBy, &meta, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan history")
		}
		e.Action = model.Action(action)
		e.TriggeredBy = model.TriggeredBy(triggeredBy)
		if e.Metadata, err = unmarshalMetadata(meta); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list history iterate")
}
