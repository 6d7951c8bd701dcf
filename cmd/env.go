package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/factor-relay/internal/audit"
	"github.com/sells-group/factor-relay/internal/calc"
	"github.com/sells-group/factor-relay/internal/config"
	"github.com/sells-group/factor-relay/internal/store"
	"github.com/sells-group/factor-relay/pkg/board"
)

// relayEnv holds the store, board client and orchestrator shared by the
// serve and one-shot commands.
type relayEnv struct {
	Store        store.Store
	Board        board.Client
	Audit        *audit.Log
	Orchestrator *calc.Orchestrator
}

// Close releases resources held by the environment.
func (e *relayEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "factor-relay.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, c.Store.PoolConfig())
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// initBoard builds the board client from config. The client is immutable
// once built and shared by every component that needs it.
func initBoard(c *config.Config) board.Client {
	opts := []board.Option{
		board.WithBaseURL(c.Board.APIURL),
		board.WithAPIVersion(c.Board.APIVersion),
		board.WithRetry(c.Retry.Policy()),
		board.WithRateLimit(c.Board.RateLimitRPS),
		board.WithPageSize(c.Board.PageSize),
	}
	if c.Board.TimeoutSecs > 0 {
		opts = append(opts, board.WithAttemptTimeout(time.Duration(c.Board.TimeoutSecs)*time.Second))
	}
	return board.NewClient(c.Board.APIToken, opts...)
}

// initEnv validates config for the given mode, opens and migrates the store
// and wires the orchestrator. Callers should defer env.Close().
func initEnv(ctx context.Context, c *config.Config, mode string) (*relayEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	bc := initBoard(c)
	log := audit.New(st)
	orch := calc.New(st, log, bc, calc.Columns{
		BoardID:        c.Board.BoardID,
		InputColumnID:  c.Board.InputColumnID,
		ResultColumnID: c.Board.ResultColumnID,
	}, calc.WithConcurrency(c.Recalc.Concurrency))

	zap.L().Debug("relay environment ready",
		zap.String("store", c.Store.Driver),
		zap.String("board_id", c.Board.BoardID),
		zap.String("mode", mode),
	)

	return &relayEnv{Store: st, Board: bc, Audit: log, Orchestrator: orch}, nil
}
