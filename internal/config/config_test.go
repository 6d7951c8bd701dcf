package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.monday.com/v2", cfg.Board.APIURL)
	assert.Equal(t, "2024-10", cfg.Board.APIVersion)
	assert.Empty(t, cfg.Board.APIToken)
	assert.Equal(t, 30, cfg.Board.TimeoutSecs)
	assert.InDelta(t, 5.0, cfg.Board.RateLimitRPS, 0.001)
	assert.Equal(t, 100, cfg.Board.PageSize)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 1000, cfg.Retry.BaseDelayMs)
	assert.Equal(t, 10000, cfg.Retry.MaxDelayMs)
	assert.InDelta(t, 2.0, cfg.Retry.BackoffFactor, 0.001)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "factor-relay.db", cfg.Store.DatabaseURL)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, int32(2), cfg.Store.MinConns)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 4, cfg.Recalc.Concurrency)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
board:
  api_token: tok
  board_id: "1234"
  input_column_id: numbers
  result_column_id: numbers3
retry:
  max_retries: 5
store:
  driver: postgres
  database_url: postgres://localhost/relay
log:
  level: debug
  format: console
server:
  port: 9090
  cors_origins: ["https://app.example.com"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "tok", cfg.Board.APIToken)
	assert.Equal(t, "1234", cfg.Board.BoardID)
	assert.Equal(t, "numbers", cfg.Board.InputColumnID)
	assert.Equal(t, "numbers3", cfg.Board.ResultColumnID)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
	// Defaults still apply for unset values
	assert.Equal(t, 1000, cfg.Retry.BaseDelayMs)
	assert.Equal(t, 30, cfg.Board.TimeoutSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("RELAY_STORE_DRIVER", "postgres")
	t.Setenv("RELAY_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("RELAY_SERVER_PORT", "3000")
	t.Setenv("RELAY_BOARD_API_TOKEN", "secret")
	t.Setenv("RELAY_BOARD_INPUT_COLUMN_ID", "numbers")
	t.Setenv("RELAY_RETRY_MAX_RETRIES", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Board.APIToken)
	assert.Equal(t, "numbers", cfg.Board.InputColumnID)
	assert.Equal(t, 0, cfg.Retry.MaxRetries)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("board: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestRetryPolicy(t *testing.T) {
	p := RetryConfig{MaxRetries: 3, BaseDelayMs: 1000, MaxDelayMs: 10000, BackoffFactor: 2}.Policy()
	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, time.Second, p.InitialBackoff)
	assert.Equal(t, 10*time.Second, p.MaxBackoff)
	assert.InDelta(t, 2.0, p.Multiplier, 0.001)

	p = RetryConfig{MaxRetries: 0}.Policy()
	assert.Equal(t, 1, p.MaxAttempts)

	p = RetryConfig{MaxRetries: 2, BaseDelayMs: 0, MaxDelayMs: 10000, BackoffFactor: 2}.Policy()
	assert.Equal(t, time.Duration(0), p.InitialBackoff, "a zero base delay retries immediately")
}

func TestStorePoolConfig(t *testing.T) {
	pc := StoreConfig{MaxConns: 20, MinConns: 4}.PoolConfig()
	assert.Equal(t, int32(20), pc.MaxConns)
	assert.Equal(t, int32(4), pc.MinConns)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Board.APIToken = "tok"
	cfg.Board.BoardID = "1"
	cfg.Board.InputColumnID = "numbers"
	cfg.Board.ResultColumnID = "result"
	cfg.Board.TimeoutSecs = 30
	cfg.Board.RateLimitRPS = 5
	cfg.Retry = RetryConfig{MaxRetries: 3, BaseDelayMs: 1000, MaxDelayMs: 10000, BackoffFactor: 2}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "relay.db"
	cfg.Server.Port = 8080
	cfg.Recalc.Concurrency = 4
	return cfg
}

func TestValidate_AllPresent(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"store", "board", "serve"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateBoard_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Board = BoardConfig{TimeoutSecs: 30}

	err := cfg.Validate("board")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "board.api_token is required")
	assert.Contains(t, err.Error(), "board.board_id is required")
	assert.Contains(t, err.Error(), "board.input_column_id is required")
	assert.Contains(t, err.Error(), "board.result_column_id is required")

	// Store-only commands do not need board settings.
	assert.NoError(t, cfg.Validate("store"))
}

func TestValidateBoard_SameColumns(t *testing.T) {
	cfg := validDefaults()
	cfg.Board.ResultColumnID = cfg.Board.InputColumnID

	err := cfg.Validate("board")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")
}

func TestValidateBoard_Tuning(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"timeout", func(c *Config) { c.Board.TimeoutSecs = 0 }, "board.timeout_secs must be > 0"},
		{"rate", func(c *Config) { c.Board.RateLimitRPS = -1 }, "board.rate_limit_rps must be >= 0"},
		{"retries", func(c *Config) { c.Retry.MaxRetries = -1 }, "retry.max_retries must be >= 0"},
		{"delay", func(c *Config) { c.Retry.BaseDelayMs = -5 }, "retry delays must be >= 0"},
		{"factor", func(c *Config) { c.Retry.BackoffFactor = 0.5 }, "retry.backoff_factor must be >= 1"},
		{"concurrency low", func(c *Config) { c.Recalc.Concurrency = 0 }, "recalc.concurrency must be between 1 and 50"},
		{"concurrency high", func(c *Config) { c.Recalc.Concurrency = 51 }, "recalc.concurrency must be between 1 and 50"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate("board")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
	assert.NoError(t, cfg.Validate("board"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestRedacted(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.CORSOrigins = []string{"*"}

	r := cfg.Redacted()
	assert.Equal(t, "********", r.Board.APIToken)
	assert.Equal(t, "relay.db", r.Store.DatabaseURL)
	assert.Equal(t, "tok", cfg.Board.APIToken, "original must be untouched")

	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://user:pw@host/db"
	assert.Equal(t, "********", cfg.Redacted().Store.DatabaseURL)
}
