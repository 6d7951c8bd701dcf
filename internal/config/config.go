package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/factor-relay/internal/db"
	"github.com/sells-group/factor-relay/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Board  BoardConfig  `yaml:"board" mapstructure:"board"`
	Retry  RetryConfig  `yaml:"retry" mapstructure:"retry"`
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Recalc RecalcConfig `yaml:"recalc" mapstructure:"recalc"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// BoardConfig configures the remote board API client.
type BoardConfig struct {
	APIURL         string  `yaml:"api_url" mapstructure:"api_url"`
	APIVersion     string  `yaml:"api_version" mapstructure:"api_version"`
	APIToken       string  `yaml:"api_token" mapstructure:"api_token"`
	BoardID        string  `yaml:"board_id" mapstructure:"board_id"`
	InputColumnID  string  `yaml:"input_column_id" mapstructure:"input_column_id"`
	ResultColumnID string  `yaml:"result_column_id" mapstructure:"result_column_id"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	PageSize       int     `yaml:"page_size" mapstructure:"page_size"`
}

// RetryConfig tunes the board client's retry policy.
type RetryConfig struct {
	MaxRetries    int     `yaml:"max_retries" mapstructure:"max_retries"`
	BaseDelayMs   int     `yaml:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelayMs    int     `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
	BackoffFactor float64 `yaml:"backoff_factor" mapstructure:"backoff_factor"`
}

// Policy converts the settings into a resilience.RetryConfig.
func (r RetryConfig) Policy() resilience.RetryConfig {
	return resilience.FromRetryConfig(r.MaxRetries, r.BaseDelayMs, r.MaxDelayMs, r.BackoffFactor)
}

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// PoolConfig returns the Postgres pool tuning.
func (s StoreConfig) PoolConfig() *db.PoolConfig {
	return &db.PoolConfig{MaxConns: s.MaxConns, MinConns: s.MinConns}
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// RecalcConfig configures board-wide recalculation.
type RecalcConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("board.api_url", "https://api.monday.com/v2")
	v.SetDefault("board.api_version", "2024-10")
	v.SetDefault("board.api_token", "")
	v.SetDefault("board.board_id", "")
	v.SetDefault("board.input_column_id", "")
	v.SetDefault("board.result_column_id", "")
	v.SetDefault("board.timeout_secs", 30)
	v.SetDefault("board.rate_limit_rps", 5)
	v.SetDefault("board.page_size", 100)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay_ms", 1000)
	v.SetDefault("retry.max_delay_ms", 10000)
	v.SetDefault("retry.backoff_factor", 2)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "factor-relay.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("recalc.concurrency", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. Modes: "store" for
// commands that only touch persistence, "board" for commands that also
// call the board API, and "serve" for the HTTP server.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "store":
		errs = c.validateStore(errs)
	case "board":
		errs = c.validateStore(errs)
		errs = c.validateBoard(errs)
	case "serve":
		errs = c.validateStore(errs)
		errs = c.validateBoard(errs)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore(errs []string) []string {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	return errs
}

func (c *Config) validateBoard(errs []string) []string {
	required := []struct{ key, val string }{
		{"board.api_token", c.Board.APIToken},
		{"board.board_id", c.Board.BoardID},
		{"board.input_column_id", c.Board.InputColumnID},
		{"board.result_column_id", c.Board.ResultColumnID},
	}
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			errs = append(errs, r.key+" is required")
		}
	}
	if c.Board.InputColumnID != "" && c.Board.InputColumnID == c.Board.ResultColumnID {
		errs = append(errs, "board.input_column_id and board.result_column_id must differ")
	}
	if c.Board.TimeoutSecs <= 0 {
		errs = append(errs, "board.timeout_secs must be > 0")
	}
	if c.Board.RateLimitRPS < 0 {
		errs = append(errs, "board.rate_limit_rps must be >= 0")
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, "retry.max_retries must be >= 0")
	}
	if c.Retry.BaseDelayMs < 0 || c.Retry.MaxDelayMs < 0 {
		errs = append(errs, "retry delays must be >= 0")
	}
	if c.Retry.BackoffFactor < 1 {
		errs = append(errs, "retry.backoff_factor must be >= 1")
	}
	if c.Recalc.Concurrency < 1 || c.Recalc.Concurrency > 50 {
		errs = append(errs, "recalc.concurrency must be between 1 and 50")
	}
	return errs
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() Config {
	out := *c
	if out.Board.APIToken != "" {
		out.Board.APIToken = "********"
	}
	if out.Store.Driver == "postgres" && out.Store.DatabaseURL != "" {
		out.Store.DatabaseURL = "********"
	}
	out.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	return out
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
