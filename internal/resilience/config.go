package resilience

import (
	"time"
)

// FromRetryConfig converts config values to a RetryConfig. maxRetries counts
// the attempts after the first one, so 0 disables retrying and a base delay
// of 0 retries without sleeping. Negative values keep the defaults, as do a
// non-positive max delay or backoff factor.
func FromRetryConfig(maxRetries, baseDelayMs, maxDelayMs int, backoffFactor float64) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxRetries >= 0 {
		cfg.MaxAttempts = maxRetries + 1
	}
	if baseDelayMs >= 0 {
		cfg.InitialBackoff = time.Duration(baseDelayMs) * time.Millisecond
	}
	if maxDelayMs > 0 {
		cfg.MaxBackoff = time.Duration(maxDelayMs) * time.Millisecond
	}
	if backoffFactor > 0 {
		cfg.Multiplier = backoffFactor
	}
	return cfg
}
