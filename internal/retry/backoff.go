// Package retry implements exponential backoff for transient failures,
// used at boot for database connects and by callers sitting outside the
// job queue's own retry curve.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config configures retry behavior with exponential backoff.
type Config struct {
	MaxRetries int           // retry attempts after the first try (default: 3)
	BaseDelay  time.Duration // delay before the first retry (default: 1s)
	MaxDelay   time.Duration // ceiling on the delay between retries (default: 30s)
	Multiplier float64       // backoff growth factor (default: 2.0)
	Jitter     bool          // up to 10% random jitter on each delay
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// DatabaseConfig waits out longer outages, for boot-time connects where
// Postgres may still be coming up.
func DatabaseConfig() Config {
	return Config{
		MaxRetries: 10,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Do runs op until it succeeds, the attempts run out, or ctx ends. name
// labels the operation in logs.
func Do(ctx context.Context, config Config, name string, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			if attempt > 0 {
				log.Debug().Str("op", name).Int("attempt", attempt+1).Msg("succeeded after retry")
			}
			return nil
		}
		if attempt >= config.MaxRetries {
			break
		}

		delay := calculateDelay(config, attempt)
		log.Warn().
			Err(lastErr).
			Str("op", name).
			Int("attempt", attempt+1).
			Dur("retryIn", delay).
			Msg("operation failed, backing off")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, config.MaxRetries+1, lastErr)
}

func calculateDelay(config Config, attempt int) time.Duration {
	delay := float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	if config.Jitter {
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(config.BaseDelay)
		}
	}
	return time.Duration(delay)
}

// IsRetryable reports whether the error looks transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"no such host",
		"network unreachable",
		"broken pipe",
		"deadlock detected",
		"serialization failure",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
