package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Config configures retry behavior with exponential backoff
type Config struct {
	MaxRetries int           `json:"max_retries"` // Retries after the first attempt
	BaseDelay  time.Duration `json:"base_delay"`  // Delay before the first retry
	MaxDelay   time.Duration `json:"max_delay"`   // Upper bound for any single delay
	Multiplier float64       `json:"multiplier"`  // Exponential backoff multiplier
	Jitter     bool          `json:"jitter"`      // Spread delays by up to ±10%
}

// Result describes a finished retry loop
type Result struct {
	Attempts      int           `json:"attempts"`
	TotalDuration time.Duration `json:"total_duration"`
	LastError     error         `json:"-"`
	Success       bool          `json:"success"`
}

// DefaultConfig returns a general purpose configuration
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// FileConfig is tuned for local file replacement: a handful of quick retries
func FileConfig() Config {
	return Config{
		MaxRetries: 4,
		BaseDelay:  5 * time.Millisecond,
		MaxDelay:   100 * time.Millisecond,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Do runs operation until it succeeds, fails with an error retryable rejects,
// runs out of retries, or ctx ends. A nil retryable retries every error. The
// logger may be nil.
func Do(ctx context.Context, config Config, operation func() error, retryable func(error) bool, logger *zerolog.Logger) Result {
	startTime := time.Now()
	result := Result{}

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		err := operation()
		if err == nil {
			result.Success = true
			result.LastError = nil
			result.TotalDuration = time.Since(startTime)
			if attempt > 0 && logger != nil {
				logger.Debug().Int("attempts", result.Attempts).Dur("duration", result.TotalDuration).Msg("operation succeeded after retry")
			}
			return result
		}
		result.LastError = err

		if retryable != nil && !retryable(err) {
			break
		}
		if attempt >= config.MaxRetries {
			if logger != nil {
				logger.Warn().Err(err).Int("attempts", result.Attempts).Msg("operation failed after retries")
			}
			break
		}

		delay := calculateDelay(config, attempt)
		if logger != nil {
			logger.Debug().Err(err).Int("attempt", result.Attempts).Dur("delay", delay).Msg("retrying operation")
		}

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		case <-time.After(delay):
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result
}

// calculateDelay returns baseDelay * multiplier^attempt, capped and jittered
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

// IsTransientFSError reports errors a concurrent reader or scanner can cause
// briefly while a file is being replaced
func IsTransientFSError(err error) bool {
	return errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EINTR)
}
