package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/canopy-network/geyserx/pkg/logging"
	"go.uber.org/zap"
)

// Config is an exponential backoff schedule.
type Config struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	JitterEnabled bool
}

// DefaultConfig is used for connection establishment at startup.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    10,
		InitialDelay:  2 * time.Second,
		MaxDelay:      60 * time.Second,
		Multiplier:    2.0,
		JitterEnabled: true,
	}
}

// PersistConfig is used on the flush/ack path, where the process gives up after maxRetries
// and relies on the supervisor plus pending-entry redelivery.
func PersistConfig(maxRetries int) Config {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return Config{
		MaxRetries:    maxRetries,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      15 * time.Second,
		Multiplier:    2.0,
		JitterEnabled: true,
	}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. WithBackoff returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// WithBackoff runs fn until it succeeds, returns a Permanent error, or has been tried
// cfg.MaxRetries times. Waits between attempts grow by cfg.Multiplier.
func WithBackoff(ctx context.Context, cfg Config, logger *zap.Logger, operation string, fn func() error) error {
	logger = logging.OrNop(logger)
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}

	var err error
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("%s cancelled: %w", operation, ctx.Err())
		}

		if err = fn(); err == nil {
			if attempt > 1 {
				logger.Info("Recovered after retries", zap.String("operation", operation), zap.Int("attempts", attempt))
			}
			return nil
		}
		switch {
		case IsPermanent(err):
			return fmt.Errorf("%s failed permanently: %w", operation, err)
		case attempt >= cfg.MaxRetries:
			return fmt.Errorf("%s failed after %d attempts: %w", operation, attempt, err)
		}

		delay := Backoff(cfg, attempt)
		logger.Warn("Retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", cfg.MaxRetries),
			zap.Duration("retry_in", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s cancelled: %w", operation, ctx.Err())
		case <-timer.C:
		}
	}
}

// Backoff returns the delay before the given attempt (1-based) under cfg, capped at
// cfg.MaxDelay. With jitter the delay moves by up to 15% either way.
func Backoff(cfg Config, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := math.Min(float64(cfg.InitialDelay)*math.Pow(cfg.Multiplier, float64(attempt-1)), float64(cfg.MaxDelay))
	if cfg.JitterEnabled {
		delay *= 0.85 + 0.3*rand.Float64()
	}
	return time.Duration(delay)
}
