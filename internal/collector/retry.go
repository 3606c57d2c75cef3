package collector

import (
	"context"
	"log/slog"
	"time"
)

const (
	maxRetryAttempts    = 3
	initialRetryBackoff = 100 * time.Millisecond
	maxRetryBackoff     = 2 * time.Second
)

// retryConfig bounds the attempts made against one cluster. sleep is
// swappable so tests do not wait.
type retryConfig struct {
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	sleep          func(context.Context, time.Duration) error
}

func defaultRetryConfig() retryConfig {
	return retryConfig{}.normalized()
}

func (cfg retryConfig) normalized() retryConfig {
	if cfg.maxAttempts <= 0 {
		cfg.maxAttempts = maxRetryAttempts
	}
	if cfg.initialBackoff <= 0 {
		cfg.initialBackoff = initialRetryBackoff
	}
	cfg.maxBackoff = max(cfg.maxBackoff, cfg.initialBackoff)
	if cfg.sleep == nil {
		cfg.sleep = sleepWithContext
	}
	return cfg
}

// executeWithRetry calls fn until it succeeds, fails with a non-transient
// error, runs out of attempts or ctx ends. The delay doubles up to maxBackoff.
func executeWithRetry(ctx context.Context, cfg retryConfig, fn func() error) error {
	cfg = cfg.normalized()
	delay := cfg.initialBackoff

	for attempt := 1; ; attempt++ {
		if err := contextError(ctx); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		if ctxErr := contextError(ctx); ctxErr != nil {
			return ctxErr
		}

		if classify(err) != transient || attempt >= cfg.maxAttempts {
			return err
		}
		slog.Debug("retrying pod listing",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		if err := cfg.sleep(ctx, delay); err != nil {
			if ctxErr := contextError(ctx); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		delay = min(delay*2, cfg.maxBackoff)
	}
}

// withClusterDeadline bounds every attempt for one cluster, retries included.
// A non-positive timeout only adds cancellation.
func withClusterDeadline(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

// contextError reports why ctx ended, preferring its cause.
func contextError(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return context.Cause(ctx)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return contextError(ctx)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return contextError(ctx)
	case <-timer.C:
		return nil
	}
}
