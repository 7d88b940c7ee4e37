package serving

import (
	"context"
	"math"
	"time"
)

type RetryConfig struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      2,
		BaseDelay:       100 * time.Millisecond,
		MaxDelay:        2 * time.Second,
		BackoffMultiple: 2.0,
	}
}

func (c RetryConfig) delay(attempt int) time.Duration {
	multiple := c.BackoffMultiple
	if multiple <= 0 {
		multiple = 2.0
	}
	d := time.Duration(float64(c.BaseDelay) * math.Pow(multiple, float64(attempt)))
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retry runs fn until it succeeds, returns an error retryable rejects, or
// MaxRetries extra attempts were made. onRetry is called before each sleep.
func retry(ctx context.Context, cfg RetryConfig, sleep sleepFunc, retryable func(error) bool, onRetry func(attempt int, delay time.Duration, err error), fn func(attempt int) error) (int, error) {
	var err error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			d := cfg.delay(attempt - 1)
			if onRetry != nil {
				onRetry(attempt, d, err)
			}
			if serr := sleep(ctx, d); serr != nil {
				return attempt, serr
			}
		}
		err = fn(attempt)
		if err == nil || !retryable(err) {
			return attempt + 1, err
		}
	}
	return cfg.MaxRetries + 1, err
}
