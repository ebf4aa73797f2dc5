package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/wolfman30/finsight-ai/internal/llm"
)

const (
	// DefaultMaxRetries is the number of fallback attempts after a quota failure.
	DefaultMaxRetries = 3
	// DefaultRetryDelay is the wait before the first fallback attempt; it doubles each attempt.
	DefaultRetryDelay = 2000 * time.Millisecond
)

// RetryState belongs to a single call chain and is dropped when the chain ends.
type RetryState struct {
	Attempt     int
	MaxAttempts int
	BaseDelay   time.Duration
	Delay       time.Duration
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

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

// newRetrySchedule yields base, 2*base, 4*base, ... with no jitter and no
// elapsed-time cutoff.
func newRetrySchedule(base time.Duration) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         24 * time.Hour,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// retryWithFallback runs up to MaxRetries fallback attempts, waiting before
// each one. Each attempt's request is built for that attempt's model. Attempt
// failures are not reclassified; any error moves on to the next attempt.
func (a *Analyzer) retryWithFallback(ctx context.Context, mode string, build func(model string) llm.CompletionRequest) (llm.CompletionResult, error) {
	state := RetryState{
		MaxAttempts: a.settings.MaxRetries,
		BaseDelay:   a.settings.RetryDelay,
	}
	schedule := newRetrySchedule(state.BaseDelay)

	var (
		lastErr error
		req     llm.CompletionRequest
	)
	for state.Attempt = 0; state.Attempt < state.MaxAttempts; state.Attempt++ {
		if model := a.fallbackModel(state.Attempt); state.Attempt == 0 || model != req.Model {
			req = build(model)
		}
		state.Delay = schedule.NextBackOff()
		a.logger.Info("retrying with fallback model",
			"mode", mode,
			"model", req.Model,
			"attempt", state.Attempt+1,
			"max_attempts", state.MaxAttempts,
			"delay_ms", state.Delay.Milliseconds(),
		)
		if err := a.sleep(ctx, state.Delay); err != nil {
			return llm.CompletionResult{}, fmt.Errorf("analysis: fallback wait interrupted: %w", err)
		}

		res, err := a.complete(ctx, req, pathFallback)
		if err == nil {
			a.logger.Info("fallback attempt succeeded", "mode", mode, "attempt", state.Attempt+1)
			return res, nil
		}
		lastErr = err
		a.logger.Warn("fallback attempt failed",
			"mode", mode,
			"model", req.Model,
			"attempt", state.Attempt+1,
			"error", err,
		)
	}

	a.metrics.ObserveExhausted(mode)
	a.logger.Error("all fallback attempts failed", "mode", mode, "attempts", state.MaxAttempts, "error", lastErr)
	return llm.CompletionResult{}, &exhaustedError{attempts: state.MaxAttempts, last: lastErr}
}
