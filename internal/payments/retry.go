package payments

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retrier wraps payment handlers in bounded exponential backoff: delays of
// 1s, 2s, 4s between attempts, last error returned once attempts are
// exhausted. The loop deliberately ignores upstream cancellation so financial
// side effects complete even when the delivering request disconnects.
type Retrier struct {
	maxAttempts int
	timer       backoff.Timer
	log         *slog.Logger
}

// RetrierOption configures a Retrier.
type RetrierOption func(*Retrier)

// WithTimer overrides the backoff timer, for tests.
func WithTimer(timer backoff.Timer) RetrierOption {
	return func(r *Retrier) {
		r.timer = timer
	}
}

// NewRetrier builds a Retrier with the given attempt cap.
func NewRetrier(maxAttempts int, log *slog.Logger, opts ...RetrierOption) *Retrier {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Retrier{maxAttempts: maxAttempts, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs fn up to maxAttempts times. The context passed to fn is detached
// from the caller's cancellation; values (request id) survive.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	detached := context.WithoutCancel(ctx)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxInterval = time.Minute
	policy.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		return fn(detached)
	}
	notify := func(err error, delay time.Duration) {
		r.log.Warn("handler attempt failed, backing off",
			"operation", op,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}
	return backoff.RetryNotifyWithTimer(operation, backoff.WithMaxRetries(policy, uint64(r.maxAttempts-1)), notify, r.timer)
}
