package agorabus

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// SendFunc delivers one message to one target provider during fan-out.
type SendFunc func(ctx context.Context, target Provider, msg *Message) error

// SendMiddleware composes processing concerns around a SendFunc. Middlewares
// run inside the fan-out, per target; whatever error survives the chain is
// downgraded to a message.error notification, never returned from Publish.
type SendMiddleware func(next SendFunc) SendFunc

// RetryConfig controls retry behavior for RetrySendMiddleware.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first execution.
	MaxAttempts int
	// Backoff computes the base wait before the next attempt (e.g., exponential backoff).
	Backoff func(attempt int) time.Duration
	// RetryIf, when provided, returns true if the error should be retried.
	// If nil, all errors are retried (bounded by MaxAttempts).
	RetryIf func(err error) bool
	// Jitter adds up to [0, Jitter] random delay to the base backoff to avoid thundering herds.
	Jitter time.Duration
}

// RetrySendMiddleware provides bounded, selective retries around a send.
func RetrySendMiddleware(cfg RetryConfig) SendMiddleware {
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, target Provider, msg *Message) error {
			var lastErr error
			attempts := cfg.MaxAttempts
			if attempts < 1 {
				attempts = 1
			}
			shouldRetry := cfg.RetryIf
			if shouldRetry == nil {
				shouldRetry = func(error) bool { return true }
			}
			for i := 1; i <= attempts; i++ {
				lastErr = next(ctx, target, msg)
				if lastErr == nil {
					return nil
				}
				// Stop if context is canceled or deadline exceeded.
				if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return lastErr
				}
				if i == attempts || !shouldRetry(lastErr) {
					return lastErr
				}
				if cfg.Backoff != nil {
					wait := cfg.Backoff(i)
					if cfg.Jitter > 0 {
						wait += time.Duration(rand.Int63n(int64(cfg.Jitter)))
					}
					select {
					case <-ctx.Done():
						return lastErr
					case <-time.After(wait):
					}
				}
			}
			return lastErr
		}
	}
}

// SendTimeoutMiddleware enforces a maximum delivery time per target.
func SendTimeoutMiddleware(d time.Duration) SendMiddleware {
	if d <= 0 {
		// No-op if duration invalid.
		return func(next SendFunc) SendFunc { return next }
	}
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, target Provider, msg *Message) error {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						errCh <- fmt.Errorf("panic recovered: %v", r)
					}
				}()
				errCh <- next(tctx, target, msg)
			}()

			select {
			case <-tctx.Done():
				return tctx.Err()
			case err := <-errCh:
				return err
			}
		}
	}
}

// RecoverSendMiddleware converts a panicking provider Send into an error so a
// misbehaving target cannot take down the fan-out.
func RecoverSendMiddleware() SendMiddleware {
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, target Provider, msg *Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic recovered: %v", r)
				}
			}()
			return next(ctx, target, msg)
		}
	}
}

// ChainSend composes middlewares around a SendFunc in order.
func ChainSend(fn SendFunc, mws ...SendMiddleware) SendFunc {
	if len(mws) == 0 {
		return fn
	}
	wrapped := fn
	// Apply in reverse so that first middleware wraps last.
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
