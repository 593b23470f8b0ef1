// Package retry re-runs idempotent reads that failed on a transient store error.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/campuslink/core/internal/pkg/apperr"
	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultAttempts = 3
	initialInterval = 50 * time.Millisecond
	maxInterval     = 500 * time.Millisecond
)

// Read runs fn up to DefaultAttempts times while it fails with apperr.ErrTransientStore.
// Any other error is returned immediately.
func Read[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	return ReadN(ctx, DefaultAttempts, fn)
}

// ReadN is Read with an explicit attempt budget.
func ReadN[T any](ctx context.Context, attempts uint, fn func() (T, error)) (T, error) {
	if attempts == 0 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialInterval
	b.MaxInterval = maxInterval

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && !errors.Is(err, apperr.ErrTransientStore) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(attempts))
}
