package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	retryAttempts = 3
	retryMaxWait  = 10 * time.Second

	// Time allowed for a sell or buy on top of the settlement wait: balance
	// reads, nonce, gas estimation and submission.
	actionSubmitBudget   = 45 * time.Second
	defaultActionTimeout = 60*time.Second + actionSubmitBudget
)

func actionTimeout(settlement time.Duration) time.Duration {
	if settlement <= 0 {
		return defaultActionTimeout
	}
	return settlement + actionSubmitBudget
}

// withRetry calls fn until it succeeds, the context ends or attempts run out.
// The wait doubles after every failure.
func withRetry[T any](ctx context.Context, log *logrus.Entry, backoff time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := 0; i < retryAttempts; i++ {
		val, err := fn()
		if err == nil {
			return val, nil
		}
		lastErr = err
		if i == retryAttempts-1 {
			break
		}
		log.WithError(err).WithField("attempt", i+1).Warn("Ошибка, повторяем запрос.")
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, retryMaxWait)
	}
	return zero, lastErr
}
