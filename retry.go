package vfskit

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"
)

// RetryOptions returns the reconnect policy of cfg: bounded attempts with
// exponential back-off, retrying transport failures only.
func RetryOptions(ctx context.Context, cfg *Config, log logrus.FieldLogger) []retry.Option {
	attempts := max(cfg.RetryAttempts, 1)
	return []retry.Option{
		retry.Attempts(uint(attempts)),
		retry.Delay(cfg.RetryDelay()),
		retry.MaxDelay(5 * time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsRetryable),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).WithField("attempt", n+1).Warn("retrying after transport failure")
		}),
	}
}

// Retry runs fn under the reconnect policy of cfg.
func Retry(ctx context.Context, cfg *Config, log logrus.FieldLogger, fn func() error) error {
	return retry.Do(fn, RetryOptions(ctx, cfg, log)...)
}

// RetryWithResult runs fn under the reconnect policy of cfg and returns its result.
func RetryWithResult[T any](ctx context.Context, cfg *Config, log logrus.FieldLogger, fn func() (T, error)) (T, error) {
	return retry.DoWithData(fn, RetryOptions(ctx, cfg, log)...)
}

// IsRetryable reports whether err is a transport failure worth another
// attempt. Cancellation is never retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return CodeOf(err) == ErrCodeTransport
}
