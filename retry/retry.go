// Package retry wraps remote calls with bounded, linearly backed-off retries.
package retry

import (
	"context"
	"errors"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/spv-bridge/agreement"
)

var ErrExhausted = errors.New("retries exhausted")

// Policy bounds a retried call.
// Attempt i (0-based) is followed by a sleep of (Multiplier*i+1)*Backoff.
type Policy struct {
	MaxAttempts int // total calls, including the first one
	Backoff     time.Duration
	Multiplier  int
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, Backoff: time.Second, Multiplier: 2}
}

// ExhaustedError is returned once every attempt failed.
// Its message is the last failure's message, unchanged.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return e.Last.Error()
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, agreement.ErrFatal, e.Last}
}

type unrecoverable struct {
	err error
}

func (u *unrecoverable) Error() string { return u.err.Error() }
func (u *unrecoverable) Unwrap() error { return u.err }

// Unrecoverable marks err so that Do returns it at once.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &unrecoverable{err}
}

// permanent errors are returned as is, without another attempt.
func permanent(err error) (error, bool) {
	var u *unrecoverable
	if errors.As(err, &u) {
		return u.err, true
	}
	switch {
	case errors.Is(err, agreement.ErrNotFound),
		errors.Is(err, agreement.ErrInvalidRequestList),
		errors.Is(err, agreement.ErrFatal),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err, true
	}
	return err, false
}

// Do calls f until it succeeds, fails permanently, ctx is done
// or p.MaxAttempts calls have failed.
func Do[T any](ctx context.Context, log logger.FieldLogger, p Policy, op string, f func(ctx context.Context) (T, error)) (T, error) {
	initPrometheusMetrics()

	var result T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		res, err := f(ctx)
		if err == nil {
			return res, nil
		}
		if perr, ok := permanent(err); ok {
			return result, perr
		}

		last = err
		prometheusRetryFailures.WithLabelValues(op).Inc()
		log.WithFields(logger.Fields{
			"op":      op,
			"attempt": i + 1,
			"of":      attempts,
		}).WithError(err).Warn("remote call failed")

		if i == attempts-1 {
			break
		}
		if err := BackoffAndSleep(ctx, i, p.Multiplier, p.Backoff); err != nil {
			return result, err
		}
	}

	prometheusRetryExhausted.WithLabelValues(op).Inc()
	return result, &ExhaustedError{Op: op, Attempts: attempts, Last: last}
}

// Mutate is Do for calls that change remote state. A failure whose message
// contains one of expected (case-insensitive) means the change is already
// in place, and counts as success.
func Mutate(ctx context.Context, log logger.FieldLogger, p Policy, op string, expected []string, f func(ctx context.Context) error) error {
	_, err := Do(ctx, log, p, op, func(ctx context.Context) (struct{}, error) {
		err := f(ctx)
		if err != nil && IsExpected(err, expected) {
			prometheusRetryAbsorbed.WithLabelValues(op).Inc()
			log.WithFields(logger.Fields{"op": op}).WithError(err).Info("already done on the ledger")
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	return err
}

// IsExpected reports whether err's message contains any of expected.
func IsExpected(err error, expected []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, e := range expected {
		if e != "" && strings.Contains(msg, strings.ToLower(e)) {
			return true
		}
	}
	return false
}
