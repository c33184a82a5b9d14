package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RetryError asks the worker to reschedule the message. A zero Countdown means
// the task's DefaultRetryDelay.
type RetryError struct {
	Err       error
	Countdown time.Duration
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry: %v", e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// IsRetry reports whether err asks for the message to be rescheduled.
func IsRetry(err error) bool {
	var re *RetryError
	return errors.As(err, &re)
}

type retryConfig struct {
	on      []error
	exclude []error
	ignore  []error
}

// RetryOption configures Retry.
type RetryOption func(*retryConfig)

// On restricts retries to errors matching one of errs. Without On, every error is
// retried.
func On(errs ...error) RetryOption {
	return func(c *retryConfig) { c.on = append(c.on, errs...) }
}

// Exclude makes matching errors fail the task immediately.
func Exclude(errs ...error) RetryOption {
	return func(c *retryConfig) { c.exclude = append(c.exclude, errs...) }
}

// Ignore makes matching errors count as success.
func Ignore(errs ...error) RetryOption {
	return func(c *retryConfig) { c.ignore = append(c.ignore, errs...) }
}

// Retry wraps h so that its failures are turned into RetryErrors. Errors are
// matched with errors.Is, in the order ignore, exclude, on.
func Retry(h Handler, opts ...RetryOption) Handler {
	var cfg retryConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(ctx context.Context, payload json.RawMessage) error {
		err := h(ctx, payload)
		switch {
		case err == nil:
			return nil
		case matchesAny(err, cfg.ignore):
			return nil
		case matchesAny(err, cfg.exclude):
			return err
		case IsRetry(err):
			return err
		case len(cfg.on) == 0 || matchesAny(err, cfg.on):
			return &RetryError{Err: err}
		default:
			return err
		}
	}
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
