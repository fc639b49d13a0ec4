package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// Default retry parameters
const (
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	LinearStepMs      = 250
	BackoffMultiplier = 2.0
)

// Class is the retry classification of an error
type Class int

const (
	ClassPermanent Class = iota
	ClassNetwork
	ClassAPI
)

func (c Class) String() string {
	switch c {
	case ClassNetwork:
		return "network"
	case ClassAPI:
		return "api"
	default:
		return "permanent"
	}
}

// StatusError is a non-2xx response from a remote provider
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying
func (e *StatusError) Retryable() bool {
	return e.StatusCode == 408 || e.StatusCode == 429 || e.StatusCode >= 500
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Config configures retry behavior
type Config struct {
	MaxRetries int           // Retries after the first attempt
	BaseDelay  time.Duration // Initial delay for exponential backoff
	MaxDelay   time.Duration // Upper bound for any single delay
	Multiplier float64       // Exponential backoff multiplier
	LinearStep time.Duration // Step for linear backoff on API errors

	// Classify overrides the default classification when set
	Classify func(error) Class

	// OnRetry is called before each sleep
	OnRetry func(attempt int, class Class, delay time.Duration, err error)
}

// DefaultConfig returns sensible defaults for provider calls
func DefaultConfig() Config {
	return Config{
		MaxRetries: MaxRetries,
		BaseDelay:  time.Duration(InitialBackoffMs) * time.Millisecond,
		MaxDelay:   time.Duration(MaxBackoffMs) * time.Millisecond,
		Multiplier: BackoffMultiplier,
		LinearStep: time.Duration(LinearStepMs) * time.Millisecond,
	}
}

// Classify returns the default classification for err
func Classify(err error) Class {
	if err == nil {
		return ClassPermanent
	}

	var perm *permanentError
	if errors.As(err, &perm) {
		return ClassPermanent
	}
	if errors.Is(err, context.Canceled) {
		return ClassPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassNetwork
	}

	var status *StatusError
	if errors.As(err, &status) {
		if status.Retryable() {
			return ClassAPI
		}
		return ClassPermanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassNetwork
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ClassNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ClassNetwork
	}

	return ClassAPI
}

// Delay returns how long to wait before retry number attempt (0-based)
func (c Config) Delay(class Class, attempt int) time.Duration {
	var d time.Duration
	switch class {
	case ClassNetwork:
		d = c.BaseDelay
		for i := 0; i < attempt; i++ {
			d = time.Duration(float64(d) * c.Multiplier)
			if c.MaxDelay > 0 && d > c.MaxDelay {
				break
			}
		}
	case ClassAPI:
		d = c.LinearStep * time.Duration(attempt+1)
	default:
		return 0
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

// Do executes fn, retrying per the error classification.
// Retry stops as soon as ctx is done; the last error is returned otherwise.
func Do[T any](ctx context.Context, config Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	classify := config.Classify
	if classify == nil {
		classify = Classify
	}

	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		// Caller cancelled or ran out of time
		if ctx.Err() != nil {
			return zero, errors.Join(err, ctx.Err())
		}

		class := classify(err)
		if class == ClassPermanent || attempt >= config.MaxRetries {
			return zero, err
		}

		delay := config.Delay(class, attempt)
		if config.OnRetry != nil {
			config.OnRetry(attempt+1, class, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}
