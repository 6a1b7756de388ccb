// Package backoff retries transient failures with growing delays.
package backoff

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Strategy yields the delay before each retry.
type Strategy interface {
	// NextDelay returns the next delay and whether another attempt is allowed
	NextDelay() (time.Duration, bool)
	Reset()
}

// ExponentialBackoff multiplies the delay after every attempt, with ±20%
// jitter, up to MaxDelay. MaxRetries of zero retries forever.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxRetries   int

	currentDelay time.Duration
	retryCount   int
	mu           sync.Mutex
}

func NewExponentialBackoff(initialDelay, maxDelay time.Duration, multiplier float64, maxRetries int) *ExponentialBackoff {
	if multiplier < 1 {
		multiplier = 2
	}
	return &ExponentialBackoff{
		InitialDelay: initialDelay,
		MaxDelay:     maxDelay,
		Multiplier:   multiplier,
		MaxRetries:   maxRetries,
		currentDelay: initialDelay,
	}
}

func (e *ExponentialBackoff) NextDelay() (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.MaxRetries > 0 && e.retryCount >= e.MaxRetries {
		return 0, false
	}

	jitter := 0.8 + (0.4 * rand.Float64())
	delay := time.Duration(float64(e.currentDelay) * jitter)

	e.currentDelay = time.Duration(float64(e.currentDelay) * e.Multiplier)
	if e.currentDelay > e.MaxDelay {
		e.currentDelay = e.MaxDelay
	}
	e.retryCount++

	return delay, true
}

func (e *ExponentialBackoff) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.currentDelay = e.InitialDelay
	e.retryCount = 0
}

// Never allows no retries.
type Never struct{}

func (Never) NextDelay() (time.Duration, bool) {
	return 0, false
}

func (Never) Reset() {}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retry calls fn until it succeeds, returns a permanent error, the strategy
// gives up, or ctx ends. The last error from fn is returned, unwrapped from
// Permanent.
func Retry(ctx context.Context, strategy Strategy, logger logrus.FieldLogger, fn func(ctx context.Context) error) error {
	strategy.Reset()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}

		delay, ok := strategy.NextDelay()
		if !ok {
			return err
		}

		if logger != nil {
			logger.WithError(err).WithField("retry_in", delay).Warn("Attempt failed, retrying")
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
