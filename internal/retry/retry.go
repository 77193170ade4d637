package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var ErrTooManyAttempts = errors.New("too many retry attempts")

// Func is one attempt. Attempts are numbered from 1.
type Func func(attempt int) error

type transientError struct {
	cause   error
	attempt int
}

func (e *transientError) Error() string {
	return fmt.Sprintf("attempt %d: %v", e.attempt, e.cause)
}

func (e *transientError) Unwrap() error {
	return e.cause
}

// Transient marks err as worth another attempt. Any other error returned
// from a Func stops the loop immediately.
func Transient(err error, attempt int) error {
	if err == nil {
		return nil
	}

	return &transientError{cause: err, attempt: attempt}
}

func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

type Backoff interface {
	Delay(attempt int) time.Duration
}

// Linear waits Step longer after every failed attempt, never more than Max
// when Max is set.
type Linear struct {
	Step time.Duration
	Max  time.Duration
}

func (l Linear) Delay(attempt int) time.Duration {
	d := l.Step * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}

	return d
}

type Policy struct {
	MaxAttempts int
	Backoff     Backoff
}

// Do calls fn until it succeeds, fails permanently, the attempts run out
// or ctx is done.
func Do(ctx context.Context, p Policy, fn Func) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	backoff := p.Backoff
	if backoff == nil {
		backoff = Linear{}
	}

	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}

		if !IsTransient(err) {
			return errors.Wrapf(err, "attempt %d failed", attempt)
		}

		if attempt >= maxAttempts {
			return errors.Wrapf(ErrTooManyAttempts, "last error: %v", err)
		}

		timer := time.NewTimer(backoff.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrapf(ctx.Err(), "retry stopped after attempt %d", attempt)
		case <-timer.C:
		}
	}
}
