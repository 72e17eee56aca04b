// Package clock provides the time source for the controller. All components
// read time and sleep through a Clock so tests can run deterministically.
package clock

import (
	"context"
	"time"
)

// Clock is the time source for the controller.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
	// Sleep blocks for d or until the context is cancelled, in which case
	// it returns the context error.
	Sleep(ctx context.Context, d time.Duration) error
}

// New returns a Clock backed by the system clock.
func New() Clock {
	return realClock{}
}

type realClock struct{}

// Now implements Clock.
func (realClock) Now() time.Time {
	return time.Now()
}

// Sleep implements Clock.
func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
