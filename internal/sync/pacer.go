package sync

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces out calls to a rate-limited remote.
type Pacer interface {
	Wait(ctx context.Context) error
}

// PacerFunc adapts a plain function to Pacer.
type PacerFunc func(ctx context.Context) error

// Wait calls f.
func (f PacerFunc) Wait(ctx context.Context) error {
	return f(ctx)
}

// NoDelay is a Pacer that never waits. It still honors cancellation.
var NoDelay Pacer = PacerFunc(func(ctx context.Context) error {
	return ctx.Err()
})

// NewRatePacer returns a Pacer that lets one call through per delay.
// The first Wait returns immediately.
func NewRatePacer(delay time.Duration) Pacer {
	if delay <= 0 {
		return NoDelay
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}
