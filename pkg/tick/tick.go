// Package tick abstracts the node actor's periodic tick source, grounded on
// oceanraft/src/tick.rs's Ticker trait: a real interval-based ticker for
// production, and a manually-driven one for deterministic tests.
package tick

import (
	"context"
	"time"
)

// Ticker produces one tick per period. Recv blocks until the next tick
// fires or ctx is cancelled.
type Ticker interface {
	Recv(ctx context.Context) error
}

// Real is a Ticker backed by time.Ticker.
type Real struct {
	ticker *time.Ticker
}

// NewReal creates a Ticker that fires every interval.
func NewReal(interval time.Duration) *Real {
	return &Real{ticker: time.NewTicker(interval)}
}

// Recv implements Ticker.
func (r *Real) Recv(ctx context.Context) error {
	select {
	case <-r.ticker.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop releases the underlying time.Ticker.
func (r *Real) Stop() {
	r.ticker.Stop()
}

// Manual is a Ticker a test drives explicitly by calling Tick, used so
// election/heartbeat-timing tests are deterministic instead of racing real
// wall-clock timers.
type Manual struct {
	ch chan struct{}
}

// NewManual creates a manually-driven ticker.
func NewManual() *Manual {
	return &Manual{ch: make(chan struct{}, 1)}
}

// Recv implements Ticker.
func (m *Manual) Recv(ctx context.Context) error {
	select {
	case <-m.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick fires one tick. Non-blocking: if a tick is already pending and
// unconsumed, this is a no-op (coalesces bursts, matching a real ticker's
// own behavior under a slow consumer).
func (m *Manual) Tick() {
	select {
	case m.ch <- struct{}{}:
	default:
	}
}
