// Package sched provides the scheduling primitives the live-sync
// engine runs on: a trailing-edge debouncer for the heavy pass, a
// fixed-interval throttler for relay broadcasts and a frame coalescer
// for the light pass. Explicit policies instead of inline timer
// bookkeeping.
package sched

import (
	"sync"
	"time"
)

// Debouncer runs fn once after a fixed quiet window with no further
// triggers. Every Trigger resets the window.
type Debouncer struct {
	mu    sync.Mutex
	quiet time.Duration
	fn    func()
	timer *time.Timer
}

// NewDebouncer creates a debouncer with the given quiet window.
func NewDebouncer(quiet time.Duration, fn func()) *Debouncer {
	return &Debouncer{quiet: quiet, fn: fn}
}

// Trigger (re)starts the quiet window. fn runs only if no further
// trigger arrives within it.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, d.fn)
}

// Stop cancels any pending run.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Throttler delivers payloads to fn at most once per interval. The
// first payload after an idle interval is delivered immediately;
// payloads arriving inside the gap replace the pending one, so the
// latest value always wins and delivery order is never inverted.
type Throttler[T any] struct {
	mu       sync.Mutex
	interval time.Duration
	fn       func(T)
	lastFire time.Time
	pending  *T
	timer    *time.Timer
}

// NewThrottler creates a throttler with the given minimum gap.
func NewThrottler[T any](interval time.Duration, fn func(T)) *Throttler[T] {
	return &Throttler[T]{interval: interval, fn: fn}
}

// Offer submits a payload for delivery under the throttle policy.
func (t *Throttler[T]) Offer(v T) {
	t.mu.Lock()

	now := time.Now()
	if t.pending == nil && now.Sub(t.lastFire) >= t.interval {
		t.lastFire = now
		t.mu.Unlock()
		t.fn(v)
		return
	}

	t.pending = &v
	if t.timer == nil {
		wait := t.interval - now.Sub(t.lastFire)
		if wait < 0 {
			wait = 0
		}
		t.timer = time.AfterFunc(wait, t.flush)
	}
	t.mu.Unlock()
}

func (t *Throttler[T]) flush() {
	t.mu.Lock()
	t.timer = nil
	if t.pending == nil {
		t.mu.Unlock()
		return
	}
	v := *t.pending
	t.pending = nil
	t.lastFire = time.Now()
	t.mu.Unlock()

	t.fn(v)
}

// Stop cancels any pending delivery.
func (t *Throttler[T]) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = nil
}

// Coalescer batches bursts down to one fn call per frame interval,
// delivering only the latest payload. A new payload arriving before
// the frame fires replaces the pending one (last edit wins).
type Coalescer[T any] struct {
	mu       sync.Mutex
	interval time.Duration
	fn       func(T)
	pending  *T
	timer    *time.Timer
}

// NewCoalescer creates a coalescer with the given frame interval.
func NewCoalescer[T any](interval time.Duration, fn func(T)) *Coalescer[T] {
	return &Coalescer[T]{interval: interval, fn: fn}
}

// Offer schedules v for the next frame, replacing any pending payload.
func (c *Coalescer[T]) Offer(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = &v
	if c.timer == nil {
		c.timer = time.AfterFunc(c.interval, c.fire)
	}
}

func (c *Coalescer[T]) fire() {
	c.mu.Lock()
	c.timer = nil
	if c.pending == nil {
		c.mu.Unlock()
		return
	}
	v := *c.pending
	c.pending = nil
	c.mu.Unlock()

	c.fn(v)
}

// Stop cancels any pending frame.
func (c *Coalescer[T]) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = nil
}
