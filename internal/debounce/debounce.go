// Package debounce collapses bursts of input events into a single call and lets
// callers recognise results of superseded calls.
package debounce

import (
	"sync"
	"sync/atomic"
	"time"
)

// Debouncer runs the most recently triggered task once input has settled for Wait.
type Debouncer struct {
	Wait time.Duration

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// New constructs a debouncer with the provided quiet period.
func New(wait time.Duration) *Debouncer {
	return &Debouncer{Wait: wait}
}

// Trigger schedules fn and cancels any task still waiting for the input to settle.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.Wait, func() {
		d.mu.Lock()
		stale := d.gen != gen
		d.mu.Unlock()
		if stale {
			return
		}
		fn()
	})
}

// Stop drops the pending task, if any.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Sequence hands out call-order tickets. Only the latest ticket is current, so a
// response is applied only if no newer call started after it: last write wins by call
// order, not completion order.
type Sequence struct {
	n atomic.Uint64
}

// Next starts a new call and returns its ticket.
func (s *Sequence) Next() uint64 {
	return s.n.Add(1)
}

// Invalidate makes every outstanding ticket stale.
func (s *Sequence) Invalidate() {
	s.n.Add(1)
}

// Current reports whether ticket still belongs to the latest call.
func (s *Sequence) Current(ticket uint64) bool {
	return s.n.Load() == ticket
}
