// ABOUTME: Cancellable per-(session, user) timers for the disconnect grace window
// ABOUTME: A cancelled or replaced timer never runs its callback

package presence

import (
	"sync"
	"time"
)

type pendingLeave struct {
	timer *time.Timer
	token uint64
}

type leaveKey struct {
	sessionID string
	userID    string
}

// DeferredLeaves schedules callbacks to run after a fixed window.
type DeferredLeaves struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[leaveKey]*pendingLeave
	next    uint64
	closed  bool
	wg      sync.WaitGroup
}

// NewDeferredLeaves creates a scheduler with the given grace window.
func NewDeferredLeaves(window time.Duration) *DeferredLeaves {
	return &DeferredLeaves{
		window:  window,
		pending: make(map[leaveKey]*pendingLeave),
	}
}

// Window returns the grace window.
func (d *DeferredLeaves) Window() time.Duration {
	return d.window
}

// Schedule arranges for fn to run after the window unless Cancel is called
// for the same pair first. Scheduling again for a pair replaces the earlier
// callback.
func (d *DeferredLeaves) Schedule(sessionID, userID string, fn func()) {
	key := leaveKey{sessionID, userID}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if prev, ok := d.pending[key]; ok {
		if prev.timer.Stop() {
			d.wg.Done()
		}
	}

	d.next++
	token := d.next
	d.wg.Add(1)
	p := &pendingLeave{token: token}
	p.timer = time.AfterFunc(d.window, func() {
		defer d.wg.Done()
		d.mu.Lock()
		cur, ok := d.pending[key]
		if !ok || cur.token != token {
			d.mu.Unlock()
			return
		}
		delete(d.pending, key)
		d.mu.Unlock()
		fn()
	})
	d.pending[key] = p
}

// Cancel drops the pending callback for a pair. It reports whether one was
// pending.
func (d *DeferredLeaves) Cancel(sessionID, userID string) bool {
	key := leaveKey{sessionID, userID}

	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pending[key]
	if !ok {
		return false
	}
	delete(d.pending, key)
	if p.timer.Stop() {
		d.wg.Done()
	}
	return true
}

// Pending reports whether a callback is scheduled for the pair.
func (d *DeferredLeaves) Pending(sessionID, userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[leaveKey{sessionID, userID}]
	return ok
}

// Close cancels every pending callback and waits for any that already
// started to finish. Schedule is a no-op afterwards.
func (d *DeferredLeaves) Close() {
	d.mu.Lock()
	d.closed = true
	for key, p := range d.pending {
		if p.timer.Stop() {
			d.wg.Done()
		}
		delete(d.pending, key)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
