package services

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// deferred is a single cancellable wall-clock callback owned by a room actor.
// The callback is posted back into the actor, and a callback belonging to a
// timer that was stopped or replaced in the meantime is discarded.
type deferred struct {
	clock clockwork.Clock
	post  func(func()) bool
	timer clockwork.Timer
}

func newDeferred(clock clockwork.Clock, post func(func()) bool) *deferred {
	return &deferred{clock: clock, post: post}
}

func (d *deferred) schedule(after time.Duration, fn func()) {
	d.stop()
	var t clockwork.Timer
	t = d.clock.AfterFunc(after, func() {
		d.post(func() {
			if d.timer != t {
				return
			}
			d.timer = nil
			fn()
		})
	})
	d.timer = t
}

func (d *deferred) stop() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *deferred) armed() bool {
	return d.timer != nil
}

// ReconnectTracker holds one pending "mark offline" action per user id.
type ReconnectTracker struct {
	clock   clockwork.Clock
	post    func(func()) bool
	grace   time.Duration
	pending map[string]*deferred
}

func NewReconnectTracker(clock clockwork.Clock, grace time.Duration, post func(func()) bool) *ReconnectTracker {
	return &ReconnectTracker{
		clock:   clock,
		post:    post,
		grace:   grace,
		pending: make(map[string]*deferred),
	}
}

// Arm (re)starts the grace period for userID. onExpire runs inside the actor.
func (t *ReconnectTracker) Arm(userID string, onExpire func()) {
	t.Cancel(userID)
	d := newDeferred(t.clock, t.post)
	t.pending[userID] = d
	d.schedule(t.grace, func() {
		if t.pending[userID] == d {
			delete(t.pending, userID)
		}
		onExpire()
	})
}

// Cancel stops the pending timer for userID and reports whether one existed.
func (t *ReconnectTracker) Cancel(userID string) bool {
	d, ok := t.pending[userID]
	if !ok {
		return false
	}
	d.stop()
	delete(t.pending, userID)
	return true
}

func (t *ReconnectTracker) Pending(userID string) bool {
	_, ok := t.pending[userID]
	return ok
}

func (t *ReconnectTracker) Len() int {
	return len(t.pending)
}

func (t *ReconnectTracker) CancelAll() {
	for userID := range t.pending {
		t.Cancel(userID)
	}
}
