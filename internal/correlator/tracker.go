package correlator

import (
	"sync"
	"time"
)

type inflightKey struct {
	address string
	verb    string
}

// Tracker records commands awaiting a reply by device address and verb family.
//
// Entries are never expired, a device that does not reply leaves its entry in place.
type Tracker struct {
	mu       sync.Mutex
	now      func() time.Time
	inflight map[inflightKey]time.Time
}

// NewTracker returns an empty Tracker.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}

	return &Tracker{now: now, inflight: map[inflightKey]time.Time{}}
}

// Begin records a command and returns true when a command of the same verb family
// was already pending for the address.
func (t *Tracker) Begin(address, verb string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := inflightKey{address, verb}
	_, pending := t.inflight[k]
	t.inflight[k] = t.now()

	return pending
}

// Complete clears the pending command and returns how long it was in flight,
// false is returned for a reply without a recorded command.
func (t *Tracker) Complete(address, verb string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := inflightKey{address, verb}

	started, pending := t.inflight[k]
	if !pending {
		return 0, false
	}

	delete(t.inflight, k)

	return t.now().Sub(started), true
}

// Pending returns the number of commands awaiting a reply.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.inflight)
}
