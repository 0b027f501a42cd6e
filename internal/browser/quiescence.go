package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kuitang/aihub-e2e/internal/errs"
)

// Tracker counts in-flight network requests for one session. Drivers call
// Begin and End from their network event callbacks; Wait blocks until the
// session has been idle for a trailing window.
type Tracker struct {
	mu         sync.Mutex
	inflight   map[any]struct{}
	lastChange time.Time
	changed    chan struct{}
	now        func() time.Time
}

// NewTracker returns an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{
		inflight:   make(map[any]struct{}),
		lastChange: time.Now(),
		changed:    make(chan struct{}),
		now:        time.Now,
	}
}

// Begin marks key as in flight. Beginning a key twice counts once.
func (t *Tracker) Begin(key any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight[key] = struct{}{}
	t.touchLocked()
}

// End marks key as finished. Unknown keys are ignored so late or duplicate
// events cannot drive the count negative.
func (t *Tracker) End(key any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.inflight[key]; !ok {
		return
	}
	delete(t.inflight, key)
	t.touchLocked()
}

// Reset forgets every in-flight request, for example after the page that
// issued them was replaced.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight = make(map[any]struct{})
	t.touchLocked()
}

// InFlight returns the number of outstanding requests.
func (t *Tracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

func (t *Tracker) touchLocked() {
	t.lastChange = t.now()
	close(t.changed)
	t.changed = make(chan struct{})
}

// Wait returns once no request has been in flight for window. It fails with
// a navigation_timeout error when that does not happen within timeout.
func (t *Tracker) Wait(ctx context.Context, window, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		t.mu.Lock()
		busy := len(t.inflight)
		idleFor := t.now().Sub(t.lastChange)
		changed := t.changed
		t.mu.Unlock()

		if busy == 0 && idleFor >= window {
			return nil
		}

		var settle <-chan time.Time
		var timer *time.Timer
		if busy == 0 {
			timer = time.NewTimer(window - idleFor)
			settle = timer.C
		}

		select {
		case <-changed:
		case <-settle:
		case <-deadline.C:
			return errs.New(errs.NavigationTimeout,
				fmt.Sprintf("network not quiet for %s within %s (%d requests in flight)", window, timeout, busy))
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errs.Wrap(errs.NavigationTimeout, "waiting for network quiescence", ctx.Err())
			}
			return ctx.Err()
		}
		if timer != nil {
			timer.Stop()
		}
	}
}
