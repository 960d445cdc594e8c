package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultSweepInterval = 30 * time.Minute
	defaultMaxIdle       = time.Hour
)

// Throttle is the process-wide send limiter, shared by all races. Entries
// are keyed by (recipient, kind) and expire after an hour of inactivity so
// the map stays bounded.
type Throttle struct {
	mu       sync.Mutex
	lastSent map[throttleKey]time.Time

	sweepInterval time.Duration
	maxIdle       time.Duration

	now func() time.Time
}

type throttleKey struct {
	recipientID string
	kind        string
}

func NewThrottle(sweepInterval, maxIdle time.Duration) *Throttle {
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdle
	}
	return &Throttle{
		lastSent:      make(map[throttleKey]time.Time),
		sweepInterval: sweepInterval,
		maxIdle:       maxIdle,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (t *Throttle) WithClock(now func() time.Time) *Throttle {
	t.now = now
	return t
}

// Allow reports whether a notification of this kind may go to the recipient
// now, stamping the send time when it may. The stamp stays even if the
// actual delivery later fails: a failed send still consumed the cooldown,
// which keeps retry storms out.
func (t *Throttle) Allow(recipientID, kind string) bool {
	cooldown := Cooldown(kind)
	if cooldown <= 0 {
		return true
	}

	now := t.now()
	key := throttleKey{recipientID: recipientID, kind: kind}

	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.lastSent[key]; ok && now.Sub(last) < cooldown {
		return false
	}
	t.lastSent[key] = now
	return true
}

// Run sweeps idle entries until the context is cancelled.
func (t *Throttle) Run(ctx context.Context) error {
	tick := time.NewTicker(t.sweepInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			t.sweep()
		}
	}
}

func (t *Throttle) sweep() {
	cutoff := t.now().Add(-t.maxIdle)

	t.mu.Lock()
	before := len(t.lastSent)
	for k, last := range t.lastSent {
		if last.Before(cutoff) {
			delete(t.lastSent, k)
		}
	}
	after := len(t.lastSent)
	t.mu.Unlock()

	if before != after {
		slog.Debug("throttle sweep", "purged", before-after, "remaining", after)
	}
}

// Size is exposed for the worker stats endpoint.
func (t *Throttle) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lastSent)
}
