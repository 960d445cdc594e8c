package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time           { return c.t }
func (c *fakeClock) advance(d time.Duration)  { c.t = c.t.Add(d) }

func TestThrottle_CooldownWindow(t *testing.T) {
	clock := newFakeClock()
	th := NewThrottle(0, 0).WithClock(clock.now)

	// proximity_alert has a 60s cooldown.
	require.True(t, th.Allow("u1", KindProximity))

	clock.advance(10 * time.Second)
	require.False(t, th.Allow("u1", KindProximity))

	clock.advance(51 * time.Second) // 61s after the stamped send
	require.True(t, th.Allow("u1", KindProximity))
}

func TestThrottle_PerRecipientPerKind(t *testing.T) {
	clock := newFakeClock()
	th := NewThrottle(0, 0).WithClock(clock.now)

	require.True(t, th.Allow("u1", KindOvertake))
	// Different recipient, same kind: independent window.
	require.True(t, th.Allow("u2", KindOvertake))
	// Same recipient, different kind: independent window.
	require.True(t, th.Allow("u1", KindLeaderChange))
	require.False(t, th.Allow("u1", KindOvertake))
}

func TestThrottle_ZeroCooldownNeverThrottled(t *testing.T) {
	clock := newFakeClock()
	th := NewThrottle(0, 0).WithClock(clock.now)

	for i := 0; i < 5; i++ {
		require.True(t, th.Allow("u1", KindFirstFinisher))
		require.True(t, th.Allow("u1", KindRaceBegin))
	}
	// One-shot kinds never enter the table.
	require.Zero(t, th.Size())
}

func TestThrottle_SweepPurgesIdleEntries(t *testing.T) {
	clock := newFakeClock()
	th := NewThrottle(0, 0).WithClock(clock.now)

	require.True(t, th.Allow("old", KindOvertake))
	clock.advance(61 * time.Minute)
	require.True(t, th.Allow("fresh", KindOvertake))
	require.Equal(t, 2, th.Size())

	th.sweep()
	require.Equal(t, 1, th.Size())

	// The fresh entry still enforces its cooldown.
	require.False(t, th.Allow("fresh", KindOvertake))
	// The purged recipient starts a new window.
	require.True(t, th.Allow("old", KindOvertake))
}

func TestThrottle_RunStopsOnCancel(t *testing.T) {
	th := NewThrottle(5*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := th.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
