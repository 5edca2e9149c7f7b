package autolock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.InactivityTimeout)
	assert.Equal(t, 15*time.Second, cfg.CheckInterval)

	tr := NewTracker(Config{Enabled: true})
	assert.Equal(t, DefaultConfig(), tr.Config(), "zero timings fall back to defaults")
}

func TestTrackerShouldLock(t *testing.T) {
	clock := newFakeClock()
	tr := newTrackerWithClock(Config{Enabled: true, InactivityTimeout: time.Minute}, clock.Now)

	assert.False(t, tr.ShouldLock())

	clock.Advance(time.Minute)
	assert.False(t, tr.ShouldLock(), "exactly at the timeout is not yet idle")

	clock.Advance(time.Second)
	assert.True(t, tr.ShouldLock())

	tr.Touch()
	assert.False(t, tr.ShouldLock())
	assert.Equal(t, clock.Now(), tr.LastActivity())
}

func TestTrackerTimeUntilLock(t *testing.T) {
	clock := newFakeClock()
	tr := newTrackerWithClock(Config{Enabled: true, InactivityTimeout: time.Minute}, clock.Now)

	remaining, ok := tr.TimeUntilLock()
	require.True(t, ok)
	assert.Equal(t, time.Minute, remaining)

	clock.Advance(40 * time.Second)
	remaining, ok = tr.TimeUntilLock()
	require.True(t, ok)
	assert.Equal(t, 20*time.Second, remaining)

	clock.Advance(time.Hour)
	remaining, ok = tr.TimeUntilLock()
	require.True(t, ok)
	assert.Zero(t, remaining)
}

func TestDisabledTrackerNeverLocks(t *testing.T) {
	clock := newFakeClock()
	tr := newTrackerWithClock(Config{Enabled: false, InactivityTimeout: time.Second}, clock.Now)

	clock.Advance(time.Hour)
	assert.False(t, tr.ShouldLock())
	_, ok := tr.TimeUntilLock()
	assert.False(t, ok)
}

func TestServiceLocksOncePerIdlePeriod(t *testing.T) {
	clock := newFakeClock()
	tr := newTrackerWithClock(Config{Enabled: true, InactivityTimeout: time.Minute}, clock.Now)

	var calls int
	svc := NewService(tr, func() error {
		calls++
		return nil
	}, zerolog.Nop())

	svc.check()
	assert.Equal(t, 0, calls)

	clock.Advance(2 * time.Minute)
	svc.check()
	assert.Equal(t, 1, calls)

	svc.check()
	assert.Equal(t, 1, calls, "activity resets after a lock")
}

func TestServiceCallbackErrorStillResets(t *testing.T) {
	clock := newFakeClock()
	tr := newTrackerWithClock(Config{Enabled: true, InactivityTimeout: time.Minute}, clock.Now)
	svc := NewService(tr, func() error { return errors.New("boom") }, zerolog.Nop())

	clock.Advance(2 * time.Minute)
	svc.check()
	assert.False(t, tr.ShouldLock())
}

func TestServiceRunFiresAndStops(t *testing.T) {
	tr := NewTracker(Config{
		Enabled:           true,
		InactivityTimeout: time.Millisecond,
		CheckInterval:     5 * time.Millisecond,
	})

	var calls atomic.Int32
	svc := NewService(tr, func() error {
		calls.Add(1)
		return nil
	}, zerolog.Nop())
	assert.Same(t, tr, svc.Tracker())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return calls.Load() > 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestServiceRunDisabledReturns(t *testing.T) {
	svc := NewService(NewTracker(Config{Enabled: false}), func() error {
		t.Fatal("disabled service must not lock")
		return nil
	}, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		svc.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled service kept running")
	}
}
