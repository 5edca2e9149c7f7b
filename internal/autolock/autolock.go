// Package autolock locks unlocked vaults after a period of inactivity.
package autolock

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Defaults used when a Config field is zero.
const (
	DefaultInactivityTimeout = 5 * time.Minute
	DefaultCheckInterval     = 15 * time.Second
)

// Config controls the inactivity timer.
type Config struct {
	Enabled           bool          `yaml:"enabled"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	CheckInterval     time.Duration `yaml:"check_interval"`
}

// DefaultConfig returns an enabled config with the default timings.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		InactivityTimeout: DefaultInactivityTimeout,
		CheckInterval:     DefaultCheckInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = DefaultInactivityTimeout
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	return c
}

// Tracker records the time of the last user activity.
type Tracker struct {
	mu   sync.RWMutex
	last time.Time
	cfg  Config
	now  func() time.Time
}

// NewTracker starts tracking with activity recorded now.
func NewTracker(cfg Config) *Tracker {
	return newTrackerWithClock(cfg, time.Now)
}

func newTrackerWithClock(cfg Config, now func() time.Time) *Tracker {
	return &Tracker{
		last: now(),
		cfg:  cfg.withDefaults(),
		now:  now,
	}
}

// Config returns the effective configuration.
func (t *Tracker) Config() Config {
	return t.cfg
}

// Touch records activity.
func (t *Tracker) Touch() {
	t.mu.Lock()
	t.last = t.now()
	t.mu.Unlock()
}

// LastActivity returns when Touch was last called.
func (t *Tracker) LastActivity() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

// ShouldLock reports whether the inactivity timeout has elapsed. A disabled
// tracker never locks.
func (t *Tracker) ShouldLock() bool {
	if !t.cfg.Enabled {
		return false
	}
	return t.now().Sub(t.LastActivity()) > t.cfg.InactivityTimeout
}

// TimeUntilLock returns the time left before ShouldLock turns true, zero
// once it has. ok is false when the tracker is disabled.
func (t *Tracker) TimeUntilLock() (remaining time.Duration, ok bool) {
	if !t.cfg.Enabled {
		return 0, false
	}
	idle := t.now().Sub(t.LastActivity())
	if idle >= t.cfg.InactivityTimeout {
		return 0, true
	}
	return t.cfg.InactivityTimeout - idle, true
}

// LockFunc is invoked when the inactivity timeout fires.
type LockFunc func() error

// Service polls a Tracker and calls a LockFunc on timeout.
type Service struct {
	tracker *Tracker
	onLock  LockFunc
	log     zerolog.Logger
}

// NewService creates a service over tracker. onLock must be safe to call
// from another goroutine.
func NewService(tracker *Tracker, onLock LockFunc, logger zerolog.Logger) *Service {
	return &Service{tracker: tracker, onLock: onLock, log: logger}
}

// Tracker returns the activity tracker the service polls.
func (s *Service) Tracker() *Tracker {
	return s.tracker
}

// Run checks the tracker every CheckInterval until ctx is done. After each
// lock the activity clock is reset so the callback fires once per idle
// period. A disabled tracker returns immediately.
func (s *Service) Run(ctx context.Context) {
	if !s.tracker.cfg.Enabled {
		return
	}

	ticker := time.NewTicker(s.tracker.cfg.CheckInterval)
	defer ticker.Stop()

	s.log.Debug().Dur("timeout", s.tracker.cfg.InactivityTimeout).Msg("auto-lock started")
	for {
		select {
		case <-ctx.Done():
			s.log.Debug().Msg("auto-lock stopped")
			return
		case <-ticker.C:
			s.check()
		}
	}
}

func (s *Service) check() {
	if !s.tracker.ShouldLock() {
		return
	}
	s.log.Info().Msg("auto-lock triggered by inactivity")
	if err := s.onLock(); err != nil {
		s.log.Warn().Err(err).Msg("auto-lock callback failed")
	}
	s.tracker.Touch()
}
