// Package ratelimit implements per-key sliding-window admission control.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds limiter settings.
type Config struct {
	Max           int           // admissions allowed per window
	Window        time.Duration // trailing window length
	SweepInterval time.Duration // how often idle keys are dropped
}

// DefaultConfig returns 15 admissions per minute, swept every 5 minutes.
func DefaultConfig() Config {
	return Config{
		Max:           15,
		Window:        time.Minute,
		SweepInterval: 5 * time.Minute,
	}
}

// Limiter tracks admission timestamps per key. Each key has its own lock,
// so a sweep or a busy key never blocks admission for other keys.
type Limiter struct {
	cfg     Config
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
	logger  zerolog.Logger
}

type entry struct {
	mu     sync.Mutex
	stamps []time.Time // ascending
	dead   bool        // removed from the table by a sweep
}

// New creates a limiter. Non-positive settings fall back to defaults.
func New(cfg Config, logger zerolog.Logger) *Limiter {
	def := DefaultConfig()
	if cfg.Max <= 0 {
		cfg.Max = def.Max
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	return &Limiter{
		cfg:     cfg,
		entries: make(map[string]*entry),
		now:     time.Now,
		logger:  logger.With().Str("component", "ratelimit").Logger(),
	}
}

// SetClock replaces the time source. Call it before the limiter is shared.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

// Admit records an admission for key and returns true, or returns false
// without recording when key already used its quota for the window.
func (l *Limiter) Admit(key string) bool {
	for {
		e := l.entry(key)

		e.mu.Lock()
		if e.dead {
			// Swept between lookup and lock; look it up again.
			e.mu.Unlock()
			continue
		}
		now := l.now()
		e.purge(now.Add(-l.cfg.Window))
		if len(e.stamps) >= l.cfg.Max {
			e.mu.Unlock()
			return false
		}
		e.stamps = append(e.stamps, now)
		e.mu.Unlock()
		return true
	}
}

// Remaining returns how many admissions key has left in the current window.
func (l *Limiter) Remaining(key string) int {
	l.mu.RLock()
	e, ok := l.entries[key]
	l.mu.RUnlock()
	if !ok {
		return l.cfg.Max
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.purge(l.now().Add(-l.cfg.Window))
	return l.cfg.Max - len(e.stamps)
}

// Sweep purges expired timestamps and drops keys left empty.
// It returns the number of keys removed.
func (l *Limiter) Sweep() int {
	l.mu.RLock()
	keys := make([]string, 0, len(l.entries))
	entries := make([]*entry, 0, len(l.entries))
	for k, e := range l.entries {
		keys = append(keys, k)
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	cutoff := l.now().Add(-l.cfg.Window)
	removed := 0
	for i, e := range entries {
		e.mu.Lock()
		e.purge(cutoff)
		empty := len(e.stamps) == 0
		e.mu.Unlock()
		if !empty {
			continue
		}

		l.mu.Lock()
		if l.entries[keys[i]] == e {
			e.mu.Lock()
			if len(e.stamps) == 0 {
				e.dead = true
				delete(l.entries, keys[i])
				removed++
			}
			e.mu.Unlock()
		}
		l.mu.Unlock()
	}
	return removed
}

// Run sweeps on the configured interval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.logger.Debug().Int("removed", n).Int("tracked", l.Len()).Msg("rate limiter sweep")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Config returns the limiter settings.
func (l *Limiter) Config() Config {
	return l.cfg
}

func (l *Limiter) entry(key string) *entry {
	l.mu.RLock()
	e, ok := l.entries[key]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.entries[key]; !ok {
		e = &entry{}
		l.entries[key] = e
	}
	return e
}

// purge drops timestamps at or before cutoff. Caller holds e.mu.
func (e *entry) purge(cutoff time.Time) {
	i := 0
	for i < len(e.stamps) && !e.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		e.stamps = append(e.stamps[:0], e.stamps[i:]...)
	}
}
