// Package ratelimit implements the per-user sliding-window rate limiter
// (C5): two fixed-width tumbling windows (60s, 3600s) held in a
// concurrent in-memory map, with a background sweeper that evicts
// entries untouched beyond a configured TTL.
package ratelimit

import (
	"strconv"
	"sync"
	"time"

	"github.com/haasonsaas/agentengine/pkg/models"
)

const (
	MinuteWindow = time.Minute
	HourWindow   = time.Hour
)

// entry is the mutable per-user state, guarded by its own mutex so that
// one user's check-then-mutate never blocks another's.
type entry struct {
	mu    sync.Mutex
	state models.RateLimitState
}

// Limiter is the C5 contract.
type Limiter struct {
	mu       sync.RWMutex
	users    map[string]*entry
	now      func() time.Time
	memoryTTL time.Duration
}

// New constructs a Limiter with the given memory TTL (entries untouched
// longer than this are eligible for sweeping).
func New(memoryTTL time.Duration) *Limiter {
	if memoryTTL <= 0 {
		memoryTTL = time.Hour
	}
	return &Limiter{
		users:     make(map[string]*entry),
		now:       time.Now,
		memoryTTL: memoryTTL,
	}
}

// NewWithClock is New with an injectable clock, for deterministic window
// boundary tests.
func NewWithClock(memoryTTL time.Duration, now func() time.Time) *Limiter {
	l := New(memoryTTL)
	l.now = now
	return l
}

func (l *Limiter) getOrCreate(userID string) *entry {
	l.mu.RLock()
	e, ok := l.users[userID]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.users[userID]; ok {
		return e
	}
	e = &entry{}
	l.users[userID] = e
	return e
}

func resetIfExpired(counter *models.WindowCounter, width time.Duration, now time.Time) {
	if counter.WindowStart.IsZero() || now.Sub(counter.WindowStart) >= width {
		counter.Count = 0
		counter.WindowStart = now
	}
}

// Check runs the §4.5 protocol without mutating state: load-or-create,
// reset expired windows, and deny if either window is at or above its
// limit. It never returns an error — on any internal failure the limiter
// fails open, per spec §5; in this implementation there is no failure
// path besides a nil Limiter, guarded below.
func (l *Limiter) Check(userID string, limit models.RateLimit) models.RateLimitCheck {
	if l == nil {
		return models.RateLimitCheck{Allowed: true}
	}

	e := l.getOrCreate(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := l.now()
	resetIfExpired(&e.state.MinuteCounter, MinuteWindow, now)
	resetIfExpired(&e.state.HourCounter, HourWindow, now)

	if e.state.MinuteCounter.Count >= limit.PerMinute {
		resetAt := e.state.MinuteCounter.WindowStart.Add(MinuteWindow)
		return models.RateLimitCheck{
			Allowed:           false,
			Violation:         models.RateLimitViolationMinute,
			SecondsUntilReset: secondsUntil(now, resetAt),
			Reason:            reasonMinute(limit.PerMinute),
		}
	}
	if e.state.HourCounter.Count >= limit.PerHour {
		resetAt := e.state.HourCounter.WindowStart.Add(HourWindow)
		return models.RateLimitCheck{
			Allowed:           false,
			Violation:         models.RateLimitViolationHour,
			SecondsUntilReset: secondsUntil(now, resetAt),
			Reason:            reasonHour(limit.PerHour),
		}
	}

	return models.RateLimitCheck{
		Allowed:         true,
		MinuteRemaining: limit.PerMinute - e.state.MinuteCounter.Count,
		HourRemaining:   limit.PerHour - e.state.HourCounter.Count,
	}
}

// Increment bumps both windows by one and updates LastUpdated. Callers
// must not call Increment for a request that Check denied.
func (l *Limiter) Increment(userID string) {
	e := l.getOrCreate(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := l.now()
	resetIfExpired(&e.state.MinuteCounter, MinuteWindow, now)
	resetIfExpired(&e.state.HourCounter, HourWindow, now)
	e.state.MinuteCounter.Count++
	e.state.HourCounter.Count++
	e.state.LastUpdated = now
}

// Sweep removes entries whose LastUpdated is older than the configured
// memory TTL, holding the map-level lock only briefly. It returns the
// number of entries removed.
func (l *Limiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for userID, e := range l.users {
		e.mu.Lock()
		stale := !e.state.LastUpdated.IsZero() && now.Sub(e.state.LastUpdated) > l.memoryTTL
		e.mu.Unlock()
		if stale {
			delete(l.users, userID)
			removed++
		}
	}
	return removed
}

func secondsUntil(now, target time.Time) int {
	d := target.Sub(now)
	if d < 0 {
		return 0
	}
	return int(d.Seconds())
}

func reasonMinute(limit int) string {
	return formatReason(limit, "minute")
}

func reasonHour(limit int) string {
	return formatReason(limit, "hour")
}

func formatReason(limit int, window string) string {
	return "exceeded " + strconv.Itoa(limit) + " requests per " + window
}
