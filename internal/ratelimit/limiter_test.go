package ratelimit

import (
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/agentengine/pkg/models"
)

func TestCheckAllowsUnderLimit(t *testing.T) {
	l := New(time.Hour)
	limit := models.RateLimit{PerMinute: 2, PerHour: 100}

	res := l.Check("u1", limit)
	if !res.Allowed {
		t.Fatalf("expected first check to be allowed")
	}
	l.Increment("u1")

	res = l.Check("u1", limit)
	if !res.Allowed {
		t.Fatalf("expected second check to be allowed")
	}
	l.Increment("u1")
}

func TestThirdRequestDeniedWithReason(t *testing.T) {
	l := New(time.Hour)
	limit := models.RateLimit{PerMinute: 2, PerHour: 100}

	l.Increment("u1")
	l.Increment("u1")

	res := l.Check("u1", limit)
	if res.Allowed {
		t.Fatalf("expected third request to be denied")
	}
	if res.Violation != models.RateLimitViolationMinute {
		t.Fatalf("expected a minute violation, got %v", res.Violation)
	}
	if !strings.Contains(res.Reason, "2 requests per minute") {
		t.Fatalf("reason %q does not mention the limit", res.Reason)
	}
}

func TestDeniedCheckDoesNotIncrementCounter(t *testing.T) {
	l := New(time.Hour)
	limit := models.RateLimit{PerMinute: 1, PerHour: 100}

	l.Increment("u1")
	_ = l.Check("u1", limit) // denied, must not mutate state
	_ = l.Check("u1", limit) // still denied
	_ = l.Check("u1", limit)

	res := l.Check("u1", limit)
	if res.Allowed {
		t.Fatalf("expected still-denied after repeated checks")
	}
}

func TestWindowResetsExactlyAtWidth(t *testing.T) {
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }
	l := NewWithClock(time.Hour, clock)
	limit := models.RateLimit{PerMinute: 1, PerHour: 100}

	l.Increment("u1")
	res := l.Check("u1", limit)
	if res.Allowed {
		t.Fatalf("expected denial before the window elapses")
	}

	current = current.Add(MinuteWindow)
	res = l.Check("u1", limit)
	if !res.Allowed {
		t.Fatalf("expected allow once the minute window has fully elapsed")
	}
}

func TestSweepRemovesStaleEntries(t *testing.T) {
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }
	l := NewWithClock(time.Hour, clock)

	l.Increment("u1")
	current = current.Add(2 * time.Hour)

	removed := l.Sweep()
	if removed != 1 {
		t.Fatalf("expected 1 stale entry removed, got %d", removed)
	}
}

func TestIncrementBumpsBothWindowsByOne(t *testing.T) {
	l := New(time.Hour)
	limit := models.RateLimit{PerMinute: 10, PerHour: 10}

	l.Increment("u1")
	res := l.Check("u1", limit)
	if res.MinuteRemaining != 9 || res.HourRemaining != 9 {
		t.Fatalf("expected exactly one increment on each window, got %+v", res)
	}
}
