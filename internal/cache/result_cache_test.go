package cache

import (
	"testing"
	"time"

	"github.com/haasonsaas/agentengine/pkg/models"
)

func TestWriteThenLookupHit(t *testing.T) {
	c := NewMemoryCache()
	resp := models.Response{CorrelationID: "c1", Result: "hello"}

	if err := c.Write("sig1", "u1", resp, 24); err != nil {
		t.Fatalf("write: %v", err)
	}

	res, err := c.Lookup("sig1", "u1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !res.Hit {
		t.Fatalf("expected a hit")
	}
	if res.Response.Result != "hello" {
		t.Fatalf("unexpected response: %+v", res.Response)
	}
}

func TestLookupTenantIsolation(t *testing.T) {
	c := NewMemoryCache()
	if err := c.Write("sig1", "u1", models.Response{}, 24); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err := c.Lookup("sig1", "u2")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if res.Hit {
		t.Fatalf("expected lookup for a different user to miss")
	}
}

func TestLookupIncrementsHitCount(t *testing.T) {
	c := NewMemoryCache()
	if err := c.Write("sig1", "u1", models.Response{}, 24); err != nil {
		t.Fatalf("write: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := c.Lookup("sig1", "u1"); err != nil {
			t.Fatalf("lookup: %v", err)
		}
	}
	stats, err := c.Stats("u1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalHits != 3 {
		t.Fatalf("expected 3 hits, got %d", stats.TotalHits)
	}
}

func TestWriteResetsHitCount(t *testing.T) {
	c := NewMemoryCache()
	_ = c.Write("sig1", "u1", models.Response{}, 24)
	_, _ = c.Lookup("sig1", "u1")
	_, _ = c.Lookup("sig1", "u1")
	_ = c.Write("sig1", "u1", models.Response{}, 24)
	stats, _ := c.Stats("u1")
	if stats.TotalHits != 0 {
		t.Fatalf("expected hit count to reset on rewrite, got %d", stats.TotalHits)
	}
}

func TestTTLClamping(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{0, DefaultTTLHours},
		{-5, DefaultTTLHours},
		{10000, MaxTTLHours},
		{1, 1},
		{168, 168},
	}
	for _, tc := range cases {
		if got := ClampTTL(tc.in); got != tc.want {
			t.Errorf("ClampTTL(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestExpiryUsesInjectedClock(t *testing.T) {
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }
	c := NewMemoryCacheWithClock(clock)

	if err := c.Write("sig1", "u1", models.Response{}, MinTTLHours); err != nil {
		t.Fatalf("write: %v", err)
	}
	current = current.Add(2 * time.Hour)
	res, err := c.Lookup("sig1", "u1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if res.Hit {
		t.Fatalf("expected entry to have expired")
	}
}

func TestInvalidateUserRemovesOnlyThatUsersEntries(t *testing.T) {
	c := NewMemoryCache()
	_ = c.Write("sig1", "u1", models.Response{}, 24)
	_ = c.Write("sig2", "u2", models.Response{}, 24)
	if err := c.InvalidateUser("u1"); err != nil {
		t.Fatalf("invalidate user: %v", err)
	}
	if res, _ := c.Lookup("sig1", "u1"); res.Hit {
		t.Fatalf("expected u1's entry to be gone")
	}
	if res, _ := c.Lookup("sig2", "u2"); !res.Hit {
		t.Fatalf("expected u2's entry to remain")
	}
}
