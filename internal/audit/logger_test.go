package audit

import (
	"testing"
	"time"

	"github.com/haasonsaas/agentengine/pkg/models"
)

func newTestLogger() *Logger {
	cfg := DefaultConfig()
	cfg.Enabled = false // keep tests free of stdout noise; the in-memory trail still works
	return NewLogger(cfg)
}

func TestTrailOrderedByTimestamp(t *testing.T) {
	l := newTestLogger()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	l.Log(models.AuditEvent{CorrelationID: "c1", Event: "THIRD", Timestamp: base.Add(3 * time.Second)})
	l.Log(models.AuditEvent{CorrelationID: "c1", Event: "FIRST", Timestamp: base.Add(1 * time.Second)})
	l.Log(models.AuditEvent{CorrelationID: "c1", Event: "SECOND", Timestamp: base.Add(2 * time.Second)})

	trail := l.Trail("c1")
	if len(trail) != 3 {
		t.Fatalf("expected 3 events, got %d", len(trail))
	}
	want := []string{"FIRST", "SECOND", "THIRD"}
	for i, e := range trail {
		if e.Event != want[i] {
			t.Errorf("index %d: got %q, want %q", i, e.Event, want[i])
		}
	}
}

func TestLogNeverPanics(t *testing.T) {
	l := newTestLogger()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Log panicked: %v", r)
		}
	}()
	l.Log(models.AuditEvent{})
}

func TestSummaryAggregatesPhases(t *testing.T) {
	l := newTestLogger()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.Log(models.AuditEvent{CorrelationID: "c1", Phase: models.AuditPhaseIngestion, Event: "VALIDATION_SUCCESS", Timestamp: base})
	l.Log(models.AuditEvent{CorrelationID: "c1", Phase: models.AuditPhasePolicy, Event: "POLICY_RETRIEVED", Timestamp: base.Add(time.Second)})

	summary := l.Summary("c1")
	if summary.TotalEvents != 2 {
		t.Fatalf("expected 2 events, got %d", summary.TotalEvents)
	}
	if summary.DistinctPhases != 2 {
		t.Fatalf("expected 2 distinct phases, got %d", summary.DistinctPhases)
	}
	if summary.Duration != time.Second {
		t.Fatalf("expected duration of 1s, got %v", summary.Duration)
	}
}

func TestSweepRemovesEventsPastRetention(t *testing.T) {
	l := newTestLogger()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.Log(models.AuditEvent{CorrelationID: "c1", UserID: "u1", Event: "OLD", Timestamp: now.Add(-10 * 24 * time.Hour)})
	l.Log(models.AuditEvent{CorrelationID: "c1", UserID: "u1", Event: "RECENT", Timestamp: now.Add(-1 * time.Hour)})

	tierOf := func(string) string { return "free" } // 7-day retention
	removed := l.Sweep(now, tierOf)
	if removed != 1 {
		t.Fatalf("expected 1 event removed, got %d", removed)
	}
	trail := l.Trail("c1")
	if len(trail) != 1 || trail[0].Event != "RECENT" {
		t.Fatalf("expected only RECENT to survive, got %+v", trail)
	}
}
