// Package audit implements the append-only audit event sink (C4): events
// are recorded per correlation id, retrieved in ascending timestamp
// order, summarized, and swept by tier-based retention. Log must never
// throw — any backend failure is reported to standard error and
// swallowed so request execution continues (spec §4.4, §9 "fail-open").
package audit

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentengine/pkg/models"
)

// Logger is the C4 implementation: an in-memory, mutex-guarded event
// store plus an async structured-logging sink for operational
// visibility. It is constructed explicitly by the engine facade and
// injected into each phase — there is no package-level singleton (§9
// "Global singletons").
type Logger struct {
	config Config

	mu     sync.RWMutex
	events map[string][]models.AuditEvent // correlationId -> events, append-only

	slogger *slog.Logger
	buffer  chan models.AuditEvent
	wg      sync.WaitGroup
	done    chan struct{}
}

// NewLogger constructs a Logger. When config.Enabled is false the
// in-memory store still works (retrieval APIs are part of the contract
// regardless), only the async slog sink is skipped.
func NewLogger(config Config) *Logger {
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}

	l := &Logger{
		config: config,
		events: make(map[string][]models.AuditEvent),
		buffer: make(chan models.AuditEvent, config.BufferSize),
		done:   make(chan struct{}),
	}

	if config.Enabled {
		var handler slog.Handler
		out := resolveOutput(config.Output)
		switch config.Format {
		case FormatText:
			handler = slog.NewTextHandler(out, nil)
		default:
			handler = slog.NewJSONHandler(out, nil)
		}
		l.slogger = slog.New(handler).With("component", "audit")

		l.wg.Add(1)
		go l.writeLoop()
	}

	return l
}

func resolveOutput(output string) *os.File {
	switch {
	case output == "stderr":
		return os.Stderr
	default:
		return os.Stdout
	}
}

// Close stops the async sink, flushing any buffered events first.
func (l *Logger) Close() {
	if !l.config.Enabled {
		return
	}
	close(l.done)
	l.wg.Wait()
}

// Log appends an event to the in-memory trail and, if enabled, queues it
// for structured logging. It never returns an error: any issue writing
// to the async sink is reported to stderr directly and otherwise
// ignored, matching the fail-open contract of spec §4.4.
func (l *Logger) Log(event models.AuditEvent) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "audit: recovered from panic while logging event: %v\n", r)
		}
	}()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	l.mu.Lock()
	l.events[event.CorrelationID] = append(l.events[event.CorrelationID], event)
	l.mu.Unlock()

	if !l.config.Enabled {
		return
	}

	select {
	case l.buffer <- event:
	default:
		l.writeEvent(event)
	}
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		case <-ticker.C:
			l.flushBuffer()
		case <-l.done:
			l.flushBuffer()
			return
		}
	}
}

func (l *Logger) flushBuffer() {
	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		default:
			return
		}
	}
}

func (l *Logger) writeEvent(event models.AuditEvent) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "audit: backend write failed: %v\n", r)
		}
	}()

	attrs := []any{
		"audit_id", event.ID,
		"correlation_id", event.CorrelationID,
		"user_id", event.UserID,
		"phase", string(event.Phase),
		"event", event.Event,
		"timestamp", event.Timestamp.Format(time.RFC3339Nano),
	}
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}
	l.slogger.Info("audit", attrs...)
}

// Trail returns every event for a correlation id, ordered ascending by
// timestamp.
func (l *Logger) Trail(correlationID string) []models.AuditEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events := append([]models.AuditEvent(nil), l.events[correlationID]...)
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events
}

// Summary aggregates a correlation id's trail.
func (l *Logger) Summary(correlationID string) models.AuditSummary {
	trail := l.Trail(correlationID)
	if len(trail) == 0 {
		return models.AuditSummary{}
	}

	phases := make(map[models.AuditPhase]struct{})
	for _, e := range trail {
		phases[e.Phase] = struct{}{}
	}

	first := trail[0].Timestamp
	last := trail[len(trail)-1].Timestamp
	return models.AuditSummary{
		TotalEvents:    len(trail),
		DistinctPhases: len(phases),
		FirstTimestamp: first,
		LastTimestamp:  last,
		Duration:       last.Sub(first),
	}
}

// Sweep deletes events older than the retention window for their tier.
// tierOf resolves a userId to its tier string ("free"/"pro"/"enterprise");
// events for users tierOf cannot resolve fall back to the shortest
// configured retention window. now is injectable for deterministic tests.
func (l *Logger) Sweep(now time.Time, tierOf func(userID string) string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for correlationID, events := range l.events {
		kept := events[:0:0]
		for _, e := range events {
			retention := l.retentionFor(tierOf, e.UserID)
			if now.Sub(e.Timestamp) > time.Duration(retention)*24*time.Hour {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(l.events, correlationID)
		} else {
			l.events[correlationID] = kept
		}
	}
	return removed
}

func (l *Logger) retentionFor(tierOf func(string) string, userID string) int {
	shortest := 7
	for _, days := range l.config.RetentionDays {
		if days < shortest {
			shortest = days
		}
	}
	if tierOf == nil {
		return shortest
	}
	tier := strings.ToLower(tierOf(userID))
	if days, ok := l.config.RetentionDays[tier]; ok {
		return days
	}
	return shortest
}
