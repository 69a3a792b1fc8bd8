package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/haasonsaas/agentengine/pkg/models"
)

// MemoryPolicyStore is an in-memory PolicyStore, useful for tests and for
// running the engine without a configured database.
type MemoryPolicyStore struct {
	mu         sync.RWMutex
	tiers      map[string]models.UserTier
	overrides  map[string]models.PolicyConstraints
}

// NewMemoryPolicyStore constructs an empty in-memory PolicyStore.
func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{
		tiers:     make(map[string]models.UserTier),
		overrides: make(map[string]models.PolicyConstraints),
	}
}

func (s *MemoryPolicyStore) GetUserTier(ctx context.Context, userID string) (models.UserTier, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tier, ok := s.tiers[userID]
	return tier, ok, nil
}

func (s *MemoryPolicyStore) SetUserTier(ctx context.Context, userID string, tier models.UserTier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiers[userID] = tier
	return nil
}

func (s *MemoryPolicyStore) GetOverride(ctx context.Context, userID string) (*models.PolicyConstraints, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	override, ok := s.overrides[userID]
	if !ok {
		return nil, false, nil
	}
	copied := cloneConstraints(override)
	return &copied, true, nil
}

func (s *MemoryPolicyStore) SetOverride(ctx context.Context, userID string, constraints models.PolicyConstraints) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[userID] = cloneConstraints(constraints)
	return nil
}

// MemoryBillingStore is an in-memory BillingStore.
type MemoryBillingStore struct {
	mu      sync.RWMutex
	reports map[string]models.BillingReport // correlationId -> report
}

// NewMemoryBillingStore constructs an empty in-memory BillingStore.
func NewMemoryBillingStore() *MemoryBillingStore {
	return &MemoryBillingStore{reports: make(map[string]models.BillingReport)}
}

func (s *MemoryBillingStore) SaveReport(ctx context.Context, report models.BillingReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.CorrelationID] = report
	return nil
}

func (s *MemoryBillingStore) GetReport(ctx context.Context, correlationID string) (*models.BillingReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[correlationID]
	if !ok {
		return nil, ErrNotFound
	}
	return &report, nil
}

func (s *MemoryBillingStore) UserReports(ctx context.Context, userID string, from, to time.Time) ([]models.BillingReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.BillingReport
	for _, r := range s.reports {
		if r.UserID != userID {
			continue
		}
		if !from.IsZero() && r.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && r.Timestamp.After(to) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *MemoryBillingStore) UserStats(ctx context.Context, userID string, from, to time.Time) (models.UserCostStats, error) {
	reports, err := s.UserReports(ctx, userID, from, to)
	if err != nil {
		return models.UserCostStats{}, err
	}
	stats := models.UserCostStats{UserID: userID, From: from, To: to}
	for _, r := range reports {
		stats.RequestCount++
		stats.TotalCost += r.TotalCost
		stats.TotalTokens += r.Metrics.TokensUsed
	}
	if stats.RequestCount > 0 {
		stats.AverageCost = stats.TotalCost / float64(stats.RequestCount)
		stats.AverageTokens = float64(stats.TotalTokens) / float64(stats.RequestCount)
	}
	return stats, nil
}

// MemoryCacheMirror, MemoryAuditMirror, and MemoryRateLimitMirror give the
// write-behind interfaces a working in-memory backend, primarily for
// tests that exercise the mirror path without a database.

type MemoryCacheMirror struct {
	mu      sync.RWMutex
	entries map[string]models.CacheEntry // signature|userID -> entry
}

func NewMemoryCacheMirror() *MemoryCacheMirror {
	return &MemoryCacheMirror{entries: make(map[string]models.CacheEntry)}
}

func cacheMirrorKey(signature, userID string) string { return signature + "|" + userID }

func (m *MemoryCacheMirror) MirrorWrite(ctx context.Context, entry models.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[cacheMirrorKey(entry.Signature, entry.UserID)] = entry
	return nil
}

func (m *MemoryCacheMirror) MirrorDelete(ctx context.Context, signature, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, cacheMirrorKey(signature, userID))
	return nil
}

func (m *MemoryCacheMirror) LoadAll(ctx context.Context) ([]models.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.CacheEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}

type MemoryAuditMirror struct {
	mu     sync.RWMutex
	events map[string][]models.AuditEvent
}

func NewMemoryAuditMirror() *MemoryAuditMirror {
	return &MemoryAuditMirror{events: make(map[string][]models.AuditEvent)}
}

func (m *MemoryAuditMirror) MirrorWrite(ctx context.Context, event models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.CorrelationID] = append(m.events[event.CorrelationID], event)
	return nil
}

func (m *MemoryAuditMirror) LoadTrail(ctx context.Context, correlationID string) ([]models.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.AuditEvent(nil), m.events[correlationID]...), nil
}

type MemoryRateLimitMirror struct {
	mu    sync.RWMutex
	rows  map[string]models.RateLimitState
}

func NewMemoryRateLimitMirror() *MemoryRateLimitMirror {
	return &MemoryRateLimitMirror{rows: make(map[string]models.RateLimitState)}
}

func (m *MemoryRateLimitMirror) MirrorWrite(ctx context.Context, state models.RateLimitState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[state.UserID] = state
	return nil
}

func (m *MemoryRateLimitMirror) LoadAll(ctx context.Context) ([]models.RateLimitState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.RateLimitState, 0, len(m.rows))
	for _, s := range m.rows {
		out = append(out, s)
	}
	return out, nil
}

// NewMemoryStores constructs a StoreSet entirely backed by memory.
func NewMemoryStores() StoreSet {
	return StoreSet{
		Policy:     NewMemoryPolicyStore(),
		Billing:    NewMemoryBillingStore(),
		Cache:      NewMemoryCacheMirror(),
		Audit:      NewMemoryAuditMirror(),
		RateLimits: NewMemoryRateLimitMirror(),
	}
}

// cloneConstraints deep-copies a PolicyConstraints so stored and returned
// values never alias the same backing AllowedTools slice.
func cloneConstraints(c models.PolicyConstraints) models.PolicyConstraints {
	c.AllowedTools = append([]models.ToolName(nil), c.AllowedTools...)
	return c
}

// marshalConstraints/unmarshalConstraints are shared by the SQL-backed
// stores for the jsonb override column.
func marshalConstraints(c models.PolicyConstraints) ([]byte, error) {
	return json.Marshal(c)
}

func unmarshalConstraints(data []byte) (models.PolicyConstraints, error) {
	var c models.PolicyConstraints
	if len(data) == 0 {
		return c, nil
	}
	err := json.Unmarshal(data, &c)
	return c, err
}
