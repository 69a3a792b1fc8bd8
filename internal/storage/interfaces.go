// Package storage persists the engine's durable state: per-user policy
// overrides (C7) and billing reports (C14), plus optional write-behind
// mirrors of the in-memory cache/audit/rate-limit rows described in the
// persisted-state layout. Cache, audit, and rate-limit state are
// in-memory-primary (internal/cache, internal/audit, internal/ratelimit);
// storage only mirrors them when a mirror is configured.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/agentengine/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// PolicyStore persists per-user tier assignment and any policy overrides
// (C7). Get falls back to the tier default constraints when a user has
// no stored row — the store never invents a tier for an unknown user,
// that decision belongs to the caller.
type PolicyStore interface {
	GetUserTier(ctx context.Context, userID string) (models.UserTier, bool, error)
	SetUserTier(ctx context.Context, userID string, tier models.UserTier) error
	GetOverride(ctx context.Context, userID string) (*models.PolicyConstraints, bool, error)
	SetOverride(ctx context.Context, userID string, constraints models.PolicyConstraints) error
}

// BillingStore persists billing reports (C14), keyed by correlation id,
// and answers per-user cost/usage rollups.
type BillingStore interface {
	SaveReport(ctx context.Context, report models.BillingReport) error
	GetReport(ctx context.Context, correlationID string) (*models.BillingReport, error)
	// from/to bound the query; a zero time.Time on either side leaves
	// that side unbounded.
	UserReports(ctx context.Context, userID string, from, to time.Time) ([]models.BillingReport, error)
	UserStats(ctx context.Context, userID string, from, to time.Time) (models.UserCostStats, error)
}

// CacheMirror optionally persists result-cache rows (agent_result_cache)
// for durability across restarts; internal/cache.Cache remains the
// read/write path the engine calls on the hot path.
type CacheMirror interface {
	MirrorWrite(ctx context.Context, entry models.CacheEntry) error
	MirrorDelete(ctx context.Context, signature, userID string) error
	LoadAll(ctx context.Context) ([]models.CacheEntry, error)
}

// AuditMirror optionally persists audit events (agent_audit_logs) beyond
// the in-memory trail held by internal/audit.Logger.
type AuditMirror interface {
	MirrorWrite(ctx context.Context, event models.AuditEvent) error
	LoadTrail(ctx context.Context, correlationID string) ([]models.AuditEvent, error)
}

// RateLimitMirror optionally persists rate-limit windows
// (agent_rate_limits) so counters survive a process restart within the
// window width.
type RateLimitMirror interface {
	MirrorWrite(ctx context.Context, state models.RateLimitState) error
	LoadAll(ctx context.Context) ([]models.RateLimitState, error)
}

// StoreSet groups the durable stores wired into the engine facade.
type StoreSet struct {
	Policy  PolicyStore
	Billing BillingStore

	Cache      CacheMirror
	Audit      AuditMirror
	RateLimits RateLimitMirror

	closer func() error
}

// Close closes any underlying resources (e.g. a *sql.DB).
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
