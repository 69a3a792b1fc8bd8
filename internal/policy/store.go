// Package policy implements the per-user tier/constraint retrieval (C7)
// and the five-check policy enforcer (C8) that Phase 3 composes into its
// allow/deny decision.
package policy

import (
	"context"

	"github.com/haasonsaas/agentengine/internal/storage"
	"github.com/haasonsaas/agentengine/pkg/models"
)

// Store is the C7 contract: per-user tier and constraint retrieval, with
// an idempotent default-tier fallback when a user has no row yet.
type Store struct {
	store       storage.PolicyStore
	tiers       map[models.UserTier]models.PolicyConstraints
	defaultTier models.UserTier
}

// NewStore builds a Store over the given durable PolicyStore and tier
// defaults table (§6).
func NewStore(store storage.PolicyStore, tiers map[models.UserTier]models.PolicyConstraints, defaultTier models.UserTier) *Store {
	return &Store{store: store, tiers: tiers, defaultTier: defaultTier}
}

// BasePolicy returns the user's tier-default constraints, creating a
// default-tier row on first sight. Any override the user has on file
// fully replaces the tier defaults rather than merging field-by-field —
// an override is a complete constraint set, not a patch.
//
// Retrieval failures fall open to the default tier's policy; only a
// failure to persist the initial default-tier row propagates, since the
// user is left with no durable tier at all in that case.
func (s *Store) BasePolicy(ctx context.Context, userID string) (models.PolicyConstraints, error) {
	if override, ok, err := s.store.GetOverride(ctx, userID); err == nil && ok {
		return *override, nil
	}

	tier, ok, err := s.store.GetUserTier(ctx, userID)
	if err != nil || !ok {
		tier = s.defaultTier
		if insertErr := s.store.SetUserTier(ctx, userID, tier); insertErr != nil {
			return models.PolicyConstraints{}, insertErr
		}
	}

	constraints, ok := s.tiers[tier]
	if !ok {
		constraints = s.tiers[s.defaultTier]
	}
	return constraints, nil
}

// SetOverride stores a full replacement constraint set for userID.
func (s *Store) SetOverride(ctx context.Context, userID string, constraints models.PolicyConstraints) error {
	return s.store.SetOverride(ctx, userID, constraints)
}

// EffectivePolicy applies the job's own lower caps on top of the user's
// base policy: a job may only tighten maxRecursionDepth and
// contextWindowLimit, never loosen them (§4.12 step 3).
func (s *Store) EffectivePolicy(ctx context.Context, userID string, job models.Job) (models.PolicyConstraints, error) {
	base, err := s.BasePolicy(ctx, userID)
	if err != nil {
		return models.PolicyConstraints{}, err
	}
	effective := base
	if job.MaxDepth > 0 && job.MaxDepth < effective.MaxRecursionDepth {
		effective.MaxRecursionDepth = job.MaxDepth
	}
	if job.ContextWindowLimit > 0 && job.ContextWindowLimit < effective.ContextWindowLimit {
		effective.ContextWindowLimit = job.ContextWindowLimit
	}
	return effective, nil
}
