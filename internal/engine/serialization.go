package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/agentengine/internal/audit"
	"github.com/haasonsaas/agentengine/internal/cache"
	"github.com/haasonsaas/agentengine/internal/cost"
	"github.com/haasonsaas/agentengine/internal/serialize"
	"github.com/haasonsaas/agentengine/pkg/models"
)

// FinalizeInput is everything Phase 5 needs to close out a request: the
// response as assembled by Phase 1/3/4, the signature to cache it
// under, and the execution summary to attribute cost against. A policy
// denial or an early Phase-1 error reaches Finalize too, with a
// zero-valued ExecSummary, so every request — including denied ones —
// leaves a billing row.
type FinalizeInput struct {
	Response    models.Response
	Signature   string
	UserID      string
	ExecSummary cost.ExecutionSummary
	StartedAt   time.Time
}

// Serialization implements C19: the non-cached finalize sequence and the
// cached-response passthrough path.
type Serialization struct {
	cache    cache.Cache
	reporter *cost.Reporter
	audit    *audit.Logger
	now      func() time.Time
}

// NewSerialization builds a Serialization phase over the given result
// cache and billing reporter.
func NewSerialization(resultCache cache.Cache, reporter *cost.Reporter, auditLog *audit.Logger) *Serialization {
	return &Serialization{cache: resultCache, reporter: reporter, audit: auditLog, now: time.Now}
}

// Finalize runs the §4.17 non-cached sequence: cost breakdown, billing
// report, response enrichment, re-validation, the cache-write gate, and
// billing persistence. Any panic raised within is recovered into a
// PHASE5_UNKNOWN_ERROR response rather than propagating to the facade.
func (s *Serialization) Finalize(ctx context.Context, in FinalizeInput) (resp models.Response) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("%v", r)
			s.log(resp.CorrelationID, in.UserID, "PHASE_ERROR", map[string]any{"error": msg})
			resp = withEngineError(in.Response, &models.EngineError{Code: "PHASE5_UNKNOWN_ERROR", Message: msg})
		}
	}()

	resp = in.Response
	executionTime := s.now().Sub(in.StartedAt)
	resp.ExecutionTime = executionTime

	breakdown, err := cost.Breakdown(in.ExecSummary.TokensUsed, in.ExecSummary.ToolCalls, in.ExecSummary.Decisions)
	if err != nil {
		panic(err)
	}
	report, err := cost.GenerateReport(resp.CorrelationID, in.UserID, in.ExecSummary, executionTime, s.now())
	if err != nil {
		panic(err)
	}

	resp = serialize.Enrich(resp, serialize.EnrichOptions{CostBreakdown: &breakdown, BillingReport: &report})
	resp.ExecutionTime = executionTime

	if errs := serialize.ValidateWithErrors(resp); len(errs) > 0 {
		s.log(resp.CorrelationID, in.UserID, "PHASE_ERROR", map[string]any{"errors": errs.Error()})
		return withEngineError(resp, &models.EngineError{Code: "PHASE5_VALIDATION_FAILED", Message: errs.Error()})
	}

	if resp.Status == models.StatusComplete && !resp.FromCache {
		if werr := s.cache.Write(in.Signature, in.UserID, resp, 0); werr != nil {
			s.log(resp.CorrelationID, in.UserID, "CACHE_WRITE_ERROR", map[string]any{"error": werr.Error()})
		}
	}

	s.log(resp.CorrelationID, in.UserID, "FINAL_BILLING_REPORT", map[string]any{"totalCost": report.TotalCost})

	extra := cost.PersistExtra{Status: resp.Status, PhaseResult: resp.PhaseResult, FromCache: resp.FromCache, Error: resp.Error}
	persistErr := s.reporter.PersistReport(ctx, report, in.Signature, extra)
	metadataDetails := map[string]any{}
	if persistErr != nil {
		metadataDetails["error"] = persistErr.Error()
	}
	s.log(resp.CorrelationID, in.UserID, "METADATA_PERSISTED", metadataDetails)

	s.log(resp.CorrelationID, in.UserID, "PHASE_COMPLETE", nil)
	return resp
}

// FinalizeCached implements the §4.17 cached path: it rewrites
// correlationId onto the cached response, marks it fromCache, and
// re-validates before returning. A validation failure here is returned
// as an error, matching the specification's "raises" language — the
// facade converts it into an ENGINE_ERROR response.
func (s *Serialization) FinalizeCached(cached models.Response, newCorrelationID, userID string) (models.Response, error) {
	resp := cached.ShallowCopy()
	resp.CorrelationID = newCorrelationID
	resp.FromCache = true

	if errs := serialize.ValidateWithErrors(resp); len(errs) > 0 {
		return models.Response{}, fmt.Errorf("cached response failed re-validation: %w", errs)
	}

	s.log(newCorrelationID, userID, "CACHED_RESPONSE_RETURNED", nil)
	return resp, nil
}

func withEngineError(resp models.Response, engineErr *models.EngineError) models.Response {
	out := resp.ShallowCopy()
	out.Status = models.StatusError
	out.PhaseResult = models.PhaseError
	out.Error = engineErr
	return out
}

func (s *Serialization) log(correlationID, userID, event string, details map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Log(models.AuditEvent{
		CorrelationID: correlationID,
		UserID:        userID,
		Timestamp:     s.now(),
		Phase:         models.AuditPhaseSerialization,
		Event:         event,
		Details:       details,
	})
}
