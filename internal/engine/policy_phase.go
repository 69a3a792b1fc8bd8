package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/agentengine/internal/audit"
	"github.com/haasonsaas/agentengine/internal/policy"
	"github.com/haasonsaas/agentengine/internal/ratelimit"
	"github.com/haasonsaas/agentengine/pkg/models"
)

// PolicyOutcome is the §4.12 result Phase 3 hands to the facade.
type PolicyOutcome struct {
	Result models.PhaseResult // CONTINUE | POLICY_VIOLATION | ERROR
	Policy models.PolicyConstraints
	Error  *models.EngineError
}

// PolicyPhase implements C17: it composes C7 (policy retrieval), C8 (the
// five-check enforcer), and C5 (the rate counter increment on allow)
// into one allow/deny decision per request.
type PolicyPhase struct {
	store    *policy.Store
	enforcer *policy.Enforcer
	limiter  *ratelimit.Limiter
	audit    *audit.Logger
}

// NewPolicyPhase builds a PolicyPhase over the given collaborators.
func NewPolicyPhase(store *policy.Store, enforcer *policy.Enforcer, limiter *ratelimit.Limiter, auditLog *audit.Logger) *PolicyPhase {
	return &PolicyPhase{store: store, enforcer: enforcer, limiter: limiter, audit: auditLog}
}

// Run executes the §4.12 protocol for job. Any unexpected panic inside
// policy retrieval or enforcement is recovered into PHASE3_UNKNOWN_ERROR
// rather than propagating to the facade.
func (p *PolicyPhase) Run(ctx context.Context, job models.Job) (outcome PolicyOutcome) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("%v", r)
			p.log(job, "PHASE_ERROR", map[string]any{"error": msg})
			outcome = PolicyOutcome{
				Result: models.PhaseError,
				Error:  &models.EngineError{Code: "PHASE3_UNKNOWN_ERROR", Message: msg},
			}
		}
	}()

	p.log(job, "PHASE_STARTED", nil)

	effective, err := p.store.EffectivePolicy(ctx, job.UserID, job)
	if err != nil {
		p.log(job, "PHASE_ERROR", map[string]any{"error": err.Error()})
		return PolicyOutcome{
			Result: models.PhaseError,
			Error:  &models.EngineError{Code: "PHASE3_UNKNOWN_ERROR", Message: err.Error()},
		}
	}
	p.log(job, "POLICY_RETRIEVED", map[string]any{
		"maxRecursionDepth":  effective.MaxRecursionDepth,
		"contextWindowLimit": effective.ContextWindowLimit,
		"maxToolCalls":       effective.MaxToolCalls,
	})

	check := p.enforcer.Check(job.UserID, job, effective)
	if !check.Allowed {
		p.log(job, "POLICY_VIOLATION", map[string]any{
			"violation": string(check.Violation),
			"reason":    check.Reason,
			"details":   check.Details,
		})
		return PolicyOutcome{
			Result: models.PhasePolicyViolation,
			Policy: effective,
			Error:  &models.EngineError{Code: violationCode(check.Violation), Message: check.Reason, Details: check.Details},
		}
	}

	p.limiter.Increment(job.UserID)
	p.log(job, "POLICY_CHECKS_PASSED", nil)
	return PolicyOutcome{Result: models.PhaseContinue, Policy: effective}
}

// violationCode maps a C8 ViolationType onto its §4.12 PHASE3_* error
// code; an unmapped violation (there are none today beyond the tool
// allowlist check) falls back to the generic policy-violation code.
func violationCode(v policy.ViolationType) string {
	switch v {
	case policy.ViolationRateLimit:
		return "PHASE3_RATE_LIMIT_EXCEEDED"
	case policy.ViolationContextWindow:
		return "PHASE3_CONTEXT_EXCEEDED"
	case policy.ViolationRecursionDepth:
		return "PHASE3_RECURSION_EXCEEDED"
	default:
		return "PHASE3_POLICY_VIOLATION"
	}
}

func (p *PolicyPhase) log(job models.Job, event string, details map[string]any) {
	if p.audit == nil {
		return
	}
	p.audit.Log(models.AuditEvent{
		CorrelationID: job.CorrelationID,
		UserID:        job.UserID,
		Timestamp:     time.Now(),
		Phase:         models.AuditPhasePolicy,
		Event:         event,
		Details:       details,
	})
}
