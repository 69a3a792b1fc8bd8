package engine

import (
	"context"
	"testing"

	"github.com/haasonsaas/agentengine/internal/ctxwindow"
	"github.com/haasonsaas/agentengine/internal/policy"
	"github.com/haasonsaas/agentengine/internal/ratelimit"
	"github.com/haasonsaas/agentengine/internal/storage"
	"github.com/haasonsaas/agentengine/pkg/models"
)

func freeTierTable() map[models.UserTier]models.PolicyConstraints {
	return map[models.UserTier]models.PolicyConstraints{
		models.TierFree: {
			MaxRecursionDepth:  5,
			ContextWindowLimit: 8000,
			MaxToolCalls:       10,
			RateLimit:          models.RateLimit{PerMinute: 10, PerHour: 100},
		},
	}
}

func newTestPolicyPhase() (*PolicyPhase, *ratelimit.Limiter) {
	limiter := ratelimit.New(0)
	store := policy.NewStore(storage.NewMemoryPolicyStore(), freeTierTable(), models.TierFree)
	enforcer := policy.NewEnforcer(limiter, ctxwindow.New())
	return NewPolicyPhase(store, enforcer, limiter, nil), limiter
}

func TestPolicyPhaseAllowsAndIncrementsRateCounter(t *testing.T) {
	phase, limiter := newTestPolicyPhase()
	job := models.Job{UserID: "u1", CorrelationID: "c1", Prompt: "hi", MaxDepth: 5, ContextWindowLimit: 8000}

	outcome := phase.Run(context.Background(), job)
	if outcome.Result != models.PhaseContinue {
		t.Fatalf("expected CONTINUE, got %+v", outcome)
	}

	check := limiter.Check("u1", models.RateLimit{PerMinute: 10, PerHour: 100})
	if check.MinuteRemaining != 9 {
		t.Fatalf("expected the allow path to increment the rate counter, remaining=%d", check.MinuteRemaining)
	}
}

func TestPolicyPhaseDeniesRecursionDepthWithoutIncrementing(t *testing.T) {
	phase, limiter := newTestPolicyPhase()
	job := models.Job{UserID: "u1", CorrelationID: "c1", Prompt: "hi", CurrentDepth: 5, MaxDepth: 5, ContextWindowLimit: 8000}

	outcome := phase.Run(context.Background(), job)
	if outcome.Result != models.PhasePolicyViolation {
		t.Fatalf("expected POLICY_VIOLATION, got %+v", outcome)
	}
	if outcome.Error.Code != "PHASE3_RECURSION_EXCEEDED" {
		t.Fatalf("expected PHASE3_RECURSION_EXCEEDED, got %+v", outcome.Error)
	}

	check := limiter.Check("u1", models.RateLimit{PerMinute: 10, PerHour: 100})
	if check.MinuteRemaining != 10 {
		t.Fatalf("expected a denial to leave the rate counter untouched, remaining=%d", check.MinuteRemaining)
	}
}

func TestPolicyPhaseEffectivePolicyHonorsJobsLowerCaps(t *testing.T) {
	phase, _ := newTestPolicyPhase()
	job := models.Job{UserID: "u1", CorrelationID: "c1", Prompt: "hi", MaxDepth: 2, ContextWindowLimit: 1000}

	outcome := phase.Run(context.Background(), job)
	if outcome.Result != models.PhaseContinue {
		t.Fatalf("expected CONTINUE, got %+v", outcome)
	}
	if outcome.Policy.MaxRecursionDepth != 2 {
		t.Fatalf("expected the job's lower maxDepth to win, got %d", outcome.Policy.MaxRecursionDepth)
	}
	if outcome.Policy.ContextWindowLimit != 1000 {
		t.Fatalf("expected the job's lower contextWindowLimit to win, got %d", outcome.Policy.ContextWindowLimit)
	}
}

func TestPolicyPhaseDeniesRateLimitExceeded(t *testing.T) {
	phase, _ := newTestPolicyPhase()
	job := models.Job{UserID: "u1", CorrelationID: "c1", Prompt: "hi", MaxDepth: 5, ContextWindowLimit: 8000}

	for i := 0; i < 10; i++ {
		if outcome := phase.Run(context.Background(), job); outcome.Result != models.PhaseContinue {
			t.Fatalf("expected request %d to be allowed, got %+v", i, outcome)
		}
	}
	outcome := phase.Run(context.Background(), job)
	if outcome.Result != models.PhasePolicyViolation || outcome.Error.Code != "PHASE3_RATE_LIMIT_EXCEEDED" {
		t.Fatalf("expected the 11th request to be rate-limited, got %+v", outcome)
	}
}
