package policy

import (
	"context"
	"testing"

	"github.com/haasonsaas/agentengine/internal/config"
	"github.com/haasonsaas/agentengine/internal/ctxwindow"
	"github.com/haasonsaas/agentengine/internal/ratelimit"
	"github.com/haasonsaas/agentengine/internal/storage"
	"github.com/haasonsaas/agentengine/pkg/models"
)

func newTestStore() *Store {
	stores := storage.NewMemoryStores()
	return NewStore(stores.Policy, config.DefaultTiers(), models.TierFree)
}

func TestBasePolicyDefaultsNewUserToFreeTier(t *testing.T) {
	s := newTestStore()
	constraints, err := s.BasePolicy(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if constraints.MaxRecursionDepth != 5 || constraints.MaxToolCalls != 10 {
		t.Fatalf("expected free-tier defaults, got %+v", constraints)
	}
}

func TestOverrideReplacesTierDefaults(t *testing.T) {
	s := newTestStore()
	override := models.PolicyConstraints{
		MaxRecursionDepth:  2,
		ContextWindowLimit: 500,
		MaxToolCalls:       1,
		RateLimit:          models.RateLimit{PerMinute: 1, PerHour: 1},
	}
	if err := s.SetOverride(context.Background(), "u1", override); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.BasePolicy(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != override {
		t.Fatalf("expected override to fully replace tier defaults, got %+v", got)
	}
}

func TestEffectivePolicyLowersByJobCapsOnly(t *testing.T) {
	s := newTestStore()
	job := models.Job{MaxDepth: 2, ContextWindowLimit: 100000}
	got, err := s.EffectivePolicy(context.Background(), "u1", job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.MaxRecursionDepth != 2 {
		t.Fatalf("expected job's lower maxDepth to win, got %d", got.MaxRecursionDepth)
	}
	if got.ContextWindowLimit != 8000 {
		t.Fatalf("expected job's higher contextWindowLimit to be ignored, got %d", got.ContextWindowLimit)
	}
}

func newTestEnforcer() *Enforcer {
	return NewEnforcer(ratelimit.New(0), ctxwindow.New())
}

func TestEnforcerDeniesAtExactRecursionBoundary(t *testing.T) {
	e := newTestEnforcer()
	policy := config.DefaultTiers()[models.TierFree]
	job := models.Job{CurrentDepth: policy.MaxRecursionDepth}
	result := e.Check("u1", job, policy)
	if result.Allowed || result.Violation != ViolationRecursionDepth {
		t.Fatalf("expected recursion denial at exact boundary, got %+v", result)
	}
}

func TestEnforcerDeniesOversizedContext(t *testing.T) {
	e := newTestEnforcer()
	policy := models.PolicyConstraints{MaxRecursionDepth: 5, ContextWindowLimit: 1000, MaxToolCalls: 10, RateLimit: models.RateLimit{PerMinute: 100, PerHour: 1000}}
	prompt := make([]byte, 40000)
	for i := range prompt {
		prompt[i] = 'a'
	}
	job := models.Job{Prompt: string(prompt)}
	result := e.Check("u1", job, policy)
	if result.Allowed || result.Violation != ViolationContextWindow {
		t.Fatalf("expected context denial, got %+v", result)
	}
	if result.Details["estimated"] != 10000 {
		t.Fatalf("expected estimated=10000, got %+v", result.Details)
	}
	if result.Details["limit"] != 1000 {
		t.Fatalf("expected limit to report the raw configured limit 1000, got %+v", result.Details)
	}
}

func TestEnforcerDeniesAtExactToolCallBoundary(t *testing.T) {
	e := newTestEnforcer()
	policy := models.PolicyConstraints{MaxRecursionDepth: 5, ContextWindowLimit: 8000, MaxToolCalls: 2, RateLimit: models.RateLimit{PerMinute: 100, PerHour: 1000}}
	job := models.Job{ToolResults: []models.ToolResult{{ToolName: models.ToolGoogleSearch}, {ToolName: models.ToolGoogleSearch}}}
	result := e.Check("u1", job, policy)
	if result.Allowed || result.Violation != ViolationToolCalls {
		t.Fatalf("expected tool-call denial at exact boundary, got %+v", result)
	}
}

func TestEnforcerDeniesToolNotInAllowlist(t *testing.T) {
	e := newTestEnforcer()
	policy := models.PolicyConstraints{
		MaxRecursionDepth: 5, ContextWindowLimit: 8000, MaxToolCalls: 10,
		AllowedTools: []models.ToolName{models.ToolGoogleSearch},
		RateLimit:    models.RateLimit{PerMinute: 100, PerHour: 1000},
	}
	job := models.Job{ToolResults: []models.ToolResult{{ToolName: models.ToolCodeExecutor}}}
	result := e.Check("u1", job, policy)
	if result.Allowed || result.Violation != ViolationToolAllowlist {
		t.Fatalf("expected allowlist denial, got %+v", result)
	}
}

func TestEnforcerDeniesRateLimitBreach(t *testing.T) {
	e := newTestEnforcer()
	policy := models.PolicyConstraints{MaxRecursionDepth: 5, ContextWindowLimit: 8000, MaxToolCalls: 10, RateLimit: models.RateLimit{PerMinute: 2, PerHour: 100}}
	job := models.Job{Prompt: "hi"}
	for i := 0; i < 2; i++ {
		result := e.Check("pro-user", job, policy)
		if !result.Allowed {
			t.Fatalf("expected request %d to be allowed", i)
		}
		e.limiter.Increment("pro-user")
	}
	result := e.Check("pro-user", job, policy)
	if result.Allowed || result.Violation != ViolationRateLimit {
		t.Fatalf("expected third request denied by rate limit, got %+v", result)
	}
}

func TestEnforcerAllowsWellFormedRequest(t *testing.T) {
	e := newTestEnforcer()
	policy := config.DefaultTiers()[models.TierFree]
	job := models.Job{Prompt: "hello", CurrentDepth: 0}
	result := e.Check("u1", job, policy)
	if !result.Allowed {
		t.Fatalf("expected allow, got %+v", result)
	}
}
