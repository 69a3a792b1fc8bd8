package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/agentengine/internal/config"
	"github.com/haasonsaas/agentengine/internal/llm"
	"github.com/haasonsaas/agentengine/internal/storage"
	"github.com/haasonsaas/agentengine/internal/tools"
	"github.com/haasonsaas/agentengine/pkg/models"
)

func newTestEngine(t *testing.T, client llm.Client) *Engine {
	t.Helper()
	registry := tools.NewRegistry()
	if err := tools.RegisterDefaults(registry); err != nil {
		t.Fatalf("register defaults: %v", err)
	}
	cfg := config.Default()
	e, err := New(cfg, storage.NewMemoryStores(), client, registry)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func jobPayload(t *testing.T, correlationID string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"userId":             "u1",
		"prompt":             "hello",
		"correlationId":      correlationID,
		"maxDepth":           5,
		"currentDepth":       0,
		"contextWindowLimit": 8000,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestEngineExecuteCompletesAndCachesThenHits(t *testing.T) {
	client := llm.NewScriptedMockClient(func(attempt int, req llm.CompletionRequest) (llm.CompletionResult, error) {
		return llm.CompletionResult{Content: `{"actionType":"FINAL_ANSWER","finalAnswer":"hello back"}`, TokensUsed: 5}, nil
	})
	e := newTestEngine(t, client)

	first := e.Execute(context.Background(), jobPayload(t, "c-first"))
	if first.Status != models.StatusComplete || first.FromCache {
		t.Fatalf("expected a fresh completion, got %+v", first)
	}

	second := e.Execute(context.Background(), jobPayload(t, "c-second"))
	if second.Status != models.StatusComplete || !second.FromCache {
		t.Fatalf("expected the identical job to hit cache, got %+v", second)
	}
	if second.CorrelationID != "c-second" {
		t.Fatalf("expected the cached response to carry the new correlationId, got %q", second.CorrelationID)
	}
}

func TestEnginePolicyDenialStillProducesBillingRow(t *testing.T) {
	client := llm.NewMockClient()
	e := newTestEngine(t, client)

	raw, _ := json.Marshal(map[string]any{
		"userId":             "u2",
		"prompt":             "too deep",
		"correlationId":      "c-denied",
		"maxDepth":           5,
		"currentDepth":       5,
		"contextWindowLimit": 8000,
	})

	resp := e.Execute(context.Background(), raw)
	if resp.Status != models.StatusError || resp.PhaseResult != models.PhasePolicyViolation {
		t.Fatalf("expected a policy denial, got %+v", resp)
	}

	report, ok := e.serialization.reporter.GetReport(context.Background(), "c-denied", "u2")
	if !ok {
		t.Fatalf("expected the denial to still produce a billing report")
	}
	if report.PhaseResult != models.PhasePolicyViolation {
		t.Fatalf("expected the persisted report to record the denial, got %+v", report)
	}
}

func TestEnginePanicRecoveryProducesEngineError(t *testing.T) {
	client := llm.NewScriptedMockClient(func(attempt int, req llm.CompletionRequest) (llm.CompletionResult, error) {
		panic("simulated provider panic")
	})
	e := newTestEngine(t, client)

	resp := e.Execute(context.Background(), jobPayload(t, "c-panic"))
	if resp.Status != models.StatusError || resp.Error == nil || resp.Error.Code != "ENGINE_ERROR" {
		t.Fatalf("expected a recovered ENGINE_ERROR response, got %+v", resp)
	}
}

func TestEngineStartBackgroundStopsCleanly(t *testing.T) {
	e := newTestEngine(t, llm.NewMockClient())
	stop := e.StartBackground(context.Background(), 10*time.Millisecond, 10*time.Millisecond)

	time.Sleep(30 * time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := stop(shutdownCtx); err != nil {
		t.Fatalf("expected a clean shutdown, got %v", err)
	}
}
