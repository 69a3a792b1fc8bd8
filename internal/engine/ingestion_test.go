package engine

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/agentengine/internal/cache"
	"github.com/haasonsaas/agentengine/internal/intentsig"
	"github.com/haasonsaas/agentengine/pkg/models"
)

func validJobPayload(t *testing.T, correlationID string) []byte {
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
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

func TestIngestionRejectsMalformedPayload(t *testing.T) {
	ing := NewIngestion(cache.NewMemoryCache(), nil)
	outcome := ing.Run([]byte("not json"))
	if outcome.Result != models.PhaseError {
		t.Fatalf("expected PHASE error, got %+v", outcome)
	}
	if outcome.Error.Code != "PHASE1_VALIDATION_FAILED" {
		t.Fatalf("expected PHASE1_VALIDATION_FAILED, got %+v", outcome.Error)
	}
}

func TestIngestionRejectsUnknownField(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{
		"userId": "u1", "prompt": "hi", "correlationId": "c1",
		"maxDepth": 5, "currentDepth": 0, "contextWindowLimit": 8000,
		"extra": "nope",
	})
	ing := NewIngestion(cache.NewMemoryCache(), nil)
	outcome := ing.Run(raw)
	if outcome.Result != models.PhaseError || outcome.Error.Code != "PHASE1_VALIDATION_FAILED" {
		t.Fatalf("expected validation failure for unknown field, got %+v", outcome)
	}
}

func TestIngestionCacheMissThenHit(t *testing.T) {
	resultCache := cache.NewMemoryCache()
	ing := NewIngestion(resultCache, nil)

	raw := validJobPayload(t, "c-miss")
	outcome := ing.Run(raw)
	if outcome.Result != models.PhaseContinue {
		t.Fatalf("expected CONTINUE on first sight, got %+v", outcome)
	}

	seeded := models.Response{CorrelationID: "c-seed", JobSignature: outcome.Signature, Status: models.StatusComplete}
	if err := resultCache.Write(outcome.Signature, "u1", seeded, 1); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	raw2 := validJobPayload(t, "c-hit")
	outcome2 := ing.Run(raw2)
	if outcome2.Result != models.PhaseCacheHit {
		t.Fatalf("expected CACHE_HIT after seeding, got %+v", outcome2)
	}
	if outcome2.CachedResponse.CorrelationID != "c-seed" {
		t.Fatalf("expected the seeded response back, got %+v", outcome2.CachedResponse)
	}
}

func TestIngestionSignatureIgnoresCorrelationID(t *testing.T) {
	ing := NewIngestion(cache.NewMemoryCache(), nil)
	a := ing.Run(validJobPayload(t, "c-a"))
	b := ing.Run(validJobPayload(t, "c-b"))
	if a.Signature != b.Signature {
		t.Fatalf("expected identical signatures for jobs differing only in correlationId")
	}
	if a.Signature != intentsig.Compute(a.Job) {
		t.Fatalf("signature should match intentsig.Compute directly")
	}
}
