package serialize

import (
	"testing"
	"time"

	"github.com/haasonsaas/agentengine/pkg/models"
)

func sampleResponse() models.Response {
	now := time.Now()
	return models.Response{
		CorrelationID: "c1",
		JobSignature:  "sig",
		Status:        models.StatusComplete,
		PhaseResult:   models.PhaseContinue,
		Decisions: []models.AgentDecision{
			{Type: models.DecisionTypeToolCall, ToolName: models.ToolGoogleSearch, ToolArguments: map[string]any{"query": "secret"}},
		},
		ToolCalls: []models.ToolResult{
			{ToolName: models.ToolGoogleSearch, Result: "real results"},
		},
		StartedAt:   now,
		CompletedAt: now,
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	resp := sampleResponse()
	raw, err := Serialize(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, errs, err := Deserialize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %+v", errs)
	}
	if got.CorrelationID != resp.CorrelationID || got.Status != resp.Status {
		t.Fatalf("expected round-tripped response to match, got %+v", got)
	}
}

func TestEnrichPrefersBillingReportOverBreakdown(t *testing.T) {
	resp := sampleResponse()
	breakdown := &models.CostBreakdown{TotalCost: 1.0}
	report := &models.BillingReport{TotalCost: 2.0, Metrics: models.BillingMetrics{TokensUsed: 500}}

	enriched := Enrich(resp, EnrichOptions{CostBreakdown: breakdown, BillingReport: report})
	if enriched.TotalCost != 2.0 || enriched.TokensUsed != 500 {
		t.Fatalf("expected billing report to win, got %+v", enriched)
	}
}

func TestCreateErrorResponseIsWellFormed(t *testing.T) {
	start := time.Now().Add(-time.Second)
	resp := CreateErrorResponse("c1", "sig", &models.EngineError{Code: "PHASE1_VALIDATION_FAILED", Message: "bad job"}, start)
	if resp.PhaseResult != models.PhaseError || resp.Status != models.StatusError {
		t.Fatalf("expected error phase result, got %+v", resp)
	}
	if resp.Decisions == nil || resp.ToolCalls == nil {
		t.Fatalf("expected non-nil empty slices")
	}
	if !Validate(resp) {
		t.Fatalf("expected error response to be schema-valid, errors: %+v", ValidateWithErrors(resp))
	}
}

func TestCloneProducesNoSharedReferences(t *testing.T) {
	resp := sampleResponse()
	cloned, err := Clone(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cloned.ToolCalls[0].Result = "mutated"
	if resp.ToolCalls[0].Result == "mutated" {
		t.Fatalf("expected clone to share no references with the original")
	}
}

func TestSanitizeDoesNotMutateOriginal(t *testing.T) {
	resp := sampleResponse()
	sanitized := Sanitize(resp)

	if sanitized.ToolCalls[0].Result != sanitizedSentinel {
		t.Fatalf("expected sentinel tool result, got %+v", sanitized.ToolCalls[0])
	}
	if sanitized.Decisions[0].ToolArguments["[SANITIZED]"] != true {
		t.Fatalf("expected sanitized tool arguments, got %+v", sanitized.Decisions[0])
	}
	if resp.ToolCalls[0].Result == sanitizedSentinel {
		t.Fatalf("expected original response to remain unmutated")
	}
	if resp.Decisions[0].ToolArguments["query"] != "secret" {
		t.Fatalf("expected original tool arguments to remain unmutated")
	}
}

func TestToHTTPResponseStatusCodes(t *testing.T) {
	ok := sampleResponse()
	httpResp, err := ToHTTPResponse(ok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if httpResp.StatusCode != 200 {
		t.Fatalf("expected 200 for a clean response, got %d", httpResp.StatusCode)
	}

	errResp := CreateErrorResponse("c1", "sig", &models.EngineError{Code: "X", Message: "y"}, time.Now())
	httpResp, err = ToHTTPResponse(errResp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if httpResp.StatusCode != 500 {
		t.Fatalf("expected 500 when an error object is present, got %d", httpResp.StatusCode)
	}
	if httpResp.Headers["X-Correlation-Id"] != "c1" {
		t.Fatalf("expected correlation id header, got %+v", httpResp.Headers)
	}
}
