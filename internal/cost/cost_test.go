package cost

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/agentengine/internal/storage"
	"github.com/haasonsaas/agentengine/pkg/models"
)

func TestTokenCostPlusToolCostEqualsTotalCost(t *testing.T) {
	for n := 0; n <= 10000; n += 2500 {
		for k := 0; k <= 5; k++ {
			tokenCost, err := TokenCostFor(n)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			toolCost, err := ToolCostFor(k)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			total, err := TotalCost(n, k)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := (tokenCost + toolCost) - total; diff > 1e-6 || diff < -1e-6 {
				t.Fatalf("n=%d k=%d: tokenCost+toolCost=%v != totalCost=%v", n, k, tokenCost+toolCost, total)
			}
		}
	}
}

func TestTokenCostRejectsNegative(t *testing.T) {
	if _, err := TokenCostFor(-1); err == nil {
		t.Fatalf("expected error for negative n")
	}
	if _, err := ToolCostFor(-1); err == nil {
		t.Fatalf("expected error for negative k")
	}
}

func TestBreakdownFidelityScenario(t *testing.T) {
	toolCalls := []models.ToolResult{{}, {}, {}}
	breakdown, err := Breakdown(5000, toolCalls, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if breakdown.TotalCost != 0.025 {
		t.Fatalf("expected totalCost=0.025, got %v", breakdown.TotalCost)
	}
	var execution, aggregation models.CostPhaseRow
	for _, row := range breakdown.Phases {
		switch row.Phase {
		case models.CostPhaseExecution:
			execution = row
		case models.CostPhaseAggregation:
			aggregation = row
		}
	}
	if execution.Tokens != 4500 || execution.Tools != 3 {
		t.Fatalf("expected EXECUTION{tokens:4500,tools:3}, got %+v", execution)
	}
	if aggregation.Tokens != 500 || aggregation.Tools != 0 {
		t.Fatalf("expected AGGREGATION{tokens:500,tools:0}, got %+v", aggregation)
	}
	if !ValidateBreakdown(breakdown) {
		t.Fatalf("expected breakdown to validate")
	}
}

func TestLLMCallCount(t *testing.T) {
	decisions := []models.AgentDecision{
		{Type: models.DecisionTypeLLMCall},
		{Type: models.DecisionTypeToolCall},
		{Type: models.DecisionTypeLLMCall},
		{Type: models.DecisionTypeFinalAnswer},
	}
	if got := LLMCallCount(decisions); got != 2 {
		t.Fatalf("expected 2 LLM_CALL decisions, got %d", got)
	}
}

func TestReporterPersistAndReadRoundTrip(t *testing.T) {
	stores := storage.NewMemoryStores()
	reporter := NewReporter(stores.Billing)

	report, err := GenerateReport("c1", "u1", ExecutionSummary{TokensUsed: 1000, ToolCalls: []models.ToolResult{{}}, RecursionDepth: 2}, 500*time.Millisecond, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := reporter.PersistReport(context.Background(), report, "sig-1", PersistExtra{Status: models.StatusComplete, PhaseResult: models.PhaseContinue}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := reporter.GetReport(context.Background(), "c1", "u1")
	if !ok {
		t.Fatalf("expected report to be found")
	}
	if got.TotalCost != report.TotalCost {
		t.Fatalf("expected round-tripped total cost to match")
	}

	if _, ok := reporter.GetReport(context.Background(), "c1", "someone-else"); ok {
		t.Fatalf("expected tenant isolation to hide the report from another user")
	}
}

func TestReporterDegradesOnMissingReport(t *testing.T) {
	stores := storage.NewMemoryStores()
	reporter := NewReporter(stores.Billing)
	if _, ok := reporter.GetReport(context.Background(), "missing", "u1"); ok {
		t.Fatalf("expected a missing report to degrade to not-found")
	}
	stats := reporter.UserStats(context.Background(), "u1", time.Time{}, time.Time{})
	if stats.RequestCount != 0 {
		t.Fatalf("expected zeroed stats for a user with no reports, got %+v", stats)
	}
}
