// Package cost implements deterministic cost accounting (C13) and
// billing-record assembly/persistence (C14). All monetary values are
// rounded to 6 decimal places so repeated floating-point arithmetic
// never drifts; wire values stay plain float64 for JSON compatibility.
package cost

import (
	"fmt"
	"math"

	"github.com/haasonsaas/agentengine/pkg/models"
)

// TokenCost and ToolCost are COST_CONSTANTS from spec §6.
const (
	TokenCost = 0.000002
	ToolCost  = 0.005
)

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// TokenCostFor returns the rounded cost of n tokens. n<0 is an error.
func TokenCostFor(n int) (float64, error) {
	if n < 0 {
		return 0, fmt.Errorf("tokenCost: n must be >= 0, got %d", n)
	}
	return round6(float64(n) * TokenCost), nil
}

// ToolCostFor returns the rounded cost of k tool calls. k<0 is an error.
func ToolCostFor(k int) (float64, error) {
	if k < 0 {
		return 0, fmt.Errorf("toolCost: k must be >= 0, got %d", k)
	}
	return round6(float64(k) * ToolCost), nil
}

// TotalCost returns round6(tokenCost(n) + toolCost(k)).
func TotalCost(n, k int) (float64, error) {
	tokens, err := TokenCostFor(n)
	if err != nil {
		return 0, err
	}
	tools, err := ToolCostFor(k)
	if err != nil {
		return 0, err
	}
	return round6(tokens + tools), nil
}

// Breakdown produces the five fixed-order phase rows of §4.14. All tool
// calls are attributed to EXECUTION; tokens split 90/10 between
// EXECUTION and AGGREGATION, the model's dominant-cost heuristic.
func Breakdown(tokensUsed int, toolCalls []models.ToolResult, decisions []models.AgentDecision) (models.CostBreakdown, error) {
	total, err := TotalCost(tokensUsed, len(toolCalls))
	if err != nil {
		return models.CostBreakdown{}, err
	}

	executionTokens := int(math.Floor(0.9 * float64(tokensUsed)))
	aggregationTokens := tokensUsed - executionTokens

	rows := make([]models.CostPhaseRow, 0, len(models.OrderedCostPhases))
	for _, phase := range models.OrderedCostPhases {
		row := models.CostPhaseRow{Phase: phase}
		switch phase {
		case models.CostPhaseExecution:
			row.Tokens = executionTokens
			row.Tools = len(toolCalls)
		case models.CostPhaseAggregation:
			row.Tokens = aggregationTokens
		}
		cost, err := TotalCost(row.Tokens, row.Tools)
		if err != nil {
			return models.CostBreakdown{}, err
		}
		row.Cost = cost
		rows = append(rows, row)
	}

	return models.CostBreakdown{TotalCost: total, Phases: rows}, nil
}

// ValidateBreakdown reports whether the sum of a breakdown's phase costs
// equals its TotalCost within 1e-6.
func ValidateBreakdown(b models.CostBreakdown) bool {
	sum := 0.0
	for _, row := range b.Phases {
		sum += row.Cost
	}
	return math.Abs(sum-b.TotalCost) < 1e-6
}

// LLMCallCount counts decisions whose type is LLM_CALL.
func LLMCallCount(decisions []models.AgentDecision) int {
	count := 0
	for _, d := range decisions {
		if d.Type == models.DecisionTypeLLMCall {
			count++
		}
	}
	return count
}
