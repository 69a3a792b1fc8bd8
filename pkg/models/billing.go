package models

import "time"

// CostPhase names the five fixed rows of a cost breakdown, in the order
// the breakdown is always emitted.
type CostPhase string

const (
	CostPhaseIngestion     CostPhase = "INGESTION"
	CostPhasePolicy        CostPhase = "POLICY"
	CostPhaseExecution     CostPhase = "EXECUTION"
	CostPhaseAggregation   CostPhase = "AGGREGATION"
	CostPhaseSerialization CostPhase = "SERIALIZATION"
)

// OrderedCostPhases is the fixed emission order for a cost breakdown.
var OrderedCostPhases = []CostPhase{
	CostPhaseIngestion,
	CostPhasePolicy,
	CostPhaseExecution,
	CostPhaseAggregation,
	CostPhaseSerialization,
}

// CostPhaseRow is one row of a cost breakdown.
type CostPhaseRow struct {
	Phase  CostPhase `json:"phase"`
	Tokens int       `json:"tokens"`
	Tools  int       `json:"tools"`
	Cost   float64   `json:"cost"`
}

// CostBreakdown is the full per-phase cost accounting for one execution.
type CostBreakdown struct {
	TotalCost float64        `json:"totalCost"`
	Phases    []CostPhaseRow `json:"phases"`
}

// BillingMetrics is the metrics block of a billing report.
type BillingMetrics struct {
	TokensUsed     int `json:"tokensUsed"`
	ToolCallsCount int `json:"toolCallsCount"`
	LLMCallsCount  int `json:"llmCallsCount"`
	RecursionDepth int `json:"recursionDepth"`
}

// BillingReport is the assembled, persisted billing record for a request.
type BillingReport struct {
	CorrelationID string         `json:"correlationId"`
	UserID        string         `json:"userId"`
	TotalCost     float64        `json:"totalCost"`
	CostBreakdown CostBreakdown  `json:"costBreakdown"`
	ExecutionTime time.Duration  `json:"executionTime"`
	Timestamp     time.Time      `json:"timestamp"`
	Metrics       BillingMetrics `json:"metrics"`

	// Persisted alongside the report for agent_execution_metadata.
	IntentSignature string          `json:"intentSignature,omitempty"`
	Status          ExecutionStatus `json:"status,omitempty"`
	PhaseResult     PhaseResult     `json:"phaseResult,omitempty"`
	FromCache       bool            `json:"fromCache,omitempty"`
	ErrorCode       string          `json:"errorCode,omitempty"`
	ErrorMessage    string          `json:"errorMessage,omitempty"`
}

// UserCostStats is an aggregate over a user's billing rows in a window.
type UserCostStats struct {
	UserID        string    `json:"userId"`
	From          time.Time `json:"from"`
	To            time.Time `json:"to"`
	RequestCount  int       `json:"requestCount"`
	TotalCost     float64   `json:"totalCost"`
	AverageCost   float64   `json:"averageCost"`
	TotalTokens   int       `json:"totalTokens"`
	AverageTokens float64   `json:"averageTokens"`
}
