package models

// DecisionStatus is the execution-loop status attached to every decision.
type DecisionStatus string

const (
	DecisionComplete        DecisionStatus = "COMPLETE"
	DecisionError           DecisionStatus = "ERROR"
	DecisionNextStep        DecisionStatus = "NEXT_STEP"
	DecisionToolDispatched  DecisionStatus = "TOOL_DISPATCHED"
	DecisionParallelPending DecisionStatus = "PARALLEL_PENDING"
)

// DecisionType tags the three shapes an AgentDecision can take.
type DecisionType string

const (
	DecisionTypeLLMCall     DecisionType = "LLM_CALL"
	DecisionTypeToolCall    DecisionType = "TOOL_CALL"
	DecisionTypeFinalAnswer DecisionType = "FINAL_ANSWER"
)

// AgentDecision is the tagged variant the model emits at each reasoning
// step. Exactly one of the case-specific fields is populated, selected by
// Type; this mirrors the source's discriminated union without resorting
// to an untyped map.
type AgentDecision struct {
	Type      DecisionType   `json:"actionType"`
	Status    DecisionStatus `json:"status"`
	Reasoning string         `json:"reasoning,omitempty"`

	// LLM_CALL
	NextPrompt string `json:"nextPrompt,omitempty"`

	// TOOL_CALL
	ToolName      ToolName       `json:"toolName,omitempty"`
	ToolArguments map[string]any `json:"toolArguments,omitempty"`

	// FINAL_ANSWER
	FinalAnswer string `json:"finalAnswer,omitempty"`
}
