package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/agentengine/internal/audit"
	"github.com/haasonsaas/agentengine/internal/ctxwindow"
	"github.com/haasonsaas/agentengine/internal/llm"
	"github.com/haasonsaas/agentengine/internal/tools"
	"github.com/haasonsaas/agentengine/pkg/models"
)

// systemPreamble is the fixed instruction prefixed to every reasoning
// step, telling the model to reply with a single AgentDecision object.
const systemPreamble = `You are an autonomous execution agent. Reply with exactly one JSON ` +
	`object matching this shape and nothing else: ` +
	`{"actionType":"LLM_CALL|TOOL_CALL|FINAL_ANSWER","reasoning":"...",` +
	`"nextPrompt":"...","toolName":"...","toolArguments":{...},"finalAnswer":"..."}. ` +
	`Populate only the fields relevant to the chosen actionType.`

// maxConsecutiveParseFailures is the §4.13 step-4 cutoff: two parse
// failures in a row terminate the loop rather than looping forever.
const maxConsecutiveParseFailures = 2

// ExecutionResult is the §4.13 state Phase 4 hands to the facade for
// response assembly and cost attribution.
type ExecutionResult struct {
	Status       models.ExecutionStatus
	ErrorCode    string
	ErrorMessage string
	FinalAnswer  string
	Decisions    []models.AgentDecision
	ToolCalls    []models.ToolResult
	TokensUsed   int
	Depth        int
}

// Execution implements C18: the bounded recursive reason-act loop. One
// Execution serves every request; all per-request state lives on the
// stack of Run, never on the struct.
type Execution struct {
	llm        llm.Client
	dispatcher *tools.Dispatcher
	estimator  ctxwindow.Estimator
	audit      *audit.Logger
	model      string
}

// NewExecution builds an Execution phase over the given resilient LLM
// client, tool dispatcher, and context estimator.
func NewExecution(client llm.Client, dispatcher *tools.Dispatcher, estimator ctxwindow.Estimator, auditLog *audit.Logger, model string) *Execution {
	return &Execution{llm: client, dispatcher: dispatcher, estimator: estimator, audit: auditLog, model: model}
}

// Run drives the loop for job under the already-resolved effective
// policy, honoring ctx cancellation at each iteration's suspension
// points.
func (e *Execution) Run(ctx context.Context, job models.Job, effective models.PolicyConstraints, correlationID string) ExecutionResult {
	var decisions []models.AgentDecision
	toolCalls := append([]models.ToolResult(nil), job.ToolResults...)
	toolCallCount := len(toolCalls)

	accumulatedContext := job.Prompt
	if job.PreviousContext != "" {
		accumulatedContext = job.PreviousContext + "\n\n" + job.Prompt
	}

	depth := job.CurrentDepth
	tokensUsed := 0
	consecutiveParseFailures := 0

	e.log(correlationID, job.UserID, "EXECUTION_STARTED", map[string]any{"startDepth": depth})

	for {
		select {
		case <-ctx.Done():
			e.log(correlationID, job.UserID, "EXECUTION_CANCELLED", nil)
			return ExecutionResult{
				Status: models.StatusError, ErrorCode: "CANCELLED", ErrorMessage: ctx.Err().Error(),
				Decisions: decisions, ToolCalls: toolCalls, TokensUsed: tokensUsed, Depth: depth,
			}
		default:
		}

		if depth >= effective.MaxRecursionDepth {
			final := synthesizeFinalAnswer(accumulatedContext)
			e.log(correlationID, job.UserID, "EXECUTION_COMPLETE", map[string]any{"reason": "depth budget exhausted"})
			return ExecutionResult{
				Status: models.StatusComplete, FinalAnswer: final,
				Decisions: decisions, ToolCalls: toolCalls, TokensUsed: tokensUsed, Depth: depth,
			}
		}

		prompt := buildPrompt(accumulatedContext)
		validation := e.estimator.ValidateText(prompt, effective.ContextWindowLimit)
		if !validation.Valid {
			e.log(correlationID, job.UserID, "EXECUTION_ERROR", map[string]any{"code": "CONTEXT_EXCEEDED"})
			return ExecutionResult{
				Status: models.StatusError, ErrorCode: "CONTEXT_EXCEEDED",
				ErrorMessage: fmt.Sprintf("estimated %d tokens exceeds effective limit %d", validation.Estimated, validation.Limit),
				Decisions:    decisions, ToolCalls: toolCalls, TokensUsed: tokensUsed, Depth: depth,
			}
		}

		result, err := e.llm.Complete(ctx, llm.CompletionRequest{Model: e.model, Prompt: prompt, System: systemPreamble})
		if err != nil {
			classified := llm.Classify(err)
			e.log(correlationID, job.UserID, "EXECUTION_ERROR", map[string]any{"code": classified.Code})
			return ExecutionResult{
				Status: models.StatusError, ErrorCode: classified.Code, ErrorMessage: classified.Error(),
				Decisions: decisions, ToolCalls: toolCalls, TokensUsed: tokensUsed, Depth: depth,
			}
		}
		tokensUsed += result.TokensUsed

		decision, perr := parseDecision(result.Content)
		if perr != nil {
			consecutiveParseFailures++
			decisions = append(decisions, models.AgentDecision{
				Status:    models.DecisionError,
				Reasoning: "parse failure: " + perr.Error(),
			})
			if consecutiveParseFailures >= maxConsecutiveParseFailures {
				e.log(correlationID, job.UserID, "EXECUTION_ERROR", map[string]any{"code": "PARSE_FAILURE"})
				return ExecutionResult{
					Status: models.StatusError, ErrorCode: "PARSE_FAILURE", ErrorMessage: perr.Error(),
					Decisions: decisions, ToolCalls: toolCalls, TokensUsed: tokensUsed, Depth: depth,
				}
			}
			depth++
			continue
		}
		consecutiveParseFailures = 0
		decision.Status = statusForDecisionType(decision.Type)
		decisions = append(decisions, decision)

		switch decision.Type {
		case models.DecisionTypeFinalAnswer:
			e.log(correlationID, job.UserID, "EXECUTION_COMPLETE", map[string]any{"reason": "final answer"})
			return ExecutionResult{
				Status: models.StatusComplete, FinalAnswer: decision.FinalAnswer,
				Decisions: decisions, ToolCalls: toolCalls, TokensUsed: tokensUsed, Depth: depth,
			}

		case models.DecisionTypeLLMCall:
			accumulatedContext = accumulatedContext + "\n\n" + decision.Reasoning + "\n\n" + decision.NextPrompt
			depth++

		case models.DecisionTypeToolCall:
			if !toolAllowed(decision.ToolName, effective.AllowedTools) {
				e.log(correlationID, job.UserID, "EXECUTION_ERROR", map[string]any{"code": "TOOL_NOT_ALLOWED", "tool": string(decision.ToolName)})
				return ExecutionResult{
					Status: models.StatusError, ErrorCode: "TOOL_NOT_ALLOWED",
					ErrorMessage: "tool not in effective allowlist: " + string(decision.ToolName),
					Decisions:    decisions, ToolCalls: toolCalls, TokensUsed: tokensUsed, Depth: depth,
				}
			}
			if toolCallCount >= effective.MaxToolCalls {
				e.log(correlationID, job.UserID, "EXECUTION_ERROR", map[string]any{"code": "TOOL_CALLS_EXCEEDED"})
				return ExecutionResult{
					Status: models.StatusError, ErrorCode: "TOOL_CALLS_EXCEEDED",
					ErrorMessage: "tool call budget exhausted",
					Decisions:    decisions, ToolCalls: toolCalls, TokensUsed: tokensUsed, Depth: depth,
				}
			}

			dispatched := e.dispatcher.Dispatch(ctx, correlationID, job.UserID, decision.ToolName, tools.Arguments(decision.ToolArguments))
			execTime := dispatched.ExecutionTime
			toolResult := models.ToolResult{
				ToolName:      decision.ToolName,
				Result:        dispatched.Result,
				ExecutionTime: &execTime,
				Cost:          &dispatched.Cost,
				Error:         dispatched.Error,
			}
			toolCalls = append(toolCalls, toolResult)
			toolCallCount++
			accumulatedContext = accumulatedContext + "\n\n" + toolResultAppendix(toolResult)
			depth++

		default:
			consecutiveParseFailures++
			if consecutiveParseFailures >= maxConsecutiveParseFailures {
				e.log(correlationID, job.UserID, "EXECUTION_ERROR", map[string]any{"code": "PARSE_FAILURE"})
				return ExecutionResult{
					Status: models.StatusError, ErrorCode: "PARSE_FAILURE", ErrorMessage: "unrecognized actionType: " + string(decision.Type),
					Decisions: decisions, ToolCalls: toolCalls, TokensUsed: tokensUsed, Depth: depth,
				}
			}
			depth++
		}
	}
}

func buildPrompt(accumulatedContext string) string {
	return systemPreamble + "\n\n" + accumulatedContext
}

func toolResultAppendix(result models.ToolResult) string {
	if result.Error != "" {
		return fmt.Sprintf("[tool result: %s] error: %s", result.ToolName, result.Error)
	}
	raw, err := json.Marshal(result.Result)
	if err != nil {
		return fmt.Sprintf("[tool result: %s] (unserializable result)", result.ToolName)
	}
	return fmt.Sprintf("[tool result: %s] %s", result.ToolName, raw)
}

func toolAllowed(name models.ToolName, allowed []models.ToolName) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, t := range allowed {
		if t == name {
			return true
		}
	}
	return false
}

// synthesizeFinalAnswer produces the §4.13 step-1 answer when the depth
// budget is exhausted before the model itself reaches a conclusion.
func synthesizeFinalAnswer(accumulatedContext string) string {
	const label = "depth budget exhausted; synthesizing from accumulated context:\n\n"
	if len(accumulatedContext) > 2000 {
		return label + accumulatedContext[len(accumulatedContext)-2000:]
	}
	return label + accumulatedContext
}

// statusForDecisionType maps a successfully parsed decision's actionType
// to its spec §3 status, rather than trusting the model to supply one:
// systemPreamble never asks for a status field, so Status is derived
// deterministically here instead of depending on unspecified output.
func statusForDecisionType(t models.DecisionType) models.DecisionStatus {
	switch t {
	case models.DecisionTypeFinalAnswer:
		return models.DecisionComplete
	case models.DecisionTypeToolCall:
		return models.DecisionToolDispatched
	case models.DecisionTypeLLMCall:
		return models.DecisionNextStep
	default:
		return models.DecisionError
	}
}

// parseDecision extracts the single JSON object the model replied with
// (tolerating a surrounding markdown code fence) and decodes it into an
// AgentDecision. A reply with no actionType is treated as a parse
// failure, since an empty DecisionType cannot be routed by the switch
// in Run.
func parseDecision(content string) (models.AgentDecision, error) {
	body := extractJSONObject(content)
	var decision models.AgentDecision
	if err := json.Unmarshal([]byte(body), &decision); err != nil {
		return models.AgentDecision{}, fmt.Errorf("decode agent decision: %w", err)
	}
	if decision.Type == "" {
		return models.AgentDecision{}, fmt.Errorf("response missing actionType")
	}
	return decision, nil
}

// extractJSONObject trims a ```json ... ``` fence if present and returns
// the substring between the first '{' and the last '}', tolerating
// leading/trailing prose a model might add despite instructions.
func extractJSONObject(content string) string {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	start := strings.IndexByte(trimmed, '{')
	end := strings.LastIndexByte(trimmed, '}')
	if start < 0 || end < start {
		return trimmed
	}
	return trimmed[start : end+1]
}

func (e *Execution) log(correlationID, userID, event string, details map[string]any) {
	if e.audit == nil {
		return
	}
	e.audit.Log(models.AuditEvent{
		CorrelationID: correlationID,
		UserID:        userID,
		Timestamp:     time.Now(),
		Phase:         models.AuditPhaseExecution,
		Event:         event,
		Details:       details,
	})
}
