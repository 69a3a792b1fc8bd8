// Package serialize implements the response serializer (C15): the sole
// place a Response is turned into wire bytes, enriched with cost data,
// re-validated, sanitized for logging, or summarized for a log line.
package serialize

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/haasonsaas/agentengine/internal/schema"
	"github.com/haasonsaas/agentengine/pkg/models"
)

// Serialize emits resp as pretty (two-space indented) JSON.
func Serialize(resp models.Response) ([]byte, error) {
	return json.MarshalIndent(resp, "", "  ")
}

// SerializeCompact emits resp as compact JSON, with no indentation.
func SerializeCompact(resp models.Response) ([]byte, error) {
	return json.Marshal(resp)
}

// Deserialize parses raw into a Response and schema-validates the
// result; a shape violation is returned as schema.ValidationErrors, not
// a Go error.
func Deserialize(raw []byte) (models.Response, schema.ValidationErrors, error) {
	return schema.DeserializeResponse(raw)
}

// EnrichOptions carries the values Enrich may copy onto a Response.
type EnrichOptions struct {
	CostBreakdown *models.CostBreakdown
	BillingReport *models.BillingReport
}

// Enrich copies total cost and token usage onto resp. When both a cost
// breakdown and a billing report are supplied, the billing report wins,
// since it is the authoritative persisted record.
func Enrich(resp models.Response, opts EnrichOptions) models.Response {
	out := resp.ShallowCopy()
	switch {
	case opts.BillingReport != nil:
		out.TotalCost = opts.BillingReport.TotalCost
		out.TokensUsed = opts.BillingReport.Metrics.TokensUsed
	case opts.CostBreakdown != nil:
		out.TotalCost = opts.CostBreakdown.TotalCost
	}
	return out
}

// Validate reports whether resp satisfies the Response schema.
func Validate(resp models.Response) bool {
	return len(schema.ValidateResponse(resp)) == 0
}

// ValidateWithErrors returns the full list of schema violations, if any.
func ValidateWithErrors(resp models.Response) schema.ValidationErrors {
	return schema.ValidateResponse(resp)
}

// CreateErrorResponse builds a minimal, schema-valid error Response:
// empty decisions/toolCalls and phaseResult=ERROR.
func CreateErrorResponse(correlationID, jobSignature string, engineErr *models.EngineError, startedAt time.Time) models.Response {
	now := time.Now()
	return models.Response{
		CorrelationID: correlationID,
		JobSignature:  jobSignature,
		Status:        models.StatusError,
		Error:         engineErr,
		PhaseResult:   models.PhaseError,
		FromCache:     false,
		ExecutionTime: now.Sub(startedAt),
		Decisions:     []models.AgentDecision{},
		ToolCalls:     []models.ToolResult{},
		StartedAt:     startedAt,
		CompletedAt:   now,
	}
}

// Clone returns a deep copy of resp via a serialize/deserialize round
// trip, guaranteeing no shared references with the original.
func Clone(resp models.Response) (models.Response, error) {
	raw, err := SerializeCompact(resp)
	if err != nil {
		return models.Response{}, err
	}
	cloned, _, err := schema.DeserializeResponse(raw)
	if err != nil {
		return models.Response{}, err
	}
	return cloned, nil
}

const sanitizedSentinel = "[REDACTED]"

// Sanitize returns a copy of resp with every tool result replaced by a
// fixed sentinel and every toolArguments map replaced by
// {"[SANITIZED]": true}. The original is never mutated.
func Sanitize(resp models.Response) models.Response {
	out := resp.ShallowCopy()

	out.ToolCalls = make([]models.ToolResult, len(resp.ToolCalls))
	for i, call := range resp.ToolCalls {
		out.ToolCalls[i] = models.ToolResult{
			ToolName: call.ToolName,
			Result:   sanitizedSentinel,
		}
	}

	out.Decisions = make([]models.AgentDecision, len(resp.Decisions))
	for i, d := range resp.Decisions {
		sanitizedDecision := d
		if d.ToolArguments != nil {
			sanitizedDecision.ToolArguments = map[string]any{"[SANITIZED]": true}
		}
		out.Decisions[i] = sanitizedDecision
	}

	return out
}

// Summarize returns a small metadata block suitable for a log line.
func Summarize(resp models.Response) map[string]any {
	return map[string]any{
		"correlationId": resp.CorrelationID,
		"status":        string(resp.Status),
		"phaseResult":   string(resp.PhaseResult),
		"fromCache":     resp.FromCache,
		"executionTime": resp.ExecutionTime.String(),
		"tokensUsed":    resp.TokensUsed,
		"totalCost":     resp.TotalCost,
		"decisionCount": len(resp.Decisions),
		"toolCallCount": len(resp.ToolCalls),
	}
}

// HTTPResponse pairs a serialized body with the headers and status code
// toHttpResponse specifies.
type HTTPResponse struct {
	Body       []byte
	Headers    map[string]string
	StatusCode int
}

// ToHTTPResponse serializes resp and pairs it with the §4.16 headers:
// status 200 on success, 500 when resp carries an error object.
func ToHTTPResponse(resp models.Response) (HTTPResponse, error) {
	body, err := SerializeCompact(resp)
	if err != nil {
		return HTTPResponse{}, err
	}
	status := 200
	if resp.Error != nil {
		status = 500
	}
	return HTTPResponse{
		Body: body,
		Headers: map[string]string{
			"Content-Type":     "application/json",
			"X-Correlation-Id": resp.CorrelationID,
			"X-Cache-Hit":      strconv.FormatBool(resp.FromCache),
			"X-Execution-Time": resp.ExecutionTime.String(),
		},
		StatusCode: status,
	}, nil
}
