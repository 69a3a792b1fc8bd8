// Package engine wires the schema registry, intent signature, result
// cache, policy store/enforcer, rate limiter, context estimator, tool
// dispatcher, resilient LLM client, cost attributor, and response
// serializer into the five-phase pipeline (C16-C19) behind a single
// facade (C20).
package engine

import (
	"fmt"

	"github.com/haasonsaas/agentengine/pkg/models"
)

// ValidationError reports a Phase 1 schema-validation failure. It is
// distinct from models.EngineError, which is the wire-level shape a
// ValidationError is translated into at the facade boundary.
type ValidationError struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// PolicyError reports a Phase 3 denial or an unexpected failure while
// retrieving or evaluating policy.
type PolicyError struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ToolError reports a Phase 4 tool-dispatch failure, including a
// recovered panic from a misbehaving executor.
type ToolError struct {
	ToolName models.ToolName
	Code     string
	Message  string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s[%s]: %s", e.Code, e.ToolName, e.Message)
}

// EngineError wraps a failure that crosses a phase boundary uncaught,
// the last line of defense before the facade's own recover converts it
// into a models.EngineError response.
type EngineError struct {
	Code    string
	Message string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error { return e.Cause }

// toWireError converts any of this package's typed errors into the
// wire-level models.EngineError carried on a Response. A plain error
// becomes a bare ENGINE_ERROR with no details.
func toWireError(code string, err error) *models.EngineError {
	if err == nil {
		return &models.EngineError{Code: code}
	}
	switch e := err.(type) {
	case *ValidationError:
		return &models.EngineError{Code: e.Code, Message: e.Message, Details: e.Details}
	case *PolicyError:
		return &models.EngineError{Code: e.Code, Message: e.Message, Details: e.Details}
	case *ToolError:
		return &models.EngineError{Code: e.Code, Message: e.Message, Details: map[string]any{"tool": string(e.ToolName)}}
	case *EngineError:
		return &models.EngineError{Code: e.Code, Message: e.Message}
	default:
		return &models.EngineError{Code: code, Message: err.Error()}
	}
}
