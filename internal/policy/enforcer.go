package policy

import (
	"strings"

	"github.com/haasonsaas/agentengine/internal/ctxwindow"
	"github.com/haasonsaas/agentengine/internal/ratelimit"
	"github.com/haasonsaas/agentengine/pkg/models"
)

// ViolationType identifies which of the five C8 checks denied a request.
type ViolationType string

const (
	ViolationRecursionDepth ViolationType = "RECURSION_DEPTH_EXCEEDED"
	ViolationContextWindow  ViolationType = "CONTEXT_WINDOW_EXCEEDED"
	ViolationRateLimit      ViolationType = "RATE_LIMIT_EXCEEDED"
	ViolationToolCalls      ViolationType = "TOOL_CALLS_EXCEEDED"
	ViolationToolAllowlist  ViolationType = "TOOL_NOT_ALLOWED"
)

// CheckResult is the outcome of an enforcer run.
type CheckResult struct {
	Allowed   bool
	Reason    string
	Violation ViolationType
	Details   map[string]any
}

// Enforcer composes the rate limiter (C5) and context estimator (C6)
// with a caller-supplied policy (from C7) into the five ordered checks
// of §4.12. It holds no policy state itself.
type Enforcer struct {
	limiter   *ratelimit.Limiter
	estimator ctxwindow.Estimator
}

// NewEnforcer builds an Enforcer over the given rate limiter and context
// estimator.
func NewEnforcer(limiter *ratelimit.Limiter, estimator ctxwindow.Estimator) *Enforcer {
	return &Enforcer{limiter: limiter, estimator: estimator}
}

// Check runs the five checks in fixed order, returning on the first
// denial. Callers must not call ratelimit.Increment unless Check allows.
func (e *Enforcer) Check(userID string, job models.Job, effective models.PolicyConstraints) CheckResult {
	if job.CurrentDepth >= effective.MaxRecursionDepth {
		return CheckResult{
			Allowed:   false,
			Violation: ViolationRecursionDepth,
			Reason:    "recursion depth exceeded",
			Details: map[string]any{
				"currentDepth": job.CurrentDepth,
				"maxDepth":     effective.MaxRecursionDepth,
			},
		}
	}

	validation := e.estimator.ValidateMultipleTexts([]string{job.Prompt, job.PreviousContext}, effective.ContextWindowLimit)
	if !validation.Valid {
		return CheckResult{
			Allowed:   false,
			Violation: ViolationContextWindow,
			Reason:    "context window exceeded",
			Details: map[string]any{
				"estimated": validation.Estimated,
				"limit":     effective.ContextWindowLimit,
			},
		}
	}

	rateCheck := e.limiter.Check(userID, effective.RateLimit)
	if !rateCheck.Allowed {
		return CheckResult{
			Allowed:   false,
			Violation: ViolationRateLimit,
			Reason:    rateCheck.Reason,
			Details: map[string]any{
				"violation":         string(rateCheck.Violation),
				"secondsUntilReset": rateCheck.SecondsUntilReset,
			},
		}
	}

	if len(job.ToolResults) >= effective.MaxToolCalls {
		return CheckResult{
			Allowed:   false,
			Violation: ViolationToolCalls,
			Reason:    "tool call budget exceeded",
			Details: map[string]any{
				"toolCalls":    len(job.ToolResults),
				"maxToolCalls": effective.MaxToolCalls,
			},
		}
	}

	if len(effective.AllowedTools) > 0 {
		allowed := make(map[models.ToolName]bool, len(effective.AllowedTools))
		for _, name := range effective.AllowedTools {
			allowed[name] = true
		}
		for _, result := range job.ToolResults {
			if !allowed[result.ToolName] {
				return CheckResult{
					Allowed:   false,
					Violation: ViolationToolAllowlist,
					Reason:    "tool not in allowlist: " + string(result.ToolName),
					Details: map[string]any{
						"tool":         string(result.ToolName),
						"allowedTools": allowlistNames(effective.AllowedTools),
					},
				}
			}
		}
	}

	return CheckResult{Allowed: true}
}

func allowlistNames(tools []models.ToolName) string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = string(t)
	}
	return strings.Join(names, ",")
}
