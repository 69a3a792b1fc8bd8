package tools

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/agentengine/internal/audit"
	"github.com/haasonsaas/agentengine/pkg/models"
)

// DispatchResult is the outcome of a single dispatched tool call.
type DispatchResult struct {
	ToolName      models.ToolName
	Result        any
	ExecutionTime time.Duration
	Cost          float64
	Error         string
}

// Metrics is the C12 metering snapshot.
type Metrics struct {
	TotalExecutions int64
	TotalCost       float64
	TotalTime       time.Duration
	ErrorCount      int64
	PerToolCounts   map[models.ToolName]int64
}

// baseToolCost mirrors C13's flat TOOL_COST; the dispatcher meters the
// same per-call baseline before applying its own time- and tool-based
// modifiers.
const baseToolCost = 0.005

var toolCostModifiers = map[models.ToolName]float64{
	models.ToolWorkflowOrchestrator: 1.5,
	models.ToolCodeExecutor:         1.2,
	models.ToolSubmitParallelJob:    2.0,
	models.ToolGoogleSearch:         1.0,
	models.ToolRetrieveContext:      0.8,
}

func modifierFor(name models.ToolName) float64 {
	if m, ok := toolCostModifiers[name]; ok {
		return m
	}
	return 1.0
}

func computeCost(name models.ToolName, executionTime time.Duration) float64 {
	ms := float64(executionTime.Milliseconds())
	extra := math.Max(0, (ms-1000)/1000) * 0.001
	cost := (baseToolCost + extra) * modifierFor(name)
	return math.Round(cost*1e6) / 1e6
}

// Dispatcher is the C12 contract: validates, executes, meters, and
// audits every tool call.
type Dispatcher struct {
	registry *Registry
	auditLog *audit.Logger
	now      func() time.Time

	mu      sync.Mutex
	metrics Metrics
}

// NewDispatcher builds a Dispatcher over registry, emitting audit events
// through auditLog.
func NewDispatcher(registry *Registry, auditLog *audit.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		auditLog: auditLog,
		now:      time.Now,
		metrics:  Metrics{PerToolCounts: make(map[models.ToolName]int64)},
	}
}

// Dispatch runs the §4.8 algorithm for a single tool call. correlationID
// and userID, when non-empty, scope the TOOL_CALL_* audit events; an
// empty correlationID suppresses them.
func (d *Dispatcher) Dispatch(ctx context.Context, correlationID, userID string, name models.ToolName, args Arguments) DispatchResult {
	if correlationID != "" && userID != "" {
		d.audit(correlationID, userID, "TOOL_CALL_START", map[string]any{"tool": string(name)})
	}

	start := d.now()
	result := DispatchResult{ToolName: name}

	def, ok := d.registry.Get(name)
	switch {
	case !ok:
		result.Error = "not found"
	default:
		if err := validateArgs(def, args); err != nil {
			result.Error = "Invalid arguments: " + err.Error()
		} else {
			out, execErr := runExecutor(ctx, def, args)
			if execErr != nil {
				result.Error = execErr.Error()
			} else {
				result.Result = out
			}
		}
	}

	result.ExecutionTime = d.now().Sub(start)
	result.Cost = computeCost(name, result.ExecutionTime)

	d.record(name, result)

	event := "TOOL_CALL_SUCCESS"
	details := map[string]any{"tool": string(name), "executionTimeMs": result.ExecutionTime.Milliseconds(), "cost": result.Cost}
	if result.Error != "" {
		event = "TOOL_CALL_ERROR"
		details["error"] = result.Error
	}
	if correlationID != "" && userID != "" {
		d.audit(correlationID, userID, event, details)
	}

	return result
}

// runExecutor invokes def.Execute, converting a panic into a ToolError so
// a misbehaving tool never takes down the dispatcher.
func runExecutor(ctx context.Context, def *ToolDefinition, args Arguments) (out any, err error) {
	if def.Execute == nil {
		return nil, fmt.Errorf("tool %s has no executor", def.Name)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", def.Name, r)
		}
	}()
	return def.Execute(ctx, args)
}

// DispatchBatch runs calls concurrently via an errgroup, preserving
// input order in the returned slice; one call's failure never aborts
// another's — Dispatch itself never returns a Go error, so the group is
// only ever used for its structured wait, not for error propagation.
func (d *Dispatcher) DispatchBatch(ctx context.Context, correlationID, userID string, calls []models.ToolResult) []DispatchResult {
	results := make([]DispatchResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			args, _ := call.Result.(Arguments)
			results[i] = d.Dispatch(gctx, correlationID, userID, call.ToolName, args)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Dispatcher) record(name models.ToolName, result DispatchResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics.TotalExecutions++
	d.metrics.TotalCost = math.Round((d.metrics.TotalCost+result.Cost)*1e6) / 1e6
	d.metrics.TotalTime += result.ExecutionTime
	if result.Error != "" {
		d.metrics.ErrorCount++
	}
	d.metrics.PerToolCounts[name]++
}

// Snapshot returns a copy of the dispatcher's current metrics.
func (d *Dispatcher) Snapshot() Metrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	counts := make(map[models.ToolName]int64, len(d.metrics.PerToolCounts))
	for k, v := range d.metrics.PerToolCounts {
		counts[k] = v
	}
	snapshot := d.metrics
	snapshot.PerToolCounts = counts
	return snapshot
}

func (d *Dispatcher) audit(correlationID, userID, event string, details map[string]any) {
	if d.auditLog == nil {
		return
	}
	d.auditLog.Log(models.AuditEvent{
		CorrelationID: correlationID,
		UserID:        userID,
		Timestamp:     d.now(),
		Phase:         models.AuditPhaseExecution,
		Event:         event,
		Details:       details,
	})
}
