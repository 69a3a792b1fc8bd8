package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/agentengine/internal/audit"
	"github.com/haasonsaas/agentengine/internal/cache"
	"github.com/haasonsaas/agentengine/internal/config"
	"github.com/haasonsaas/agentengine/internal/cost"
	"github.com/haasonsaas/agentengine/internal/ctxwindow"
	"github.com/haasonsaas/agentengine/internal/llm"
	"github.com/haasonsaas/agentengine/internal/observability"
	"github.com/haasonsaas/agentengine/internal/policy"
	"github.com/haasonsaas/agentengine/internal/ratelimit"
	"github.com/haasonsaas/agentengine/internal/serialize"
	"github.com/haasonsaas/agentengine/internal/storage"
	"github.com/haasonsaas/agentengine/internal/tools"
	"github.com/haasonsaas/agentengine/pkg/models"
)

// Engine is the C20 facade: the sole entry point a caller (the HTTP
// binding in cmd/agentengine, or a test) uses to run a job through the
// five phases.
type Engine struct {
	ingestion     *Ingestion
	policy        *PolicyPhase
	execution     *Execution
	serialization *Serialization

	auditLog    *audit.Logger
	limiter     *ratelimit.Limiter
	policyStore storage.PolicyStore

	logger         *observability.Logger
	metrics        *observability.Metrics
	tracer         *observability.Tracer
	tracerShutdown func(context.Context) error

	now func() time.Time
}

// New builds an Engine from cfg, wiring every collaborator described in
// §4.1-§4.18: the schema-backed ingestion phase, the policy/rate-limit
// enforcement phase, the reason-act execution loop over llmClient and
// registry, and the cost/serialization finalize phase, all sharing one
// audit sink and one set of durable stores.
func New(cfg *config.Config, stores storage.StoreSet, llmClient llm.Client, registry *tools.Registry) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine: nil config")
	}

	auditLog := audit.NewLogger(audit.Config{
		Enabled:       true,
		Format:        audit.FormatJSON,
		Output:        "stdout",
		RetentionDays: retentionDaysByTierString(cfg.Audit.RetentionDays),
	})

	limiter := ratelimit.New(cfg.RateLimiter.MemoryTTL)
	estimator := ctxwindow.NewWithConfig(cfg.Context.CharsPerToken, cfg.Context.SafetyMargin)
	policyStore := policy.NewStore(stores.Policy, cfg.Tiers.Tiers, cfg.Tiers.DefaultTier)
	enforcer := policy.NewEnforcer(limiter, estimator)
	resultCache := cache.NewMemoryCache()
	dispatcher := tools.NewDispatcher(registry, auditLog)
	resilientLLM := llm.NewResilientClient(llmClient, llm.ResilientConfig{
		MaxRetries: cfg.LLM.MaxRetries,
		BaseDelay:  cfg.LLM.BaseDelay,
	})
	reporter := cost.NewReporter(stores.Billing)

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})
	metrics := observability.NewMetrics()

	endpoint := ""
	if cfg.Observability.TracingEnabled {
		endpoint = cfg.Observability.TracingEndpoint
	}
	tracer, tracerShutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: "dev",
		Endpoint:       endpoint,
	})

	return &Engine{
		ingestion:     NewIngestion(resultCache, auditLog),
		policy:        NewPolicyPhase(policyStore, enforcer, limiter, auditLog),
		execution:     NewExecution(resilientLLM, dispatcher, estimator, auditLog, cfg.LLM.Model),
		serialization: NewSerialization(resultCache, reporter, auditLog),

		auditLog:    auditLog,
		limiter:     limiter,
		policyStore: stores.Policy,

		logger:         logger,
		metrics:        metrics,
		tracer:         tracer,
		tracerShutdown: tracerShutdown,

		now: time.Now,
	}, nil
}

// retentionDaysByTierString converts the config's UserTier-keyed
// retention table into the string-keyed shape internal/audit expects,
// so that package need not import pkg/models' UserTier type.
func retentionDaysByTierString(byTier map[models.UserTier]int) map[string]int {
	out := make(map[string]int, len(byTier))
	for tier, days := range byTier {
		out[string(tier)] = days
	}
	return out
}

// Execute is the §4.18 entry point: it runs rawPayload through
// ingestion, policy, execution, and finalize, returning a well-formed
// Response in every case — including an uncaught panic anywhere in the
// pipeline, which this method's own recover converts into an
// ENGINE_ERROR response rather than letting it escape to the caller.
func (e *Engine) Execute(ctx context.Context, rawPayload []byte) (resp models.Response) {
	startedAt := e.now()
	correlationID := "unknown"

	defer func() {
		if r := recover(); r != nil {
			e.metrics.RecordError("engine", "panic")
			e.logger.Error(ctx, "engine.execute panicked", "error", fmt.Sprintf("%v", r), "correlationId", correlationID)
			resp = serialize.CreateErrorResponse(correlationID, "", &models.EngineError{
				Code: "ENGINE_ERROR", Message: fmt.Sprintf("%v", r),
			}, startedAt)
		}
	}()

	ctx, span := e.tracer.Start(ctx, "engine.execute")
	defer span.End()

	ingested := e.ingestion.Run(rawPayload)
	if ingested.Result == models.PhaseError {
		e.metrics.RecordError("ingestion", ingested.Error.Code)
		return serialize.CreateErrorResponse(correlationID, "", ingested.Error, startedAt)
	}

	correlationID = ingested.Job.CorrelationID
	userID := ingested.Job.UserID
	signature := ingested.Signature

	if ingested.Result == models.PhaseCacheHit {
		cachedResp, err := e.serialization.FinalizeCached(ingested.CachedResponse, correlationID, userID)
		if err != nil {
			e.metrics.RecordError("serialization", "CACHE_REVALIDATION_FAILED")
			return serialize.CreateErrorResponse(correlationID, signature, &models.EngineError{
				Code: "ENGINE_ERROR", Message: err.Error(),
			}, startedAt)
		}
		return cachedResp
	}

	policyOutcome := e.policy.Run(ctx, ingested.Job)
	if policyOutcome.Result != models.PhaseContinue {
		denied := serialize.CreateErrorResponse(correlationID, signature, policyOutcome.Error, startedAt)
		denied.PhaseResult = policyOutcome.Result
		e.metrics.RecordError("policy", policyOutcome.Error.Code)
		return e.serialization.Finalize(ctx, FinalizeInput{
			Response:    denied,
			Signature:   signature,
			UserID:      userID,
			ExecSummary: cost.ExecutionSummary{},
			StartedAt:   startedAt,
		})
	}

	execResult := e.execution.Run(ctx, ingested.Job, policyOutcome.Policy, correlationID)
	if execResult.Status == models.StatusError {
		e.metrics.RecordError("execution", execResult.ErrorCode)
	}

	assembled := buildResponseFromExecution(correlationID, signature, execResult, startedAt)
	return e.serialization.Finalize(ctx, FinalizeInput{
		Response:  assembled,
		Signature: signature,
		UserID:    userID,
		ExecSummary: cost.ExecutionSummary{
			TokensUsed:     execResult.TokensUsed,
			ToolCalls:      execResult.ToolCalls,
			Decisions:      execResult.Decisions,
			RecursionDepth: execResult.Depth,
		},
		StartedAt: startedAt,
	})
}

// buildResponseFromExecution maps an ExecutionResult onto the Response
// envelope Phase 5 finalizes; Decisions/ToolCalls are never nil so the
// schema's array-typed required fields are always satisfied.
func buildResponseFromExecution(correlationID, signature string, execResult ExecutionResult, startedAt time.Time) models.Response {
	resp := models.Response{
		CorrelationID: correlationID,
		JobSignature:  signature,
		Status:        execResult.Status,
		Result:        execResult.FinalAnswer,
		PhaseResult:   models.PhaseContinue,
		Decisions:     execResult.Decisions,
		ToolCalls:     execResult.ToolCalls,
		StartedAt:     startedAt,
	}
	if resp.Decisions == nil {
		resp.Decisions = []models.AgentDecision{}
	}
	if resp.ToolCalls == nil {
		resp.ToolCalls = []models.ToolResult{}
	}
	if execResult.Status == models.StatusError {
		resp.PhaseResult = models.PhaseError
		resp.Error = &models.EngineError{Code: execResult.ErrorCode, Message: execResult.ErrorMessage}
	}
	return resp
}

// StartBackground launches the rate-limiter and audit-retention
// sweepers as an errgroup-bound task pair (the lifecycle role SPEC_FULL
// assigns errgroup alongside C12's batch dispatch). Both sweepers stop
// together: either ticker loop returning an error cancels the group's
// context, tearing down the other. The returned stop function cancels
// the sweepers and waits for them to exit, bounded by its own context.
func (e *Engine) StartBackground(ctx context.Context, rateLimiterInterval, auditInterval time.Duration) (stop func(context.Context) error) {
	sweepCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(sweepCtx)

	g.Go(func() error {
		return e.runSweeper(gctx, rateLimiterInterval, func() int { return e.limiter.Sweep() }, "rate limiter sweep")
	})
	g.Go(func() error {
		return e.runSweeper(gctx, auditInterval, func() int { return e.auditLog.Sweep(e.now(), e.tierOf) }, "audit retention sweep")
	})

	return func(shutdownCtx context.Context) error {
		cancel()
		done := make(chan error, 1)
		go func() { done <- g.Wait() }()
		select {
		case err := <-done:
			return err
		case <-shutdownCtx.Done():
			return shutdownCtx.Err()
		}
	}
}

func (e *Engine) runSweeper(ctx context.Context, interval time.Duration, sweep func() int, label string) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if removed := sweep(); removed > 0 {
				e.logger.Info(ctx, label, "removed", removed)
			}
		}
	}
}

// tierOf resolves a userId to its tier string for audit.Logger.Sweep,
// degrading to the empty string (shortest retention) on any lookup
// failure, matching the rest of the engine's fail-open posture toward
// background maintenance.
func (e *Engine) tierOf(userID string) string {
	if e.policyStore == nil {
		return ""
	}
	tier, ok, err := e.policyStore.GetUserTier(context.Background(), userID)
	if err != nil || !ok {
		return ""
	}
	return strings.ToLower(string(tier))
}

// Close releases the engine's own resources (the audit logger's async
// sink and the trace exporter). It does not close the durable stores
// passed to New — the caller that constructed them owns that lifecycle.
func (e *Engine) Close(ctx context.Context) error {
	e.auditLog.Close()
	if e.tracerShutdown != nil {
		return e.tracerShutdown(ctx)
	}
	return nil
}
