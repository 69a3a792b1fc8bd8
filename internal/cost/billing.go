package cost

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/agentengine/internal/storage"
	"github.com/haasonsaas/agentengine/pkg/models"
)

// ExecutionSummary is the subset of Phase 4's state a billing report is
// assembled from.
type ExecutionSummary struct {
	TokensUsed     int
	ToolCalls      []models.ToolResult
	Decisions      []models.AgentDecision
	RecursionDepth int
}

// PersistExtra carries the request-level fields a billing row needs
// beyond cost and usage metrics.
type PersistExtra struct {
	Status      models.ExecutionStatus
	PhaseResult models.PhaseResult
	FromCache   bool
	Error       *models.EngineError
}

// GenerateReport assembles a BillingReport from an execution summary, per
// §4.15.
func GenerateReport(correlationID, userID string, exec ExecutionSummary, executionTime time.Duration, now time.Time) (models.BillingReport, error) {
	breakdown, err := Breakdown(exec.TokensUsed, exec.ToolCalls, exec.Decisions)
	if err != nil {
		return models.BillingReport{}, err
	}

	return models.BillingReport{
		CorrelationID: correlationID,
		UserID:        userID,
		TotalCost:     breakdown.TotalCost,
		CostBreakdown: breakdown,
		ExecutionTime: executionTime,
		Timestamp:     now,
		Metrics: models.BillingMetrics{
			TokensUsed:     exec.TokensUsed,
			ToolCallsCount: len(exec.ToolCalls),
			LLMCallsCount:  LLMCallCount(exec.Decisions),
			RecursionDepth: exec.RecursionDepth,
		},
	}, nil
}

// Reporter is the C14 contract: persists billing reports and serves
// tenant-scoped reads over them, degrading reads to zeroed results on
// any backend failure (fail-open, per spec §5).
type Reporter struct {
	store storage.BillingStore
}

// NewReporter builds a Reporter over the given durable BillingStore.
func NewReporter(store storage.BillingStore) *Reporter {
	return &Reporter{store: store}
}

// PersistReport upserts report, keyed by CorrelationID, enriched with
// signature and request-level metadata. A persistence failure is
// returned wrapped; callers log it and proceed — the request itself
// must not fail because billing couldn't be written.
func (r *Reporter) PersistReport(ctx context.Context, report models.BillingReport, signature string, extra PersistExtra) error {
	report.IntentSignature = signature
	report.Status = extra.Status
	report.PhaseResult = extra.PhaseResult
	report.FromCache = extra.FromCache
	if extra.Error != nil {
		report.ErrorCode = extra.Error.Code
		report.ErrorMessage = extra.Error.Message
	}
	if err := r.store.SaveReport(ctx, report); err != nil {
		return fmt.Errorf("persist billing report: %w", err)
	}
	return nil
}

// GetReport fetches a tenant-scoped billing report. A mismatched userID,
// a missing row, or any backend error all degrade to (zero, false).
func (r *Reporter) GetReport(ctx context.Context, correlationID, userID string) (models.BillingReport, bool) {
	report, err := r.store.GetReport(ctx, correlationID)
	if err != nil || report == nil || report.UserID != userID {
		return models.BillingReport{}, false
	}
	return *report, true
}

// UserCosts returns a user's billing reports in [from, to], degrading to
// nil on any backend error.
func (r *Reporter) UserCosts(ctx context.Context, userID string, from, to time.Time) []models.BillingReport {
	reports, err := r.store.UserReports(ctx, userID, from, to)
	if err != nil {
		return nil
	}
	return reports
}

// UserStats returns aggregated cost/token statistics for a user,
// degrading to a zero-valued UserCostStats on any backend error.
func (r *Reporter) UserStats(ctx context.Context, userID string, from, to time.Time) models.UserCostStats {
	stats, err := r.store.UserStats(ctx, userID, from, to)
	if err != nil {
		return models.UserCostStats{UserID: userID, From: from, To: to}
	}
	return stats
}
