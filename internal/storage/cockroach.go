package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/haasonsaas/agentengine/internal/retry"
	"github.com/haasonsaas/agentengine/pkg/models"
)

// writeRetryConfig governs retries of transient connection failures on the
// five mirrored tables; constraint violations and other non-connection
// errors are marked permanent and fail on the first attempt.
var writeRetryConfig = retry.Exponential(3, 20*time.Millisecond, 200*time.Millisecond)

// isTransientDBError reports whether err looks like a dropped or reset
// connection rather than a query-shape or constraint problem.
func isTransientDBError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// execWithRetry runs an INSERT/UPDATE/DELETE, retrying transient
// connection failures with backoff and failing fast on anything else.
func execWithRetry(ctx context.Context, db *sql.DB, query string, args ...any) error {
	result := retry.Do(ctx, writeRetryConfig, func() error {
		_, err := db.ExecContext(ctx, query, args...)
		if err != nil && !isTransientDBError(err) {
			return retry.Permanent(err)
		}
		return err
	})
	return result.Err
}

// NewCockroachStoresFromDSN opens a Postgres/CockroachDB connection and
// wires the five persisted tables named by the engine's durable state
// layout: agent_user_policies, agent_execution_metadata (billing
// reports), agent_result_cache, agent_audit_logs, agent_rate_limits.
func NewCockroachStoresFromDSN(dsn string, config *CockroachConfig) (StoreSet, error) {
	if strings.TrimSpace(dsn) == "" {
		return StoreSet{}, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultCockroachConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return StoreSet{}, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return StoreSet{}, fmt.Errorf("ping database: %w", err)
	}

	stores := StoreSet{
		Policy:     &cockroachPolicyStore{db: db},
		Billing:    &cockroachBillingStore{db: db},
		Cache:      &cockroachCacheMirror{db: db},
		Audit:      &cockroachAuditMirror{db: db},
		RateLimits: &cockroachRateLimitMirror{db: db},
		closer:     db.Close,
	}
	return stores, nil
}

// --- agent_user_policies (C7) ---

type cockroachPolicyStore struct {
	db *sql.DB
}

func (s *cockroachPolicyStore) GetUserTier(ctx context.Context, userID string) (models.UserTier, bool, error) {
	if userID == "" {
		return "", false, nil
	}
	var tier string
	err := s.db.QueryRowContext(ctx,
		`SELECT tier FROM agent_user_policies WHERE user_id = $1`, userID).Scan(&tier)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get user tier: %w", err)
	}
	return models.UserTier(tier), true, nil
}

func (s *cockroachPolicyStore) SetUserTier(ctx context.Context, userID string, tier models.UserTier) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	err := execWithRetry(ctx, s.db,
		`INSERT INTO agent_user_policies (user_id, tier, updated_at)
		 VALUES ($1,$2,$3)
		 ON CONFLICT (user_id) DO UPDATE SET tier = EXCLUDED.tier, updated_at = EXCLUDED.updated_at`,
		userID, string(tier), time.Now())
	if err != nil {
		return fmt.Errorf("set user tier: %w", err)
	}
	return nil
}

func (s *cockroachPolicyStore) GetOverride(ctx context.Context, userID string) (*models.PolicyConstraints, bool, error) {
	if userID == "" {
		return nil, false, nil
	}
	var overrideBytes []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT override FROM agent_user_policies WHERE user_id = $1 AND override IS NOT NULL`, userID).Scan(&overrideBytes)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get policy override: %w", err)
	}
	constraints, err := unmarshalConstraints(overrideBytes)
	if err != nil {
		return nil, false, fmt.Errorf("unmarshal policy override: %w", err)
	}
	return &constraints, true, nil
}

func (s *cockroachPolicyStore) SetOverride(ctx context.Context, userID string, constraints models.PolicyConstraints) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	data, err := marshalConstraints(constraints)
	if err != nil {
		return fmt.Errorf("marshal policy override: %w", err)
	}
	err = execWithRetry(ctx, s.db,
		`INSERT INTO agent_user_policies (user_id, tier, override, updated_at)
		 VALUES ($1, '', $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET override = EXCLUDED.override, updated_at = EXCLUDED.updated_at`,
		userID, data, time.Now())
	if err != nil {
		return fmt.Errorf("set policy override: %w", err)
	}
	return nil
}

// --- agent_execution_metadata (C14 billing reports) ---

type cockroachBillingStore struct {
	db *sql.DB
}

func (s *cockroachBillingStore) SaveReport(ctx context.Context, report models.BillingReport) error {
	if report.CorrelationID == "" {
		return fmt.Errorf("correlation id is required")
	}
	breakdown, err := json.Marshal(report.CostBreakdown)
	if err != nil {
		return fmt.Errorf("marshal cost breakdown: %w", err)
	}
	err = execWithRetry(ctx, s.db,
		`INSERT INTO agent_execution_metadata
		 (correlation_id, user_id, total_cost, cost_breakdown, execution_time_ms, timestamp,
		  tokens_used, tool_calls_count, llm_calls_count, recursion_depth,
		  intent_signature, status, phase_result, from_cache, error_code, error_message)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		 ON CONFLICT (correlation_id) DO UPDATE SET
		   total_cost = EXCLUDED.total_cost,
		   cost_breakdown = EXCLUDED.cost_breakdown,
		   execution_time_ms = EXCLUDED.execution_time_ms,
		   status = EXCLUDED.status,
		   phase_result = EXCLUDED.phase_result,
		   from_cache = EXCLUDED.from_cache,
		   error_code = EXCLUDED.error_code,
		   error_message = EXCLUDED.error_message`,
		report.CorrelationID,
		report.UserID,
		report.TotalCost,
		breakdown,
		report.ExecutionTime.Milliseconds(),
		report.Timestamp,
		report.Metrics.TokensUsed,
		report.Metrics.ToolCallsCount,
		report.Metrics.LLMCallsCount,
		report.Metrics.RecursionDepth,
		report.IntentSignature,
		string(report.Status),
		string(report.PhaseResult),
		report.FromCache,
		report.ErrorCode,
		report.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("save billing report: %w", err)
	}
	return nil
}

func scanBillingReport(scan func(...any) error) (models.BillingReport, error) {
	var r models.BillingReport
	var breakdown []byte
	var execMS int64
	var status, phaseResult string
	if err := scan(
		&r.CorrelationID, &r.UserID, &r.TotalCost, &breakdown, &execMS, &r.Timestamp,
		&r.Metrics.TokensUsed, &r.Metrics.ToolCallsCount, &r.Metrics.LLMCallsCount, &r.Metrics.RecursionDepth,
		&r.IntentSignature, &status, &phaseResult, &r.FromCache, &r.ErrorCode, &r.ErrorMessage,
	); err != nil {
		return r, err
	}
	r.ExecutionTime = time.Duration(execMS) * time.Millisecond
	r.Status = models.ExecutionStatus(status)
	r.PhaseResult = models.PhaseResult(phaseResult)
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &r.CostBreakdown); err != nil {
			return r, fmt.Errorf("unmarshal cost breakdown: %w", err)
		}
	}
	return r, nil
}

const billingReportColumns = `correlation_id, user_id, total_cost, cost_breakdown, execution_time_ms, timestamp,
	tokens_used, tool_calls_count, llm_calls_count, recursion_depth,
	intent_signature, status, phase_result, from_cache, error_code, error_message`

func (s *cockroachBillingStore) GetReport(ctx context.Context, correlationID string) (*models.BillingReport, error) {
	if correlationID == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+billingReportColumns+` FROM agent_execution_metadata WHERE correlation_id = $1`, correlationID)
	report, err := scanBillingReport(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get billing report: %w", err)
	}
	return &report, nil
}

func (s *cockroachBillingStore) UserReports(ctx context.Context, userID string, from, to time.Time) ([]models.BillingReport, error) {
	query := `SELECT ` + billingReportColumns + ` FROM agent_execution_metadata WHERE user_id = $1`
	args := []any{userID}
	if !from.IsZero() {
		args = append(args, from)
		query += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		query += fmt.Sprintf(" AND timestamp <= $%d", len(args))
	}
	query += " ORDER BY timestamp DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list billing reports: %w", err)
	}
	defer rows.Close()

	var reports []models.BillingReport
	for rows.Next() {
		report, err := scanBillingReport(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan billing report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list billing reports: %w", err)
	}
	return reports, nil
}

func (s *cockroachBillingStore) UserStats(ctx context.Context, userID string, from, to time.Time) (models.UserCostStats, error) {
	query := `SELECT count(*), COALESCE(sum(total_cost),0), COALESCE(sum(tokens_used),0)
	          FROM agent_execution_metadata WHERE user_id = $1`
	args := []any{userID}
	if !from.IsZero() {
		args = append(args, from)
		query += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		query += fmt.Sprintf(" AND timestamp <= $%d", len(args))
	}

	stats := models.UserCostStats{UserID: userID, From: from, To: to}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&stats.RequestCount, &stats.TotalCost, &stats.TotalTokens); err != nil {
		return stats, fmt.Errorf("user billing stats: %w", err)
	}
	if stats.RequestCount > 0 {
		stats.AverageCost = stats.TotalCost / float64(stats.RequestCount)
		stats.AverageTokens = float64(stats.TotalTokens) / float64(stats.RequestCount)
	}
	return stats, nil
}

// --- agent_result_cache mirror ---

type cockroachCacheMirror struct {
	db *sql.DB
}

func (s *cockroachCacheMirror) MirrorWrite(ctx context.Context, entry models.CacheEntry) error {
	responseBytes, err := json.Marshal(entry.Response)
	if err != nil {
		return fmt.Errorf("marshal cached response: %w", err)
	}
	err = execWithRetry(ctx, s.db,
		`INSERT INTO agent_result_cache (signature, user_id, response, created_at, expires_at, hit_count, last_accessed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (signature, user_id) DO UPDATE SET
		   response = EXCLUDED.response,
		   expires_at = EXCLUDED.expires_at,
		   hit_count = EXCLUDED.hit_count,
		   last_accessed_at = EXCLUDED.last_accessed_at`,
		entry.Signature, entry.UserID, responseBytes, entry.CreatedAt, entry.ExpiresAt, entry.HitCount, entry.LastAccessedAt)
	if err != nil {
		return fmt.Errorf("mirror cache write: %w", err)
	}
	return nil
}

func (s *cockroachCacheMirror) MirrorDelete(ctx context.Context, signature, userID string) error {
	err := execWithRetry(ctx, s.db,
		`DELETE FROM agent_result_cache WHERE signature = $1 AND user_id = $2`, signature, userID)
	if err != nil {
		return fmt.Errorf("mirror cache delete: %w", err)
	}
	return nil
}

func (s *cockroachCacheMirror) LoadAll(ctx context.Context) ([]models.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT signature, user_id, response, created_at, expires_at, hit_count, last_accessed_at FROM agent_result_cache`)
	if err != nil {
		return nil, fmt.Errorf("load cache mirror: %w", err)
	}
	defer rows.Close()

	var entries []models.CacheEntry
	for rows.Next() {
		var e models.CacheEntry
		var responseBytes []byte
		if err := rows.Scan(&e.Signature, &e.UserID, &responseBytes, &e.CreatedAt, &e.ExpiresAt, &e.HitCount, &e.LastAccessedAt); err != nil {
			return nil, fmt.Errorf("scan cache mirror row: %w", err)
		}
		if len(responseBytes) > 0 {
			if err := json.Unmarshal(responseBytes, &e.Response); err != nil {
				return nil, fmt.Errorf("unmarshal cached response: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- agent_audit_logs mirror ---

type cockroachAuditMirror struct {
	db *sql.DB
}

func (s *cockroachAuditMirror) MirrorWrite(ctx context.Context, event models.AuditEvent) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	err = execWithRetry(ctx, s.db,
		`INSERT INTO agent_audit_logs (id, correlation_id, user_id, timestamp, phase, event, details)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (id) DO NOTHING`,
		event.ID, event.CorrelationID, event.UserID, event.Timestamp, string(event.Phase), event.Event, details)
	if err != nil {
		return fmt.Errorf("mirror audit write: %w", err)
	}
	return nil
}

func (s *cockroachAuditMirror) LoadTrail(ctx context.Context, correlationID string) ([]models.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, correlation_id, user_id, timestamp, phase, event, details
		 FROM agent_audit_logs WHERE correlation_id = $1 ORDER BY timestamp ASC`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("load audit trail: %w", err)
	}
	defer rows.Close()

	var events []models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		var phase string
		var details []byte
		if err := rows.Scan(&e.ID, &e.CorrelationID, &e.UserID, &e.Timestamp, &phase, &e.Event, &details); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Phase = models.AuditPhase(phase)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshal audit details: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- agent_rate_limits mirror ---

type cockroachRateLimitMirror struct {
	db *sql.DB
}

func (s *cockroachRateLimitMirror) MirrorWrite(ctx context.Context, state models.RateLimitState) error {
	err := execWithRetry(ctx, s.db,
		`INSERT INTO agent_rate_limits (user_id, minute_count, minute_window_start, hour_count, hour_window_start, last_updated)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (user_id) DO UPDATE SET
		   minute_count = EXCLUDED.minute_count,
		   minute_window_start = EXCLUDED.minute_window_start,
		   hour_count = EXCLUDED.hour_count,
		   hour_window_start = EXCLUDED.hour_window_start,
		   last_updated = EXCLUDED.last_updated`,
		state.UserID,
		state.MinuteCounter.Count, state.MinuteCounter.WindowStart,
		state.HourCounter.Count, state.HourCounter.WindowStart,
		state.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("mirror rate limit write: %w", err)
	}
	return nil
}

func (s *cockroachRateLimitMirror) LoadAll(ctx context.Context) ([]models.RateLimitState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, minute_count, minute_window_start, hour_count, hour_window_start, last_updated FROM agent_rate_limits`)
	if err != nil {
		return nil, fmt.Errorf("load rate limit mirror: %w", err)
	}
	defer rows.Close()

	var states []models.RateLimitState
	for rows.Next() {
		var st models.RateLimitState
		if err := rows.Scan(&st.UserID, &st.MinuteCounter.Count, &st.MinuteCounter.WindowStart,
			&st.HourCounter.Count, &st.HourCounter.WindowStart, &st.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan rate limit row: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

