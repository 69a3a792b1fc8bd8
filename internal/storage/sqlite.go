package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/agentengine/pkg/models"
)

// NewSQLiteStoresFromPath opens a pure-Go SQLite database (via
// modernc.org/sqlite, no cgo) at path and wires the same five logical
// tables NewCockroachStoresFromDSN does, as a local/dev and
// integration-test alternate to the Postgres-backed StoreSet. Callers
// owning a migrated schema elsewhere (a ":memory:" test database or a
// file provisioned by cmd/agentengine's migrate subcommand) can open it
// directly; this constructor does not create tables itself.
func NewSQLiteStoresFromPath(path string) (StoreSet, error) {
	if path == "" {
		return StoreSet{}, fmt.Errorf("sqlite path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return StoreSet{}, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows exactly one writer at a time; a single shared
	// connection avoids SQLITE_BUSY under concurrent engine requests
	// without needing WAL-mode tuning here.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return StoreSet{}, fmt.Errorf("ping sqlite database: %w", err)
	}

	return StoreSet{
		Policy:     &sqlitePolicyStore{db: db},
		Billing:    &sqliteBillingStore{db: db},
		Cache:      &sqliteCacheMirror{db: db},
		Audit:      &sqliteAuditMirror{db: db},
		RateLimits: &sqliteRateLimitMirror{db: db},
		closer:     db.Close,
	}, nil
}

// --- agent_user_policies (C7) ---

type sqlitePolicyStore struct {
	db *sql.DB
}

func (s *sqlitePolicyStore) GetUserTier(ctx context.Context, userID string) (models.UserTier, bool, error) {
	if userID == "" {
		return "", false, nil
	}
	var tier string
	err := s.db.QueryRowContext(ctx,
		`SELECT tier FROM agent_user_policies WHERE user_id = ?`, userID).Scan(&tier)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get user tier: %w", err)
	}
	return models.UserTier(tier), true, nil
}

func (s *sqlitePolicyStore) SetUserTier(ctx context.Context, userID string, tier models.UserTier) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	err := execWithRetry(ctx, s.db,
		`INSERT INTO agent_user_policies (user_id, tier, updated_at)
		 VALUES (?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET tier = excluded.tier, updated_at = excluded.updated_at`,
		userID, string(tier), time.Now())
	if err != nil {
		return fmt.Errorf("set user tier: %w", err)
	}
	return nil
}

func (s *sqlitePolicyStore) GetOverride(ctx context.Context, userID string) (*models.PolicyConstraints, bool, error) {
	if userID == "" {
		return nil, false, nil
	}
	var overrideBytes []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT override FROM agent_user_policies WHERE user_id = ? AND override IS NOT NULL`, userID).Scan(&overrideBytes)
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

func (s *sqlitePolicyStore) SetOverride(ctx context.Context, userID string, constraints models.PolicyConstraints) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	data, err := marshalConstraints(constraints)
	if err != nil {
		return fmt.Errorf("marshal policy override: %w", err)
	}
	err = execWithRetry(ctx, s.db,
		`INSERT INTO agent_user_policies (user_id, tier, override, updated_at)
		 VALUES (?, '', ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET override = excluded.override, updated_at = excluded.updated_at`,
		userID, data, time.Now())
	if err != nil {
		return fmt.Errorf("set policy override: %w", err)
	}
	return nil
}

// --- agent_execution_metadata (C14 billing reports) ---

type sqliteBillingStore struct {
	db *sql.DB
}

func (s *sqliteBillingStore) SaveReport(ctx context.Context, report models.BillingReport) error {
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
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(correlation_id) DO UPDATE SET
		   total_cost = excluded.total_cost,
		   cost_breakdown = excluded.cost_breakdown,
		   execution_time_ms = excluded.execution_time_ms,
		   status = excluded.status,
		   phase_result = excluded.phase_result,
		   from_cache = excluded.from_cache,
		   error_code = excluded.error_code,
		   error_message = excluded.error_message`,
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

func (s *sqliteBillingStore) GetReport(ctx context.Context, correlationID string) (*models.BillingReport, error) {
	if correlationID == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+billingReportColumns+` FROM agent_execution_metadata WHERE correlation_id = ?`, correlationID)
	report, err := scanBillingReport(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get billing report: %w", err)
	}
	return &report, nil
}

func (s *sqliteBillingStore) UserReports(ctx context.Context, userID string, from, to time.Time) ([]models.BillingReport, error) {
	query := `SELECT ` + billingReportColumns + ` FROM agent_execution_metadata WHERE user_id = ?`
	args := []any{userID}
	if !from.IsZero() {
		args = append(args, from)
		query += " AND timestamp >= ?"
	}
	if !to.IsZero() {
		args = append(args, to)
		query += " AND timestamp <= ?"
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

func (s *sqliteBillingStore) UserStats(ctx context.Context, userID string, from, to time.Time) (models.UserCostStats, error) {
	query := `SELECT count(*), COALESCE(sum(total_cost),0), COALESCE(sum(tokens_used),0)
	          FROM agent_execution_metadata WHERE user_id = ?`
	args := []any{userID}
	if !from.IsZero() {
		args = append(args, from)
		query += " AND timestamp >= ?"
	}
	if !to.IsZero() {
		args = append(args, to)
		query += " AND timestamp <= ?"
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

type sqliteCacheMirror struct {
	db *sql.DB
}

func (s *sqliteCacheMirror) MirrorWrite(ctx context.Context, entry models.CacheEntry) error {
	responseBytes, err := json.Marshal(entry.Response)
	if err != nil {
		return fmt.Errorf("marshal cached response: %w", err)
	}
	err = execWithRetry(ctx, s.db,
		`INSERT INTO agent_result_cache (signature, user_id, response, created_at, expires_at, hit_count, last_accessed_at)
		 VALUES (?,?,?,?,?,?,?)
		 ON CONFLICT(signature, user_id) DO UPDATE SET
		   response = excluded.response,
		   expires_at = excluded.expires_at,
		   hit_count = excluded.hit_count,
		   last_accessed_at = excluded.last_accessed_at`,
		entry.Signature, entry.UserID, responseBytes, entry.CreatedAt, entry.ExpiresAt, entry.HitCount, entry.LastAccessedAt)
	if err != nil {
		return fmt.Errorf("mirror cache write: %w", err)
	}
	return nil
}

func (s *sqliteCacheMirror) MirrorDelete(ctx context.Context, signature, userID string) error {
	err := execWithRetry(ctx, s.db,
		`DELETE FROM agent_result_cache WHERE signature = ? AND user_id = ?`, signature, userID)
	if err != nil {
		return fmt.Errorf("mirror cache delete: %w", err)
	}
	return nil
}

func (s *sqliteCacheMirror) LoadAll(ctx context.Context) ([]models.CacheEntry, error) {
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

type sqliteAuditMirror struct {
	db *sql.DB
}

func (s *sqliteAuditMirror) MirrorWrite(ctx context.Context, event models.AuditEvent) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	err = execWithRetry(ctx, s.db,
		`INSERT INTO agent_audit_logs (id, correlation_id, user_id, timestamp, phase, event, details)
		 VALUES (?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		event.ID, event.CorrelationID, event.UserID, event.Timestamp, string(event.Phase), event.Event, details)
	if err != nil {
		return fmt.Errorf("mirror audit write: %w", err)
	}
	return nil
}

func (s *sqliteAuditMirror) LoadTrail(ctx context.Context, correlationID string) ([]models.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, correlation_id, user_id, timestamp, phase, event, details
		 FROM agent_audit_logs WHERE correlation_id = ? ORDER BY timestamp ASC`, correlationID)
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

type sqliteRateLimitMirror struct {
	db *sql.DB
}

func (s *sqliteRateLimitMirror) MirrorWrite(ctx context.Context, state models.RateLimitState) error {
	err := execWithRetry(ctx, s.db,
		`INSERT INTO agent_rate_limits (user_id, minute_count, minute_window_start, hour_count, hour_window_start, last_updated)
		 VALUES (?,?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   minute_count = excluded.minute_count,
		   minute_window_start = excluded.minute_window_start,
		   hour_count = excluded.hour_count,
		   hour_window_start = excluded.hour_window_start,
		   last_updated = excluded.last_updated`,
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

func (s *sqliteRateLimitMirror) LoadAll(ctx context.Context) ([]models.RateLimitState, error) {
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
