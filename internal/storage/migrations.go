package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// postgresSchema and sqliteSchema create the five tables every StoreSet
// implementation in this package reads and writes: agent_user_policies
// (C7), agent_execution_metadata (C14), agent_result_cache,
// agent_audit_logs, and agent_rate_limits (spec §6's persisted-state
// layout). Both dialects are kept in lockstep column-for-column so a
// deployment can switch Database.Driver between "postgres" and "sqlite"
// without touching the query layer in cockroach.go/sqlite.go.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS agent_user_policies (
		user_id TEXT PRIMARY KEY,
		tier TEXT NOT NULL DEFAULT '',
		override JSONB,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agent_execution_metadata (
		correlation_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		total_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
		cost_breakdown JSONB,
		execution_time_ms BIGINT NOT NULL DEFAULT 0,
		timestamp TIMESTAMPTZ NOT NULL,
		tokens_used INTEGER NOT NULL DEFAULT 0,
		tool_calls_count INTEGER NOT NULL DEFAULT 0,
		llm_calls_count INTEGER NOT NULL DEFAULT 0,
		recursion_depth INTEGER NOT NULL DEFAULT 0,
		intent_signature TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		phase_result TEXT NOT NULL DEFAULT '',
		from_cache BOOLEAN NOT NULL DEFAULT FALSE,
		error_code TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS agent_execution_metadata_user_ts_idx
		ON agent_execution_metadata (user_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS agent_result_cache (
		signature TEXT NOT NULL,
		user_id TEXT NOT NULL,
		response JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		hit_count INTEGER NOT NULL DEFAULT 0,
		last_accessed_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (signature, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS agent_audit_logs (
		id TEXT PRIMARY KEY,
		correlation_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		phase TEXT NOT NULL,
		event TEXT NOT NULL,
		details JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS agent_audit_logs_correlation_idx
		ON agent_audit_logs (correlation_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS agent_rate_limits (
		user_id TEXT PRIMARY KEY,
		minute_count INTEGER NOT NULL DEFAULT 0,
		minute_window_start TIMESTAMPTZ NOT NULL,
		hour_count INTEGER NOT NULL DEFAULT 0,
		hour_window_start TIMESTAMPTZ NOT NULL,
		last_updated TIMESTAMPTZ NOT NULL
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS agent_user_policies (
		user_id TEXT PRIMARY KEY,
		tier TEXT NOT NULL DEFAULT '',
		override BLOB,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agent_execution_metadata (
		correlation_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		total_cost REAL NOT NULL DEFAULT 0,
		cost_breakdown BLOB,
		execution_time_ms INTEGER NOT NULL DEFAULT 0,
		timestamp DATETIME NOT NULL,
		tokens_used INTEGER NOT NULL DEFAULT 0,
		tool_calls_count INTEGER NOT NULL DEFAULT 0,
		llm_calls_count INTEGER NOT NULL DEFAULT 0,
		recursion_depth INTEGER NOT NULL DEFAULT 0,
		intent_signature TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		phase_result TEXT NOT NULL DEFAULT '',
		from_cache BOOLEAN NOT NULL DEFAULT 0,
		error_code TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS agent_execution_metadata_user_ts_idx
		ON agent_execution_metadata (user_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS agent_result_cache (
		signature TEXT NOT NULL,
		user_id TEXT NOT NULL,
		response BLOB NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		hit_count INTEGER NOT NULL DEFAULT 0,
		last_accessed_at DATETIME NOT NULL,
		PRIMARY KEY (signature, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS agent_audit_logs (
		id TEXT PRIMARY KEY,
		correlation_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		phase TEXT NOT NULL,
		event TEXT NOT NULL,
		details BLOB
	)`,
	`CREATE INDEX IF NOT EXISTS agent_audit_logs_correlation_idx
		ON agent_audit_logs (correlation_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS agent_rate_limits (
		user_id TEXT PRIMARY KEY,
		minute_count INTEGER NOT NULL DEFAULT 0,
		minute_window_start DATETIME NOT NULL,
		hour_count INTEGER NOT NULL DEFAULT 0,
		hour_window_start DATETIME NOT NULL,
		last_updated DATETIME NOT NULL
	)`,
}

// Migrate opens driver/dsn directly (independent of any StoreSet) and
// applies the CREATE-TABLE-IF-NOT-EXISTS statements for the dialect
// named by driver ("postgres" or "sqlite"), returning the number of
// statements it executed. It is safe to run repeatedly against an
// already-migrated database.
func Migrate(ctx context.Context, driver, dsn string) (int, error) {
	var schema []string
	var sqlDriver string
	switch driver {
	case "postgres":
		schema, sqlDriver = postgresSchema, "postgres"
	case "sqlite":
		schema, sqlDriver = sqliteSchema, "sqlite"
	default:
		return 0, fmt.Errorf("migrate: unsupported driver %q (want \"postgres\" or \"sqlite\")", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return 0, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return 0, fmt.Errorf("ping database: %w", err)
	}

	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return i, fmt.Errorf("apply migration statement %d: %w", i, err)
		}
	}
	return len(schema), nil
}
