package postgres

import (
	"context"
	"fmt"
)

var auditSchemaStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS blog`,
	`CREATE TABLE IF NOT EXISTS blog.audit_logs (
		id          TEXT PRIMARY KEY,
		event_type  TEXT NOT NULL,
		category    TEXT,
		severity    TEXT,
		principal   TEXT,
		user_id     TEXT,
		session_id  TEXT,
		ip_address  TEXT,
		user_agent  TEXT,
		endpoint    TEXT,
		outcome     TEXT,
		message     TEXT,
		metadata    JSONB,
		occurred_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_logs_user_occurred_idx ON blog.audit_logs (user_id, occurred_at DESC)`,
	`CREATE INDEX IF NOT EXISTS audit_logs_type_occurred_idx ON blog.audit_logs (event_type, occurred_at DESC)`,
}

// EnsureSchema creates the audit table and its lookup indexes when missing.
// Every statement is idempotent.
func (r *AuditLogRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range auditSchemaStatements {
		if _, err := r.exec.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure audit schema: %w", err)
		}
	}
	return nil
}
