package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
	"github.com/nobodyz328/MyWeb-sub005/internal/core/port"
)

const auditLogTable = "blog.audit_logs"

const (
	auditTypeSecurity = "SECURITY"
	auditTypeLogin    = "LOGIN"
	auditTypeLogout   = "LOGOUT"
)

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AuditLogRepository appends audit events to PostgreSQL. Querying and export
// live in the compliance tooling, not here.
type AuditLogRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAuditLogRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewAuditLogRepository(exec pgExecutor) *AuditLogRepository {
	return &AuditLogRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

type auditRow struct {
	ID         string
	EventType  string
	Category   *string
	Severity   *string
	Principal  *string
	UserID     *string
	SessionID  *string
	IPAddress  *string
	UserAgent  *string
	Endpoint   *string
	Outcome    *string
	Message    *string
	Metadata   map[string]any
	OccurredAt time.Time
}

// LogSecurityEvent persists a security event row.
func (r *AuditLogRepository) LogSecurityEvent(ctx context.Context, event domain.SecurityEvent) error {
	row := auditRow{
		ID:         event.EventID,
		EventType:  auditTypeSecurity,
		Category:   nullableString(string(event.Category)),
		Severity:   nullableString(string(event.Severity)),
		Principal:  nullableString(event.Principal),
		IPAddress:  nullableString(event.Identifier),
		Endpoint:   nullableString(event.Endpoint),
		Message:    nullableString(event.Message),
		Metadata:   event.Metadata,
		OccurredAt: event.OccurredAt,
	}
	return r.insert(ctx, row)
}

// LogUserLogin persists a login row.
func (r *AuditLogRepository) LogUserLogin(ctx context.Context, event domain.LoginEvent) error {
	row := auditRow{
		ID:         event.EventID,
		EventType:  auditTypeLogin,
		Principal:  nullableString(event.Username),
		UserID:     nullableString(event.UserID),
		SessionID:  nullableString(event.SessionID),
		IPAddress:  nullableString(event.IPAddress),
		UserAgent:  nullableString(event.UserAgent),
		Outcome:    nullableString(string(event.Result)),
		Metadata:   event.Metadata,
		OccurredAt: event.OccurredAt,
	}
	return r.insert(ctx, row)
}

// LogUserLogout persists a logout or termination row.
func (r *AuditLogRepository) LogUserLogout(ctx context.Context, event domain.LogoutEvent) error {
	row := auditRow{
		ID:         event.EventID,
		EventType:  auditTypeLogout,
		Principal:  nullableString(event.Username),
		UserID:     nullableString(event.UserID),
		SessionID:  nullableString(event.SessionID),
		IPAddress:  nullableString(event.IPAddress),
		Outcome:    nullableString(string(event.Reason)),
		Metadata:   event.Metadata,
		OccurredAt: event.OccurredAt,
	}
	return r.insert(ctx, row)
}

func (r *AuditLogRepository) insert(ctx context.Context, row auditRow) error {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.OccurredAt.IsZero() {
		row.OccurredAt = time.Now().UTC()
	}

	var metadata []byte
	if len(row.Metadata) > 0 {
		encoded, err := json.Marshal(row.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		metadata = encoded
	}

	stmt, args, err := r.builder.Insert(auditLogTable).
		Columns(
			"id",
			"event_type",
			"category",
			"severity",
			"principal",
			"user_id",
			"session_id",
			"ip_address",
			"user_agent",
			"endpoint",
			"outcome",
			"message",
			"metadata",
			"occurred_at",
		).
		Values(
			row.ID,
			row.EventType,
			row.Category,
			row.Severity,
			row.Principal,
			row.UserID,
			row.SessionID,
			row.IPAddress,
			row.UserAgent,
			row.Endpoint,
			row.Outcome,
			row.Message,
			metadata,
			row.OccurredAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert audit log sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}

	return nil
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	v := value
	return &v
}

var _ port.AuditSink = (*AuditLogRepository)(nil)
