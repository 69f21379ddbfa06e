package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
)

func strPtr(v string) *string { return &v }

func TestAuditLogRepository_LogSecurityEvent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAuditLogRepository(mock)

	occurredAt := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	event := domain.SecurityEvent{
		EventID:    "event-1",
		Category:   domain.SecurityCategoryRateLimitExceeded,
		Severity:   domain.SeverityWarning,
		Principal:  domain.AnonymousPrincipal,
		Identifier: "192.0.2.1",
		Endpoint:   "/api/v1/auth/login",
		Message:    "rate limit exceeded",
		OccurredAt: occurredAt,
		Metadata:   map[string]any{"limit": 5},
	}

	mock.ExpectExec(`INSERT INTO blog\.audit_logs`).
		WithArgs(
			"event-1",
			"SECURITY",
			strPtr(string(domain.SecurityCategoryRateLimitExceeded)),
			strPtr(string(domain.SeverityWarning)),
			strPtr(domain.AnonymousPrincipal),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			strPtr("192.0.2.1"),
			pgxmock.AnyArg(),
			strPtr("/api/v1/auth/login"),
			pgxmock.AnyArg(),
			strPtr("rate limit exceeded"),
			[]byte(`{"limit":5}`),
			occurredAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.LogSecurityEvent(context.Background(), event); err != nil {
		t.Fatalf("LogSecurityEvent returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuditLogRepository_LogUserLogin(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAuditLogRepository(mock)

	occurredAt := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	event := domain.LoginEvent{
		EventID:    "event-2",
		UserID:     "user-1",
		Username:   "alice",
		SessionID:  "session-1",
		IPAddress:  "192.0.2.10",
		UserAgent:  "Mozilla/5.0",
		Result:     domain.LoginResultSuccess,
		OccurredAt: occurredAt,
	}

	mock.ExpectExec(`INSERT INTO blog\.audit_logs`).
		WithArgs(
			"event-2",
			"LOGIN",
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			strPtr("alice"),
			strPtr("user-1"),
			strPtr("session-1"),
			strPtr("192.0.2.10"),
			strPtr("Mozilla/5.0"),
			pgxmock.AnyArg(),
			strPtr(string(domain.LoginResultSuccess)),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			occurredAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.LogUserLogin(context.Background(), event); err != nil {
		t.Fatalf("LogUserLogin returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuditLogRepository_LogUserLogout(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAuditLogRepository(mock)

	occurredAt := time.Date(2025, 10, 12, 11, 0, 0, 0, time.UTC)
	event := domain.LogoutEvent{
		EventID:    "event-3",
		UserID:     "user-1",
		Username:   "alice",
		SessionID:  "session-1",
		IPAddress:  "192.0.2.10",
		Reason:     domain.TerminationReasonSuperseded,
		OccurredAt: occurredAt,
	}

	mock.ExpectExec(`INSERT INTO blog\.audit_logs`).
		WithArgs(
			"event-3",
			"LOGOUT",
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			strPtr("alice"),
			strPtr("user-1"),
			strPtr("session-1"),
			strPtr("192.0.2.10"),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			strPtr(string(domain.TerminationReasonSuperseded)),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			occurredAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.LogUserLogout(context.Background(), event); err != nil {
		t.Fatalf("LogUserLogout returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuditLogRepository_ExecError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAuditLogRepository(mock)

	execErr := errors.New("connection refused")
	mock.ExpectExec(`INSERT INTO blog\.audit_logs`).WillReturnError(execErr)

	err = repo.LogSecurityEvent(context.Background(), domain.SecurityEvent{
		EventID:  "event-4",
		Category: domain.SecurityCategoryRateLimitAlert,
	})
	if !errors.Is(err, execErr) {
		t.Fatalf("expected wrapped exec error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
