package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
)

type fakeAdmin struct {
	sessions   map[string]domain.Session
	terminated map[string]domain.TerminationReason
}

func (f *fakeAdmin) GetSession(_ context.Context, id string) (*domain.Session, bool, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, false, nil
	}
	return &s, true, nil
}

func (f *fakeAdmin) GetUserActiveSession(_ context.Context, userID string) (*domain.Session, bool, error) {
	for _, s := range f.sessions {
		if s.UserID == userID {
			return &s, true, nil
		}
	}
	return nil, false, nil
}

func (f *fakeAdmin) TerminateSession(_ context.Context, id string, reason domain.TerminationReason) (bool, error) {
	if _, ok := f.sessions[id]; !ok {
		return false, nil
	}
	delete(f.sessions, id)
	f.terminated[id] = reason
	return true, nil
}

func (f *fakeAdmin) GetSessionStatistics(context.Context) (*domain.SessionStatistics, error) {
	return &domain.SessionStatistics{ActiveSessions: len(f.sessions), OnlineUsers: len(f.sessions)}, nil
}

func runCLI(t *testing.T, admin *fakeAdmin, args ...string) (string, error) {
	t.Helper()

	closed := false
	open := func(context.Context) (sessionAdmin, func(context.Context) error, error) {
		return admin, func(context.Context) error { closed = true; return nil }, nil
	}

	cmd, closeEngine := newRootCommand(open)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := execute(cmd, closeEngine)
	if !closed {
		t.Fatalf("expected engine to be closed after command (err=%v)", err)
	}
	return out.String(), err
}

func newFakeAdmin() *fakeAdmin {
	return &fakeAdmin{
		sessions: map[string]domain.Session{
			"sess-1": {SessionID: "sess-1", UserID: "u1", Username: "alice", AccessToken: "secret", Active: true},
		},
		terminated: map[string]domain.TerminationReason{},
	}
}

func TestShowRedactsTokens(t *testing.T) {
	out, err := runCLI(t, newFakeAdmin(), "show", "sess-1")
	if err != nil {
		t.Fatalf("show returned error: %v", err)
	}
	if !strings.Contains(out, `"session_id": "sess-1"`) || strings.Contains(out, "secret") {
		t.Fatalf("unexpected output: %s", out)
	}

	if _, err := runCLI(t, newFakeAdmin(), "show", "missing"); err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestUserAndStats(t *testing.T) {
	out, err := runCLI(t, newFakeAdmin(), "user", "u1")
	if err != nil || !strings.Contains(out, `"username": "alice"`) {
		t.Fatalf("user: %v %s", err, out)
	}

	out, err = runCLI(t, newFakeAdmin(), "stats")
	if err != nil || !strings.Contains(out, `"active_sessions": 1`) {
		t.Fatalf("stats: %v %s", err, out)
	}
}

func TestRevoke(t *testing.T) {
	admin := newFakeAdmin()

	out, err := runCLI(t, admin, "revoke", "sess-1")
	if err != nil {
		t.Fatalf("revoke returned error: %v", err)
	}
	if admin.terminated["sess-1"] != domain.TerminationReasonAdminRevoke || !strings.Contains(out, "revoked (ADMIN_REVOKE)") {
		t.Fatalf("unexpected revoke result: %v %s", admin.terminated, out)
	}

	out, err = runCLI(t, admin, "revoke", "sess-1", "--reason", "timeout")
	if err != nil || !strings.Contains(out, "was not active") {
		t.Fatalf("expected idempotent revoke, got %v %s", err, out)
	}
}

func TestRevokeRejectsUnknownReason(t *testing.T) {
	admin := newFakeAdmin()

	if _, err := runCLI(t, admin, "revoke", "sess-1", "--reason", "banned"); err == nil || !strings.Contains(err.Error(), "unknown termination reason") {
		t.Fatalf("expected unknown reason error, got %v", err)
	}
	if _, ok := admin.terminated["sess-1"]; ok {
		t.Fatalf("expected session to stay active, got %v", admin.terminated)
	}
}
