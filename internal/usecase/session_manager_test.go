package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
	redisrepo "github.com/nobodyz328/MyWeb-sub005/internal/repository/redis"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36"

type sessionHarness struct {
	client  *red.Client
	server  *miniredis.Miniredis
	manager *SessionManager
	store   *redisrepo.SessionStore
	audit   *recordingAudit
	metrics *recordingMetrics
	clock   *mutableClock
}

func newSessionHarness(t *testing.T) *sessionHarness {
	t.Helper()
	client, server := newTestRedis(t)
	store := redisrepo.NewSessionStore(client, "test:session")
	audit := &recordingAudit{}
	metrics := newRecordingMetrics()
	clock := newMutableClock(time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC))

	manager := NewSessionManager(store, store, audit, DefaultSessionPolicy(), zaptest.NewLogger(t)).
		WithClock(clock.Now).
		WithMetrics(metrics)

	return &sessionHarness{client: client, server: server, manager: manager, store: store, audit: audit, metrics: metrics, clock: clock}
}

func alice() domain.User {
	return domain.User{ID: "user-1", Username: "alice", Role: "ROLE_AUTHOR"}
}

func TestSessionManager_CreateSession(t *testing.T) {
	h := newSessionHarness(t)
	ctx := context.Background()

	session, err := h.manager.CreateSession(ctx, alice(), "session-1", "192.0.2.10", chromeUA, "access", "refresh")
	if err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}

	now := h.clock.Now()
	if !session.Active || !session.LoginTime.Equal(now) || !session.LastActivityTime.Equal(now) {
		t.Fatalf("unexpected session timestamps: %+v", session)
	}
	if !session.ExpirationTime.Equal(now.Add(24 * time.Hour)) {
		t.Fatalf("expected 24h absolute lifetime, got %v", session.ExpirationTime)
	}
	if session.Role != domain.RoleAuthor {
		t.Fatalf("expected normalized role AUTHOR, got %s", session.Role)
	}
	if session.DeviceType != domain.DeviceDesktop || session.BrowserType != "CHROME" || session.OSType != "WINDOWS" {
		t.Fatalf("unexpected client classification: %s/%s/%s", session.DeviceType, session.BrowserType, session.OSType)
	}

	got, found, err := h.manager.GetSession(ctx, "session-1")
	if err != nil || !found {
		t.Fatalf("expected session to be retrievable, found=%v err=%v", found, err)
	}
	if got.AccessToken != "access" || got.RefreshToken != "refresh" {
		t.Fatalf("expected tokens to round trip, got %+v", got)
	}

	if len(h.audit.logins) != 1 || h.audit.logins[0].Result != domain.LoginResultSuccess {
		t.Fatalf("expected one login success event, got %+v", h.audit.logins)
	}
	if h.metrics.created != 1 {
		t.Fatalf("expected created metric, got %d", h.metrics.created)
	}
}

func TestSessionManager_CreateSessionInvalidArguments(t *testing.T) {
	h := newSessionHarness(t)
	ctx := context.Background()

	if _, err := h.manager.CreateSession(ctx, domain.User{Username: "x"}, "s", "", "", "", ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for missing user id, got %v", err)
	}
	if _, err := h.manager.CreateSession(ctx, alice(), " ", "", "", "", ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for missing session id, got %v", err)
	}
	if _, _, err := h.manager.GetSession(ctx, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty session id, got %v", err)
	}
	if _, err := h.manager.TerminateSession(ctx, "", domain.TerminationReasonUserLogout); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty session id, got %v", err)
	}
	if _, _, err := h.manager.GetUserActiveSession(ctx, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty user id, got %v", err)
	}
}

func TestSessionManager_SecondLoginSupersedesFirst(t *testing.T) {
	h := newSessionHarness(t)
	ctx := context.Background()

	if _, err := h.manager.CreateSession(ctx, alice(), "session-1", "192.0.2.10", chromeUA, "", ""); err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}
	h.clock.Advance(time.Second)
	if _, err := h.manager.CreateSession(ctx, alice(), "session-2", "192.0.2.11", chromeUA, "", ""); err != nil {
		t.Fatalf("second CreateSession returned error: %v", err)
	}

	if _, found, _ := h.manager.GetSession(ctx, "session-1"); found {
		t.Fatalf("expected superseded session to be absent")
	}

	superseded := h.audit.logoutsWithReason(domain.TerminationReasonSuperseded)
	if len(superseded) != 1 || superseded[0].SessionID != "session-1" {
		t.Fatalf("expected one SUPERSEDED event for session-1, got %+v", superseded)
	}

	active, found, err := h.manager.GetUserActiveSession(ctx, "user-1")
	if err != nil || !found || active.SessionID != "session-2" {
		t.Fatalf("expected session-2 to be the active session, got %+v (found=%v err=%v)", active, found, err)
	}
	if h.metrics.terminations[domain.TerminationReasonSuperseded] != 1 {
		t.Fatalf("expected superseded termination metric")
	}
}

func TestSessionManager_ConcurrentLoginsLeaveOneActiveSession(t *testing.T) {
	h := newSessionHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = h.manager.CreateSession(ctx, alice(), fmt.Sprintf("session-%d", i), "192.0.2.10", chromeUA, "", "")
		}(i)
	}
	wg.Wait()

	active, found, err := h.manager.GetUserActiveSession(ctx, "user-1")
	if err != nil || !found {
		t.Fatalf("expected an active session, found=%v err=%v", found, err)
	}

	live := 0
	for i := 0; i < 8; i++ {
		if _, ok, _ := h.manager.GetSession(ctx, fmt.Sprintf("session-%d", i)); ok {
			live++
		}
	}
	if live != 1 {
		t.Fatalf("expected exactly one live session, got %d (active %s)", live, active.SessionID)
	}
}

func TestSessionManager_InactivityTimeout(t *testing.T) {
	h := newSessionHarness(t)
	ctx := context.Background()

	if _, err := h.manager.CreateSession(ctx, alice(), "session-1", "192.0.2.10", chromeUA, "", ""); err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}

	h.clock.Advance(29 * time.Minute)
	got, found, err := h.manager.GetSession(ctx, "session-1")
	if err != nil || !found {
		t.Fatalf("expected session at +29m, found=%v err=%v", found, err)
	}
	if !got.LastActivityTime.Equal(h.clock.Now().Add(-29 * time.Minute)) {
		t.Fatalf("expected reading to leave activity untouched, got %v", got.LastActivityTime)
	}

	h.clock.Advance(2 * time.Minute)
	if _, found, _ := h.manager.GetSession(ctx, "session-1"); found {
		t.Fatalf("expected session to be absent at +31m")
	}
	if _, err := h.store.Get(ctx, "session-1"); err == nil {
		t.Fatalf("expected idle session record to be evicted")
	}

	timeouts := h.audit.logoutsWithReason(domain.TerminationReasonTimeout)
	if len(timeouts) != 1 {
		t.Fatalf("expected one TIMEOUT event, got %d", len(timeouts))
	}
}

func TestSessionManager_ActivityDoesNotExtendAbsoluteLifetime(t *testing.T) {
	h := newSessionHarness(t)
	ctx := context.Background()

	created, err := h.manager.CreateSession(ctx, alice(), "session-1", "192.0.2.10", chromeUA, "", "")
	if err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}

	for elapsed := time.Duration(0); elapsed < 24*time.Hour-20*time.Minute; elapsed += 20 * time.Minute {
		h.clock.Advance(20 * time.Minute)
		ok, err := h.manager.UpdateSessionActivity(ctx, "session-1", "192.0.2.10")
		if err != nil || !ok {
			t.Fatalf("expected activity update to succeed at +%v, ok=%v err=%v", elapsed, ok, err)
		}
	}

	got, found, _ := h.manager.GetSession(ctx, "session-1")
	if !found {
		t.Fatalf("expected session before absolute expiry")
	}
	if !got.ExpirationTime.Equal(created.ExpirationTime) {
		t.Fatalf("expected expiration to stay %v, got %v", created.ExpirationTime, got.ExpirationTime)
	}

	h.clock.Advance(25 * time.Minute)
	if ok, _ := h.manager.UpdateSessionActivity(ctx, "session-1", "192.0.2.10"); ok {
		t.Fatalf("expected update after absolute expiry to fail")
	}
	if expired := h.audit.logoutsWithReason(domain.TerminationReasonExpired); len(expired) != 1 {
		t.Fatalf("expected one EXPIRED event, got %d", len(expired))
	}
}

func TestSessionManager_ActivityKeepsStoreTTLOnAbsoluteExpiry(t *testing.T) {
	h := newSessionHarness(t)
	ctx := context.Background()

	if _, err := h.manager.CreateSession(ctx, alice(), "session-1", "192.0.2.10", chromeUA, "", ""); err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}

	elapsed := 3 * time.Hour
	h.clock.Advance(elapsed)
	h.server.FastForward(elapsed)
	if ok, err := h.manager.UpdateSessionActivity(ctx, "session-1", "192.0.2.10"); err != nil || !ok {
		t.Fatalf("expected activity update to succeed, ok=%v err=%v", ok, err)
	}

	want := 24*time.Hour - elapsed
	for _, key := range []string{"test:session:id:session-1", "test:session:user:user-1"} {
		if ttl := h.server.TTL(key); ttl <= want-time.Second || ttl > want {
			t.Fatalf("expected %s ttl close to %v, got %v", key, want, ttl)
		}
	}
}

func TestSessionManager_UpdateSessionActivity(t *testing.T) {
	h := newSessionHarness(t)
	ctx := context.Background()

	if ok, err := h.manager.UpdateSessionActivity(ctx, "missing", ""); err != nil || ok {
		t.Fatalf("expected false for missing session, ok=%v err=%v", ok, err)
	}

	if _, err := h.manager.CreateSession(ctx, alice(), "session-1", "192.0.2.10", chromeUA, "", ""); err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}

	h.clock.Advance(25 * time.Minute)
	ok, err := h.manager.UpdateSessionActivity(ctx, "session-1", "192.0.2.10")
	if err != nil || !ok {
		t.Fatalf("expected activity update, ok=%v err=%v", ok, err)
	}

	// Activity at +25m pushes the inactivity deadline to +55m.
	h.clock.Advance(25 * time.Minute)
	if _, found, _ := h.manager.GetSession(ctx, "session-1"); !found {
		t.Fatalf("expected refreshed session to still be valid")
	}
	if len(h.audit.securityEvents(domain.SecurityCategorySessionIPChanged)) != 0 {
		t.Fatalf("expected no IP change event for the same address")
	}
}

func TestSessionManager_IPChangeEmitsSecurityEvent(t *testing.T) {
	h := newSessionHarness(t)
	ctx := context.Background()

	if _, err := h.manager.CreateSession(ctx, alice(), "session-1", "192.0.2.10", chromeUA, "", ""); err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}

	ok, err := h.manager.UpdateSessionActivity(ctx, "session-1", "198.51.100.7")
	if err != nil || !ok {
		t.Fatalf("expected activity update, ok=%v err=%v", ok, err)
	}

	events := h.audit.securityEvents(domain.SecurityCategorySessionIPChanged)
	if len(events) != 1 {
		t.Fatalf("expected one IP change event, got %d", len(events))
	}
	if events[0].Metadata["previous_ip"] != "192.0.2.10" || events[0].Identifier != "198.51.100.7" {
		t.Fatalf("unexpected IP change event: %+v", events[0])
	}

	got, _, _ := h.manager.GetSession(ctx, "session-1")
	if got.IPAddress != "198.51.100.7" {
		t.Fatalf("expected recorded IP to follow the session, got %s", got.IPAddress)
	}
}

func TestSessionManager_TerminateSessionIsIdempotent(t *testing.T) {
	h := newSessionHarness(t)
	ctx := context.Background()

	if _, err := h.manager.CreateSession(ctx, alice(), "session-1", "192.0.2.10", chromeUA, "", ""); err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}

	terminated, err := h.manager.TerminateSession(ctx, "session-1", domain.TerminationReasonUserLogout)
	if err != nil || !terminated {
		t.Fatalf("expected termination, terminated=%v err=%v", terminated, err)
	}
	if _, found, _ := h.manager.GetSession(ctx, "session-1"); found {
		t.Fatalf("expected terminated session to be absent")
	}

	again, err := h.manager.TerminateSession(ctx, "session-1", domain.TerminationReasonUserLogout)
	if err != nil || again {
		t.Fatalf("expected second termination to be a no-op, terminated=%v err=%v", again, err)
	}

	if logouts := h.audit.logoutsWithReason(domain.TerminationReasonUserLogout); len(logouts) != 1 {
		t.Fatalf("expected exactly one USER_LOGOUT event, got %d", len(logouts))
	}
	if _, found, _ := h.manager.GetUserActiveSession(ctx, "user-1"); found {
		t.Fatalf("expected user pointer to be cleared")
	}
}

func TestSessionManager_TerminateWithEmptyReasonDefaultsToLogout(t *testing.T) {
	h := newSessionHarness(t)
	ctx := context.Background()

	if _, err := h.manager.CreateSession(ctx, alice(), "session-1", "192.0.2.10", chromeUA, "", ""); err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}
	if ok, _ := h.manager.TerminateSession(ctx, "session-1", ""); !ok {
		t.Fatalf("expected termination")
	}
	if len(h.audit.logoutsWithReason(domain.TerminationReasonUserLogout)) != 1 {
		t.Fatalf("expected USER_LOGOUT reason by default")
	}
}

func TestSessionManager_GetSessionStatistics(t *testing.T) {
	h := newSessionHarness(t)
	ctx := context.Background()

	users := []struct {
		user domain.User
		id   string
		ip   string
		ua   string
	}{
		{domain.User{ID: "u-1", Username: "alice", Role: "ADMIN"}, "s-1", "192.0.2.1", chromeUA},
		{domain.User{ID: "u-2", Username: "bob", Role: "READER"}, "s-2", "192.0.2.2", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"},
		{domain.User{ID: "u-3", Username: "carol", Role: "READER"}, "s-3", "192.0.2.3", chromeUA},
	}
	for _, u := range users {
		if _, err := h.manager.CreateSession(ctx, u.user, u.id, u.ip, u.ua, "", ""); err != nil {
			t.Fatalf("CreateSession returned error: %v", err)
		}
		h.clock.Advance(time.Minute)
	}

	// carol goes idle; alice stays active.
	h.clock.Advance(20 * time.Minute)
	if ok, _ := h.manager.UpdateSessionActivity(ctx, "s-1", "192.0.2.1"); !ok {
		t.Fatalf("expected activity update for s-1")
	}
	h.clock.Advance(time.Minute)
	if ok, _ := h.manager.UpdateSessionActivity(ctx, "s-2", "192.0.2.2"); !ok {
		t.Fatalf("expected activity update for s-2")
	}
	h.clock.Advance(14 * time.Minute)

	stats, err := h.manager.GetSessionStatistics(ctx)
	if err != nil {
		t.Fatalf("GetSessionStatistics returned error: %v", err)
	}
	if stats.ActiveSessions != 2 || stats.OnlineUsers != 2 {
		t.Fatalf("expected 2 active sessions, got %+v", stats)
	}
	if stats.SessionsByRole[domain.RoleAdmin] != 1 || stats.SessionsByRole[domain.RoleReader] != 1 {
		t.Fatalf("unexpected role breakdown: %v", stats.SessionsByRole)
	}
	if stats.SessionsByDevice[domain.DeviceDesktop] != 1 || stats.SessionsByDevice[domain.DeviceMobile] != 1 {
		t.Fatalf("unexpected device breakdown: %v", stats.SessionsByDevice)
	}
	if len(stats.RecentActiveIPs) != 2 || stats.RecentActiveIPs[0] != "192.0.2.2" {
		t.Fatalf("expected most recent IP first, got %v", stats.RecentActiveIPs)
	}
	if len(h.audit.logoutsWithReason(domain.TerminationReasonTimeout)) != 1 {
		t.Fatalf("expected idle session to be evicted during the scan")
	}

	// A new login is not reflected until the cached snapshot expires.
	if _, err := h.manager.CreateSession(ctx, domain.User{ID: "u-4", Username: "dave"}, "s-4", "192.0.2.4", chromeUA, "", ""); err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}
	cached, err := h.manager.GetSessionStatistics(ctx)
	if err != nil {
		t.Fatalf("GetSessionStatistics returned error: %v", err)
	}
	if cached.ActiveSessions != 2 {
		t.Fatalf("expected cached snapshot, got %d sessions", cached.ActiveSessions)
	}
}

func TestSessionManager_StatisticsPrunesStaleIndexEntries(t *testing.T) {
	h := newSessionHarness(t)
	ctx := context.Background()

	if _, err := h.manager.CreateSession(ctx, alice(), "session-1", "192.0.2.10", chromeUA, "", ""); err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}
	// An index entry whose record already expired through the store TTL.
	if err := h.client.SAdd(ctx, "test:session:active", "stale").Err(); err != nil {
		t.Fatalf("SAdd returned error: %v", err)
	}

	stats, err := h.manager.GetSessionStatistics(ctx)
	if err != nil {
		t.Fatalf("GetSessionStatistics returned error: %v", err)
	}
	if stats.ActiveSessions != 1 {
		t.Fatalf("expected one active session, got %d", stats.ActiveSessions)
	}

	ids, err := h.store.ActiveSessionIDs(ctx)
	if err != nil {
		t.Fatalf("ActiveSessionIDs returned error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "session-1" {
		t.Fatalf("expected stale entry to be pruned, got %v", ids)
	}
}

func TestSessionManager_StatisticsKeepsUnreadableIndexEntries(t *testing.T) {
	h := newSessionHarness(t)
	ctx := context.Background()

	if err := h.server.Set("test:session:id:garbled", "{not json"); err != nil {
		t.Fatalf("seed corrupt record: %v", err)
	}
	if err := h.client.SAdd(ctx, "test:session:active", "garbled").Err(); err != nil {
		t.Fatalf("SAdd returned error: %v", err)
	}

	stats, err := h.manager.GetSessionStatistics(ctx)
	if err != nil {
		t.Fatalf("GetSessionStatistics returned error: %v", err)
	}
	if stats.ActiveSessions != 0 {
		t.Fatalf("expected unreadable record to be left out of statistics, got %d", stats.ActiveSessions)
	}

	ids, err := h.store.ActiveSessionIDs(ctx)
	if err != nil {
		t.Fatalf("ActiveSessionIDs returned error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "garbled" {
		t.Fatalf("expected unreadable entry to stay indexed, got %v", ids)
	}
}

func TestSessionManager_AuditFailureDoesNotFailLogin(t *testing.T) {
	client, _ := newTestRedis(t)
	store := redisrepo.NewSessionStore(client, "test:session")
	audit := &recordingAudit{err: errors.New("sink down")}
	manager := NewSessionManager(store, store, audit, DefaultSessionPolicy(), zaptest.NewLogger(t))

	if _, err := manager.CreateSession(context.Background(), alice(), "session-1", "192.0.2.10", chromeUA, "", ""); err != nil {
		t.Fatalf("expected audit failure to be absorbed, got %v", err)
	}
}

func TestSessionManager_StoreUnavailableFailsClosed(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := red.NewClient(&red.Options{Addr: server.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	store := redisrepo.NewSessionStore(client, "test:session")
	audit := &recordingAudit{}
	manager := NewSessionManager(store, store, audit, DefaultSessionPolicy(), zaptest.NewLogger(t))
	ctx := context.Background()

	if _, err := manager.CreateSession(ctx, alice(), "session-1", "192.0.2.10", chromeUA, "", ""); err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}

	server.Close()

	session, found, err := manager.GetSession(ctx, "session-1")
	if err != nil || found || session != nil {
		t.Fatalf("expected store failure to read as absent, found=%v err=%v", found, err)
	}
	if ok, err := manager.UpdateSessionActivity(ctx, "session-1", ""); err != nil || ok {
		t.Fatalf("expected activity update to fail closed, ok=%v err=%v", ok, err)
	}
	if _, err := manager.CreateSession(ctx, alice(), "session-2", "", "", "", ""); err == nil {
		t.Fatalf("expected CreateSession to surface the infrastructure failure")
	}
	if n := len(audit.logins); n != 2 || audit.logins[1].Result != domain.LoginResultFailure || audit.logins[1].SessionID != "session-2" {
		t.Fatalf("expected a FAILURE login event for the rejected login, got %+v", audit.logins)
	}
}
