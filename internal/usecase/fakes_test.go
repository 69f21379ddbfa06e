package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
)

func newTestRedis(t *testing.T) (*red.Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := red.NewClient(&red.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	return client, server
}

type recordingAudit struct {
	mu       sync.Mutex
	security []domain.SecurityEvent
	logins   []domain.LoginEvent
	logouts  []domain.LogoutEvent
	err      error
}

func (a *recordingAudit) LogSecurityEvent(_ context.Context, event domain.SecurityEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.security = append(a.security, event)
	return a.err
}

func (a *recordingAudit) LogUserLogin(_ context.Context, event domain.LoginEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logins = append(a.logins, event)
	return a.err
}

func (a *recordingAudit) LogUserLogout(_ context.Context, event domain.LogoutEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logouts = append(a.logouts, event)
	return a.err
}

func (a *recordingAudit) securityEvents(category domain.SecurityCategory) []domain.SecurityEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.SecurityEvent
	for _, event := range a.security {
		if event.Category == category {
			out = append(out, event)
		}
	}
	return out
}

func (a *recordingAudit) logoutsWithReason(reason domain.TerminationReason) []domain.LogoutEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.LogoutEvent
	for _, event := range a.logouts {
		if event.Reason == reason {
			out = append(out, event)
		}
	}
	return out
}

func (a *recordingAudit) total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.security) + len(a.logins) + len(a.logouts)
}

type recordingMetrics struct {
	mu           sync.Mutex
	decisions    map[string]int
	created      int
	terminations map[domain.TerminationReason]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		decisions:    make(map[string]int),
		terminations: make(map[domain.TerminationReason]int),
	}
}

func (m *recordingMetrics) ObserveRateLimitDecision(_ string, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions[outcome]++
}

func (m *recordingMetrics) ObserveSessionCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
}

func (m *recordingMetrics) ObserveSessionTerminated(reason domain.TerminationReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminations[reason]++
}

var errStoreDown = errors.New("connection refused")

type failingRateLimitStore struct {
	hits int
}

func (s *failingRateLimitStore) Hit(context.Context, string, int, time.Duration) (domain.RateLimitWindow, error) {
	s.hits++
	return domain.RateLimitWindow{}, errStoreDown
}

func (s *failingRateLimitStore) AcquireAlertSlot(context.Context, string, time.Duration) (bool, error) {
	return false, errStoreDown
}

// mutableClock is a test clock that can be advanced between calls. When bound to a
// miniredis server it moves the server clock along with it.
type mutableClock struct {
	mu     sync.Mutex
	now    time.Time
	server *miniredis.Miniredis
}

func newMutableClock(start time.Time) *mutableClock {
	return &mutableClock{now: start}
}

func newServerClock(server *miniredis.Miniredis, start time.Time) *mutableClock {
	server.SetTime(start)
	return &mutableClock{now: start, server: server}
}

func (c *mutableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mutableClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	if c.server != nil {
		c.server.SetTime(c.now)
	}
}
