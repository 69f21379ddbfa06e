package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
	"github.com/nobodyz328/MyWeb-sub005/internal/core/port"
	"github.com/nobodyz328/MyWeb-sub005/internal/infra/logger"
	"github.com/nobodyz328/MyWeb-sub005/internal/repository"
)

const tracerName = "github.com/nobodyz328/MyWeb-sub005/internal/usecase"

// ErrInvalidArgument signals caller misuse such as an empty session or user id.
var ErrInvalidArgument = errors.New("invalid argument")

// SessionManager owns the session lifecycle: creation with single-session
// enforcement, lazy inactivity and absolute expiry, termination and statistics.
type SessionManager struct {
	store   port.SessionStore
	cache   port.StatisticsCache
	audit   port.AuditSink
	metrics port.SecurityMetrics
	policy  SessionPolicy
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
	eventID func() string
}

// NewSessionManager constructs a SessionManager. cache and audit may be nil.
func NewSessionManager(store port.SessionStore, cache port.StatisticsCache, audit port.AuditSink, policy SessionPolicy, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		store:   store,
		cache:   cache,
		audit:   audit,
		policy:  policy.normalized(),
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
		now:     func() time.Time { return time.Now().UTC() },
		eventID: uuid.NewString,
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (m *SessionManager) WithClock(clock func() time.Time) *SessionManager {
	if clock != nil {
		m.now = clock
	}
	return m
}

// WithMetrics attaches a metrics recorder.
func (m *SessionManager) WithMetrics(metrics port.SecurityMetrics) *SessionManager {
	m.metrics = metrics
	return m
}

// Policy returns the effective session policy.
func (m *SessionManager) Policy() SessionPolicy {
	return m.policy
}

// CreateSession opens a session for user, superseding whatever session the user
// currently holds. Store failures are returned as infrastructure errors.
func (m *SessionManager) CreateSession(ctx context.Context, user domain.User, sessionID, ip, userAgent, accessToken, refreshToken string) (*domain.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if !user.Validate() {
		return nil, fmt.Errorf("%w: user id and username are required", ErrInvalidArgument)
	}
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	}

	ctx, span := m.tracer.Start(ctx, "SessionManager.CreateSession", trace.WithAttributes(
		attribute.String("session.user_id", user.ID),
	))
	defer span.End()

	now := m.now()
	client := domain.ClassifyUserAgent(userAgent)
	session := domain.Session{
		SessionID:        sessionID,
		UserID:           strings.TrimSpace(user.ID),
		Username:         strings.TrimSpace(user.Username),
		Role:             domain.NormalizeRole(user.Role),
		IPAddress:        strings.TrimSpace(ip),
		UserAgent:        userAgent,
		DeviceType:       client.DeviceType,
		BrowserType:      client.BrowserType,
		OSType:           client.OSType,
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		LoginTime:        now,
		LastActivityTime: now,
		ExpirationTime:   now.Add(m.policy.AbsoluteLifetime),
		Active:           true,
	}

	previous, err := m.store.Replace(ctx, session, m.policy.AbsoluteLifetime)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist session")
		m.emitLogin(ctx, domain.LoginEvent{
			EventID:    m.eventID(),
			UserID:     session.UserID,
			Username:   session.Username,
			SessionID:  session.SessionID,
			IPAddress:  session.IPAddress,
			UserAgent:  session.UserAgent,
			Result:     domain.LoginResultFailure,
			OccurredAt: now,
			Metadata:   map[string]any{"error": "session store unavailable"},
		})
		return nil, fmt.Errorf("persist session: %w", err)
	}

	if previous != nil {
		span.AddEvent("session.superseded")
		m.logger.Info("session superseded by new login",
			zap.String("user_id", session.UserID),
			zap.String("previous_session", logger.MaskString(previous.SessionID)),
		)
		m.recordTermination(ctx, *previous, domain.TerminationReasonSuperseded, map[string]any{
			"superseded_by": logger.MaskString(session.SessionID),
		})
	}

	m.emitLogin(ctx, domain.LoginEvent{
		EventID:    m.eventID(),
		UserID:     session.UserID,
		Username:   session.Username,
		SessionID:  session.SessionID,
		IPAddress:  session.IPAddress,
		UserAgent:  session.UserAgent,
		Result:     domain.LoginResultSuccess,
		OccurredAt: now,
		Metadata: map[string]any{
			"device_type":  session.DeviceType,
			"browser_type": session.BrowserType,
			"os_type":      session.OSType,
		},
	})
	if m.metrics != nil {
		m.metrics.ObserveSessionCreated()
	}

	return &session, nil
}

// GetSession returns the session when it exists and is still valid. Expired or idle
// sessions are evicted on read. A store failure is logged and reported as absent.
func (m *SessionManager) GetSession(ctx context.Context, sessionID string) (*domain.Session, bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, false, fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	}

	ctx, span := m.tracer.Start(ctx, "SessionManager.GetSession")
	defer span.End()

	session, found := m.load(ctx, sessionID)
	span.SetAttributes(attribute.Bool("session.found", found))
	return session, found, nil
}

// UpdateSessionActivity refreshes the activity timestamp of a valid session. The
// record TTL is reset to the remaining absolute lifetime, never extended past it.
func (m *SessionManager) UpdateSessionActivity(ctx context.Context, sessionID, ip string) (bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return false, fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	}

	ctx, span := m.tracer.Start(ctx, "SessionManager.UpdateSessionActivity")
	defer span.End()

	session, found := m.load(ctx, sessionID)
	if !found {
		return false, nil
	}

	now := m.now()
	previousIP := session.IPAddress
	ipChanged := session.Touch(now, strings.TrimSpace(ip))

	ttl := session.RemainingLifetime(now)
	if ttl <= 0 {
		m.evict(ctx, *session, domain.TerminationReasonExpired)
		return false, nil
	}

	if err := m.store.Update(ctx, *session, ttl); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			span.RecordError(err)
			m.logger.Warn("session activity update failed, treating session as absent",
				zap.String("session", logger.MaskString(sessionID)),
				zap.Error(err),
			)
		}
		return false, nil
	}

	if ipChanged && previousIP != "" {
		m.emitSecurity(ctx, domain.SecurityEvent{
			EventID:    m.eventID(),
			Category:   domain.SecurityCategorySessionIPChanged,
			Severity:   domain.SeverityWarning,
			Principal:  session.Username,
			Identifier: session.IPAddress,
			Message:    "session used from a new IP address",
			OccurredAt: now,
			Metadata: map[string]any{
				"user_id":     session.UserID,
				"session_id":  session.SessionID,
				"previous_ip": previousIP,
			},
		})
	}

	return true, nil
}

// TerminateSession ends a valid session. It returns false when the session is
// already absent, so repeated calls are harmless.
func (m *SessionManager) TerminateSession(ctx context.Context, sessionID string, reason domain.TerminationReason) (bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return false, fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	}
	if reason == "" {
		reason = domain.TerminationReasonUserLogout
	}

	ctx, span := m.tracer.Start(ctx, "SessionManager.TerminateSession", trace.WithAttributes(
		attribute.String("session.reason", string(reason)),
	))
	defer span.End()

	session, found := m.load(ctx, sessionID)
	if !found {
		return false, nil
	}

	removed, err := m.store.Delete(ctx, *session)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete session")
		return false, fmt.Errorf("delete session: %w", err)
	}
	if !removed {
		// A concurrent terminate or eviction won the race and already audited it.
		return false, nil
	}

	m.logger.Info("session terminated",
		zap.String("user_id", session.UserID),
		zap.String("session", logger.MaskString(sessionID)),
		zap.String("reason", string(reason)),
	)
	m.recordTermination(ctx, *session, reason, nil)

	return true, nil
}

// GetUserActiveSession resolves the user's current session pointer and applies the
// same validity checks as GetSession.
func (m *SessionManager) GetUserActiveSession(ctx context.Context, userID string) (*domain.Session, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, false, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}

	ctx, span := m.tracer.Start(ctx, "SessionManager.GetUserActiveSession")
	defer span.End()

	sessionID, err := m.store.CurrentSessionID(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			span.RecordError(err)
			m.logger.Warn("session pointer lookup failed, treating user as signed out",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
		return nil, false, nil
	}

	session, found := m.load(ctx, sessionID)
	if !found || session.UserID != userID {
		return nil, false, nil
	}
	return session, true, nil
}

// GetSessionStatistics returns the cached snapshot or rebuilds it by scanning the
// active-session index.
func (m *SessionManager) GetSessionStatistics(ctx context.Context) (*domain.SessionStatistics, error) {
	ctx, span := m.tracer.Start(ctx, "SessionManager.GetSessionStatistics")
	defer span.End()

	if m.cache != nil {
		cached, err := m.cache.LoadStatistics(ctx)
		if err == nil {
			span.SetAttributes(attribute.Bool("statistics.cached", true))
			return cached, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			m.logger.Warn("load cached session statistics", zap.Error(err))
		}
	}

	ids, err := m.store.ActiveSessionIDs(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list active sessions: %w", err)
	}

	sessions, missing, err := m.store.GetMany(ctx, ids)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load active sessions: %w", err)
	}

	now := m.now()
	live := make([]domain.Session, 0, len(sessions))
	for _, session := range sessions {
		if reason := session.InvalidReason(now, m.policy.InactivityTimeout); reason != "" {
			m.evict(ctx, session, reason)
			continue
		}
		live = append(live, session)
	}

	if unreadable := len(ids) - len(sessions) - len(missing); unreadable > 0 {
		m.logger.Warn("skipping unreadable session records", zap.Int("count", unreadable))
	}

	// Index entries whose records already expired through the store TTL.
	if len(missing) > 0 {
		if err := m.store.ForgetActive(ctx, missing...); err != nil {
			m.logger.Warn("prune active session index", zap.Int("stale", len(missing)), zap.Error(err))
		}
	}

	stats := aggregateStatistics(live, m.policy.RecentIPLimit, now)
	span.SetAttributes(attribute.Int("statistics.active_sessions", stats.ActiveSessions))

	if m.cache != nil {
		if err := m.cache.SaveStatistics(ctx, stats, m.policy.StatisticsTTL); err != nil {
			m.logger.Warn("cache session statistics", zap.Error(err))
		}
	}

	return &stats, nil
}

// load fetches a session and applies the validity rules. Invalid sessions are evicted.
func (m *SessionManager) load(ctx context.Context, sessionID string) (*domain.Session, bool) {
	session, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			m.logger.Warn("session lookup failed, treating session as absent",
				zap.String("session", logger.MaskString(sessionID)),
				zap.Error(err),
			)
		}
		return nil, false
	}

	if reason := session.InvalidReason(m.now(), m.policy.InactivityTimeout); reason != "" {
		m.evict(ctx, *session, reason)
		return nil, false
	}

	return session, true
}

// evict removes an invalid session. Only the caller that actually deleted the record
// emits the audit event.
func (m *SessionManager) evict(ctx context.Context, session domain.Session, reason domain.TerminationReason) {
	removed, err := m.store.Delete(ctx, session)
	if err != nil {
		m.logger.Warn("evict session",
			zap.String("session", logger.MaskString(session.SessionID)),
			zap.String("reason", string(reason)),
			zap.Error(err),
		)
		return
	}
	if !removed {
		return
	}

	m.logger.Debug("session evicted",
		zap.String("session", logger.MaskString(session.SessionID)),
		zap.String("reason", string(reason)),
	)
	m.recordTermination(ctx, session, reason, nil)
}

func (m *SessionManager) recordTermination(ctx context.Context, session domain.Session, reason domain.TerminationReason, metadata map[string]any) {
	m.emitLogout(ctx, domain.LogoutEvent{
		EventID:    m.eventID(),
		UserID:     session.UserID,
		Username:   session.Username,
		SessionID:  session.SessionID,
		IPAddress:  session.IPAddress,
		Reason:     reason,
		OccurredAt: m.now(),
		Metadata:   metadata,
	})
	if m.metrics != nil {
		m.metrics.ObserveSessionTerminated(reason)
	}
}

func (m *SessionManager) emitLogin(ctx context.Context, event domain.LoginEvent) {
	if m.audit == nil {
		return
	}
	if err := m.audit.LogUserLogin(ctx, event); err != nil {
		m.logger.Warn("audit login event dropped", zap.String("user_id", event.UserID), zap.Error(err))
	}
}

func (m *SessionManager) emitLogout(ctx context.Context, event domain.LogoutEvent) {
	if m.audit == nil {
		return
	}
	if err := m.audit.LogUserLogout(ctx, event); err != nil {
		m.logger.Warn("audit logout event dropped",
			zap.String("user_id", event.UserID),
			zap.String("reason", string(event.Reason)),
			zap.Error(err),
		)
	}
}

func (m *SessionManager) emitSecurity(ctx context.Context, event domain.SecurityEvent) {
	if m.audit == nil {
		return
	}
	if err := m.audit.LogSecurityEvent(ctx, event); err != nil {
		m.logger.Warn("audit security event dropped", zap.String("category", string(event.Category)), zap.Error(err))
	}
}

func aggregateStatistics(sessions []domain.Session, recentIPLimit int, now time.Time) domain.SessionStatistics {
	stats := domain.SessionStatistics{
		ActiveSessions:    len(sessions),
		SessionsByRole:    make(map[string]int),
		SessionsByDevice:  make(map[string]int),
		SessionsByBrowser: make(map[string]int),
		SessionsByOS:      make(map[string]int),
		RecentActiveIPs:   []string{},
		GeneratedAt:       now,
	}

	users := make(map[string]struct{}, len(sessions))
	for _, session := range sessions {
		users[session.UserID] = struct{}{}
		stats.SessionsByRole[orUnknown(session.Role)]++
		stats.SessionsByDevice[orUnknown(session.DeviceType)]++
		stats.SessionsByBrowser[orUnknown(session.BrowserType)]++
		stats.SessionsByOS[orUnknown(session.OSType)]++
	}
	stats.OnlineUsers = len(users)

	ordered := make([]domain.Session, len(sessions))
	copy(ordered, sessions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].LastActivityTime.After(ordered[j].LastActivityTime)
	})

	seen := make(map[string]struct{}, recentIPLimit)
	for _, session := range ordered {
		if len(stats.RecentActiveIPs) >= recentIPLimit {
			break
		}
		if session.IPAddress == "" {
			continue
		}
		if _, dup := seen[session.IPAddress]; dup {
			continue
		}
		seen[session.IPAddress] = struct{}{}
		stats.RecentActiveIPs = append(stats.RecentActiveIPs, session.IPAddress)
	}

	return stats
}

func orUnknown(value string) string {
	if strings.TrimSpace(value) == "" {
		return domain.Unknown
	}
	return value
}
