package domain

import "time"

// TerminationReason records why a session left the ACTIVE state.
type TerminationReason string

const (
	// TerminationReasonUserLogout is an explicit logout by the session owner.
	TerminationReasonUserLogout TerminationReason = "USER_LOGOUT"
	// TerminationReasonAdminRevoke is a forced logout issued by an operator.
	TerminationReasonAdminRevoke TerminationReason = "ADMIN_REVOKE"
	// TerminationReasonTimeout is a lazily detected inactivity timeout.
	TerminationReasonTimeout TerminationReason = "TIMEOUT"
	// TerminationReasonExpired is a lazily detected absolute expiration.
	TerminationReasonExpired TerminationReason = "EXPIRED"
	// TerminationReasonSuperseded means a newer login for the same user replaced the session.
	TerminationReasonSuperseded TerminationReason = "SUPERSEDED"
)

// LookupTerminationReason normalises value and reports whether it names a known reason.
func LookupTerminationReason(value string) (TerminationReason, bool) {
	switch reason := TerminationReason(normalizeToken(value)); reason {
	case TerminationReasonUserLogout, TerminationReasonAdminRevoke, TerminationReasonTimeout,
		TerminationReasonExpired, TerminationReasonSuperseded:
		return reason, true
	default:
		return "", false
	}
}

// Session is one authenticated principal's live login.
type Session struct {
	SessionID        string    `json:"session_id"`
	UserID           string    `json:"user_id"`
	Username         string    `json:"username"`
	Role             string    `json:"role"`
	IPAddress        string    `json:"ip_address"`
	UserAgent        string    `json:"user_agent"`
	DeviceType       string    `json:"device_type"`
	BrowserType      string    `json:"browser_type"`
	OSType           string    `json:"os_type"`
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	LoginTime        time.Time `json:"login_time"`
	LastActivityTime time.Time `json:"last_activity_time"`
	ExpirationTime   time.Time `json:"expiration_time"`
	Active           bool      `json:"active"`
}

// Expired reports whether the absolute lifetime has elapsed at the supplied moment.
func (s Session) Expired(at time.Time) bool {
	return !at.Before(s.ExpirationTime)
}

// Idle reports whether the session has been inactive for at least the timeout.
func (s Session) Idle(at time.Time, inactivityTimeout time.Duration) bool {
	if inactivityTimeout <= 0 {
		return false
	}
	return at.Sub(s.LastActivityTime) >= inactivityTimeout
}

// InvalidReason returns the termination reason that applies at the supplied moment,
// or an empty reason when the session is still valid.
func (s Session) InvalidReason(at time.Time, inactivityTimeout time.Duration) TerminationReason {
	switch {
	case !s.Active:
		return TerminationReasonUserLogout
	case s.Expired(at):
		return TerminationReasonExpired
	case s.Idle(at, inactivityTimeout):
		return TerminationReasonTimeout
	default:
		return ""
	}
}

// RemainingLifetime is the time left before absolute expiration.
func (s Session) RemainingLifetime(at time.Time) time.Duration {
	remaining := s.ExpirationTime.Sub(at)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Touch refreshes the activity timestamp and, when supplied, the last seen IP address.
// It returns true when the IP address changed.
func (s *Session) Touch(at time.Time, ip string) bool {
	s.LastActivityTime = at
	if ip == "" || ip == s.IPAddress {
		return false
	}
	s.IPAddress = ip
	return true
}

// SessionStatistics is a point-in-time aggregate over the active session set.
type SessionStatistics struct {
	OnlineUsers       int            `json:"online_users"`
	ActiveSessions    int            `json:"active_sessions"`
	SessionsByRole    map[string]int `json:"sessions_by_role"`
	SessionsByDevice  map[string]int `json:"sessions_by_device"`
	SessionsByBrowser map[string]int `json:"sessions_by_browser"`
	SessionsByOS      map[string]int `json:"sessions_by_os"`
	RecentActiveIPs   []string       `json:"recent_active_ips"`
	GeneratedAt       time.Time      `json:"generated_at"`
}
