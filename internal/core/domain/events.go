package domain

import "time"

// SecurityCategory classifies security events emitted by the engine.
type SecurityCategory string

const (
	// SecurityCategoryRateLimitExceeded marks a denied request (suspicious activity).
	SecurityCategoryRateLimitExceeded SecurityCategory = "RATE_LIMIT_EXCEEDED"
	// SecurityCategoryRateLimitAlert marks a key that crossed the alert fraction of its quota.
	SecurityCategoryRateLimitAlert SecurityCategory = "RATE_LIMIT_ALERT"
	// SecurityCategorySessionIPChanged marks a session used from a new address.
	SecurityCategorySessionIPChanged SecurityCategory = "SESSION_IP_CHANGED"
)

// Severity expresses how urgently an event should be looked at.
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
)

// LoginResult is the outcome recorded by a login audit event.
type LoginResult string

const (
	LoginResultSuccess LoginResult = "SUCCESS"
	LoginResultFailure LoginResult = "FAILURE"
)

// AnonymousPrincipal is recorded when no authenticated principal is known.
const AnonymousPrincipal = "anonymous"

// SecurityEvent represents the payload for blog.audit.security messages.
type SecurityEvent struct {
	EventID    string
	Category   SecurityCategory
	Severity   Severity
	Principal  string
	Identifier string
	Endpoint   string
	Message    string
	OccurredAt time.Time
	Metadata   map[string]any
}

// LoginEvent represents the payload for blog.audit.login messages.
type LoginEvent struct {
	EventID    string
	UserID     string
	Username   string
	SessionID  string
	IPAddress  string
	UserAgent  string
	Result     LoginResult
	OccurredAt time.Time
	Metadata   map[string]any
}

// LogoutEvent represents the payload for blog.audit.logout messages.
type LogoutEvent struct {
	EventID    string
	UserID     string
	Username   string
	SessionID  string
	IPAddress  string
	Reason     TerminationReason
	OccurredAt time.Time
	Metadata   map[string]any
}

// SessionRevokeCommand asks the engine to force-logout a session, or the active
// session of a user when SessionID is empty.
type SessionRevokeCommand struct {
	EventID     string         `json:"event_id"`
	SessionID   string         `json:"session_id,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Actor       string         `json:"actor,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SessionCreateCommand is published by the login flow once credentials are verified
// and asks the engine to open the session.
type SessionCreateCommand struct {
	EventID      string         `json:"event_id"`
	SessionID    string         `json:"session_id"`
	UserID       string         `json:"user_id"`
	Username     string         `json:"username"`
	Role         string         `json:"role,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	AccessToken  string         `json:"access_token,omitempty"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	LoggedInAt   time.Time      `json:"logged_in_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// User returns the principal the command logs in.
func (c SessionCreateCommand) User() User {
	return User{ID: c.UserID, Username: c.Username, Role: c.Role}
}
