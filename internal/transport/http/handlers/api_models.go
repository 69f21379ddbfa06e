package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
	"github.com/nobodyz328/MyWeb-sub005/internal/transport/http/middleware"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: middleware.GetTraceID(c),
	}
}

// SessionPayload is the public view of a session. Tokens are never echoed.
type SessionPayload struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	Role         string    `json:"role"`
	IPAddress    string    `json:"ip_address"`
	DeviceType   string    `json:"device_type"`
	BrowserType  string    `json:"browser_type"`
	OSType       string    `json:"os_type"`
	LoginTime    time.Time `json:"login_time"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
	IsCurrent    bool      `json:"is_current,omitempty"`
}

func newSessionPayload(session domain.Session) SessionPayload {
	return SessionPayload{
		ID:           session.SessionID,
		UserID:       session.UserID,
		Username:     session.Username,
		Role:         session.Role,
		IPAddress:    session.IPAddress,
		DeviceType:   session.DeviceType,
		BrowserType:  session.BrowserType,
		OSType:       session.OSType,
		LoginTime:    session.LoginTime.UTC(),
		LastActivity: session.LastActivityTime.UTC(),
		ExpiresAt:    session.ExpirationTime.UTC(),
	}
}

// SessionRevokeRequest carries an optional revocation reason.
type SessionRevokeRequest struct {
	Reason string `json:"reason"`
}

// SessionRevokeResponse indicates whether the session was revoked.
type SessionRevokeResponse struct {
	Revoked bool   `json:"revoked"`
	Reason  string `json:"reason"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string            `json:"status"`
	StartedAt time.Time         `json:"started_at"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}
