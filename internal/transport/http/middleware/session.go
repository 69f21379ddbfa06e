package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
	appLogger "github.com/nobodyz328/MyWeb-sub005/internal/infra/logger"
)

// SessionHeader carries the session identifier for non-browser clients.
const SessionHeader = "X-Session-ID"

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{Error: errorMsg, TraceID: GetTraceID(c)}
}

// SessionValidator is the part of usecase.SessionManager the middleware needs.
type SessionValidator interface {
	GetSession(ctx context.Context, sessionID string) (*domain.Session, bool, error)
	UpdateSessionActivity(ctx context.Context, sessionID, ip string) (bool, error)
}

// SessionAuth resolves the caller's session from the X-Session-ID header or the session cookie.
type SessionAuth struct {
	sessions   SessionValidator
	cookieName string
	logger     *zap.Logger
}

// NewSessionAuth builds the session middleware helper.
func NewSessionAuth(sessions SessionValidator, cookieName string, logger *zap.Logger) *SessionAuth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionAuth{sessions: sessions, cookieName: cookieName, logger: logger}
}

// SessionID extracts the presented session identifier, header first.
func (a *SessionAuth) SessionID(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(SessionHeader)); id != "" {
		return id
	}
	if a.cookieName == "" {
		return ""
	}
	if cookie, err := c.Cookie(a.cookieName); err == nil {
		return strings.TrimSpace(cookie)
	}
	return ""
}

// Load attaches a valid session to the request without touching its activity.
// Requests without a valid session continue anonymously.
func (a *SessionAuth) Load() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a == nil || a.sessions == nil {
			c.Next()
			return
		}

		sessionID := a.SessionID(c)
		if sessionID == "" {
			c.Next()
			return
		}

		session, ok, err := a.sessions.GetSession(c.Request.Context(), sessionID)
		if err != nil {
			a.logger.Warn("session lookup failed", zap.String("session_id", appLogger.MaskString(sessionID)), zap.Error(err))
		}
		if err != nil || !ok {
			c.Next()
			return
		}

		attachSession(c, session)
		c.Next()
	}
}

// Touch records activity on the session Load attached. Mount it after the rate
// limiter so rejected requests never extend a session.
func (a *SessionAuth) Touch() gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := CurrentSession(c)
		if a == nil || a.sessions == nil || !ok {
			c.Next()
			return
		}

		ip := c.ClientIP()
		updated, err := a.sessions.UpdateSessionActivity(c.Request.Context(), session.SessionID, ip)
		if err != nil {
			a.logger.Warn("session refresh failed", zap.String("session_id", appLogger.MaskString(session.SessionID)), zap.Error(err))
		}
		if err != nil || !updated {
			// The session ended between lookup and refresh.
			detachSession(c)
			c.Next()
			return
		}
		session.IPAddress = ip

		c.Next()
	}
}

func attachSession(c *gin.Context, session *domain.Session) {
	c.Set(SessionKey, session)
	c.Set(UserIDKey, session.UserID)
	reqCtx := GetRequestContext(c)
	reqCtx.UserID = session.UserID
	reqCtx.Username = session.Username
}

func detachSession(c *gin.Context) {
	c.Set(SessionKey, (*domain.Session)(nil))
	c.Set(UserIDKey, "")
	reqCtx := GetRequestContext(c)
	reqCtx.UserID = ""
	reqCtx.Username = ""
}

// Require rejects requests that carry no live session after Load and Touch.
func (a *SessionAuth) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentSession(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "valid session required"))
			return
		}
		c.Next()
	}
}

// RequireRole checks that the session owner holds one of the given roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := CurrentSession(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "authentication required"))
			return
		}
		if !domain.HasAnyRole(session.Role, roles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, newErrorResponse(c, "insufficient permissions"))
			return
		}
		c.Next()
	}
}
