package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
	"github.com/nobodyz328/MyWeb-sub005/internal/transport/http/middleware"
	"github.com/nobodyz328/MyWeb-sub005/internal/usecase"
)

// SessionService is the part of usecase.SessionManager the handlers call.
type SessionService interface {
	TerminateSession(ctx context.Context, sessionID string, reason domain.TerminationReason) (bool, error)
	GetUserActiveSession(ctx context.Context, userID string) (*domain.Session, bool, error)
	GetSessionStatistics(ctx context.Context) (*domain.SessionStatistics, error)
}

var sessionErrorCases = []ErrorCase{
	{Err: usecase.ErrInvalidArgument, Status: http.StatusBadRequest, Message: "invalid session request"},
}

// SessionHandler exposes logout and the administrative session endpoints.
type SessionHandler struct {
	sessions   SessionService
	cookieName string
}

// NewSessionHandler constructs a session handler. cookieName is cleared on logout.
func NewSessionHandler(sessions SessionService, cookieName string) *SessionHandler {
	return &SessionHandler{sessions: sessions, cookieName: cookieName}
}

// RegisterRoutes binds the caller-facing routes. The group must require a session.
func (h *SessionHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}
	r.GET("/current", h.Current)
	r.POST("/logout", h.Logout)
}

// RegisterAdminRoutes binds operator routes. The group must require the admin role.
func (h *SessionHandler) RegisterAdminRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}
	r.GET("/statistics", h.Statistics)
	r.GET("/users/:userID", h.UserSession)
	r.DELETE("/:sessionID", h.Revoke)
}

// Current returns the caller's own session.
func (h *SessionHandler) Current(c *gin.Context) {
	session, ok := middleware.CurrentSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}
	payload := newSessionPayload(*session)
	payload.IsCurrent = true
	c.JSON(http.StatusOK, payload)
}

// Logout ends the caller's session with reason USER_LOGOUT.
func (h *SessionHandler) Logout(c *gin.Context) {
	session, ok := middleware.CurrentSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	revoked, err := h.sessions.TerminateSession(c.Request.Context(), session.SessionID, domain.TerminationReasonUserLogout)
	if err != nil {
		RespondWithMappedError(c, err, sessionErrorCases, http.StatusInternalServerError, "failed to terminate session")
		return
	}

	if h.cookieName != "" {
		c.SetSameSite(http.SameSiteStrictMode)
		c.SetCookie(h.cookieName, "", -1, "/", "", true, true)
	}

	c.JSON(http.StatusOK, SessionRevokeResponse{Revoked: revoked, Reason: string(domain.TerminationReasonUserLogout)})
}

// Statistics returns the aggregated session dashboard.
func (h *SessionHandler) Statistics(c *gin.Context) {
	stats, err := h.sessions.GetSessionStatistics(c.Request.Context())
	if err != nil {
		RespondWithMappedError(c, err, sessionErrorCases, http.StatusInternalServerError, "failed to compute session statistics")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// UserSession returns the active session of a user.
func (h *SessionHandler) UserSession(c *gin.Context) {
	session, ok, err := h.sessions.GetUserActiveSession(c.Request.Context(), c.Param("userID"))
	if err != nil {
		RespondWithMappedError(c, err, sessionErrorCases, http.StatusInternalServerError, "failed to load session")
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, NewErrorResponse(c, "no active session"))
		return
	}
	c.JSON(http.StatusOK, newSessionPayload(*session))
}

// Revoke force-logs-out a session. The reason defaults to ADMIN_REVOKE; unknown reasons are rejected.
func (h *SessionHandler) Revoke(c *gin.Context) {
	var req SessionRevokeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request body"))
			return
		}
	}

	reason := domain.TerminationReasonAdminRevoke
	if strings.TrimSpace(req.Reason) != "" {
		parsed, ok := domain.LookupTerminationReason(req.Reason)
		if !ok {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "unknown termination reason"))
			return
		}
		reason = parsed
	}

	revoked, err := h.sessions.TerminateSession(c.Request.Context(), c.Param("sessionID"), reason)
	if err != nil {
		RespondWithMappedError(c, err, sessionErrorCases, http.StatusInternalServerError, "failed to revoke session")
		return
	}
	c.JSON(http.StatusOK, SessionRevokeResponse{Revoked: revoked, Reason: string(reason)})
}
