package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
)

const (
	rateLimitProblemType  = "https://blog.example.com/errors/rate-limit-exceeded"
	rateLimitProblemTitle = "Rate Limit Exceeded"
)

// RateLimitEvaluator is the part of usecase.RateLimiter the middleware needs.
type RateLimitEvaluator interface {
	Policy(endpoint string) domain.EndpointPolicy
	Evaluate(ctx context.Context, identifier, endpoint, principal string) domain.RateLimitDecision
}

// ProblemDetails represents an RFC 9457 compatible error payload for rate limits.
type ProblemDetails struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail"`
	Instance   string `json:"instance"`
	RetryAfter int    `json:"retry_after"`
	TraceID    string `json:"trace_id,omitempty"`
}

// RateLimiter adapts the engine's rate limiter to Gin.
type RateLimiter struct {
	limiter RateLimitEvaluator
	logger  *zap.Logger
	now     func() time.Time
}

// NewRateLimiter builds the rate limit middleware helper.
func NewRateLimiter(limiter RateLimitEvaluator, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{limiter: limiter, logger: logger, now: time.Now}
}

// WithClock allows injection of a custom clock (primarily for testing).
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

// Handler admits or rejects each request against the policy of its route.
// Run it after SessionAuth.Load so USER scope can see the session owner, and
// before SessionAuth.Touch.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl == nil || rl.limiter == nil {
			c.Next()
			return
		}

		endpoint := endpointOf(c)
		policy := rl.limiter.Policy(endpoint)
		identifier, principal := rl.identify(c, policy.Scope)

		decision := rl.limiter.Evaluate(c.Request.Context(), identifier, endpoint, principal)
		if decision.Enforced {
			rl.applyHeaders(c, decision)
		}
		if !decision.Allowed {
			rl.respondRateLimited(c, decision)
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) identify(c *gin.Context, scope domain.RateLimitScope) (identifier, principal string) {
	ip := c.ClientIP()
	session, hasSession := CurrentSession(c)
	if hasSession {
		principal = session.Username
	}

	switch scope {
	case domain.RateLimitScopeGlobal:
		return domain.GlobalIdentifier, principal
	case domain.RateLimitScopeUser:
		if userID, ok := GetAuthenticatedUserID(c); ok {
			return userID, principal
		}
		return ip, principal
	default:
		return ip, principal
	}
}

func (rl *RateLimiter) applyHeaders(c *gin.Context, decision domain.RateLimitDecision) {
	headers := c.Writer.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	if !decision.ResetAt.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	}
	if !decision.Allowed {
		headers.Set("Retry-After", strconv.Itoa(rl.retrySeconds(decision)))
	}
}

func (rl *RateLimiter) retrySeconds(decision domain.RateLimitDecision) int {
	return int(math.Ceil(decision.RetryAfter(rl.now()).Seconds()))
}

func (rl *RateLimiter) respondRateLimited(c *gin.Context, decision domain.RateLimitDecision) {
	retrySeconds := rl.retrySeconds(decision)

	c.AbortWithStatusJSON(http.StatusTooManyRequests, ProblemDetails{
		Type:       rateLimitProblemType,
		Title:      rateLimitProblemTitle,
		Status:     http.StatusTooManyRequests,
		Detail:     fmt.Sprintf("Too many requests. Try again in %d seconds.", retrySeconds),
		Instance:   c.Request.URL.Path,
		RetryAfter: retrySeconds,
		TraceID:    GetTraceID(c),
	})
}

// endpointOf prefers the route template so path parameters share one policy.
func endpointOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return c.Request.URL.Path
}
