package port

import (
	"context"
	"time"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
)

// RateLimitStore exposes the atomic counter primitive used to enforce quotas.
type RateLimitStore interface {
	// Hit evaluates and, when admitted, records one request against key as a
	// single indivisible step in the shared store. The store's own clock places
	// the request in the window.
	Hit(ctx context.Context, key string, limit int, window time.Duration) (domain.RateLimitWindow, error)
	// AcquireAlertSlot sets the alert-throttle marker for key when absent and
	// reports whether the caller won the slot.
	AcquireAlertSlot(ctx context.Context, key string, interval time.Duration) (bool, error)
}
