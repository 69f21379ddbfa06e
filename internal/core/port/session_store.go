package port

import (
	"context"
	"time"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
)

// SessionStore translates session records to and from the shared store's key namespace.
type SessionStore interface {
	// Replace installs session as the user's current session. Any previously
	// current session is removed in the same optimistic transaction and returned.
	Replace(ctx context.Context, session domain.Session, ttl time.Duration) (*domain.Session, error)
	// Get returns repository.ErrNotFound when no record exists.
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	// GetMany loads the supplied ids. Ids with no record are returned in missing;
	// unreadable records are skipped without being reported as missing.
	GetMany(ctx context.Context, sessionIDs []string) (sessions []domain.Session, missing []string, err error)
	// Update re-persists an existing record; repository.ErrNotFound when it vanished.
	Update(ctx context.Context, session domain.Session, ttl time.Duration) error
	// Delete removes the record, its index entry and the user pointer when it still
	// references this session. Reports whether the record existed.
	Delete(ctx context.Context, session domain.Session) (bool, error)
	// CurrentSessionID resolves the per-user pointer; repository.ErrNotFound when unset.
	CurrentSessionID(ctx context.Context, userID string) (string, error)
	ActiveSessionIDs(ctx context.Context) ([]string, error)
	// ForgetActive drops stale ids from the active-session index.
	ForgetActive(ctx context.Context, sessionIDs ...string) error
}

// StatisticsCache stores the derived session statistics snapshot.
type StatisticsCache interface {
	// LoadStatistics returns repository.ErrNotFound when no snapshot is cached.
	LoadStatistics(ctx context.Context) (*domain.SessionStatistics, error)
	SaveStatistics(ctx context.Context, stats domain.SessionStatistics, ttl time.Duration) error
}
