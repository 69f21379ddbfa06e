package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
	"github.com/nobodyz328/MyWeb-sub005/internal/core/port"
	"github.com/nobodyz328/MyWeb-sub005/internal/repository"
)

const (
	defaultSessionPrefix = "blog:session"
	maxReplaceAttempts   = 5
)

// deleteSessionScript removes a session record and its index entry, and clears
// the per-user pointer only while it still references the same session.
var deleteSessionScript = red.NewScript(`
local removed = redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[3], ARGV[1])
if redis.call('GET', KEYS[2]) == ARGV[1] then
  redis.call('DEL', KEYS[2])
end
return removed
`)

// SessionStore persists session records, per-user pointers and the active-session index in Redis.
type SessionStore struct {
	client *red.Client
	prefix string
}

// NewSessionStore constructs a Redis-backed session store using the supplied key prefix.
func NewSessionStore(client *red.Client, keyPrefix string) *SessionStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultSessionPrefix
	}

	return &SessionStore{client: client, prefix: prefix}
}

// Replace installs session as the user's current session, watching the user pointer so
// that a concurrent login for the same user forces a retry instead of leaving two live sessions.
func (s *SessionStore) Replace(ctx context.Context, session domain.Session, ttl time.Duration) (*domain.Session, error) {
	if strings.TrimSpace(session.SessionID) == "" {
		return nil, errors.New("session id is required")
	}
	if strings.TrimSpace(session.UserID) == "" {
		return nil, errors.New("user id is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}

	pointerKey := s.userKey(session.UserID)

	for attempt := 0; attempt < maxReplaceAttempts; attempt++ {
		var previous *domain.Session

		err := s.client.Watch(ctx, func(tx *red.Tx) error {
			previous = nil

			oldID, err := tx.Get(ctx, pointerKey).Result()
			if err != nil && !errors.Is(err, red.Nil) {
				return fmt.Errorf("redis get session pointer: %w", err)
			}
			if oldID == session.SessionID {
				oldID = ""
			}

			if oldID != "" {
				data, err := tx.Get(ctx, s.sessionKey(oldID)).Bytes()
				switch {
				case err == nil:
					decoded, decodeErr := decodeSession(data)
					if decodeErr != nil {
						decoded = &domain.Session{SessionID: oldID, UserID: session.UserID}
					}
					previous = decoded
				case errors.Is(err, red.Nil):
				default:
					return fmt.Errorf("redis get previous session: %w", err)
				}
			}

			_, err = tx.TxPipelined(ctx, func(pipe red.Pipeliner) error {
				if oldID != "" {
					pipe.Del(ctx, s.sessionKey(oldID))
					pipe.SRem(ctx, s.indexKey(), oldID)
				}
				pipe.Set(ctx, s.sessionKey(session.SessionID), payload, ttl)
				pipe.Set(ctx, pointerKey, session.SessionID, ttl)
				pipe.SAdd(ctx, s.indexKey(), session.SessionID)
				return nil
			})
			return err
		}, pointerKey)

		if err == nil {
			return previous, nil
		}
		if errors.Is(err, red.TxFailedErr) {
			continue
		}
		return nil, fmt.Errorf("replace session: %w", err)
	}

	return nil, repository.ErrConflict
}

// Get fetches a single session record.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	key := s.sessionKey(sessionID)
	if key == "" {
		return nil, errors.New("session id is required")
	}

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	return decodeSession(data)
}

// GetMany loads several session records with a single MGET. Ids without a record
// come back in missing; records that fail to decode are in neither result.
func (s *SessionStore) GetMany(ctx context.Context, sessionIDs []string) (sessions []domain.Session, missing []string, err error) {
	ids := make([]string, 0, len(sessionIDs))
	keys := make([]string, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		if key := s.sessionKey(id); key != "" {
			ids = append(ids, id)
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil, nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("redis mget sessions: %w", err)
	}

	sessions = make([]domain.Session, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		session, err := decodeSession([]byte(raw))
		if err != nil {
			continue
		}
		sessions = append(sessions, *session)
	}

	return sessions, missing, nil
}

// Update overwrites an existing record without resurrecting one that was deleted concurrently.
func (s *SessionStore) Update(ctx context.Context, session domain.Session, ttl time.Duration) error {
	key := s.sessionKey(session.SessionID)
	if key == "" {
		return errors.New("session id is required")
	}
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	updated, err := s.client.SetXX(ctx, key, payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis update session: %w", err)
	}
	if !updated {
		return repository.ErrNotFound
	}

	return nil
}

// Delete atomically removes a session and its bookkeeping entries.
func (s *SessionStore) Delete(ctx context.Context, session domain.Session) (bool, error) {
	key := s.sessionKey(session.SessionID)
	if key == "" {
		return false, errors.New("session id is required")
	}

	pointerKey := s.userKey(session.UserID)
	if pointerKey == "" {
		// Records without an owner still need the index cleaned; use a key that never matches.
		pointerKey = s.userKey("_none")
	}

	removed, err := deleteSessionScript.Run(ctx, s.client,
		[]string{key, pointerKey, s.indexKey()},
		strings.TrimSpace(session.SessionID),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("redis delete session: %w", err)
	}

	return removed > 0, nil
}

// CurrentSessionID resolves the user's current session pointer.
func (s *SessionStore) CurrentSessionID(ctx context.Context, userID string) (string, error) {
	key := s.userKey(userID)
	if key == "" {
		return "", errors.New("user id is required")
	}

	sessionID, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("redis get session pointer: %w", err)
	}

	return sessionID, nil
}

// ActiveSessionIDs lists the members of the active-session index.
func (s *SessionStore) ActiveSessionIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers active sessions: %w", err)
	}
	return ids, nil
}

// ForgetActive removes ids from the active-session index.
func (s *SessionStore) ForgetActive(ctx context.Context, sessionIDs ...string) error {
	if len(sessionIDs) == 0 {
		return nil
	}

	members := make([]any, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		members = append(members, id)
	}

	if err := s.client.SRem(ctx, s.indexKey(), members...).Err(); err != nil {
		return fmt.Errorf("redis srem active sessions: %w", err)
	}
	return nil
}

// LoadStatistics returns the cached statistics snapshot.
func (s *SessionStore) LoadStatistics(ctx context.Context) (*domain.SessionStatistics, error) {
	data, err := s.client.Get(ctx, s.statisticsKey()).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis get session statistics: %w", err)
	}

	var stats domain.SessionStatistics
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("decode session statistics: %w", err)
	}

	return &stats, nil
}

// SaveStatistics caches the statistics snapshot for ttl.
func (s *SessionStore) SaveStatistics(ctx context.Context, stats domain.SessionStatistics, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode session statistics: %w", err)
	}

	if err := s.client.Set(ctx, s.statisticsKey(), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session statistics: %w", err)
	}
	return nil
}

func decodeSession(data []byte) (*domain.Session, error) {
	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

func (s *SessionStore) sessionKey(sessionID string) string {
	trimmed := strings.TrimSpace(sessionID)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:id:%s", s.prefix, trimmed)
}

func (s *SessionStore) userKey(userID string) string {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:user:%s", s.prefix, trimmed)
}

func (s *SessionStore) indexKey() string {
	return s.prefix + ":active"
}

func (s *SessionStore) statisticsKey() string {
	return s.prefix + ":statistics"
}

var (
	_ port.SessionStore    = (*SessionStore)(nil)
	_ port.StatisticsCache = (*SessionStore)(nil)
)
