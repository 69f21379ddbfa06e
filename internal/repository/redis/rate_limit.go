package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
	"github.com/nobodyz328/MyWeb-sub005/internal/core/port"
)

const (
	defaultRateLimitPrefix = "blog:ratelimit"
	alertSegment           = "alert"
)

// slidingWindowScript trims, counts and (when under the limit) records a request in
// one server-side step. The reference time is the Redis server clock, so every
// instance sharing the key agrees on the window regardless of local clock skew.
// Scores are unix milliseconds; an entry whose age equals the window has left it.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local window = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local member = ARGV[3]

local clock = redis.call('TIME')
local now = tonumber(clock[1]) * 1000 + math.floor(tonumber(clock[2]) / 1000)

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local admitted = 0
if count < limit then
  redis.call('ZADD', key, now, member)
  count = count + 1
  admitted = 1
end
redis.call('PEXPIRE', key, window)

local oldest = now
local head = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if head[2] then
  oldest = tonumber(head[2])
end

return {admitted, count, oldest}
`)

// SlidingWindowConfig defines configuration for the sliding window limiter.
type SlidingWindowConfig struct {
	KeyPrefix string
}

// RateLimitRepository persists rate-limit windows in Redis sorted sets.
type RateLimitRepository struct {
	client *redis.Client
	cfg    SlidingWindowConfig
	member func() string
}

// NewRateLimitRepository constructs a repository using the provided Redis client and config.
func NewRateLimitRepository(client *redis.Client, cfg SlidingWindowConfig) *RateLimitRepository {
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = defaultRateLimitPrefix
	}
	return &RateLimitRepository{client: client, cfg: cfg, member: uuid.NewString}
}

// Hit runs the sliding-window script for key against the server clock.
func (r *RateLimitRepository) Hit(ctx context.Context, key string, limit int, window time.Duration) (domain.RateLimitWindow, error) {
	if strings.TrimSpace(key) == "" {
		return domain.RateLimitWindow{}, errors.New("key must not be empty")
	}
	if window <= 0 {
		return domain.RateLimitWindow{}, errors.New("window must be positive")
	}
	if limit <= 0 {
		return domain.RateLimitWindow{}, errors.New("limit must be positive")
	}

	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}

	raw, err := slidingWindowScript.Run(ctx, r.client, []string{r.key(key)},
		windowMs,
		limit,
		r.member(),
	).Slice()
	if err != nil {
		return domain.RateLimitWindow{}, fmt.Errorf("redis sliding window: %w", err)
	}
	if len(raw) != 3 {
		return domain.RateLimitWindow{}, fmt.Errorf("unexpected sliding window result length %d", len(raw))
	}

	admitted, err := toInt64(raw[0])
	if err != nil {
		return domain.RateLimitWindow{}, err
	}
	count, err := toInt64(raw[1])
	if err != nil {
		return domain.RateLimitWindow{}, err
	}
	oldest, err := toInt64(raw[2])
	if err != nil {
		return domain.RateLimitWindow{}, err
	}

	return domain.RateLimitWindow{
		Count:    int(count),
		Limit:    limit,
		Admitted: admitted == 1,
		Oldest:   time.UnixMilli(oldest).UTC(),
	}, nil
}

// AcquireAlertSlot sets the alert marker with SET NX so only one caller per interval wins.
func (r *RateLimitRepository) AcquireAlertSlot(ctx context.Context, key string, interval time.Duration) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, errors.New("key must not be empty")
	}
	if interval <= 0 {
		return false, errors.New("interval must be positive")
	}

	acquired, err := r.client.SetNX(ctx, r.alertKey(key), "1", interval).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx alert marker: %w", err)
	}
	return acquired, nil
}

func (r *RateLimitRepository) key(identifier string) string {
	return fmt.Sprintf("%s:%s", r.cfg.KeyPrefix, identifier)
}

func (r *RateLimitRepository) alertKey(identifier string) string {
	return fmt.Sprintf("%s:%s:%s", r.cfg.KeyPrefix, alertSegment, identifier)
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse script value: %w", err)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("unexpected script value type %T", value)
	}
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)
