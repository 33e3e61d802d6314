// Package ratelimit implements a fixed-window credit counter on Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript initialises the counter with a TTL on first use and only
// increments while the count is below the limit. Running it as one script
// keeps concurrent callers from over-admitting.
var consumeScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
  redis.call('SET', KEYS[1], 0, 'EX', ARGV[2])
  current = 0
end
if tonumber(current) < tonumber(ARGV[1]) then
  redis.call('INCR', KEYS[1])
  return 1
end
return 0
`)

// FileCreditKey is the counter key gating file processing for a user.
func FileCreditKey(userID int64) string {
	return fmt.Sprintf("credit:file:%d", userID)
}

// Usage describes the state of one counter.
type Usage struct {
	Used    int
	Limit   int
	ResetAt *time.Time
}

type Limiter struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewLimiter(client redis.UniversalClient) *Limiter {
	return &Limiter{client: client, now: time.Now}
}

// TryConsume takes one credit from key. It reports false once limit credits
// have been used inside the current window.
func (l *Limiter) TryConsume(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	seconds := int64(window / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	admitted, err := consumeScript.Run(ctx, l.client, []string{key}, limit, seconds).Int()
	if err != nil {
		return false, fmt.Errorf("consume credit %s: %w", key, err)
	}
	return admitted == 1, nil
}

// Usage reads the counter without consuming. ResetAt is nil when no window
// is open.
func (l *Limiter) Usage(ctx context.Context, key string, limit int) (Usage, error) {
	usage := Usage{Limit: limit}

	used, err := l.client.Get(ctx, key).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return usage, nil
		}
		return usage, fmt.Errorf("read credit %s: %w", key, err)
	}
	usage.Used = used

	ttl, err := l.client.TTL(ctx, key).Result()
	if err != nil {
		return usage, fmt.Errorf("read credit ttl %s: %w", key, err)
	}
	if ttl > 0 {
		resetAt := l.now().Add(ttl).UTC()
		usage.ResetAt = &resetAt
	}
	return usage, nil
}
