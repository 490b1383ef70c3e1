package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/notifier/pkg/notifications"
)

// generationRetention bounds how long an idle user's generation key lives.
// An expired key reads as generation 0, which never matches a later token
// taken from a live key.
const generationRetention = 24 * time.Hour

// setIfGeneration writes the count only while the generation key still holds
// the token read before the count was computed.
var setIfGeneration = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// UnreadCache implements notifications.UnreadCache so every instance shares
// the same cached counts and generations.
type UnreadCache struct {
	db     redis.UniversalClient
	prefix string
}

// NewUnreadCache creates a cache. An empty prefix defaults to "notifier:".
func NewUnreadCache(client redis.UniversalClient, prefix string) *UnreadCache {
	return &UnreadCache{db: client, prefix: orDefaultPrefix(prefix)}
}

var _ notifications.UnreadCache = (*UnreadCache)(nil)

func (c *UnreadCache) key(userID string) string {
	return c.prefix + "unread:" + userID
}

func (c *UnreadCache) genKey(userID string) string {
	return c.prefix + "unread-gen:" + userID
}

func (c *UnreadCache) Get(ctx context.Context, userID string) (int, bool, error) {
	raw, err := c.db.Get(ctx, c.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, errors.Join(ErrCorruptValue, err)
	}
	return n, true, nil
}

func (c *UnreadCache) Generation(ctx context.Context, userID string) (uint64, error) {
	raw, err := c.db.Get(ctx, c.genKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	gen, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.Join(ErrCorruptValue, err)
	}
	return gen, nil
}

// Set stores count for ttl when gen is still current. A non-positive ttl
// stores nothing.
func (c *UnreadCache) Set(ctx context.Context, userID string, gen uint64, count int, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}
	res, err := setIfGeneration.Run(ctx, c.db,
		[]string{c.key(userID), c.genKey(userID)},
		strconv.FormatUint(gen, 10), count, max(ttl.Milliseconds(), 1),
	).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Invalidate drops the cached count and advances the generation, so counts
// computed before this call can no longer be stored.
func (c *UnreadCache) Invalidate(ctx context.Context, userID string) error {
	_, err := c.db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.key(userID))
		pipe.Incr(ctx, c.genKey(userID))
		pipe.Expire(ctx, c.genKey(userID), generationRetention)
		return nil
	})
	return err
}

func orDefaultPrefix(p string) string {
	if p == "" {
		return "notifier:"
	}
	return p
}
