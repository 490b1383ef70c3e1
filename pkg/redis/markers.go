package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/notifier/pkg/digest"
)

const (
	markerPending = string(digest.StatePending)
	markerSent    = string(digest.StateSent)
)

// releaseScript deletes a pending marker. It returns -1 when the key is
// missing, 0 when the marker is sent and 1 when a claim was released.
var releaseScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if not v then
	return -1
end
if v == ARGV[1] then
	redis.call("DEL", KEYS[1])
	return 1
end
return 0
`)

// DigestMarkers implements digest.MarkerStore. A pending claim is a key with
// a TTL, so an abandoned claim frees itself.
type DigestMarkers struct {
	db        redis.UniversalClient
	prefix    string
	retention time.Duration
}

// DigestMarkersOption configures DigestMarkers.
type DigestMarkersOption func(*DigestMarkers)

// WithSentRetention expires sent markers after d. Zero keeps them forever.
func WithSentRetention(d time.Duration) DigestMarkersOption {
	return func(m *DigestMarkers) {
		if d >= 0 {
			m.retention = d
		}
	}
}

// NewDigestMarkers creates a marker store. An empty prefix defaults to "notifier:".
func NewDigestMarkers(client redis.UniversalClient, prefix string, opts ...DigestMarkersOption) *DigestMarkers {
	m := &DigestMarkers{db: client, prefix: orDefaultPrefix(prefix)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ digest.MarkerStore = (*DigestMarkers)(nil)

func (m *DigestMarkers) key(k digest.Key) string {
	return fmt.Sprintf("%sdigest:%s:%s:%d", m.prefix, k.UserID, k.Period, k.WindowStart.Unix())
}

func (m *DigestMarkers) Claim(ctx context.Context, key digest.Key, ttl time.Duration) (bool, error) {
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	return m.db.SetNX(ctx, m.key(key), markerPending, ttl).Result()
}

func (m *DigestMarkers) MarkSent(ctx context.Context, key digest.Key) error {
	return m.db.Set(ctx, m.key(key), markerSent, m.retention).Err()
}

func (m *DigestMarkers) Release(ctx context.Context, key digest.Key) error {
	res, err := releaseScript.Run(ctx, m.db, []string{m.key(key)}, markerPending).Int()
	if err != nil {
		return err
	}
	if res < 0 {
		return digest.ErrMarkerNotFound
	}
	return nil
}

// State returns the marker state for key.
func (m *DigestMarkers) State(ctx context.Context, key digest.Key) (digest.State, bool, error) {
	v, err := m.db.Get(ctx, m.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return digest.State(v), true, nil
}
