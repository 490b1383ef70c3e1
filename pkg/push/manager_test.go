package push_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifier/pkg/logger"
	"github.com/dmitrymomot/notifier/pkg/push"
)

var testKeys = push.Keys{P256dh: "BPk", Auth: "secret"}

// fakeTransport answers per endpoint and tracks concurrency.
type fakeTransport struct {
	mu        sync.Mutex
	responses map[string]error
	delay     time.Duration
	sent      []string

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeTransport) Send(ctx context.Context, sub push.Subscription, p push.Payload) error {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxInFlight.Load()
		if cur <= prev || f.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sub.Endpoint)
	return f.responses[sub.Endpoint]
}

func newManager(t *testing.T, tr push.Transport, opts ...push.ManagerOption) (*push.Manager, *push.MemoryStore) {
	t.Helper()
	store := push.NewMemoryStore()
	opts = append([]push.ManagerOption{push.WithManagerLogger(logger.Discard())}, opts...)
	return push.NewManager(store, tr, opts...), store
}

func TestRegister(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, _ := newManager(t, &fakeTransport{})

	first, err := m.Register(ctx, "u1", "https://push.example.com/a", testKeys)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	again, err := m.Register(ctx, "u1", "https://push.example.com/a", testKeys)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID, "same endpoint for same user is idempotent")

	_, err = m.Register(ctx, "u2", "https://push.example.com/a", testKeys)
	assert.ErrorIs(t, err, push.ErrEndpointOwnedByAnotherUser)

	tests := []struct {
		name     string
		user     string
		endpoint string
		keys     push.Keys
	}{
		{name: "no user", endpoint: "https://push.example.com/b", keys: testKeys},
		{name: "plain http", user: "u1", endpoint: "http://push.example.com/b", keys: testKeys},
		{name: "garbage endpoint", user: "u1", endpoint: "::", keys: testKeys},
		{name: "missing keys", user: "u1", endpoint: "https://push.example.com/b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Register(ctx, tt.user, tt.endpoint, tt.keys)
			assert.ErrorIs(t, err, push.ErrInvalidSubscription)
		})
	}

	subs, err := m.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	assert.ErrorIs(t, m.Unregister(ctx, "u2", first.ID), push.ErrNotFound)
	require.NoError(t, m.Unregister(ctx, "u1", first.ID))
	assert.ErrorIs(t, m.Unregister(ctx, "u1", first.ID), push.ErrNotFound)
}

func TestDeliverIsolatesFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr := &fakeTransport{responses: map[string]error{
		"https://push.example.com/gone": &push.DeliveryError{Kind: push.KindGone, StatusCode: 410, Err: errors.New("gone")},
	}}
	m, _ := newManager(t, tr)

	for _, ep := range []string{"ok-1", "gone", "ok-2"} {
		_, err := m.Register(ctx, "u1", "https://push.example.com/"+ep, testKeys)
		require.NoError(t, err)
	}

	rep := m.Deliver(ctx, "u1", push.Payload{Title: "Grade posted", Body: "Math: A"})
	require.NoError(t, rep.Err)
	assert.Equal(t, 2, rep.Delivered)
	assert.Equal(t, 1, rep.Gone)
	assert.Equal(t, 1, rep.Pruned)
	assert.Len(t, rep.Results, 3)

	subs, err := m.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, subs, 2)
	for _, s := range subs {
		assert.NotEqual(t, "https://push.example.com/gone", s.Endpoint)
	}
}

func TestDeliverWithoutPruning(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr := &fakeTransport{responses: map[string]error{
		"https://push.example.com/gone": &push.DeliveryError{Kind: push.KindGone, StatusCode: 404, Err: errors.New("not found")},
		"https://push.example.com/busy": &push.DeliveryError{Kind: push.KindTransient, StatusCode: 503, Err: errors.New("unavailable")},
		"https://push.example.com/nope": errors.New("bad payload"),
		"https://push.example.com/fine": nil,
		"https://push.example.com/slow": context.DeadlineExceeded,
	}}
	m, _ := newManager(t, tr, push.WithPruneGone(false))

	for _, ep := range []string{"gone", "busy", "nope", "fine", "slow"} {
		_, err := m.Register(ctx, "u1", "https://push.example.com/"+ep, testKeys)
		require.NoError(t, err)
	}

	rep := m.Deliver(ctx, "u1", push.Payload{Title: "x"})
	assert.Equal(t, 1, rep.Delivered)
	assert.Equal(t, 1, rep.Gone)
	assert.Equal(t, 2, rep.Transient)
	assert.Equal(t, 1, rep.Failed)
	assert.Zero(t, rep.Pruned)

	subs, err := m.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, subs, 5)
}

func TestDeliverBoundsConcurrency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr := &fakeTransport{delay: 20 * time.Millisecond}
	m, _ := newManager(t, tr, push.WithMaxInFlight(2))

	for i := range 6 {
		_, err := m.Register(ctx, "u1", fmt.Sprintf("https://push.example.com/%d", i), testKeys)
		require.NoError(t, err)
	}

	rep := m.Deliver(ctx, "u1", push.Payload{Title: "x"})
	assert.Equal(t, 6, rep.Delivered)
	assert.LessOrEqual(t, tr.maxInFlight.Load(), int32(2))
}

func TestDeliverEndpointTimeout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr := &fakeTransport{delay: time.Second}
	m, _ := newManager(t, tr, push.WithEndpointTimeout(10*time.Millisecond))

	_, err := m.Register(ctx, "u1", "https://push.example.com/a", testKeys)
	require.NoError(t, err)

	rep := m.Deliver(ctx, "u1", push.Payload{Title: "x"})
	assert.Equal(t, 1, rep.Transient)
}

func TestDeliverCancelledContext(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	m, _ := newManager(t, tr)

	for i := range 3 {
		_, err := m.Register(context.Background(), "u1", fmt.Sprintf("https://push.example.com/%d", i), testKeys)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep := m.Deliver(ctx, "u1", push.Payload{Title: "x"})
	assert.Equal(t, 3, rep.Skipped)
	assert.Empty(t, tr.sent)
}

func TestDeliverNoSubscriptions(t *testing.T) {
	t.Parallel()

	m, _ := newManager(t, &fakeTransport{})
	rep := m.Deliver(context.Background(), "nobody", push.Payload{Title: "x"})
	assert.Zero(t, rep.Delivered)
	assert.Empty(t, rep.Results)
	assert.NoError(t, rep.Err)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want push.Kind
	}{
		{"delivery error", &push.DeliveryError{Kind: push.KindGone}, push.KindGone},
		{"wrapped delivery error", fmt.Errorf("send: %w", &push.DeliveryError{Kind: push.KindTransient}), push.KindTransient},
		{"deadline", context.DeadlineExceeded, push.KindTransient},
		{"sentinel gone", push.ErrEndpointGone, push.KindGone},
		{"anything else", errors.New("boom"), push.KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, push.Classify(tt.err))
		})
	}

	de := &push.DeliveryError{Kind: push.KindGone, StatusCode: 410, Err: errors.New("x")}
	assert.ErrorIs(t, de, push.ErrEndpointGone)
}

func TestKindForStatus(t *testing.T) {
	t.Parallel()

	tests := map[int]push.Kind{
		200: "", 201: "",
		404: push.KindGone, 410: push.KindGone,
		408: push.KindTransient, 429: push.KindTransient, 500: push.KindTransient, 503: push.KindTransient,
		400: push.KindOther, 401: push.KindOther, 413: push.KindOther,
	}
	for code, want := range tests {
		assert.Equal(t, want, push.KindForStatus(code), "status %d", code)
	}
}
