package realtime_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifier/pkg/logger"
	"github.com/dmitrymomot/notifier/pkg/notifications"
	"github.com/dmitrymomot/notifier/pkg/realtime"
)

func newHub(opts ...realtime.MemoryHubOption) *realtime.MemoryHub {
	return realtime.NewMemoryHub(append([]realtime.MemoryHubOption{realtime.WithHubLogger(logger.Discard())}, opts...)...)
}

func receive(t *testing.T, sub realtime.Subscription) (notifications.Notification, bool) {
	t.Helper()
	select {
	case n, ok := <-sub.C():
		return n, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
		return notifications.Notification{}, false
	}
}

func TestMemoryHubFanOut(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	hub := newHub()
	defer hub.Close()

	tab1 := hub.Subscribe(ctx, "u1")
	tab2 := hub.Subscribe(ctx, "u1")
	other := hub.Subscribe(ctx, "u2")
	assert.Equal(t, 2, hub.Sessions("u1"))

	require.NoError(t, hub.Publish(ctx, "u1", notifications.Notification{ID: "n1", UserID: "u1"}))

	for _, sub := range []realtime.Subscription{tab1, tab2} {
		n, ok := receive(t, sub)
		require.True(t, ok)
		assert.Equal(t, "n1", n.ID)
	}

	select {
	case n := <-other.C():
		t.Fatalf("u2 received %v", n)
	default:
	}
}

func TestMemoryHubOrdering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	hub := newHub(realtime.WithBufferSize(100))
	defer hub.Close()

	sub := hub.Subscribe(ctx, "u1")
	for i := range 50 {
		require.NoError(t, hub.Publish(ctx, "u1", notifications.Notification{ID: fmt.Sprint(i)}))
	}
	for i := range 50 {
		n, ok := receive(t, sub)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprint(i), n.ID)
	}
}

func TestMemoryHubDropsSlowSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	hub := newHub(realtime.WithBufferSize(2))
	defer hub.Close()

	slow := hub.Subscribe(ctx, "u1")
	fast := hub.Subscribe(ctx, "u1")

	for i := range 3 {
		require.NoError(t, hub.Publish(ctx, "u1", notifications.Notification{ID: fmt.Sprint(i)}))
		_, ok := receive(t, fast)
		require.True(t, ok)
	}

	// slow buffered two messages, the third closed it
	var got []string
	for n := range slow.C() {
		got = append(got, n.ID)
	}
	assert.Equal(t, []string{"0", "1"}, got)
	assert.Equal(t, 1, hub.Sessions("u1"))
}

func TestMemoryHubContextCancel(t *testing.T) {
	t.Parallel()

	hub := newHub()
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub := hub.Subscribe(ctx, "u1")
	cancel()

	_, ok := receive(t, sub)
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return hub.Topics() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMemoryHubEvictsLeastRecentTopic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	hub := newHub(realtime.WithMaxTopics(2))
	defer hub.Close()

	first := hub.Subscribe(ctx, "u1")
	_ = hub.Subscribe(ctx, "u2")
	_ = hub.Subscribe(ctx, "u3")

	_, ok := receive(t, first)
	assert.False(t, ok, "evicted topic closes its sessions")
	assert.Equal(t, 2, hub.Topics())
}

func TestMemoryHubClose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	hub := newHub()
	sub := hub.Subscribe(ctx, "u1")

	require.NoError(t, hub.Close())
	require.NoError(t, hub.Close())

	_, ok := receive(t, sub)
	assert.False(t, ok)
	assert.ErrorIs(t, hub.Publish(ctx, "u1", notifications.Notification{}), realtime.ErrHubClosed)

	late := hub.Subscribe(ctx, "u1")
	_, ok = receive(t, late)
	assert.False(t, ok)
}

func TestMemoryHubConcurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	hub := newHub(realtime.WithMaxTopics(4))
	defer hub.Close()

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(2)
		user := fmt.Sprintf("u%d", i%6)
		go func() {
			defer wg.Done()
			sub := hub.Subscribe(ctx, user)
			for range 10 {
				select {
				case <-sub.C():
				case <-time.After(time.Millisecond):
				}
			}
			_ = sub.Close()
		}()
		go func() {
			defer wg.Done()
			for j := range 20 {
				_ = hub.Publish(ctx, user, notifications.Notification{ID: fmt.Sprint(j)})
			}
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return hub.Topics() == 0 }, time.Second, 5*time.Millisecond)
}
