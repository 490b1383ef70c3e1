package pgstore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifier/pkg/digest"
	"github.com/dmitrymomot/notifier/pkg/email"
	"github.com/dmitrymomot/notifier/pkg/notifications"
	"github.com/dmitrymomot/notifier/pkg/pgstore"
	"github.com/dmitrymomot/notifier/pkg/preferences"
	"github.com/dmitrymomot/notifier/pkg/push"
	"github.com/dmitrymomot/notifier/pkg/quiethours"
	"github.com/dmitrymomot/notifier/pkg/realtime"
)

func TestPreferenceStore(t *testing.T) {
	pool := testPool(t)
	store := pgstore.NewPreferenceStore(pool)
	ctx := context.Background()

	_, err := store.Get(ctx, "u1")
	assert.ErrorIs(t, err, preferences.ErrNotFound)

	def := preferences.Defaults("u1")
	def.UpdatedAt = ts(2024, 3, 5, 12, 0)
	got, err := store.Insert(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, def.Email, got.Email)
	assert.True(t, got.WeeklySummary)
	assert.Nil(t, got.QuietHours)

	// a second insert keeps the stored row
	other := preferences.Defaults("u1")
	other.DailyDigest = true
	got, err = store.Insert(ctx, other)
	require.NoError(t, err)
	assert.False(t, got.DailyDigest)

	window, err := quiethours.ParseWindow("22:00", "08:00")
	require.NoError(t, err)
	got.QuietHours = &window
	got.Timezone = "Europe/Berlin"
	got.DailyDigest = true
	got.Push.Messages = false
	require.NoError(t, store.Save(ctx, got))

	saved, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, saved.QuietHours)
	assert.Equal(t, window, *saved.QuietHours)
	assert.Equal(t, "Europe/Berlin", saved.Timezone)
	assert.False(t, saved.Push.Messages)

	u2 := preferences.Defaults("u2")
	u2.WeeklySummary = false
	require.NoError(t, store.Save(ctx, u2))

	daily, err := store.ListDigestRecipients(ctx, preferences.DigestDaily)
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, "u1", daily[0].UserID)

	weekly, err := store.ListDigestRecipients(ctx, preferences.DigestWeekly)
	require.NoError(t, err)
	require.Len(t, weekly, 1)
	assert.Equal(t, "u1", weekly[0].UserID)
}

func TestSubscriptionStore(t *testing.T) {
	pool := testPool(t)
	store := pgstore.NewSubscriptionStore(pool)
	ctx := context.Background()

	sub := push.Subscription{
		ID:        "s1",
		UserID:    "u1",
		Endpoint:  "https://push.example.com/a",
		Keys:      push.Keys{P256dh: "key", Auth: "auth"},
		CreatedAt: ts(2024, 3, 5, 12, 0),
	}
	require.NoError(t, store.Create(ctx, sub))

	dup := sub
	dup.ID = "s2"
	assert.ErrorIs(t, store.Create(ctx, dup), push.ErrDuplicateEndpoint)

	found, err := store.FindByEndpoint(ctx, sub.Endpoint)
	require.NoError(t, err)
	assert.Equal(t, "s1", found.ID)
	assert.Equal(t, sub.Keys, found.Keys)

	list, err := store.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.ErrorIs(t, store.Delete(ctx, "u2", "s1"), push.ErrNotFound)
	require.NoError(t, store.Delete(ctx, "u1", "s1"))

	_, err = store.FindByEndpoint(ctx, sub.Endpoint)
	assert.ErrorIs(t, err, push.ErrNotFound)
}

func TestMarkerStore(t *testing.T) {
	pool := testPool(t)
	store := pgstore.NewMarkerStore(pool)
	ctx := context.Background()

	key := digest.Key{UserID: "u1", Period: digest.Daily, WindowStart: ts(2024, 3, 4, 0, 0)}

	assert.ErrorIs(t, store.Release(ctx, key), digest.ErrMarkerNotFound)

	ok, err := store.Claim(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Claim(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "live claim blocks a second run")

	require.NoError(t, store.Release(ctx, key))
	_, exists, err := store.State(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	// an already expired claim can be taken over
	ok, err = store.Claim(ctx, key, -time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.Claim(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.MarkSent(ctx, key))
	state, _, err := store.State(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, digest.StateSent, state)

	ok, err = store.Claim(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "sent windows are final")
	require.NoError(t, store.Release(ctx, key))
	state, _, err = store.State(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, digest.StateSent, state)
}

func TestChangeFeed(t *testing.T) {
	pool := testPool(t)
	feed := pgstore.NewChangeFeed(pool, pgstore.WithReconnectDelay(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		got  []realtime.Change
		done = make(chan error, 1)
	)
	go func() {
		done <- feed.Run(ctx, func(_ context.Context, c realtime.Change) {
			mu.Lock()
			got = append(got, c)
			mu.Unlock()
		})
	}()

	store := pgstore.NewNotificationStorage(pool)
	// the listener may not be attached yet, so keep inserting until one lands
	require.Eventually(t, func() bool {
		id := "feed-" + time.Now().Format("150405.000000000")
		_ = store.Create(ctx, notifications.Notification{
			ID: id, UserID: "u1", Type: notifications.TypeInfo, Priority: notifications.PriorityLow,
			Title: "feed", CreatedAt: time.Now(),
		})
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 5*time.Second, 100*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "u1", got[0].UserID)
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("change feed did not stop")
	}
}

func TestRecipientDirectory(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()

	// temp tables are per connection, so pin one
	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()
	_, err = conn.Exec(ctx, `CREATE TEMP TABLE IF NOT EXISTS recipients (id TEXT PRIMARY KEY, addr TEXT)`)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, `INSERT INTO recipients VALUES ('u1', 'u1@example.com'), ('u2', NULL) ON CONFLICT DO NOTHING`)
	require.NoError(t, err)

	dir := pgstore.NewRecipientDirectory(conn, `SELECT addr FROM recipients WHERE id = $1`)

	addr, err := dir.Email(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1@example.com", addr)

	_, err = dir.Email(ctx, "u2")
	assert.ErrorIs(t, err, email.ErrRecipientNotFound)

	_, err = dir.Email(ctx, "ghost")
	assert.ErrorIs(t, err, email.ErrRecipientNotFound)
}
