package notifications_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifier/pkg/notifications"
)

func TestMemoryStorageList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := notifications.NewMemoryStorage()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, s.Create(ctx, notifications.Notification{
			ID:        id,
			UserID:    "u1",
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	// same instant as "e", inserted later
	require.NoError(t, s.Create(ctx, notifications.Notification{ID: "f", UserID: "u1", CreatedAt: base.Add(4 * time.Hour)}))
	require.NoError(t, s.Create(ctx, notifications.Notification{ID: "other", UserID: "u2", CreatedAt: base}))

	since := base.Add(time.Hour)
	until := base.Add(3 * time.Hour)

	tests := []struct {
		name string
		opts notifications.ListOptions
		want []string
	}{
		{name: "all newest first", opts: notifications.ListOptions{AsOf: base}, want: []string{"f", "e", "d", "c", "b", "a"}},
		{name: "limit", opts: notifications.ListOptions{AsOf: base, Limit: 2}, want: []string{"f", "e"}},
		{name: "offset", opts: notifications.ListOptions{AsOf: base, Limit: 2, Offset: 4}, want: []string{"b", "a"}},
		{name: "offset beyond end", opts: notifications.ListOptions{AsOf: base, Offset: 10}, want: []string{}},
		{name: "window", opts: notifications.ListOptions{AsOf: base, Since: &since, Until: &until}, want: []string{"c", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := s.List(ctx, "u1", tt.opts)
			require.NoError(t, err)
			got := make([]string, 0, len(items))
			for _, n := range items {
				got = append(got, n.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMemoryStorageIDsNeverReused(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := notifications.NewMemoryStorage()

	require.NoError(t, s.Create(ctx, notifications.Notification{ID: "n1", UserID: "u1"}))
	assert.ErrorIs(t, s.Create(ctx, notifications.Notification{ID: "n1", UserID: "u2"}), notifications.ErrDuplicateID)

	require.NoError(t, s.Delete(ctx, "u1", "n1"))
	assert.ErrorIs(t, s.Create(ctx, notifications.Notification{ID: "n1", UserID: "u1"}), notifications.ErrDuplicateID)
}

func TestMemoryStorageReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := notifications.NewMemoryStorage()
	require.NoError(t, s.Create(ctx, notifications.Notification{
		ID: "n1", UserID: "u1", Metadata: map[string]any{"course": "math"},
	}))

	got, err := s.Get(ctx, "u1", "n1")
	require.NoError(t, err)
	got.Metadata["course"] = "changed"

	again, err := s.Get(ctx, "u1", "n1")
	require.NoError(t, err)
	assert.Equal(t, "math", again.Metadata["course"])
}

func TestMemoryStorageUnreadSummary(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := notifications.NewMemoryStorage()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	soon := now.Add(time.Minute)
	later := now.Add(time.Hour)
	past := now.Add(-time.Minute)

	require.NoError(t, s.Create(ctx, notifications.Notification{ID: "1", UserID: "u1", ExpiresAt: &later}))
	require.NoError(t, s.Create(ctx, notifications.Notification{ID: "2", UserID: "u1", ExpiresAt: &soon}))
	require.NoError(t, s.Create(ctx, notifications.Notification{ID: "3", UserID: "u1", ExpiresAt: &past}))
	require.NoError(t, s.Create(ctx, notifications.Notification{ID: "4", UserID: "u1", Read: true}))
	require.NoError(t, s.Create(ctx, notifications.Notification{ID: "5", UserID: "u1"}))

	sum, err := s.UnreadSummary(ctx, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Count)
	require.NotNil(t, sum.NextExpiry)
	assert.True(t, sum.NextExpiry.Equal(soon))

	changed, err := s.MarkAllRead(ctx, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, 3, changed)

	expired, err := s.Get(ctx, "u1", "3")
	require.NoError(t, err)
	assert.False(t, expired.Read, "expired rows are left untouched")
}
