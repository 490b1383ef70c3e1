package notifications_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifier/pkg/notifications"
)

func TestParsePriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    notifications.Priority
		wantErr bool
	}{
		{in: "high", want: notifications.PriorityHigh},
		{in: " Medium ", want: notifications.PriorityMedium},
		{in: "LOW", want: notifications.PriorityLow},
		{in: "urgent", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := notifications.ParsePriority(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, notifications.ErrInvalidPriority)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNotificationExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	exp := now

	n := notifications.Notification{ExpiresAt: &exp}
	assert.True(t, n.IsExpired(now), "expiry instant itself counts as expired")
	assert.False(t, n.IsExpired(now.Add(-time.Nanosecond)))
	assert.False(t, n.CountsAsUnread(now))

	assert.False(t, notifications.Notification{}.IsExpired(now))
	assert.True(t, notifications.Notification{}.CountsAsUnread(now))
	assert.False(t, notifications.Notification{Read: true}.CountsAsUnread(now))
}
