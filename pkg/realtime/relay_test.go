package realtime_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifier/pkg/logger"
	"github.com/dmitrymomot/notifier/pkg/notifications"
	"github.com/dmitrymomot/notifier/pkg/realtime"
)

type sliceFeed struct {
	changes []realtime.Change
	err     error
}

func (f sliceFeed) Run(ctx context.Context, handle func(context.Context, realtime.Change)) error {
	for _, c := range f.changes {
		handle(ctx, c)
	}
	if f.err != nil {
		return f.err
	}
	return context.Canceled
}

type MockLoader struct {
	mock.Mock
}

func (m *MockLoader) Get(ctx context.Context, userID, id string) (notifications.Notification, error) {
	args := m.Called(ctx, userID, id)
	return args.Get(0).(notifications.Notification), args.Error(1)
}

func TestRelay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	hub := newHub()
	defer hub.Close()
	sub := hub.Subscribe(ctx, "u1")

	loader := &MockLoader{}
	loader.On("Get", mock.Anything, "u1", "n1").Return(notifications.Notification{ID: "n1", UserID: "u1", Title: "hi"}, nil)
	loader.On("Get", mock.Anything, "u1", "gone").Return(notifications.Notification{}, notifications.ErrNotFound)

	feed := sliceFeed{changes: []realtime.Change{{ID: "gone", UserID: "u1"}, {ID: "n1", UserID: "u1"}}}
	relay := realtime.NewRelay(feed, loader, hub, realtime.WithRelayLogger(logger.Discard()))

	require.NoError(t, relay.Run(ctx))

	n, ok := receive(t, sub)
	require.True(t, ok)
	assert.Equal(t, "hi", n.Title)
	loader.AssertExpectations(t)
}

func TestRelayFeedError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection lost")
	relay := realtime.NewRelay(sliceFeed{err: boom}, &MockLoader{}, realtime.NopPublisher{}, realtime.WithRelayLogger(logger.Discard()))
	assert.ErrorIs(t, relay.Run(context.Background()), boom)
}
