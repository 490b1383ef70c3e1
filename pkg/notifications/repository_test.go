package notifications_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifier/pkg/logger"
	"github.com/dmitrymomot/notifier/pkg/notifications"
)

type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Create(ctx context.Context, n notifications.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *MockStorage) Get(ctx context.Context, userID, id string) (notifications.Notification, error) {
	args := m.Called(ctx, userID, id)
	return args.Get(0).(notifications.Notification), args.Error(1)
}

func (m *MockStorage) List(ctx context.Context, userID string, opts notifications.ListOptions) ([]notifications.Notification, error) {
	args := m.Called(ctx, userID, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]notifications.Notification), args.Error(1)
}

func (m *MockStorage) MarkRead(ctx context.Context, userID, id string, at time.Time) (bool, error) {
	args := m.Called(ctx, userID, id, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error) {
	args := m.Called(ctx, userID, at)
	return args.Int(0), args.Error(1)
}

func (m *MockStorage) Delete(ctx context.Context, userID, id string) error {
	args := m.Called(ctx, userID, id)
	return args.Error(0)
}

func (m *MockStorage) UnreadSummary(ctx context.Context, userID string, at time.Time) (notifications.UnreadSummary, error) {
	args := m.Called(ctx, userID, at)
	return args.Get(0).(notifications.UnreadSummary), args.Error(1)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newRepo(t *testing.T, opts ...notifications.RepositoryOption) (*notifications.Repository, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	opts = append([]notifications.RepositoryOption{
		notifications.WithClock(clk.Now),
		notifications.WithRepositoryLogger(logger.Discard()),
	}, opts...)
	return notifications.NewRepository(notifications.NewMemoryStorage(), opts...), clk
}

func TestRepositoryCreate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   notifications.Notification
		wantErr error
		check   func(t *testing.T, n notifications.Notification)
	}{
		{
			name:  "defaults applied",
			input: notifications.Notification{UserID: "u1", Title: "Hello"},
			check: func(t *testing.T, n notifications.Notification) {
				assert.NotEmpty(t, n.ID)
				assert.Equal(t, notifications.TypeInfo, n.Type)
				assert.Equal(t, notifications.PriorityMedium, n.Priority)
				assert.False(t, n.Read)
				assert.False(t, n.CreatedAt.IsZero())
			},
		},
		{
			name: "caller id and read state ignored",
			input: notifications.Notification{
				ID: "forced", UserID: "u1", Read: true, Type: notifications.TypeAssignment, Priority: notifications.PriorityHigh,
			},
			check: func(t *testing.T, n notifications.Notification) {
				assert.NotEqual(t, "forced", n.ID)
				assert.False(t, n.Read)
				assert.Equal(t, notifications.TypeAssignment, n.Type)
				assert.Equal(t, notifications.PriorityHigh, n.Priority)
			},
		},
		{
			name:    "missing user",
			input:   notifications.Notification{Title: "x"},
			wantErr: notifications.ErrUserIDRequired,
		},
		{
			name:    "invalid type",
			input:   notifications.Notification{UserID: "u1", Type: "bogus"},
			wantErr: notifications.ErrInvalidType,
		},
		{
			name:    "invalid priority",
			input:   notifications.Notification{UserID: "u1", Priority: "urgent"},
			wantErr: notifications.ErrInvalidPriority,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			repo, _ := newRepo(t)

			n, err := repo.Create(context.Background(), tt.input)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, n)

			stored, err := repo.Get(context.Background(), n.UserID, n.ID)
			require.NoError(t, err)
			assert.Equal(t, n.ID, stored.ID)
		})
	}
}

func TestRepositoryStoreUnavailable(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	storage := &MockStorage{}
	storage.On("Create", mock.Anything, mock.Anything).Return(boom)
	storage.On("Get", mock.Anything, "u1", "missing").Return(notifications.Notification{}, notifications.ErrNotFound)
	storage.On("Get", mock.Anything, "u1", "n1").Return(notifications.Notification{}, boom)
	storage.On("MarkAllRead", mock.Anything, "u1", mock.Anything).Return(0, boom)
	storage.On("UnreadSummary", mock.Anything, "u1", mock.Anything).Return(notifications.UnreadSummary{}, boom)

	repo := notifications.NewRepository(storage, notifications.WithRepositoryLogger(logger.Discard()))
	ctx := context.Background()

	_, err := repo.Create(ctx, notifications.Notification{UserID: "u1"})
	require.ErrorIs(t, err, notifications.ErrStoreUnavailable)
	assert.ErrorIs(t, err, boom)

	_, err = repo.Get(ctx, "u1", "missing")
	assert.ErrorIs(t, err, notifications.ErrNotFound)
	assert.NotErrorIs(t, err, notifications.ErrStoreUnavailable)

	_, err = repo.Get(ctx, "u1", "n1")
	assert.ErrorIs(t, err, notifications.ErrStoreUnavailable)

	_, err = repo.MarkAllRead(ctx, "u1")
	assert.ErrorIs(t, err, notifications.ErrStoreUnavailable)

	_, err = repo.UnreadCount(ctx, "u1")
	assert.ErrorIs(t, err, notifications.ErrStoreUnavailable)

	storage.AssertExpectations(t)
}

func TestRepositoryReadState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, _ := newRepo(t)

	a, err := repo.Create(ctx, notifications.Notification{UserID: "u1", Title: "a"})
	require.NoError(t, err)
	_, err = repo.Create(ctx, notifications.Notification{UserID: "u1", Title: "b"})
	require.NoError(t, err)

	count, err := repo.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	t.Run("mark read is idempotent", func(t *testing.T) {
		require.NoError(t, repo.MarkRead(ctx, "u1", a.ID))
		first, err := repo.UnreadCount(ctx, "u1")
		require.NoError(t, err)

		require.NoError(t, repo.MarkRead(ctx, "u1", a.ID))
		second, err := repo.UnreadCount(ctx, "u1")
		require.NoError(t, err)

		assert.Equal(t, 1, first)
		assert.Equal(t, first, second)

		got, err := repo.Get(ctx, "u1", a.ID)
		require.NoError(t, err)
		assert.True(t, got.Read)
		assert.NotNil(t, got.ReadAt)
	})

	t.Run("mark all read twice", func(t *testing.T) {
		changed, err := repo.MarkAllRead(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, changed)

		changed, err = repo.MarkAllRead(ctx, "u1")
		require.NoError(t, err)
		assert.Zero(t, changed)

		count, err := repo.UnreadCount(ctx, "u1")
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("other user cannot read", func(t *testing.T) {
		assert.ErrorIs(t, repo.MarkRead(ctx, "u2", a.ID), notifications.ErrNotFound)
		_, err := repo.Get(ctx, "u2", a.ID)
		assert.ErrorIs(t, err, notifications.ErrNotFound)
	})
}

func TestRepositoryDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, _ := newRepo(t)

	n, err := repo.Create(ctx, notifications.Notification{UserID: "u1"})
	require.NoError(t, err)
	_, err = repo.Create(ctx, notifications.Notification{UserID: "u1"})
	require.NoError(t, err)

	before, err := repo.UnreadCount(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, "u1", n.ID))

	after, err := repo.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before-1, after)

	_, err = repo.Get(ctx, "u1", n.ID)
	assert.ErrorIs(t, err, notifications.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "u1", n.ID), notifications.ErrNotFound)
	assert.ErrorIs(t, repo.MarkRead(ctx, "u1", n.ID), notifications.ErrNotFound)
}

func TestRepositoryExpiryBoundsCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := &clock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	repo := notifications.NewRepository(notifications.NewMemoryStorage(),
		notifications.WithClock(clk.Now),
		notifications.WithCacheTTL(time.Hour),
		notifications.WithUnreadCache(notifications.NewMemoryUnreadCache(notifications.WithCacheClock(clk.Now))),
		notifications.WithRepositoryLogger(logger.Discard()),
	)

	exp := clk.Now().Add(10 * time.Minute)
	_, err := repo.Create(ctx, notifications.Notification{UserID: "u1", ExpiresAt: &exp})
	require.NoError(t, err)
	_, err = repo.Create(ctx, notifications.Notification{UserID: "u1"})
	require.NoError(t, err)

	count, err := repo.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	clk.Advance(10 * time.Minute)

	count, err = repo.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	items, err := repo.List(ctx, "u1", notifications.ListOptions{UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	all, err := repo.List(ctx, "u1", notifications.ListOptions{IncludeExpired: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

type recordingCache struct {
	mu   sync.Mutex
	ttls []time.Duration
	*notifications.MemoryUnreadCache
}

func (c *recordingCache) Set(ctx context.Context, userID string, gen uint64, count int, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	c.ttls = append(c.ttls, ttl)
	c.mu.Unlock()
	return c.MemoryUnreadCache.Set(ctx, userID, gen, count, ttl)
}

// interleavingStorage runs during once, right after the first unread summary
// is read and before the caller gets it back.
type interleavingStorage struct {
	notifications.Storage
	once   sync.Once
	during func()
}

func (s *interleavingStorage) UnreadSummary(ctx context.Context, userID string, at time.Time) (notifications.UnreadSummary, error) {
	sum, err := s.Storage.UnreadSummary(ctx, userID, at)
	s.once.Do(s.during)
	return sum, err
}

func TestRepositoryRecountDoesNotCacheRacedCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := notifications.NewMemoryStorage()
	cache := notifications.NewMemoryUnreadCache()

	// two repositories over one storage and one cache behave like two instances
	other := notifications.NewRepository(storage,
		notifications.WithUnreadCache(cache),
		notifications.WithRepositoryLogger(logger.Discard()),
	)
	raced := &interleavingStorage{Storage: storage}
	repo := notifications.NewRepository(raced,
		notifications.WithUnreadCache(cache),
		notifications.WithRepositoryLogger(logger.Discard()),
	)
	raced.during = func() {
		_, err := other.Create(ctx, notifications.Notification{UserID: "u1", Title: "late"})
		require.NoError(t, err)
	}

	count, err := repo.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, count, "count reflects storage at read time")

	_, ok, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok, "count read before the create must not be cached")

	count, err = repo.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	items, err := repo.List(ctx, "u1", notifications.ListOptions{UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, items, count)
}

func TestRepositoryCacheTTLUsesNextExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache := &recordingCache{MemoryUnreadCache: notifications.NewMemoryUnreadCache()}
	repo, clk := newRepo(t, notifications.WithUnreadCache(cache), notifications.WithCacheTTL(time.Hour))

	exp := clk.Now().Add(90 * time.Second)
	_, err := repo.Create(ctx, notifications.Notification{UserID: "u1", ExpiresAt: &exp})
	require.NoError(t, err)

	_, err = repo.UnreadCount(ctx, "u1")
	require.NoError(t, err)

	require.Len(t, cache.ttls, 1)
	assert.Equal(t, 90*time.Second, cache.ttls[0])
}

func TestRepositoryUnreadCountMatchesList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, clk := newRepo(t)

	var ids []string
	for i := range 20 {
		n := notifications.Notification{UserID: "u1", Title: fmt.Sprintf("n%d", i)}
		if i%4 == 0 {
			exp := clk.Now().Add(time.Duration(i+1) * time.Minute)
			n.ExpiresAt = &exp
		}
		created, err := repo.Create(ctx, n)
		require.NoError(t, err)
		ids = append(ids, created.ID)
		clk.Advance(time.Second)
	}

	steps := []func() error{
		func() error { return repo.MarkRead(ctx, "u1", ids[1]) },
		func() error { return repo.MarkRead(ctx, "u1", ids[1]) },
		func() error { return repo.Delete(ctx, "u1", ids[2]) },
		func() error { clk.Advance(5 * time.Minute); return nil },
		func() error { return repo.Delete(ctx, "u1", ids[9]) },
		func() error { _, err := repo.MarkAllRead(ctx, "u1"); return err },
		func() error {
			_, err := repo.Create(ctx, notifications.Notification{UserID: "u1"})
			return err
		},
	}

	for i, step := range steps {
		require.NoError(t, step(), "step %d", i)

		unread, err := repo.List(ctx, "u1", notifications.ListOptions{UnreadOnly: true})
		require.NoError(t, err)
		count, err := repo.Recount(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, len(unread), count, "step %d", i)
	}
}

func TestRepositoryConcurrentUsers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, _ := newRepo(t)

	var wg sync.WaitGroup
	for u := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			userID := fmt.Sprintf("user-%d", u)
			for range 25 {
				n, err := repo.Create(ctx, notifications.Notification{UserID: userID})
				if !assert.NoError(t, err) {
					return
				}
				_, _ = repo.UnreadCount(ctx, userID)
				assert.NoError(t, repo.MarkRead(ctx, userID, n.ID))
			}
		}()
	}
	wg.Wait()

	for u := range 8 {
		count, err := repo.UnreadCount(ctx, fmt.Sprintf("user-%d", u))
		require.NoError(t, err)
		assert.Zero(t, count)
	}
}
