package digest_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifier/pkg/digest"
	"github.com/dmitrymomot/notifier/pkg/logger"
	"github.com/dmitrymomot/notifier/pkg/notifications"
	"github.com/dmitrymomot/notifier/pkg/preferences"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []digest.Digest
	fails int
}

func (s *recordingSender) SendDigest(ctx context.Context, d digest.Digest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails > 0 {
		s.fails--
		return errors.New("smtp unavailable")
	}
	s.sent = append(s.sent, d)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type digestFixture struct {
	clock   time.Time
	created time.Time
	repo    *notifications.Repository
	prefs   *preferences.Manager
	markers *digest.MemoryMarkerStore
	sender  *recordingSender
	job     *digest.Job
}

func newDigestFixture(t *testing.T) *digestFixture {
	t.Helper()
	f := &digestFixture{
		clock:   time.Date(2025, 5, 14, 7, 0, 0, 0, time.UTC),
		markers: digest.NewMemoryMarkerStore(),
		sender:  &recordingSender{},
	}
	f.created = f.clock.Add(-20 * time.Hour) // inside yesterday's window
	f.repo = notifications.NewRepository(notifications.NewMemoryStorage(),
		notifications.WithClock(func() time.Time { return f.created }),
		notifications.WithRepositoryLogger(logger.Discard()),
	)
	f.prefs = preferences.NewManager(preferences.NewMemoryStore(), preferences.WithManagerLogger(logger.Discard()))
	f.job = digest.NewJob(f.prefs, f.repo, f.markers, f.sender, digest.WithJobLogger(logger.Discard()))
	return f
}

func (f *digestFixture) subscribeDaily(t *testing.T, userID string) {
	t.Helper()
	enabled := true
	_, err := f.prefs.Update(context.Background(), userID, preferences.Patch{DailyDigest: &enabled})
	require.NoError(t, err)
}

func TestJobRunIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDigestFixture(t)
	f.subscribeDaily(t, "u1")

	a, err := f.repo.Create(ctx, notifications.Notification{UserID: "u1", Title: "a"})
	require.NoError(t, err)
	_, err = f.repo.Create(ctx, notifications.Notification{UserID: "u1", Title: "b"})
	require.NoError(t, err)
	require.NoError(t, f.repo.MarkRead(ctx, "u1", a.ID))

	first, err := f.job.Run(ctx, digest.Daily, f.clock)
	require.NoError(t, err)
	assert.Equal(t, digest.Stats{Recipients: 1, Sent: 1}, first)

	second, err := f.job.Run(ctx, digest.Daily, f.clock.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, digest.Stats{Recipients: 1, Skipped: 1}, second)

	require.Equal(t, 1, f.sender.count())
	d := f.sender.sent[0]
	assert.Len(t, d.Notifications, 2, "digest includes read and unread notifications")
	assert.Equal(t, 1, d.Unread)
	assert.Equal(t, time.Date(2025, 5, 13, 0, 0, 0, 0, time.UTC), d.Start)
}

func TestJobRunConcurrentRuns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDigestFixture(t)
	f.subscribeDaily(t, "u1")
	_, err := f.repo.Create(ctx, notifications.Notification{UserID: "u1"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.job.Run(ctx, digest.Daily, f.clock)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.sender.count())
}

func TestJobRunEmptyWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDigestFixture(t)
	f.subscribeDaily(t, "u1")

	stats, err := f.job.Run(ctx, digest.Daily, f.clock)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Empty)
	assert.Zero(t, f.sender.count())

	start, _, _ := digest.Window(digest.Daily, f.clock, time.UTC)
	state, ok := f.markers.State(digest.Key{UserID: "u1", Period: digest.Daily, WindowStart: start})
	require.True(t, ok)
	assert.Equal(t, digest.StateSent, state)
}

func TestJobRunRetriesFailedSend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDigestFixture(t)
	f.sender.fails = 1
	f.subscribeDaily(t, "u1")
	_, err := f.repo.Create(ctx, notifications.Notification{UserID: "u1"})
	require.NoError(t, err)

	stats, err := f.job.Run(ctx, digest.Daily, f.clock)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	stats, err = f.job.Run(ctx, digest.Daily, f.clock)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 1, f.sender.count())
}

func TestJobRunExcludesExpiredAndOutOfWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDigestFixture(t)
	f.subscribeDaily(t, "u1")

	expired := f.clock.Add(-time.Hour)
	_, err := f.repo.Create(ctx, notifications.Notification{UserID: "u1", Title: "expired", ExpiresAt: &expired})
	require.NoError(t, err)
	_, err = f.repo.Create(ctx, notifications.Notification{UserID: "u1", Title: "kept"})
	require.NoError(t, err)

	f.created = f.clock.Add(-time.Minute) // today, outside yesterday's window
	_, err = f.repo.Create(ctx, notifications.Notification{UserID: "u1", Title: "today"})
	require.NoError(t, err)

	_, err = f.job.Run(ctx, digest.Daily, f.clock)
	require.NoError(t, err)
	require.Equal(t, 1, f.sender.count())
	require.Len(t, f.sender.sent[0].Notifications, 1)
	assert.Equal(t, "kept", f.sender.sent[0].Notifications[0].Title)
}

func TestJobRunOnlySubscribers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDigestFixture(t)
	f.subscribeDaily(t, "u1")
	_, err := f.prefs.Get(ctx, "u2") // defaults: no daily digest
	require.NoError(t, err)

	for _, u := range []string{"u1", "u2"} {
		_, err := f.repo.Create(ctx, notifications.Notification{UserID: u})
		require.NoError(t, err)
	}

	stats, err := f.job.Run(ctx, digest.Daily, f.clock)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Recipients)
	require.Equal(t, 1, f.sender.count())
	assert.Equal(t, "u1", f.sender.sent[0].UserID)
}

func TestJobRunCancelled(t *testing.T) {
	t.Parallel()

	f := newDigestFixture(t)
	f.subscribeDaily(t, "u1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.job.Run(ctx, digest.Daily, f.clock)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.sender.count())
}

func TestJobRunUnknownPeriod(t *testing.T) {
	t.Parallel()

	f := newDigestFixture(t)
	_, err := f.job.Run(context.Background(), "monthly", f.clock)
	assert.ErrorIs(t, err, digest.ErrUnknownPeriod)
}

func TestJobRunWaitsForLocalSendHour(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDigestFixture(t)
	job := digest.NewJob(f.prefs, f.repo, f.markers, f.sender,
		digest.WithSendHour(7),
		digest.WithJobLogger(logger.Discard()),
	)

	enabled := true
	for user, tz := range map[string]string{"west": "Pacific/Honolulu", "utc": "UTC"} {
		_, err := f.prefs.Update(ctx, user, preferences.Patch{DailyDigest: &enabled, Timezone: &tz})
		require.NoError(t, err)
	}
	honolulu, err := time.LoadLocation("Pacific/Honolulu")
	require.NoError(t, err)

	// May 13 10:00 in Honolulu, May 13 20:00 UTC
	f.created = time.Date(2025, 5, 13, 20, 0, 0, 0, time.UTC)
	for _, user := range []string{"west", "utc"} {
		_, err := f.repo.Create(ctx, notifications.Notification{UserID: user, Title: "hi"})
		require.NoError(t, err)
	}

	// 07:00 UTC is 21:00 of May 13 in Honolulu: only its empty May 12 window is closed
	stats, err := job.Run(ctx, digest.Daily, time.Date(2025, 5, 14, 7, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, digest.Stats{Recipients: 2, Sent: 1, Empty: 1}, stats)
	require.Equal(t, 1, f.sender.count())
	assert.Equal(t, "utc", f.sender.sent[0].UserID)

	// 06:00 in Honolulu: the May 13 window is complete but not due yet
	stats, err = job.Run(ctx, digest.Daily, time.Date(2025, 5, 14, 16, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, digest.Stats{Recipients: 2, Skipped: 1, NotDue: 1}, stats)
	assert.Equal(t, 1, f.sender.count())

	// 07:00 in Honolulu
	stats, err = job.Run(ctx, digest.Daily, time.Date(2025, 5, 14, 17, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, digest.Stats{Recipients: 2, Sent: 1, Skipped: 1}, stats)
	require.Equal(t, 2, f.sender.count())

	d := f.sender.sent[1]
	assert.Equal(t, "west", d.UserID)
	assert.True(t, d.Start.Equal(time.Date(2025, 5, 13, 0, 0, 0, 0, honolulu)), "got %s", d.Start)
	require.Len(t, d.Notifications, 1)
}
