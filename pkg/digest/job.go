package digest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/notifier/pkg/logger"
	"github.com/dmitrymomot/notifier/pkg/metrics"
	"github.com/dmitrymomot/notifier/pkg/notifications"
	"github.com/dmitrymomot/notifier/pkg/preferences"
)

// Digest is one aggregate delivery.
type Digest struct {
	UserID        string
	Period        Period
	Start         time.Time
	End           time.Time
	Timezone      string
	Notifications []notifications.Notification
	Unread        int
}

// Sender delivers a digest, typically by email.
type Sender interface {
	SendDigest(ctx context.Context, d Digest) error
}

// RecipientSource lists users subscribed to a digest period.
type RecipientSource interface {
	DigestRecipients(ctx context.Context, period preferences.DigestPeriod) ([]preferences.Preference, error)
}

// NotificationLister reads a user's notifications.
type NotificationLister interface {
	List(ctx context.Context, userID string, opts notifications.ListOptions) ([]notifications.Notification, error)
}

// Stats summarizes a run.
type Stats struct {
	Recipients int
	Sent       int
	Empty      int // windows with nothing to send, marked sent
	Skipped    int // already sent or claimed by another run
	NotDue     int // window complete, local send hour not reached yet
	Failed     int
}

// Job runs one digest period for every subscribed user.
type Job struct {
	recipients    RecipientSource
	notifications NotificationLister
	markers       MarkerStore
	sender        Sender

	claimTTL    time.Duration
	concurrency int
	sendHour    int
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// JobOption configures a Job.
type JobOption func(*Job)

// WithClaimTTL sets how long a pending claim blocks other runs.
func WithClaimTTL(d time.Duration) JobOption {
	return func(j *Job) {
		if d > 0 {
			j.claimTTL = d
		}
	}
}

// WithSendHour delays each user's digest until hour o'clock in the user's
// timezone on the day the window ends. Runs before that hour leave the window
// for a later run. The default 0 sends as soon as the window is complete.
func WithSendHour(hour int) JobOption {
	return func(j *Job) {
		if hour >= 0 && hour < 24 {
			j.sendHour = hour
		}
	}
}

// WithConcurrency bounds how many users are processed at once.
func WithConcurrency(n int) JobOption {
	return func(j *Job) {
		if n > 0 {
			j.concurrency = n
		}
	}
}

// WithJobLogger sets the job logger.
func WithJobLogger(l *slog.Logger) JobOption {
	return func(j *Job) {
		if l != nil {
			j.logger = l
		}
	}
}

// WithJobMetrics records run and per-user outcomes.
func WithJobMetrics(m *metrics.Metrics) JobOption {
	return func(j *Job) {
		j.metrics = m
	}
}

// NewJob creates a digest job.
func NewJob(recipients RecipientSource, list NotificationLister, markers MarkerStore, sender Sender, opts ...JobOption) *Job {
	j := &Job{
		recipients:    recipients,
		notifications: list,
		markers:       markers,
		sender:        sender,
		claimTTL:      30 * time.Minute,
		concurrency:   4,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeEmpty
	outcomeSkipped
	outcomeNotDue
	outcomeFailed
)

// Run delivers the period's digest to every subscribed user, using the window
// that is complete at now in each user's timezone. Users whose local send
// hour has not come yet are counted as NotDue and picked up by a later run. Per-user failures are
// counted in Stats; the returned error reports only a failed recipient lookup
// or cancellation.
func (j *Job) Run(ctx context.Context, period Period, now time.Time) (Stats, error) {
	start := time.Now()
	stats, err := j.run(ctx, period, now)

	result := "ok"
	if err != nil {
		result = "error"
	}
	j.metrics.RecordDigestRun(string(period), result, time.Since(start))
	j.metrics.RecordDigestOutcome(string(period), "sent", stats.Sent)
	j.metrics.RecordDigestOutcome(string(period), "empty", stats.Empty)
	j.metrics.RecordDigestOutcome(string(period), "skipped", stats.Skipped)
	j.metrics.RecordDigestOutcome(string(period), "not_due", stats.NotDue)
	j.metrics.RecordDigestOutcome(string(period), "failed", stats.Failed)

	j.logger.LogAttrs(ctx, slog.LevelInfo, "digest run finished",
		logger.Period(string(period)),
		slog.Int("recipients", stats.Recipients),
		slog.Int("sent", stats.Sent),
		slog.Int("empty", stats.Empty),
		slog.Int("skipped", stats.Skipped),
		slog.Int("not_due", stats.NotDue),
		slog.Int("failed", stats.Failed),
		logger.Duration(time.Since(start)),
		logger.Error(err),
	)
	return stats, err
}

func (j *Job) run(ctx context.Context, period Period, now time.Time) (Stats, error) {
	if period != Daily && period != Weekly {
		return Stats{}, ErrUnknownPeriod
	}

	users, err := j.recipients.DigestRecipients(ctx, period)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Recipients: len(users)}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(j.concurrency)

	for _, pref := range users {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := j.deliver(ctx, period, now, pref)
			mu.Lock()
			defer mu.Unlock()
			switch res {
			case outcomeSent:
				stats.Sent++
			case outcomeEmpty:
				stats.Empty++
			case outcomeSkipped:
				stats.Skipped++
			case outcomeNotDue:
				stats.NotDue++
			default:
				stats.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	return stats, ctx.Err()
}

func (j *Job) deliver(ctx context.Context, period Period, now time.Time, pref preferences.Preference) outcome {
	if ctx.Err() != nil {
		return outcomeSkipped
	}

	start, end, _ := Window(period, now, pref.Location())
	if now.Before(DueAt(end, j.sendHour)) {
		return outcomeNotDue
	}
	key := Key{UserID: pref.UserID, Period: period, WindowStart: start}
	attrs := []slog.Attr{
		logger.UserID(pref.UserID),
		logger.Period(string(period)),
		logger.Window(start, end),
	}

	claimed, err := j.markers.Claim(ctx, key, j.claimTTL)
	if err != nil {
		j.logger.LogAttrs(ctx, slog.LevelError, "failed to claim digest window", append(attrs, logger.Error(err))...)
		return outcomeFailed
	}
	if !claimed {
		return outcomeSkipped
	}

	items, err := j.notifications.List(ctx, pref.UserID, notifications.ListOptions{
		Since: &start,
		Until: &end,
		AsOf:  now,
	})
	if err != nil {
		j.release(ctx, key, attrs)
		j.logger.LogAttrs(ctx, slog.LevelError, "failed to load digest notifications", append(attrs, logger.Error(err))...)
		return outcomeFailed
	}

	if len(items) == 0 {
		if err := j.markers.MarkSent(ctx, key); err != nil {
			j.release(ctx, key, attrs)
			j.logger.LogAttrs(ctx, slog.LevelError, "failed to mark empty digest window", append(attrs, logger.Error(err))...)
			return outcomeFailed
		}
		return outcomeEmpty
	}

	d := Digest{
		UserID:        pref.UserID,
		Period:        period,
		Start:         start,
		End:           end,
		Timezone:      pref.Timezone,
		Notifications: items,
	}
	for _, n := range items {
		if !n.Read {
			d.Unread++
		}
	}

	if err := j.sender.SendDigest(ctx, d); err != nil {
		j.release(ctx, key, attrs)
		j.logger.LogAttrs(ctx, slog.LevelWarn, "digest delivery failed", append(attrs, logger.Error(err))...)
		return outcomeFailed
	}

	// The digest is out; never release from here on, or it would be re-sent.
	if err := j.markers.MarkSent(context.WithoutCancel(ctx), key); err != nil {
		j.logger.LogAttrs(ctx, slog.LevelError, "digest sent but marker not updated", append(attrs, logger.Error(err))...)
	}
	return outcomeSent
}

func (j *Job) release(ctx context.Context, key Key, attrs []slog.Attr) {
	err := j.markers.Release(context.WithoutCancel(ctx), key)
	if err != nil && !errors.Is(err, ErrMarkerNotFound) {
		j.logger.LogAttrs(ctx, slog.LevelError, "failed to release digest claim", append(attrs, logger.Error(err))...)
	}
}
