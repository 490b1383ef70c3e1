package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dmitrymomot/notifier/pkg/logger"
	"github.com/dmitrymomot/notifier/pkg/metrics"
	"github.com/dmitrymomot/notifier/pkg/notifications"
	"github.com/dmitrymomot/notifier/pkg/preferences"
	"github.com/dmitrymomot/notifier/pkg/push"
	"github.com/dmitrymomot/notifier/pkg/quiethours"
	"github.com/dmitrymomot/notifier/pkg/realtime"
)

// Repository persists notifications.
type Repository interface {
	Create(ctx context.Context, n notifications.Notification) (notifications.Notification, error)
}

// PreferenceSource loads a user's preferences.
type PreferenceSource interface {
	Get(ctx context.Context, userID string) (preferences.Preference, error)
}

// PushDeliverer fans a payload out to a user's push endpoints.
type PushDeliverer interface {
	Deliver(ctx context.Context, userID string, payload push.Payload) push.Report
}

// EmailNotifier sends a single notification by email.
type EmailNotifier interface {
	SendNotification(ctx context.Context, n notifications.Notification) error
}

// Decision describes what a dispatch did with one channel.
type Decision string

const (
	DecisionEnqueued    Decision = "enqueued"
	DecisionDisabled    Decision = "disabled"    // preference toggle off
	DecisionSuppressed  Decision = "suppressed"  // quiet hours
	DecisionSkipped     Decision = "skipped"     // preferences could not be loaded
	DecisionUnavailable Decision = "unavailable" // no collaborator configured
)

// publishTimeout bounds a single realtime publish.
const publishTimeout = 5 * time.Second

// Report is passed to the observer after every successful dispatch.
type Report struct {
	Notification notifications.Notification
	Route        Route
	Realtime     Decision
	Push         Decision
	Email        Decision
	QuietHours   quiethours.Decision
}

// Dispatcher is the single entry point for domain events.
type Dispatcher struct {
	repo     Repository
	prefs    PreferenceSource
	realtime realtime.Publisher
	push     PushDeliverer
	email    EmailNotifier

	pushIcon  string
	pushBadge string
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
	observer  func(Report)

	locks   sync.Map // user id -> *sync.Mutex
	ordered *userQueue

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	tasks  sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRealtime sets the realtime publisher.
func WithRealtime(p realtime.Publisher) Option {
	return func(d *Dispatcher) {
		if p != nil {
			d.realtime = p
		}
	}
}

// WithPush enables the push channel.
func WithPush(p PushDeliverer) Option {
	return func(d *Dispatcher) {
		d.push = p
	}
}

// WithEmail enables the email channel.
func WithEmail(e EmailNotifier) Option {
	return func(d *Dispatcher) {
		d.email = e
	}
}

// WithPushAssets sets the icon and badge URLs attached to push payloads.
func WithPushAssets(icon, badge string) Option {
	return func(d *Dispatcher) {
		d.pushIcon = icon
		d.pushBadge = badge
	}
}

// WithClock overrides the time source used for quiet hours.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics records dispatch and channel outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithObserver registers fn to receive the channel decisions of every
// successful dispatch. fn runs on a background task once push and email have
// been routed; Wait returns only after it did.
func WithObserver(fn func(Report)) Option {
	return func(d *Dispatcher) {
		d.observer = fn
	}
}

// New creates a dispatcher. Without WithRealtime, WithPush and WithEmail the
// corresponding channels are unavailable.
func New(repo Repository, prefs PreferenceSource, opts ...Option) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		repo:     repo,
		prefs:    prefs,
		realtime: realtime.NopPublisher{},
		now:      time.Now,
		logger:   slog.Default(),
		ordered:  newUserQueue(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch persists the notification for e and schedules its delivery. Only
// persistence failures are returned; they wrap notifications.ErrStoreUnavailable.
//
// Realtime publishes are queued per user under the same lock as the persist,
// so sessions observe a user's notifications in the order they were stored.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) (notifications.Notification, error) {
	route, ok := Lookup(e.Kind)
	if !ok {
		return notifications.Notification{}, fmt.Errorf("%w: %q", ErrUnknownEvent, e.Kind)
	}
	if e.UserID == "" {
		return notifications.Notification{}, ErrUserIDRequired
	}
	if e.Priority != "" && !e.Priority.Valid() {
		return notifications.Notification{}, fmt.Errorf("%w: %q", notifications.ErrInvalidPriority, e.Priority)
	}
	if d.isClosed() {
		return notifications.Notification{}, ErrDispatcherClosed
	}

	unlock := d.lock(e.UserID)
	start := time.Now()
	n, err := d.repo.Create(ctx, e.notification(route))
	if err != nil {
		unlock()
		d.metrics.RecordDispatch(string(e.Kind), "error", time.Since(start))
		d.logger.LogAttrs(ctx, slog.LevelError, "failed to persist notification",
			logger.EventKind(string(e.Kind)),
			logger.UserID(e.UserID),
			logger.Error(err),
		)
		return notifications.Notification{}, fmt.Errorf("dispatch %s: %w", e.Kind, err)
	}
	d.metrics.RecordDispatch(string(e.Kind), "ok", time.Since(start))

	rep := Report{Notification: n, Route: route}
	rep.Realtime = d.fanOutRealtime(ctx, n)
	unlock()

	if !d.spawn(ctx, "route", n, func(ctx context.Context) string {
		d.route(ctx, rep)
		return "routed"
	}) {
		rep.Push, rep.Email = DecisionUnavailable, DecisionUnavailable
		d.report(rep)
	}
	return n, nil
}

// fanOutRealtime queues the publish of n behind the user's earlier ones.
func (d *Dispatcher) fanOutRealtime(ctx context.Context, n notifications.Notification) Decision {
	if !d.track() {
		return DecisionUnavailable
	}
	task := func() {
		d.run(ctx, "realtime", n, func(ctx context.Context) string {
			ctx, cancel := context.WithTimeout(ctx, publishTimeout)
			defer cancel()
			if err := d.realtime.Publish(ctx, n.UserID, n); err != nil {
				d.logger.LogAttrs(ctx, slog.LevelWarn, "realtime publish failed",
					logger.UserID(n.UserID),
					logger.NotificationID(n.ID),
					logger.Error(err),
				)
				return "failed"
			}
			return "delivered"
		})
	}
	if d.ordered.push(n.UserID, task) {
		go d.ordered.drain(n.UserID)
	}
	return DecisionEnqueued
}

// route loads the user's preferences and schedules push and email.
func (d *Dispatcher) route(ctx context.Context, rep Report) {
	n := rep.Notification
	pref, err := d.prefs.Get(ctx, n.UserID)
	if err != nil {
		d.logger.LogAttrs(ctx, slog.LevelWarn, "preferences unavailable, skipping push and email",
			logger.UserID(n.UserID),
			logger.NotificationID(n.ID),
			logger.Error(err),
		)
		rep.Push, rep.Email = DecisionSkipped, DecisionSkipped
	} else {
		rep.Push, rep.QuietHours = d.fanOutPush(ctx, n, rep.Route, pref)
		rep.Email = d.fanOutEmail(ctx, n, rep.Route, pref)
	}
	d.report(rep)
}

func (d *Dispatcher) report(rep Report) {
	d.metrics.RecordChannel("push", string(rep.Push))
	d.metrics.RecordChannel("email", string(rep.Email))
	if d.observer != nil {
		d.observer(rep)
	}
}

func (d *Dispatcher) fanOutPush(ctx context.Context, n notifications.Notification, r Route, pref preferences.Preference) (Decision, quiethours.Decision) {
	if d.push == nil {
		return DecisionUnavailable, quiethours.Decision{}
	}
	if !pref.Push.Enabled(r.Category) {
		return DecisionDisabled, quiethours.Decision{}
	}

	qh := quiethours.Evaluate(pref.QuietHours, pref.Timezone, d.now(), n.Priority)
	if qh.SuppressPush {
		d.logger.LogAttrs(ctx, slog.LevelDebug, "push suppressed by quiet hours",
			logger.UserID(n.UserID),
			logger.NotificationID(n.ID),
		)
		return DecisionSuppressed, qh
	}

	payload := push.Payload{
		Title:   n.Title,
		Body:    n.Message,
		URL:     n.ActionURL,
		Icon:    d.pushIcon,
		Badge:   d.pushBadge,
		Urgency: urgency(n.Priority),
	}
	ok := d.spawn(ctx, "push", n, func(ctx context.Context) string {
		rep := d.push.Deliver(ctx, n.UserID, payload)
		switch {
		case rep.Err != nil:
			return "failed"
		case rep.Delivered == 0 && len(rep.Results) > 0:
			return "failed"
		}
		return "delivered"
	})
	if !ok {
		return DecisionUnavailable, qh
	}
	return DecisionEnqueued, qh
}

func (d *Dispatcher) fanOutEmail(ctx context.Context, n notifications.Notification, r Route, pref preferences.Preference) Decision {
	if d.email == nil {
		return DecisionUnavailable
	}
	if !pref.Email.Enabled(r.Category) {
		return DecisionDisabled
	}
	ok := d.spawn(ctx, "email", n, func(ctx context.Context) string {
		if err := d.email.SendNotification(ctx, n); err != nil {
			d.logger.LogAttrs(ctx, slog.LevelWarn, "email delivery failed",
				logger.UserID(n.UserID),
				logger.NotificationID(n.ID),
				logger.Error(err),
			)
			return "failed"
		}
		return "delivered"
	})
	if !ok {
		return DecisionUnavailable
	}
	return DecisionEnqueued
}

// spawn runs fn in the background as a tracked task.
func (d *Dispatcher) spawn(ctx context.Context, channel string, n notifications.Notification, fn func(context.Context) string) bool {
	if !d.track() {
		return false
	}
	go d.run(ctx, channel, n, fn)
	return true
}

// track registers a task unless the dispatcher is shut down. Every successful
// call must be paired with run.
func (d *Dispatcher) track() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.tasks.Add(1)
	return true
}

// run executes a tracked task. The task keeps the values of ctx but not its
// cancellation; it is cancelled by Shutdown instead.
func (d *Dispatcher) run(ctx context.Context, channel string, n notifications.Notification, fn func(context.Context) string) {
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(d.ctx, cancel)

	defer d.tasks.Done()
	defer cancel()
	defer stop()
	defer func() {
		if rec := recover(); rec != nil {
			d.metrics.RecordChannel(channel, "panic")
			d.logger.LogAttrs(taskCtx, slog.LevelError, "background delivery panicked",
				logger.Channel(channel),
				logger.UserID(n.UserID),
				logger.NotificationID(n.ID),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	outcome := fn(taskCtx)
	d.metrics.RecordChannel(channel, outcome)
}

// Wait blocks until every background task has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown rejects new dispatches, cancels running background tasks and
// waits for them to return or for ctx to be done.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	return d.Wait(ctx)
}

func (d *Dispatcher) lock(userID string) func() {
	v, _ := d.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (d *Dispatcher) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func urgency(p notifications.Priority) push.Urgency {
	switch p {
	case notifications.PriorityHigh:
		return push.UrgencyHigh
	case notifications.PriorityLow:
		return push.UrgencyLow
	}
	return push.UrgencyNormal
}
