package push

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/dmitrymomot/notifier/pkg/logger"
	"github.com/dmitrymomot/notifier/pkg/metrics"
)

const (
	DefaultMaxInFlight     = 16
	DefaultEndpointTimeout = 10 * time.Second
)

// Transport sends a single payload to a single endpoint. Failures should be
// reported as *DeliveryError; any other error is classified with Classify.
type Transport interface {
	Send(ctx context.Context, sub Subscription, payload Payload) error
}

// Result is the outcome for one endpoint. An empty Kind means success.
type Result struct {
	SubscriptionID string
	Host           string
	Kind           Kind
	Err            error
	Pruned         bool
}

// Report summarizes a Deliver call.
type Report struct {
	Results   []Result
	Delivered int
	Gone      int
	Transient int
	Failed    int
	Pruned    int
	// Skipped counts endpoints never attempted because ctx was cancelled.
	Skipped int
	// Err is set when the subscriptions could not be listed.
	Err error
}

// Manager registers subscriptions and fans payloads out to them.
type Manager struct {
	store     Store
	transport Transport
	sem       *semaphore.Weighted
	timeout   time.Duration
	pruneGone bool
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMaxInFlight bounds concurrent endpoint deliveries across all users.
func WithMaxInFlight(n int64) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithEndpointTimeout sets the timeout applied to each endpoint delivery.
func WithEndpointTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithPruneGone controls whether gone endpoints are deleted. Enabled by default.
func WithPruneGone(prune bool) ManagerOption {
	return func(m *Manager) {
		m.pruneGone = prune
	}
}

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithManagerLogger sets the logger for the Manager.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics records per-endpoint results.
func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// NewManager creates a push manager.
func NewManager(store Store, transport Transport, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		transport: transport,
		sem:       semaphore.NewWeighted(DefaultMaxInFlight),
		timeout:   DefaultEndpointTimeout,
		pruneGone: true,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewManagerFromConfig creates a manager using cfg limits.
func NewManagerFromConfig(cfg Config, store Store, transport Transport, opts ...ManagerOption) *Manager {
	base := []ManagerOption{
		WithMaxInFlight(cfg.MaxInFlight),
		WithEndpointTimeout(cfg.EndpointTimeout),
		WithPruneGone(cfg.PruneGone),
	}
	return NewManager(store, transport, append(base, opts...)...)
}

// Register stores a subscription for userID. Registering an endpoint the user
// already owns returns the existing subscription.
func (m *Manager) Register(ctx context.Context, userID, endpoint string, keys Keys) (Subscription, error) {
	if userID == "" || !validEndpoint(endpoint) || keys.P256dh == "" || keys.Auth == "" {
		return Subscription{}, ErrInvalidSubscription
	}

	if sub, err := m.existing(ctx, userID, endpoint); err == nil || !errors.Is(err, ErrNotFound) {
		return sub, err
	}

	sub := Subscription{
		ID:        uuid.New().String(),
		UserID:    userID,
		Endpoint:  endpoint,
		Keys:      keys,
		CreatedAt: m.now(),
	}
	if err := m.store.Create(ctx, sub); err != nil {
		if errors.Is(err, ErrDuplicateEndpoint) {
			// lost a race with a concurrent registration
			return m.existing(ctx, userID, endpoint)
		}
		return Subscription{}, storeErr(err)
	}

	m.logger.LogAttrs(ctx, slog.LevelInfo, "push subscription registered",
		logger.UserID(userID),
		logger.SubscriptionID(sub.ID),
		logger.Endpoint(sub.Host()),
	)
	return sub, nil
}

func (m *Manager) existing(ctx context.Context, userID, endpoint string) (Subscription, error) {
	sub, err := m.store.FindByEndpoint(ctx, endpoint)
	switch {
	case errors.Is(err, ErrNotFound):
		return Subscription{}, ErrNotFound
	case err != nil:
		return Subscription{}, storeErr(err)
	case sub.UserID != userID:
		return Subscription{}, ErrEndpointOwnedByAnotherUser
	}
	return sub, nil
}

// Unregister removes one of the user's subscriptions.
func (m *Manager) Unregister(ctx context.Context, userID, id string) error {
	if err := m.store.Delete(ctx, userID, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return storeErr(err)
	}
	return nil
}

// List returns the user's subscriptions.
func (m *Manager) List(ctx context.Context, userID string) ([]Subscription, error) {
	subs, err := m.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	return subs, nil
}

// Deliver sends payload to every subscription of userID. Failures are
// recorded in the report and never returned. Once ctx is cancelled no new
// endpoint is attempted.
func (m *Manager) Deliver(ctx context.Context, userID string, payload Payload) Report {
	subs, err := m.store.ListByUser(ctx, userID)
	if err != nil {
		m.logger.LogAttrs(ctx, slog.LevelError, "failed to list push subscriptions",
			logger.UserID(userID),
			logger.Error(err),
		)
		return Report{Err: storeErr(err)}
	}
	if len(subs) == 0 {
		return Report{}
	}

	results := make([]Result, len(subs))
	attempted := make([]bool, len(subs))
	var wg sync.WaitGroup

	for i, sub := range subs {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			break
		}
		attempted[i] = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer m.sem.Release(1)
			results[i] = m.send(ctx, sub, payload)
		}()
	}
	wg.Wait()

	rep := Report{Results: make([]Result, 0, len(subs))}
	for i, res := range results {
		if !attempted[i] {
			rep.Skipped++
			continue
		}
		switch res.Kind {
		case "":
			rep.Delivered++
		case KindGone:
			rep.Gone++
			if m.pruneGone {
				res.Pruned = m.prune(ctx, subs[i])
				if res.Pruned {
					rep.Pruned++
				}
			}
		case KindTransient:
			rep.Transient++
		default:
			rep.Failed++
		}
		m.metrics.RecordPushResult(resultLabel(res.Kind))
		rep.Results = append(rep.Results, res)
	}
	m.metrics.RecordPushPruned(rep.Pruned)

	return rep
}

func (m *Manager) send(ctx context.Context, sub Subscription, payload Payload) Result {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	res := Result{SubscriptionID: sub.ID, Host: sub.Host()}
	err := m.transport.Send(ctx, sub, payload)
	if err == nil {
		return res
	}

	res.Kind = Classify(err)
	res.Err = err
	m.logger.LogAttrs(ctx, slog.LevelWarn, "push delivery failed",
		logger.UserID(sub.UserID),
		logger.SubscriptionID(sub.ID),
		logger.Endpoint(res.Host),
		slog.String("kind", string(res.Kind)),
		logger.Error(err),
	)
	return res
}

func (m *Manager) prune(ctx context.Context, sub Subscription) bool {
	err := m.store.Delete(context.WithoutCancel(ctx), sub.UserID, sub.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		m.logger.LogAttrs(ctx, slog.LevelError, "failed to prune gone push subscription",
			logger.UserID(sub.UserID),
			logger.SubscriptionID(sub.ID),
			logger.Error(err),
		)
		return false
	}
	return err == nil
}

func resultLabel(k Kind) string {
	if k == "" {
		return "delivered"
	}
	return string(k)
}

func storeErr(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return errors.Join(ErrStoreUnavailable, err)
}
