package preferences

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/notifier/pkg/logger"
)

// Manager reads and updates preferences, creating default rows on demand.
type Manager struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger

	locks sync.Map // user id -> *sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger for the Manager.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the time source used for UpdatedAt.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a preference manager over store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the user's preferences, storing defaults on first access.
func (m *Manager) Get(ctx context.Context, userID string) (Preference, error) {
	if userID == "" {
		return Preference{}, ErrUserIDRequired
	}

	p, err := m.store.Get(ctx, userID)
	switch {
	case err == nil:
		return p, nil
	case !errors.Is(err, ErrNotFound):
		return Preference{}, storeErr(err)
	}

	def := Defaults(userID)
	def.UpdatedAt = m.now()
	p, err = m.store.Insert(ctx, def)
	if err != nil {
		return Preference{}, storeErr(err)
	}

	m.logger.LogAttrs(ctx, slog.LevelDebug, "default preferences created", logger.UserID(userID))
	return p, nil
}

// Update applies patch to the user's preferences and returns the result.
func (m *Manager) Update(ctx context.Context, userID string, patch Patch) (Preference, error) {
	if userID == "" {
		return Preference{}, ErrUserIDRequired
	}
	if err := patch.Validate(); err != nil {
		return Preference{}, err
	}

	unlock := m.lock(userID)
	defer unlock()

	current, err := m.Get(ctx, userID)
	if err != nil {
		return Preference{}, err
	}

	updated := patch.Apply(current)
	updated.UpdatedAt = m.now()
	if err := m.store.Save(ctx, updated); err != nil {
		return Preference{}, storeErr(err)
	}
	return updated, nil
}

// DigestRecipients lists users subscribed to the given digest.
func (m *Manager) DigestRecipients(ctx context.Context, period DigestPeriod) ([]Preference, error) {
	rows, err := m.store.ListDigestRecipients(ctx, period)
	if err != nil {
		return nil, storeErr(err)
	}
	return rows, nil
}

func (m *Manager) lock(userID string) func() {
	v, _ := m.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func storeErr(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return errors.Join(ErrStoreUnavailable, err)
}
