package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/notifier/pkg/logger"
)

// DefaultCacheTTL bounds how long an unread count may be served from cache.
const DefaultCacheTTL = 5 * time.Minute

// Repository is the single entry point for notification records. It keeps the
// unread counter consistent with storage on every mutation.
type Repository struct {
	storage  Storage
	cache    UnreadCache
	cacheTTL time.Duration
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger

	locks sync.Map // user id -> *sync.Mutex
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithUnreadCache sets the unread counter cache. A nil cache disables caching.
func WithUnreadCache(cache UnreadCache) RepositoryOption {
	return func(r *Repository) {
		r.cache = cache
	}
}

// WithCacheTTL sets the upper bound for cached unread counts.
func WithCacheTTL(ttl time.Duration) RepositoryOption {
	return func(r *Repository) {
		if ttl > 0 {
			r.cacheTTL = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) RepositoryOption {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator overrides the notification id generator.
func WithIDGenerator(fn func() string) RepositoryOption {
	return func(r *Repository) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// WithRepositoryLogger sets the logger for the Repository.
func WithRepositoryLogger(l *slog.Logger) RepositoryOption {
	return func(r *Repository) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRepository creates a repository on top of the given storage.
func NewRepository(storage Storage, opts ...RepositoryOption) *Repository {
	r := &Repository{
		storage:  storage,
		cache:    NewMemoryUnreadCache(),
		cacheTTL: DefaultCacheTTL,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Create persists a new unread notification. ID, CreatedAt and read state are
// assigned by the repository; Type defaults to info and Priority to medium.
func (r *Repository) Create(ctx context.Context, n Notification) (Notification, error) {
	if n.UserID == "" {
		return Notification{}, ErrUserIDRequired
	}
	if n.Type == "" {
		n.Type = TypeInfo
	}
	if !n.Type.Valid() {
		return Notification{}, ErrInvalidType
	}
	if n.Priority == "" {
		n.Priority = PriorityMedium
	}
	if !n.Priority.Valid() {
		return Notification{}, ErrInvalidPriority
	}

	n.ID = r.newID()
	n.CreatedAt = r.now()
	n.Read = false
	n.ReadAt = nil

	unlock := r.lock(n.UserID)
	defer unlock()

	if err := r.storage.Create(ctx, n); err != nil {
		return Notification{}, r.storeErr(err)
	}
	r.invalidate(ctx, n.UserID)

	return n, nil
}

// Get returns a notification owned by userID.
func (r *Repository) Get(ctx context.Context, userID, id string) (Notification, error) {
	n, err := r.storage.Get(ctx, userID, id)
	if err != nil {
		return Notification{}, r.storeErr(err)
	}
	return n, nil
}

// List returns the user's notifications, newest first.
func (r *Repository) List(ctx context.Context, userID string, opts ListOptions) ([]Notification, error) {
	if opts.AsOf.IsZero() {
		opts.AsOf = r.now()
	}
	items, err := r.storage.List(ctx, userID, opts)
	if err != nil {
		return nil, r.storeErr(err)
	}
	return items, nil
}

// MarkRead marks a single notification as read. Marking an already read
// notification is a no-op.
func (r *Repository) MarkRead(ctx context.Context, userID, id string) error {
	unlock := r.lock(userID)
	defer unlock()

	changed, err := r.storage.MarkRead(ctx, userID, id, r.now())
	if err != nil {
		return r.storeErr(err)
	}
	if changed {
		r.invalidate(ctx, userID)
	}
	return nil
}

// MarkAllRead marks every unread, non-expired notification of the user as read
// and returns how many changed.
func (r *Repository) MarkAllRead(ctx context.Context, userID string) (int, error) {
	unlock := r.lock(userID)
	defer unlock()

	changed, err := r.storage.MarkAllRead(ctx, userID, r.now())
	if err != nil {
		return 0, r.storeErr(err)
	}
	if changed > 0 {
		r.invalidate(ctx, userID)
	}
	return changed, nil
}

// Delete removes a notification permanently.
func (r *Repository) Delete(ctx context.Context, userID, id string) error {
	unlock := r.lock(userID)
	defer unlock()

	if err := r.storage.Delete(ctx, userID, id); err != nil {
		return r.storeErr(err)
	}
	r.invalidate(ctx, userID)
	return nil
}

// UnreadCount returns the number of unread, non-expired notifications.
func (r *Repository) UnreadCount(ctx context.Context, userID string) (int, error) {
	if r.cache != nil {
		count, ok, err := r.cache.Get(ctx, userID)
		if err != nil {
			r.logger.LogAttrs(ctx, slog.LevelWarn, "unread cache read failed",
				logger.UserID(userID),
				logger.Error(err),
			)
		} else if ok {
			return count, nil
		}
	}
	return r.Recount(ctx, userID)
}

// Recount recomputes the unread count from storage and refreshes the cache.
// The cache is only written when no mutation invalidated it while the count
// was being computed, including mutations made by other instances.
func (r *Repository) Recount(ctx context.Context, userID string) (int, error) {
	unlock := r.lock(userID)
	defer unlock()

	gen, cacheable := r.generation(ctx, userID)

	now := r.now()
	sum, err := r.storage.UnreadSummary(ctx, userID, now)
	if err != nil {
		return 0, r.storeErr(err)
	}

	if cacheable {
		ttl := r.cacheTTL
		if sum.NextExpiry != nil {
			ttl = min(ttl, sum.NextExpiry.Sub(now))
		}
		if ttl > 0 {
			stored, err := r.cache.Set(ctx, userID, gen, sum.Count, ttl)
			switch {
			case err != nil:
				r.logger.LogAttrs(ctx, slog.LevelWarn, "unread cache write failed",
					logger.UserID(userID),
					logger.Error(err),
				)
			case !stored:
				r.logger.LogAttrs(ctx, slog.LevelDebug, "unread count changed during recount, not cached",
					logger.UserID(userID),
				)
			}
		}
	}

	return sum.Count, nil
}

func (r *Repository) generation(ctx context.Context, userID string) (uint64, bool) {
	if r.cache == nil {
		return 0, false
	}
	gen, err := r.cache.Generation(ctx, userID)
	if err != nil {
		r.logger.LogAttrs(ctx, slog.LevelWarn, "unread cache generation read failed",
			logger.UserID(userID),
			logger.Error(err),
		)
		return 0, false
	}
	return gen, true
}

func (r *Repository) lock(userID string) func() {
	v, _ := r.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (r *Repository) invalidate(ctx context.Context, userID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Invalidate(ctx, userID); err != nil {
		// A stale entry survives at most until its TTL.
		r.logger.LogAttrs(ctx, slog.LevelError, "unread cache invalidation failed",
			logger.UserID(userID),
			logger.Error(err),
		)
	}
}

func (r *Repository) storeErr(err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return errors.Join(ErrStoreUnavailable, err)
}
