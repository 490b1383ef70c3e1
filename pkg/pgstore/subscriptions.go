package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/notifier/pkg/pg"
	"github.com/dmitrymomot/notifier/pkg/push"
)

// SubscriptionStore implements push.Store.
type SubscriptionStore struct {
	db DBTX
}

// NewSubscriptionStore creates a store backed by db.
func NewSubscriptionStore(db DBTX) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

var _ push.Store = (*SubscriptionStore)(nil)

const subscriptionColumns = `id, user_id, endpoint, p256dh, auth, created_at`

func (s *SubscriptionStore) Create(ctx context.Context, sub push.Subscription) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO notification_subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sub.ID, sub.UserID, sub.Endpoint, sub.Keys.P256dh, sub.Keys.Auth, sub.CreatedAt)
	if pg.IsDuplicateKeyError(err) {
		return push.ErrDuplicateEndpoint
	}
	return err
}

func (s *SubscriptionStore) FindByEndpoint(ctx context.Context, endpoint string) (push.Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM notification_subscriptions WHERE endpoint = $1`, endpoint))
	if pg.IsNotFoundError(err) {
		return push.Subscription{}, push.ErrNotFound
	}
	return sub, err
}

func (s *SubscriptionStore) ListByUser(ctx context.Context, userID string) ([]push.Subscription, error) {
	rows, err := s.db.Query(ctx, `SELECT `+subscriptionColumns+`
		FROM notification_subscriptions WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []push.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SubscriptionStore) Delete(ctx context.Context, userID, id string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM notification_subscriptions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return push.ErrNotFound
	}
	return nil
}

func scanSubscription(row pgx.Row) (push.Subscription, error) {
	var sub push.Subscription
	err := row.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.Keys.P256dh, &sub.Keys.Auth, &sub.CreatedAt)
	return sub, err
}
