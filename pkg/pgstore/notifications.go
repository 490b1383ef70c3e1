package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/notifier/pkg/notifications"
	"github.com/dmitrymomot/notifier/pkg/pg"
)

// NotificationStorage implements notifications.Storage. Deleted rows are
// soft-deleted so their identifiers stay reserved.
type NotificationStorage struct {
	db DBTX
}

// NewNotificationStorage creates a storage backed by db.
func NewNotificationStorage(db DBTX) *NotificationStorage {
	return &NotificationStorage{db: db}
}

var _ notifications.Storage = (*NotificationStorage)(nil)

const notificationColumns = `id, user_id, type, priority, title, message, action_url,
	metadata, read, read_at, created_at, expires_at`

func (s *NotificationStorage) Create(ctx context.Context, n notifications.Notification) error {
	var meta any
	if len(n.Metadata) > 0 {
		raw, err := json.Marshal(n.Metadata)
		if err != nil {
			return fmt.Errorf("pgstore: encode metadata: %w", err)
		}
		meta = string(raw)
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11, $12)`,
		n.ID, n.UserID, string(n.Type), string(n.Priority), n.Title, n.Message, n.ActionURL,
		meta, n.Read, n.ReadAt, n.CreatedAt, n.ExpiresAt,
	)
	if pg.IsDuplicateKeyError(err) {
		return notifications.ErrDuplicateID
	}
	return err
}

func (s *NotificationStorage) Get(ctx context.Context, userID, id string) (notifications.Notification, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, id, userID)
	n, err := scanNotification(row)
	if pg.IsNotFoundError(err) {
		return notifications.Notification{}, notifications.ErrNotFound
	}
	return n, err
}

func (s *NotificationStorage) List(ctx context.Context, userID string, opts notifications.ListOptions) ([]notifications.Notification, error) {
	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}

	var (
		where = []string{"user_id = $1", "deleted_at IS NULL"}
		args  = []any{userID}
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !opts.IncludeExpired || opts.UnreadOnly {
		where = append(where, "(expires_at IS NULL OR expires_at > "+arg(asOf)+")")
	}
	if opts.UnreadOnly {
		where = append(where, "NOT read")
	}
	if opts.Since != nil {
		where = append(where, "created_at >= "+arg(*opts.Since))
	}
	if opts.Until != nil {
		where = append(where, "created_at < "+arg(*opts.Until))
	}

	q := `SELECT ` + notificationColumns + ` FROM notifications WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at DESC, seq DESC`
	if opts.Limit > 0 {
		q += " LIMIT " + arg(opts.Limit)
	}
	if opts.Offset > 0 {
		q += " OFFSET " + arg(opts.Offset)
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []notifications.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *NotificationStorage) MarkRead(ctx context.Context, userID, id string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE notifications SET read = TRUE, read_at = $3
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL AND NOT read`, id, userID, at)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
		)`, id, userID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, notifications.ErrNotFound
	}
	return false, nil
}

func (s *NotificationStorage) MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE notifications SET read = TRUE, read_at = $2
		WHERE user_id = $1 AND deleted_at IS NULL AND NOT read
		  AND (expires_at IS NULL OR expires_at > $2)`, userID, at)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *NotificationStorage) Delete(ctx context.Context, userID, id string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE notifications SET deleted_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notifications.ErrNotFound
	}
	return nil
}

func (s *NotificationStorage) UnreadSummary(ctx context.Context, userID string, at time.Time) (notifications.UnreadSummary, error) {
	var (
		count int64
		next  *time.Time
	)
	err := s.db.QueryRow(ctx, `
		SELECT count(*), min(expires_at)
		FROM notifications
		WHERE user_id = $1 AND deleted_at IS NULL AND NOT read
		  AND (expires_at IS NULL OR expires_at > $2)`, userID, at).Scan(&count, &next)
	if err != nil {
		return notifications.UnreadSummary{}, err
	}
	return notifications.UnreadSummary{Count: int(count), NextExpiry: next}, nil
}

func scanNotification(row pgx.Row) (notifications.Notification, error) {
	var (
		n        notifications.Notification
		typ, pri string
		meta     []byte
	)
	if err := row.Scan(
		&n.ID, &n.UserID, &typ, &pri, &n.Title, &n.Message, &n.ActionURL,
		&meta, &n.Read, &n.ReadAt, &n.CreatedAt, &n.ExpiresAt,
	); err != nil {
		return notifications.Notification{}, err
	}
	n.Type = notifications.Type(typ)
	n.Priority = notifications.Priority(pri)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &n.Metadata); err != nil {
			return notifications.Notification{}, fmt.Errorf("pgstore: decode metadata: %w", err)
		}
	}
	return n, nil
}
