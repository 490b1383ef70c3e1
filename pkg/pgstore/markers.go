package pgstore

import (
	"context"
	"time"

	"github.com/dmitrymomot/notifier/pkg/digest"
	"github.com/dmitrymomot/notifier/pkg/pg"
)

// MarkerStore implements digest.MarkerStore on the digest_markers table.
// Claim expiry is evaluated with the database clock.
type MarkerStore struct {
	db DBTX
}

// NewMarkerStore creates a store backed by db.
func NewMarkerStore(db DBTX) *MarkerStore {
	return &MarkerStore{db: db}
}

var _ digest.MarkerStore = (*MarkerStore)(nil)

func (s *MarkerStore) Claim(ctx context.Context, key digest.Key, ttl time.Duration) (bool, error) {
	var claimed int
	err := s.db.QueryRow(ctx, `
		INSERT INTO digest_markers (user_id, period, window_start, state, claimed_at, claim_expires_at)
		VALUES ($1, $2, $3, 'pending', now(), now() + $4::float8 * interval '1 millisecond')
		ON CONFLICT (user_id, period, window_start) DO UPDATE SET
			state = 'pending',
			claimed_at = now(),
			claim_expires_at = EXCLUDED.claim_expires_at
		WHERE digest_markers.state = 'pending'
		  AND digest_markers.claim_expires_at <= now()
		RETURNING 1`,
		key.UserID, string(key.Period), key.WindowStart.UTC(), float64(ttl.Milliseconds()),
	).Scan(&claimed)
	if pg.IsNotFoundError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *MarkerStore) MarkSent(ctx context.Context, key digest.Key) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO digest_markers (user_id, period, window_start, state, sent_at)
		VALUES ($1, $2, $3, 'sent', now())
		ON CONFLICT (user_id, period, window_start) DO UPDATE SET
			state = 'sent',
			sent_at = now(),
			claim_expires_at = NULL`,
		key.UserID, string(key.Period), key.WindowStart.UTC())
	return err
}

func (s *MarkerStore) Release(ctx context.Context, key digest.Key) error {
	var existed bool
	err := s.db.QueryRow(ctx, `
		WITH released AS (
			DELETE FROM digest_markers
			WHERE user_id = $1 AND period = $2 AND window_start = $3 AND state = 'pending'
		)
		SELECT EXISTS (
			SELECT 1 FROM digest_markers
			WHERE user_id = $1 AND period = $2 AND window_start = $3
		)`,
		key.UserID, string(key.Period), key.WindowStart.UTC(),
	).Scan(&existed)
	if err != nil {
		return err
	}
	if !existed {
		return digest.ErrMarkerNotFound
	}
	return nil
}

// State returns the marker state for key.
func (s *MarkerStore) State(ctx context.Context, key digest.Key) (digest.State, bool, error) {
	var state string
	err := s.db.QueryRow(ctx, `
		SELECT state FROM digest_markers
		WHERE user_id = $1 AND period = $2 AND window_start = $3`,
		key.UserID, string(key.Period), key.WindowStart.UTC()).Scan(&state)
	if pg.IsNotFoundError(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return digest.State(state), true, nil
}
