package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/notifier/pkg/pg"
	"github.com/dmitrymomot/notifier/pkg/preferences"
	"github.com/dmitrymomot/notifier/pkg/quiethours"
)

// PreferenceStore implements preferences.Store.
type PreferenceStore struct {
	db DBTX
}

// NewPreferenceStore creates a store backed by db.
func NewPreferenceStore(db DBTX) *PreferenceStore {
	return &PreferenceStore{db: db}
}

var _ preferences.Store = (*PreferenceStore)(nil)

const preferenceColumns = `user_id, email, push, daily_digest, weekly_summary, marketing_emails,
	quiet_hours_start, quiet_hours_end, timezone, updated_at`

func (s *PreferenceStore) Get(ctx context.Context, userID string) (preferences.Preference, error) {
	p, err := scanPreference(s.db.QueryRow(ctx,
		`SELECT `+preferenceColumns+` FROM notification_preferences WHERE user_id = $1`, userID))
	if pg.IsNotFoundError(err) {
		return preferences.Preference{}, preferences.ErrNotFound
	}
	return p, err
}

func (s *PreferenceStore) Insert(ctx context.Context, p preferences.Preference) (preferences.Preference, error) {
	args, err := preferenceArgs(p)
	if err != nil {
		return preferences.Preference{}, err
	}
	if _, err := s.db.Exec(ctx, `
		INSERT INTO notification_preferences (`+preferenceColumns+`)
		VALUES ($1, $2::jsonb, $3::jsonb, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO NOTHING`, args...); err != nil {
		return preferences.Preference{}, err
	}
	return s.Get(ctx, p.UserID)
}

func (s *PreferenceStore) Save(ctx context.Context, p preferences.Preference) error {
	args, err := preferenceArgs(p)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO notification_preferences (`+preferenceColumns+`)
		VALUES ($1, $2::jsonb, $3::jsonb, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			push = EXCLUDED.push,
			daily_digest = EXCLUDED.daily_digest,
			weekly_summary = EXCLUDED.weekly_summary,
			marketing_emails = EXCLUDED.marketing_emails,
			quiet_hours_start = EXCLUDED.quiet_hours_start,
			quiet_hours_end = EXCLUDED.quiet_hours_end,
			timezone = EXCLUDED.timezone,
			updated_at = EXCLUDED.updated_at`, args...)
	return err
}

func (s *PreferenceStore) ListDigestRecipients(ctx context.Context, period preferences.DigestPeriod) ([]preferences.Preference, error) {
	var column string
	switch period {
	case preferences.DigestDaily:
		column = "daily_digest"
	case preferences.DigestWeekly:
		column = "weekly_summary"
	default:
		return nil, fmt.Errorf("pgstore: unknown digest period %q", period)
	}

	rows, err := s.db.Query(ctx, `SELECT `+preferenceColumns+`
		FROM notification_preferences WHERE `+column+` ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []preferences.Preference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func preferenceArgs(p preferences.Preference) ([]any, error) {
	emailRaw, err := json.Marshal(p.Email)
	if err != nil {
		return nil, fmt.Errorf("pgstore: encode email toggles: %w", err)
	}
	pushRaw, err := json.Marshal(p.Push)
	if err != nil {
		return nil, fmt.Errorf("pgstore: encode push toggles: %w", err)
	}
	var qhStart, qhEnd *string
	if p.QuietHours != nil {
		s, e := p.QuietHours.Start.String(), p.QuietHours.End.String()
		qhStart, qhEnd = &s, &e
	}
	tz := p.Timezone
	if tz == "" {
		tz = "UTC"
	}
	return []any{
		p.UserID, string(emailRaw), string(pushRaw), p.DailyDigest, p.WeeklySummary, p.MarketingEmails,
		qhStart, qhEnd, tz, p.UpdatedAt,
	}, nil
}

func scanPreference(row pgx.Row) (preferences.Preference, error) {
	var (
		p              preferences.Preference
		emailRaw       []byte
		pushRaw        []byte
		qhStart, qhEnd *string
	)
	if err := row.Scan(
		&p.UserID, &emailRaw, &pushRaw, &p.DailyDigest, &p.WeeklySummary, &p.MarketingEmails,
		&qhStart, &qhEnd, &p.Timezone, &p.UpdatedAt,
	); err != nil {
		return preferences.Preference{}, err
	}
	if err := json.Unmarshal(emailRaw, &p.Email); err != nil {
		return preferences.Preference{}, fmt.Errorf("pgstore: decode email toggles: %w", err)
	}
	if err := json.Unmarshal(pushRaw, &p.Push); err != nil {
		return preferences.Preference{}, fmt.Errorf("pgstore: decode push toggles: %w", err)
	}
	if qhStart != nil && qhEnd != nil {
		w, err := quiethours.ParseWindow(*qhStart, *qhEnd)
		if err != nil {
			return preferences.Preference{}, fmt.Errorf("pgstore: decode quiet hours: %w", err)
		}
		p.QuietHours = &w
	}
	return p, nil
}
