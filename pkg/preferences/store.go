package preferences

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Store persists preference rows.
type Store interface {
	// Get returns ErrNotFound when the user has no row.
	Get(ctx context.Context, userID string) (Preference, error)

	// Insert stores p unless a row for the user exists, and returns the row
	// that is stored afterwards.
	Insert(ctx context.Context, p Preference) (Preference, error)

	// Save upserts p.
	Save(ctx context.Context, p Preference) error

	// ListDigestRecipients returns the rows subscribed to the given digest.
	ListDigestRecipients(ctx context.Context, period DigestPeriod) ([]Preference, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]Preference
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]Preference)}
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.rows[userID]
	if !ok {
		return Preference{}, ErrNotFound
	}
	return copyPreference(p), nil
}

func (s *MemoryStore) Insert(ctx context.Context, p Preference) (Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.rows[p.UserID]; ok {
		return copyPreference(existing), nil
	}
	s.rows[p.UserID] = copyPreference(p)
	return copyPreference(p), nil
}

func (s *MemoryStore) Save(ctx context.Context, p Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows[p.UserID] = copyPreference(p)
	return nil
}

func (s *MemoryStore) ListDigestRecipients(ctx context.Context, period DigestPeriod) ([]Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Preference
	for _, p := range s.rows {
		if p.Digest(period) {
			out = append(out, copyPreference(p))
		}
	}
	slices.SortFunc(out, func(a, b Preference) int { return strings.Compare(a.UserID, b.UserID) })
	return out, nil
}

func copyPreference(p Preference) Preference {
	if p.QuietHours != nil {
		w := *p.QuietHours
		p.QuietHours = &w
	}
	return p
}
