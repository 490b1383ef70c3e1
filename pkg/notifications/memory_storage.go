package notifications

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"
)

type memoryRecord struct {
	n   Notification
	seq uint64
}

// MemoryStorage is an in-memory Storage, suitable for development and tests.
// Deleted identifiers are remembered so they can never be reused.
type MemoryStorage struct {
	mu      sync.RWMutex
	byUser  map[string]map[string]*memoryRecord
	owners  map[string]string // notification id -> user id
	deleted map[string]struct{}
	seq     uint64
}

// NewMemoryStorage creates a new in-memory notification storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		byUser:  make(map[string]map[string]*memoryRecord),
		owners:  make(map[string]string),
		deleted: make(map[string]struct{}),
	}
}

func (s *MemoryStorage) Create(ctx context.Context, n Notification) error {
	if n.ID == "" {
		return errors.New("notifications: notification id is required")
	}
	if n.UserID == "" {
		return ErrUserIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.owners[n.ID]; exists {
		return ErrDuplicateID
	}
	if _, gone := s.deleted[n.ID]; gone {
		return ErrDuplicateID
	}

	rows, ok := s.byUser[n.UserID]
	if !ok {
		rows = make(map[string]*memoryRecord)
		s.byUser[n.UserID] = rows
	}
	s.seq++
	rows[n.ID] = &memoryRecord{n: clone(n), seq: s.seq}
	s.owners[n.ID] = n.UserID
	return nil
}

func (s *MemoryStorage) Get(ctx context.Context, userID, id string) (Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byUser[userID][id]
	if !ok {
		return Notification{}, ErrNotFound
	}
	return clone(rec.n), nil
}

func (s *MemoryStorage) List(ctx context.Context, userID string, opts ListOptions) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*memoryRecord, 0, len(s.byUser[userID]))
	for _, rec := range s.byUser[userID] {
		if opts.Matches(rec.n) {
			matched = append(matched, rec)
		}
	}

	slices.SortFunc(matched, func(a, b *memoryRecord) int {
		if c := b.n.CreatedAt.Compare(a.n.CreatedAt); c != 0 {
			return c
		}
		// same instant: later insert first
		switch {
		case a.seq > b.seq:
			return -1
		case a.seq < b.seq:
			return 1
		}
		return 0
	})

	start := min(max(opts.Offset, 0), len(matched))
	end := len(matched)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}

	out := make([]Notification, 0, end-start)
	for _, rec := range matched[start:end] {
		out = append(out, clone(rec.n))
	}
	return out, nil
}

func (s *MemoryStorage) MarkRead(ctx context.Context, userID, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byUser[userID][id]
	if !ok {
		return false, ErrNotFound
	}
	if rec.n.Read {
		return false, nil
	}
	readAt := at
	rec.n.Read = true
	rec.n.ReadAt = &readAt
	return true, nil
}

func (s *MemoryStorage) MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, rec := range s.byUser[userID] {
		if !rec.n.CountsAsUnread(at) {
			continue
		}
		readAt := at
		rec.n.Read = true
		rec.n.ReadAt = &readAt
		changed++
	}
	return changed, nil
}

func (s *MemoryStorage) Delete(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.byUser[userID]
	if _, ok := rows[id]; !ok {
		return ErrNotFound
	}
	delete(rows, id)
	if len(rows) == 0 {
		delete(s.byUser, userID)
	}
	delete(s.owners, id)
	s.deleted[id] = struct{}{}
	return nil
}

func (s *MemoryStorage) UnreadSummary(ctx context.Context, userID string, at time.Time) (UnreadSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum UnreadSummary
	for _, rec := range s.byUser[userID] {
		if !rec.n.CountsAsUnread(at) {
			continue
		}
		sum.Count++
		if exp := rec.n.ExpiresAt; exp != nil && (sum.NextExpiry == nil || exp.Before(*sum.NextExpiry)) {
			e := *exp
			sum.NextExpiry = &e
		}
	}
	return sum, nil
}

// clone detaches the returned copy from stored pointers and maps.
func clone(n Notification) Notification {
	if n.Metadata != nil {
		n.Metadata = maps.Clone(n.Metadata)
	}
	if n.ReadAt != nil {
		t := *n.ReadAt
		n.ReadAt = &t
	}
	if n.ExpiresAt != nil {
		t := *n.ExpiresAt
		n.ExpiresAt = &t
	}
	return n
}
