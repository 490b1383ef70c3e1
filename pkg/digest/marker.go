package digest

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State of a digest marker.
type State string

const (
	StatePending State = "pending"
	StateSent    State = "sent"
)

// Key identifies one digest window of one user.
type Key struct {
	UserID      string
	Period      Period
	WindowStart time.Time
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%d", k.UserID, k.Period, k.WindowStart.Unix())
}

// MarkerStore records which digest windows were delivered.
type MarkerStore interface {
	// Claim marks the window pending. It reports false when the window was
	// already sent or is claimed by a run younger than ttl.
	Claim(ctx context.Context, key Key, ttl time.Duration) (bool, error)
	// MarkSent records a delivered window. Sent is final.
	MarkSent(ctx context.Context, key Key) error
	// Release drops a pending claim so a later run retries the window.
	Release(ctx context.Context, key Key) error
}

type memoryMarker struct {
	state     State
	claimedAt time.Time
	ttl       time.Duration
}

// MemoryMarkerStore is an in-process MarkerStore.
type MemoryMarkerStore struct {
	mu      sync.Mutex
	markers map[Key]memoryMarker
	now     func() time.Time
}

// NewMemoryMarkerStore creates an empty marker store.
func NewMemoryMarkerStore() *MemoryMarkerStore {
	return &MemoryMarkerStore{markers: make(map[Key]memoryMarker), now: time.Now}
}

func (s *MemoryMarkerStore) Claim(ctx context.Context, key Key, ttl time.Duration) (bool, error) {
	key = normalize(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if m, ok := s.markers[key]; ok {
		if m.state == StateSent || now.Sub(m.claimedAt) < m.ttl {
			return false, nil
		}
	}
	s.markers[key] = memoryMarker{state: StatePending, claimedAt: now, ttl: ttl}
	return true, nil
}

func (s *MemoryMarkerStore) MarkSent(ctx context.Context, key Key) error {
	key = normalize(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markers[key] = memoryMarker{state: StateSent, claimedAt: s.now()}
	return nil
}

func (s *MemoryMarkerStore) Release(ctx context.Context, key Key) error {
	key = normalize(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markers[key]
	if !ok {
		return ErrMarkerNotFound
	}
	if m.state == StatePending {
		delete(s.markers, key)
	}
	return nil
}

// State returns the marker state for key.
func (s *MemoryMarkerStore) State(key Key) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markers[normalize(key)]
	return m.state, ok
}

// normalize makes keys comparable regardless of the location of WindowStart.
func normalize(k Key) Key {
	k.WindowStart = k.WindowStart.UTC()
	return k
}
