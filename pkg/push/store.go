package push

import (
	"context"
	"slices"
	"sync"
)

// Store persists push subscriptions. Endpoints are unique across users.
type Store interface {
	// Create returns ErrDuplicateEndpoint when the endpoint exists.
	Create(ctx context.Context, sub Subscription) error
	// FindByEndpoint returns ErrNotFound when the endpoint is unknown.
	FindByEndpoint(ctx context.Context, endpoint string) (Subscription, error)
	ListByUser(ctx context.Context, userID string) ([]Subscription, error)
	// Delete returns ErrNotFound when the subscription is missing or owned by
	// another user.
	Delete(ctx context.Context, userID, id string) error
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]Subscription
}

// NewMemoryStore creates an empty in-memory subscription store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]Subscription)}
}

func (s *MemoryStore) Create(ctx context.Context, sub Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byID {
		if existing.Endpoint == sub.Endpoint {
			return ErrDuplicateEndpoint
		}
	}
	s.byID[sub.ID] = sub
	return nil
}

func (s *MemoryStore) FindByEndpoint(ctx context.Context, endpoint string) (Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.byID {
		if sub.Endpoint == endpoint {
			return sub, nil
		}
	}
	return Subscription{}, ErrNotFound
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Subscription
	for _, sub := range s.byID {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	slices.SortFunc(out, func(a, b Subscription) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.byID[id]
	if !ok || sub.UserID != userID {
		return ErrNotFound
	}
	delete(s.byID, id)
	return nil
}
