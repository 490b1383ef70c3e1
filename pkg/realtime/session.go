package realtime

import (
	"context"
	"sync"

	"github.com/dmitrymomot/notifier/pkg/notifications"
)

// Session is a buffered Subscription. Hub implementations outside this
// package build on it.
type Session struct {
	ch     chan notifications.Notification
	mu     sync.RWMutex
	closed bool

	stop    func() bool // detaches the context watcher
	onClose func()
}

// NewSession creates a session with the given buffer. onClose, when set, runs
// once after the session is closed.
func NewSession(buffer int, onClose func()) *Session {
	return &Session{
		ch:      make(chan notifications.Notification, max(buffer, 1)),
		onClose: onClose,
	}
}

// BindContext closes the session when ctx is done.
func (s *Session) BindContext(ctx context.Context) {
	if ctx.Done() == nil {
		return
	}
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
}

func (s *Session) C() <-chan notifications.Notification {
	return s.ch
}

// Offer queues n without blocking. It reports false when the session is
// closed or its buffer is full.
func (s *Session) Offer(n notifications.Notification) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- n:
		return true
	default:
		return false
	}
}

// Closed reports whether the session has ended.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	stop, onClose := s.stop, s.onClose
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if onClose != nil {
		onClose()
	}
	return nil
}
