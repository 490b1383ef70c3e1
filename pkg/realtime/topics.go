package realtime

import (
	"container/list"
	"sync"

	"github.com/dmitrymomot/notifier/pkg/notifications"
)

type topic struct {
	userID   string
	mu       sync.RWMutex
	sessions map[*Session]struct{}
	closed   bool
}

func newTopic(userID string) *topic {
	return &topic{userID: userID, sessions: make(map[*Session]struct{})}
}

// add reports false if the topic was closed concurrently.
func (t *topic) add(s *Session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.sessions[s] = struct{}{}
	return true
}

func (t *topic) remove(s *Session) (empty bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, s)
	return len(t.sessions) == 0
}

// publish returns the sessions that could not take the message.
func (t *topic) publish(n notifications.Notification) []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var slow []*Session
	for s := range t.sessions {
		if !s.Offer(n) {
			slow = append(slow, s)
		}
	}
	return slow
}

func (t *topic) size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// close marks the topic closed and returns its sessions. The caller closes
// them once no lock is held.
func (t *topic) close() []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	out := make([]*Session, 0, len(t.sessions))
	for s := range t.sessions {
		out = append(out, s)
	}
	clear(t.sessions)
	return out
}

// topicLRU bounds the number of live topics. Evicted topics are handed back
// to the caller instead of being closed under the lock, because closing a
// session re-enters the LRU.
type topicLRU struct {
	capacity int
	items    map[string]*list.Element
	order    *list.List
	mu       sync.Mutex
}

func newTopicLRU(capacity int) *topicLRU {
	return &topicLRU{
		capacity: max(capacity, 1),
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *topicLRU) get(userID string) (*topic, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[userID]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*topic), true
	}
	return nil, false
}

// getOrCreate returns the user's topic and, when the capacity was exceeded,
// the least recently used topic that was evicted.
func (c *topicLRU) getOrCreate(userID string) (t *topic, evicted *topic) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[userID]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*topic), nil
	}

	t = newTopic(userID)
	c.items[userID] = c.order.PushFront(t)

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		evicted = oldest.Value.(*topic)
		delete(c.items, evicted.userID)
	}
	return t, evicted
}

// removeIfEmpty drops t if it is still the current topic for its user and
// has no sessions.
func (c *topicLRU) removeIfEmpty(t *topic) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[t.userID]
	if !ok || elem.Value.(*topic) != t {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sessions) > 0 {
		return
	}
	t.closed = true
	c.order.Remove(elem)
	delete(c.items, t.userID)
}

func (c *topicLRU) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// drain empties the LRU and returns every topic.
func (c *topicLRU) drain() []*topic {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*topic, 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		out = append(out, elem.Value.(*topic))
	}
	c.items = make(map[string]*list.Element)
	c.order.Init()
	return out
}
