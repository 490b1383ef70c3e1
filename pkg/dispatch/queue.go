package dispatch

import "sync"

// userQueue runs tasks one at a time per user, in the order they were pushed.
// A user's entry exists while a drain goroutine owns it.
type userQueue struct {
	mu      sync.Mutex
	pending map[string][]func()
}

func newUserQueue() *userQueue {
	return &userQueue{pending: make(map[string][]func())}
}

// push appends fn to the user's queue. It reports whether the caller must
// start a drain goroutine for the user.
func (q *userQueue) push(userID string, fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	tasks, busy := q.pending[userID]
	q.pending[userID] = append(tasks, fn)
	return !busy
}

// drain runs the user's tasks until the queue is empty, then releases it.
func (q *userQueue) drain(userID string) {
	for {
		fn, ok := q.next(userID)
		if !ok {
			return
		}
		fn()
	}
}

func (q *userQueue) next(userID string) (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	tasks := q.pending[userID]
	if len(tasks) == 0 {
		delete(q.pending, userID)
		return nil, false
	}
	fn := tasks[0]
	tasks[0] = nil
	q.pending[userID] = tasks[1:]
	return fn, true
}
