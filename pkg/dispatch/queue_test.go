package dispatch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserQueueRunsInPushOrder(t *testing.T) {
	t.Parallel()

	q := newUserQueue()

	var (
		mu  sync.Mutex
		got []int
		wg  sync.WaitGroup
	)
	release := make(chan struct{})

	wg.Add(1)
	require.True(t, q.push("u1", func() {
		defer wg.Done()
		<-release
		mu.Lock()
		got = append(got, 0)
		mu.Unlock()
	}), "first push starts a drain")
	go q.drain("u1")

	for i := 1; i < 50; i++ {
		wg.Add(1)
		assert.False(t, q.push("u1", func() {
			defer wg.Done()
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}), "busy queue reuses its drain")
	}
	close(release)
	wg.Wait()

	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestUserQueueReleasesIdleUsers(t *testing.T) {
	t.Parallel()

	q := newUserQueue()
	ran := 0
	require.True(t, q.push("u1", func() { ran++ }))
	q.drain("u1")

	assert.Equal(t, 1, ran)
	q.mu.Lock()
	assert.Empty(t, q.pending)
	q.mu.Unlock()

	assert.True(t, q.push("u1", func() { ran++ }), "idle user needs a new drain")
	assert.True(t, q.push("u2", func() {}), "users are independent")
}
