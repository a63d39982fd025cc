package artifacts

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePushAndDrain(t *testing.T) {
	t.Run("drain preserves push order", func(t *testing.T) {
		q := NewQueue()
		q.Push("/tmp/a.png")
		q.Push("/tmp/b.png")
		q.Push("/tmp/a.png")

		assert.Equal(t, 3, q.Len())
		assert.Equal(t, []string{"/tmp/a.png", "/tmp/b.png", "/tmp/a.png"}, q.DrainIfNonEmpty())
		assert.Equal(t, 0, q.Len())
	})

	t.Run("empty drain returns nil not an empty list", func(t *testing.T) {
		q := NewQueue()
		assert.Nil(t, q.DrainIfNonEmpty())
	})

	t.Run("second drain after a successful one returns nil", func(t *testing.T) {
		q := NewQueue()
		q.Push("/tmp/chart.svg")

		first := q.DrainIfNonEmpty()
		require.Equal(t, []string{"/tmp/chart.svg"}, first)
		assert.Nil(t, q.DrainIfNonEmpty())
	})

	t.Run("pushes after a drain start a fresh batch", func(t *testing.T) {
		q := NewQueue()
		q.Push("one")
		q.DrainIfNonEmpty()
		q.Push("two")
		assert.Equal(t, []string{"two"}, q.DrainIfNonEmpty())
	})
}

func TestQueueConcurrentPush(t *testing.T) {
	q := NewQueue()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				q.Push(fmt.Sprintf("worker-%d-file-%d", worker, j))
			}
		}(i)
	}
	wg.Wait()

	drained := q.DrainIfNonEmpty()
	require.Len(t, drained, 400)
	assert.Nil(t, q.DrainIfNonEmpty())
}
