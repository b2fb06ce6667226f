package dispatch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 5; i++ {
		require.True(t, q.Push(Job{Name: string(rune('a' + i))}))
	}
	assert.Equal(t, 5, q.Len())

	var got string
	n := q.Drain(func(j Job) { got += j.Name })
	assert.Equal(t, 5, n)
	assert.Equal(t, "abcde", got)
	assert.Equal(t, 0, q.Len())
}

func TestQueuePushDuringDrain(t *testing.T) {
	q := NewQueue()
	q.Push(Job{Name: "first"})

	n := q.Drain(func(Job) {
		q.Push(Job{Name: "later"})
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, q.Len())
}

func TestQueueClose(t *testing.T) {
	q := NewQueue()
	q.Push(Job{})
	q.Push(Job{})

	assert.Equal(t, 2, q.Close())
	assert.True(t, q.Closed())
	assert.False(t, q.Push(Job{}))
	assert.Equal(t, 0, q.Drain(func(Job) { t.Fatal("drained a job after close") }))
}

func TestQueueSingleProducerSingleConsumer(t *testing.T) {
	q := NewQueue()
	const total = 10000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			q.Push(Job{Opcode: 0, Name: "", Run: nil})
		}
	}()

	seen := 0
	for seen < total {
		seen += q.Drain(func(Job) {})
	}
	wg.Wait()
	assert.Equal(t, total, seen)
}
