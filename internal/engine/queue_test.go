package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSubmission(txID int64) submission {
	return submission{receipt: Receipt{TxID: txID}}
}

func TestSubmissionQueue_FIFO(t *testing.T) {
	q := newSubmissionQueue()

	for i := int64(1); i <= 3; i++ {
		require.True(t, q.Enqueue(testSubmission(i)))
	}
	assert.Equal(t, 3, q.Len())

	for want := int64(1); want <= 3; want++ {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got.receipt.TxID)
	}
	assert.Equal(t, 0, q.Len())
}

func TestSubmissionQueue_TryDequeue_Empty(t *testing.T) {
	q := newSubmissionQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestSubmissionQueue_WaitSignals(t *testing.T) {
	q := newSubmissionQueue()

	got := make(chan submission, 1)
	go func() {
		<-q.Wait()
		s, ok := q.TryDequeue()
		if ok {
			got <- s
		}
	}()

	// Give goroutine time to block
	time.Sleep(10 * time.Millisecond)
	q.Enqueue(testSubmission(7))

	select {
	case s := <-got:
		assert.Equal(t, int64(7), s.receipt.TxID)
	case <-time.After(time.Second):
		t.Fatal("waiter was not signalled")
	}
}

func TestSubmissionQueue_Close(t *testing.T) {
	q := newSubmissionQueue()
	q.Enqueue(testSubmission(1))

	q.Close()
	q.Close() // idempotent

	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(testSubmission(2)), "closed queue must reject submissions")

	select {
	case <-q.Wait():
	default:
		t.Fatal("Wait channel should be closed after Close")
	}

	// Queued submissions are still handed out.
	s, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, int64(1), s.receipt.TxID)
	_, ok = q.TryDequeue()
	assert.False(t, ok)
}

func TestSubmissionQueue_ConcurrentEnqueue(t *testing.T) {
	q := newSubmissionQueue()
	const goroutines = 20
	const perGoroutine = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(base int64) {
			defer wg.Done()
			for j := int64(0); j < perGoroutine; j++ {
				q.Enqueue(testSubmission(base*perGoroutine + j))
			}
		}(int64(i))
	}
	wg.Wait()

	assert.Equal(t, goroutines*perGoroutine, q.Len())

	seen := make(map[int64]bool)
	for {
		s, ok := q.TryDequeue()
		if !ok {
			break
		}
		assert.False(t, seen[s.receipt.TxID], "submission %d dequeued twice", s.receipt.TxID)
		seen[s.receipt.TxID] = true
	}
	assert.Len(t, seen, goroutines*perGoroutine)
}
