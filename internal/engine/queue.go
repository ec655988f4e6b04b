package engine

import (
	"sync"

	"github.com/roach88/chronicle/internal/doc"
)

// submission is an accepted transaction waiting for the Run loop.
type submission struct {
	receipt Receipt
	ops     []doc.Op
}

// submissionQueue is a thread-safe FIFO of accepted submissions.
//
// The queue is unbounded: Submit never blocks on a slow applier. The Run
// loop dequeues with TryDequeue and waits on Wait() so it can also watch
// its context.
type submissionQueue struct {
	mu     sync.Mutex
	items  []submission
	closed bool
	signal chan struct{} // buffered, size 1; closed on Close
}

func newSubmissionQueue() *submissionQueue {
	return &submissionQueue{
		items:  make([]submission, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a submission to the back of the queue.
// Returns false if the queue is closed.
func (q *submissionQueue) Enqueue(s submission) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, s)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front submission without blocking.
func (q *submissionQueue) TryDequeue() (submission, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return submission{}, false
	}
	s := q.items[0]
	// Release the slot so the ops can be collected.
	q.items[0] = submission{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return s, true
}

// Wait returns a channel that signals when submissions may be available.
// It is closed once the queue is closed.
func (q *submissionQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued submissions.
func (q *submissionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *submissionQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting submissions. Queued ones are still handed out.
func (q *submissionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
