package dispatch

import (
	"sync"

	"github.com/hangar-project/hangar/internal/protocol"
)

// Job is a routed packet waiting for its tick.
type Job struct {
	Name   string
	Opcode protocol.Opcode
	Run    func() error
}

// Queue carries jobs from one producer (the connection's read goroutine)
// to one consumer (the owning tick). Push order is preserved.
type Queue struct {
	mu     sync.Mutex
	jobs   []Job
	spare  []Job
	closed bool
}

// NewQueue creates an open queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends a job. It returns false once the queue is closed.
func (q *Queue) Push(j Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, j)
	return true
}

// Drain hands every pending job to fn in FIFO order and returns how many
// were consumed. Jobs pushed while fn runs wait for the next Drain.
func (q *Queue) Drain(fn func(Job)) int {
	q.mu.Lock()
	batch := q.jobs
	q.jobs = q.spare[:0]
	q.spare = nil
	q.mu.Unlock()

	for i := range batch {
		fn(batch[i])
		batch[i] = Job{}
	}

	q.mu.Lock()
	if q.spare == nil {
		q.spare = batch[:0]
	}
	q.mu.Unlock()
	return len(batch)
}

// Len returns the number of pending jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close rejects further pushes and discards pending jobs, returning how
// many were dropped.
func (q *Queue) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := len(q.jobs)
	q.jobs = nil
	q.spare = nil
	q.closed = true
	return dropped
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
