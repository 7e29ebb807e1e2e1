package workers

import "sync"

// taskQueue is a thread-safe FIFO of submitted jobs.
//
// The queue is unbounded so Submit never blocks the caller; concurrency is
// bounded by the number of workers draining it, not by the queue.
//
// The queue uses a channel for signaling so idle workers can wait without
// polling.
type taskQueue struct {
	mu     sync.Mutex
	jobs   []*job
	closed bool
	signal chan struct{} // Signals job availability (buffered, size 1)
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		jobs:   make([]*job, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a job to the back of the queue.
// Returns false if the queue is closed.
func (q *taskQueue) Enqueue(j *job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.jobs = append(q.jobs, j)

	// Non-blocking: the buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front job without blocking.
// The second result is false when the queue is empty; the third is true
// once the queue is closed and drained.
func (q *taskQueue) TryDequeue() (*job, bool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return nil, false, q.closed
	}

	j := q.jobs[0]
	// Nil out the slot so the backing array does not retain the job.
	q.jobs[0] = nil
	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}

	// More work remains: pass the signal on to another idle worker. After
	// Close the channel is closed and every waiter is already awake.
	if len(q.jobs) > 0 && !q.closed {
		select {
		case q.signal <- struct{}{}:
		default:
		}
	}
	return j, true, false
}

// Wait returns a channel that signals when jobs may be available.
// It is closed by Close.
func (q *taskQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close signals that no more jobs will be enqueued and wakes all waiters.
func (q *taskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
