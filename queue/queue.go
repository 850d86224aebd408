package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/kilnworks/kiln"
	"github.com/kilnworks/kiln/task"
)

// item pairs a task with its FIFO sequence number.
type item struct {
	t   *task.Task
	seq uint64
}

// delayHeap orders items by (RunAt, seq): earliest ready time first,
// strict FIFO among tasks with the same ready time. Retries requeued
// with a future RunAt therefore never jump ahead of work that is
// already ready.
type delayHeap []*item

func (h delayHeap) Len() int { return len(h) }

func (h delayHeap) Less(i, k int) bool {
	if h[i].t.RunAt.Equal(h[k].t.RunAt) {
		return h[i].seq < h[k].seq
	}
	return h[i].t.RunAt.Before(h[k].t.RunAt)
}

func (h delayHeap) Swap(i, k int) { h[i], h[k] = h[k], h[i] }

func (h *delayHeap) Push(x any) { *h = append(*h, x.(*item)) }

func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is an in-memory task queue with delayed visibility: a task
// becomes eligible for dequeue only once its RunAt has arrived. Tasks
// ready at the same instant are handed out in FIFO order, each exactly
// once per attempt. Safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	items  delayHeap
	seq    uint64
	closed bool

	// wake is closed to broadcast "state changed" to all blocked
	// Dequeue calls, then immediately replaced.
	wake chan struct{}
}

// New creates an empty open queue.
func New() *Queue {
	return &Queue{wake: make(chan struct{})}
}

// Enqueue appends a task. Returns kiln.ErrQueueClosed after Close; new
// submissions are not accepted during shutdown.
func (q *Queue) Enqueue(t *task.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return kiln.ErrQueueClosed
	}
	q.push(t)
	return nil
}

// Requeue re-inserts a task whose retry has already been computed by a
// worker. Unlike Enqueue it is accepted after Close, so retries decided
// while shutdown was in progress can still drain if their delay elapses
// before the workers exit.
func (q *Queue) Requeue(t *task.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.push(t)
	return nil
}

func (q *Queue) push(t *task.Task) {
	q.seq++
	heap.Push(&q.items, &item{t: t, seq: q.seq})
	q.broadcast()
}

// broadcast wakes every blocked Dequeue. Callers must hold q.mu.
func (q *Queue) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// Dequeue blocks up to timeout for a ready task and returns it. The
// bounded wait lets workers periodically observe shutdown even while
// the queue is empty.
//
// Returns (nil, nil) when the timeout elapses with no ready work, and
// (nil, kiln.ErrQueueClosed) once the queue is closed and nothing is
// ready right now — tasks whose RunAt has not yet arrived are not
// waited for after close.
func (q *Queue) Dequeue(timeout time.Duration) (*task.Task, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		now := time.Now()

		if len(q.items) > 0 && !q.items[0].t.RunAt.After(now) {
			it := heap.Pop(&q.items).(*item)
			q.mu.Unlock()
			return it.t, nil
		}

		if q.closed {
			q.mu.Unlock()
			return nil, kiln.ErrQueueClosed
		}

		// Nothing ready: wait for an enqueue, the head task becoming
		// ready, or the caller's timeout — whichever comes first.
		wake := q.wake
		var headTimer *time.Timer
		var headReady <-chan time.Time
		if len(q.items) > 0 {
			headTimer = time.NewTimer(q.items[0].t.RunAt.Sub(now))
			headReady = headTimer.C
		}
		q.mu.Unlock()

		select {
		case <-wake:
		case <-headReady:
		case <-timer.C:
			if headTimer != nil {
				headTimer.Stop()
			}
			return nil, nil
		}
		if headTimer != nil {
			headTimer.Stop()
		}
	}
}

// Close stops the queue from accepting new submissions and unblocks all
// waiting Dequeue calls. Tasks already ready keep draining; tasks whose
// RunAt lies in the future are abandoned. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.broadcast()
}

// Len returns the number of queued tasks, ready or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
