// Package queue provides the in-memory task queue and per-queue limits.
//
// # Queue
//
// [Queue] is a delayed-visibility FIFO: each task carries a RunAt
// timestamp and becomes dequeueable only once that time arrives. Tasks
// ready at the same instant are handed out in strict submission order,
// and retried tasks re-enter behind work that is already ready — a
// retry never gets priority over a fresh submission.
//
// Dequeue takes a bounded timeout rather than blocking forever, so
// workers can observe shutdown while the queue is empty:
//
//	t, err := q.Dequeue(pollTimeout)
//	switch {
//	case errors.Is(err, kiln.ErrQueueClosed):
//	    return // shutting down
//	case t == nil:
//	    continue // nothing ready yet
//	}
//
// After [Queue.Close], new submissions are rejected but retries that
// were already computed may still be requeued ([Queue.Requeue]) and
// ready tasks keep draining.
//
// # Manager
//
// [Manager] enforces per-queue rate limits and concurrency caps at
// execution time using a token-bucket limiter (golang.org/x/time/rate)
// and an active-count gate:
//
//	m := queue.NewManager(queue.Config{Name: "email", RateLimit: 10})
//	if m.Acquire(t.Queue) {
//	    defer m.Release(t.Queue)
//	    // execute the task
//	}
package queue
