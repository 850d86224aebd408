package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kilnworks/kiln"
	"github.com/kilnworks/kiln/ext"
	"github.com/kilnworks/kiln/id"
	"github.com/kilnworks/kiln/queue"
)

// QueueManager controls per-queue rate limiting and concurrency. The
// worker pool calls Acquire before executing a dequeued task and
// Release after execution completes.
type QueueManager interface {
	// Acquire checks rate limits and concurrency for the queue.
	// Returns true if the task is allowed to proceed.
	Acquire(queue string) bool
	// Release decrements the active count for the queue.
	Release(queue string)
}

// Pool manages a set of concurrent worker goroutines that poll the
// queue and execute tasks through the Executor.
type Pool struct {
	queue       *queue.Queue
	executor    *Executor
	extensions  *ext.Registry
	concurrency int
	pollTimeout time.Duration
	workerID    id.WorkerID
	logger      *slog.Logger

	// Queue manager (optional).
	queueManager QueueManager

	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
	activeTasks map[string]context.CancelFunc
	activeMu    sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollTimeout sets the bound on each blocking dequeue. Workers
// observe shutdown at least this often even when the queue is idle.
func WithPollTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollTimeout = d }
}

// WithQueueManager sets the queue manager for rate limiting and
// concurrency control.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// NewPool creates a worker pool.
func NewPool(
	q *queue.Queue,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		queue:       q,
		executor:    executor,
		extensions:  extensions,
		concurrency: 10,
		pollTimeout: time.Second,
		workerID:    id.NewWorkerID(),
		logger:      logger,
		stopCh:      make(chan struct{}),
		activeTasks: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// If the context has a deadline, active tasks are cancelled when time
// runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	// Signal all workers to stop.
	close(p.stopCh)

	// Wait for completion or context deadline.
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active tasks")
		p.cancelActiveTasks()
		p.wg.Wait()
	}

	return nil
}

// dequeueLoop is run by each worker goroutine. It exits when the pool
// is stopped or the queue is closed and drained.
func (p *Pool) dequeueLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		t, err := p.queue.Dequeue(p.pollTimeout)
		if err != nil {
			if errors.Is(err, kiln.ErrQueueClosed) {
				return
			}
			p.logger.Error("dequeue error", slog.String("error", err.Error()))
			continue
		}
		if t == nil {
			// Poll timeout with no ready work.
			continue
		}

		// Check queue rate limit and concurrency.
		if p.queueManager != nil && !p.queueManager.Acquire(t.Queue) {
			// Rate limited — return the task to the queue with a small delay.
			t.RunAt = time.Now().Add(p.pollTimeout)
			if requeueErr := p.queue.Requeue(t); requeueErr != nil {
				p.logger.Error("failed to requeue rate-limited task",
					slog.String("task_id", t.ID.String()),
					slog.String("error", requeueErr.Error()),
				)
			}
			continue
		}

		p.extensions.EmitTaskStarted(context.Background(), t)

		ctx, cancel := context.WithCancel(context.Background())
		p.trackTask(t.ID.String(), cancel)

		execErr := p.executor.Execute(ctx, t)
		if execErr != nil {
			p.logger.Debug("task execution failed",
				slog.String("task_id", t.ID.String()),
				slog.String("task_name", t.Name),
				slog.String("error", execErr.Error()),
			)
		}

		p.untrackTask(t.ID.String())
		cancel()

		// Release the queue slot.
		if p.queueManager != nil {
			p.queueManager.Release(t.Queue)
		}
	}
}

func (p *Pool) trackTask(taskID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeTasks[taskID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackTask(taskID string) {
	p.activeMu.Lock()
	delete(p.activeTasks, taskID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveTasks() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for taskID, cancel := range p.activeTasks {
		p.logger.Warn("cancelling active task", slog.String("task_id", taskID))
		cancel()
	}
}
