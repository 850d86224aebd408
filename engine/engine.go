// Package engine wires all kiln subsystems together. It creates the
// extension registry, task registry, status registry, queue, middleware
// chain, worker pool, and periodic scheduler, and provides the
// Register/Enqueue/Status operations.
//
// This package exists to break the import cycle: the root kiln package
// defines Entity and Config (imported by task, queue, etc.) and so
// cannot import those packages back. The engine package sits above all
// subsystem packages and below the application layer.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kilnworks/kiln"
	"github.com/kilnworks/kiln/backoff"
	"github.com/kilnworks/kiln/ext"
	"github.com/kilnworks/kiln/id"
	mw "github.com/kilnworks/kiln/middleware"
	"github.com/kilnworks/kiln/observability"
	"github.com/kilnworks/kiln/periodic"
	"github.com/kilnworks/kiln/queue"
	"github.com/kilnworks/kiln/retry"
	"github.com/kilnworks/kiln/status"
	"github.com/kilnworks/kiln/task"
	"github.com/kilnworks/kiln/worker"
)

// Engine is the composition root: one value owning the queue, the
// registries, the worker pool, and the periodic scheduler.
// Use Build() to create one.
type Engine struct {
	cfg        kiln.Config
	logger     *slog.Logger
	extensions *ext.Registry
	registry   *task.Registry
	statuses   *status.Registry
	queue      *queue.Queue
	bo         backoff.Strategy
	policy     *retry.Policy
	pool       *worker.Pool
	scheduler  *periodic.Scheduler
	mws        []mw.Middleware

	// Extensions collected by options before the registry exists.
	pendingExts []ext.Extension

	// Queue subsystem.
	queueConfigs []queue.Config
	queueManager *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	schedulerTick time.Duration

	mu      sync.Mutex
	started bool
	stopped bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(eng *Engine) {
		eng.logger = logger
	}
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.pendingExts = append(eng.pendingExts, e)
	}
}

// WithMiddleware adds middleware to the engine's chain, after the
// built-in stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy for the engine.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithRetryPolicy sets the full retry policy, overriding WithBackoff.
func WithRetryPolicy(p *retry.Policy) Option {
	return func(eng *Engine) {
		eng.policy = p
	}
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithSchedulerTick sets how often the periodic scheduler checks for
// due entries. Defaults to one second.
func WithSchedulerTick(d time.Duration) Option {
	return func(eng *Engine) {
		eng.schedulerTick = d
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the
// global one. If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from the given configuration. Zero-valued
// Config fields fall back to kiln.DefaultConfig().
func Build(cfg kiln.Config, opts ...Option) (*Engine, error) {
	defaults := kiln.DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaults.PollTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = defaults.DefaultMaxAttempts
	}

	eng := &Engine{
		cfg:      cfg,
		logger:   slog.Default(),
		registry: task.NewRegistry(),
		queue:    queue.New(),
	}

	for _, opt := range opts {
		opt(eng)
	}

	// Registries are created after options run so they pick up the
	// configured logger.
	eng.extensions = ext.NewRegistry(eng.logger)
	for _, e := range eng.pendingExts {
		eng.extensions.Register(e)
	}
	eng.statuses = status.NewRegistry(eng.logger)

	// Default backoff strategy and policy if none provided.
	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}
	if eng.policy == nil {
		eng.policy = retry.NewPolicy(eng.bo)
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/kilnworks/kiln")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/kilnworks/kiln")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/kilnworks/kiln/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Build default middleware stack: recover → tracing → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Timeout(eng.logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	// Create executor and pool.
	executor := worker.NewExecutor(
		eng.registry, eng.statuses, eng.extensions, eng.queue, eng.policy, eng.logger, allMws...,
	)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(cfg.Concurrency),
		worker.WithPollTimeout(cfg.PollTimeout),
	}

	// Create queue manager if queue configs were provided.
	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}

	eng.pool = worker.NewPool(eng.queue, executor, eng.extensions, eng.logger, poolOpts...)

	// Create the periodic scheduler.
	enqueueFunc := func(ctx context.Context, name string, payload []byte, opts ...task.Option) (id.TaskID, error) {
		t, err := eng.EnqueueRaw(ctx, name, payload, opts...)
		if err != nil {
			return id.TaskID{}, err
		}
		return t.ID, nil
	}
	schedOpts := []periodic.SchedulerOption{}
	if eng.schedulerTick > 0 {
		schedOpts = append(schedOpts, periodic.WithTickInterval(eng.schedulerTick))
	}
	eng.scheduler = periodic.NewScheduler(enqueueFunc, eng.extensions, eng.logger, schedOpts...)

	return eng, nil
}

// Register registers a typed task definition with the engine.
func Register[T any](eng *Engine, def *task.Definition[T]) {
	task.RegisterDefinition(eng.registry, def)
}

// Enqueue creates and enqueues a task with a typed payload.
func Enqueue[T any](ctx context.Context, eng *Engine, name string, payload T, opts ...task.Option) (*task.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for task %q: %w", name, err)
	}

	return eng.EnqueueRaw(ctx, name, data, opts...)
}

// EnqueueRaw enqueues a task with a pre-serialized payload. The task
// name must have a registered definition; its registration-time options
// are the base the call-site options are applied over.
func (eng *Engine) EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...task.Option) (*task.Task, error) {
	if _, ok := eng.registry.Get(name); !ok {
		return nil, fmt.Errorf("%w: %s", kiln.ErrNoHandler, name)
	}

	// Registration-time defaults, then call-site overrides.
	taskOpts := eng.registry.Defaults(name)
	for _, opt := range opts {
		opt(&taskOpts)
	}
	if taskOpts.MaxAttempts <= 0 {
		taskOpts.MaxAttempts = eng.cfg.DefaultMaxAttempts
	}

	now := time.Now().UTC()
	t := &task.Task{
		Entity:      kiln.NewEntity(),
		ID:          id.NewTaskID(),
		Name:        name,
		Queue:       taskOpts.Queue,
		Payload:     payload,
		Attempt:     1,
		MaxAttempts: taskOpts.MaxAttempts,
		RunAt:       now,
		Timeout:     taskOpts.Timeout,
	}
	if !taskOpts.RunAt.IsZero() {
		t.RunAt = taskOpts.RunAt
	}

	// The stopped check, record creation, and enqueue happen under one
	// lock so a concurrent Stop cannot close the queue in between and
	// strand a pending record with no queued task.
	eng.mu.Lock()
	if eng.stopped {
		eng.mu.Unlock()
		return nil, kiln.ErrQueueClosed
	}
	if err := eng.statuses.Create(t.ID, t.Name); err != nil {
		eng.mu.Unlock()
		return nil, err
	}
	if err := eng.queue.Enqueue(t); err != nil {
		eng.statuses.Remove(t.ID)
		eng.mu.Unlock()
		return nil, err
	}
	eng.mu.Unlock()

	eng.extensions.EmitTaskEnqueued(ctx, t)
	return t, nil
}

// Status returns an immutable snapshot of the task's current state.
func (eng *Engine) Status(taskID id.TaskID) (*status.Record, error) {
	return eng.statuses.Snapshot(taskID)
}

// RegisterPeriodic registers a typed periodic definition with the
// engine. The schedule is validated immediately; the entry starts
// firing once the engine is running.
func RegisterPeriodic[T any](eng *Engine, def *periodic.Definition[T]) error {
	payload, err := json.Marshal(def.Payload)
	if err != nil {
		return fmt.Errorf("marshal periodic payload for %q: %w", def.Name, err)
	}

	entry := &periodic.Entry{
		Name:        def.Name,
		Schedule:    def.Schedule,
		TaskName:    def.TaskName,
		Queue:       def.Queue,
		Payload:     payload,
		MaxAttempts: def.MaxAttempts,
	}
	if err := eng.scheduler.Register(entry); err != nil {
		return err
	}
	return nil
}

// Start begins task processing by starting the periodic scheduler and
// the worker pool. Idempotent.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	if eng.started {
		eng.mu.Unlock()
		return nil
	}
	eng.started = true
	eng.mu.Unlock()

	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start periodic scheduler: %w", err)
	}
	if err := eng.pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	eng.logger.Info("engine started",
		slog.Int("concurrency", eng.cfg.Concurrency),
		slog.Duration("poll_timeout", eng.cfg.PollTimeout),
	)
	return nil
}

// Stop gracefully shuts down the engine: the queue stops accepting new
// tasks, the scheduler stops ticking, and in-flight executions drain.
// Ready-but-unstarted tasks are left pending in the status registry.
// When the context carries no deadline, Config's ShutdownTimeout bounds
// the drain. Idempotent.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	if eng.stopped {
		eng.mu.Unlock()
		return nil
	}
	eng.stopped = true
	eng.mu.Unlock()

	eng.logger.Info("engine stopping")

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
		defer cancel()
	}

	// Stop the scheduler first so no new periodic tasks arrive, then
	// close the queue to reject new submissions and unblock idle workers.
	// Closing under the lock keeps the close ordered against in-flight
	// submissions that already passed the stopped check.
	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("periodic scheduler stop error", slog.String("error", err.Error()))
	}
	eng.mu.Lock()
	eng.queue.Close()
	eng.mu.Unlock()

	if err := eng.pool.Stop(ctx); err != nil {
		eng.logger.Error("worker pool stop error", slog.String("error", err.Error()))
	}

	eng.extensions.EmitShutdown(ctx)
	eng.logger.Info("engine stopped")
	return nil
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the task registry.
func (eng *Engine) Registry() *task.Registry { return eng.registry }

// Statuses returns the status registry.
func (eng *Engine) Statuses() *status.Registry { return eng.statuses }

// Queue returns the engine's task queue.
func (eng *Engine) Queue() *queue.Queue { return eng.queue }

// Scheduler returns the periodic scheduler.
func (eng *Engine) Scheduler() *periodic.Scheduler { return eng.scheduler }

// QueueManager returns the queue manager, or nil if no queue configs
// were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }

// Config returns the engine's effective configuration.
func (eng *Engine) Config() kiln.Config { return eng.cfg }
