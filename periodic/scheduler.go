package periodic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/kilnworks/kiln"
	"github.com/kilnworks/kiln/id"
	"github.com/kilnworks/kiln/task"
)

// EnqueueFunc is the callback the scheduler uses to enqueue tasks.
// This breaks the import cycle: the engine provides the implementation.
type EnqueueFunc func(ctx context.Context, name string, payload []byte, opts ...task.Option) (id.TaskID, error)

// Emitter emits periodic lifecycle events.
// ext.Registry satisfies this interface via EmitPeriodicFired.
type Emitter interface {
	EmitPeriodicFired(ctx context.Context, entryName string, taskID id.TaskID)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// cronParser supports standard 5-field cron and descriptors like "@hourly".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

const everyPrefix = "@every "

// everySchedule fires at a fixed interval. robfig's @every descriptor
// rounds intervals up to one second; this keeps sub-second intervals
// exact.
type everySchedule struct {
	interval time.Duration
}

func (s everySchedule) Next(t time.Time) time.Time {
	return t.Add(s.interval)
}

// ParseSchedule parses a schedule expression: either a 5-field cron
// expression (with descriptors like "@hourly") or "@every <duration>".
// Exported for use by engine.RegisterPeriodic.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	if strings.HasPrefix(expr, everyPrefix) {
		d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(expr, everyPrefix)))
		if err != nil {
			return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("parse schedule %q: interval must be positive", expr)
		}
		return everySchedule{interval: d}, nil
	}
	return cronParser.Parse(expr)
}

// entryState pairs an entry with its parsed schedule.
type entryState struct {
	entry *Entry
	sched cronlib.Schedule
}

// Scheduler fires periodic entries on a tick loop. Entries live in
// memory; a restarted process starts from a clean table.
type Scheduler struct {
	enqueue EnqueueFunc
	emitter Emitter
	logger  *slog.Logger

	tickInterval time.Duration

	mu      sync.Mutex
	entries map[string]*entryState

	stopMu  sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(enqueue EnqueueFunc, emitter Emitter, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		enqueue:      enqueue,
		emitter:      emitter,
		logger:       logger,
		tickInterval: 1 * time.Second,
		entries:      make(map[string]*entryState),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a periodic entry. The schedule is validated at
// registration time and the first NextRunAt is computed from it.
// Returns kiln.ErrDuplicatePeriodic if the name is already registered.
func (s *Scheduler) Register(e *Entry) error {
	sched, err := ParseSchedule(e.Schedule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[e.Name]; exists {
		return kiln.ErrDuplicatePeriodic
	}

	if e.ID.IsNil() {
		e.ID = id.NewCronID()
	}
	e.Entity = kiln.NewEntity()
	e.Enabled = true
	next := sched.Next(time.Now().UTC())
	e.NextRunAt = &next

	s.entries[e.Name] = &entryState{entry: e, sched: sched}

	s.logger.Info("periodic entry registered",
		slog.String("entry_name", e.Name),
		slog.String("schedule", e.Schedule),
		slog.String("task_name", e.TaskName),
		slog.Time("next_run_at", next),
	)
	return nil
}

// Enable re-activates a disabled entry and recomputes its NextRunAt so
// the entry does not fire immediately for ticks missed while disabled.
func (s *Scheduler) Enable(name string) error {
	return s.setEnabled(name, true)
}

// Disable stops an entry from firing. The entry stays registered.
func (s *Scheduler) Disable(name string) error {
	return s.setEnabled(name, false)
}

func (s *Scheduler) setEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.entries[name]
	if !ok {
		return kiln.ErrPeriodicNotFound
	}

	st.entry.Enabled = enabled
	if enabled {
		next := st.sched.Next(time.Now().UTC())
		st.entry.NextRunAt = &next
	}
	st.entry.Touch()
	return nil
}

// Entries returns copies of all registered entries.
func (s *Scheduler) Entries() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*Entry, 0, len(s.entries))
	for _, st := range s.entries {
		cp := *st.entry
		result = append(result, &cp)
	}
	return result
}

// Start launches the tick goroutine. It returns immediately.
func (s *Scheduler) Start(_ context.Context) error {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if s.running {
		return nil
	}
	s.running = true

	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("periodic scheduler started",
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for the tick goroutine
// to finish. Tasks already enqueued by earlier ticks are unaffected.
func (s *Scheduler) Stop(_ context.Context) error {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("periodic scheduler stopped")
	return nil
}

// tickLoop fires on each tick interval and processes due entries.
func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	now := time.Now().UTC()

	// Collect due entries under the lock, fire outside it so a slow
	// enqueue does not block Register/Enable/Disable.
	s.mu.Lock()
	due := make([]*entryState, 0)
	for _, st := range s.entries {
		if !st.entry.Enabled {
			continue
		}
		if st.entry.NextRunAt == nil || st.entry.NextRunAt.After(now) {
			continue
		}
		due = append(due, st)
	}
	s.mu.Unlock()

	for _, st := range due {
		s.fireEntry(ctx, st, now)
	}
}

func (s *Scheduler) fireEntry(ctx context.Context, st *entryState, now time.Time) {
	entry := st.entry

	// Enqueue the task with optional overrides.
	var enqOpts []task.Option
	if entry.Queue != "" {
		enqOpts = append(enqOpts, task.WithQueue(entry.Queue))
	}
	if entry.MaxAttempts > 0 {
		enqOpts = append(enqOpts, task.WithMaxAttempts(entry.MaxAttempts))
	}

	taskID, enqErr := s.enqueue(ctx, entry.TaskName, entry.Payload, enqOpts...)
	if enqErr != nil {
		s.logger.Error("periodic enqueue error",
			slog.String("entry_name", entry.Name),
			slog.String("task_name", entry.TaskName),
			slog.String("error", enqErr.Error()),
		)
		// Still advance NextRunAt: a failing entry must not spin on
		// every tick.
	}

	s.mu.Lock()
	entry.LastRunAt = &now
	next := st.sched.Next(now)
	entry.NextRunAt = &next
	entry.Touch()
	s.mu.Unlock()

	if enqErr != nil {
		return
	}

	if s.emitter != nil {
		s.emitter.EmitPeriodicFired(ctx, entry.Name, taskID)
	}

	s.logger.Info("periodic entry fired",
		slog.String("entry_name", entry.Name),
		slog.String("task_name", entry.TaskName),
		slog.String("task_id", taskID.String()),
		slog.Time("next_run_at", next),
	)
}
