package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kilnworks/kiln"
	"github.com/kilnworks/kiln/backoff"
	"github.com/kilnworks/kiln/engine"
	"github.com/kilnworks/kiln/id"
	"github.com/kilnworks/kiln/periodic"
	"github.com/kilnworks/kiln/status"
	"github.com/kilnworks/kiln/task"
)

// ──────────────────────────────────────────────────
// Test payloads
// ──────────────────────────────────────────────────

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func testConfig() kiln.Config {
	return kiln.Config{
		Concurrency:        2,
		PollTimeout:        10 * time.Millisecond,
		ShutdownTimeout:    2 * time.Second,
		DefaultMaxAttempts: 3,
	}
}

func fastBackoff() engine.Option {
	return engine.WithBackoff(backoff.NewConstant(5 * time.Millisecond))
}

func waitForState(t *testing.T, eng *engine.Engine, taskID id.TaskID, want status.State) *status.Record {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		rec, err := eng.Status(taskID)
		if err == nil && rec.State == want {
			return rec
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for state %q (last: %+v)", want, rec)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

// ──────────────────────────────────────────────────
// End-to-end: Register → Enqueue → Process
// ──────────────────────────────────────────────────

func TestEngine_EndToEnd_RegisterEnqueueProcess(t *testing.T) {
	eng, err := engine.Build(testConfig(), fastBackoff())
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	var processed atomic.Bool
	var mu sync.Mutex
	var gotPayload emailPayload
	def := task.NewDefinition("send-email", func(_ context.Context, p emailPayload) (any, error) {
		mu.Lock()
		gotPayload = p
		mu.Unlock()
		processed.Store(true)
		return map[string]string{"message_id": "msg_1"}, nil
	})
	engine.Register(eng, def)

	tk, err := engine.Enqueue(context.Background(), eng, "send-email", emailPayload{
		To:      "alice@example.com",
		Subject: "Hello from Kiln",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if tk.Name != "send-email" {
		t.Errorf("task.Name = %q, want %q", tk.Name, "send-email")
	}
	if tk.MaxAttempts != 3 {
		t.Errorf("task.MaxAttempts = %d, want default 3", tk.MaxAttempts)
	}

	rec, err := eng.Status(tk.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if rec.State != status.StatePending {
		t.Errorf("state before start = %q, want %q", rec.State, status.StatePending)
	}

	if startErr := eng.Start(context.Background()); startErr != nil {
		t.Fatalf("Start: %v", startErr)
	}
	defer eng.Stop(context.Background())

	rec = waitForState(t, eng, tk.ID, status.StateSucceeded)
	if !processed.Load() {
		t.Fatal("handler did not run")
	}
	mu.Lock()
	defer mu.Unlock()
	if gotPayload.To != "alice@example.com" {
		t.Errorf("payload.To = %q, want %q", gotPayload.To, "alice@example.com")
	}
	if string(rec.Result) != `{"message_id":"msg_1"}` {
		t.Errorf("result = %s, want message_id JSON", rec.Result)
	}
}

func TestEngine_EnqueueUnknownTask(t *testing.T) {
	eng, err := engine.Build(testConfig())
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	_, err = engine.Enqueue(context.Background(), eng, "never-registered", struct{}{})
	if !errors.Is(err, kiln.ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler, got %v", err)
	}
}

func TestEngine_RetryThenSucceed(t *testing.T) {
	eng, err := engine.Build(testConfig(), fastBackoff())
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	var calls atomic.Int32
	engine.Register(eng, task.NewDefinition("flaky", func(_ context.Context, _ struct{}) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return "done", nil
	}, task.WithMaxAttempts(5)))

	tk, err := engine.Enqueue(context.Background(), eng, "flaky", struct{}{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if tk.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want registration default 5", tk.MaxAttempts)
	}

	if startErr := eng.Start(context.Background()); startErr != nil {
		t.Fatalf("Start: %v", startErr)
	}
	defer eng.Stop(context.Background())

	rec := waitForState(t, eng, tk.ID, status.StateSucceeded)
	if rec.Attempt != 3 {
		t.Errorf("final attempt = %d, want 3", rec.Attempt)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("handler calls = %d, want 3", got)
	}
}

func TestEngine_ExhaustedAttemptsFail(t *testing.T) {
	eng, err := engine.Build(testConfig(), fastBackoff())
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	var calls atomic.Int32
	engine.Register(eng, task.NewDefinition("doomed", func(_ context.Context, _ struct{}) (any, error) {
		calls.Add(1)
		return nil, errors.New("always fails")
	}))

	tk, err := engine.Enqueue(context.Background(), eng, "doomed", struct{}{},
		task.WithMaxAttempts(2))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if startErr := eng.Start(context.Background()); startErr != nil {
		t.Fatalf("Start: %v", startErr)
	}
	defer eng.Stop(context.Background())

	rec := waitForState(t, eng, tk.ID, status.StateFailed)
	if got := calls.Load(); got != 2 {
		t.Errorf("handler calls = %d, want 2", got)
	}
	if rec.Error != "always fails" {
		t.Errorf("error = %q, want %q", rec.Error, "always fails")
	}
}

func TestEngine_DelayedTaskWaitsForRunAt(t *testing.T) {
	eng, err := engine.Build(testConfig())
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	var executedAt atomic.Int64
	engine.Register(eng, task.NewDefinition("later", func(_ context.Context, _ struct{}) (any, error) {
		executedAt.Store(time.Now().UnixNano())
		return nil, nil
	}))

	runAt := time.Now().Add(80 * time.Millisecond)
	tk, err := engine.Enqueue(context.Background(), eng, "later", struct{}{},
		task.WithRunAt(runAt))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if startErr := eng.Start(context.Background()); startErr != nil {
		t.Fatalf("Start: %v", startErr)
	}
	defer eng.Stop(context.Background())

	waitForState(t, eng, tk.ID, status.StateSucceeded)
	if got := time.Unix(0, executedAt.Load()); got.Before(runAt) {
		t.Errorf("task executed at %v, before its RunAt %v", got, runAt)
	}
}

func TestEngine_StopDrainsAndRejectsNewWork(t *testing.T) {
	eng, err := engine.Build(testConfig())
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	release := make(chan struct{})
	engine.Register(eng, task.NewDefinition("slow", func(_ context.Context, _ struct{}) (any, error) {
		<-release
		return "drained", nil
	}))

	tk, err := engine.Enqueue(context.Background(), eng, "slow", struct{}{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if startErr := eng.Start(context.Background()); startErr != nil {
		t.Fatalf("Start: %v", startErr)
	}
	waitForState(t, eng, tk.ID, status.StateRunning)

	stopDone := make(chan struct{})
	go func() {
		close(release)
		_ = eng.Stop(context.Background())
		close(stopDone)
	}()

	select {
	case <-stopDone:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}

	// The in-flight task drained before shutdown completed.
	rec, err := eng.Status(tk.ID)
	if err != nil {
		t.Fatalf("Status after stop: %v", err)
	}
	if rec.State != status.StateSucceeded {
		t.Errorf("state after stop = %q, want %q", rec.State, status.StateSucceeded)
	}

	// New submissions are rejected once stopped.
	_, err = engine.Enqueue(context.Background(), eng, "slow", struct{}{})
	if !errors.Is(err, kiln.ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed after stop, got %v", err)
	}
}

func TestEngine_RejectedEnqueueLeavesNoRecord(t *testing.T) {
	eng, err := engine.Build(testConfig())
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	engine.Register(eng, task.NewDefinition("orphanable", func(_ context.Context, _ struct{}) (any, error) {
		return nil, nil
	}))

	// Close the queue out from under the engine: the enqueue must fail
	// without leaving a pending record behind.
	eng.Queue().Close()

	_, err = engine.Enqueue(context.Background(), eng, "orphanable", struct{}{})
	if !errors.Is(err, kiln.ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if got := eng.Statuses().Len(); got != 0 {
		t.Fatalf("rejected submission left %d status records, want 0", got)
	}
	if pending := eng.Statuses().List(status.StatePending); len(pending) != 0 {
		t.Fatalf("rejected submission left %d pending records, want 0", len(pending))
	}
}

func TestEngine_StartStopIdempotent(t *testing.T) {
	eng, err := engine.Build(testConfig())
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("double Start: %v", err)
	}
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("double Stop: %v", err)
	}
}

func TestEngine_PeriodicEndToEnd(t *testing.T) {
	eng, err := engine.Build(testConfig(),
		engine.WithSchedulerTick(10*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	var fired atomic.Int32
	engine.Register(eng, task.NewDefinition("heartbeat", func(_ context.Context, p struct{ Source string }) (any, error) {
		if p.Source != "cron" {
			t.Errorf("payload.Source = %q, want %q", p.Source, "cron")
		}
		fired.Add(1)
		return nil, nil
	}))

	if err := engine.RegisterPeriodic(eng, &periodic.Definition[struct{ Source string }]{
		Name:     "heartbeat-every-50ms",
		Schedule: "@every 50ms",
		TaskName: "heartbeat",
		Payload:  struct{ Source string }{Source: "cron"},
	}); err != nil {
		t.Fatalf("RegisterPeriodic: %v", err)
	}

	// Duplicate names are rejected.
	err = engine.RegisterPeriodic(eng, &periodic.Definition[struct{ Source string }]{
		Name:     "heartbeat-every-50ms",
		Schedule: "@every 50ms",
		TaskName: "heartbeat",
	})
	if !errors.Is(err, kiln.ErrDuplicatePeriodic) {
		t.Fatalf("expected ErrDuplicatePeriodic, got %v", err)
	}

	if startErr := eng.Start(context.Background()); startErr != nil {
		t.Fatalf("Start: %v", startErr)
	}
	time.Sleep(180 * time.Millisecond)
	if stopErr := eng.Stop(context.Background()); stopErr != nil {
		t.Fatalf("Stop: %v", stopErr)
	}

	if got := fired.Load(); got < 2 || got > 4 {
		t.Errorf("periodic task fired %d times in ~180ms at 50ms interval, want 2-4", got)
	}

	// Every firing left its own status record.
	records := eng.Statuses().List(status.StateSucceeded)
	if int32(len(records)) != fired.Load() {
		t.Errorf("succeeded records = %d, want %d", len(records), fired.Load())
	}
}

func TestEngine_InvalidPeriodicSchedule(t *testing.T) {
	eng, err := engine.Build(testConfig())
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	err = engine.RegisterPeriodic(eng, &periodic.Definition[struct{}]{
		Name:     "broken",
		Schedule: "every day at nine",
		TaskName: "t",
	})
	if err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

// hookRecorder counts lifecycle events for assertions.
type hookRecorder struct {
	enqueued atomic.Int32
	retrying atomic.Int32
	shutdown atomic.Int32
}

func (h *hookRecorder) Name() string { return "hook-recorder" }

func (h *hookRecorder) OnTaskEnqueued(_ context.Context, _ *task.Task) error {
	h.enqueued.Add(1)
	return nil
}

func (h *hookRecorder) OnTaskRetrying(_ context.Context, _ *task.Task, _ int, _ time.Time) error {
	h.retrying.Add(1)
	return nil
}

func (h *hookRecorder) OnShutdown(_ context.Context) error {
	h.shutdown.Add(1)
	return nil
}

func TestEngine_ExtensionHooks(t *testing.T) {
	rec := &hookRecorder{}
	eng, err := engine.Build(testConfig(), fastBackoff(),
		engine.WithLogger(slog.Default()),
		engine.WithExtension(rec),
	)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	var calls atomic.Int32
	engine.Register(eng, task.NewDefinition("once-flaky", func(_ context.Context, _ struct{}) (any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("first attempt fails")
		}
		return nil, nil
	}))

	tk, err := engine.Enqueue(context.Background(), eng, "once-flaky", struct{}{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if startErr := eng.Start(context.Background()); startErr != nil {
		t.Fatalf("Start: %v", startErr)
	}
	waitForState(t, eng, tk.ID, status.StateSucceeded)
	if stopErr := eng.Stop(context.Background()); stopErr != nil {
		t.Fatalf("Stop: %v", stopErr)
	}

	if got := rec.enqueued.Load(); got != 1 {
		t.Errorf("OnTaskEnqueued calls = %d, want 1", got)
	}
	if got := rec.retrying.Load(); got != 1 {
		t.Errorf("OnTaskRetrying calls = %d, want 1", got)
	}
	if got := rec.shutdown.Load(); got != 1 {
		t.Errorf("OnShutdown calls = %d, want 1", got)
	}
}

func TestEngine_StatusSurvivesShutdown(t *testing.T) {
	eng, err := engine.Build(testConfig())
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	engine.Register(eng, task.NewDefinition("quick", func(_ context.Context, _ struct{}) (any, error) {
		return 42, nil
	}))

	tk, err := engine.Enqueue(context.Background(), eng, "quick", struct{}{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if startErr := eng.Start(context.Background()); startErr != nil {
		t.Fatalf("Start: %v", startErr)
	}
	waitForState(t, eng, tk.ID, status.StateSucceeded)
	if stopErr := eng.Stop(context.Background()); stopErr != nil {
		t.Fatalf("Stop: %v", stopErr)
	}

	rec, err := eng.Status(tk.ID)
	if err != nil {
		t.Fatalf("Status after shutdown: %v", err)
	}
	if rec.State != status.StateSucceeded {
		t.Errorf("state = %q, want %q", rec.State, status.StateSucceeded)
	}
	if string(rec.Result) != "42" {
		t.Errorf("result = %s, want 42", rec.Result)
	}
}

func TestEngine_UnknownStatusID(t *testing.T) {
	eng, err := engine.Build(testConfig())
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	_, err = eng.Status(id.NewTaskID())
	if !errors.Is(err, kiln.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}
