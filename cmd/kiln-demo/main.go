// Package main demonstrates a complete Kiln setup: typed task
// definitions, retries with backoff, delayed tasks, a periodic
// heartbeat, and graceful shutdown.
//
// Usage:
//
//	go run .
//
// Configuration is read from the environment (a .env file is loaded if
// present):
//
//	KILN_CONCURRENCY       worker goroutines (default 4)
//	KILN_SHUTDOWN_TIMEOUT  drain budget on SIGINT (default 10s)
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kilnworks/kiln"
	"github.com/kilnworks/kiln/engine"
	"github.com/kilnworks/kiln/id"
	"github.com/kilnworks/kiln/periodic"
	"github.com/kilnworks/kiln/queue"
	"github.com/kilnworks/kiln/task"
)

type emailInput struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

type imageInput struct {
	URL   string `json:"url"`
	Width int    `json:"width"`
}

type heartbeatInput struct {
	Source string `json:"source"`
}

func main() {
	// Best-effort: a missing .env file is fine.
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	cfg := kiln.DefaultConfig()
	cfg.Concurrency = envInt("KILN_CONCURRENCY", 4)
	cfg.ShutdownTimeout = envDuration("KILN_SHUTDOWN_TIMEOUT", 10*time.Second)

	// ──────────────────────────────────────────────────
	// 1. Build the engine
	// ──────────────────────────────────────────────────

	eng, err := engine.Build(cfg,
		engine.WithLogger(logger),
		engine.WithSchedulerTick(250*time.Millisecond),
		engine.WithQueueConfig(queue.Config{
			Name:           "email",
			MaxConcurrency: 2,
			RateLimit:      10,
			RateBurst:      5,
		}),
	)
	if err != nil {
		logger.Error("failed to build engine", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// ──────────────────────────────────────────────────
	// 2. Register tasks
	// ──────────────────────────────────────────────────

	// A simple email-sending task on a rate-limited queue.
	engine.Register(eng, task.NewDefinition("send-email", func(ctx context.Context, p emailInput) (any, error) {
		logger.Info("sending email", slog.String("to", p.To), slog.String("subject", p.Subject))
		time.Sleep(100 * time.Millisecond) // Simulate I/O.
		return map[string]string{"message_id": "msg_" + p.To}, nil
	}, task.WithQueue("email"), task.WithTimeout(5*time.Second)))

	// A flaky task that fails twice before succeeding, to show retries.
	var flakyCalls atomic.Int32
	engine.Register(eng, task.NewDefinition("resize-image", func(ctx context.Context, p imageInput) (any, error) {
		if flakyCalls.Add(1) < 3 {
			return nil, errors.New("upstream storage unavailable")
		}
		logger.Info("image resized", slog.String("url", p.URL), slog.Int("width", p.Width))
		return imageInput{URL: p.URL, Width: p.Width}, nil
	}, task.WithMaxAttempts(5)))

	// A heartbeat task fired by the periodic scheduler.
	engine.Register(eng, task.NewDefinition("heartbeat", func(_ context.Context, p heartbeatInput) (any, error) {
		logger.Info("heartbeat", slog.String("source", p.Source))
		return nil, nil
	}))

	// ──────────────────────────────────────────────────
	// 3. Register a periodic entry
	// ──────────────────────────────────────────────────

	if err := engine.RegisterPeriodic(eng, &periodic.Definition[heartbeatInput]{
		Name:     "heartbeat-every-2s",
		Schedule: "@every 2s",
		TaskName: "heartbeat",
		Payload:  heartbeatInput{Source: "scheduler"},
	}); err != nil {
		logger.Error("failed to register periodic entry", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// ──────────────────────────────────────────────────
	// 4. Start and submit work
	// ──────────────────────────────────────────────────

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		logger.Error("failed to start engine", slog.String("error", err.Error()))
		os.Exit(1)
	}

	email, err := engine.Enqueue(ctx, eng, "send-email",
		emailInput{To: "alice@example.com", Subject: "Welcome to Kiln"})
	if err != nil {
		logger.Error("enqueue failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	flaky, err := engine.Enqueue(ctx, eng, "resize-image",
		imageInput{URL: "https://example.com/cat.png", Width: 640})
	if err != nil {
		logger.Error("enqueue failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// A delayed task: runs three seconds from now.
	delayed, err := engine.Enqueue(ctx, eng, "send-email",
		emailInput{To: "bob@example.com", Subject: "Delayed greetings"},
		task.WithRunAt(time.Now().Add(3*time.Second)))
	if err != nil {
		logger.Error("enqueue failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Poll task statuses in the background.
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			report(logger, eng, "email", email.ID)
			report(logger, eng, "resize-image", flaky.ID)
			report(logger, eng, "delayed-email", delayed.ID)
		}
	}()

	// ──────────────────────────────────────────────────
	// 5. Wait for SIGINT/SIGTERM and drain
	// ──────────────────────────────────────────────────

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("signal received, shutting down", slog.String("signal", sig.String()))

	if err := eng.Stop(ctx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func report(logger *slog.Logger, eng *engine.Engine, label string, taskID id.TaskID) {
	rec, err := eng.Status(taskID)
	if err != nil {
		return
	}
	logger.Info("task status",
		slog.String("task", label),
		slog.String("state", string(rec.State)),
		slog.Int("attempt", rec.Attempt),
	)
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
