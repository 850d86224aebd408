// Package engine wires all kiln subsystems together and provides the
// primary application-level API for registering and enqueuing work.
//
// The engine package exists to break a fundamental import cycle: the
// root kiln package defines Entity and Config (imported by task, queue,
// periodic, etc.) and therefore cannot import those packages back.
// Engine sits above all subsystem packages and below the application
// layer.
//
// # Building an Engine
//
//	eng, err := engine.Build(kiln.DefaultConfig(),
//	    engine.WithLogger(logger),
//	    engine.WithExtension(myExtension),
//	    engine.WithBackoff(backoff.NewExponentialWithJitter(100*time.Millisecond, 30*time.Second, 50*time.Millisecond)),
//	    engine.WithQueueConfig(queue.Config{
//	        Name:      "critical",
//	        RateLimit: 100,
//	    }),
//	)
//
// # Registering Work
//
//	// Tasks
//	engine.Register(eng, SendEmail)
//
//	// Periodic entries
//	engine.RegisterPeriodic(eng, &periodic.Definition[ReportInput]{
//	    Name:     "daily-report",
//	    Schedule: "0 9 * * *",
//	    TaskName: "generate-report",
//	})
//
// # Enqueuing Tasks
//
//	engine.Enqueue(ctx, eng, "send-email", EmailInput{To: "user@example.com"})
//
//	// With options
//	engine.Enqueue(ctx, eng, "send-email", input, task.WithRunAt(time.Now().Add(5*time.Minute)))
//
// # Checking Status
//
//	rec, err := eng.Status(taskID)
//
// Status records survive Stop: a drained engine can still answer
// queries about everything it ran.
//
// # Options
//
//   - [WithLogger] — set the structured logger
//   - [WithExtension] — register a lifecycle extension
//   - [WithMiddleware] — add a middleware to the execution chain
//   - [WithBackoff] — set the retry backoff strategy
//   - [WithRetryPolicy] — replace the whole retry policy
//   - [WithQueueConfig] — configure per-queue rate limits and concurrency
//   - [WithSchedulerTick] — set the periodic scheduler tick interval
//   - [WithTracerProvider] — set the OpenTelemetry tracer provider
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine
