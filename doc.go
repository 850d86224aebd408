// Package kiln provides a single-process, in-memory background job
// execution engine for Go. It offers a fixed-size worker pool, a task
// queue with delayed visibility, exponential-backoff retries, a periodic
// task scheduler, and a queryable status registry.
//
// Kiln is a library, not a service. Construct an engine, register task
// handlers as ordinary Go functions, and enqueue work:
//
//	eng, err := engine.Build(kiln.DefaultConfig())
//	engine.Register(eng, SendEmail)
//	eng.Start(ctx)
//	t, err := engine.Enqueue(ctx, eng, "send_email", EmailInput{To: "a@b.c"})
//	rec, err := eng.Status(t.ID)
//
// # Architecture
//
// Each subsystem lives in its own package: task (entities, typed
// definitions, handler registry), status (the job-status registry),
// queue (delayed-visibility FIFO plus per-queue rate limits), backoff
// and retry (delay strategies and the retry decision), worker (pool and
// executor), periodic (the recurring-task scheduler), middleware and ext
// (cross-cutting execution hooks). The engine package wires them
// together; this root package holds only configuration, shared errors,
// and entity timestamps so that every subsystem may import it.
//
// Nothing is persisted: tasks, retries, and status records live in
// process memory and are gone when the process exits. Callers needing
// durability or cross-process delivery should reach for a broker-backed
// system instead.
//
// All entity IDs are TypeIDs — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package kiln
