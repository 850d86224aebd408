// Package periodic provides recurring task scheduling on a tick loop.
//
// Entries are held in memory and evaluated every tick; an entry whose
// NextRunAt has arrived enqueues its task and advances to the next
// occurrence of its schedule. Because the engine runs in a single
// process there is no leader election or locking — each entry fires at
// most once per occurrence.
//
// # Entry
//
// An [Entry] represents a recurring task schedule:
//   - Schedule: standard 5-field cron expression or a descriptor like
//     "@every 30s"
//   - TaskName: the registered task definition to enqueue when fired
//   - Queue: target queue (defaults to "default")
//   - Payload: static JSON payload passed to every triggered task
//   - Enabled: whether the entry fires
//
// # Registering
//
// Use engine.RegisterPeriodic to add an entry at startup:
//
//	engine.RegisterPeriodic(eng, &periodic.Definition[ReportInput]{
//	    Name:     "daily-report",
//	    Schedule: "0 9 * * *",
//	    TaskName: "generate-report",
//	    Payload:  ReportInput{Format: "pdf"},
//	})
//
// # Enable / Disable
//
// Entries can be paused and resumed at runtime with
// [Scheduler.Disable] and [Scheduler.Enable]. Re-enabling recomputes
// NextRunAt, so occurrences missed while disabled are skipped rather
// than fired in a burst.
package periodic
