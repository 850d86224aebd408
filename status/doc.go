// Package status tracks the lifecycle state of every submitted task.
//
// [Registry] maps task IDs to [Record] values and is the only shared
// mutable state in the engine besides the queue itself. All mutations
// go through its atomic Mark methods; readers get defensive copies via
// Snapshot, never live references.
//
// The state machine:
//
//	pending → running → succeeded
//	pending → running → retry_scheduled → running → ...
//	pending → running → failed
//
// Records are created at submission, mutated only by the worker
// currently processing the task, and never deleted: a permanently
// failed task stays visible with its final error indefinitely, giving
// callers full post-mortem information. Retention and eviction are the
// caller's concern.
package status
