// Package task defines the task entity, typed definitions, and the
// handler registry.
//
// # Task Entity
//
// A [Task] is a unit of work: an opaque JSON payload bound to a named
// handler, plus its retry state (Attempt, MaxAttempts) and the earliest
// time it may run (RunAt). Execution status lives in the status package;
// the Task itself is the queue's currency.
//
// # Defining a Task
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at enqueue time and deserialized before the handler runs; a non-nil
// result is serialized back and retained in the status record:
//
//	var SendEmail = task.NewDefinition("send_email",
//	    func(ctx context.Context, in EmailInput) (any, error) {
//	        return nil, mailer.Send(in.To, in.Subject, in.Body)
//	    },
//	    task.WithMaxAttempts(5),
//	)
//
// # Registry
//
// [Registry] maps task names to type-erased [HandlerFunc] values.
// Register definitions at startup via [RegisterDefinition]; the engine
// package provides higher-level engine.Register and engine.Enqueue
// wrappers.
package task
