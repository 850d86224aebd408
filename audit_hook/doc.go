// Package audithook is a kiln extension that bridges lifecycle events to an
// audit trail backend.
//
// Every task, periodic, and engine lifecycle hook emits a structured audit
// event through the [Recorder] interface. The extension assigns appropriate
// severity levels (info for normal operations, warning for retries, critical
// for terminal failures) and rich metadata (task name, queue, attempt,
// elapsed time, errors).
//
// # Usage
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return store.Append(ctx, evt)
//	}))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionTaskFailed,
//	        audithook.ActionTaskRetrying,
//	    ),
//	)
package audithook
