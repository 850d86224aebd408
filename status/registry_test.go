package status_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/kilnworks/kiln"
	"github.com/kilnworks/kiln/id"
	"github.com/kilnworks/kiln/status"
)

func TestRegistry_CreateAndSnapshot(t *testing.T) {
	reg := status.NewRegistry(nil)
	tid := id.NewTaskID()

	if err := reg.Create(tid, "send_email"); err != nil {
		t.Fatalf("create error: %v", err)
	}

	rec, err := reg.Snapshot(tid)
	if err != nil {
		t.Fatalf("snapshot error: %v", err)
	}
	if rec.State != status.StatePending {
		t.Errorf("state = %q, want %q", rec.State, status.StatePending)
	}
	if rec.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", rec.Attempt)
	}
	if rec.Name != "send_email" {
		t.Errorf("name = %q, want %q", rec.Name, "send_email")
	}
	if rec.CreatedAt.IsZero() || rec.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestRegistry_CreateDuplicate(t *testing.T) {
	reg := status.NewRegistry(nil)
	tid := id.NewTaskID()

	if err := reg.Create(tid, "a"); err != nil {
		t.Fatalf("create error: %v", err)
	}
	if err := reg.Create(tid, "a"); !errors.Is(err, kiln.ErrTaskAlreadyExists) {
		t.Errorf("duplicate create err = %v, want %v", err, kiln.ErrTaskAlreadyExists)
	}
}

func TestRegistry_SnapshotUnknown(t *testing.T) {
	reg := status.NewRegistry(nil)

	if _, err := reg.Snapshot(id.NewTaskID()); !errors.Is(err, kiln.ErrTaskNotFound) {
		t.Errorf("err = %v, want %v", err, kiln.ErrTaskNotFound)
	}
}

func TestRegistry_Remove(t *testing.T) {
	reg := status.NewRegistry(nil)
	taskID := id.NewTaskID()

	if err := reg.Create(taskID, "rollback"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	reg.Remove(taskID)

	if _, err := reg.Snapshot(taskID); !errors.Is(err, kiln.ErrTaskNotFound) {
		t.Errorf("Snapshot after Remove: expected ErrTaskNotFound, got %v", err)
	}
	if reg.Len() != 0 {
		t.Errorf("Len after Remove = %d, want 0", reg.Len())
	}

	// Removing an unknown ID is a no-op.
	reg.Remove(id.NewTaskID())
}

func TestRegistry_UpdateUnknownIsNoop(t *testing.T) {
	reg := status.NewRegistry(nil)

	// Must not panic or create a record.
	reg.MarkRunning(id.NewTaskID(), 1)
	reg.MarkFailed(id.NewTaskID(), errors.New("boom"))

	if reg.Len() != 0 {
		t.Errorf("Len() = %d after updates to unknown ids, want 0", reg.Len())
	}
}

func TestRegistry_Lifecycle(t *testing.T) {
	reg := status.NewRegistry(nil)
	tid := id.NewTaskID()
	_ = reg.Create(tid, "flaky")

	reg.MarkRunning(tid, 1)
	reg.MarkRetryScheduled(tid, 2, errors.New("connection refused"))

	rec, _ := reg.Snapshot(tid)
	if rec.State != status.StateRetryScheduled {
		t.Errorf("state = %q, want %q", rec.State, status.StateRetryScheduled)
	}
	if rec.Attempt != 2 {
		t.Errorf("attempt = %d, want 2", rec.Attempt)
	}
	if rec.Error != "connection refused" {
		t.Errorf("error = %q, want %q", rec.Error, "connection refused")
	}
	if rec.State.Terminal() {
		t.Error("retry_scheduled must not be terminal")
	}

	reg.MarkRunning(tid, 2)
	reg.MarkSucceeded(tid, []byte(`"ok"`))

	rec, _ = reg.Snapshot(tid)
	if rec.State != status.StateSucceeded {
		t.Errorf("state = %q, want %q", rec.State, status.StateSucceeded)
	}
	if string(rec.Result) != `"ok"` {
		t.Errorf("result = %s, want %q", rec.Result, `"ok"`)
	}
	if rec.Error != "" {
		t.Errorf("error = %q, want empty after success", rec.Error)
	}
	if !rec.State.Terminal() {
		t.Error("succeeded must be terminal")
	}
}

func TestRegistry_SnapshotIsolation(t *testing.T) {
	reg := status.NewRegistry(nil)
	tid := id.NewTaskID()
	_ = reg.Create(tid, "a")
	reg.MarkSucceeded(tid, []byte("abc"))

	snap, _ := reg.Snapshot(tid)
	snap.State = status.StateFailed
	snap.Result[0] = 'X'

	fresh, _ := reg.Snapshot(tid)
	if fresh.State != status.StateSucceeded {
		t.Error("mutating a snapshot changed the stored state")
	}
	if string(fresh.Result) != "abc" {
		t.Error("mutating a snapshot's result changed the stored result")
	}
}

func TestRegistry_List(t *testing.T) {
	reg := status.NewRegistry(nil)

	var failed id.TaskID
	for i := range 5 {
		tid := id.NewTaskID()
		_ = reg.Create(tid, fmt.Sprintf("task-%d", i))
		if i == 3 {
			failed = tid
			reg.MarkFailed(tid, errors.New("nope"))
		}
	}

	all := reg.List("")
	if len(all) != 5 {
		t.Errorf("List(\"\") = %d records, want 5", len(all))
	}

	got := reg.List(status.StateFailed)
	if len(got) != 1 {
		t.Fatalf("List(failed) = %d records, want 1", len(got))
	}
	if got[0].TaskID.String() != failed.String() {
		t.Errorf("List(failed)[0] = %s, want %s", got[0].TaskID, failed)
	}
}

// Concurrent creates, updates, and snapshots must never produce a torn
// record or a panic.
func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := status.NewRegistry(nil)

	const n = 64
	ids := make([]id.TaskID, n)
	for i := range ids {
		ids[i] = id.NewTaskID()
	}

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(2)
		go func(tid id.TaskID) {
			defer wg.Done()
			_ = reg.Create(tid, "concurrent")
			reg.MarkRunning(tid, 1)
			reg.MarkSucceeded(tid, []byte(`1`))
		}(ids[i])
		go func(tid id.TaskID) {
			defer wg.Done()
			for range 50 {
				rec, err := reg.Snapshot(tid)
				if err != nil {
					continue // not created yet
				}
				switch rec.State {
				case status.StatePending, status.StateRunning, status.StateSucceeded:
				default:
					t.Errorf("unexpected state %q", rec.State)
					return
				}
			}
		}(ids[i])
	}
	wg.Wait()

	if reg.Len() != n {
		t.Errorf("Len() = %d, want %d", reg.Len(), n)
	}
	for _, tid := range ids {
		rec, err := reg.Snapshot(tid)
		if err != nil {
			t.Fatalf("snapshot error: %v", err)
		}
		if rec.State != status.StateSucceeded {
			t.Errorf("state = %q, want %q", rec.State, status.StateSucceeded)
		}
	}
}
