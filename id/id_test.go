package id_test

import (
	"encoding/json"
	"testing"

	"github.com/kilnworks/kiln/id"
)

func TestNew_GeneratesPrefixedIDs(t *testing.T) {
	tid := id.NewTaskID()
	if tid.IsNil() {
		t.Fatal("NewTaskID returned the nil ID")
	}
	if tid.Prefix() != id.PrefixTask {
		t.Errorf("Prefix() = %q, want %q", tid.Prefix(), id.PrefixTask)
	}
	if tid.String() == "" {
		t.Error("String() returned empty string for a valid ID")
	}
}

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]struct{})
	for range 1000 {
		s := id.NewTaskID().String()
		if _, dup := seen[s]; dup {
			t.Fatalf("duplicate ID generated: %s", s)
		}
		seen[s] = struct{}{}
	}
}

func TestParse_RoundTrip(t *testing.T) {
	orig := id.NewCronID()

	parsed, err := id.Parse(orig.String())
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", orig.String(), err)
	}
	if parsed.String() != orig.String() {
		t.Errorf("round trip mismatch: got %q, want %q", parsed.String(), orig.String())
	}
	if parsed.Prefix() != id.PrefixCron {
		t.Errorf("Prefix() = %q, want %q", parsed.Prefix(), id.PrefixCron)
	}
}

func TestParse_RejectsInvalid(t *testing.T) {
	for _, s := range []string{"", "not a typeid", "task_"} {
		if _, err := id.Parse(s); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", s)
		}
	}
}

func TestParseWithPrefix_RejectsWrongPrefix(t *testing.T) {
	tid := id.NewTaskID()

	if _, err := id.ParseCronID(tid.String()); err == nil {
		t.Errorf("ParseCronID(%q) succeeded, want prefix mismatch error", tid.String())
	}
	if _, err := id.ParseTaskID(tid.String()); err != nil {
		t.Errorf("ParseTaskID(%q) error: %v", tid.String(), err)
	}
}

func TestID_JSONRoundTrip(t *testing.T) {
	orig := id.NewWorkerID()

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var decoded id.ID
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if decoded.String() != orig.String() {
		t.Errorf("JSON round trip mismatch: got %q, want %q", decoded.String(), orig.String())
	}
}

func TestID_NilMarshalsEmpty(t *testing.T) {
	data, err := json.Marshal(id.Nil)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	if string(data) != `""` {
		t.Errorf("marshaled nil ID = %s, want \"\"", data)
	}

	var decoded id.ID
	if err := json.Unmarshal([]byte(`""`), &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if !decoded.IsNil() {
		t.Error("unmarshaled empty string should be the nil ID")
	}
}
