package telemetry

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveInstanceIDGeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()

	id := resolveInstanceID(dir)
	if id == "" {
		t.Fatal("expected non-empty instance ID")
	}

	raw, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil {
		t.Fatalf("instance_id file not written: %v", err)
	}
	if got := string(raw); got != id+"\n" {
		t.Errorf("file contents = %q, want %q", got, id+"\n")
	}

	// Second call returns the persisted ID.
	if again := resolveInstanceID(dir); again != id {
		t.Errorf("second resolve = %q, want %q", again, id)
	}
}

func TestResolveInstanceIDSurvivesUnwritableDir(t *testing.T) {
	// A bogus path cannot be written; the ID is ephemeral but non-empty.
	id := resolveInstanceID(string([]byte{0}))
	if id == "" {
		t.Fatal("expected ephemeral instance ID")
	}
}

func TestNewRespectsOptOut(t *testing.T) {
	for _, val := range []string{"0", "false", "off"} {
		t.Setenv("SPIGOT_TELEMETRY", val)
		if tr := New(t.TempDir(), func() Properties { return Properties{} }); tr != nil {
			t.Errorf("SPIGOT_TELEMETRY=%s: tracker should be nil", val)
		}
	}

	t.Setenv("SPIGOT_TELEMETRY", "")
	if tr := New(t.TempDir(), func() Properties { return Properties{} }); tr == nil {
		t.Error("tracker should be enabled by default")
	}
}

func TestNilTrackerIsSafe(t *testing.T) {
	var tr *Tracker
	tr.Start()
	tr.Shutdown()
}
