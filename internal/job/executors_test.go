package job

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spigotdb/spigot/internal/engine"
	"github.com/spigotdb/spigot/internal/model"
	"github.com/spigotdb/spigot/internal/storage"
)

func newExecTestEnv(t *testing.T) (*Executors, *engine.Registry, storage.Store) {
	t.Helper()

	engines := engine.NewRegistry()
	if err := engines.Connect("default", engine.ConnectionConfig{Driver: "sqlite", DSN: ":memory:"}); err != nil {
		t.Fatalf("connect engine: %v", err)
	}
	t.Cleanup(engines.CloseAll)

	eng, _ := engines.Get("default")
	err := eng.CreateTable(context.Background(), engine.Table{
		Name: "events",
		Columns: []engine.Column{
			{Name: "id", Type: "INTEGER", Primary: true},
			{Name: "kind", Type: "TEXT"},
		},
	})
	if err != nil {
		t.Fatalf("create table: %v", err)
	}

	store, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	return NewExecutors(engines, store), engines, store
}

// runExecutor drives a single job through a throwaway scheduler and returns
// the terminal snapshot.
func runExecutor(t *testing.T, execs *Executors, req model.JobRequest) *model.Job {
	t.Helper()

	reg := NewRegistry()
	notifier := newCaptureNotifier(1)
	s := NewScheduler(reg, 1, 4, notifier, discardLogger())
	defer s.Shutdown()
	execs.RegisterAll(s)

	if _, err := s.Submit(req); err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, _ := notifier.wait(t)
	return done
}

func TestDataImportExecutor(t *testing.T) {
	execs, engines, _ := newExecTestEnv(t)

	rows := make([]interface{}, 0, 7)
	for i := 1; i <= 7; i++ {
		rows = append(rows, map[string]interface{}{"id": i, "kind": "click"})
	}

	done := runExecutor(t, execs, model.JobRequest{
		Type: model.JobDataImport,
		Parameters: map[string]interface{}{
			"table":      "events",
			"rows":       rows,
			"chunk_size": 3,
		},
	})

	if done.Status != model.JobCompleted {
		t.Fatalf("status = %q error = %q", done.Status, done.Error)
	}
	if got := done.Result["rows_imported"]; got != int64(7) {
		t.Errorf("rows_imported = %v, want 7", got)
	}

	eng, _ := engines.Get("default")
	stored, err := eng.SelectRows(context.Background(), "events", nil, 0)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(stored) != 7 {
		t.Errorf("stored rows = %d, want 7", len(stored))
	}
}

func TestDataImportExecutorMissingTable(t *testing.T) {
	execs, _, _ := newExecTestEnv(t)

	done := runExecutor(t, execs, model.JobRequest{
		Type: model.JobDataImport,
		Parameters: map[string]interface{}{
			"table": "missing",
			"rows":  []interface{}{map[string]interface{}{"id": 1}},
		},
	})

	if done.Status != model.JobFailed {
		t.Fatalf("status = %q, want failed", done.Status)
	}
	if !strings.Contains(done.Error, "table not found") {
		t.Errorf("error = %q", done.Error)
	}
}

func TestDataExportExecutor(t *testing.T) {
	execs, engines, store := newExecTestEnv(t)

	eng, _ := engines.Get("default")
	_, err := eng.InsertRows(context.Background(), "events", []map[string]interface{}{
		{"id": 1, "kind": "click"},
		{"id": 2, "kind": "view"},
	})
	if err != nil {
		t.Fatalf("seed rows: %v", err)
	}

	done := runExecutor(t, execs, model.JobRequest{
		Type:       model.JobDataExport,
		Parameters: map[string]interface{}{"table": "events"},
	})

	if done.Status != model.JobCompleted {
		t.Fatalf("status = %q error = %q", done.Status, done.Error)
	}
	if got := done.Result["rows_exported"]; got != 2 {
		t.Errorf("rows_exported = %v, want 2", got)
	}

	key, _ := done.Result["object_key"].(string)
	rc, _, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get export object: %v", err)
	}
	defer rc.Close()

	var exported []map[string]interface{}
	if err := json.NewDecoder(rc).Decode(&exported); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if len(exported) != 2 {
		t.Errorf("exported rows = %d, want 2", len(exported))
	}
}

func TestBatchOperationExecutor(t *testing.T) {
	execs, engines, _ := newExecTestEnv(t)

	done := runExecutor(t, execs, model.JobRequest{
		Type: model.JobBatchOperation,
		Parameters: map[string]interface{}{
			"operations": []interface{}{
				map[string]interface{}{
					"operation": "insert",
					"table":     "events",
					"rows":      []interface{}{map[string]interface{}{"id": 1, "kind": "click"}},
				},
				map[string]interface{}{
					"operation": "update",
					"table":     "events",
					"set":       map[string]interface{}{"kind": "tap"},
					"where":     map[string]interface{}{"id": 1},
				},
			},
		},
	})

	if done.Status != model.JobCompleted {
		t.Fatalf("status = %q error = %q", done.Status, done.Error)
	}
	if got := done.Result["successful"]; got != 2 {
		t.Errorf("successful = %v, want 2", got)
	}

	eng, _ := engines.Get("default")
	rows, _ := eng.SelectRows(context.Background(), "events", engine.Predicate{"kind": "tap"}, 0)
	if len(rows) != 1 {
		t.Errorf("updated rows = %d, want 1", len(rows))
	}
}

func TestBatchOperationExecutorFailsOnErrors(t *testing.T) {
	execs, _, _ := newExecTestEnv(t)

	done := runExecutor(t, execs, model.JobRequest{
		Type: model.JobBatchOperation,
		Parameters: map[string]interface{}{
			"operations": []interface{}{
				map[string]interface{}{
					"operation": "insert",
					"table":     "missing",
					"rows":      []interface{}{map[string]interface{}{"id": 1}},
				},
			},
		},
	})

	if done.Status != model.JobFailed {
		t.Fatalf("status = %q, want failed", done.Status)
	}
	if got := done.Result["failed"]; got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
}

func TestMediaProcessingExecutor(t *testing.T) {
	execs, _, store := newExecTestEnv(t)

	if _, err := store.Put(context.Background(), "media/img.png", "image/png", strings.NewReader("pngdata")); err != nil {
		t.Fatalf("put media: %v", err)
	}

	done := runExecutor(t, execs, model.JobRequest{
		Type:       model.JobMediaProcessing,
		Parameters: map[string]interface{}{"key": "media/img.png"},
	})

	if done.Status != model.JobCompleted {
		t.Fatalf("status = %q error = %q", done.Status, done.Error)
	}
	if got := done.Result["bytes"]; got != int64(7) {
		t.Errorf("bytes = %v, want 7", got)
	}
	if sum, _ := done.Result["sha256"].(string); len(sum) != 64 {
		t.Errorf("sha256 = %q", sum)
	}
}

func TestMediaProcessingExecutorMissingObject(t *testing.T) {
	execs, _, _ := newExecTestEnv(t)

	done := runExecutor(t, execs, model.JobRequest{
		Type:       model.JobMediaProcessing,
		Parameters: map[string]interface{}{"key": "media/nope.png"},
	})

	if done.Status != model.JobFailed {
		t.Fatalf("status = %q, want failed", done.Status)
	}
	if !strings.Contains(done.Error, "not found") {
		t.Errorf("error = %q", done.Error)
	}
}

func TestTableRecomputeExecutor(t *testing.T) {
	execs, engines, _ := newExecTestEnv(t)

	eng, _ := engines.Get("default")
	if _, err := eng.InsertRows(context.Background(), "events", []map[string]interface{}{
		{"id": 1, "kind": "click"},
		{"id": 2, "kind": "view"},
		{"id": 3, "kind": "tap"},
	}); err != nil {
		t.Fatalf("seed rows: %v", err)
	}

	done := runExecutor(t, execs, model.JobRequest{
		Type:       model.JobTableRecompute,
		Parameters: map[string]interface{}{"table": "events"},
	})

	if done.Status != model.JobCompleted {
		t.Fatalf("status = %q error = %q", done.Status, done.Error)
	}
	if got := done.Result["row_count"]; got != 3 {
		t.Errorf("row_count = %v, want 3", got)
	}
}

func TestCustomExecutor(t *testing.T) {
	execs, _, _ := newExecTestEnv(t)

	done := runExecutor(t, execs, model.JobRequest{
		Type:       model.JobCustom,
		Parameters: map[string]interface{}{"steps": float64(3), "step_ms": float64(1)},
	})

	if done.Status != model.JobCompleted {
		t.Fatalf("status = %q error = %q", done.Status, done.Error)
	}
	if got := done.Result["steps_completed"]; got != 3 {
		t.Errorf("steps_completed = %v, want 3", got)
	}
}
