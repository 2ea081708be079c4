package job

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spigotdb/spigot/internal/engine"
	"github.com/spigotdb/spigot/internal/model"
	"github.com/spigotdb/spigot/internal/storage"
)

// ErrCancelled is returned by executors that observe cancellation at a
// checkpoint. The scheduler never records it; the Cancelled status set by
// the caller stands.
var ErrCancelled = errors.New("job cancelled")

const defaultChunkSize = 500

// Executors implements the built-in job types against the table engine and
// object storage.
type Executors struct {
	engines *engine.Registry
	store   storage.Store
}

// NewExecutors creates the built-in executor set.
func NewExecutors(engines *engine.Registry, store storage.Store) *Executors {
	return &Executors{engines: engines, store: store}
}

// RegisterAll installs every built-in executor on the scheduler.
func (e *Executors) RegisterAll(s *Scheduler) {
	s.Register(model.JobDataImport, e.DataImport)
	s.Register(model.JobDataExport, e.DataExport)
	s.Register(model.JobBatchOperation, e.BatchOperation)
	s.Register(model.JobMediaProcessing, e.MediaProcessing)
	s.Register(model.JobTableRecompute, e.TableRecompute)
	s.Register(model.JobCustom, e.Custom)
}

func (e *Executors) engineFor(params map[string]interface{}) (*engine.SQLEngine, error) {
	service := paramString(params, "service")
	if service == "" {
		service = "default"
	}
	return e.engines.Get(service)
}

// DataImport inserts the supplied rows into a table in chunks, checking for
// cancellation between chunks.
func (e *Executors) DataImport(ctx context.Context, h *Handle) (map[string]interface{}, error) {
	params := h.Parameters()
	table := paramString(params, "table")
	if table == "" {
		return nil, fmt.Errorf("data_import requires a table parameter")
	}
	rows, err := paramRows(params, "rows")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("data_import requires rows")
	}
	chunkSize := paramInt(params, "chunk_size", defaultChunkSize)

	eng, err := e.engineFor(params)
	if err != nil {
		return nil, err
	}

	var inserted int64
	for offset := 0; offset < len(rows); offset += chunkSize {
		if h.Cancelled() {
			h.Logf("import abandoned after %d rows", inserted)
			return nil, ErrCancelled
		}
		end := offset + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		n, err := eng.InsertRows(ctx, table, rows[offset:end])
		if err != nil {
			return nil, fmt.Errorf("import chunk at row %d: %w", offset, err)
		}
		inserted += n
		h.SetProgress(float64(end) / float64(len(rows)) * 100)
		h.Logf("imported %d/%d rows into %s", end, len(rows), table)
	}

	return map[string]interface{}{"table": table, "rows_imported": inserted}, nil
}

// DataExport selects rows from a table and writes them to object storage as
// a JSON document.
func (e *Executors) DataExport(ctx context.Context, h *Handle) (map[string]interface{}, error) {
	params := h.Parameters()
	table := paramString(params, "table")
	if table == "" {
		return nil, fmt.Errorf("data_export requires a table parameter")
	}

	eng, err := e.engineFor(params)
	if err != nil {
		return nil, err
	}

	var where engine.Predicate
	if w, ok := params["where"].(map[string]interface{}); ok {
		where = engine.Predicate(w)
	}
	limit := paramInt(params, "limit", 0)

	h.SetProgress(10)
	rows, err := eng.SelectRows(ctx, table, where, limit)
	if err != nil {
		return nil, fmt.Errorf("export select from %s: %w", table, err)
	}
	if h.Cancelled() {
		return nil, ErrCancelled
	}

	h.SetProgress(60)
	doc, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}

	key := paramString(params, "key")
	if key == "" {
		key = fmt.Sprintf("exports/%s.json", h.ID())
	}
	info, err := e.store.Put(ctx, key, "application/json", bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("store export: %w", err)
	}
	h.Logf("exported %d rows from %s to %s", len(rows), table, key)

	return map[string]interface{}{
		"table":         table,
		"rows_exported": len(rows),
		"object_key":    info.Key,
		"bytes":         info.Size,
	}, nil
}

// BatchOperation replays a batch request asynchronously. A batch with any
// failed operation fails the job so the webhook reports job.failed.
func (e *Executors) BatchOperation(ctx context.Context, h *Handle) (map[string]interface{}, error) {
	params := h.Parameters()

	var req model.BatchRequest
	if err := reencode(params, &req); err != nil {
		return nil, fmt.Errorf("batch_operation parameters: %w", err)
	}
	if len(req.Operations) == 0 {
		return nil, fmt.Errorf("batch_operation requires operations")
	}

	eng, err := e.engineFor(params)
	if err != nil {
		return nil, err
	}
	if h.Cancelled() {
		return nil, ErrCancelled
	}

	result := engine.ApplyBatch(ctx, eng, req)
	h.Logf("batch finished: %d ok, %d failed", result.Successful, result.Failed)

	out := map[string]interface{}{
		"total_operations": result.TotalOperations,
		"successful":       result.Successful,
		"failed":           result.Failed,
	}
	if result.Failed > 0 {
		return out, fmt.Errorf("batch finished with %d failed operations", result.Failed)
	}
	return out, nil
}

// MediaProcessing reads an uploaded object, verifies it, and records its
// checksum and size.
func (e *Executors) MediaProcessing(ctx context.Context, h *Handle) (map[string]interface{}, error) {
	params := h.Parameters()
	key := paramString(params, "key")
	if key == "" {
		return nil, fmt.Errorf("media_processing requires a key parameter")
	}

	rc, info, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open media object %s: %w", key, err)
	}
	defer rc.Close()

	h.SetProgress(25)
	hasher := sha256.New()
	size, err := io.Copy(hasher, rc)
	if err != nil {
		return nil, fmt.Errorf("read media object %s: %w", key, err)
	}
	if h.Cancelled() {
		return nil, ErrCancelled
	}
	h.Logf("processed media object %s (%d bytes)", key, size)

	return map[string]interface{}{
		"key":          key,
		"bytes":        size,
		"sha256":       hex.EncodeToString(hasher.Sum(nil)),
		"content_type": info.ContentType,
	}, nil
}

// TableRecompute scans a table in chunks, reporting progress as it goes.
// The scan itself is the recomputation trigger for engines that refresh
// computed columns on read.
func (e *Executors) TableRecompute(ctx context.Context, h *Handle) (map[string]interface{}, error) {
	params := h.Parameters()
	table := paramString(params, "table")
	if table == "" {
		return nil, fmt.Errorf("table_recompute requires a table parameter")
	}

	eng, err := e.engineFor(params)
	if err != nil {
		return nil, err
	}
	if _, err := eng.LookupTable(ctx, table); err != nil {
		return nil, err
	}
	if h.Cancelled() {
		return nil, ErrCancelled
	}

	h.SetProgress(50)
	rows, err := eng.SelectRows(ctx, table, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("recompute scan of %s: %w", table, err)
	}
	h.Logf("recomputed %s over %d rows", table, len(rows))

	return map[string]interface{}{"table": table, "row_count": len(rows)}, nil
}

// Custom runs a caller-defined number of timed steps. It exists for load
// testing the job pipeline and for exercising cancellation end to end.
func (e *Executors) Custom(ctx context.Context, h *Handle) (map[string]interface{}, error) {
	params := h.Parameters()
	steps := paramInt(params, "steps", 5)
	stepMs := paramInt(params, "step_ms", 100)

	for i := 1; i <= steps; i++ {
		if h.Cancelled() {
			h.Logf("custom job stopped at step %d/%d", i, steps)
			return nil, ErrCancelled
		}
		select {
		case <-time.After(time.Duration(stepMs) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		h.SetProgress(float64(i) / float64(steps) * 100)
	}

	return map[string]interface{}{"steps_completed": steps}, nil
}

// paramString reads a string parameter, returning "" when absent.
func paramString(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return s
}

// paramInt reads a numeric parameter. JSON decoding produces float64, so
// both representations are accepted.
func paramInt(params map[string]interface{}, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// paramRows reads a list-of-objects parameter as row maps.
func paramRows(params map[string]interface{}, key string) ([]map[string]interface{}, error) {
	raw, ok := params[key]
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		// Already-typed rows, as submitted programmatically.
		if typed, ok := raw.([]map[string]interface{}); ok {
			return typed, nil
		}
		return nil, fmt.Errorf("parameter %q must be a list of row objects", key)
	}
	rows := make([]map[string]interface{}, 0, len(list))
	for i, item := range list {
		row, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("parameter %q item %d is not a row object", key, i)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// reencode converts loosely-typed parameters into a concrete struct via a
// JSON round trip.
func reencode(src map[string]interface{}, dst interface{}) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
