package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/spigotdb/spigot/internal/model"
)

// ApplyBatch executes a batch request against the engine, one operation at a
// time. With ContinueOnError set, failed operations are collected and the
// rest proceed; otherwise the batch stops at the first failure. Both the
// synchronous batch endpoint and the batch_operation job run through here.
func ApplyBatch(ctx context.Context, eng Engine, req model.BatchRequest) *model.BatchResult {
	start := time.Now()
	result := &model.BatchResult{TotalOperations: len(req.Operations)}

	for i, op := range req.Operations {
		if err := applyOne(ctx, eng, op); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, model.BatchError{
				Operation: i,
				Table:     op.Table,
				Error:     err.Error(),
			})
			if !req.ContinueOnError {
				break
			}
			continue
		}
		result.Successful++
	}

	result.ExecutionMs = float64(time.Since(start).Microseconds()) / 1000.0
	return result
}

func applyOne(ctx context.Context, eng Engine, op model.BatchOperation) error {
	switch op.Operation {
	case model.BatchInsert:
		if len(op.Rows) == 0 {
			return fmt.Errorf("insert requires rows")
		}
		_, err := eng.InsertRows(ctx, op.Table, op.Rows)
		return err
	case model.BatchUpdate:
		if len(op.Set) == 0 {
			return fmt.Errorf("update requires set")
		}
		_, err := eng.UpdateRows(ctx, op.Table, op.Set, Predicate(op.Where))
		return err
	case model.BatchDelete:
		_, err := eng.DeleteRows(ctx, op.Table, Predicate(op.Where))
		return err
	default:
		return fmt.Errorf("unknown batch operation %q", op.Operation)
	}
}
