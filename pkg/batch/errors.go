package batch

import (
	"errors"
	"fmt"

	"github.com/wilhg/bookstore/pkg/errmodel"
)

// ErrInvalidBatchSize matches every ConfigError.
var ErrInvalidBatchSize = errors.New("batch size must be positive")

// Phase names the step of a batch boundary that failed.
type Phase string

const (
	// PhaseSource is a failure of the record source itself.
	PhaseSource Phase = "source"
	// PhaseStage is a rejected Stage call.
	PhaseStage Phase = "stage"
	// PhaseFlush is a failed Flush at a boundary.
	PhaseFlush Phase = "flush"
	// PhaseCommit is a failed Commit at a boundary.
	PhaseCommit Phase = "commit"
)

// ConfigError reports a configuration rejected before any record was processed.
type ConfigError struct {
	BatchSize int
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("batch: invalid configuration: batch size %d must be > 0", e.BatchSize)
}

func (e *ConfigError) Is(target error) bool { return target == ErrInvalidBatchSize }

// Compact implements errmodel.Compacter.
func (e *ConfigError) Compact() *errmodel.Error {
	return errmodel.Validation("invalid_batch_size", e.Error(), map[string]any{"batch_size": e.BatchSize})
}

// FailedBatchError reports the batch that could not be made durable. Batches
// before it stay committed; the failed batch was rolled back.
type FailedBatchError struct {
	// Batch is the 1-based index of the failed batch.
	Batch int
	// Committed is the number of records durably committed before the failure.
	Committed int
	Phase     Phase
	Err       error
	// RollbackErr is set when rolling back the failed batch also failed.
	RollbackErr error
}

func (e *FailedBatchError) Error() string {
	msg := fmt.Sprintf("batch %d failed during %s after %d committed records: %v", e.Batch, e.Phase, e.Committed, e.Err)
	if e.RollbackErr != nil {
		msg += fmt.Sprintf(" (rollback: %v)", e.RollbackErr)
	}
	return msg
}

func (e *FailedBatchError) Unwrap() error { return e.Err }

// Compact implements errmodel.Compacter.
func (e *FailedBatchError) Compact() *errmodel.Error {
	return errmodel.Storage("batch_failed", e.Error(), map[string]any{
		"batch":     e.Batch,
		"committed": e.Committed,
		"phase":     string(e.Phase),
	}, e.Err)
}
