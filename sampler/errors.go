package sampler

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNoProposal is returned when a proposal density is needed before
// one was fitted.
var ErrNoProposal = errors.New("sampler: no proposal density, initial positions are required")

// EvaluationError is returned when the posterior or the proposal
// density failed for a candidate batch. The chain is rolled back to
// Iteration and the batch is available from FailedBatch.
type EvaluationError struct {
	Iteration int
	Err       error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("sampler: evaluation failed at iteration %d: %v", e.Iteration, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// Cause returns the underlying error.
func (e *EvaluationError) Cause() error { return e.Err }

// CancelledError is returned when the context was cancelled during
// sampling. The chain is rolled back to Iteration.
type CancelledError struct {
	Iteration int
	Err       error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("sampler: interrupted at iteration %d: %v", e.Iteration, e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }

// Cause returns the underlying error.
func (e *CancelledError) Cause() error { return e.Err }
