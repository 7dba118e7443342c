package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrScanNotReady is returned when a scan is not in the source status
	// a stage requires. The state machine only feeds each stage ids in its
	// expected source state, so two stages never race on one scan.
	ErrScanNotReady = errors.New("scan is not in the required status for this stage")

	// ErrMissingLabel is returned when a stage needs a label crop the scan
	// does not have.
	ErrMissingLabel = errors.New("scan has no extracted label image")

	// ErrCandidateNotFound is returned when an approval names a card that
	// is not among the scan's match candidates.
	ErrCandidateNotFound = errors.New("chosen card is not a match candidate of this scan")
)

// StageError wraps errors with the pipeline stage and scan that failed.
type StageError struct {
	// Stage is the pipeline stage that failed (e.g., "extract", "stitch").
	Stage string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *StageError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("pipeline: %s failed: %s: %v", e.Stage, e.Details, e.Err)
	}
	return fmt.Sprintf("pipeline: %s failed: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *StageError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func wrapStage(stage string, err error, details string) error {
	if err == nil {
		return nil
	}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return err
	}
	return &StageError{Stage: stage, Err: err, Details: details}
}
