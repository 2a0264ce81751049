package batch

import (
	"errors"
	"fmt"
)

// ErrNoMatchingSamples marks a batch value that selected zero samples.
// The value is recorded as failed and the run moves on.
var ErrNoMatchingSamples = errors.New("no samples match filter criterion")

// ErrFilterKeyNotFound marks a filter key absent from every sample's
// metadata.
var ErrFilterKeyNotFound = errors.New("filter key not found in sample metadata")

// SampleError wraps a per-sample failure with enough context to
// diagnose it without rerunning: sample identity, gate, and the batch
// value being processed.
type SampleError struct {
	SampleID   string
	Gate       string
	BatchValue string
	Err        error
}

func (e *SampleError) Error() string {
	return fmt.Sprintf("sample %q gate %q (batch value %q): %v",
		e.SampleID, e.Gate, e.BatchValue, e.Err)
}

func (e *SampleError) Unwrap() error { return e.Err }
