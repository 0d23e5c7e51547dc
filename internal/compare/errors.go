package compare

import (
	"fmt"
)

// UnreadableInputError reports a document reference that could not be read.
type UnreadableInputError struct {
	Document string
	Err      error
}

func (e *UnreadableInputError) Error() string {
	return fmt.Sprintf("unreadable input %s: %v", e.Document, e.Err)
}

func (e *UnreadableInputError) Unwrap() error {
	return e.Err
}

// AnalysisError reports an unexpected failure inside a single analysis stage.
type AnalysisError struct {
	Stage Stage
	Err   error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}
