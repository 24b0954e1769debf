package digest

import (
	"errors"
	"fmt"
)

// FailureKind classifies summarizer failures.
type FailureKind string

// Summarizer failure kinds.
const (
	FailureQuota     FailureKind = "quota"
	FailureAuth      FailureKind = "auth"
	FailureTransient FailureKind = "transient"
)

// SummarizerError is returned by AI rungs.
type SummarizerError struct {
	Kind FailureKind
	Err  error
}

// NewSummarizerError wraps err with kind.
func NewSummarizerError(kind FailureKind, err error) *SummarizerError {
	return &SummarizerError{Kind: kind, Err: err}
}

func (e *SummarizerError) Error() string {
	if e.Err == nil {
		return "summarizer " + string(e.Kind)
	}
	return fmt.Sprintf("summarizer %s: %v", e.Kind, e.Err)
}

func (e *SummarizerError) Unwrap() error {
	return e.Err
}

// IsQuota reports whether err is a quota failure.
func IsQuota(err error) bool {
	var se *SummarizerError
	return errors.As(err, &se) && se.Kind == FailureQuota
}
