package classify

import (
	"fmt"
	"strings"
)

// Stage names used in aggregate errors.
const (
	StageDecode  = "decode"
	StageExtract = "extract"
	StageInfer   = "infer"
	StageRemote  = "remote"
)

// Attempt records one failed stage of a classification call.
type Attempt struct {
	Stage string
	Err   error
}

// Error is the aggregate failure of a Classify call: every stage that
// was attempted and why it failed. Stage-local errors never reach the
// caller without this context.
type Error struct {
	URI      string
	Attempts []Attempt
}

func (e *Error) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Stage, a.Err)
	}
	return fmt.Sprintf("classify %s: %s", e.URI, strings.Join(parts, "; "))
}

// Unwrap exposes the stage errors for errors.Is/As matching.
func (e *Error) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}

// Attempted reports whether the named stage was tried.
func (e *Error) Attempted(stage string) bool {
	for _, a := range e.Attempts {
		if a.Stage == stage {
			return true
		}
	}
	return false
}
