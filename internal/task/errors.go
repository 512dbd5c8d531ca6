package task

import (
	"errors"
	"fmt"
)

// Failure kinds the executor classifies a tool error into.
const (
	FailMissingResource  = "missing-resource"
	FailPermissionDenied = "permission-denied"
	FailTransient        = "transient-unknown"
)

// Terminal loop conditions. All failures in the loop are return values;
// nothing here is ever raised as a panic.
var (
	// ErrToolTimeout marks an attempt abandoned at its deadline.
	ErrToolTimeout = errors.New("tool invocation timed out")

	// ErrConfirmationDenied marks a step stopped by operator denial.
	ErrConfirmationDenied = errors.New("confirmation denied")

	// ErrConfirmationTimedOut marks a confirmation nobody resolved in
	// time. Treated like a denial but recorded distinctly.
	ErrConfirmationTimedOut = errors.New("confirmation timed out")
)

// RefusalError carries a sovereignty refusal back to the planner. The
// refused action is never retried.
type RefusalError struct {
	Verdict Verdict
}

func (e *RefusalError) Error() string {
	return fmt.Sprintf("refused (%s): %s", e.Verdict.Risk, e.Verdict.Reason)
}

// ExhaustionError reports the planning step ceiling being reached.
type ExhaustionError struct {
	Steps int
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("planning exhausted after %d steps", e.Steps)
}
