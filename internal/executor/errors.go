package executor

import (
	"errors"
	"fmt"
)

// FatalError is a non-transient job preparation failure: an unresolvable
// playbook, a trust violation, an unknown branch, an invalid role name.
// Builds that hit one report a terminal ERROR result and must not be
// rescheduled. Everything else that goes wrong during a build is reported
// through the exception channel and left to scheduler retry policy.
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string { return e.Reason }

// Fatalf builds a FatalError with a formatted reason.
func Fatalf(format string, args ...any) *FatalError {
	return &FatalError{Reason: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err is (or wraps) a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
