package task

import (
	"fmt"
	"time"
)

// Result is the tagged outcome a task body returns. Exactly one constructor
// applies: Done for success, Pause to reschedule after a rate-limit
// cooldown, Fail for a fatal error.
type Result struct {
	kind       resultKind
	message    string
	retryAfter time.Duration
	err        error
}

type resultKind int

const (
	resultDone resultKind = iota
	resultPause
	resultFail
)

// Done marks success. An empty message gets the standard completion text.
func Done(message string) Result {
	return Result{kind: resultDone, message: message}
}

// Pause asks the manager to park the task and re-run it after retryAfter.
func Pause(retryAfter time.Duration, message string) Result {
	return Result{kind: resultPause, retryAfter: retryAfter, message: message}
}

// Fail marks the task failed with the given error.
func Fail(err error) Result {
	return Result{kind: resultFail, err: err}
}

// Failf is Fail with formatting.
func Failf(format string, args ...any) Result {
	return Result{kind: resultFail, err: fmt.Errorf(format, args...)}
}
