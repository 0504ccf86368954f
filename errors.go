package multimaya

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel kinds for errors.Is. Every error returned by Runner.Run matches
// exactly one of them (context cancellation aside).
var (
	// ErrLaunch matches failures to start the child interpreter.
	ErrLaunch = errors.New("multimaya: launch failure")

	// ErrChildException matches an unhandled exception inside the child.
	ErrChildException = errors.New("multimaya: child exception")

	// ErrProtocol matches a child that violated the result protocol.
	ErrProtocol = errors.New("multimaya: protocol violation")

	// ErrArgument matches a call rejected before anything was spawned.
	ErrArgument = errors.New("multimaya: invalid argument")
)

// LaunchReason classifies a LaunchError.
type LaunchReason string

const (
	LaunchExecutableNotFound     LaunchReason = "EXECUTABLE_NOT_FOUND"
	LaunchExecutableNotRunnable  LaunchReason = "EXECUTABLE_NOT_RUNNABLE"
	LaunchStartFailed            LaunchReason = "START_FAILED"
	LaunchArtifactCreationFailed LaunchReason = "ARTIFACT_CREATION_FAILED"
	LaunchProcessWaitFailed      LaunchReason = "WAIT_FAILED"
)

// LaunchError reports that the child interpreter never ran the shim.
type LaunchError struct {
	Reason     LaunchReason
	Executable string
	ScriptPath string
	Cause      error
}

func (e *LaunchError) Error() string {
	msg := fmt.Sprintf("launch failed [%s]: executable %q", e.Reason, e.Executable)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LaunchError) Unwrap() error { return e.Cause }

func (e *LaunchError) Is(target error) bool { return target == ErrLaunch }

// ChildError reports an unhandled exception recorded in the crash marker.
// The shim file and the crash marker are left on disk for inspection.
type ChildError struct {
	Target     Callable
	Mode       Mode
	ExitCode   int
	ScriptPath string
	CrashPath  string

	// Trace is the verbatim crash marker content.
	Trace string

	// Exception is parsed from Trace; its fields may be empty if the trace
	// does not end in a "Type: message" line. For a pool run it is the
	// exception of the first failed task.
	Exception *PythonException

	// Tasks holds every task outcome of a pool run whose workers raised,
	// in input order. It is nil when no payload was delivered.
	Tasks []Entry
}

// FailedTasks counts the entries of Tasks that carry an exception.
func (e *ChildError) FailedTasks() int {
	n := 0
	for _, t := range e.Tasks {
		if t.Exception != nil {
			n++
		}
	}
	return n
}

func (e *ChildError) Error() string {
	summary := "unhandled exception"
	if e.Exception != nil && e.Exception.Exception != "" {
		summary = e.Exception.Exception
		if e.Exception.Message != "" {
			summary += ": " + e.Exception.Message
		}
	}
	if len(e.Tasks) > 0 {
		summary = fmt.Sprintf("%d of %d tasks failed, first: %s", e.FailedTasks(), len(e.Tasks), summary)
	}
	return fmt.Sprintf("%s (%s mode) exited with code %d: %s (trace: %s)", e.Target, e.Mode, e.ExitCode, summary, e.CrashPath)
}

func (e *ChildError) Is(target error) bool { return target == ErrChildException }

// ProtocolKind classifies a ProtocolError.
type ProtocolKind string

const (
	// UnexplainedExit: non-zero exit with no crash marker.
	UnexplainedExit ProtocolKind = "UNEXPLAINED_EXIT"

	// MissingPayload: clean exit but no result frame where one was expected.
	MissingPayload ProtocolKind = "MISSING_PAYLOAD"

	// MalformedPayload: a result frame was found but could not be decoded.
	MalformedPayload ProtocolKind = "MALFORMED_PAYLOAD"
)

// ProtocolError reports a child whose outcome cannot be trusted as either a
// success or a diagnosed failure.
type ProtocolError struct {
	Kind       ProtocolKind
	Target     Callable
	Mode       Mode
	ExitCode   int
	ScriptPath string

	// StderrTail holds the last lines the child wrote to stderr.
	StderrTail []string

	Cause error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("protocol violation [%s]: %s (%s mode) exit code %d", e.Kind, e.Target, e.Mode, e.ExitCode)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if len(e.StderrTail) > 0 {
		msg += "; stderr: " + strings.Join(e.StderrTail, " | ")
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// ArgumentError reports a call that cannot be rendered into a shim.
type ArgumentError struct {
	// Field names the offending input, e.g. "module" or "args[2]".
	Field  string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ArgumentError) Is(target error) bool { return target == ErrArgument }

// TaskError reports the first failed task of a pool result.
type TaskError struct {
	Index     int
	Failed    int
	Exception *PythonException
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %d failed (%d failed in total): %s: %s", e.Index, e.Failed, e.Exception.Exception, e.Exception.Message)
}

// A failed task is an exception raised by the target in a worker.
func (e *TaskError) Is(target error) bool { return target == ErrChildException }
