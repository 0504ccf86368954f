package multimaya

import (
	"fmt"
)

// Result is a successful launch: the shim exited 0 and, if a payload was
// expected, delivered one.
//
// For ModePool, each element of the argument list has one entry, in input
// order. Individual tasks may still have failed; see Values and Failures.
// For ModeSingle and ModeDetached with Capture set, there is exactly one entry.
type Result struct {
	Target     Callable
	Mode       Mode
	ExitCode   int
	ScriptPath string

	// Output is what the child wrote to stdout before the result frame.
	Output string

	// HasPayload is false for a bare success (no frame was expected).
	HasPayload bool

	serializer Serializer
	results    []interface{}
	errors     []*PythonException
}

// TaskFailure is one failed pool task.
type TaskFailure struct {
	Index     int
	Exception *PythonException
}

// Len returns the number of task entries in the payload.
func (r *Result) Len() int {
	return len(r.results)
}

// Failures lists every failed task in input order.
func (r *Result) Failures() []TaskFailure {
	var failures []TaskFailure
	for i, ex := range r.errors {
		if ex != nil {
			failures = append(failures, TaskFailure{Index: i, Exception: ex})
		}
	}
	return failures
}

// Values returns the decoded return values in input order. If any task
// failed, it returns a *TaskError for the first failure.
func (r *Result) Values() ([]interface{}, error) {
	if err := r.taskError(); err != nil {
		return nil, err
	}
	return r.results, nil
}

// Value returns the single return value of a single or detached call.
func (r *Result) Value() (interface{}, error) {
	if !r.HasPayload {
		return nil, fmt.Errorf("%s call produced no payload; set Capture to retrieve the return value", r.Mode)
	}
	values, err := r.Values()
	if err != nil {
		return nil, err
	}
	return values[0], nil
}

// Decode stores the return value(s) in the value pointed to by v. For
// ModePool v receives the whole list (e.g. *[]int); otherwise it receives
// the single return value.
func (r *Result) Decode(v interface{}) error {
	if !r.HasPayload {
		return fmt.Errorf("%s call produced no payload; set Capture to retrieve the return value", r.Mode)
	}
	if err := r.taskError(); err != nil {
		return err
	}
	var src interface{} = r.results
	if r.Mode != ModePool {
		src = r.results[0]
	}
	data, err := r.serializer.Marshal(src)
	if err != nil {
		return fmt.Errorf("re-encoding result: %w", err)
	}
	if err := r.serializer.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding result into %T: %w", v, err)
	}
	return nil
}

func (r *Result) taskError() error {
	failures := r.Failures()
	if len(failures) == 0 {
		return nil
	}
	return &TaskError{Index: failures[0].Index, Failed: len(failures), Exception: failures[0].Exception}
}

// Entry is the outcome of one task: a value or an exception.
type Entry struct {
	Index     int              `json:"index" yaml:"index"`
	Value     interface{}      `json:"value" yaml:"value"`
	Exception *PythonException `json:"exception,omitempty" yaml:"exception,omitempty"`
}

// Entries returns every task outcome in input order, failed ones included.
func (r *Result) Entries() []Entry {
	entries := make([]Entry, len(r.results))
	for i := range r.results {
		entries[i] = Entry{Index: i, Value: r.results[i]}
		if i < len(r.errors) && r.errors[i] != nil {
			entries[i].Value = nil
			entries[i].Exception = r.errors[i]
		}
	}
	return entries
}
