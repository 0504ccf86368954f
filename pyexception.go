package multimaya

import (
	"fmt"
	"regexp"
	"strings"
)

// PythonException represents an exception raised in a Python process.
// It captures the exception type, message, and full traceback for debugging.
type PythonException struct {
	// Exception is the exception class name (e.g., "ValueError", "KeyError").
	Exception string `json:"exception" msgpack:"exception"`

	// Message is the exception message/description.
	Message string `json:"message" msgpack:"message"`

	// Traceback is the full Python traceback string.
	Traceback string `json:"traceback" msgpack:"traceback"`

	// ExceptionArgs holds the exception's args; values without a plain
	// representation arrive as their repr() string.
	ExceptionArgs []interface{} `json:"args,omitempty" msgpack:"args,omitempty"`

	// Cause is the chained exception (__cause__ or __context__), if any.
	Cause *PythonException `json:"cause,omitempty" msgpack:"cause,omitempty"`
}

// ToString formats the exception as a readable string with type, message, and traceback.
// Chained exceptions follow, each introduced by "Caused by:".
func (e *PythonException) ToString() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s\n%s", e.Exception, e.Message, e.Traceback)
	for c := e.Cause; c != nil; c = c.Cause {
		fmt.Fprintf(&sb, "\nCaused by: %s: %s\n%s", c.Exception, c.Message, c.Traceback)
	}
	return sb.String()
}

// exceptionLine matches the final "module.Type: message" line of a traceback.
var exceptionLine = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_.]*)(?::\s?(.*))?$`)

// ParseTraceback builds a PythonException from plain traceback text, such as
// the content of a crash marker. The exception line is the first unindented
// line after the last indented frame line; any lines after it belong to a
// multi-line message. The whole text is kept as Traceback.
func ParseTraceback(text string) *PythonException {
	ex := &PythonException{Traceback: text}
	lines := strings.Split(strings.TrimRight(strings.ReplaceAll(text, "\r\n", "\n"), "\n\t "), "\n")

	start := 0
	for i, line := range lines {
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			start = i + 1
		}
	}
	for i := start; i < len(lines); i++ {
		m := exceptionLine.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		ex.Exception = m[1]
		ex.Message = strings.Join(append([]string{m[2]}, lines[i+1:]...), "\n")
		ex.Message = strings.TrimRight(ex.Message, "\n")
		break
	}
	return ex
}
