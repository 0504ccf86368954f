package multimaya

import (
	"fmt"
	"regexp"
	"strings"
)

// Callable identifies a top-level Python function by import coordinates.
// The function object itself never crosses the process boundary; the child
// re-imports Module and looks up Function by name.
type Callable struct {
	// Module is the dotted module path (e.g., "tools.geometry").
	Module string `json:"module" yaml:"module"`

	// Function is the name of a top-level function in Module.
	Function string `json:"function" yaml:"function"`
}

// NewCallable returns a validated Callable.
func NewCallable(module, function string) (Callable, error) {
	c := Callable{Module: module, Function: function}
	if err := c.Validate(); err != nil {
		return Callable{}, err
	}
	return c, nil
}

// ParseCallable parses "module:function" or "module.function".
func ParseCallable(s string) (Callable, error) {
	s = strings.TrimSpace(s)
	var module, function string
	if i := strings.LastIndex(s, ":"); i >= 0 {
		module, function = s[:i], s[i+1:]
	} else if i := strings.LastIndex(s, "."); i >= 0 {
		module, function = s[:i], s[i+1:]
	} else {
		return Callable{}, &ArgumentError{Field: "target", Reason: fmt.Sprintf("%q has no module qualifier", s)}
	}
	return NewCallable(module, function)
}

// String returns the "module:function" form.
func (c Callable) String() string {
	return c.Module + ":" + c.Function
}

// Validate checks that both coordinates are importable Python names.
func (c Callable) Validate() error {
	if c.Module == "" {
		return &ArgumentError{Field: "module", Reason: "empty module name"}
	}
	for _, part := range strings.Split(c.Module, ".") {
		if !isPythonIdentifier(part) {
			return &ArgumentError{Field: "module", Reason: fmt.Sprintf("%q is not a valid dotted module path", c.Module)}
		}
	}
	if !isPythonIdentifier(c.Function) {
		return &ArgumentError{Field: "function", Reason: fmt.Sprintf("%q is not a valid function name", c.Function)}
	}
	return nil
}

// Mode selects how the shim invokes the target.
type Mode string

const (
	// ModeSingle calls the target once in the launched interpreter.
	ModeSingle Mode = "single"

	// ModeDetached calls the target in a multiprocessing.Process inside the
	// launched interpreter and waits for it.
	ModeDetached Mode = "detached"

	// ModePool maps the target over an argument list with a multiprocessing.Pool.
	ModePool Mode = "pool"
)

// ParseMode converts a mode name; the empty string means ModeSingle.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeSingle:
		return ModeSingle, nil
	case ModeDetached:
		return ModeDetached, nil
	case ModePool:
		return ModePool, nil
	}
	return "", &ArgumentError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", s)}
}

// usesMultiprocessing reports whether the mode creates sub-processes inside the child.
func (m Mode) usesMultiprocessing() bool {
	return m == ModeDetached || m == ModePool
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var pythonKeywords = map[string]bool{
	"False": true, "None": true, "True": true, "and": true, "as": true,
	"assert": true, "async": true, "await": true, "break": true, "class": true,
	"continue": true, "def": true, "del": true, "elif": true, "else": true,
	"except": true, "finally": true, "for": true, "from": true, "global": true,
	"if": true, "import": true, "in": true, "is": true, "lambda": true,
	"nonlocal": true, "not": true, "or": true, "pass": true, "raise": true,
	"return": true, "try": true, "while": true, "with": true, "yield": true,
}

// isPythonIdentifier accepts ASCII identifiers that are not reserved words.
// Non-ASCII identifiers are legal Python but are rejected here.
func isPythonIdentifier(s string) bool {
	return identifierPattern.MatchString(s) && !pythonKeywords[s]
}
