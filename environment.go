package multimaya

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// probeTimeout bounds the interpreter introspection run.
const probeTimeout = 30 * time.Second

// probeScript prints what the runner needs to know about an interpreter as
// one JSON object on stdout.
const probeScript = `import json, sys
print(json.dumps({
    "executable": sys.executable,
    "version": "%d.%d.%d" % sys.version_info[:3],
    "path": [p for p in sys.path if p],
}))
`

// Interpreter describes the Python installation shims are launched with.
//
// Some hosts ship an interpreter whose sys.executable is not a plain Python
// (an application binary with an embedded interpreter). Sub-processes
// started by multiprocessing must then use a different executable, which
// PoolExecutable names.
type Interpreter struct {
	// Executable launches the shim.
	Executable string `json:"executable" yaml:"executable"`

	// PoolExecutable is handed to multiprocessing.set_executable for detached
	// and pool modes. Empty means Executable itself.
	PoolExecutable string `json:"pool_executable,omitempty" yaml:"pool_executable,omitempty"`

	// Version is the probed interpreter version; Major is 0 if unknown.
	Version Version `json:"version" yaml:"version"`

	// SearchPath is prepended to PYTHONPATH for every launch, so the child
	// can import the same modules as the caller.
	SearchPath []string `json:"search_path,omitempty" yaml:"search_path,omitempty"`
}

// NewInterpreter returns an Interpreter for executable without probing it.
func NewInterpreter(executable string, searchPath ...string) *Interpreter {
	return &Interpreter{
		Executable: executable,
		Version:    Version{Minor: -1, Patch: -1},
		SearchPath: searchPath,
	}
}

type probeResult struct {
	Executable string   `json:"executable"`
	Version    string   `json:"version"`
	Path       []string `json:"path"`
}

// InterpreterFromExecutable runs executable once to learn its version and
// import path. The probed sys.path becomes SearchPath, so modules visible to
// that interpreter stay visible when it runs a shim from another directory.
func InterpreterFromExecutable(ctx context.Context, executable string) (*Interpreter, error) {
	resolved, lerr := checkExecutable(executable)
	if lerr != nil {
		return nil, lerr
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, resolved, "-c", probeScript)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("probing %s: %w: %s", resolved, err, msg)
		}
		return nil, fmt.Errorf("probing %s: %w", resolved, err)
	}

	// Site hooks may print before the probe does; the JSON is the last line.
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	var probe probeResult
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &probe); err != nil {
		return nil, fmt.Errorf("probing %s: unexpected output: %w", resolved, err)
	}
	version, err := ParseVersion(probe.Version)
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", resolved, err)
	}
	if !version.AtLeast(MinimumPythonVersion) {
		return nil, fmt.Errorf("%s is Python %s; %s or newer is required", resolved, version, MinimumPythonVersion)
	}

	interp := &Interpreter{
		Executable: resolved,
		Version:    version,
		SearchPath: probe.Path,
	}
	if probe.Executable != "" && !sameFile(probe.Executable, resolved) {
		interp.PoolExecutable = probe.Executable
	}
	return interp, nil
}

// InterpreterFromSystem probes "python3", then "python", from PATH.
func InterpreterFromSystem(ctx context.Context) (*Interpreter, error) {
	var firstErr error
	for _, name := range []string{"python3", "python"} {
		path, err := exec.LookPath(name)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		return InterpreterFromExecutable(ctx, path)
	}
	return nil, &LaunchError{Reason: LaunchExecutableNotFound, Executable: "python3", Cause: firstErr}
}

// SiblingExecutable returns the path of name in the same directory as
// executable, if it exists. It is used to find a host's plain interpreter
// (e.g. "mayapy" next to "maya") for PoolExecutable.
func SiblingExecutable(executable, name string) (string, bool) {
	candidate := filepath.Join(filepath.Dir(executable), name)
	info, err := os.Stat(candidate)
	if err != nil || info.IsDir() {
		return "", false
	}
	return candidate, true
}

// SubprocessExecutable returns the executable multiprocessing starts
// sub-processes with: PoolExecutable if set, otherwise Executable resolved to
// an absolute path.
func (interp *Interpreter) SubprocessExecutable() string {
	if interp.PoolExecutable != "" {
		return interp.PoolExecutable
	}
	return absExecutable(interp.Executable)
}

// absExecutable resolves bare names through PATH and relative paths against
// the working directory. It returns exe unchanged when neither works.
func absExecutable(exe string) string {
	if exe == "" {
		return ""
	}
	if filepath.Base(exe) == exe {
		resolved, err := exec.LookPath(exe)
		if err != nil {
			return exe
		}
		exe = resolved
	}
	abs, err := filepath.Abs(exe)
	if err != nil {
		return exe
	}
	return abs
}

// WithSearchPath returns a copy of interp with extra entries appended to SearchPath.
func (interp *Interpreter) WithSearchPath(entries ...string) *Interpreter {
	cp := *interp
	cp.SearchPath = append(append([]string(nil), interp.SearchPath...), entries...)
	return &cp
}

// Environ returns the child environment for a launch: the current process
// environment, overrides, and PYTHONPATH led by SearchPath.
func (interp *Interpreter) Environ(overrides map[string]string) []string {
	return BuildEnvironment(os.Environ(), overrides, interp.SearchPath)
}

func sameFile(a, b string) bool {
	ia, err := os.Stat(a)
	if err != nil {
		return false
	}
	ib, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ia, ib)
}
