package multimaya

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// defaultStderrLines is how many trailing stderr lines are kept for diagnostics.
	defaultStderrLines = 20

	// maxStderrLineLength truncates runaway stderr lines.
	maxStderrLineLength = 4096

	// waitDelay bounds how long Wait blocks on pipes held open by orphaned
	// grandchildren after the interpreter itself has exited.
	waitDelay = 5 * time.Second
)

// LaunchOutput is the outcome of one child interpreter run.
type LaunchOutput struct {
	// ExitCode is the interpreter's exit status, or -1 if it was killed by a signal.
	ExitCode int

	// Stdout is the complete captured standard output.
	Stdout []byte

	// StderrTail holds the last lines of standard error.
	StderrTail []string

	Pid      int
	Duration time.Duration
}

// ProcessLauncher runs an interpreter on a script and waits for it.
// A non-zero exit code is reported in LaunchOutput, not as an error.
type ProcessLauncher interface {
	Launch(ctx context.Context, executable, scriptPath string, env []string) (*LaunchOutput, error)
}

// Launcher is the default ProcessLauncher. The child runs in its own process
// group, so cancelling ctx or signalling the Go process kills the interpreter
// together with any pool workers it started.
type Launcher struct {
	// Logger receives child stderr lines at debug level.
	Logger *slog.Logger

	// StderrLines is the number of trailing stderr lines kept; 0 means the default.
	StderrLines int

	// BindSignals kills the child process group when the Go process
	// receives SIGINT or SIGTERM during the launch.
	BindSignals bool

	// WaitDelay is how long output pipes may stay open after the interpreter
	// exits; 0 means the default. Processes still holding them are killed.
	WaitDelay time.Duration
}

// NewLauncher returns a Launcher with signal binding enabled.
func NewLauncher(logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{Logger: logger, BindSignals: true}
}

// Launch runs `executable -u scriptPath` with env and blocks until it exits.
func (l *Launcher) Launch(ctx context.Context, executable, scriptPath string, env []string) (*LaunchOutput, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	resolved, lerr := checkExecutable(executable)
	if lerr != nil {
		lerr.ScriptPath = scriptPath
		return nil, lerr
	}

	cmd := exec.CommandContext(ctx, resolved, "-u", scriptPath)
	cmd.Env = env
	cmd.WaitDelay = waitDelay
	if l.WaitDelay > 0 {
		cmd.WaitDelay = l.WaitDelay
	}
	configureProcessGroup(cmd)

	var stdout bytes.Buffer
	stderr := newTailWriter(l.StderrLines, func(line string) {
		logger.Debug("child_stderr", "script", scriptPath, "line", line)
	})
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Reason: LaunchStartFailed, Executable: resolved, ScriptPath: scriptPath, Cause: err}
	}

	done := make(chan struct{})
	if l.BindSignals {
		signalChan := make(chan os.Signal, 1)
		setSignalsForChannel(signalChan)
		go func() {
			defer stopSignals(signalChan)
			select {
			case sig := <-signalChan:
				logger.Warn("launch_interrupted", "signal", sig.String(), "pid", cmd.Process.Pid)
				killProcessGroup(cmd)
			case <-done:
			}
		}()
	}

	waitErr := cmd.Wait()
	close(done)
	stderr.flush()

	out := &LaunchOutput{
		Stdout:     stdout.Bytes(),
		StderrTail: stderr.tail(),
		Pid:        cmd.Process.Pid,
		Duration:   time.Since(start),
	}
	if waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("child interpreter terminated: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		switch {
		case errors.As(waitErr, &exitErr):
			out.ExitCode = exitErr.ExitCode()
		case errors.Is(waitErr, exec.ErrWaitDelay) && cmd.ProcessState != nil:
			// The interpreter finished; something it started kept stdout open.
			logger.Warn("launch_orphans_killed", "script", scriptPath, "pid", out.Pid)
			killProcessGroup(cmd)
			out.ExitCode = cmd.ProcessState.ExitCode()
		default:
			return nil, &LaunchError{Reason: LaunchProcessWaitFailed, Executable: resolved, ScriptPath: scriptPath, Cause: waitErr}
		}
	}
	return out, nil
}

// BuildEnvironment returns the child environment: base with overrides
// applied and PYTHONPATH set to searchPath followed by any PYTHONPATH already
// present. Empty and duplicate search path entries are dropped.
func BuildEnvironment(base []string, overrides map[string]string, searchPath []string) []string {
	values := make(map[string]string, len(base)+len(overrides))
	var order []string
	set := func(key, value string) {
		if _, ok := values[key]; !ok {
			order = append(order, key)
		}
		values[key] = value
	}
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			set(k, v)
		}
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		set(k, overrides[k])
	}

	var entries []string
	seen := map[string]bool{}
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		entries = append(entries, p)
	}
	for _, p := range searchPath {
		add(p)
	}
	if existing, ok := values["PYTHONPATH"]; ok {
		for _, p := range strings.Split(existing, string(os.PathListSeparator)) {
			add(p)
		}
	}
	if len(entries) > 0 {
		set("PYTHONPATH", strings.Join(entries, string(os.PathListSeparator)))
	}

	env := make([]string, 0, len(order))
	for _, k := range order {
		env = append(env, k+"="+values[k])
	}
	return env
}

// tailWriter splits child stderr into lines, reports each one and keeps the
// last n for diagnostics.
type tailWriter struct {
	mu      sync.Mutex
	partial []byte
	lines   []string
	max     int
	onLine  func(string)
}

func newTailWriter(n int, onLine func(string)) *tailWriter {
	if n <= 0 {
		n = defaultStderrLines
	}
	return &tailWriter{max: n, onLine: onLine}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.addLine(string(bytes.TrimRight(w.partial[:i], "\r")))
		w.partial = w.partial[i+1:]
	}
	if len(w.partial) > maxStderrLineLength {
		w.addLine(string(w.partial))
		w.partial = nil
	}
	return len(p), nil
}

func (w *tailWriter) addLine(line string) {
	if len(line) > maxStderrLineLength {
		line = line[:maxStderrLineLength] + "...(truncated)"
	}
	if w.onLine != nil {
		w.onLine(line)
	}
	w.lines = append(w.lines, line)
	if len(w.lines) > w.max {
		w.lines = w.lines[len(w.lines)-w.max:]
	}
}

func (w *tailWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.partial) > 0 {
		w.addLine(string(w.partial))
		w.partial = nil
	}
}

func (w *tailWriter) tail() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.lines...)
}
