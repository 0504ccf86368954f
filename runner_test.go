package multimaya

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// fakeLauncher plays the child side of the protocol without a Python interpreter.
type fakeLauncher struct {
	mu sync.Mutex

	exitCode     int
	stdout       []byte
	crash        string
	removeScript bool
	err          error

	calls   int
	scripts []string
	env     []string
}

func (f *fakeLauncher) Launch(ctx context.Context, executable, scriptPath string, env []string) (*LaunchOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.scripts = append(f.scripts, scriptPath)
	f.env = env
	if f.err != nil {
		return nil, f.err
	}
	if f.crash != "" {
		if err := os.WriteFile(CrashMarkerPath(scriptPath), []byte(f.crash), 0644); err != nil {
			return nil, err
		}
	}
	if f.removeScript {
		os.Remove(scriptPath)
	}
	return &LaunchOutput{ExitCode: f.exitCode, Stdout: f.stdout, Pid: 4242}, nil
}

func payloadFrame(t *testing.T, mode Mode, results ...interface{}) []byte {
	t.Helper()
	errs := make([]interface{}, len(results))
	body, err := json.Marshal(map[string]interface{}{
		"version": FrameProtocolVersion,
		"mode":    string(mode),
		"results": results,
		"errors":  errs,
	})
	if err != nil {
		t.Fatal(err)
	}
	return EncodeFrame("json", body)
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func newFakeRunner(t *testing.T, fl *fakeLauncher, opts ...Option) (*Runner, string) {
	t.Helper()
	dir := t.TempDir()
	interp := NewInterpreter("python3", "/project/src")
	opts = append([]Option{WithLauncher(fl), WithArtifactDir(dir)}, opts...)
	return NewRunner(interp, opts...), dir
}

func TestRunnerMapPoolScenario(t *testing.T) {
	fl := &fakeLauncher{stdout: payloadFrame(t, ModePool, 2, 3, 4), removeScript: true}
	r, dir := newFakeRunner(t, fl)

	values, err := r.Map(context.Background(), testTarget, []interface{}{1, 2, 3}, 2)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if fmt.Sprint(values) != "[2 3 4]" {
		t.Errorf("values = %v, want [2 3 4]", values)
	}
	if names := dirEntries(t, dir); len(names) != 0 {
		t.Errorf("artifacts left behind: %v", names)
	}

	script, err := r.Render(Call{Target: testTarget, Mode: ModePool, Args: []interface{}{1, 2, 3}, PoolSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(script, "_POOL_SIZE = 2") {
		t.Error("pool size not rendered")
	}
}

func TestRunnerRetiresAfterSuccess(t *testing.T) {
	fl := &fakeLauncher{}
	r, dir := newFakeRunner(t, fl)

	res, err := r.Run(context.Background(), Call{Target: testTarget})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.HasPayload {
		t.Error("single mode without capture has no payload")
	}
	if names := dirEntries(t, dir); len(names) != 0 {
		t.Errorf("artifact not removed: %v", names)
	}
}

func TestRunnerKeepScript(t *testing.T) {
	fl := &fakeLauncher{}
	r, dir := newFakeRunner(t, fl)

	if _, err := r.Run(context.Background(), Call{Target: testTarget, KeepScript: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(fl.scripts[0]); err != nil {
		t.Errorf("kept script missing: %v", err)
	}
	if names := dirEntries(t, dir); len(names) != 1 {
		t.Errorf("expected exactly the kept script, got %v", names)
	}
}

func TestRunnerChildExceptionKeepsArtifact(t *testing.T) {
	trace := "Traceback (most recent call last):\n  File \"mymodule.py\", line 2, in always_raises\nRuntimeError: always fails\n"
	fl := &fakeLauncher{exitCode: 1, crash: trace}
	r, _ := newFakeRunner(t, fl)
	target := Callable{Module: "mymodule", Function: "always_raises"}

	res, err := r.Run(context.Background(), Call{Target: target})
	if res != nil {
		t.Error("a failed run must not return a Result")
	}
	var childErr *ChildError
	if !errors.As(err, &childErr) {
		t.Fatalf("expected ChildError, got %v", err)
	}
	if childErr.Target != target || childErr.Exception.Message != "always fails" {
		t.Errorf("unexpected child error %+v", childErr)
	}
	if _, err := os.Stat(fl.scripts[0]); err != nil {
		t.Errorf("script should be kept after a failure: %v", err)
	}
	if _, err := os.Stat(CrashMarkerPath(fl.scripts[0])); err != nil {
		t.Errorf("crash marker missing: %v", err)
	}
}

func TestRunnerPoolTaskFailureIsChildException(t *testing.T) {
	body, err := json.Marshal(map[string]interface{}{
		"version": FrameProtocolVersion,
		"mode":    "pool",
		"results": []interface{}{10, nil, 30},
		"errors": []interface{}{nil, map[string]interface{}{
			"exception": "ValueError",
			"message":   "two is not allowed",
			"traceback": "Traceback (most recent call last):\nValueError: two is not allowed\n",
		}, nil},
	})
	if err != nil {
		t.Fatal(err)
	}
	pmc := NewPrometheusMetricsCollector("test")
	fl := &fakeLauncher{
		exitCode: 1,
		stdout:   EncodeFrame("json", body),
		crash:    "task 1 failed:\nTraceback (most recent call last):\nValueError: two is not allowed\n",
	}
	r, _ := newFakeRunner(t, fl, WithMetrics(pmc))

	values, err := r.Map(context.Background(), testTarget, []interface{}{1, 2, 3}, 2)
	if values != nil {
		t.Errorf("values = %v, want none", values)
	}
	if !errors.Is(err, ErrChildException) {
		t.Fatalf("expected ErrChildException, got %v", err)
	}
	var childErr *ChildError
	if !errors.As(err, &childErr) {
		t.Fatalf("expected *ChildError, got %T", err)
	}
	if len(childErr.Tasks) != 3 || childErr.FailedTasks() != 1 {
		t.Fatalf("Tasks = %+v", childErr.Tasks)
	}
	if childErr.Tasks[1].Exception == nil || fmt.Sprintf("%v %v", childErr.Tasks[0].Value, childErr.Tasks[2].Value) != "10 30" {
		t.Errorf("unexpected task entries %+v", childErr.Tasks)
	}
	if childErr.Exception.Exception != "ValueError" || childErr.Exception.Message != "two is not allowed" {
		t.Errorf("Exception = %+v", childErr.Exception)
	}
	if !strings.Contains(err.Error(), "1 of 3 tasks failed") {
		t.Errorf("error text %q", err.Error())
	}
	if _, err := os.Stat(fl.scripts[0]); err != nil {
		t.Errorf("script should be kept after a failed task: %v", err)
	}
	if got := testutil.ToFloat64(pmc.launches.WithLabelValues("pool", OutcomeChildException)); got != 1 {
		t.Errorf("pool child exceptions = %v", got)
	}
	if got := testutil.ToFloat64(pmc.poolTasks.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed tasks = %v", got)
	}
}

func TestRunnerProtocolViolationKeepsArtifact(t *testing.T) {
	fl := &fakeLauncher{exitCode: -1}
	r, _ := newFakeRunner(t, fl)

	_, err := r.Run(context.Background(), Call{Target: testTarget})
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Kind != UnexplainedExit {
		t.Fatalf("expected UnexplainedExit, got %v", err)
	}
	if errors.Is(err, ErrChildException) {
		t.Error("a protocol violation must not look like a child exception")
	}
	if _, err := os.Stat(fl.scripts[0]); err != nil {
		t.Errorf("script should be kept after a protocol violation: %v", err)
	}
}

func TestRunnerMissingPayload(t *testing.T) {
	fl := &fakeLauncher{stdout: []byte("nothing framed\n")}
	r, _ := newFakeRunner(t, fl)

	_, err := r.Run(context.Background(), Call{Target: testTarget, Mode: ModePool, Args: []interface{}{1}})
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Kind != MissingPayload {
		t.Fatalf("expected MissingPayload, got %v", err)
	}
}

func TestRunnerLaunchFailureReclaimsArtifact(t *testing.T) {
	fl := &fakeLauncher{err: &LaunchError{Reason: LaunchStartFailed, Executable: "python3", Cause: errors.New("permission denied")}}
	r, dir := newFakeRunner(t, fl)

	_, err := r.Run(context.Background(), Call{Target: testTarget})
	if !errors.Is(err, ErrLaunch) {
		t.Fatalf("expected ErrLaunch, got %v", err)
	}
	if names := dirEntries(t, dir); len(names) != 0 {
		t.Errorf("artifact left after launch failure: %v", names)
	}
}

func TestRunnerLaunchFailureHonoursKeep(t *testing.T) {
	fl := &fakeLauncher{err: &LaunchError{Reason: LaunchStartFailed, Executable: "python3"}}
	r, dir := newFakeRunner(t, fl)

	if _, err := r.Run(context.Background(), Call{Target: testTarget, KeepScript: true}); err == nil {
		t.Fatal("expected an error")
	}
	if names := dirEntries(t, dir); len(names) != 1 {
		t.Errorf("kept artifact missing after launch failure: %v", names)
	}
}

func TestRunnerArgumentErrorSpawnsNothing(t *testing.T) {
	fl := &fakeLauncher{}
	r, dir := newFakeRunner(t, fl)

	_, err := r.Run(context.Background(), Call{Target: testTarget, Mode: ModeDetached, Args: []interface{}{os.Stdout}})
	if !errors.Is(err, ErrArgument) {
		t.Fatalf("expected ErrArgument, got %v", err)
	}
	if fl.calls != 0 {
		t.Errorf("launcher called %d times", fl.calls)
	}
	if names := dirEntries(t, dir); len(names) != 0 {
		t.Errorf("artifact written for a rejected call: %v", names)
	}
}

func TestRunnerEnvironment(t *testing.T) {
	fl := &fakeLauncher{}
	r, _ := newFakeRunner(t, fl, WithEnv(map[string]string{"HOST_MODE": "batch"}))

	if _, err := r.Run(context.Background(), Call{Target: testTarget}); err != nil {
		t.Fatal(err)
	}
	var pythonPath string
	var hostMode bool
	for _, kv := range fl.env {
		if strings.HasPrefix(kv, "PYTHONPATH=") {
			pythonPath = strings.TrimPrefix(kv, "PYTHONPATH=")
		}
		if kv == "HOST_MODE=batch" {
			hostMode = true
		}
	}
	if !strings.HasPrefix(pythonPath, "/project/src") {
		t.Errorf("PYTHONPATH = %q, want the search path first", pythonPath)
	}
	if !hostMode {
		t.Error("WithEnv override missing from child environment")
	}
}

func TestRunnerPoolExecutableDefault(t *testing.T) {
	r := NewRunner(&Interpreter{Executable: "/opt/host/bin/hostpy", PoolExecutable: "/opt/host/bin/python3"})

	text, err := r.Render(Call{Target: testTarget, Mode: ModePool, Args: []interface{}{1}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "_POOL_EXECUTABLE = '/opt/host/bin/python3'") {
		t.Error("interpreter pool executable not used")
	}

	text, err = r.Render(Call{Target: testTarget, Mode: ModePool, Args: []interface{}{1}, PoolExecutable: "/usr/bin/python3"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "_POOL_EXECUTABLE = '/usr/bin/python3'") {
		t.Error("per-call pool executable not used")
	}
}

func TestRunnerPoolExecutableFallsBackToLaunched(t *testing.T) {
	r := NewRunner(NewInterpreter("/opt/host/bin/hostpy"))
	for _, mode := range []Mode{ModePool, ModeDetached} {
		text, err := r.Render(Call{Target: testTarget, Mode: mode, Args: []interface{}{1}})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(text, "_POOL_EXECUTABLE = '/opt/host/bin/hostpy'") {
			t.Errorf("%s mode does not hand the launched executable to multiprocessing", mode)
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	text, err := NewRunner(NewInterpreter("venv/bin/python")).Render(Call{Target: testTarget, Mode: ModePool, Args: []interface{}{1}})
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(wd, "venv", "bin", "python")
	if !strings.Contains(text, "_POOL_EXECUTABLE = '"+want+"'") {
		t.Errorf("relative executable not made absolute, want %s", want)
	}
}

func TestRunnerMetrics(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("test")
	fl := &fakeLauncher{stdout: payloadFrame(t, ModePool, 1, 2)}
	r, _ := newFakeRunner(t, fl, WithMetrics(pmc))

	if _, err := r.Run(context.Background(), Call{Target: testTarget, Mode: ModePool, Args: []interface{}{0, 1}}); err != nil {
		t.Fatal(err)
	}
	fl.stdout, fl.exitCode = nil, 9
	if _, err := r.Run(context.Background(), Call{Target: testTarget}); err == nil {
		t.Fatal("expected a protocol error")
	}

	if got := testutil.ToFloat64(pmc.launches.WithLabelValues("pool", OutcomeSuccess)); got != 1 {
		t.Errorf("pool successes = %v", got)
	}
	if got := testutil.ToFloat64(pmc.launches.WithLabelValues("single", OutcomeProtocol)); got != 1 {
		t.Errorf("single protocol errors = %v", got)
	}
	if got := testutil.ToFloat64(pmc.poolTasks.WithLabelValues("succeeded")); got != 2 {
		t.Errorf("succeeded tasks = %v", got)
	}
	if got := testutil.ToFloat64(pmc.retained.WithLabelValues(OutcomeProtocol)); got != 1 {
		t.Errorf("retained artifacts = %v", got)
	}
}

func TestRunnerRunAll(t *testing.T) {
	fl := &fakeLauncher{removeScript: true}
	r, dir := newFakeRunner(t, fl)

	calls := []Call{
		{Target: testTarget},
		{Target: testTarget, Mode: ModeDetached},
		{Target: Callable{Module: "bad module", Function: "f"}},
		{Target: testTarget},
	}
	results, errs := r.RunAll(context.Background(), calls, 2)
	for i := range calls {
		if i == 2 {
			if !errors.Is(errs[i], ErrArgument) || results[i] != nil {
				t.Errorf("call %d: expected ErrArgument, got %v", i, errs[i])
			}
			continue
		}
		if errs[i] != nil || results[i] == nil {
			t.Errorf("call %d: %v", i, errs[i])
		}
	}
	if fl.calls != 3 {
		t.Errorf("launcher called %d times, want 3", fl.calls)
	}
	if names := dirEntries(t, dir); len(names) != 0 {
		t.Errorf("artifacts left behind: %v", names)
	}
}
