package multimaya

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/theodox/multimaya"

// Call describes one out-of-process invocation.
type Call struct {
	Target Callable
	Mode   Mode

	// Args are the positional arguments; for ModePool, one element per task.
	Args []interface{}

	// Kwargs are keyword arguments for every invocation.
	Kwargs map[string]interface{}

	// PoolSize is the ModePool worker count; 0 uses the interpreter default.
	PoolSize int

	// Star applies each pool element as a positional argument list.
	Star bool

	// KeepScript leaves the shim file on disk after a clean exit.
	KeepScript bool

	// Capture returns the value of a single or detached call.
	Capture bool

	// Serializer overrides the runner's payload codec for this call.
	Serializer string

	// PoolExecutable overrides Interpreter.SubprocessExecutable for this call.
	PoolExecutable string

	// Initializer runs before the target in every process that calls it.
	Initializer *Callable
}

// Runner launches calls on one interpreter. It is safe for concurrent use;
// every Run gets its own shim file and child process.
type Runner struct {
	interp     *Interpreter
	artifacts  *ArtifactManager
	launcher   ProcessLauncher
	logger     *slog.Logger
	metrics    MetricsCollector
	tracer     trace.Tracer
	serializer string
	env        map[string]string
}

// Option configures a Runner
type Option func(*Runner)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(mc MetricsCollector) Option {
	return func(r *Runner) {
		r.metrics = mc
	}
}

// WithArtifactDir sets the directory shim files are written to
func WithArtifactDir(dir string) Option {
	return func(r *Runner) {
		r.artifacts = NewArtifactManager(dir)
	}
}

// WithLauncher replaces the process launcher
func WithLauncher(l ProcessLauncher) Option {
	return func(r *Runner) {
		r.launcher = l
	}
}

// WithSerializer sets the default payload codec ("json" or "msgpack")
func WithSerializer(name string) Option {
	return func(r *Runner) {
		r.serializer = name
	}
}

// WithEnv adds environment variables to every launch
func WithEnv(env map[string]string) Option {
	return func(r *Runner) {
		for k, v := range env {
			r.env[k] = v
		}
	}
}

// WithTracerProvider sets where spans are recorded; the global provider is used otherwise
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Runner) {
		r.tracer = tp.Tracer(tracerName)
	}
}

// NewRunner creates a Runner for interp.
func NewRunner(interp *Interpreter, opts ...Option) *Runner {
	r := &Runner{
		interp:     interp,
		serializer: JSONSerializer{}.Name(),
		env:        map[string]string{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.metrics == nil {
		r.metrics = NewNoopMetricsCollector()
	}
	if r.artifacts == nil {
		r.artifacts = NewArtifactManager("")
	}
	if r.launcher == nil {
		r.launcher = NewLauncher(r.logger)
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(tracerName)
	}
	return r
}

// Interpreter returns the interpreter calls are launched with.
func (r *Runner) Interpreter() *Interpreter {
	return r.interp
}

// shimSpec resolves runner defaults into a render request.
func (r *Runner) shimSpec(call Call) ShimSpec {
	mode := call.Mode
	if mode == "" {
		mode = ModeSingle
	}
	serializer := call.Serializer
	if serializer == "" {
		serializer = r.serializer
	}
	poolExe := call.PoolExecutable
	if poolExe == "" && r.interp != nil {
		poolExe = r.interp.SubprocessExecutable()
	}
	return ShimSpec{
		Target:         call.Target,
		Mode:           mode,
		Args:           call.Args,
		Kwargs:         call.Kwargs,
		PoolSize:       call.PoolSize,
		Star:           call.Star,
		Keep:           call.KeepScript,
		Capture:        call.Capture,
		Serializer:     serializer,
		PoolExecutable: poolExe,
		Initializer:    call.Initializer,
	}
}

// Render returns the shim text Run would execute for call, without writing
// or launching anything.
func (r *Runner) Render(call Call) (string, error) {
	return RenderShim(r.shimSpec(call))
}

// Run renders call into a shim, runs it in a fresh interpreter and decodes
// the outcome. It blocks until the child and everything it started have
// exited, or ctx is cancelled.
//
// The returned error matches exactly one of ErrArgument, ErrLaunch,
// ErrChildException or ErrProtocol, unless ctx ended first. The shim file is
// removed after a success or a launch failure (unless KeepScript is set)
// and kept after a child exception or protocol violation.
func (r *Runner) Run(ctx context.Context, call Call) (*Result, error) {
	spec := r.shimSpec(call)
	ctx, span := r.tracer.Start(ctx, "multimaya.Run",
		trace.WithAttributes(
			attribute.String("multimaya.target", spec.Target.String()),
			attribute.String("multimaya.mode", string(spec.Mode)),
			attribute.Int("multimaya.args", len(spec.Args)),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := r.run(ctx, spec)
	outcome := outcomeOf(err)
	if !errors.Is(err, ErrArgument) {
		r.metrics.LaunchCompleted(spec.Mode, outcome, time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}
	if res.Mode == ModePool && res.HasPayload {
		failed := len(res.Failures())
		r.metrics.PoolTasks(res.Len()-failed, failed)
		span.SetAttributes(attribute.Int("multimaya.failed_tasks", failed))
	}
	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (r *Runner) run(ctx context.Context, spec ShimSpec) (*Result, error) {
	text, err := RenderShim(spec)
	if err != nil {
		return nil, err
	}
	executable := ""
	if r.interp != nil {
		executable = r.interp.Executable
	}

	artifact, err := r.artifacts.Create(text)
	if err != nil {
		return nil, &LaunchError{Reason: LaunchArtifactCreationFailed, Executable: executable, Cause: err}
	}
	logger := r.logger.With("target", spec.Target.String(), "mode", string(spec.Mode), "script", artifact.Path)

	env := BuildEnvironment(os.Environ(), r.env, nil)
	if r.interp != nil {
		env = r.interp.Environ(r.env)
	}

	logger.Debug("launch_started", "executable", executable, "args", len(spec.Args))
	out, err := r.launcher.Launch(ctx, executable, artifact.Path, env)
	if err != nil {
		r.retire(logger, artifact, spec.Keep)
		if ctx.Err() != nil {
			// A killed child may have left the shim behind; its outcome is unknown.
			logger.Warn("launch_canceled", "error", err)
		} else {
			logger.Error("launch_failed", "error", err)
		}
		return nil, err
	}
	logger.Debug("launch_finished", "exit_code", out.ExitCode, "pid", out.Pid, "duration", out.Duration)

	res, err := Decode(DecodeInput{
		Target:        spec.Target,
		Mode:          spec.Mode,
		ExitCode:      out.ExitCode,
		Stdout:        out.Stdout,
		StderrTail:    out.StderrTail,
		ScriptPath:    artifact.Path,
		ExpectPayload: spec.ExpectsPayload(),
	})
	if err != nil {
		reason := outcomeOf(err)
		r.metrics.ArtifactRetained(reason)
		var childErr *ChildError
		if errors.As(err, &childErr) && len(childErr.Tasks) > 0 {
			failed := childErr.FailedTasks()
			r.metrics.PoolTasks(len(childErr.Tasks)-failed, failed)
		}
		logger.Warn("artifact_retained", "reason", reason, "error", err)
		return nil, err
	}
	r.retire(logger, artifact, spec.Keep)
	if spec.Keep {
		r.metrics.ArtifactRetained("keep")
	}
	return res, nil
}

func (r *Runner) retire(logger *slog.Logger, artifact *Artifact, keep bool) {
	if err := r.artifacts.Retire(artifact, keep); err != nil {
		logger.Warn("artifact_retire_failed", "error", err)
	}
}

// Map runs target over args in a pool of poolSize workers and returns the
// return values in input order. If any task raised, the error is a
// *ChildError whose Tasks hold every outcome.
func (r *Runner) Map(ctx context.Context, target Callable, args []interface{}, poolSize int) ([]interface{}, error) {
	res, err := r.Run(ctx, Call{Target: target, Mode: ModePool, Args: args, PoolSize: poolSize})
	if err != nil {
		return nil, err
	}
	return res.Values()
}

// RunAll runs independent calls concurrently, at most limit at a time
// (limit <= 0 means no bound). results[i] and errs[i] belong to calls[i];
// one failing call does not stop the others. Each call is a separate Run
// with its own interpreter.
func (r *Runner) RunAll(ctx context.Context, calls []Call, limit int) ([]*Result, []error) {
	results := make([]*Result, len(calls))
	errs := make([]error, len(calls))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := range calls {
		g.Go(func() error {
			results[i], errs[i] = r.Run(ctx, calls[i])
			return nil
		})
	}
	g.Wait()
	return results, errs
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrChildException):
		return OutcomeChildException
	case errors.Is(err, ErrProtocol):
		return OutcomeProtocol
	case errors.Is(err, ErrArgument):
		return "argument_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	}
	return OutcomeLaunch
}
