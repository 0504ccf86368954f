package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/theodox/multimaya"
)

// callFlags are shared by run and render.
type callFlags struct {
	mode           string
	arg            []string
	args           string
	kwargs         string
	poolSize       int
	star           bool
	keep           bool
	capture        bool
	serializer     string
	python         string
	poolExecutable string
	searchPath     []string
	init           string
}

var (
	runFlags    callFlags
	renderFlags callFlags
	runOutput   struct {
		format  string
		metrics bool
		trace   bool
	}
)

var runCmd = &cobra.Command{
	Use:   "run TARGET",
	Short: "Run a Python function in a new interpreter",
	Long: `Run a top-level Python function in a new interpreter.

TARGET is module:function. Arguments are JSON values.

Examples:
  # Call once and print the return value
  multimaya run mymodule:add_one --arg 41 --capture

  # Map over a pool of two workers
  multimaya run mymodule:add_one --mode pool --args '[1, 2, 3]' --pool-size 2

  # Apply each element as positional arguments
  multimaya run mymodule:add --mode pool --star --args '[[1, 2], [3, 4]]'

  # Keep the generated script for inspection
  multimaya run mymodule:always_raises --keep`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var renderCmd = &cobra.Command{
	Use:   "render TARGET",
	Short: "Print the generated script without running it",
	Args:  cobra.ExactArgs(1),
	RunE:  runRender,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(renderCmd)

	addCallFlags(runCmd.Flags(), &runFlags)
	addCallFlags(renderCmd.Flags(), &renderFlags)

	runCmd.Flags().StringVarP(&runOutput.format, "output", "o", "text", "Output format (text, json, yaml)")
	runCmd.Flags().BoolVar(&runOutput.metrics, "metrics", false, "Print Prometheus metrics to stderr after the run")
	runCmd.Flags().BoolVar(&runOutput.trace, "trace", false, "Print OpenTelemetry spans to stderr")
}

func addCallFlags(fs *pflag.FlagSet, f *callFlags) {
	fs.StringVarP(&f.mode, "mode", "m", "single", "Execution mode (single, detached, pool)")
	fs.StringArrayVarP(&f.arg, "arg", "a", nil, "Positional argument as JSON (repeatable)")
	fs.StringVar(&f.args, "args", "", "All positional arguments as a JSON array")
	fs.StringVar(&f.kwargs, "kwargs", "", "Keyword arguments as a JSON object")
	fs.IntVarP(&f.poolSize, "pool-size", "p", 0, "Pool workers (0 = CPU count)")
	fs.BoolVar(&f.star, "star", false, "Apply each pool element as positional arguments")
	fs.BoolVar(&f.keep, "keep", false, "Keep the generated script after a clean exit")
	fs.BoolVar(&f.capture, "capture", false, "Return the value of single and detached calls")
	fs.StringVar(&f.serializer, "serializer", "", "Payload codec (json, msgpack)")
	fs.StringVar(&f.python, "python", "", "Interpreter executable")
	fs.StringVar(&f.poolExecutable, "pool-executable", "", "Executable for multiprocessing workers")
	fs.StringArrayVar(&f.searchPath, "search-path", nil, "Directory added to the child's import path (repeatable)")
	fs.StringVar(&f.init, "init", "", "Initializer module:function run before the target")
}

// buildCall turns flags into a Call.
func buildCall(target string, f *callFlags) (multimaya.Call, error) {
	callable, err := multimaya.ParseCallable(target)
	if err != nil {
		return multimaya.Call{}, err
	}
	mode, err := multimaya.ParseMode(f.mode)
	if err != nil {
		return multimaya.Call{}, err
	}

	call := multimaya.Call{
		Target:         callable,
		Mode:           mode,
		PoolSize:       f.poolSize,
		Star:           f.star,
		KeepScript:     f.keep || cfg.Runner.KeepScripts,
		Capture:        f.capture,
		Serializer:     f.serializer,
		PoolExecutable: f.poolExecutable,
	}

	if f.args != "" && len(f.arg) > 0 {
		return call, usageError("--args and --arg are mutually exclusive")
	}
	if f.args != "" {
		var list []interface{}
		if err := decodeJSON(f.args, &list); err != nil {
			return call, usageError("--args: %v", err)
		}
		call.Args = list
	}
	for i, raw := range f.arg {
		var v interface{}
		if err := decodeJSON(raw, &v); err != nil {
			return call, usageError("--arg #%d: %v", i+1, err)
		}
		call.Args = append(call.Args, v)
	}
	if f.kwargs != "" {
		var kw map[string]interface{}
		if err := decodeJSON(f.kwargs, &kw); err != nil {
			return call, usageError("--kwargs: %v", err)
		}
		call.Kwargs = kw
	}
	if f.init != "" {
		initializer, err := multimaya.ParseCallable(f.init)
		if err != nil {
			return call, err
		}
		call.Initializer = &initializer
	}
	return call, nil
}

// decodeJSON keeps numbers exact so integers stay integers in the shim.
func decodeJSON(s string, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}

// interpreterFor merges flags over config. The working directory is always
// on the search path so modules next to the caller import in the child.
func interpreterFor(f *callFlags) (*multimaya.Interpreter, error) {
	exe := cfg.Python.Executable
	if f.python != "" {
		exe = f.python
	}
	if exe == "" {
		exe = "python3"
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	searchPath := append([]string{}, f.searchPath...)
	searchPath = append(searchPath, cfg.Python.SearchPath...)
	searchPath = append(searchPath, wd)

	interp := multimaya.NewInterpreter(exe, searchPath...)
	interp.PoolExecutable = cfg.Python.PoolExecutable
	return interp, nil
}

func newRunner(f *callFlags, extra ...multimaya.Option) (*multimaya.Runner, error) {
	interp, err := interpreterFor(f)
	if err != nil {
		return nil, err
	}
	opts := []multimaya.Option{
		multimaya.WithLogger(logger),
		multimaya.WithArtifactDir(cfg.Runner.ArtifactDir),
		multimaya.WithSerializer(cfg.Runner.Serializer),
		multimaya.WithEnv(cfg.Python.EnvMap()),
	}
	return multimaya.NewRunner(interp, append(opts, extra...)...), nil
}

func runRun(cmd *cobra.Command, args []string) error {
	switch runOutput.format {
	case "text", "json", "yaml":
	default:
		return usageError("--output must be text, json or yaml")
	}
	call, err := buildCall(args[0], &runFlags)
	if err != nil {
		return err
	}

	var extra []multimaya.Option
	metrics := multimaya.NewPrometheusMetricsCollector(cfg.Metrics.Namespace)
	extra = append(extra, multimaya.WithMetrics(metrics))
	if runOutput.trace {
		tp, err := newStderrTracerProvider()
		if err != nil {
			return err
		}
		defer shutdownTracer(tp)
		extra = append(extra, multimaya.WithTracerProvider(tp))
	}
	runner, err := newRunner(&runFlags, extra...)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if cfg.Runner.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Runner.Timeout)
		defer cancel()
	}

	res, runErr := runner.Run(ctx, call)
	if runOutput.metrics {
		if err := writeMetrics(os.Stderr, metrics); err != nil {
			logger.Warn("metrics_dump_failed", "error", err)
		}
	}
	if runErr != nil {
		var childErr *multimaya.ChildError
		if errors.As(runErr, &childErr) && len(childErr.Tasks) > 0 {
			if err := writeTaskFailure(console.Out(), runOutput.format, childErr); err != nil {
				logger.Warn("task_output_failed", "error", err)
			}
		}
		return runErr
	}
	if err := writeResult(console.Out(), runOutput.format, res); err != nil {
		return err
	}
	if failures := res.Failures(); len(failures) > 0 {
		_, err := res.Values()
		return err
	}
	console.Success(fmt.Sprintf("%s finished (%s mode)", res.Target, res.Mode))
	return nil
}

func runRender(cmd *cobra.Command, args []string) error {
	call, err := buildCall(args[0], &renderFlags)
	if err != nil {
		return err
	}
	runner, err := newRunner(&renderFlags)
	if err != nil {
		return err
	}
	text, err := runner.Render(call)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), text)
	return nil
}
