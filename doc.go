// Package multimaya runs Python functions in a separate, unconstrained
// interpreter process and brings their results back to Go.
//
// It exists for callers that sit next to an embedded interpreter which may
// not fork or build a multiprocessing pool itself (an application binary
// with Python inside it). The function is named by import coordinates,
// never transferred as an object: a generated entry script (the shim)
// imports it again in the child and calls it.
//
// # Architecture Overview
//
// One call goes through four stages:
//
//  1. Render: RenderShim fills an embedded, versioned script template. Every
//     argument is converted to a Python literal first; values with no
//     literal form are rejected with an *ArgumentError before anything is
//     written or spawned.
//
//  2. Persist: ArtifactManager writes the shim to a uniquely named file.
//
//  3. Launch: Launcher runs `python -u shim.py` in its own process group with
//     PYTHONPATH extended so the child can import what the caller can.
//
//  4. Decode: Decode reads a length-prefixed frame from the captured stdout,
//     or the crash marker (<shim>.crash) the shim writes when it fails.
//
// Runner ties the stages together:
//
//	interp, err := multimaya.InterpreterFromSystem(ctx)
//	runner := multimaya.NewRunner(interp.WithSearchPath("/path/to/tools"))
//
//	target, _ := multimaya.NewCallable("mymodule", "add_one")
//	values, err := runner.Map(ctx, target, []interface{}{1, 2, 3}, 2)
//	// values: [2 3 4], in input order
//
// # Modes
//
// ModeSingle calls the function once in the launched interpreter. The return
// value is discarded unless Call.Capture is set.
//
// ModeDetached calls it in a multiprocessing.Process inside the launched
// interpreter and waits for that process.
//
// ModePool maps it over Call.Args with a multiprocessing.Pool of
// Call.PoolSize workers. Results keep input order; a raising task yields a
// per-task failure instead of failing the whole call.
//
// Detached and pool modes call multiprocessing.set_executable with
// Interpreter.PoolExecutable (or Call.PoolExecutable) before any process
// object exists, for hosts whose sys.executable cannot run as a bare
// interpreter:
//
//	interp := multimaya.NewInterpreter("/opt/host/bin/hostpy")
//	if plain, ok := multimaya.SiblingExecutable(interp.Executable, "python3"); ok {
//	    interp.PoolExecutable = plain
//	}
//
// # Errors
//
// Run returns a *Result or an error, never both. Errors match exactly one
// sentinel:
//
//   - ErrArgument (*ArgumentError): the call could not be rendered.
//   - ErrLaunch (*LaunchError): the interpreter never ran. The shim is removed.
//   - ErrChildException (*ChildError): the target raised. The shim and its
//     crash marker are kept for inspection.
//   - ErrProtocol (*ProtocolError): the child exited without a crash marker,
//     or exited cleanly without the expected payload. The shim is kept.
//
// A pool run in which any task raised is a child exception too: every task
// still runs, and the *ChildError carries all outcomes in Tasks.
//
// # Payloads
//
// Results travel as JSON by default, which needs nothing beyond the Python
// standard library. WithSerializer("msgpack") switches to MessagePack, which
// keeps bytes and the int/float distinction but needs the msgpack package in
// the child.
//
// # Platform Support
//
// Linux and macOS. Process groups and executable checks use POSIX calls.
package multimaya
