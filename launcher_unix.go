//go:build !windows
// +build !windows

package multimaya

import (
	"errors"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// setSignalsForChannel configures the channel to receive SIGINT and SIGTERM.
func setSignalsForChannel(c chan os.Signal) {
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
}

func stopSignals(c chan os.Signal) {
	signal.Stop(c)
}

// configureProcessGroup puts the child in a new process group and makes
// context cancellation kill the whole group.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
}

// killProcessGroup sends SIGKILL to the child's process group.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}

// checkExecutable resolves a bare command name through PATH and verifies
// the result can be executed.
func checkExecutable(executable string) (string, *LaunchError) {
	if executable == "" {
		return "", &LaunchError{Reason: LaunchExecutableNotFound, Executable: executable, Cause: errors.New("no interpreter executable configured")}
	}
	path := executable
	if filepath.Base(executable) == executable {
		resolved, err := exec.LookPath(executable)
		if err != nil {
			return "", &LaunchError{Reason: LaunchExecutableNotFound, Executable: executable, Cause: err}
		}
		path = resolved
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", &LaunchError{Reason: LaunchExecutableNotFound, Executable: executable, Cause: err}
	}
	if info.IsDir() {
		return "", &LaunchError{Reason: LaunchExecutableNotRunnable, Executable: executable, Cause: errors.New("is a directory")}
	}
	if err := unix.Access(path, unix.X_OK); err != nil {
		return "", &LaunchError{Reason: LaunchExecutableNotRunnable, Executable: executable, Cause: err}
	}
	return path, nil
}
