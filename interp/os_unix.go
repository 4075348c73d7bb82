//go:build unix

package interp

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// InterruptSignal and SuspendSignal are the signals the CLI front-end
// forwards to the foreground job on Ctrl-C / Ctrl-Z.
var (
	InterruptSignal os.Signal = unix.SIGINT
	SuspendSignal   os.Signal = unix.SIGTSTP
)

// replaceProcessImage implements the "exec" builtin's process-replacement
// form on unix: unlike callExternal, which forks a child and waits, exec
// with arguments replaces the current process image outright, the way a
// real shell's exec(2) call does.
func replaceProcessImage(r *Runner, args []string) (int, error) {
	path, err := r.lookPath(args[0])
	if err != nil {
		fmt.Fprintf(r.Stderr, "%s: not found\n", args[0])
		return 127, nil
	}
	env := r.processEnv()
	err = unix.Exec(path, args, env)
	return 126, err
}

// prepareCommand puts cmd in a process group of its own, leader pid equal
// to the child's pid once started, so forwardSignal can signal the whole
// group (the child plus anything it forks) rather than just the leader.
func prepareCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// forwardSignal relays sig to the process group led by pid, used by the
// interactive facade for SIGINT/SIGTSTP handling. pid must be a foreground
// job's leader PID as set up by prepareCommand; signaling the negative
// PID targets the whole group instead of just the leader.
func forwardSignal(pid int, sig os.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("no foreground process group")
	}
	s, ok := sig.(unix.Signal)
	if !ok {
		return fmt.Errorf("unsupported signal %v", sig)
	}
	return unix.Kill(-pid, s)
}

// exitCodeForError extracts a process's exit status from the error
// exec.Cmd.Wait returns, translating a signal-terminated child into the
// POSIX 128+signo convention instead of the -1 exec.ExitError.ExitCode
// otherwise reports for it.
func exitCodeForError(err error) (int, bool) {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 0, false
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal()), true
	}
	return exitErr.ExitCode(), true
}
