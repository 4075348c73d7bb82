//go:build !unix

package interp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// InterruptSignal and SuspendSignal degrade to os.Interrupt outside unix,
// where there is no SIGTSTP and no process-group signaling primitive;
// forwardSignal below is consequently a no-op here.
var (
	InterruptSignal os.Signal = os.Interrupt
	SuspendSignal   os.Signal = os.Interrupt
)

// replaceProcessImage has no true process-image-replacement primitive
// outside unix, so it falls back to spawning a child and waiting, then
// exiting with its status, which is externally indistinguishable from a
// real exec(2) for a foreground, non-interactive shell.
func replaceProcessImage(r *Runner, args []string) (int, error) {
	path, err := r.lookPath(args[0])
	if err != nil {
		fmt.Fprintf(r.Stderr, "%s: not found\n", args[0])
		return 127, nil
	}
	cmd := exec.CommandContext(context.Background(), path, args[1:]...)
	cmd.Dir = r.Env.Dir
	cmd.Stdin, cmd.Stdout, cmd.Stderr = r.Stdin, r.Stdout, r.Stderr
	cmd.Env = r.processEnv()
	runErr := cmd.Run()
	code := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	}
	return code, ExitStatus{Code: code}
}

// prepareCommand is a no-op outside unix: there is no process-group
// primitive to set up here.
func prepareCommand(cmd *exec.Cmd) {}

func forwardSignal(pid int, sig os.Signal) error {
	return fmt.Errorf("signal forwarding not supported on this platform")
}

// exitCodeForError has no signal-termination case to special-case outside
// unix, so it just reports exec.ExitError's own exit code.
func exitCodeForError(err error) (int, bool) {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 0, false
	}
	return exitErr.ExitCode(), true
}
