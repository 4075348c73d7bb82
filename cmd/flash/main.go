// Command flash is a POSIX/Bash-flavored shell: flash [FILE [ARG...]],
// flash -c "CMD" [NAME ARG...], or flash -s to read a script from stdin.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphamorim/flash/interp"
)

var (
	command    string
	readStdin  bool
	promptColor = color.New(color.FgGreen, color.Bold)
	errColor    = color.New(color.FgRed)
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:           "flash [FILE [ARG...]]",
		Short:         "flash is a POSIX/Bash-flavored shell",
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          runFlash,
	}
	root.Flags().StringVarP(&command, "command", "c", "", `command to execute, as if running "flash -c CMD NAME ARG..."`)
	root.Flags().BoolVarP(&readStdin, "stdin", "s", false, "read the script from stdin")

	if err := root.Execute(); err != nil {
		if exit, ok := err.(interp.ExitStatus); ok {
			return exit.Code
		}
		errColor.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func runFlash(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	opts := []interp.Option{interp.WithFilesystem(afero.NewOsFs())}
	it, err := interp.New(opts...)
	if err != nil {
		return err
	}
	defer it.Close(ctx)

	stopSignals := watchForegroundSignals(it)
	defer stopSignals()

	switch {
	case command != "":
		name := "flash"
		var cmdArgs []string
		if len(args) > 0 {
			name = args[0]
			cmdArgs = args[1:]
		}
		it.Env.SetName0(name)
		it.Env.SetPositional(cmdArgs)
		code, err := it.Execute(ctx, command)
		return finish(code, err)

	case readStdin:
		data, rerr := readAll(os.Stdin)
		if rerr != nil {
			return rerr
		}
		code, err := it.Execute(ctx, string(data))
		return finish(code, err)

	case len(args) > 0:
		path := args[0]
		code, err := it.RunFile(ctx, path, args[1:])
		return finish(code, err)

	default:
		if term.IsTerminal(int(os.Stdin.Fd())) {
			loadRC(ctx, it)
			return runInteractive(ctx, it)
		}
		data, rerr := readAll(os.Stdin)
		if rerr != nil {
			return rerr
		}
		code, err := it.Execute(ctx, string(data))
		return finish(code, err)
	}
}

// watchForegroundSignals relays Ctrl-C/Ctrl-Z to whatever external
// command is currently running in the foreground, so they stop the child
// instead of the shell itself the way an interactive job-control shell's
// terminal driver would. The returned func stops the relay.
func watchForegroundSignals(it *interp.Interpreter) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, interp.InterruptSignal, interp.SuspendSignal)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-ch:
				it.Runner.HandleSignal(sig)
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

func finish(code int, err error) error {
	if err != nil {
		return err
	}
	if code != 0 {
		return interp.ExitStatus{Code: code}
	}
	return nil
}

func readAll(f *os.File) ([]byte, error) {
	var buf []byte
	sc := bufio.NewReader(f)
	chunk := make([]byte, 4096)
	for {
		n, err := sc.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf, nil
}

// loadRC sources $HOME/.flashrc on interactive startup only, matching the
// convention bash-alikes use for per-user interactive configuration.
func loadRC(ctx context.Context, it *interp.Interpreter) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return
	}
	home := it.Env.Get("HOME").String()
	if home == "" {
		return
	}
	path := filepath.Join(home, ".flashrc")
	data, err := afero.ReadFile(it.Env.Fs, path)
	if err != nil {
		return
	}
	it.Execute(ctx, string(data))
}

func runInteractive(ctx context.Context, it *interp.Interpreter) error {
	reader := bufio.NewReader(os.Stdin)
	for {
		prompt, _ := it.ExpandVariables(renderPrompt(it, it.Env.Get("PS1").String()))
		promptColor.Fprint(os.Stdout, prompt)

		line, err := reader.ReadString('\n')
		if line == "" && err != nil {
			fmt.Fprintln(os.Stdout)
			return nil
		}
		line = strings.TrimRight(line, "\n")
		if it.Runner.History != nil {
			it.Runner.History.Add(line)
		}
		code, evalErr := it.Execute(ctx, line)
		if evalErr != nil {
			errColor.Fprintln(os.Stderr, evalErr)
		}
		it.Env.UpdateExit(code)
		if err != nil {
			return nil
		}
	}
}

// renderPrompt expands the small set of bash PS1 escapes most shells
// share: \w (cwd), \u (user), \h (host), \$ (# for root).
func renderPrompt(it *interp.Interpreter, ps1 string) string {
	host, _ := os.Hostname()
	user := it.Env.Get("USER").String()
	dollar := "$"
	if os.Geteuid() == 0 {
		dollar = "#"
	}
	var b strings.Builder
	for i := 0; i < len(ps1); i++ {
		if ps1[i] != '\\' || i+1 >= len(ps1) {
			b.WriteByte(ps1[i])
			continue
		}
		i++
		switch ps1[i] {
		case 'w':
			b.WriteString(it.Env.Dir)
		case 'u':
			b.WriteString(user)
		case 'h':
			b.WriteString(host)
		case '$':
			b.WriteString(dollar)
		default:
			b.WriteByte('\\')
			b.WriteByte(ps1[i])
		}
	}
	return b.String()
}
