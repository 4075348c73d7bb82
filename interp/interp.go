package interp

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/raphamorim/flash/ast"
	"github.com/raphamorim/flash/parser"
)

// Interpreter is the public facade: it owns an Environment and a Runner,
// parses and evaluates source text, and converts the internal
// control-flow errors ("exit", "return") back into plain exit codes so
// embedders never see them.
type Interpreter struct {
	Env    *Environment
	Runner *Runner
}

// Option configures a new Interpreter.
type Option func(*Interpreter) error

// New builds an Interpreter with a fresh Environment rooted at an OS
// filesystem, applying opts in order.
func New(opts ...Option) (*Interpreter, error) {
	env, err := NewEnvironment(afero.NewOsFs(), "flash")
	if err != nil {
		return nil, err
	}
	it := &Interpreter{
		Env:    env,
		Runner: NewRunner(env, ""),
	}
	for _, opt := range opts {
		if err := opt(it); err != nil {
			return nil, err
		}
	}
	return it, nil
}

// WithFilesystem overrides the afero.Fs backing the Environment, used by
// embedders and tests that want an in-memory filesystem.
func WithFilesystem(fs afero.Fs) Option {
	return func(it *Interpreter) error {
		it.Env.Fs = fs
		return nil
	}
}

// WithDir sets the Environment's initial working directory.
func WithDir(dir string) Option {
	return func(it *Interpreter) error {
		it.Env.Dir = dir
		return nil
	}
}

// WithStdio redirects the Runner's standard streams.
func WithStdio(stdin, stdout, stderr *os.File) Option {
	return func(it *Interpreter) error {
		if stdin != nil {
			it.Runner.Stdin = stdin
		}
		if stdout != nil {
			it.Runner.Stdout = stdout
		}
		if stderr != nil {
			it.Runner.Stderr = stderr
		}
		return nil
	}
}

// WithParams binds the initial positional parameters ($1, $2, ...).
func WithParams(args ...string) Option {
	return func(it *Interpreter) error {
		it.Env.SetPositional(args)
		return nil
	}
}

// WithFilename names the source for error messages. It does not change $0.
func WithFilename(name string) Option {
	return func(it *Interpreter) error {
		it.Runner.filename = name
		return nil
	}
}

// WithEvaluator swaps the default Runner dispatch for e, letting an
// embedder trace or restrict evaluation per node kind while everything
// else (Environment, builtins, job table) stays shared.
func WithEvaluator(e Evaluator) Option {
	return func(it *Interpreter) error {
		it.Runner.Evaluator = e
		return nil
	}
}

// Execute parses src and evaluates it, returning the resulting exit code.
// An "exit" builtin anywhere inside src surfaces here as a plain code
// rather than an error.
func (it *Interpreter) Execute(ctx context.Context, src string) (int, error) {
	list, errs := parser.New([]byte(src), it.Runner.filename).Parse()
	if len(errs) > 0 {
		return 2, errs[0]
	}
	return it.EvaluateWithEvaluator(ctx, list, it.Runner.Evaluator)
}

// EvaluateWithEvaluator evaluates an already-parsed node with evaluator e,
// converting ExitStatus into a plain code instead of an error.
func (it *Interpreter) EvaluateWithEvaluator(ctx context.Context, n ast.Node, e Evaluator) (int, error) {
	if e == nil {
		e = it.Runner
	}
	code, err := e.Eval(ctx, n)
	var exit ExitStatus
	if errors.As(err, &exit) {
		it.Close(ctx)
		return exit.Code, nil
	}
	var ret returnSignal
	if errors.As(err, &ret) {
		return ret.code, nil
	}
	var ee errExitSignal
	if errors.As(err, &ee) {
		it.Close(ctx)
		return ee.code, nil
	}
	return code, err
}

// Close runs the EXIT trap and persists history, meant to be called once
// when the interpreter is actually shutting down (normal fallthrough or
// "exit"), not after every line of an interactive loop.
func (it *Interpreter) Close(ctx context.Context) {
	it.Runner.runTrap(ctx, "EXIT")
	if it.Runner.History != nil {
		it.Runner.History.Write()
	}
}

// CaptureCommandOutput runs n with stdout captured to a string, the
// primitive command substitution is built on, exposed for embedders that
// want the same behavior without writing a "$(...)" themselves.
func (it *Interpreter) CaptureCommandOutput(ctx context.Context, n ast.Node) (string, error) {
	return it.Runner.captureOutput(ctx, n)
}

// ExpandVariables expands s as a single double-quoted word, applying
// parameter/command/arithmetic substitution but not splitting or
// globbing, useful for prompt strings (PS1) and embedder-driven templating.
func (it *Interpreter) ExpandVariables(s string) (string, error) {
	w := &ast.Word{Parts: parser.ScanWordText(s, true)}
	return it.Runner.expander().ExpandToString(w)
}

// RunFile parses and evaluates the named file as a script, setting $0 to
// its path.
func (it *Interpreter) RunFile(ctx context.Context, path string, args []string) (int, error) {
	data, err := afero.ReadFile(it.Env.Fs, path)
	if err != nil {
		return 127, fmt.Errorf("%s: %w", path, err)
	}
	it.Runner.filename = path
	it.Env.SetName0(path)
	it.Env.SetPositional(args)
	return it.Execute(ctx, string(data))
}
