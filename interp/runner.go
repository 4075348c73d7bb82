package interp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/raphamorim/flash/ast"
	"github.com/raphamorim/flash/expand"
	"github.com/raphamorim/flash/parser"
	"github.com/raphamorim/flash/pattern"
)

// Evaluator evaluates a Node and produces an exit status or an error.
// Runner is the default implementation; an Interpreter accepts any
// Evaluator so a tracer, debugger, or restricted evaluator can be
// swapped in.
type Evaluator interface {
	Eval(ctx context.Context, n ast.Node) (int, error)
}

// breakSignal, continueSignal, returnSignal and ExitStatus (below) are the
// control-flow errors loops, functions and "exit"/"return" use to unwind
// the Go call stack without every caller threading a status code.
type breakSignal struct{ n int }

func (breakSignal) Error() string { return "break" }

type continueSignal struct{ n int }

func (continueSignal) Error() string { return "continue" }

type returnSignal struct{ code int }

func (returnSignal) Error() string { return "return" }

// errExitSignal unwinds the current scope (the innermost subshell, pipe
// stage or, if none, the whole script) when "set -e" sees a command fail
// outside a condition context. It does not stop at a function-call
// boundary: callFunction lets it keep propagating, since a function body
// is not a fork point.
type errExitSignal struct{ code int }

func (errExitSignal) Error() string { return "errexit" }

// ExitStatus is the error returned to unwind the whole script on "exit".
// The Interpreter facade recognizes it and turns it back into a plain
// integer exit code rather than reporting a failure.
type ExitStatus struct{ Code int }

func (e ExitStatus) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

// RunError is a non-control-flow interpreter error carrying the source
// position it occurred at.
type RunError struct {
	Filename string
	Line, Col int
	Text      string
}

func (e *RunError) Error() string {
	if e.Line == 0 {
		return e.Text
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.Filename, e.Line, e.Col, e.Text)
}

// Runner is the default Evaluator: a single-threaded dispatcher over the
// closed ast.Node set.
type Runner struct {
	Env     *Environment
	Funcs   map[string]*ast.Function
	Aliases map[string]string
	Jobs    *JobTable
	Traps   *TrapTable
	History *History

	// Evaluator lets a caller substitute tracing or restricted evaluation
	// while still calling back into the rest of Runner for compound
	// commands. Defaults to the Runner itself.
	Evaluator Evaluator

	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
	extra  map[int]*os.File

	filename string

	loopDepth int
	xtrace    io.Writer

	// suppressErrExit is true while evaluating an if/while/until condition
	// (and everything that condition calls into), where a non-zero status
	// is the whole point and must never trigger "set -e" or the ERR trap.
	suppressErrExit bool

	// fg tracks the PID of the currently running foreground external
	// command's process group, shared across subshells of the same
	// interactive session so SIGINT/SIGTSTP forwarding (see os_unix.go)
	// reaches whichever child is actually running.
	fg *foreground

	// inTrap guards against a DEBUG/ERR/EXIT trap's own command
	// re-triggering the trap that is currently running.
	inTrap bool
}

// NewRunner builds a Runner over the given Environment, ready to evaluate
// scripts via Eval.
func NewRunner(env *Environment, filename string) *Runner {
	r := &Runner{
		Env:      env,
		Funcs:    make(map[string]*ast.Function),
		Aliases:  make(map[string]string),
		Jobs:     NewJobTable(),
		Traps:    NewTrapTable(),
		History:  NewHistory(env.Get("HISTFILE").String(), historySizeFromEnv(env)),
		Stdin:    os.Stdin,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		filename: filename,
		fg:       &foreground{},
	}
	r.Evaluator = r
	return r
}

func (r *Runner) eval(ctx context.Context, n ast.Node) (int, error) {
	return r.Evaluator.Eval(ctx, n)
}

// Eval dispatches on n's concrete type, implementing Evaluator.
func (r *Runner) Eval(ctx context.Context, n ast.Node) (int, error) {
	if err := ctx.Err(); err != nil {
		return 130, err
	}
	switch x := n.(type) {
	case *ast.List:
		return r.evalList(ctx, x)
	case *ast.Pipeline:
		return r.evalPipeline(ctx, x)
	case *ast.Negation:
		code, err := r.eval(ctx, x.X)
		if err != nil {
			return code, err
		}
		if code == 0 {
			return 1, nil
		}
		return 0, nil
	case *ast.Command:
		return r.evalCommand(ctx, x)
	case *ast.If:
		return r.evalIf(ctx, x)
	case *ast.Case:
		return r.evalCase(ctx, x)
	case *ast.For:
		return r.evalFor(ctx, x)
	case *ast.ForC:
		return r.evalForC(ctx, x)
	case *ast.While:
		return r.evalLoop(ctx, x.Cond, x.Body, false)
	case *ast.Until:
		return r.evalLoop(ctx, x.Cond, x.Body, true)
	case *ast.Function:
		r.Funcs[x.Name] = x
		return 0, nil
	case *ast.Subshell:
		return r.evalSubshell(ctx, x)
	case *ast.Group:
		return r.eval(ctx, x.List)
	case *ast.Test:
		return r.evalTest(ctx, x)
	case *ast.Arithmetic:
		v, err := expand.Arith(r.Env, x.Expr)
		if err != nil {
			return 1, err
		}
		if v == 0 {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("interp: unhandled node %T", n)
	}
}

func (r *Runner) evalList(ctx context.Context, l *ast.List) (int, error) {
	code := 0
	var err error
	for i, stmt := range l.Statements {
		op := ast.SeqOp
		if i > 0 {
			op = l.Operators[i-1]
		}
		switch op {
		case ast.AndOp:
			if code != 0 {
				continue
			}
		case ast.OrOp:
			if code == 0 {
				continue
			}
		case ast.BgOp:
			r.runBackground(ctx, stmt)
			continue
		}
		code, err = r.eval(ctx, stmt)
		if err != nil {
			return code, err
		}
		r.Env.UpdateExit(code)
		if code != 0 && !r.suppressErrExit && !r.chainExempt(i, l, stmt) {
			r.runTrap(ctx, "ERR")
			if r.Env.Opt('e') {
				return code, errExitSignal{code}
			}
		}
	}
	return code, nil
}

// chainExempt reports whether stmt at index i is one of the cases bash
// exempts from "set -e" and the ERR trap even though it failed: every
// non-final link of a && / || chain (only the final status matters), and
// any pipeline directly negated with "!".
func (r *Runner) chainExempt(i int, l *ast.List, stmt ast.Node) bool {
	if i < len(l.Operators) {
		switch l.Operators[i] {
		case ast.AndOp, ast.OrOp:
			return true
		}
	}
	if p, ok := stmt.(*ast.Pipeline); ok && p.Negated {
		return true
	}
	return false
}

func (r *Runner) runBackground(ctx context.Context, stmt ast.Node) {
	job := r.Jobs.Start(describeNode(stmt))
	go func() {
		code, _ := r.eval(ctx, stmt)
		r.Jobs.Finish(job, code)
	}()
	r.Env.SetLastBackground(job.PID)
}

func describeNode(n ast.Node) string {
	if c, ok := n.(*ast.Command); ok && c.Name != nil {
		return wordLiteralHint(c.Name)
	}
	return "job"
}

func wordLiteralHint(w *ast.Word) string {
	var b strings.Builder
	for _, p := range w.Parts {
		if l, ok := p.(*ast.Lit); ok {
			b.WriteString(l.Value)
		}
	}
	if b.Len() == 0 {
		return "job"
	}
	return b.String()
}

func (r *Runner) evalPipeline(ctx context.Context, p *ast.Pipeline) (int, error) {
	n := len(p.Commands)
	if n == 1 {
		code, err := r.eval(ctx, p.Commands[0])
		if err != nil {
			return code, err
		}
		if p.Negated {
			if code == 0 {
				return 1, nil
			}
			return 0, nil
		}
		return code, nil
	}

	pipes := make([]*os.File, n-1)
	writes := make([]*os.File, n-1)
	for i := 0; i < n-1; i++ {
		pr, pw, err := os.Pipe()
		if err != nil {
			return 1, err
		}
		pipes[i] = pr
		writes[i] = pw
	}

	statuses := make([]int, n)
	g, gctx := errgroup.WithContext(ctx)
	for i, cmdNode := range p.Commands {
		i, cmdNode := i, cmdNode
		sub := r.subshell()
		if i > 0 {
			sub.Stdin = pipes[i-1]
		}
		if i < n-1 {
			sub.Stdout = writes[i]
		}
		g.Go(func() error {
			code, evalErr := sub.eval(gctx, cmdNode)
			var ee errExitSignal
			if errors.As(evalErr, &ee) {
				code, evalErr = ee.code, nil
			}
			if i > 0 {
				pipes[i-1].Close()
			}
			if i < n-1 {
				writes[i].Close()
			}
			statuses[i] = code
			return evalErr
		})
	}
	err := g.Wait()

	last := statuses[n-1]
	code := last
	if r.Env.LongOpt("pipefail") {
		for _, s := range statuses {
			if s != 0 {
				code = s
				break
			}
		}
	}
	if p.Negated {
		if code == 0 {
			code = 1
		} else {
			code = 0
		}
	}
	return code, err
}

// subshell returns a Runner that shares the parent's function/alias/job
// tables but evaluates against a snapshot Environment, so variable and
// directory mutations inside it never escape. flash simulates
// process-level isolation in-process rather than truly forking, since Go
// offers no cheap fork().
func (r *Runner) subshell() *Runner {
	sub := &Runner{
		Env:             r.Env.clone(),
		Funcs:           r.Funcs,
		Aliases:         r.Aliases,
		Jobs:            r.Jobs,
		Traps:           r.Traps,
		History:         r.History,
		Stdin:           r.Stdin,
		Stdout:          r.Stdout,
		Stderr:          r.Stderr,
		filename:        r.filename,
		xtrace:          r.xtrace,
		suppressErrExit: r.suppressErrExit,
		fg:              r.fg,
	}
	sub.Evaluator = sub
	return sub
}

func (r *Runner) evalSubshell(ctx context.Context, s *ast.Subshell) (int, error) {
	sub := r.subshell()
	code, err := sub.eval(ctx, s.List)
	var ret returnSignal
	if errors.As(err, &ret) {
		return ret.code, nil
	}
	var ee errExitSignal
	if errors.As(err, &ee) {
		return ee.code, nil
	}
	return code, err
}

func (r *Runner) evalIf(ctx context.Context, n *ast.If) (int, error) {
	code, err := r.evalCond(ctx, n.Cond)
	if err != nil {
		return code, err
	}
	if code == 0 {
		return r.eval(ctx, n.Then)
	}
	for _, elif := range n.ElifClauses {
		code, err = r.evalCond(ctx, elif.Cond)
		if err != nil {
			return code, err
		}
		if code == 0 {
			return r.eval(ctx, elif.Body)
		}
	}
	if n.Else != nil {
		return r.eval(ctx, n.Else)
	}
	return 0, nil
}

// evalCond evaluates a condition list (if/elif/while/until) with "set -e"
// and the ERR trap suppressed for its whole duration, including anything
// it calls into, the way bash exempts an entire condition from errexit
// rather than just its outermost pipeline.
func (r *Runner) evalCond(ctx context.Context, n ast.Node) (int, error) {
	old := r.suppressErrExit
	r.suppressErrExit = true
	defer func() { r.suppressErrExit = old }()
	return r.eval(ctx, n)
}

func (r *Runner) evalCase(ctx context.Context, n *ast.Case) (int, error) {
	ex := r.expander()
	scrut, err := ex.ExpandToString(n.Word)
	if err != nil {
		return 1, err
	}
	code := 0
	for i := 0; i < len(n.Arms); i++ {
		arm := n.Arms[i]
		matched := false
		for _, pw := range arm.Patterns {
			pat, err := ex.ExpandPattern(pw)
			if err != nil {
				return 1, err
			}
			ok, err := pattern.Match(pat, scrut)
			if err != nil {
				return 1, err
			}
			if ok {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		code, err = r.eval(ctx, arm.Body)
		if err != nil {
			return code, err
		}
		switch arm.Term {
		case ast.TermBreak:
			return code, nil
		case ast.TermFall:
			if i+1 < len(n.Arms) {
				code, err = r.eval(ctx, n.Arms[i+1].Body)
			}
			return code, err
		case ast.TermContinue:
			continue
		}
	}
	return code, nil
}

func (r *Runner) evalFor(ctx context.Context, n *ast.For) (int, error) {
	items, err := r.expander().Fields(n.Words...)
	if err != nil {
		return 1, err
	}
	code := 0
	r.loopDepth++
	defer func() { r.loopDepth-- }()
	for _, item := range items {
		r.Env.SetLocal(n.Var, expand.Variable{Value: item})
		code, err = r.eval(ctx, n.Body)
		if err != nil {
			var brk breakSignal
			var cont continueSignal
			switch {
			case errors.As(err, &brk):
				if brk.n > 1 {
					return code, breakSignal{brk.n - 1}
				}
				return code, nil
			case errors.As(err, &cont):
				if cont.n > 1 {
					return code, continueSignal{cont.n - 1}
				}
				continue
			default:
				return code, err
			}
		}
	}
	return code, nil
}

func (r *Runner) evalForC(ctx context.Context, n *ast.ForC) (int, error) {
	if n.Init != nil {
		if _, err := expand.Arith(r.Env, n.Init.(*ast.Arithmetic).Expr); err != nil {
			return 1, err
		}
	}
	code := 0
	r.loopDepth++
	defer func() { r.loopDepth-- }()
	for {
		if n.Cond != nil {
			v, err := expand.Arith(r.Env, n.Cond.(*ast.Arithmetic).Expr)
			if err != nil {
				return 1, err
			}
			if v == 0 {
				break
			}
		}
		var err error
		code, err = r.eval(ctx, n.Body)
		if err != nil {
			var brk breakSignal
			var cont continueSignal
			switch {
			case errors.As(err, &brk):
				if brk.n > 1 {
					return code, breakSignal{brk.n - 1}
				}
				return code, nil
			case errors.As(err, &cont):
				if cont.n > 1 {
					return code, continueSignal{cont.n - 1}
				}
			default:
				return code, err
			}
		}
		if n.Update != nil {
			if _, err := expand.Arith(r.Env, n.Update.(*ast.Arithmetic).Expr); err != nil {
				return 1, err
			}
		}
	}
	return code, nil
}

func (r *Runner) evalLoop(ctx context.Context, cond, body *ast.List, until bool) (int, error) {
	code := 0
	r.loopDepth++
	defer func() { r.loopDepth-- }()
	for {
		cc, err := r.evalCond(ctx, cond)
		if err != nil {
			return cc, err
		}
		stop := (cc == 0) == until
		if stop {
			break
		}
		code, err = r.eval(ctx, body)
		if err != nil {
			var brk breakSignal
			var cont continueSignal
			switch {
			case errors.As(err, &brk):
				if brk.n > 1 {
					return code, breakSignal{brk.n - 1}
				}
				return code, nil
			case errors.As(err, &cont):
				if cont.n > 1 {
					return code, continueSignal{cont.n - 1}
				}
			default:
				return code, err
			}
		}
	}
	return code, nil
}

// expander builds an *expand.Expander wired to this Runner's Environment
// and command-substitution evaluation, fresh each call since Env/Dir may
// have changed since the last one.
func (r *Runner) expander() *expand.Expander {
	return &expand.Expander{
		Env:      r.Env,
		Fs:       r.Env.Fs,
		Dir:      r.Env.Dir,
		NoGlob:   r.Env.Opt('f'),
		GlobStar: r.Env.LongOpt("globstar"),
		CommandSubst: func(list *ast.List) (string, error) {
			return r.captureOutput(context.Background(), list)
		},
	}
}

func (r *Runner) captureOutput(ctx context.Context, n ast.Node) (string, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return "", err
	}
	sub := r.subshell()
	sub.Stdout = pw
	done := make(chan struct{})
	var out []byte
	go func() {
		out, _ = io.ReadAll(pr)
		close(done)
	}()
	_, err = sub.eval(ctx, n)
	var ee errExitSignal
	if errors.As(err, &ee) {
		err = nil
	}
	pw.Close()
	<-done
	pr.Close()
	return string(out), err
}

func (r *Runner) evalCommand(ctx context.Context, c *ast.Command) (int, error) {
	r.runTrap(ctx, "DEBUG")

	restore, err := r.applyRedirects(c.Redirects)
	if err != nil {
		return 1, err
	}
	defer restore()

	if c.Name == nil {
		return r.evalBareAssignments(c)
	}

	ex := r.expander()
	name, err := ex.ExpandToString(c.Name)
	if err != nil {
		return 1, err
	}
	args := make([]*ast.Word, 0, len(c.Args))
	if alias, ok := r.Aliases[name]; ok && name == strings.TrimSpace(name) {
		if expanded := r.expandAlias(alias); expanded != nil {
			name = expanded.name
			args = append(args, expanded.args...)
		}
	}
	args = append(args, c.Args...)
	fields, err := ex.Fields(args...)
	if err != nil {
		return 1, err
	}

	restoreVars, err := r.applyTempAssigns(c.Assigns)
	if err != nil {
		return 1, err
	}
	defer restoreVars()

	return r.call(ctx, name, fields)
}

type aliasExpansion struct {
	name string
	args []*ast.Word
}

// expandAlias re-lexes an alias body so its words participate in normal
// word formation, per the "alias/unalias" builtin behavior.
func (r *Runner) expandAlias(body string) *aliasExpansion {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return nil
	}
	exp := &aliasExpansion{name: fields[0]}
	for _, f := range fields[1:] {
		exp.args = append(exp.args, &ast.Word{Parts: []ast.Node{&ast.Lit{Value: f}}})
	}
	return exp
}

func (r *Runner) evalBareAssignments(c *ast.Command) (int, error) {
	for _, as := range c.Assigns {
		if err := r.doAssign(as, false); err != nil {
			return 1, err
		}
	}
	return 0, nil
}

func (r *Runner) applyTempAssigns(assigns []*ast.Assignment) (func(), error) {
	if len(assigns) == 0 {
		return func() {}, nil
	}
	type saved struct {
		name string
		had  bool
		v    expand.Variable
	}
	var prior []saved
	for _, as := range assigns {
		cur := r.Env.Get(as.Name)
		prior = append(prior, saved{as.Name, cur.IsSet(), cur})
		if err := r.doAssign(as, true); err != nil {
			for _, s := range prior {
				if s.had {
					r.Env.Set(s.name, s.v)
				} else {
					r.Env.Delete(s.name)
				}
			}
			return func() {}, err
		}
	}
	return func() {
		for _, s := range prior {
			if s.had {
				r.Env.Set(s.name, s.v)
			} else {
				r.Env.Delete(s.name)
			}
		}
	}, nil
}

func (r *Runner) doAssign(as *ast.Assignment, exported bool) error {
	ex := r.expander()
	if len(as.Value.Parts) == 1 {
		if arr, ok := as.Value.Parts[0].(*ast.ArrayLiteral); ok {
			var vals []string
			for _, el := range arr.Elements {
				fs, err := ex.Fields(el)
				if err != nil {
					return err
				}
				vals = append(vals, fs...)
			}
			return r.Env.Set(as.Name, expand.Variable{Value: vals, Exported: exported})
		}
	}
	s, err := ex.ExpandToString(as.Value)
	if err != nil {
		return err
	}
	if as.Append {
		cur := r.Env.Get(as.Name)
		switch x := cur.Value.(type) {
		case string:
			s = x + s
		case []string:
			if len(x) == 0 {
				x = append(x, "")
			}
			x[0] += s
			return r.Env.Set(as.Name, expand.Variable{Value: x, Exported: exported})
		}
	}
	return r.Env.Set(as.Name, expand.Variable{Value: s, Exported: exported})
}

// call resolves name against the function table, then the builtin
// table, then PATH, and runs it with args.
func (r *Runner) call(ctx context.Context, name string, args []string) (int, error) {
	if fn, ok := r.Funcs[name]; ok {
		return r.callFunction(ctx, fn, args)
	}
	if b, ok := builtins[name]; ok {
		return b(ctx, r, args)
	}
	return r.callExternal(ctx, name, args)
}

func (r *Runner) callFunction(ctx context.Context, fn *ast.Function, args []string) (int, error) {
	r.Env.PushScope()
	defer r.Env.PopScope()
	r.Env.SetPositional(args)
	code, err := r.eval(ctx, fn.Body)
	var ret returnSignal
	if errors.As(err, &ret) {
		return ret.code, nil
	}
	return code, err
}

func (r *Runner) callExternal(ctx context.Context, name string, args []string) (int, error) {
	path, err := r.lookPath(name)
	if err != nil {
		fmt.Fprintf(r.Stderr, "%s: command not found\n", name)
		return 127, nil
	}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = r.Env.Dir
	cmd.Stdin = r.Stdin
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	cmd.Env = r.processEnv()
	if len(r.extra) > 0 {
		for fd := 3; fd <= maxExtraFD(r.extra); fd++ {
			if f, ok := r.extra[fd]; ok {
				cmd.ExtraFiles = append(cmd.ExtraFiles, f)
			}
		}
	}
	prepareCommand(cmd)
	if err := cmd.Start(); err != nil {
		return 126, err
	}
	r.fg.set(cmd.Process.Pid)
	err = cmd.Wait()
	r.fg.set(0)
	if err == nil {
		return 0, nil
	}
	if code, ok := exitCodeForError(err); ok {
		return code, nil
	}
	return 126, err
}

func maxExtraFD(m map[int]*os.File) int {
	max := 2
	for fd := range m {
		if fd > max {
			max = fd
		}
	}
	return max
}

func (r *Runner) processEnv() []string {
	var out []string
	r.Env.Each(func(name string, v expand.Variable) bool {
		if !v.Exported {
			return true
		}
		if s, ok := v.Value.(string); ok {
			out = append(out, name+"="+s)
		}
		return true
	})
	sort.Strings(out)
	return out
}

// parseString parses src as a full script, used by "eval", "source" and
// trap execution to re-enter the parser on already-expanded text.
func parseString(src, filename string) (*ast.List, []error) {
	p := parser.New([]byte(src), filename)
	return p.Parse()
}

func (r *Runner) lookPath(name string) (string, error) {
	if strings.ContainsRune(name, '/') {
		abs := name
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(r.Env.Dir, name)
		}
		if info, err := os.Stat(abs); err == nil && !info.IsDir() {
			return abs, nil
		}
		return "", fmt.Errorf("%s: not found", name)
	}
	pathVar := r.Env.Get("PATH").String()
	for _, dir := range filepath.SplitList(pathVar) {
		if dir == "" {
			dir = "."
		}
		cand := filepath.Join(dir, name)
		if info, err := os.Stat(cand); err == nil && !info.IsDir() && info.Mode()&0111 != 0 {
			return cand, nil
		}
	}
	return "", fmt.Errorf("%s: not found", name)
}
