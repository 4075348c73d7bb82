// Package interp implements the flash evaluator and interpreter facade:
// a layered variable Environment, the default Evaluator dispatch, the
// builtin table, job control, traps, history persistence, and the
// Interpreter that owns them all.
package interp

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/raphamorim/flash/expand"
	"github.com/raphamorim/flash/parser"
)

// FlashVersion is reported through $FLASH_VERSION.
const FlashVersion = "0.1.0"

// scope is one layer of the variable stack. A scope is pushed on
// function call and subshell entry and popped on return, guaranteed by
// defer at every call site.
type scope struct {
	vars      map[string]expand.Variable
	params    []string // positional parameters bound to this scope
	hasParams bool
}

func newScope() *scope {
	return &scope{vars: make(map[string]expand.Variable)}
}

// Environment is the flash variable store: a stack of scope layers plus
// the special-parameter and auto-set-variable machinery. It implements
// expand.Environ so the expander can resolve $VAR and ${VAR op} without
// knowing about scoping at all.
type Environment struct {
	scopes []*scope

	Fs  afero.Fs
	Dir string // current working directory; mirrors $PWD

	name0      string // $0
	exitStatus int    // $?
	lastBgPID  int    // $!
	underscore string // $_
	opts       map[byte]bool
	longOpts   map[string]bool
}

// NewEnvironment builds an Environment seeded from the process
// environment and the shell's auto-set variables, backed by the given
// filesystem. The working directory starts at the process's current
// directory, and name0 becomes $0.
func NewEnvironment(fs afero.Fs, name0 string) (*Environment, error) {
	e := &Environment{
		scopes:   []*scope{newScope()},
		Fs:       fs,
		name0:    name0,
		opts:     make(map[byte]bool),
		longOpts: make(map[string]bool),
	}
	wd, err := os.Getwd()
	if err != nil {
		wd = "/"
	}
	e.Dir = wd

	for _, kv := range os.Environ() {
		i := strings.IndexByte(kv, '=')
		if i < 0 {
			continue
		}
		e.scopes[0].vars[kv[:i]] = expand.Variable{Value: kv[i+1:], Exported: true}
	}

	e.setAuto("PWD", wd)
	if old := e.Get("OLDPWD"); !old.IsSet() {
		e.setAuto("OLDPWD", wd)
	}
	e.setAuto("FLASH_VERSION", FlashVersion)
	e.setAuto("HOSTTYPE", runtime.GOARCH)
	e.setAuto("MACHTYPE", runtime.GOARCH+"-unknown-"+runtime.GOOS)
	e.setAuto("OSTYPE", runtime.GOOS)
	if e.Get("SHELL").String() == "" {
		e.setAuto("SHELL", "/bin/flash")
	}
	if e.Get("IFS").String() == "" {
		e.setAuto("IFS", " \t\n")
	}
	if !e.Get("PS1").IsSet() {
		e.setAuto("PS1", "\\w \\$ ")
	}
	if !e.Get("PS2").IsSet() {
		e.setAuto("PS2", "> ")
	}
	if !e.Get("PS4").IsSet() {
		e.setAuto("PS4", "+ ")
	}
	if !e.Get("HISTFILE").IsSet() {
		home := e.Get("HOME").String()
		if home == "" {
			home = "."
		}
		e.setAuto("HISTFILE", filepath.Join(home, ".flash_history"))
	}
	if !e.Get("HISTSIZE").IsSet() {
		e.setAuto("HISTSIZE", "500")
	}
	if !e.Get("HISTFILESIZE").IsSet() {
		e.setAuto("HISTFILESIZE", "500")
	}

	shlvl := 0
	if v := e.Get("SHLVL").String(); v != "" {
		shlvl, _ = strconv.Atoi(v)
	}
	e.setAuto("SHLVL", strconv.Itoa(shlvl+1))

	return e, nil
}

// setAuto writes an exported auto-set variable directly into the global
// scope, mirroring it into the process environment.
func (e *Environment) setAuto(name, value string) {
	e.scopes[0].vars[name] = expand.Variable{Value: value, Exported: true}
	os.Setenv(name, value)
}

// --- expand.Environ ---

func (e *Environment) findScope(name string) (int, bool) {
	for i := len(e.scopes) - 1; i >= 0; i-- {
		if _, ok := e.scopes[i].vars[name]; ok {
			return i, true
		}
	}
	return -1, false
}

// Get resolves name, checking special parameters first and falling
// through to the scope stack, innermost first.
func (e *Environment) Get(name string) expand.Variable {
	if v, ok := e.specialParam(name); ok {
		return v
	}
	if i, ok := e.findScope(name); ok {
		return e.scopes[i].vars[name]
	}
	return expand.Variable{}
}

func (e *Environment) specialParam(name string) (expand.Variable, bool) {
	switch name {
	case "#":
		return expand.Variable{Value: strconv.Itoa(len(e.positional()))}, true
	case "@", "*":
		return expand.Variable{Value: append([]string{}, e.positional()...)}, true
	case "?":
		return expand.Variable{Value: strconv.Itoa(e.exitStatus)}, true
	case "$":
		return expand.Variable{Value: strconv.Itoa(os.Getpid())}, true
	case "!":
		if e.lastBgPID == 0 {
			return expand.Variable{}, true
		}
		return expand.Variable{Value: strconv.Itoa(e.lastBgPID)}, true
	case "-":
		return expand.Variable{Value: e.optString()}, true
	case "_":
		return expand.Variable{Value: e.underscore}, true
	case "0":
		return expand.Variable{Value: e.name0}, true
	}
	if isAllDigitsEnv(name) {
		n, _ := strconv.Atoi(name)
		params := e.positional()
		if n >= 1 && n <= len(params) {
			return expand.Variable{Value: params[n-1]}, true
		}
		return expand.Variable{Value: ""}, true
	}
	return expand.Variable{}, false
}

func isAllDigitsEnv(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (e *Environment) optString() string {
	var b strings.Builder
	for c := byte('a'); c <= 'z'; c++ {
		if e.opts[c] {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Set implements expand.Environ for the expander's own assignment forms
// (such as ${v:=word}). It writes into the scope that already holds name,
// or the innermost scope if name is new, honoring readonly.
func (e *Environment) Set(name string, v expand.Variable) error {
	return e.assign(name, v, false)
}

func (e *Environment) assign(name string, v expand.Variable, forceGlobal bool) error {
	idx := len(e.scopes) - 1
	if found, ok := e.findScope(name); ok {
		cur := e.scopes[found].vars[name]
		if cur.ReadOnly {
			return fmt.Errorf("%s: readonly variable", name)
		}
		idx = found
		if cur.Exported {
			v.Exported = true
		}
		if cur.Integer {
			v.Integer = true
		}
	}
	if forceGlobal {
		idx = 0
	}
	if v.Integer {
		if s, ok := v.Value.(string); ok {
			n, err := e.evalIntegerLiteral(s)
			if err != nil {
				return err
			}
			v.Value = strconv.FormatInt(n, 10)
		}
	}
	e.scopes[idx].vars[name] = v
	if v.Exported {
		if s, ok := v.Value.(string); ok {
			os.Setenv(name, s)
		}
	}
	return nil
}

func (e *Environment) evalIntegerLiteral(s string) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	expr := parser.ParseArithExpr(s)
	return expand.Arith(e, expr)
}

// Delete implements expand.Environ; it removes name from whichever scope
// defines it and, if it was exported, from the process environment.
func (e *Environment) Delete(name string) {
	if i, ok := e.findScope(name); ok {
		if e.scopes[i].vars[name].Exported {
			os.Unsetenv(name)
		}
		delete(e.scopes[i].vars, name)
	}
}

// Each implements expand.Environ, visiting every visible name exactly
// once, innermost scope winning over shadowed outer bindings.
func (e *Environment) Each(fn func(name string, v expand.Variable) bool) {
	seen := make(map[string]bool)
	for i := len(e.scopes) - 1; i >= 0; i-- {
		for name, v := range e.scopes[i].vars {
			if seen[name] {
				continue
			}
			seen[name] = true
			if !fn(name, v) {
				return
			}
		}
	}
}

// --- Environment operations ---

// SetLocal assigns name in the innermost scope, shadowing any outer
// binding of the same name, as the "local" builtin requires.
func (e *Environment) SetLocal(name string, v expand.Variable) error {
	v.Local = true
	idx := len(e.scopes) - 1
	if cur, ok := e.scopes[idx].vars[name]; ok && cur.ReadOnly {
		return fmt.Errorf("%s: readonly variable", name)
	}
	e.scopes[idx].vars[name] = v
	if v.Exported {
		if s, ok := v.Value.(string); ok {
			os.Setenv(name, s)
		}
	}
	return nil
}

// SetGlobal assigns name in the outermost scope, as "declare -g" and
// top-level assignments outside any function do.
func (e *Environment) SetGlobal(name string, v expand.Variable) error {
	return e.assign(name, v, true)
}

// Export marks name as exported, optionally also setting its value, and
// mirrors it into the process environment.
func (e *Environment) Export(name string, value *string) error {
	cur := e.Get(name)
	if value != nil {
		cur.Value = *value
	} else if !cur.IsSet() {
		cur.Value = ""
	}
	cur.Exported = true
	return e.assign(name, cur, false)
}

// Unset removes name, rejecting readonly variables with an error rather
// than panicking.
func (e *Environment) Unset(name string) error {
	if v := e.Get(name); v.ReadOnly {
		return fmt.Errorf("%s: readonly variable", name)
	}
	e.Delete(name)
	return nil
}

// PushScope enters a new variable layer, used on function call and
// subshell/group entry that need isolated locals.
func (e *Environment) PushScope() {
	e.scopes = append(e.scopes, newScope())
}

// PopScope leaves the innermost layer, restoring whatever positional
// parameters and locals were shadowed. Never called without a matching
// PushScope; callers defer it so it runs on every exit path.
func (e *Environment) PopScope() {
	if len(e.scopes) == 1 {
		return
	}
	top := e.scopes[len(e.scopes)-1]
	for name, v := range top.vars {
		if v.Exported {
			if _, stillVisible := e.findScopeBelow(len(e.scopes)-1, name); !stillVisible {
				os.Unsetenv(name)
			}
		}
	}
	e.scopes = e.scopes[:len(e.scopes)-1]
}

func (e *Environment) findScopeBelow(top int, name string) (int, bool) {
	for i := top - 1; i >= 0; i-- {
		if _, ok := e.scopes[i].vars[name]; ok {
			return i, true
		}
	}
	return -1, false
}

func (e *Environment) positional() []string {
	for i := len(e.scopes) - 1; i >= 0; i-- {
		if e.scopes[i].hasParams {
			return e.scopes[i].params
		}
	}
	return nil
}

// SetPositional rebinds $1..$N (and $#) in the innermost scope, used on
// function call and by the "set"/"shift" builtins.
func (e *Environment) SetPositional(params []string) {
	top := e.scopes[len(e.scopes)-1]
	top.params = params
	top.hasParams = true
}

// UpdateExit records the most recent exit status for $?.
func (e *Environment) UpdateExit(code int) {
	e.exitStatus = code
}

// ExitStatus reports the last exit status recorded via UpdateExit.
func (e *Environment) ExitStatus() int { return e.exitStatus }

// SetLastBackground records the PID of the most recently started
// background job for $!.
func (e *Environment) SetLastBackground(pid int) { e.lastBgPID = pid }

// SetUnderscore records $_, the last argument of the previous command.
func (e *Environment) SetUnderscore(s string) { e.underscore = s }

// SetName0 rebinds $0, used when a script or function changes what the
// running program should report as its own name.
func (e *Environment) SetName0(name string) { e.name0 = name }

// SetOpt/Opt manage single-letter "set -x" style shell options backing $-.
func (e *Environment) SetOpt(c byte, on bool) { e.opts[c] = on }
func (e *Environment) Opt(c byte) bool        { return e.opts[c] }

// Nounset implements expand.NounsetChecker, backing "set -u" for the
// expander without it needing to know about $- at all.
func (e *Environment) Nounset() bool { return e.Opt('u') }

// SetLongOpt/LongOpt manage long "set -o pipefail" style options.
func (e *Environment) SetLongOpt(name string, on bool) { e.longOpts[name] = on }
func (e *Environment) LongOpt(name string) bool        { return e.longOpts[name] }

// clone returns a deep-enough copy of e for subshell isolation: every
// scope layer is copied so writes inside the subshell never mutate the
// parent's variables, without requiring a real fork.
func (e *Environment) clone() *Environment {
	c := &Environment{
		Fs:         e.Fs,
		Dir:        e.Dir,
		name0:      e.name0,
		exitStatus: e.exitStatus,
		lastBgPID:  e.lastBgPID,
		underscore: e.underscore,
		opts:       make(map[byte]bool, len(e.opts)),
		longOpts:   make(map[string]bool, len(e.longOpts)),
	}
	for k, v := range e.opts {
		c.opts[k] = v
	}
	for k, v := range e.longOpts {
		c.longOpts[k] = v
	}
	for _, s := range e.scopes {
		ns := &scope{
			vars:      make(map[string]expand.Variable, len(s.vars)),
			params:    append([]string{}, s.params...),
			hasParams: s.hasParams,
		}
		for k, v := range s.vars {
			ns.vars[k] = v
		}
		c.scopes = append(c.scopes, ns)
	}
	return c
}

// Chdir updates PWD/OLDPWD and the working directory used to resolve
// relative globs and filesystem builtins. It does not call os.Chdir: the
// process working directory stays put so an afero.MemMapFs-backed
// Environment behaves identically to an OS-backed one, and external
// commands get their cwd via exec.Cmd.Dir instead.
func (e *Environment) Chdir(path string) error {
	dir := path
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(e.Dir, dir)
	}
	dir = filepath.Clean(dir)
	info, err := e.Fs.Stat(dir)
	if err != nil {
		return fmt.Errorf("cd: %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("cd: %s: not a directory", path)
	}
	old := e.Dir
	e.Dir = dir
	e.setAuto("OLDPWD", old)
	e.setAuto("PWD", dir)
	return nil
}
