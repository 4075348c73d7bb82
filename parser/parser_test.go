package parser

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/raphamorim/flash/ast"
)

func parseOne(c *qt.C, src string) ast.Node {
	list, errs := New([]byte(src), "test").Parse()
	c.Assert(errs, qt.HasLen, 0)
	c.Assert(list.Statements, qt.HasLen, 1)
	return list.Statements[0]
}

func wordText(w *ast.Word) string {
	var s string
	for _, p := range w.Parts {
		if lit, ok := p.(*ast.Lit); ok {
			s += lit.Value
		}
	}
	return s
}

func TestParseSimpleCommand(t *testing.T) {
	c := qt.New(t)
	n := parseOne(c, "echo hello world\n")
	cmd, ok := n.(*ast.Command)
	c.Assert(ok, qt.IsTrue)
	c.Assert(wordText(cmd.Name), qt.Equals, "echo")
	c.Assert(cmd.Args, qt.HasLen, 2)
	c.Assert(wordText(cmd.Args[0]), qt.Equals, "hello")
	c.Assert(wordText(cmd.Args[1]), qt.Equals, "world")
}

func TestParseAssignmentPrefix(t *testing.T) {
	c := qt.New(t)
	n := parseOne(c, "X=1 Y=2 echo $X\n")
	cmd, ok := n.(*ast.Command)
	c.Assert(ok, qt.IsTrue)
	c.Assert(cmd.Assigns, qt.HasLen, 2)
	c.Assert(cmd.Assigns[0].Name, qt.Equals, "X")
	c.Assert(cmd.Assigns[1].Name, qt.Equals, "Y")
}

func TestParseStandaloneAssignment(t *testing.T) {
	c := qt.New(t)
	n := parseOne(c, "X=1\n")
	a, ok := n.(*ast.Assignment)
	c.Assert(ok, qt.IsTrue)
	c.Assert(a.Name, qt.Equals, "X")
	c.Assert(wordText(a.Value), qt.Equals, "1")
}

func TestParsePipeline(t *testing.T) {
	c := qt.New(t)
	n := parseOne(c, "a | b | c\n")
	p, ok := n.(*ast.Pipeline)
	c.Assert(ok, qt.IsTrue)
	c.Assert(p.Commands, qt.HasLen, 3)
}

func TestParseAndOrList(t *testing.T) {
	c := qt.New(t)
	list, errs := New([]byte("a && b || c\n"), "test").Parse()
	c.Assert(errs, qt.HasLen, 0)
	c.Assert(list.Statements, qt.HasLen, 3)
	c.Assert(list.Operators, qt.DeepEquals, []ast.ListOp{ast.AndOp, ast.OrOp, ast.NewlineOp})
}

func TestParseIfElse(t *testing.T) {
	c := qt.New(t)
	n := parseOne(c, "if true; then echo a; else echo b; fi\n")
	ifn, ok := n.(*ast.If)
	c.Assert(ok, qt.IsTrue)
	c.Assert(ifn.Cond.Statements, qt.HasLen, 1)
	c.Assert(ifn.Then.Statements, qt.HasLen, 1)
	c.Assert(ifn.Else, qt.Not(qt.IsNil))
}

func TestParseForLoop(t *testing.T) {
	c := qt.New(t)
	n := parseOne(c, "for x in 1 2 3; do echo $x; done\n")
	f, ok := n.(*ast.For)
	c.Assert(ok, qt.IsTrue)
	c.Assert(f.Var, qt.Equals, "x")
	c.Assert(f.Words, qt.HasLen, 3)
}

func TestParseCaseTerminators(t *testing.T) {
	c := qt.New(t)
	n := parseOne(c, "case $x in a) echo a;; b) echo b;& c) echo c;;& esac\n")
	cs, ok := n.(*ast.Case)
	c.Assert(ok, qt.IsTrue)
	c.Assert(cs.Arms, qt.HasLen, 3)
	c.Assert(cs.Arms[0].Term, qt.Equals, ast.TermBreak)
	c.Assert(cs.Arms[1].Term, qt.Equals, ast.TermFall)
	c.Assert(cs.Arms[2].Term, qt.Equals, ast.TermContinue)
}

func TestParseFunctionDeclaration(t *testing.T) {
	c := qt.New(t)
	n := parseOne(c, "f() { echo in; }\n")
	fn, ok := n.(*ast.Function)
	c.Assert(ok, qt.IsTrue)
	c.Assert(fn.Name, qt.Equals, "f")
	_, ok = fn.Body.(*ast.Group)
	c.Assert(ok, qt.IsTrue)
}

func TestParseSubshellVsGroup(t *testing.T) {
	c := qt.New(t)
	n := parseOne(c, "(echo a)\n")
	_, ok := n.(*ast.Subshell)
	c.Assert(ok, qt.IsTrue)

	n = parseOne(c, "{ echo a; }\n")
	_, ok = n.(*ast.Group)
	c.Assert(ok, qt.IsTrue)
}

func TestParseRedirectTargets(t *testing.T) {
	c := qt.New(t)
	n := parseOne(c, "cmd > out.txt 2>&1 < in.txt\n")
	cmd, ok := n.(*ast.Command)
	c.Assert(ok, qt.IsTrue)
	c.Assert(cmd.Redirects, qt.HasLen, 3)
	c.Assert(cmd.Redirects[0].Kind, qt.Equals, ast.RedirOutput)
	c.Assert(cmd.Redirects[1].Kind, qt.Equals, ast.RedirOutputDup)
	c.Assert(cmd.Redirects[2].Kind, qt.Equals, ast.RedirInput)
}

func TestParseHeredocBody(t *testing.T) {
	c := qt.New(t)
	n := parseOne(c, "cat <<EOF\nhello\nworld\nEOF\n")
	cmd, ok := n.(*ast.Command)
	c.Assert(ok, qt.IsTrue)
	c.Assert(cmd.Redirects, qt.HasLen, 1)
	c.Assert(cmd.Redirects[0].Kind, qt.Equals, ast.RedirHereDoc)
	c.Assert(cmd.Redirects[0].HereDocBody, qt.Equals, "hello\nworld\n")
}

func TestParseNegatedPipeline(t *testing.T) {
	c := qt.New(t)
	n := parseOne(c, "! true\n")
	_, ok := n.(*ast.Negation)
	c.Assert(ok, qt.IsTrue)
}

func TestParseErrorRecoveryReportsUnclosedArrayLiteral(t *testing.T) {
	c := qt.New(t)
	list, errs := New([]byte("X=(1 2\n"), "test").Parse()
	c.Assert(len(errs) > 0, qt.IsTrue)
	c.Assert(len(list.Statements) > 0, qt.IsTrue)
}
