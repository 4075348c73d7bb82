package expand

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/spf13/afero"

	"github.com/raphamorim/flash/ast"
	"github.com/raphamorim/flash/parser"
)

// wordFromSource parses src as "NAME arg\n" and returns the parsed
// argument word, so parameter/brace/quote nodes come from the real
// parser rather than being hand-built.
func wordFromSource(c *qt.C, src string) *ast.Word {
	list, errs := parser.New([]byte(src), "test").Parse()
	c.Assert(errs, qt.HasLen, 0)
	cmd := list.Statements[0].(*ast.Command)
	c.Assert(cmd.Args, qt.Not(qt.HasLen), 0)
	return cmd.Args[0]
}

func paramExpOf(c *qt.C, w *ast.Word) *ast.ParamExpansion {
	c.Assert(w.Parts, qt.HasLen, 1)
	pe, ok := w.Parts[0].(*ast.ParamExpansion)
	c.Assert(ok, qt.IsTrue)
	return pe
}

func newExpander(env Environ) *Expander {
	return &Expander{Env: env, Fs: afero.NewMemMapFs(), Dir: "/work"}
}

func TestParamDefaultWhenUnset(t *testing.T) {
	c := qt.New(t)
	env := ListEnviron()
	e := newExpander(env)
	w := wordFromSource(c, `echo ${X:-fallback}`+"\n")
	pe := paramExpOf(c, w)
	got, _, err := Param(env, e, pe)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, "fallback")
}

func TestParamDefaultWhenSet(t *testing.T) {
	c := qt.New(t)
	env := ListEnviron("X=real")
	e := newExpander(env)
	w := wordFromSource(c, `echo ${X:-fallback}`+"\n")
	pe := paramExpOf(c, w)
	got, _, err := Param(env, e, pe)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, "real")
}

func TestParamLength(t *testing.T) {
	c := qt.New(t)
	env := ListEnviron("X=hello")
	e := newExpander(env)
	w := wordFromSource(c, `echo ${#X}`+"\n")
	pe := paramExpOf(c, w)
	got, _, err := Param(env, e, pe)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, "5")
}

func TestParamTrimPrefix(t *testing.T) {
	c := qt.New(t)
	env := ListEnviron("X=foobar")
	e := newExpander(env)
	w := wordFromSource(c, `echo ${X#foo}`+"\n")
	pe := paramExpOf(c, w)
	got, _, err := Param(env, e, pe)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, "bar")
}

func TestParamReplace(t *testing.T) {
	c := qt.New(t)
	env := ListEnviron("X=foo-foo")
	e := newExpander(env)
	w := wordFromSource(c, `echo ${X//foo/bar}`+"\n")
	pe := paramExpOf(c, w)
	got, _, err := Param(env, e, pe)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, "bar-bar")
}

func TestBracesCommaList(t *testing.T) {
	c := qt.New(t)
	got := Braces(&ast.BraceExpansion{Prefix: "file", Items: []string{"a", "b", "c"}, Suffix: ".txt"})
	c.Assert(got, qt.DeepEquals, []string{"filea.txt", "fileb.txt", "filec.txt"})
}

func TestBracesNumericSequence(t *testing.T) {
	c := qt.New(t)
	got := Braces(&ast.BraceExpansion{IsSeq: true, SeqFrom: "1", SeqTo: "3"})
	c.Assert(got, qt.DeepEquals, []string{"1", "2", "3"})
}

func TestBracesZeroPaddedSequence(t *testing.T) {
	c := qt.New(t)
	got := Braces(&ast.BraceExpansion{IsSeq: true, SeqFrom: "01", SeqTo: "03"})
	c.Assert(got, qt.DeepEquals, []string{"01", "02", "03"})
}

func TestFieldsSplitsUnquotedVariable(t *testing.T) {
	c := qt.New(t)
	env := ListEnviron("X=one two  three")
	e := newExpander(env)
	w := wordFromSource(c, `echo $X`+"\n")
	got, err := e.Fields(w)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, []string{"one", "two", "three"})
}

func TestFieldsPreservesQuotedVariable(t *testing.T) {
	c := qt.New(t)
	env := ListEnviron("X=one two  three")
	e := newExpander(env)
	w := wordFromSource(c, `echo "$X"`+"\n")
	got, err := e.Fields(w)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, []string{"one two  three"})
}

func TestFieldsGlobsUnquotedPattern(t *testing.T) {
	c := qt.New(t)
	env := ListEnviron()
	e := newExpander(env)
	c.Assert(e.Fs.MkdirAll("/work", 0755), qt.IsNil)
	for _, name := range []string{"/work/a.txt", "/work/b.txt", "/work/c.log"} {
		c.Assert(afero.WriteFile(e.Fs, name, []byte("x"), 0644), qt.IsNil)
	}
	w := wordFromSource(c, `echo *.txt`+"\n")
	got, err := e.Fields(w)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, []string{"a.txt", "b.txt"})
}

func TestFieldsNoGlobMatchReturnsPatternLiteral(t *testing.T) {
	c := qt.New(t)
	env := ListEnviron()
	e := newExpander(env)
	c.Assert(e.Fs.MkdirAll("/work", 0755), qt.IsNil)
	w := wordFromSource(c, `echo *.missing`+"\n")
	got, err := e.Fields(w)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, []string{"*.missing"})
}
