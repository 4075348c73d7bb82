package lexer

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/raphamorim/flash/token"
)

func lexKinds(c *qt.C, src string) []token.Kind {
	l := New([]byte(src), "test")
	var kinds []token.Kind
	for {
		tok, err := l.Next()
		c.Assert(err, qt.IsNil)
		kinds = append(kinds, tok.Kind)
		if tok.Kind == token.EOF {
			return kinds
		}
	}
}

func TestSimpleCommand(t *testing.T) {
	c := qt.New(t)
	kinds := lexKinds(c, "echo hello world\n")
	c.Assert(kinds, qt.CmpEquals(cmpopts.EquateComparable(token.Kind(0))), []token.Kind{
		token.WORD, token.WORD, token.WORD, token.NEWLINE, token.EOF,
	})
}

func TestAssignWordRecognized(t *testing.T) {
	c := qt.New(t)
	kinds := lexKinds(c, "X=1 echo $X\n")
	c.Assert(kinds, qt.DeepEquals, []token.Kind{
		token.ASSIGNWORD, token.WORD, token.WORD, token.NEWLINE, token.EOF,
	})
}

func TestOperators(t *testing.T) {
	c := qt.New(t)
	kinds := lexKinds(c, "a && b || c; d & e | f\n")
	c.Assert(kinds, qt.DeepEquals, []token.Kind{
		token.WORD, token.ANDIF, token.WORD, token.ORIF, token.WORD,
		token.SEMICOLON, token.WORD, token.AMP, token.WORD, token.PIPE,
		token.WORD, token.NEWLINE, token.EOF,
	})
}

func TestCaseTerminators(t *testing.T) {
	c := qt.New(t)
	kinds := lexKinds(c, "a) ;; b) ;& c) ;;&\n")
	c.Assert(kinds, qt.DeepEquals, []token.Kind{
		token.WORD, token.RPAREN, token.DSEMI,
		token.WORD, token.RPAREN, token.SEMIFALL,
		token.WORD, token.RPAREN, token.DSEMIFALL,
		token.NEWLINE, token.EOF,
	})
}

func TestRedirectionOperators(t *testing.T) {
	c := qt.New(t)
	kinds := lexKinds(c, "cmd > out 2>&1 < in <<EOF\nbody\nEOF\n")
	c.Assert(kinds[0], qt.Equals, token.WORD)
	c.Assert(kinds[1], qt.Equals, token.GREAT)
}

func TestSingleQuotedWordIsOneToken(t *testing.T) {
	c := qt.New(t)
	l := New([]byte(`echo 'a b c'`+"\n"), "test")
	tok, err := l.Next()
	c.Assert(err, qt.IsNil)
	c.Assert(tok.Kind, qt.Equals, token.WORD)
	tok, err = l.Next()
	c.Assert(err, qt.IsNil)
	c.Assert(tok.Kind, qt.Equals, token.WORD)
	c.Assert(tok.Text, qt.Equals, "'a b c'")
}

func TestUnterminatedQuoteIsLexError(t *testing.T) {
	c := qt.New(t)
	l := New([]byte(`echo "unterminated`), "test")
	_, err := l.Next() // echo
	c.Assert(err, qt.IsNil)
	_, err = l.Next()
	c.Assert(err, qt.Not(qt.IsNil))
	var lexErr *Error
	c.Assert(err, qt.ErrorAs, &lexErr)
}

func TestCommentsSkippedByDefault(t *testing.T) {
	c := qt.New(t)
	kinds := lexKinds(c, "echo hi # a trailing comment\n")
	c.Assert(kinds, qt.DeepEquals, []token.Kind{
		token.WORD, token.WORD, token.NEWLINE, token.EOF,
	})
}

func TestCommentsEmittedWithOption(t *testing.T) {
	c := qt.New(t)
	l := New([]byte("echo hi # note\n"), "test", WithComments(true))
	var kinds []token.Kind
	for {
		tok, err := l.Next()
		c.Assert(err, qt.IsNil)
		kinds = append(kinds, tok.Kind)
		if tok.Kind == token.EOF {
			break
		}
	}
	c.Assert(kinds, qt.DeepEquals, []token.Kind{
		token.WORD, token.WORD, token.COMMENT, token.NEWLINE, token.EOF,
	})
}

func TestHeredocBodyQueuedAndFilled(t *testing.T) {
	c := qt.New(t)
	l := New([]byte("cat <<EOF\nhello\nEOF\n"), "test")
	for i := 0; i < 3; i++ {
		_, err := l.Next()
		c.Assert(err, qt.IsNil)
	}
	body := l.QueueHereDoc("EOF", false, false)
	for {
		tok, err := l.Next()
		c.Assert(err, qt.IsNil)
		if tok.Kind == token.EOF {
			break
		}
	}
	c.Assert(*body, qt.Equals, "hello\n")
}
