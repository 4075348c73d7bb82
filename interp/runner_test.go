package interp

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphamorim/flash/parser"
)

func pipe(t *testing.T) (*os.File, *os.File, error) {
	t.Helper()
	return os.Pipe()
}

func runScript(t *testing.T, src string) (string, string, int) {
	t.Helper()
	env := newTestEnv(t)
	r := NewRunner(env, "test")

	outR, outW, err := pipe(t)
	require.NoError(t, err)
	errR, errW, err := pipe(t)
	require.NoError(t, err)
	r.Stdout = outW
	r.Stderr = errW

	list, errs := parser.New([]byte(src), "test").Parse()
	require.Empty(t, errs)

	code, evalErr := r.Eval(context.Background(), list)
	require.NoError(t, evalErr)

	outW.Close()
	errW.Close()
	var outBuf, errBuf bytes.Buffer
	outBuf.ReadFrom(outR)
	errBuf.ReadFrom(errR)
	return outBuf.String(), errBuf.String(), code
}

func TestRunnerEcho(t *testing.T) {
	out, _, code := runScript(t, `echo hello world`)
	assert.Equal(t, 0, code)
	assert.Equal(t, "hello world\n", out)
}

func TestRunnerAndOrLists(t *testing.T) {
	out, _, code := runScript(t, `true && echo yes || echo no`)
	assert.Equal(t, 0, code)
	assert.Equal(t, "yes\n", out)

	out, _, code = runScript(t, `false && echo yes || echo no`)
	assert.Equal(t, 0, code)
	assert.Equal(t, "no\n", out)
}

func TestRunnerIfElse(t *testing.T) {
	out, _, _ := runScript(t, `if true; then echo a; else echo b; fi`)
	assert.Equal(t, "a\n", out)
}

func TestRunnerForLoop(t *testing.T) {
	out, _, _ := runScript(t, `for x in 1 2 3; do echo $x; done`)
	assert.Equal(t, "1\n2\n3\n", out)
}

func TestRunnerFunctionCallAndReturn(t *testing.T) {
	out, _, code := runScript(t, `f() { echo in; return 3; }; f; echo $?`)
	assert.Equal(t, 0, code)
	assert.Equal(t, "in\n3\n", out)
}

func TestRunnerPipeline(t *testing.T) {
	out, _, _ := runScript(t, `echo hi | cat`)
	assert.Equal(t, "hi\n", strings.TrimRight(out, ""))
}

func TestRunnerVariableAssignmentAndExpansion(t *testing.T) {
	out, _, _ := runScript(t, `X=foo; echo $X`)
	assert.Equal(t, "foo\n", out)
}

func TestRunnerSubshellIsolatesVariables(t *testing.T) {
	out, _, _ := runScript(t, `X=outer; (X=inner; echo $X); echo $X`)
	assert.Equal(t, "inner\nouter\n", out)
}

func TestRunnerCommandSubstitution(t *testing.T) {
	out, _, _ := runScript(t, `echo $(echo nested)`)
	assert.Equal(t, "nested\n", out)
}

func TestRunnerArithmeticExpansion(t *testing.T) {
	out, _, _ := runScript(t, `echo $((2 + 3 * 4))`)
	assert.Equal(t, "14\n", out)
}

func TestRunnerCaseStatement(t *testing.T) {
	out, _, _ := runScript(t, `case foo in f*) echo matched;; *) echo nope;; esac`)
	assert.Equal(t, "matched\n", out)
}

func TestRunnerTestBuiltin(t *testing.T) {
	_, _, code := runScript(t, `test -z ""`)
	assert.Equal(t, 0, code)
	_, _, code = runScript(t, `[ 1 -eq 2 ]`)
	assert.Equal(t, 1, code)
}

func TestRunnerExtendedTest(t *testing.T) {
	_, _, code := runScript(t, `[[ "abc" == a* ]]`)
	assert.Equal(t, 0, code)
}
