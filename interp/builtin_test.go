package interp

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuiltinPrintf(t *testing.T) {
	out, _, _ := runScript(t, `printf "%s-%d\n" foo 42`)
	assert.Equal(t, "foo-42\n", out)
}

func TestBuiltinPrintfRecyclesFormat(t *testing.T) {
	out, _, _ := runScript(t, `printf "%s\n" a b c`)
	assert.Equal(t, "a\nb\nc\n", out)
}

func TestBuiltinReadSplitsOnIFS(t *testing.T) {
	env := newTestEnv(t)
	r := NewRunner(env, "test")
	r.Stdin = strReader(t, "one two\n")
	outR, outW, _ := pipe(t)
	r.Stdout = outW

	code, err := biRead(context.Background(), r, []string{"a", "b"})
	assert.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "one", r.Env.Get("a").String())
	assert.Equal(t, "two", r.Env.Get("b").String())

	outW.Close()
	var buf strings.Builder
	io.Copy(&buf, outR)
}

func TestBuiltinDeclareInteger(t *testing.T) {
	_, _, code := runScript(t, `declare -i n; n=2+3; test "$n" = 5`)
	assert.Equal(t, 0, code)
}

func TestBuiltinExportedVariableVisibleToChild(t *testing.T) {
	out, _, _ := runScript(t, `export FOO=bar; env | grep ^FOO=`)
	assert.Equal(t, "FOO=bar\n", out)
}

func TestBuiltinLocalShadowsOnlyInsideFunction(t *testing.T) {
	out, _, _ := runScript(t, `X=outer; f() { local X=inner; echo $X; }; f; echo $X`)
	assert.Equal(t, "inner\nouter\n", out)
}

func strReader(t *testing.T, s string) *os.File {
	t.Helper()
	r, w, err := pipe(t)
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		w.WriteString(s)
		w.Close()
	}()
	return r
}
