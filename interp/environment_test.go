package interp

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphamorim/flash/expand"
)

func newTestEnv(t *testing.T) *Environment {
	t.Helper()
	env, err := NewEnvironment(afero.NewMemMapFs(), "flash")
	require.NoError(t, err)
	return env
}

func TestEnvironmentAutoVars(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, FlashVersion, env.Get("FLASH_VERSION").String())
	assert.NotEmpty(t, env.Get("PWD").String())
	assert.NotEmpty(t, env.Get("SHLVL").String())
}

func TestEnvironmentScopeShadowing(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.SetGlobal("X", expand.Variable{Value: "outer"}))

	env.PushScope()
	require.NoError(t, env.SetLocal("X", expand.Variable{Value: "inner"}))
	assert.Equal(t, "inner", env.Get("X").String())
	env.PopScope()

	assert.Equal(t, "outer", env.Get("X").String())
}

func TestEnvironmentReadonly(t *testing.T) {
	env := newTestEnv(t)
	v := expand.Variable{Value: "1", ReadOnly: true}
	require.NoError(t, env.Set("X", v))
	err := env.Set("X", expand.Variable{Value: "2"})
	assert.Error(t, err)
}

func TestEnvironmentSpecialParams(t *testing.T) {
	env := newTestEnv(t)
	env.SetPositional([]string{"a", "b", "c"})
	assert.Equal(t, "3", env.Get("#").String())
	assert.Equal(t, "a", env.Get("1").String())
	assert.Equal(t, "c", env.Get("3").String())

	env.UpdateExit(7)
	assert.Equal(t, "7", env.Get("?").String())
}

func TestEnvironmentExportMirrorsProcessEnv(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Export("FLASH_TEST_VAR", strPtr("hello")))
	assert.Equal(t, "hello", env.Get("FLASH_TEST_VAR").String())
	assert.True(t, env.Get("FLASH_TEST_VAR").Exported)
}

func strPtr(s string) *string { return &s }

func TestEnvironmentChdir(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Fs.MkdirAll("/work/sub", 0755))
	env.Dir = "/work"
	require.NoError(t, env.Chdir("sub"))
	assert.Equal(t, "/work/sub", env.Dir)
	assert.Equal(t, "/work", env.Get("OLDPWD").String())

	err := env.Chdir("missing")
	assert.Error(t, err)
}

func TestEnvironmentDeclareInteger(t *testing.T) {
	env := newTestEnv(t)
	v := expand.Variable{Value: "2 + 3", Integer: true}
	require.NoError(t, env.Set("N", v))
	assert.Equal(t, "5", env.Get("N").String())
}
