package sandbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func TestEmptyEnvironmentHidesGlobals(t *testing.T) {
	config := testConfig(t)
	session := newTestSession(t, config)
	script := writeScript(t, config.SandboxDir, "probe.lua", `
return print == nil and string == nil and os == nil and io == nil and require == nil
`)

	result, err := session.Run(context.Background(), script, "")

	require.NoError(t, err)
	assert.Equal(t, true, result.Value)
}

func TestEmptyEnvironmentCallingGlobalFails(t *testing.T) {
	config := testConfig(t)
	session := newTestSession(t, config)
	script := writeScript(t, config.SandboxDir, "probe.lua", `os.exit(1)`)

	_, err := session.Run(context.Background(), script, "")

	require.Error(t, err)
	assert.Equal(t, KindEngine, KindOf(err))
}

func TestEnvironmentTableIsTheScriptNamespace(t *testing.T) {
	config := testConfig(t)
	session := newTestSession(t, config)
	env := writeScript(t, config.RootPath, "api.lua", `
return {
  answer = 42,
  greet = function(who) return "hello " .. who end,
}
`)
	script := writeScript(t, config.SandboxDir, "probe.lua", `
leaked = true
return { answer = answer, greeting = greet("world"), print = print == nil }
`)

	result, err := session.Run(context.Background(), script, env)

	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"answer":   int64(42),
		"greeting": "hello world",
		"print":    true,
	}, result.Value)

	// assignments land in the run's environment, not the session globals
	assert.Equal(t, lua.LNil, session.State().GetGlobal("leaked"))
}

func TestEnvironmentRunsWithSessionGlobals(t *testing.T) {
	config := testConfig(t)
	session := newTestSession(t, config)
	env := writeScript(t, config.RootPath, "api.lua", `return { name = SANDBOX_NAME, upper = string.upper }`)
	script := writeScript(t, config.SandboxDir, "probe.lua", `return upper(name)`)

	result, err := session.Run(context.Background(), script, env)

	require.NoError(t, err)
	assert.Equal(t, "TEST", result.Value)
}

func TestEnvironmentFailures(t *testing.T) {
	tests := []struct {
		name       string
		env        string
		wantErr    error
		wantDetail string
		wantType   lua.ApiErrorType
	}{
		{
			name:       "syntax error",
			env:        "return {",
			wantDetail: "syntax error",
			wantType:   lua.ApiErrorSyntax,
		},
		{
			name:       "runtime error",
			env:        `error("broken api")`,
			wantDetail: "broken api",
			wantType:   lua.ApiErrorRun,
		},
		{
			name:       "number instead of table",
			env:        "return 5",
			wantErr:    ErrInvalidEnvironment,
			wantDetail: "got number",
		},
		{
			name:       "no return value",
			env:        "local x = 1",
			wantErr:    ErrInvalidEnvironment,
			wantDetail: "got nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig(t)
			session := newTestSession(t, config)
			env := writeScript(t, config.RootPath, "api.lua", tt.env)
			script := writeScript(t, config.SandboxDir, "probe.lua", "return 1")

			result, err := session.Run(context.Background(), script, env)

			require.Error(t, err)
			assert.Nil(t, result.Value)
			assert.Equal(t, KindEngine, KindOf(err))

			var serr *Error
			require.True(t, errors.As(err, &serr))
			assert.Equal(t, "environment", serr.Op)
			assert.Equal(t, env, serr.Path)
			assert.Contains(t, serr.Detail, tt.wantDetail)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			var apiErr *lua.ApiError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.wantType, apiErr.Type)
		})
	}
}

func TestEnvironmentMissingFile(t *testing.T) {
	config := testConfig(t)
	session := newTestSession(t, config)
	script := writeScript(t, config.SandboxDir, "probe.lua", "return 1")

	_, err := session.Run(context.Background(), script, config.RootPath+"/missing.lua")

	assert.Equal(t, KindValidation, KindOf(err))
}

func TestExposeBuiltins(t *testing.T) {
	tests := []struct {
		name   string
		expose bool
		env    string
		script string
		want   interface{}
		kind   Kind
	}{
		{
			name:   "builtins visible",
			expose: true,
			script: "return type(string.rep)",
			want:   "function",
		},
		{
			name:   "builtins hidden by default",
			expose: false,
			script: "return type(string.rep)",
			kind:   KindEngine,
		},
		{
			name:   "environment entries shadow builtins",
			expose: true,
			env:    `return { print = "shadowed" }`,
			script: "return print",
			want:   "shadowed",
		},
		{
			name:   "existing metatable is kept",
			expose: true,
			env:    `return setmetatable({}, { __index = function() return "custom" end })`,
			script: "return string",
			want:   "custom",
		},
		{
			name:   "writes stay in the environment",
			expose: true,
			script: "string = 5 return type(string)",
			want:   "number",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig(t)
			config.ExposeBuiltins = tt.expose
			session := newTestSession(t, config)
			script := writeScript(t, config.SandboxDir, "probe.lua", tt.script)
			env := ""
			if tt.env != "" {
				env = writeScript(t, config.RootPath, "api.lua", tt.env)
			}

			result, err := session.Run(context.Background(), script, env)

			if tt.want == nil {
				require.Error(t, err)
				assert.Equal(t, tt.kind, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Value)
			assert.NotEqual(t, lua.LNil, session.State().GetGlobal("string"))
		})
	}
}
