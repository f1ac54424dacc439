package sandbox

import (
	"context"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateScript(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{name: "source text", body: "return 1"},
		{name: "empty file", body: ""},
		{name: "shebang", body: "#!/usr/bin/env lua\nreturn 1"},
		{name: "nul first byte", body: "\x00return 1"},
		{name: "bytecode", body: "\x1bLua\x51\x00", wantErr: ErrBytecode},
		{name: "lone marker", body: "\x1b", wantErr: ErrBytecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScript(t, dir, filepath.Base(t.Name())+".lua", tt.body)
			err := ValidateScript(path)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, KindValidation, KindOf(err))
			assert.Contains(t, err.Error(), "we do not evaluate Lua bytecode")
		})
	}
}

func TestValidateScriptMissingFile(t *testing.T) {
	err := ValidateScript(filepath.Join(t.TempDir(), "missing.lua"))

	assert.Equal(t, KindValidation, KindOf(err))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestRunRejectsBytecode(t *testing.T) {
	config := testConfig(t)
	session := newTestSession(t, config)
	script := writeScript(t, config.SandboxDir, "compiled.lua", "\x1bLuaQ")

	_, err := session.Run(context.Background(), script, "")

	assert.ErrorIs(t, err, ErrBytecode)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestRunRejectsBytecodeEnvironment(t *testing.T) {
	config := testConfig(t)
	session := newTestSession(t, config)
	script := writeScript(t, config.SandboxDir, "probe.lua", "return 1")
	env := writeScript(t, config.RootPath, "api.lua", "\x1b")

	_, err := session.Run(context.Background(), script, env)

	assert.ErrorIs(t, err, ErrBytecode)
}
