package primitives

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/censorscope/internal/sandbox"
)

// setup creates a session with the primitives registered and an
// environment script that re-exports the module.
func setup(t *testing.T, opts Options) (*sandbox.Session, string, string) {
	t.Helper()
	config := sandbox.DefaultConfig()
	config.RootPath = t.TempDir()
	config.SandboxDir = t.TempDir()

	session, err := sandbox.New("probe", config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	require.NoError(t, Register(session, opts))

	env := filepath.Join(config.RootPath, "api.lua")
	require.NoError(t, os.WriteFile(env, []byte("return { host = censorscope }"), 0o644))
	return session, env, config.SandboxDir
}

func run(t *testing.T, session *sandbox.Session, dir, env, body string) (*sandbox.Result, error) {
	t.Helper()
	script := filepath.Join(dir, "probe.lua")
	require.NoError(t, os.WriteFile(script, []byte(body), 0o644))
	return session.Run(context.Background(), script, env)
}

func TestLogPrimitives(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	session, env, dir := setup(t, Options{Logger: zap.New(core)})

	_, err := run(t, session, dir, env, `
host.info("resolved", { domain = "example.org", rtt = 12.5, blocked = false })
host.warn("timeout")
host.debug("trace", "ignored")
`)
	require.NoError(t, err)

	require.Equal(t, 3, logs.Len())
	entries := logs.All()

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "resolved", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, "probe", fields["sandbox"])
	assert.Equal(t, "example.org", fields["domain"])
	assert.Equal(t, 12.5, fields["rtt"])
	assert.Equal(t, false, fields["blocked"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.DebugLevel, entries[2].Level)
}

func TestLogRequiresMessage(t *testing.T) {
	session, env, dir := setup(t, Options{})

	_, err := run(t, session, dir, env, `host.info()`)

	assert.Equal(t, sandbox.KindEngine, sandbox.KindOf(err))
}

func TestTimePrimitive(t *testing.T) {
	session, env, dir := setup(t, Options{})

	before := float64(time.Now().Unix())
	result, err := run(t, session, dir, env, `return host.time()`)
	require.NoError(t, err)

	var got float64
	switch v := result.Value.(type) {
	case float64:
		got = v
	case int64:
		got = float64(v)
	default:
		t.Fatalf("unexpected time value %T", result.Value)
	}
	assert.GreaterOrEqual(t, got, before)
	assert.Less(t, got, before+60)
}

func TestSleepIsBounded(t *testing.T) {
	session, env, dir := setup(t, Options{MaxSleep: 10 * time.Millisecond})

	start := time.Now()
	_, err := run(t, session, dir, env, `host.sleep_ms(60000)`)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	_, err = run(t, session, dir, env, `host.sleep_ms(-1)`)
	assert.Error(t, err)
}

func TestSleepStopsWithRun(t *testing.T) {
	session, env, dir := setup(t, Options{MaxSleep: time.Minute})
	script := filepath.Join(dir, "probe.lua")
	require.NoError(t, os.WriteFile(script, []byte(`host.sleep_ms(60000) return "woke"`), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, err := session.Run(ctx, script, env)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, sandbox.KindResource, sandbox.KindOf(err))
	assert.Nil(t, result.Value)
}

func TestIDPrimitive(t *testing.T) {
	session, env, dir := setup(t, Options{})

	result, err := run(t, session, dir, env, `return { host.id(), host.id("exp") }`)
	require.NoError(t, err)

	ids, ok := result.Value.([]interface{})
	require.True(t, ok)
	require.Len(t, ids, 2)
	assert.Len(t, ids[0], 26)
	assert.True(t, strings.HasPrefix(ids[1].(string), "exp_"))
	assert.NotEqual(t, ids[0], ids[1])
}

func TestRegistrationSurvivesReset(t *testing.T) {
	session, env, dir := setup(t, Options{})
	require.NoError(t, session.Reset())

	result, err := run(t, session, dir, env, `return type(host.id)`)
	require.NoError(t, err)
	assert.Equal(t, "function", result.Value)
}

func TestRegistrarForPool(t *testing.T) {
	config := sandbox.DefaultConfig()
	config.RootPath = t.TempDir()
	config.ExposeBuiltins = true

	pool, err := sandbox.NewPool(config, sandbox.PoolConfig{Size: 1, Registrar: Registrar(Options{})})
	require.NoError(t, err)
	defer pool.Close()

	script := filepath.Join(t.TempDir(), "probe.lua")
	require.NoError(t, os.WriteFile(script, []byte("return type(censorscope.time)"), 0o644))

	result, err := pool.Execute(context.Background(), script, "")
	require.NoError(t, err)
	assert.Equal(t, "function", result.Value)
}
