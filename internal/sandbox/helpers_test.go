package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeScript creates name under dir with body and returns its path.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// testConfig returns a config rooted in a fresh temporary directory.
func testConfig(t *testing.T) Config {
	t.Helper()
	config := DefaultConfig()
	config.RootPath = t.TempDir()
	config.SandboxDir = t.TempDir()
	return config
}

// newTestSession creates a session closed at test cleanup.
func newTestSession(t *testing.T, config Config, opts ...Option) *Session {
	t.Helper()
	session, err := New("test", config, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = session.Close()
	})
	return session
}
