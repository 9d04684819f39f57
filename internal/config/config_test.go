package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  base_url: http://prisma:9000\n"), 0644))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://prisma:9000", c.Server.BaseURL)
	assert.Equal(t, "/ws", c.Server.SocketPath)
	assert.Equal(t, 100*time.Millisecond, c.Session.BackoffInitial())
	assert.Equal(t, 30*time.Second, c.Session.BackoffMax())
	assert.Equal(t, 2*time.Second, c.Notices.FlushInterval())
	assert.Equal(t, "info", c.Log.Level)
}

func TestLoad_KeepsExplicitValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
session:
  backoff_initial_ms: 50
  backoff_max_ms: 1000
notices:
  flush_interval_ms: 250
stub:
  users:
    - user_name: a
      password: b
      permissions: ["Fleet:READ", "Incident"]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 50*time.Millisecond, c.Session.BackoffInitial())
	assert.Equal(t, time.Second, c.Session.BackoffMax())
	assert.Equal(t, 250*time.Millisecond, c.Notices.FlushInterval())
	require.Len(t, c.Stub.Users, 1)
	assert.Equal(t, []string{"Fleet:READ", "Incident"}, c.Stub.Users[0].Permissions)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
