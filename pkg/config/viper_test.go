package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")

	v, err := Load(t.TempDir(), "does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, "9999", v.GetString("server.port"))
}

func TestLoadReadsYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chat.yaml"), []byte("server:\n  port: \"8100\"\n"), 0o600))

	v, err := Load(dir, "chat")
	require.NoError(t, err)
	assert.Equal(t, "8100", v.GetString("server.port"))
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 3*time.Second, Duration("3s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("soon", time.Minute))
}

func TestGetEnv(t *testing.T) {
	t.Setenv("CHATSYNC_TEST_KEY", "v")
	assert.Equal(t, "v", GetEnv("CHATSYNC_TEST_KEY", "d"))
	assert.Equal(t, "d", GetEnv("CHATSYNC_TEST_MISSING", "d"))
}
