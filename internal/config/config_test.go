package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3001, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Discovery.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Discovery.Backoff)
	assert.Equal(t, 10*time.Second, cfg.Discovery.DialTimeout)
	assert.Equal(t, "http://localhost:3001", cfg.Discovery.DefaultURL)
	assert.Equal(t, "https", cfg.Registry.Scheme)
	assert.Equal(t, 30*time.Second, cfg.Server.RoomIdleTTL)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.WebRTC.STUNServers)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := "server:\n  port: 4100\nregistry:\n  scheme: http\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(yaml), 0o644))

	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("BEAM_DISCOVERY_TUNNEL_URL", "https://abc.loca.lt")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4100, cfg.Server.Port)
	assert.Equal(t, "http", cfg.Registry.Scheme)
	assert.Equal(t, "https://abc.loca.lt", cfg.Discovery.TunnelURL)
}

func TestValidate(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CONFIG_ENV", "missing")

	v := New()
	v.Set("discovery.attempts", 0)
	v.Set("registry.scheme", "ftp")
	v.Set("webrtc.force_relay", true)

	_, err := LoadFrom(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discovery.attempts")
	assert.Contains(t, err.Error(), "registry.scheme")
	assert.Contains(t, err.Error(), "force_relay")
}
