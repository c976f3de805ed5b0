package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/dkeye/Beam/internal/config"
	"github.com/dkeye/Beam/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CONFIG_ENV", "missing")
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestFlagsOverrideConfig(t *testing.T) {
	out, err := run(t, "--registry", "http://registry.example", "--log-level", "warn", "config")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, "http://registry.example", cfg.Registry.URL)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 3, cfg.Discovery.Attempts)
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("BEAM_DISCOVERY_ATTEMPTS", "5")
	out, err := run(t, "config")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, 5, cfg.Discovery.Attempts)
}

func TestJoinRejectsBadRoomCode(t *testing.T) {
	_, err := run(t, "join", "AB-12!")
	assert.ErrorIs(t, err, domain.ErrRoomCodeInvalid)
}

func TestJoinNeedsRoomCode(t *testing.T) {
	_, err := run(t, "join")
	assert.Error(t, err)
}

func TestForceRelayWithoutTURNFails(t *testing.T) {
	_, err := run(t, "--relay-only", "config")
	assert.ErrorContains(t, err, "force_relay")
}

func TestRoomFor(t *testing.T) {
	code, err := roomFor("")
	require.NoError(t, err)
	assert.Len(t, string(code), domain.RoomCodeLen)

	code, err = roomFor("AB12CD")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomCode("ab12cd"), code)
}

func TestVersionFlag(t *testing.T) {
	out, err := run(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "dev")
}
