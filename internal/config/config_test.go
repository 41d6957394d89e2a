package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mocap_config.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
# capture rig
SSID=RigNet
PASSWORD=supersecret
NODE_IP=10.0.0.2
CONTROL_PORT=6006
LOG_LEVEL=0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "RigNet", cfg.SSID)
	require.Equal(t, "10.0.0.2", cfg.NodeIP)
	require.Equal(t, 6006, cfg.ControlPort)
	require.Equal(t, 0, cfg.LogLevel)

	// untouched keys keep their defaults
	require.Equal(t, 5005, cfg.StreamPort)
	require.Equal(t, 30, cfg.WatchdogTimeoutS)
}

func TestLoadRejectsMalformedLine(t *testing.T) {
	path := writeConfig(t, "SSID=RigNet\nJUNK\n")
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid config line 2")
}

func TestLoadValidates(t *testing.T) {
	path := writeConfig(t, "PASSWORD=short\n")
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "PASSWORD")
}

func TestDefaultsAreRunnable(t *testing.T) {
	InitDefaults()
	cfg := Get()
	require.NotNil(t, cfg)
	require.NoError(t, cfg.validate())
	require.Equal(t, 5006, cfg.ControlPort)
	require.Equal(t, 30, cfg.WatchdogTimeoutS)
}
