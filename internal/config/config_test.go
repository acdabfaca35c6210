package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("WRISTLINK_HOME_DIR", home)
	t.Setenv("WRISTLINK_SERVER", "")
	t.Setenv("WRISTLINK_DEVICE_ID", "")
	t.Setenv("WRISTLINK_ACCESS_KEY", "")
	t.Setenv("WRISTLINK_RECONNECT_DELAY", "")
	t.Setenv("WRISTLINK_DEBUG", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "localhost:5567", cfg.ServerAddress)
	require.Equal(t, "phone-bridge", cfg.DeviceID)
	require.Equal(t, 5*time.Second, cfg.ReconnectDelay)
	require.Equal(t, 30*time.Second, cfg.RequestTimeout)
	require.Equal(t, 60*time.Second, cfg.BinaryTimeout)
	require.False(t, cfg.Debug)
	require.Equal(t, home, cfg.Home)
}

func TestLoadFromYAMLFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("WRISTLINK_HOME_DIR", home)
	t.Setenv("WRISTLINK_SERVER", "")
	t.Setenv("WRISTLINK_DEVICE_ID", "")
	t.Setenv("WRISTLINK_RECONNECT_DELAY", "")

	raw := []byte("server_address: 192.168.1.20:5567\ndevice_id: kitchen-phone\nreconnect_delay: 2s\ndebug: true\n")
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), raw, 0600))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "192.168.1.20:5567", cfg.ServerAddress)
	require.Equal(t, "kitchen-phone", cfg.DeviceID)
	require.Equal(t, 2*time.Second, cfg.ReconnectDelay)
	require.True(t, cfg.Debug)
}

func TestEnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("WRISTLINK_HOME_DIR", home)

	raw := []byte("server_address: from-file:5567\ndevice_id: file-device\n")
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), raw, 0600))

	t.Setenv("WRISTLINK_SERVER", "from-env:5567")
	t.Setenv("WRISTLINK_DEVICE_ID", "env-device")
	t.Setenv("WRISTLINK_ACCESS_KEY", "secret")
	t.Setenv("WRISTLINK_RECONNECT_DELAY", "250ms")
	t.Setenv("WRISTLINK_DEBUG", "1")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "from-env:5567", cfg.ServerAddress)
	require.Equal(t, "env-device", cfg.DeviceID)
	require.Equal(t, "secret", cfg.AccessKey)
	require.Equal(t, 250*time.Millisecond, cfg.ReconnectDelay)
	require.True(t, cfg.Debug)
}

func TestInvalidValuesRejected(t *testing.T) {
	home := t.TempDir()
	t.Setenv("WRISTLINK_HOME_DIR", home)

	t.Setenv("WRISTLINK_RECONNECT_DELAY", "soon")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("WRISTLINK_RECONNECT_DELAY", "")
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte("{not yaml"), 0600))
	_, err = Load()
	require.Error(t, err)
}

func TestDerivedURLs(t *testing.T) {
	cfg := &Config{ServerAddress: "192.168.1.20:5567", DeviceID: "watch 1"}
	require.Equal(t, "ws://192.168.1.20:5567/ws?device=watch&id=watch+1", cfg.WebSocketURL())
	require.Equal(t, "http://192.168.1.20:5566", cfg.HTTPBaseURL())

	// A non-default port is left alone.
	cfg = &Config{ServerAddress: "example.com:9000"}
	require.Equal(t, "http://example.com:9000", cfg.HTTPBaseURL())
}
