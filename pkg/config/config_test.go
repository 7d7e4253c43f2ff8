package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "wifi-interface: wlan0\nethernet-interface: eth0\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "wlan0", cfg.WifiInterface)
	require.Equal(t, []string{"127.0.0.1:53"}, cfg.DNSBind)
	require.Equal(t, "0.0.0.0:5959", cfg.BindRPC)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, "wifi-interface: wlan0\nethernet-interface: eth0\ndns-bind:\n  - 0.0.0.0:53\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"0.0.0.0:53"}, cfg.DNSBind)
}

func TestLoadRequiresEthernetInterface(t *testing.T) {
	path := writeConfig(t, "wifi-interface: wlan0\n")
	_, err := Load(path)
	require.Error(t, err)
}
