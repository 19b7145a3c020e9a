package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
transport = "tcp"
host = "10.0.0.5"
port = 4242
notify = false

[log]
level = "debug"
file = "/tmp/imsgtui-test.log"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, TransportTCP, cfg.Transport)
	assert.Equal(t, "10.0.0.5", cfg.Host)
	assert.Equal(t, 4242, cfg.Port)
	assert.False(t, cfg.Notify)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched keys keep their defaults.
	assert.Equal(t, "imsg", cfg.ImsgBin)
}

func TestLoadRejectsInvalidToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("transport = [broken"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults ok", func(c *Config) {}, ""},
		{"tcp ok", func(c *Config) { c.Transport = TransportTCP }, ""},
		{"missing binary", func(c *Config) { c.ImsgBin = "" }, "imsg_bin required"},
		{"missing host", func(c *Config) { c.Transport = TransportTCP; c.Host = "" }, "host required"},
		{"bad port", func(c *Config) { c.Transport = TransportTCP; c.Port = 99999 }, "out of range"},
		{"unknown transport", func(c *Config) { c.Transport = "carrier-pigeon" }, "unknown transport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}
