package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// TransportKind selects how the backend is reached.
type TransportKind string

const (
	// TransportLocal spawns the imsg binary and speaks over its
	// standard streams.
	TransportLocal TransportKind = "local"
	// TransportTCP connects to an already-running backend socket.
	TransportTCP TransportKind = "tcp"
)

// LogConfig defines basic logging knobs.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// Config aggregates client configuration. Values come from the config
// file and are overridden by command-line flags.
type Config struct {
	Transport TransportKind `toml:"transport"`
	ImsgBin   string        `toml:"imsg_bin"`
	DBPath    string        `toml:"db_path"`
	Host      string        `toml:"host"`
	Port      int           `toml:"port"`
	Notify    bool          `toml:"notify"`
	Log       LogConfig     `toml:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Transport: TransportLocal,
		ImsgBin:   "imsg",
		Host:      "127.0.0.1",
		Port:      57999,
		Notify:    true,
		Log: LogConfig{
			Level: "info",
			File:  DefaultLogPath(),
		},
	}
}

// DefaultPath returns the standard location of config.toml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "imsgtui", "config.toml")
}

// DefaultLogPath returns the standard location of the log file.
func DefaultLogPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "imsgtui", "imsgtui.log")
}

// Load reads a TOML config file over the defaults. A missing file is
// not an error; the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the combination of fields for the chosen transport.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportLocal:
		if c.ImsgBin == "" {
			return errors.New("imsg_bin required for local transport")
		}
	case TransportTCP:
		if c.Host == "" {
			return errors.New("host required for tcp transport")
		}
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("port %d out of range", c.Port)
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	return nil
}
