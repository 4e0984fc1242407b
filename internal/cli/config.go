// Package cli implements tidesctl, the command line client of the console.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is read from ~/.config/tides/config.yaml.
type Config struct {
	Server      string `yaml:"server"`
	SessionFile string `yaml:"session_file"`
	// Output: "text" or "json"
	Output string `yaml:"output"`
}

// DefaultConfigPath returns the per-user config file location.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "tides", "config.yaml")
}

func defaultConfig(path string) Config {
	return Config{
		Server:      "http://localhost:8080",
		SessionFile: filepath.Join(filepath.Dir(path), "session.json"),
		Output:      "text",
	}
}

// LoadConfig reads path. A missing file yields the defaults; environment
// variables TIDES_SERVER and TIDES_OUT override the file.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig(path)

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Server = envOr("TIDES_SERVER", cfg.Server)
	cfg.Output = envOr("TIDES_OUT", cfg.Output)

	if cfg.Output != "text" && cfg.Output != "json" {
		return cfg, fmt.Errorf("unknown output format %q (text|json)", cfg.Output)
	}
	return cfg, nil
}

// Save writes cfg to path.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
