// Package daemon holds the shared bootstrap configuration for the
// grimoire binaries. Runtime user settings live in settings.json and are
// editable through the API; this file covers what must be known before
// settings can be loaded.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the daemon-level configuration.
type Config struct {
	// ListenAddr is the viewer server bind address. Loopback only.
	ListenAddr string `yaml:"listen_addr"`
	// ProjectFolder is the default knowledge base folder, used until the
	// user picks one in settings.
	ProjectFolder string `yaml:"project_folder"`
	// SettingsPath is the settings.json location.
	SettingsPath string `yaml:"settings_path"`
	// LogDB is the sqlite file for the API call log.
	LogDB string `yaml:"log_db"`
	// HostLog is the log file for the native messaging host, whose
	// stdout belongs to the protocol.
	HostLog string `yaml:"host_log"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
}

func (c *Config) defaults() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".grimoire")

	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:8765"
	}
	if c.ProjectFolder == "" {
		c.ProjectFolder = filepath.Join(home, "grimoire")
	}
	if c.SettingsPath == "" {
		c.SettingsPath = filepath.Join(base, "settings.json")
	}
	if c.LogDB == "" {
		c.LogDB = filepath.Join(base, "apilog.db")
	}
	if c.HostLog == "" {
		c.HostLog = filepath.Join(base, "host.log")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// LoadConfigFile reads a YAML config file and fills defaults. A missing
// file yields the pure defaults; an empty path skips reading entirely.
func LoadConfigFile(path string) (*Config, error) {
	var c Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Defaults only.
		case err != nil:
			return nil, fmt.Errorf("daemon: read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &c); err != nil {
				return nil, fmt.Errorf("daemon: parse config: %w", err)
			}
		}
	}
	c.defaults()
	return &c, nil
}
