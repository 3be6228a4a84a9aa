// Package appconfig resolves the gateway's environment-variable
// configuration once, in main, into a plain value threaded through the
// rest of the program — no package-level singleton (SPEC_FULL.md §2,
// §9 Design Notes: "singletons become explicit dependency-injected values").
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config is the resolved set of environment-derived settings.
type Config struct {
	// ConfigDir is the directory containing mcp.json, presets.json, and the
	// sessions/ subdirectory.
	ConfigDir string
	// CatalogPath is the resolved path to the catalog file.
	CatalogPath string
	// LogLevel is the raw ONE_MCP_LOG_LEVEL value (validated by pkg/log).
	LogLevel string
}

// Load resolves Config from the process environment (spec §6: ONE_MCP_CONFIG,
// ONE_MCP_CONFIG_DIR, ONE_MCP_LOG_LEVEL, HOME/USERPROFILE).
//
// Failure to resolve a home directory when ONE_MCP_CONFIG_DIR is unset is a
// fatal startup condition per spec §7.
func Load(env func(string) string) (*Config, error) {
	configDir := env("ONE_MCP_CONFIG_DIR")
	if configDir == "" {
		home := env("HOME")
		if home == "" {
			home = env("USERPROFILE")
		}
		if home == "" {
			return nil, fmt.Errorf("appconfig: cannot resolve a home directory (set ONE_MCP_CONFIG_DIR, HOME, or USERPROFILE)")
		}
		configDir = filepath.Join(home, ".1mcp")
	}

	catalogPath := env("ONE_MCP_CONFIG")
	if catalogPath == "" {
		catalogPath = filepath.Join(configDir, "mcp.json")
	}

	return &Config{
		ConfigDir:   configDir,
		CatalogPath: catalogPath,
		LogLevel:    env("ONE_MCP_LOG_LEVEL"),
	}, nil
}

// LoadFromOS is a convenience wrapper around Load using os.Getenv.
func LoadFromOS() (*Config, error) {
	return Load(os.Getenv)
}

// SessionsDir is the directory holding OAuth-store record files.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.ConfigDir, "sessions")
}

// PresetsPath is the path to the named-filter-preset document.
func (c *Config) PresetsPath() string {
	return filepath.Join(c.ConfigDir, "presets.json")
}
