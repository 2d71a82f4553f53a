package config

import (
	"os"
	"path/filepath"
)

const appDir = "typegram"

// xdgDir returns the directory named by env, or home joined with rel when
// the variable is unset. Without a home directory it falls back to ".".
func xdgDir(env string, rel ...string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(append([]string{home}, rel...)...)
}

// XDGConfigHome returns $XDG_CONFIG_HOME or ~/.config.
func XDGConfigHome() string {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// XDGDataHome returns $XDG_DATA_HOME or ~/.local/share.
func XDGDataHome() string {
	return xdgDir("XDG_DATA_HOME", ".local", "share")
}

// DefaultDBPath is where the keystroke and n-gram database lives unless
// --db says otherwise.
func DefaultDBPath() string {
	return filepath.Join(XDGDataHome(), appDir, "typegram.db")
}

// DefaultConfigPath is the TOML file read for engine, rank and serve
// defaults.
func DefaultConfigPath() string {
	return filepath.Join(XDGConfigHome(), appDir, "config.toml")
}
