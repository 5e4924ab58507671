package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths are the default file locations of linksync.
type Paths struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// DefaultPaths resolves the default locations. The first match wins:
//   - config file: LINKSYNC_CONFIG_PATH, $XDG_CONFIG_HOME/linksync.toml, ~/.config/linksync.toml
//   - data dir: LINKSYNC_HOME, $XDG_DATA_HOME/linksync, ~/.local/share/linksync
func DefaultPaths() (Paths, error) {
	configPath, err := resolve("LINKSYNC_CONFIG_PATH", "XDG_CONFIG_HOME", "linksync.toml", ".config")
	if err != nil {
		return Paths{}, err
	}
	baseDir, err := resolve("LINKSYNC_HOME", "XDG_DATA_HOME", "linksync", ".local", "share")
	if err != nil {
		return Paths{}, err
	}

	return Paths{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

// resolve returns the value of override, else name under the xdg directory,
// else name under the home-relative fallback.
func resolve(override, xdg, name string, fallback ...string) (string, error) {
	if path := os.Getenv(override); path != "" {
		return path, nil
	}
	if dir := os.Getenv(xdg); dir != "" {
		return filepath.Join(dir, name), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	parts := append([]string{homeDir}, fallback...)
	return filepath.Join(append(parts, name)...), nil
}
