package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPaths(t *testing.T) {
	t.Run("explicit overrides win", func(t *testing.T) {
		t.Setenv("LINKSYNC_CONFIG_PATH", "/etc/linksync/site.toml")
		t.Setenv("LINKSYNC_HOME", "/srv/linksync")
		t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
		t.Setenv("XDG_DATA_HOME", "/xdg/data")

		paths, err := DefaultPaths()
		if err != nil {
			t.Fatalf("DefaultPaths() error = %v", err)
		}

		want := Paths{ConfigPath: "/etc/linksync/site.toml", BaseDir: "/srv/linksync", LogDir: "/srv/linksync/log"}
		if paths != want {
			t.Errorf("DefaultPaths() = %+v, want %+v", paths, want)
		}
	})

	t.Run("xdg directories", func(t *testing.T) {
		t.Setenv("LINKSYNC_CONFIG_PATH", "")
		t.Setenv("LINKSYNC_HOME", "")
		t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
		t.Setenv("XDG_DATA_HOME", "/xdg/data")

		paths, err := DefaultPaths()
		if err != nil {
			t.Fatalf("DefaultPaths() error = %v", err)
		}

		want := Paths{ConfigPath: "/xdg/config/linksync.toml", BaseDir: "/xdg/data/linksync", LogDir: "/xdg/data/linksync/log"}
		if paths != want {
			t.Errorf("DefaultPaths() = %+v, want %+v", paths, want)
		}
	})

	t.Run("falls back to home dir", func(t *testing.T) {
		t.Setenv("LINKSYNC_CONFIG_PATH", "")
		t.Setenv("LINKSYNC_HOME", "")
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("XDG_DATA_HOME", "")

		paths, err := DefaultPaths()
		if err != nil {
			t.Fatalf("DefaultPaths() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()
		wantBase := filepath.Join(homeDir, ".local", "share", "linksync")
		want := Paths{
			ConfigPath: filepath.Join(homeDir, ".config", "linksync.toml"),
			BaseDir:    wantBase,
			LogDir:     filepath.Join(wantBase, "log"),
		}
		if paths != want {
			t.Errorf("DefaultPaths() = %+v, want %+v", paths, want)
		}
	})
}
