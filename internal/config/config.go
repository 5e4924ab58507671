package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Defaults for a fresh configuration.
const (
	DefaultRootURL       = "https://api.linkboss.io"
	DefaultClientVersion = "2.7.6"
	DefaultTimeout       = 30
	DefaultSyncSpeed     = 10
	DefaultByteBudgetKB  = 512
	DefaultTablePrefix   = "wp_"
)

// Config represents the main configuration for linksync.
type Config struct {
	SiteURL     string            `toml:"site_url"`
	BaseDir     string            `toml:"base_dir"`
	LogDir      string            `toml:"log_dir"`
	Remote      RemoteConfig      `toml:"remote"`
	Database    DatabaseConfig    `toml:"database"`
	Credentials CredentialsConfig `toml:"credentials"`
	Content     ContentConfig     `toml:"content"`
	Sync        SyncConfig        `toml:"sync"`
	Source      SourceConfig      `toml:"source"`
	Features    FeaturesConfig    `toml:"features"`
	Schedule    ScheduleConfig    `toml:"schedule"`

	// APIKey is only ever taken from the environment. It is never written to
	// the config file.
	APIKey string `toml:"-"`
}

// RemoteConfig points at the remote linking service.
type RemoteConfig struct {
	RootURL       string `toml:"root_url"`
	ClientVersion string `toml:"client_version"`
	Timeout       int    `toml:"timeout"` // seconds
}

// DatabaseConfig represents configuration for the queue database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// CredentialsConfig selects where the API key and access token are kept.
type CredentialsConfig struct {
	Type         string `toml:"type"` // "age" (default) or "memory"
	IdentityPath string `toml:"identity_path,omitempty"`
	StorePath    string `toml:"store_path,omitempty"`
}

// ContentConfig selects the content repository.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ContentConfig struct {
	Type        string `toml:"type"`                   // "wordpress" or "yaml"
	DSN         string `toml:"dsn,omitempty"`          // only used for type=wordpress
	TablePrefix string `toml:"table_prefix,omitempty"` // only used for type=wordpress
	ExportPath  string `toml:"export_path,omitempty"`  // only used for type=yaml
}

// SyncConfig seeds the persisted batch budget.
type SyncConfig struct {
	Mode         string `toml:"mode"` // "count" or "bytes"
	Speed        int    `toml:"speed"`
	ByteBudgetKB int    `toml:"byte_budget_kb"`
}

// SourceConfig seeds the persisted content-source filter.
type SourceConfig struct {
	PostSources []string `toml:"post_sources"`
	Categories  []int64  `toml:"categories,omitempty"`
	SyncBy      string   `toml:"sync_by,omitempty"`
	URLList     string   `toml:"url_list,omitempty"`
}

// FeaturesConfig holds site-level feature switches.
type FeaturesConfig struct {
	OverlayEnabled    bool     `toml:"overlay_enabled"`
	CommerceEnabled   bool     `toml:"commerce_enabled"`
	OverlayFieldTypes []string `toml:"overlay_field_types"`
	Builders          []string `toml:"builders,omitempty"` // detector order override
}

// ScheduleConfig holds the cron specs of the background passes.
type ScheduleConfig struct {
	Discovery    string `toml:"discovery"`
	Sync         string `toml:"sync"`
	WriteBack    string `toml:"write_back"`
	TokenRefresh string `toml:"token_refresh"`
	Timezone     string `toml:"timezone"`
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(siteURL, baseDir string) *Config {
	return &Config{
		SiteURL: siteURL,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Remote: RemoteConfig{
			RootURL:       DefaultRootURL,
			ClientVersion: DefaultClientVersion,
			Timeout:       DefaultTimeout,
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Credentials: CredentialsConfig{
			Type:         "age",
			IdentityPath: filepath.Join(baseDir, "keys", "linksync.key"),
			StorePath:    filepath.Join(baseDir, "keys", "credentials.age"),
		},
		Content: ContentConfig{
			Type:        "wordpress",
			TablePrefix: DefaultTablePrefix,
		},
		Sync: SyncConfig{
			Mode:         "count",
			Speed:        DefaultSyncSpeed,
			ByteBudgetKB: DefaultByteBudgetKB,
		},
		Source: SourceConfig{
			PostSources: []string{"post", "page"},
		},
		Features: FeaturesConfig{
			OverlayFieldTypes: []string{"wysiwyg"},
		},
		Schedule: ScheduleConfig{
			Discovery:    "0 */2 * * *",
			Sync:         "30 */4 * * *",
			WriteBack:    "*/2 * * * *",
			TokenRefresh: "@every 4080h",
			Timezone:     "UTC",
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

// envOverrides are the settings that may be supplied through the environment.
type envOverrides struct {
	APIKey    string `env:"LINKSYNC_API_KEY"`
	SiteURL   string `env:"LINKSYNC_SITE_URL"`
	APIRoot   string `env:"LINKSYNC_API_ROOT"`
	WPDSN     string `env:"LINKSYNC_WP_DSN"`
	SyncSpeed int    `env:"LINKSYNC_SYNC_SPEED"`
}

// ApplyEnv overlays environment variables on cfg. Unset variables leave the
// file values in place.
func ApplyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	o.apply(cfg)
	return nil
}

func (o envOverrides) apply(cfg *Config) {
	if o.APIKey != "" {
		cfg.APIKey = o.APIKey
	}
	if o.SiteURL != "" {
		cfg.SiteURL = o.SiteURL
	}
	if o.APIRoot != "" {
		cfg.Remote.RootURL = o.APIRoot
	}
	if o.WPDSN != "" {
		cfg.Content.DSN = o.WPDSN
	}
	if o.SyncSpeed > 0 {
		cfg.Sync.Speed = o.SyncSpeed
	}
}

// Validate checks the tagged unions and budget settings.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown database type: %q", c.Database.Type)
	}
	switch c.Credentials.Type {
	case "age", "", "memory":
	default:
		return fmt.Errorf("unknown credentials type: %q", c.Credentials.Type)
	}
	switch c.Content.Type {
	case "wordpress":
		if c.Content.DSN == "" {
			return fmt.Errorf("content.dsn required for wordpress content")
		}
	case "yaml":
		if c.Content.ExportPath == "" {
			return fmt.Errorf("content.export_path required for yaml content")
		}
	default:
		return fmt.Errorf("unknown content type: %q", c.Content.Type)
	}
	switch c.Sync.Mode {
	case "count", "bytes":
	default:
		return fmt.Errorf("unknown sync mode: %q", c.Sync.Mode)
	}
	if c.Source.SyncBy != "" && c.Source.SyncBy != "urls" {
		return fmt.Errorf("unknown sync_by: %q", c.Source.SyncBy)
	}
	return nil
}
