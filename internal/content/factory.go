// Package content opens the site's content repository.
package content

import (
	"fmt"
	"io"

	"linksync/internal/config"
	"linksync/internal/linksync"
	"linksync/internal/wordpress"
)

// Repository is a content repository that holds resources.
type Repository interface {
	linksync.ContentRepository
	io.Closer
}

// NewRepositoryFromConfig opens the repository named by cfg.Content.Type.
func NewRepositoryFromConfig(cfg *config.Config) (Repository, error) {
	switch cfg.Content.Type {
	case "wordpress", "":
		if cfg.Content.DSN == "" {
			return nil, fmt.Errorf("dsn required for wordpress content")
		}
		repo, err := wordpress.Open(cfg.Content.DSN, cfg.Content.TablePrefix, cfg.SiteURL)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "yaml":
		if cfg.Content.ExportPath == "" {
			return nil, fmt.Errorf("export_path required for yaml content")
		}
		repo, err := OpenYAML(cfg.Content.ExportPath)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown content type: %q", cfg.Content.Type)
	}
}
