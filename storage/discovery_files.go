package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"rental-ingest/models"
)

// DiscoveryFiles keeps one DiscoveryConfig per source as <dir>/<source>.json.
type DiscoveryFiles struct {
	dir string
}

func NewDiscoveryFiles(dir string) *DiscoveryFiles {
	return &DiscoveryFiles{dir: dir}
}

// Path returns the file that holds the source's discovery result.
func (d *DiscoveryFiles) Path(source string) string {
	return filepath.Join(d.dir, fileSafe(source)+".json")
}

// Load returns the saved config for source, or nil when none was saved yet.
func (d *DiscoveryFiles) Load(source string) (*models.DiscoveryConfig, error) {
	data, err := os.ReadFile(d.Path(source))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("discovery: read %s: %w", source, err)
	}

	var cfg models.DiscoveryConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("discovery: decode %s: %w", source, err)
	}
	return &cfg, nil
}

// Save replaces the stored config. The file is written to a temporary name
// and renamed so readers never see a partial document.
func (d *DiscoveryFiles) Save(cfg *models.DiscoveryConfig) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("discovery: create dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("discovery: encode %s: %w", cfg.Source, err)
	}

	tmp, err := os.CreateTemp(d.dir, ".discovery-*")
	if err != nil {
		return fmt.Errorf("discovery: create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("discovery: write %s: %w", cfg.Source, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("discovery: write %s: %w", cfg.Source, err)
	}
	if err := os.Rename(tmp.Name(), d.Path(cfg.Source)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("discovery: save %s: %w", cfg.Source, err)
	}
	return nil
}

// fileSafe maps a source name onto [A-Za-z0-9._-].
func fileSafe(name string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	if safe == "" || strings.Trim(safe, ".") == "" {
		return "_"
	}
	return safe
}
