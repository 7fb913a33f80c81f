package pages

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hublinks/hublinks/pkg/models"
)

// Manifest is the on-disk page list accepted by Import.
type Manifest struct {
	Pages []models.Page `json:"pages" yaml:"pages"`
}

// ReadManifest parses a YAML or JSON manifest, chosen by file extension.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &m)
	default:
		err = yaml.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// Import upserts every page in the manifest at path and returns the count.
func (s *Store) Import(ctx context.Context, path string) (int, error) {
	m, err := ReadManifest(path)
	if err != nil {
		return 0, err
	}
	if err := s.Upsert(ctx, m.Pages...); err != nil {
		return 0, err
	}
	return len(m.Pages), nil
}
