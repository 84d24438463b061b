// Package manifest reads batch descriptions from YAML or JSON files.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/italolelis/s3_batcher/internal/transfer"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingBucket = errors.New("manifest has no bucket")
	ErrEmpty         = errors.New("manifest lists no transfers")
	ErrNoBaseDir     = errors.New("manifest lists keys without base_directory")
)

// Manifest describes one or more batches against a single bucket. JSON is
// accepted as well since it is a subset of YAML.
type Manifest struct {
	Bucket        string                  `yaml:"bucket"`
	BaseDirectory string                  `yaml:"base_directory"`
	Keys          []string                `yaml:"keys"`
	Downloads     []transfer.DownloadPair `yaml:"downloads"`
	Uploads       []transfer.UploadPair   `yaml:"uploads"`
}

func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.Bucket) == "" {
		return ErrMissingBucket
	}

	if len(m.Keys)+len(m.Downloads)+len(m.Uploads) == 0 {
		return ErrEmpty
	}

	if len(m.Keys) > 0 && strings.TrimSpace(m.BaseDirectory) == "" {
		return ErrNoBaseDir
	}

	return nil
}
