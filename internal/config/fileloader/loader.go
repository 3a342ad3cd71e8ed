// Package fileloader loads worker configuration from a yaml file on disk.
package fileloader

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/streetlens/batchtrack/internal/config"
)

// FileLoader loads configuration from a file on disk. It implements the
// config.Loader interface.
type FileLoader struct {
	// path is the filesystem path to the configuration file.
	path string
}

// NewFileLoader creates a FileLoader for the given file path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Load reads and parses the configuration file. Unknown yaml keys are
// rejected so a typo in a field name fails at startup instead of silently
// falling back to a default.
func (l *FileLoader) Load(ctx context.Context) (*config.Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg config.Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", l.path, err)
	}

	return &cfg, nil
}
