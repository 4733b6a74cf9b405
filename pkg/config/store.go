// Package config reads the small key-value configuration file that step
// predicates evaluate against.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Store reads flow configuration from a YAML file in the project directory.
type Store struct {
	path string
}

// NewStore returns a store over projectDir/file.
func NewStore(projectDir, file string) *Store {
	return &Store{path: filepath.Join(projectDir, file)}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Snapshot re-reads the file and returns its current key-value map. Every
// predicate evaluation calls Snapshot so edits made while the run is paused
// between steps take effect on the next step. A missing file is an empty
// map, not an error.
func (s *Store) Snapshot() (map[string]interface{}, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	vars := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &vars); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", s.path, err)
	}
	return vars, nil
}
