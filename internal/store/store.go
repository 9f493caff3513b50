// Package store reads and writes whole JSON artifacts.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
)

var ErrNotFound = errors.New("artifact not found")

// Artifact names under the data directory.
const (
	RawEventsFile        = "raw-events.json"
	NormalizedEventsFile = "normalized-events.json"
	EventsFile           = "events.json"
	InvalidEventsFile    = "invalid-events.json"
	RawDir               = "raw"
)

var api = sonic.ConfigStd

// ReadJSON decodes the artifact at path into v. A missing file yields an
// error wrapping ErrNotFound.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return err
	}
	if err := api.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Marshal encodes v with two-space indentation and a trailing newline.
func Marshal(v any) ([]byte, error) {
	data, err := api.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// WriteJSON encodes v and replaces path atomically.
func WriteJSON(path string, v any) error {
	data, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return WriteFile(path, data, 0o644)
}

// WriteFile writes data next to path in a temp file and renames it over
// path, creating parent directories as needed.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".cfpradar-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
