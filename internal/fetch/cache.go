package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"time"

	"cfpradar/internal/store"
)

// cacheEntry holds HTTP validators for a single source URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// diskCache stores the last good body per URL so that 304 responses can
// be served. It is never used to paper over a failed fetch.
type diskCache struct {
	dir string
}

func (c *diskCache) pathFor(url string) (string, error) {
	if url == "" {
		return "", errors.New("empty url")
	}
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:8])), nil
}

// load returns the stored validators and body. Missing or unreadable
// entries come back empty.
func (c *diskCache) load(url string) (cacheEntry, []byte) {
	p, err := c.pathFor(url)
	if err != nil {
		return cacheEntry{}, nil
	}
	var meta cacheEntry
	if err := store.ReadJSON(filepath.Join(p, "meta.json"), &meta); err != nil || meta.URL != url {
		return cacheEntry{}, nil
	}
	body, err := os.ReadFile(filepath.Join(p, "body"))
	if err != nil {
		return cacheEntry{}, nil
	}
	return meta, body
}

func (c *diskCache) save(meta cacheEntry, body []byte) error {
	p, err := c.pathFor(meta.URL)
	if err != nil {
		return err
	}
	// Body first so meta never points at a missing body.
	if err := store.WriteFile(filepath.Join(p, "body"), body, 0o600); err != nil {
		return err
	}
	data, err := store.Marshal(meta)
	if err != nil {
		return err
	}
	return store.WriteFile(filepath.Join(p, "meta.json"), data, 0o600)
}
