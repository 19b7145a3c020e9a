// Package attachments caches fetched attachment payloads on disk so a
// message's attachment is downloaded from the backend at most once.
package attachments

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Cache writes attachment payloads under one directory, one
// subdirectory per message guid.
type Cache struct {
	dir string
}

// DefaultDir returns the standard cache location.
func DefaultDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "imsgtui", "attachments"), nil
}

// New creates the cache directory if needed.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create attachment cache: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Store writes data for guid and returns the file path.
func (c *Cache) Store(guid, filename string, data []byte) (string, error) {
	sub := filepath.Join(c.dir, sanitize(guid))
	if err := os.MkdirAll(sub, 0o755); err != nil {
		return "", err
	}
	if filename == "" {
		filename = "attachment"
	}
	path := filepath.Join(sub, sanitize(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Lookup reports whether an attachment for guid is already cached and
// returns its path.
func (c *Cache) Lookup(guid string) (string, bool) {
	sub := filepath.Join(c.dir, sanitize(guid))
	entries, err := os.ReadDir(sub)
	if err != nil || len(entries) == 0 {
		return "", false
	}
	return filepath.Join(sub, entries[0].Name()), true
}

// sanitize keeps names safe as single path elements.
func sanitize(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}
