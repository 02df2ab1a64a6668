// Package cookiefile reads and writes session files. A session file holds the
// cookies of an authenticated Mail.ru Cloud session, grouped by the URL they
// were collected for, so a later run can skip the credential login.
package cookiefile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FilePerms restricts session files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the session file's parent directory.
const DirPerms = 0o700

// Cookie is a single name/value pair. Attributes are not kept: a cookie jar
// only exposes name and value when cookies are read back for a URL.
type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// File is the on-disk format. Sites maps a URL (scheme + host + path) to the
// cookies the jar would send to it.
type File struct {
	Login   string              `json:"login,omitempty"`
	SavedAt time.Time           `json:"saved_at"`
	Sites   map[string][]Cookie `json:"sites"`
}

// Load reads a session file. Returns (nil, nil) if the file does not exist.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("cookiefile: reading %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("cookiefile: decoding %s: %w", path, err)
	}

	if f.Sites == nil {
		return nil, fmt.Errorf("cookiefile: %s has no sites (not a session file?)", path)
	}

	return &f, nil
}

// Save writes a session file atomically (write-to-temp + rename) with 0600
// permissions. Never logs cookie values.
func Save(path string, f *File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("cookiefile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("cookiefile: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".cookies-*.tmp")
	if err != nil {
		return fmt.Errorf("cookiefile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("cookiefile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cookiefile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("cookiefile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cookiefile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("cookiefile: renaming: %w", err)
	}

	success = true

	return nil
}

// Len returns the total number of cookies across all sites.
func (f *File) Len() int {
	n := 0
	for _, cs := range f.Sites {
		n += len(cs)
	}

	return n
}
