package storage

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/maruel/ksid"
	"github.com/maruel/linkreview/internal/records"
	"github.com/spf13/afero"
)

// FileStore persists the record collection as a single canonical JSON file.
//
// The canonical file is never written in place: a snapshot is written to a
// sibling temporary file, synced, then renamed over the canonical path, so a
// reader always sees either the previous or the new complete document.
type FileStore struct {
	fs   afero.Fs
	path string
}

// FlushResult describes a successful flush.
type FlushResult struct {
	// Size is the size in bytes of the canonical file after the flush.
	Size int64
}

// NewFileStore returns a FileStore for path on fs, creating the parent
// directory if needed.
func NewFileStore(fs afero.Fs, path string) (*FileStore, error) {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	return &FileStore{fs: fs, path: path}, nil
}

// Path returns the canonical file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the canonical file. A missing file is an empty collection.
func (s *FileStore) Load() (records.Collection, error) {
	f, err := s.fs.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return records.Collection{}, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	c, err := records.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", s.path, err)
	}
	return c, nil
}

// Flush writes c to a temporary file in the canonical file's directory, forces
// it to stable storage and atomically renames it over the canonical file.
//
// On failure the temporary file is removed and the canonical file is left
// untouched.
func (s *FileStore) Flush(c records.Collection) (*FlushResult, error) {
	dir := filepath.Dir(s.path)
	tmpPath := filepath.Join(dir, "."+filepath.Base(s.path)+"."+ksid.NewID().String()+".tmp")
	f, err := s.fs.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) //nolint:gosec // G302: data file is meant to be readable
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}
	renamed := false
	closed := false
	defer func() {
		if !closed {
			_ = f.Close()
		}
		if !renamed {
			_ = s.fs.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriter(f)
	if err := records.Encode(w, c); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync snapshot: %w", err)
	}
	closed = true
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close snapshot: %w", err)
	}
	fi, err := s.fs.Stat(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}
	if err := s.fs.Rename(tmpPath, s.path); err != nil {
		return nil, fmt.Errorf("failed to rename snapshot over %s: %w", s.path, err)
	}
	renamed = true
	s.syncDir(dir)
	return &FlushResult{Size: fi.Size()}, nil
}

// syncDir makes the rename durable on a best-effort basis.
func (s *FileStore) syncDir(dir string) {
	d, err := s.fs.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
