// Package store keeps downloaded media in a flat directory.
// Files are written to a hidden temp file and renamed into place on commit,
// so a reader never observes a partial download.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"clipdrop/internal/httputil"
	"clipdrop/internal/media"
)

const tempPattern = ".clipdrop-*.part"

// ErrNotFound is returned by Open when the name does not refer to a stored file.
var ErrNotFound = errors.New("file not found")

// Store is a directory of downloaded files addressed by bare filename.
type Store struct {
	root string
}

// New returns a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving store directory: %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the absolute store directory.
func (s *Store) Root() string {
	return s.root
}

// Path returns the absolute path for name after validating it.
func (s *Store) Path(name string) (string, error) {
	return httputil.SafePath(s.root, name)
}

// Create starts writing a new file called name. Nothing is visible under
// name until Commit succeeds.
func (s *Store) Create(name string) (*Pending, error) {
	finalPath, err := s.Path(name)
	if err != nil {
		return nil, fmt.Errorf("invalid filename: %w", err)
	}

	f, err := os.CreateTemp(s.root, tempPattern)
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}

	return &Pending{file: f, finalPath: finalPath}, nil
}

// Open returns the stored file called name. Names that fail validation are
// reported as not found.
func (s *Store) Open(name string) (*os.File, os.FileInfo, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, nil, media.Wrap(media.NotFound, "file not found", fmt.Errorf("%w: %v", ErrNotFound, err))
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, media.Wrap(media.NotFound, "file not found", ErrNotFound)
		}
		return nil, nil, fmt.Errorf("opening %s: %w", name, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, media.Wrap(media.NotFound, "file not found", ErrNotFound)
	}

	return f, info, nil
}

// Pending is a file being written into the store.
type Pending struct {
	file      *os.File
	finalPath string
	done      bool
}

// Write implements io.Writer.
func (p *Pending) Write(b []byte) (int, error) {
	return p.file.Write(b)
}

// TempPath is where the bytes currently live. Callers that rewrite the file
// out of band must leave the result at this path before Commit.
func (p *Pending) TempPath() string {
	return p.file.Name()
}

// Commit closes the temp file and atomically renames it over the final name.
// An existing file with the same name is replaced.
func (p *Pending) Commit() error {
	if p.done {
		return fmt.Errorf("pending file already finished")
	}
	p.done = true

	tmpPath := p.file.Name()
	if err := p.file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("setting permissions: %w", err)
	}

	if err := os.Rename(tmpPath, p.finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming into place: %w", err)
	}

	return nil
}

// Abort discards the temp file. It is a no-op after Commit.
func (p *Pending) Abort() {
	if p.done {
		return
	}
	p.done = true
	p.file.Close()
	os.Remove(p.file.Name())
}
