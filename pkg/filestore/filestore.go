// Package filestore is the filesystem collaborator used for recordings and
// exports. Deletes are best-effort: a missing file is not an error.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

type FileStore interface {
	Remove(path string) error
	Size(path string) (int64, error)
	Exists(path string) (bool, error)
	// Move places src at dst, creating dst's directory. Falls back to copy
	// when a rename is not possible (different devices).
	Move(src, dst string) error
	EnsureDir(dir string) error
}

type fileStore struct {
	fs afero.Fs
}

func New(fs afero.Fs) FileStore {
	return &fileStore{fs: fs}
}

// NewOS returns a store backed by the real filesystem.
func NewOS() FileStore {
	return New(afero.NewOsFs())
}

func (s *fileStore) Remove(path string) error {
	if path == "" {
		return nil
	}
	err := s.fs.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) Size(path string) (int64, error) {
	info, err := s.fs.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}

func (s *fileStore) Exists(path string) (bool, error) {
	return afero.Exists(s.fs, path)
}

func (s *fileStore) EnsureDir(dir string) error {
	return s.fs.MkdirAll(dir, 0o755)
}

func (s *fileStore) Move(src, dst string) error {
	if err := s.EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	if err := s.fs.Rename(src, dst); err == nil {
		return nil
	}

	if err := s.copy(src, dst); err != nil {
		_ = s.fs.Remove(dst)
		return err
	}
	return s.Remove(src)
}

func (s *fileStore) copy(src, dst string) error {
	in, err := s.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := s.fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
