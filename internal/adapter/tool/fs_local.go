package tool

import (
	"io/fs"
	"os"
	"path/filepath"
)

// LocalFilesystemBackend performs file I/O on the local filesystem.
type LocalFilesystemBackend struct{}

// NewLocalFilesystemBackend creates a local filesystem backend.
func NewLocalFilesystemBackend() *LocalFilesystemBackend {
	return &LocalFilesystemBackend{}
}

func (b *LocalFilesystemBackend) Name() string { return "local" }

func (b *LocalFilesystemBackend) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes through a temporary file in the target directory and
// renames it into place, so readers never observe a half-written file.
func (b *LocalFilesystemBackend) WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (b *LocalFilesystemBackend) ReadDir(path string) ([]os.DirEntry, error) {
	return os.ReadDir(path)
}

func (b *LocalFilesystemBackend) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (b *LocalFilesystemBackend) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

func (b *LocalFilesystemBackend) WalkDir(root string, fn fs.WalkDirFunc) error {
	return filepath.WalkDir(root, fn)
}
