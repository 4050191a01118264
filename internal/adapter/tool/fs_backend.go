package tool

import (
	"io/fs"
	"os"
)

// FilesystemBackend abstracts the file I/O performed by the file and code
// tools. Paths are absolute and already validated by the sandbox.
type FilesystemBackend interface {
	// ReadFile reads the named file and returns its contents.
	ReadFile(path string) ([]byte, error)
	// WriteFile writes data to the named file, creating parent directories.
	WriteFile(path string, data []byte, perm os.FileMode) error
	// ReadDir reads the named directory and returns its entries sorted by name.
	ReadDir(path string) ([]os.DirEntry, error)
	// MkdirAll creates a directory and any missing parents.
	MkdirAll(path string, perm os.FileMode) error
	// Stat describes the named file.
	Stat(path string) (os.FileInfo, error)
	// WalkDir walks the tree rooted at root in lexical order.
	WalkDir(root string, fn fs.WalkDirFunc) error
	// Name returns the backend identifier (e.g. "local").
	Name() string
}
