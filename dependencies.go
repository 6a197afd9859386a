package storage

import (
	"io"
	"os"
)

// These interfaces define the file-backed storage's dependencies. Using the
// smallest interface possible makes it easier to mock these dependencies in
// testing.
type (
	dependencies interface {
		disrupt(string) bool
		openFile(string, int, os.FileMode) (file, error)
		create(string) (file, error)
	}

	// file implements all of the methods FileStorage calls on an os.File.
	file interface {
		io.Closer
		Name() string
		ReadAt([]byte, int64) (int, error)
		WriteAt([]byte, int64) (int, error)
		Stat() (os.FileInfo, error)
		Sync() error
	}
)

// prodDependencies is a passthrough to the standard library calls.
type prodDependencies struct{}

func (prodDependencies) disrupt(string) bool { return false }

func (prodDependencies) openFile(path string, flag int, perm os.FileMode) (file, error) {
	return os.OpenFile(path, flag, perm)
}

func (prodDependencies) create(path string) (file, error) {
	return os.Create(path)
}
