// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/bassosimone/seclink"
	"github.com/spf13/afero"
)

// errInvalidPath indicates a name that is absolute or leaves the root.
var errInvalidPath = errors.New("invalid path")

// NewFile returns a [*File] storing under root on the given filesystem.
//
// Use [afero.NewOsFs] for the real filesystem and [afero.NewMemMapFs] in tests.
func NewFile(fsys afero.Fs, root string) *File {
	return &File{
		DirMode:  0o755,
		FileMode: 0o600,
		Fs:       fsys,
		Root:     root,
	}
}

// File stores byte blobs as files below a root directory.
//
// Names are slash-separated and relative to the root. Every failure is a
// [seclink.KindStore] error; a missing file also matches [seclink.ErrNotFound].
type File struct {
	// DirMode is the mode of directories created by [*File.Write].
	//
	// Set by [NewFile] to 0o755.
	DirMode fs.FileMode

	// FileMode is the mode of files created by [*File.Write].
	//
	// Set by [NewFile] to 0o600.
	FileMode fs.FileMode

	// Fs is the filesystem to use.
	//
	// Set by [NewFile] to the user-provided value.
	Fs afero.Fs

	// Root is the directory containing every stored file.
	//
	// Set by [NewFile] to the user-provided value.
	Root string
}

func (f *File) path(op, name string) (string, error) {
	local := filepath.FromSlash(name)
	if !filepath.IsLocal(local) {
		return "", seclink.NewError(seclink.KindStore, op, fmt.Errorf("%w: %q", errInvalidPath, name))
	}
	return filepath.Join(f.Root, local), nil
}

func storeError(op string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		err = fmt.Errorf("%w: %w", seclink.ErrNotFound, err)
	}
	return seclink.NewError(seclink.KindStore, op, err)
}

// Write replaces the content of name, creating parent directories.
func (f *File) Write(name string, data []byte) error {
	const op = "file.write"
	path, err := f.path(op, name)
	if err != nil {
		return err
	}
	if err := f.Fs.MkdirAll(filepath.Dir(path), f.DirMode); err != nil {
		return storeError(op, err)
	}
	if err := afero.WriteFile(f.Fs, path, data, f.FileMode); err != nil {
		return storeError(op, err)
	}
	return nil
}

// Read returns the content of name.
func (f *File) Read(name string) ([]byte, error) {
	const op = "file.read"
	path, err := f.path(op, name)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(f.Fs, path)
	if err != nil {
		return nil, storeError(op, err)
	}
	return data, nil
}

// Remove deletes name.
func (f *File) Remove(name string) error {
	const op = "file.remove"
	path, err := f.path(op, name)
	if err != nil {
		return err
	}
	if err := f.Fs.Remove(path); err != nil {
		return storeError(op, err)
	}
	return nil
}

// Exists reports whether name is stored.
func (f *File) Exists(name string) (bool, error) {
	const op = "file.exists"
	path, err := f.path(op, name)
	if err != nil {
		return false, err
	}
	found, err := afero.Exists(f.Fs, path)
	if err != nil {
		return false, storeError(op, err)
	}
	return found, nil
}
