package fileserver

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// rootDir is the directory served by the server. File names are slash-separated
// paths relative to the root and must stay inside it.
type rootDir struct {
	dir  string
	fsys fs.FS
}

func openRoot(dir string) (*rootDir, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	return &rootDir{dir: dir, fsys: os.DirFS(dir)}, nil
}

// cleanName validates a requested file name.
func cleanName(name string) (string, error) {
	filename := path.Clean(name)
	if name == "" || filename == "." || !fs.ValidPath(filename) {
		return "", fmt.Errorf("%w %q", ErrInvalidName, name)
	}
	return filename, nil
}

// open opens a regular file for reading.
func (r *rootDir) open(name string) (fs.File, int64, error) {
	filename, err := cleanName(name)
	if err != nil {
		return nil, 0, err
	}
	f, err := r.fsys.Open(filename)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrFileNotFound, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("%w: %w", ErrFileNotFound, err)
	}
	if !stat.Mode().IsRegular() {
		f.Close()
		return nil, 0, fmt.Errorf("%w: %s is not a regular file", ErrFileNotFound, filename)
	}
	return f, stat.Size(), nil
}

// create creates or truncates a file. It returns the file and its OS path.
func (r *rootDir) create(name string) (*os.File, string, error) {
	filename, err := cleanName(name)
	if err != nil {
		return nil, "", err
	}
	p := filepath.Join(r.dir, filepath.FromSlash(filename))
	f, err := os.Create(p)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrFileCreateFailed, err)
	}
	return f, p, nil
}

// remove deletes a file created by create. A file which is already gone is not an error.
func (r *rootDir) remove(p string) error {
	err := os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
