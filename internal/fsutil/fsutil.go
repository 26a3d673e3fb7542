// Package fsutil provides the filesystem helpers the offline loader and
// saver stages rely on.
package fsutil

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/charlievieth/fastwalk"
)

// ReadDirectory lists the canonical paths of the regular files directly
// under path, sorted lexicographically. It fails for missing paths and for
// paths that are not directories.
func ReadDirectory(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("fsutil: %s could not be read: %w", path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("fsutil: %s is not a directory", path)
	}

	root, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("fsutil: %s could not be resolved: %w", path, err)
	}

	var files []string
	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			canonical, err := filepath.EvalSymlinks(p)
			if err != nil {
				canonical = p
			}
			files = append(files, canonical)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fsutil: %s could not be read: %w", path, err)
	}

	sort.Strings(files)
	return files, nil
}

// CreateDirectory creates path (including parents) if it does not exist. It
// reports true when the directory exists afterwards.
func CreateDirectory(path string) bool {
	info, err := os.Stat(path)
	if err == nil {
		return info.IsDir()
	}
	return os.MkdirAll(path, 0o755) == nil
}
