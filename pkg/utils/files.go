// Package utils holds path and file helpers shared by the command-line tools.
package utils

import (
	"os"
	"path/filepath"
	"strings"
)

// GetPathInfo returns the absolute form of relPath and its directory.
func GetPathInfo(relPath string) (fullPath string, parentDir string, err error) {
	fullPath, err = filepath.Abs(relPath)
	if err != nil {
		return "", "", err
	}
	parentDir = filepath.Dir(fullPath)
	return fullPath, parentDir, nil
}

// ReplaceExt swaps the extension of path for ext: ("out.hex", ".txt") gives
// "out.txt" and ("out.hex", "_symbols.txt") gives "out_symbols.txt".
func ReplaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// WriteFileAtomic writes data to a temporary file next to path and renames
// it into place, so a failed write never leaves a truncated file behind.
func WriteFileAtomic(path string, data []byte) error {
	return WriteFilesAtomic([]File{{Path: path, Data: data}})
}

// File is one output of WriteFilesAtomic.
type File struct {
	Path string
	Data []byte
}

// WriteFilesAtomic writes every file to a temporary sibling first and only
// renames them into place once all of them are on disk. If any step fails,
// the temporaries and the files already renamed are removed.
func WriteFilesAtomic(files []File) error {
	temps := make([]string, 0, len(files))
	targets := make([]string, 0, len(files))
	cleanup := func() {
		for _, name := range temps {
			os.Remove(name)
		}
	}

	for _, f := range files {
		fullPath, dir, err := GetPathInfo(f.Path)
		if err != nil {
			cleanup()
			return err
		}
		name, err := stage(dir, filepath.Base(fullPath), f.Data)
		if err != nil {
			cleanup()
			return err
		}
		temps = append(temps, name)
		targets = append(targets, fullPath)
	}

	for i, name := range temps {
		if err := os.Rename(name, targets[i]); err != nil {
			for _, done := range targets[:i] {
				os.Remove(done)
			}
			temps = temps[i:]
			cleanup()
			return err
		}
	}
	return nil
}

// stage writes data to a new temporary file in dir and returns its name.
func stage(dir, base string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, "."+base+".tmp*")
	if err != nil {
		return "", err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	if err := os.Chmod(name, 0644); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}
