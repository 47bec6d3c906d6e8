// Package fsutil provides file system helpers for the manifest loaders.
package fsutil

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// CollectFiles expands a mix of file and directory paths into the files
// matching ext. Directories are walked recursively, missing paths are
// skipped, and a path listed twice collapses to its first occurrence.
func CollectFiles(ext string, paths ...string) ([]string, error) {
	if ext == "" {
		panic("ext must not be empty")
	}

	var files []string
	seen := make(map[string]struct{})

	add := func(p string) {
		if _, dup := seen[p]; !dup {
			files = append(files, p)
			seen[p] = struct{}{}
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}

		if !info.IsDir() {
			if filepath.Ext(path) == ext {
				add(path)
			}
			continue
		}

		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && filepath.Ext(p) == ext {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return files, nil
}
