package watcher

import (
	"os"
	"path/filepath"
)

// walkDirs visits root and every directory beneath it, following symlinks
// once and de-duplicating by real path so a cycle can't loop forever —
// the same guard the disk scanner uses.
func walkDirs(root string, fn func(dir string) error) error {
	visited := make(map[string]bool)
	return walk(root, visited, fn)
}

func walk(dir string, visited map[string]bool, fn func(dir string) error) error {
	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return err
	}
	if visited[real] {
		return nil
	}
	visited[real] = true

	if err := fn(dir); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		info, err := os.Stat(path) // follows symlinks once
		if err != nil || !info.IsDir() {
			continue
		}
		if err := walk(path, visited, fn); err != nil {
			return err
		}
	}
	return nil
}
