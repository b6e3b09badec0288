package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//InSlice returns true if given string appears in given slice
func InSlice(lookingFor string, slice []string) bool {
	for _, s := range slice {
		if s == lookingFor {
			return true
		}
	}

	return false
}

//ListDir returns a sorted list of the regular files in given path. Hidden files are skipped.
func ListDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("ListDir: Error, got '%v'", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	return names, nil
}

//EnsureDirs creates every missing directory of given list (and its parents)
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0766); err != nil {
			return fmt.Errorf("EnsureDirs: Error Creating '%s' directory, got '%v'", dir, err)
		}
	}

	return nil
}

//SafeName returns the base name of an uploaded file name, rejecting names that would escape the target directory
func SafeName(name string) (string, error) {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == ".." || strings.HasPrefix(base, ".") {
		return "", fmt.Errorf("SafeName: invalid file name '%s'", name)
	}

	return base, nil
}

//TrimExt returns given file name without its extension
func TrimExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

//HasExt reports whether name ends with one of given extensions (without dot, case insensitive)
func HasExt(name string, exts []string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	for _, e := range exts {
		if strings.ToLower(strings.TrimPrefix(e, ".")) == ext {
			return true
		}
	}

	return false
}
