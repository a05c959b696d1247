package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// --- 1. Error Reporting ---

// ShowError prints a formatted error box to Stderr without exiting.
func ShowError(context string, err error) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 SMARTSTORE ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// --- 2. Dataset Files ---

// SortedEntries returns the names of the regular files in dir in lexicographic order.
func SortedEntries(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// LastEntry returns the lexicographically last file name in dir, or "" if dir has no files.
func LastEntry(dir string) (string, error) {
	names, err := SortedEntries(dir)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", nil
	}
	return names[len(names)-1], nil
}

// FindEntry returns the path of the first file in dir (lexicographic order)
// whose name contains token. ok is false when nothing matches.
func FindEntry(dir, token string) (path string, ok bool, err error) {
	names, err := SortedEntries(dir)
	if err != nil {
		return "", false, err
	}
	for _, n := range names {
		if strings.Contains(n, token) {
			return filepath.Join(dir, n), true, nil
		}
	}
	return "", false, nil
}

// AnnotationFiles lists the *.json files of dir in lexicographic order.
func AnnotationFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
