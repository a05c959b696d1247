package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// MemoryStore keeps the table in memory only.
type MemoryStore struct {
	*Table
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{Table: NewTable()}
}

func (m *MemoryStore) Open(ctx context.Context) error    { return nil }
func (m *MemoryStore) Persist(ctx context.Context) error { return nil }
func (m *MemoryStore) Close(ctx context.Context) error   { return nil }

// fileRecord is the on-disk layout of a FileStore.
type fileRecord struct {
	Labels map[string]int `json:"labels"`
	Count  int            `json:"count"`
}

// FileStore persists the table as a JSON document, replaced by rename on every Persist.
type FileStore struct {
	*Table
	Path string
}

// NewFileStore returns a store backed by the JSON file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Table: NewTable(), Path: path}
}

// Open loads the file, or starts empty if it does not exist yet.
func (f *FileStore) Open(ctx context.Context) error {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		f.Table = NewTable()
		return nil
	}
	if err != nil {
		return err
	}

	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, f.Path, err)
	}
	t := NewTable()
	if err := t.Restore(rec.Labels, rec.Count); err != nil {
		return fmt.Errorf("%s: %w", f.Path, err)
	}
	f.Table = t
	return nil
}

// Persist writes the whole table to a temporary file next to Path and renames
// it into place, so readers see either the old or the new document.
func (f *FileStore) Persist(ctx context.Context) error {
	if err := f.Validate(); err != nil {
		return err
	}
	ids, count := f.Snapshot()
	data, err := json.MarshalIndent(fileRecord{Labels: ids, Count: count}, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		return err
	}
	committed = true
	return nil
}

func (f *FileStore) Close(ctx context.Context) error { return nil }
