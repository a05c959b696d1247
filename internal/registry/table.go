package registry

import (
	"fmt"
	"unicode/utf8"
)

// Table is the in-memory label table every backend keeps between Open and Persist.
type Table struct {
	ids    map[string]int
	labels []string
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{ids: make(map[string]int)}
}

func (t *Table) ID(label string) (int, bool) {
	id, ok := t.ids[label]
	return id, ok
}

// Add records label at the next ID. A label that is already present keeps its ID.
func (t *Table) Add(label string) int {
	if id, ok := t.ids[label]; ok {
		return id
	}
	id := len(t.labels)
	t.ids[label] = id
	t.labels = append(t.labels, label)
	return id
}

func (t *Table) Count() int { return len(t.labels) }

func (t *Table) Labels() []string {
	out := make([]string, len(t.labels))
	copy(out, t.labels)
	return out
}

// Snapshot returns a copy of the mapping and the count.
func (t *Table) Snapshot() (map[string]int, int) {
	ids := make(map[string]int, len(t.ids))
	for k, v := range t.ids {
		ids[k] = v
	}
	return ids, len(t.labels)
}

// Validate reports whether the table would survive a persist and reload:
// every label is valid UTF-8 and the IDs are exactly 0..count-1.
func (t *Table) Validate() error {
	if len(t.ids) != len(t.labels) {
		return fmt.Errorf("%w: %d labels but count is %d", ErrCorrupt, len(t.ids), len(t.labels))
	}
	for id, label := range t.labels {
		if !utf8.ValidString(label) {
			return fmt.Errorf("%w: id %d: %q", ErrInvalidLabel, id, label)
		}
		if got, ok := t.ids[label]; !ok || got != id {
			return fmt.Errorf("%w: label %q does not map back to id %d", ErrCorrupt, label, id)
		}
	}
	return nil
}

// Restore replaces the table with persisted state. The IDs must be exactly
// 0..count-1, each used once.
func (t *Table) Restore(ids map[string]int, count int) error {
	if len(ids) != count {
		return fmt.Errorf("%w: %d labels but count is %d", ErrCorrupt, len(ids), count)
	}
	labels := make([]string, count)
	seen := make([]bool, count)
	for label, id := range ids {
		if id < 0 || id >= count {
			return fmt.Errorf("%w: id %d of %q outside [0,%d)", ErrCorrupt, id, label, count)
		}
		if seen[id] {
			return fmt.Errorf("%w: id %d assigned twice", ErrCorrupt, id)
		}
		seen[id] = true
		labels[id] = label
	}

	t.ids = make(map[string]int, count)
	for k, v := range ids {
		t.ids[k] = v
	}
	t.labels = labels
	return nil
}
