package aggregate

import (
	"encoding/json"
	"io"
	"sort"

	"github.com/andresmejia3/smartstore/internal/types"
)

type frameSet struct {
	keys map[string]struct{}
	sets []types.LabelSet
}

// Catalogue maps frames to their deduplicated label sets.
type Catalogue struct {
	frames map[types.Frame]*frameSet
}

// NewCatalogue returns an empty catalogue.
func NewCatalogue() *Catalogue {
	return &Catalogue{frames: make(map[types.Frame]*frameSet)}
}

// Insert adds ls to its frame. It reports false, leaving the catalogue
// unchanged, if a label set with the same key is already present.
func (c *Catalogue) Insert(ls types.LabelSet) bool {
	fs, ok := c.frames[ls.Frame]
	if !ok {
		fs = &frameSet{keys: make(map[string]struct{})}
		c.frames[ls.Frame] = fs
	}
	key := ls.Key()
	if _, dup := fs.keys[key]; dup {
		return false
	}
	fs.keys[key] = struct{}{}
	fs.sets = append(fs.sets, ls)
	return true
}

// Frames returns every frame holding at least one label set, ordered by scene then index.
func (c *Catalogue) Frames() []types.Frame {
	out := make([]types.Frame, 0, len(c.frames))
	for f := range c.frames {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scene != out[j].Scene {
			return out[i].Scene < out[j].Scene
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// LabelSets returns the label sets of f in first-insertion order.
func (c *Catalogue) LabelSets(f types.Frame) []types.LabelSet {
	fs, ok := c.frames[f]
	if !ok {
		return nil
	}
	out := make([]types.LabelSet, len(fs.sets))
	copy(out, fs.sets)
	return out
}

// Len returns the total number of label sets.
func (c *Catalogue) Len() int {
	n := 0
	for _, fs := range c.frames {
		n += len(fs.sets)
	}
	return n
}

type catalogueEntry struct {
	Frame     types.Frame      `json:"frame"`
	LabelSets []types.LabelSet `json:"label_sets"`
}

// WriteJSON writes the catalogue in deterministic order.
func (c *Catalogue) WriteJSON(w io.Writer) error {
	entries := make([]catalogueEntry, 0, len(c.frames))
	for _, f := range c.Frames() {
		entries = append(entries, catalogueEntry{Frame: f, LabelSets: c.LabelSets(f)})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}
