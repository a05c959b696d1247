// Package registry assigns stable integer IDs to label text.
//
// IDs are dense and zero-based, handed out in call order and never reused.
// A Registry is backed by a Store that decides where the mapping is
// persisted; nothing is written until Persist is called.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"
)

var (
	// ErrUnknownLabel is returned by GetID for text that has no ID.
	ErrUnknownLabel = errors.New("unknown label")
	// ErrCorrupt is returned when persisted state is not a dense ID table.
	ErrCorrupt = errors.New("registry state is corrupt")
	// ErrInvalidLabel is returned for label text that is not valid UTF-8.
	ErrInvalidLabel = errors.New("invalid label")
	// ErrDuplicateLabel is returned by Add for text that already has an ID.
	ErrDuplicateLabel = errors.New("label already registered")
)

// Store is the capability set shared by registry backends.
type Store interface {
	// Open loads the persisted state, starting empty if none exists.
	Open(ctx context.Context) error
	ID(label string) (int, bool)
	// Add records label at the current count and returns its ID. A label
	// that is already present keeps its ID.
	Add(label string) int
	Count() int
	// Labels returns the label text ordered by ID.
	Labels() []string
	// Persist replaces the durable state with the in-memory state atomically.
	Persist(ctx context.Context) error
	Close(ctx context.Context) error
}

// Registry serialises access to a Store so that all callers observe one counter.
type Registry struct {
	mu    sync.Mutex
	store Store
}

// New wraps an opened store.
func New(s Store) *Registry {
	return &Registry{store: s}
}

// Open opens s and wraps it.
func Open(ctx context.Context, s Store) (*Registry, error) {
	if err := s.Open(ctx); err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	return New(s), nil
}

func checkLabel(label string) error {
	if !utf8.ValidString(label) {
		return fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidLabel, label)
	}
	return nil
}

// GetOrAdd returns the ID of label, assigning the next free ID if it has none.
func (r *Registry) GetOrAdd(label string) (int, error) {
	if err := checkLabel(label); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.store.ID(label); ok {
		return id, nil
	}
	return r.store.Add(label), nil
}

// GetID returns the ID of label or ErrUnknownLabel.
func (r *Registry) GetID(label string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.store.ID(label)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownLabel, label)
	}
	return id, nil
}

// Add inserts label at the current count. Text that already has an ID is
// refused with ErrDuplicateLabel; use GetOrAdd when it may be present.
func (r *Registry) Add(label string) (int, error) {
	if err := checkLabel(label); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.store.ID(label); ok {
		return id, fmt.Errorf("%w: %q has id %d", ErrDuplicateLabel, label, id)
	}
	return r.store.Add(label), nil
}

// Count returns the number of assigned IDs, which is also the next ID.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Count()
}

// Labels returns the label text ordered by ID.
func (r *Registry) Labels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Labels()
}

// Persist flushes the registry to its backend.
func (r *Registry) Persist(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Persist(ctx); err != nil {
		return fmt.Errorf("failed to persist registry: %w", err)
	}
	return nil
}

// Close releases the backend. Unpersisted assignments are discarded.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Close(ctx)
}
