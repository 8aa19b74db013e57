// Package state persists the last-applied record of every managed
// resource, keyed by resource address, on top of pluggable durable
// backends.
package state

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/reef-io/reef/internal/ir"
)

// Store is the keyed view over a state backend. Every mutating call
// persists the whole document through the backend before returning, and
// is atomic with respect to concurrent readers. Persistence failures are
// returned as *StoreIOError and are fatal to the enclosing run.
type Store struct {
	backend Backend

	mu    sync.RWMutex
	doc   *ir.State
	index map[string]int // address -> position in doc.Resources
}

// Open reads the backend's current document and returns a Store over it.
// A fresh document gets a generated lineage on first open.
func Open(ctx context.Context, backend Backend) (*Store, error) {
	doc, err := backend.Read(ctx)
	if err != nil {
		return nil, &StoreIOError{Op: "read", Err: err}
	}
	if doc.Lineage == "" {
		doc.Lineage = uuid.NewString()
	}

	s := &Store{backend: backend, doc: doc}
	s.reindex()
	return s, nil
}

// Get returns the record for an address, or absent.
func (s *Store) Get(addr string) (*ir.ResourceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.index[addr]
	if !ok {
		return nil, false
	}
	return s.doc.Resources[idx], true
}

// Put inserts or replaces the record for an address and persists the
// document.
func (s *Store) Put(ctx context.Context, addr string, rs *ir.ResourceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.index[addr]; ok {
		s.doc.Resources[idx] = rs
	} else {
		s.index[addr] = len(s.doc.Resources)
		s.doc.Resources = append(s.doc.Resources, rs)
	}
	return s.persist(ctx)
}

// Remove deletes the record for an address and persists the document.
// Removing an absent address is a no-op.
func (s *Store) Remove(ctx context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.index[addr]
	if !ok {
		return nil
	}
	s.doc.Resources = append(s.doc.Resources[:idx], s.doc.Resources[idx+1:]...)
	s.reindex()
	return s.persist(ctx)
}

// List returns all addresses present in the store, sorted.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addrs := make([]string, 0, len(s.index))
	for addr := range s.index {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// Resources returns a snapshot copy of all records.
func (s *Store) Resources() []*ir.ResourceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*ir.ResourceState{}, s.doc.Resources...)
}

// Document returns a shallow snapshot of the state document, for
// inspection commands.
func (s *Store) Document() *ir.State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := *s.doc
	snapshot.Resources = append([]*ir.ResourceState{}, s.doc.Resources...)
	return &snapshot
}

// SetOutputs replaces the document's root outputs and persists.
func (s *Store) SetOutputs(ctx context.Context, outputs map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Outputs = outputs
	return s.persist(ctx)
}

// Lock acquires the backend's exclusive lock.
func (s *Store) Lock() error {
	if err := s.backend.Lock(); err != nil {
		return &StoreIOError{Op: "lock", Err: err}
	}
	return nil
}

// Unlock releases the backend's lock.
func (s *Store) Unlock() error {
	if err := s.backend.Unlock(); err != nil {
		return &StoreIOError{Op: "unlock", Err: err}
	}
	return nil
}

// persist bumps the serial and writes the document through the backend.
// Callers hold s.mu.
func (s *Store) persist(ctx context.Context) error {
	s.doc.Serial++
	if err := s.backend.Write(ctx, s.doc); err != nil {
		return &StoreIOError{Op: "write", Err: err}
	}
	return nil
}

func (s *Store) reindex() {
	s.index = make(map[string]int, len(s.doc.Resources))
	for i, res := range s.doc.Resources {
		s.index[res.Addr()] = i
	}
}
