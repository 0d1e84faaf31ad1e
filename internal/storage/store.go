package storage

import (
	"errors"
	"sync"
)

// ErrSliceNotFound is returned when no slice is stored for a run
var ErrSliceNotFound = errors.New("slice not found")

// Slice is the part of a run's dataset held by one worker
type Slice struct {
	RunID   string    // Run the slice belongs to
	Offset  int64     // Index of the first sample in the full dataset
	Samples []float32 // Sample values, owned by the store once Put
}

// Store defines the interface for worker-local slice storage
// All implementations must be thread-safe for concurrent access
type Store interface {
	// Get retrieves the slice stored for a run
	// Returns ErrSliceNotFound if nothing is stored
	Get(runID string) (Slice, error)

	// Put stores a slice under its run ID
	// Overwrites any slice previously stored for the run
	Put(s Slice) error

	// Delete drops the slice for a run
	// No error if nothing is stored
	Delete(runID string) error

	// List returns the run IDs with a stored slice
	// Order is not guaranteed
	List() []string

	// Stats returns storage statistics
	Stats() StoreStats
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Slices  int   // Number of stored slices
	Samples int64 // Total samples across all slices
}

// MemoryStore implements Store with in-memory storage
// Uses sync.RWMutex for thread-safe concurrent access
type MemoryStore struct {
	mu     sync.RWMutex     // Protects concurrent access
	slices map[string]Slice // runID -> slice
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slices: make(map[string]Slice),
	}
}

// Get retrieves the slice for a run
// The returned samples alias the stored buffer and must not be modified
func (m *MemoryStore) Get(runID string) (Slice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.slices[runID]
	if !exists {
		return Slice{}, ErrSliceNotFound
	}
	return s, nil
}

// Put stores a slice without copying it
// Slices can be large, so the caller hands over the buffer instead
func (m *MemoryStore) Put(s Slice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.slices[s.RunID] = s
	return nil
}

// Delete drops the slice for a run (idempotent)
func (m *MemoryStore) Delete(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.slices, runID)
	return nil
}

// List returns the run IDs with a stored slice
func (m *MemoryStore) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.slices))
	for id := range m.slices {
		ids = append(ids, id)
	}
	return ids
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var samples int64
	for _, s := range m.slices {
		samples += int64(len(s.Samples))
	}

	return StoreStats{
		Slices:  len(m.slices),
		Samples: samples,
	}
}
