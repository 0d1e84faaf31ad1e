// Package storage holds the dataset slices a worker receives until they are
// binned and the run is released.
//
// # Overview
//
// Each worker keeps exactly the part of the dataset it was assigned, keyed
// by run ID. Nothing is shared with other processes: the coordinator sends a
// copy of each slice over the network and the receiving worker becomes its
// only owner.
//
//	┌─────────────────────────────────────┐
//	│            Worker                   │
//	│  config ─┐                          │
//	│  slice ──┼──► Store ──► Build       │
//	│          │   (runID → Slice)        │
//	└─────────────────────────────────────┘
//
// # Implementations
//
// MemoryStore: In-memory storage with sync.RWMutex
//   - Stores slices without copying them
//   - Slices are dropped on release or when the process exits
//
// # Concurrency
//
// Locking Strategy:
//   - Read operations use shared locks (RLock)
//   - Put and Delete take the exclusive lock
//   - Sample buffers are read-only after Put, so they are returned without copying
package storage
