package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/disthist/internal/cluster"
)

var (
	// ErrInvalidNode is returned for a registration without ID or address.
	ErrInvalidNode = errors.New("invalid node")
	// ErrRegistryFull is returned when every rank is already taken.
	ErrRegistryFull = errors.New("registry full")
)

// Registry assigns ranks to the members of a run and tells the coordinator
// when all of them have arrived.
//
// The member table has a fixed number of slots:
//   - Rank 0 is the coordinator's own worker, filled at creation
//   - Ranks 1..size-1 are handed out to nodes in registration order
//   - Once every slot is filled the table is sealed
//
// Architecture:
//
//	┌─────────────────────────────────────┐
//	│             Registry                │
//	├─────────────────────────────────────┤
//	│  members: rank → NodeInfo           │
//	│  size: fixed member count           │
//	│  full: closed when sealed           │
//	├─────────────────────────────────────┤
//	│  register "n1" → rank 1             │
//	│  register "n2" → rank 2 → sealed    │
//	└─────────────────────────────────────┘
//
// Concurrency Model:
//   - All mutations take the mutex
//   - Returned member lists are copies
//   - Wait blocks on a channel, not the mutex
type Registry struct {
	// members is indexed by rank.
	members []cluster.NodeInfo

	// size is the number of members the run needs, coordinator included.
	size int

	// full is closed once len(members) == size.
	full     chan struct{}
	fullOnce sync.Once

	mu sync.Mutex
}

// NewRegistry creates a registry for size members and places self at rank 0
// with the coordinator role.
//
// Parameters:
//   - size: Total member count, coordinator included (must be >= 1)
//   - self: The coordinator's own worker endpoint (ID and Addr required)
//
// Returns:
//   - Registry, already sealed when size is 1
//   - ErrInvalidNode if size or self is unusable
//
// Example:
//
//	reg, err := NewRegistry(3, cluster.NodeInfo{ID: "coordinator", Addr: "http://127.0.0.1:8080"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	members, err := reg.Wait(ctx)
func NewRegistry(size int, self cluster.NodeInfo) (*Registry, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: member count %d must be positive", ErrInvalidNode, size)
	}
	if self.ID == "" || self.Addr == "" {
		return nil, fmt.Errorf("%w: coordinator needs an id and address", ErrInvalidNode)
	}
	self.Rank = 0
	self.Role = cluster.RoleCoordinator

	r := &Registry{
		members: make([]cluster.NodeInfo, 0, size),
		size:    size,
		full:    make(chan struct{}),
	}
	r.members = append(r.members, self)
	r.sealIfFull()
	return r, nil
}

// Register gives a node the next free rank.
//
// Behavior:
//   - A new ID gets the next rank with the worker role
//   - A known ID keeps its rank; its address is updated until the table is sealed
//   - The coordinator's own ID cannot be registered by a node
//   - A new ID after the table is sealed gets ErrRegistryFull
//
// Parameters:
//   - n: The node's ID and public address
//
// Returns:
//   - RegisterResponse with the rank and the run size
//   - ErrInvalidNode or ErrRegistryFull on rejection
func (r *Registry) Register(n cluster.NodeInfo) (cluster.RegisterResponse, error) {
	if n.ID == "" || n.Addr == "" {
		return cluster.RegisterResponse{}, fmt.Errorf("%w: missing id/addr", ErrInvalidNode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := slices.IndexFunc(r.members, func(m cluster.NodeInfo) bool { return m.ID == n.ID })
	switch {
	case idx == 0:
		return cluster.RegisterResponse{}, fmt.Errorf("%w: id %s is taken by the coordinator", ErrInvalidNode, n.ID)
	case idx > 0:
		if r.sealed() && r.members[idx].Addr != n.Addr {
			return cluster.RegisterResponse{}, fmt.Errorf("%w: cannot move %s after the run is sealed", ErrRegistryFull, n.ID)
		}
		r.members[idx].Addr = n.Addr
		return cluster.RegisterResponse{Rank: idx, Size: r.size}, nil
	}

	if len(r.members) >= r.size {
		return cluster.RegisterResponse{}, fmt.Errorf("%w: all %d ranks assigned", ErrRegistryFull, r.size)
	}
	rank := len(r.members)
	r.members = append(r.members, cluster.NodeInfo{ID: n.ID, Addr: n.Addr, Role: cluster.RoleWorker, Rank: rank})
	r.sealIfFull()
	return cluster.RegisterResponse{Rank: rank, Size: r.size}, nil
}

// sealIfFull must be called with mu held (or before r is shared)
func (r *Registry) sealIfFull() {
	if len(r.members) == r.size {
		r.fullOnce.Do(func() { close(r.full) })
	}
}

func (r *Registry) sealed() bool {
	select {
	case <-r.full:
		return true
	default:
		return false
	}
}

// Wait blocks until every rank is taken or ctx is done, then returns the
// rank-ordered member list.
func (r *Registry) Wait(ctx context.Context) ([]cluster.NodeInfo, error) {
	select {
	case <-r.full:
		return r.Members(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Members returns a rank-ordered copy of the registered members.
func (r *Registry) Members() []cluster.NodeInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cluster.NodeInfo(nil), r.members...)
}

// Size returns the number of members the run needs.
func (r *Registry) Size() int {
	return r.size
}

// Registered returns how many ranks are taken, coordinator included.
func (r *Registry) Registered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}
