package cluster

import (
	"time"

	"github.com/dreamware/disthist/internal/histogram"
	"github.com/dreamware/disthist/internal/partition"
)

// Role distinguishes the single coordinator from the other workers. The
// coordinator is also a worker: it bins its own slice like every other rank.
type Role string

const (
	// RoleCoordinator owns the dataset and receives the reduced histogram.
	RoleCoordinator Role = "coordinator"
	// RoleWorker only bins the slice it is sent.
	RoleWorker Role = "worker"
)

// NodeInfo identifies one member of a run.
type NodeInfo struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
	Role Role   `json:"role,omitempty"`
	Rank int    `json:"rank"`
}

// IsCoordinator reports whether the member plays the coordinator role.
func (n NodeInfo) IsCoordinator() bool {
	return n.Role == RoleCoordinator
}

type RegisterRequest struct {
	Node NodeInfo `json:"node"`
}

// RegisterResponse tells a node which rank it was given and how many members
// the run will have.
type RegisterResponse struct {
	Rank int `json:"rank"`
	Size int `json:"size"`
}

// RunConfig is broadcast to every member before any slice is sent. Members
// and Plan are both indexed by rank.
type RunConfig struct {
	RunID   string           `json:"run_id"`
	Bins    histogram.Config `json:"bins"`
	Items   int64            `json:"items"`
	Members []NodeInfo       `json:"members"`
	Plan    partition.Plan   `json:"plan"`
}

// Size returns the number of members in the run.
func (c RunConfig) Size() int {
	return len(c.Members)
}

// RunRef names the run a control message applies to.
type RunRef struct {
	RunID string `json:"run_id"`
}

// LocalResult is one worker's answer to a compute request.
type LocalResult struct {
	RunID   string          `json:"run_id"`
	NodeID  string          `json:"node_id"`
	Rank    int             `json:"rank"`
	Samples int64           `json:"samples"`
	Counts  histogram.Local `json:"counts"`
	Elapsed time.Duration   `json:"elapsed_ns"`
}

// Worker endpoints, relative to a member's address.
const (
	PathConfig  = "/run/config"
	PathSlice   = "/run/slice"
	PathCompute = "/run/compute"
	PathRelease = "/run/release"
	PathHealth  = "/health"
	PathInfo    = "/info"
)
