// Package collective implements the blocking collective operations the
// coordinator uses to drive a run: broadcast, scatter, gather, reduce and
// release.
//
// Every operation contacts all members, including the coordinator's own
// worker, over the same HTTP endpoints, and returns only once each member
// has answered. The first failing member fails the operation; there are no
// retries. Calls carry no deadline of their own, so an unresponsive member
// blocks the operation until the caller's context is canceled.
package collective

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/disthist/internal/cluster"
	"github.com/dreamware/disthist/internal/histogram"
	"github.com/dreamware/disthist/internal/partition"
)

var (
	// ErrNoCoordinator is returned when the member list has no coordinator.
	ErrNoCoordinator = errors.New("no coordinator among members")
	// ErrMembership is returned when the member list is not a dense set of ranks.
	ErrMembership = errors.New("invalid membership")
	// ErrResult is returned when a member answers with an inconsistent result.
	ErrResult = errors.New("invalid local result")
)

// MemberError records which member made a collective operation fail.
type MemberError struct {
	Op   string
	Node cluster.NodeInfo
	Err  error
}

func (e *MemberError) Error() string {
	return fmt.Sprintf("%s: member %s (rank %d): %v", e.Op, e.Node.ID, e.Node.Rank, e.Err)
}

func (e *MemberError) Unwrap() error { return e.Err }

// Comm is a fixed group of members whose ranks are 0..Size()-1.
type Comm struct {
	members []cluster.NodeInfo
	root    int
	client  *cluster.Client
}

// New builds a communicator. Members must carry distinct ranks covering
// 0..len(members)-1 and exactly one coordinator. A nil client selects one
// without timeouts.
func New(members []cluster.NodeInfo, client *cluster.Client) (*Comm, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: no members", ErrMembership)
	}
	sorted := append([]cluster.NodeInfo(nil), members...)
	slices.SortFunc(sorted, func(a, b cluster.NodeInfo) int { return a.Rank - b.Rank })

	root := -1
	for i, m := range sorted {
		if m.Rank != i {
			return nil, fmt.Errorf("%w: expected rank %d, found %d", ErrMembership, i, m.Rank)
		}
		if m.Addr == "" {
			return nil, fmt.Errorf("%w: member %s has no address", ErrMembership, m.ID)
		}
		if m.IsCoordinator() {
			if root >= 0 {
				return nil, fmt.Errorf("%w: ranks %d and %d are both coordinators", ErrMembership, root, i)
			}
			root = i
		}
	}
	if root < 0 {
		return nil, ErrNoCoordinator
	}
	if client == nil {
		client = cluster.NewClient(0)
	}
	return &Comm{members: sorted, root: root, client: client}, nil
}

// Size returns the number of members.
func (c *Comm) Size() int { return len(c.members) }

// Root returns the coordinator member.
func (c *Comm) Root() cluster.NodeInfo { return c.members[c.root] }

// Members returns a rank-ordered copy of the member list.
func (c *Comm) Members() []cluster.NodeInfo {
	return append([]cluster.NodeInfo(nil), c.members...)
}

// each runs fn for every member concurrently and waits for all of them.
func (c *Comm) each(ctx context.Context, op string, fn func(ctx context.Context, m cluster.NodeInfo) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range c.members {
		m := m
		g.Go(func() error {
			if err := fn(gctx, m); err != nil {
				return &MemberError{Op: op, Node: m, Err: err}
			}
			return nil
		})
	}
	return g.Wait()
}

func url(m cluster.NodeInfo, path string) string {
	return strings.TrimRight(m.Addr, "/") + path
}

// Broadcast sends the run configuration to every member.
func (c *Comm) Broadcast(ctx context.Context, cfg cluster.RunConfig) error {
	return c.each(ctx, "broadcast", func(ctx context.Context, m cluster.NodeInfo) error {
		return c.client.PostJSON(ctx, url(m, cluster.PathConfig), cfg, nil)
	})
}

// Scatter sends each member the part of data its rank is assigned in plan.
// It returns once every member has stored its full slice. Scatter keeps no
// reference to data after it returns.
func (c *Comm) Scatter(ctx context.Context, runID string, data []float32, plan partition.Plan) error {
	if len(plan) != len(c.members) {
		return fmt.Errorf("%w: plan has %d entries for %d members", ErrMembership, len(plan), len(c.members))
	}
	if err := plan.Validate(int64(len(data))); err != nil {
		return err
	}
	return c.each(ctx, "scatter", func(ctx context.Context, m cluster.NodeInfo) error {
		part, err := plan.Slice(data, m.Rank)
		if err != nil {
			return err
		}
		return c.client.PostSlice(ctx, url(m, cluster.PathSlice), runID, plan[m.Rank].Offset, part)
	})
}

// Gather asks every member to bin its slice and collects the local results,
// ordered by rank.
func (c *Comm) Gather(ctx context.Context, runID string) ([]cluster.LocalResult, error) {
	results := make([]cluster.LocalResult, len(c.members))
	err := c.each(ctx, "gather", func(ctx context.Context, m cluster.NodeInfo) error {
		var res cluster.LocalResult
		if err := c.client.PostJSON(ctx, url(m, cluster.PathCompute), cluster.RunRef{RunID: runID}, &res); err != nil {
			return err
		}
		if res.RunID != runID || res.Rank != m.Rank {
			return fmt.Errorf("%w: answered for run %q rank %d", ErrResult, res.RunID, res.Rank)
		}
		results[m.Rank] = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Reduce gathers every member's local histogram and sums them element-wise
// at the root. The local results are returned alongside the global histogram.
func (c *Comm) Reduce(ctx context.Context, runID string, bins int) (histogram.Global, []cluster.LocalResult, error) {
	results, err := c.Gather(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	locals := make([]histogram.Local, len(results))
	for i, r := range results {
		if r.Counts.Total() != r.Samples {
			return nil, nil, &MemberError{Op: "reduce", Node: c.members[i],
				Err: fmt.Errorf("%w: %d counted for %d samples", ErrResult, r.Counts.Total(), r.Samples)}
		}
		locals[i] = r.Counts
	}
	global, err := histogram.Reduce(bins, locals...)
	if err != nil {
		return nil, nil, err
	}
	return global, results, nil
}

// Release ends the run on every member.
func (c *Comm) Release(ctx context.Context, runID string) error {
	return c.each(ctx, "release", func(ctx context.Context, m cluster.NodeInfo) error {
		return c.client.PostJSON(ctx, url(m, cluster.PathRelease), cluster.RunRef{RunID: runID}, nil)
	})
}
