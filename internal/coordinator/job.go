package coordinator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/dreamware/disthist/internal/cluster"
	"github.com/dreamware/disthist/internal/collective"
	"github.com/dreamware/disthist/internal/histogram"
	"github.com/dreamware/disthist/internal/partition"
)

// abortReleaseTimeout bounds the release sent after a failed run.
const abortReleaseTimeout = 5 * time.Second

// Report is the outcome of a completed run.
type Report struct {
	RunID   string
	Items   int64
	Bins    histogram.Config
	Plan    partition.Plan
	Global  histogram.Global
	Results []cluster.LocalResult

	// Elapsed covers distribution and reduction, from the moment every
	// member is ready until the global histogram exists at the root.
	Elapsed time.Duration

	// MaxWorkerCompute is the longest local binning time among members.
	MaxWorkerCompute time.Duration
}

// Job drives one histogram run over a fixed communicator.
type Job struct {
	Comm *collective.Comm
	Bins histogram.Config

	// NewRunID is used to name the run; nil selects a random UUID.
	NewRunID func() string
}

// NewJob creates a job that bins with cfg over comm.
func NewJob(comm *collective.Comm, cfg histogram.Config) *Job {
	return &Job{Comm: comm, Bins: cfg}
}

// Run executes the protocol on data:
//
//  1. Partition len(data) across the members in rank order
//  2. Broadcast the run configuration
//  3. Scatter each member's slice
//  4. Reduce the local histograms at the root
//  5. Release every member
//
// Every step completes on all members before the next one starts. Run
// keeps no reference to data once it returns. If a step fails, the members
// are sent a best-effort release and the first error is returned.
func (j *Job) Run(ctx context.Context, data []float32) (Report, error) {
	if err := j.Bins.Validate(); err != nil {
		return Report{}, err
	}
	items := int64(len(data))
	plan, err := partition.Partition(items, j.Comm.Size())
	if err != nil {
		return Report{}, err
	}

	runID := j.runID()
	cfg := cluster.RunConfig{
		RunID:   runID,
		Bins:    j.Bins,
		Items:   items,
		Members: j.Comm.Members(),
		Plan:    plan,
	}
	log.Printf("coordinator: run %s: %d items, %d bins, %d members, sizes %v",
		runID, items, j.Bins.Bins, j.Comm.Size(), plan.Sizes())

	start := time.Now()

	if err := j.Comm.Broadcast(ctx, cfg); err != nil {
		return Report{}, j.abort(ctx, runID, err)
	}
	if err := j.Comm.Scatter(ctx, runID, data, plan); err != nil {
		return Report{}, j.abort(ctx, runID, err)
	}
	global, results, err := j.Comm.Reduce(ctx, runID, j.Bins.Bins)
	if err != nil {
		return Report{}, j.abort(ctx, runID, err)
	}

	elapsed := time.Since(start)

	if got := global.Total(); got != items {
		return Report{}, j.abort(ctx, runID, fmt.Errorf("%w: global histogram counts %d of %d items", collective.ErrResult, got, items))
	}
	if err := j.Comm.Release(ctx, runID); err != nil {
		return Report{}, err
	}

	var slowest time.Duration
	for _, r := range results {
		if r.Elapsed > slowest {
			slowest = r.Elapsed
		}
	}

	return Report{
		RunID:            runID,
		Items:            items,
		Bins:             j.Bins,
		Plan:             plan,
		Global:           global,
		Results:          results,
		Elapsed:          elapsed,
		MaxWorkerCompute: slowest,
	}, nil
}

func (j *Job) runID() string {
	if j.NewRunID != nil {
		return j.NewRunID()
	}
	return uuid.NewString()
}

// abort releases whatever members still answer and returns cause.
func (j *Job) abort(ctx context.Context, runID string, cause error) error {
	log.Printf("coordinator: run %s failed: %v", runID, cause)
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortReleaseTimeout)
	defer cancel()
	if err := j.Comm.Release(rctx, runID); err != nil {
		log.Printf("coordinator: run %s: release after failure: %v", runID, err)
	}
	return cause
}
