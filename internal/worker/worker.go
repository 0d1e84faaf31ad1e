// Package worker implements the worker role of a histogram run: it accepts
// the broadcast run configuration, stores the slice it is sent, bins it on
// request and drops it on release.
package worker

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/disthist/internal/cluster"
	"github.com/dreamware/disthist/internal/histogram"
	"github.com/dreamware/disthist/internal/partition"
	"github.com/dreamware/disthist/internal/storage"
)

// Phase is the position of a worker in the run protocol
type Phase string

const (
	// PhaseIdle means no run configuration has arrived yet
	PhaseIdle Phase = "idle"
	// PhaseConfigured means the run configuration is known
	PhaseConfigured Phase = "configured"
	// PhaseLoaded means the worker holds its full slice
	PhaseLoaded Phase = "loaded"
	// PhaseComputed means the local histogram has been produced
	PhaseComputed Phase = "computed"
	// PhaseReleased means the run is over and the slice was dropped
	PhaseReleased Phase = "released"
)

var (
	// ErrNotReady is returned when a step arrives before its prerequisites.
	ErrNotReady = errors.New("worker not ready")
	// ErrUnknownRun is returned for a run ID the worker was not configured with.
	ErrUnknownRun = errors.New("unknown run")
	// ErrBadSlice is returned when a slice does not match the worker's assignment.
	ErrBadSlice = errors.New("slice does not match assignment")
	// ErrInvalidRun is returned for a run configuration the worker cannot use.
	ErrInvalidRun = errors.New("invalid run configuration")
	// ErrReleased is returned for any request after the run was released.
	ErrReleased = errors.New("run released")
)

// Stats tracks operation counts
type Stats struct {
	Slices   uint64 // Slices received
	Samples  uint64 // Samples binned
	Computes uint64 // Local histograms produced
}

// Info contains metadata about the worker
type Info struct {
	ID      string       `json:"id"`
	Role    cluster.Role `json:"role"`
	Phase   Phase        `json:"phase"`
	RunID   string       `json:"run_id,omitempty"`
	Rank    int          `json:"rank"`
	Samples int64        `json:"samples"`
	Stats   Stats        `json:"stats"`
}

// Worker holds the state of one member for a single run
type Worker struct {
	ID    string        // Member identifier, matches the registry entry
	Role  cluster.Role  // Coordinator or plain worker
	Store storage.Store // Local slice storage

	stats Stats

	mu         sync.Mutex
	phase      Phase
	run        cluster.RunConfig
	assignment partition.Assignment
	result     *cluster.LocalResult

	done     chan struct{}
	doneOnce sync.Once
}

// New creates a worker with in-memory slice storage
func New(id string, role cluster.Role) *Worker {
	return &Worker{
		ID:    id,
		Role:  role,
		Store: storage.NewMemoryStore(),
		phase: PhaseIdle,
		done:  make(chan struct{}),
	}
}

// Done is closed once the run has been released
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Phase returns the current protocol phase
func (w *Worker) Phase() Phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.phase
}

// Configure accepts the broadcast run configuration. The worker finds its own
// rank and assignment in it. Receiving the same run twice is a no-op.
func (w *Worker) Configure(cfg cluster.RunConfig) error {
	if cfg.RunID == "" {
		return fmt.Errorf("%w: missing run ID", ErrInvalidRun)
	}
	if err := cfg.Bins.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRun, err)
	}
	if err := cfg.Plan.Validate(cfg.Items); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRun, err)
	}
	if len(cfg.Members) != len(cfg.Plan) {
		return fmt.Errorf("%w: %d members for %d assignments", ErrInvalidRun, len(cfg.Members), len(cfg.Plan))
	}
	idx := slices.IndexFunc(cfg.Members, func(n cluster.NodeInfo) bool { return n.ID == w.ID })
	if idx < 0 {
		return fmt.Errorf("%w: %s is not a member", ErrInvalidRun, w.ID)
	}
	rank := cfg.Members[idx].Rank
	if rank < 0 || rank >= len(cfg.Plan) {
		return fmt.Errorf("%w: rank %d out of range", ErrInvalidRun, rank)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.phase {
	case PhaseReleased:
		return ErrReleased
	case PhaseIdle:
	default:
		if w.run.RunID == cfg.RunID {
			return nil
		}
		return fmt.Errorf("%w: busy with run %s", ErrNotReady, w.run.RunID)
	}

	w.run = cfg
	w.assignment = cfg.Plan[rank]
	w.phase = PhaseConfigured
	return nil
}

// Expect returns the assignment a slice for runID must match. It fails unless
// the worker is configured for that run and still waiting for its slice.
func (w *Worker) Expect(runID string) (partition.Assignment, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkRun(runID); err != nil {
		return partition.Assignment{}, err
	}
	if w.phase != PhaseConfigured {
		return partition.Assignment{}, fmt.Errorf("%w: slice received in phase %s", ErrNotReady, w.phase)
	}
	return w.assignment, nil
}

// Load stores the slice for the configured run. The offset and length must
// match the worker's assignment.
func (w *Worker) Load(runID string, offset int64, samples []float32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkRun(runID); err != nil {
		return err
	}
	if w.phase != PhaseConfigured {
		return fmt.Errorf("%w: slice received in phase %s", ErrNotReady, w.phase)
	}
	if offset != w.assignment.Offset || int64(len(samples)) != w.assignment.Count {
		return fmt.Errorf("%w: got [%d, +%d), want [%d, +%d)", ErrBadSlice,
			offset, len(samples), w.assignment.Offset, w.assignment.Count)
	}

	if err := w.Store.Put(storage.Slice{RunID: runID, Offset: offset, Samples: samples}); err != nil {
		return err
	}
	atomic.AddUint64(&w.stats.Slices, 1)
	w.phase = PhaseLoaded
	return nil
}

// Compute bins the stored slice. Asking again for the same run returns the
// histogram computed the first time.
func (w *Worker) Compute(runID string) (cluster.LocalResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkRun(runID); err != nil {
		return cluster.LocalResult{}, err
	}
	switch w.phase {
	case PhaseComputed:
		return *w.result, nil
	case PhaseLoaded:
	default:
		return cluster.LocalResult{}, fmt.Errorf("%w: compute requested in phase %s", ErrNotReady, w.phase)
	}

	s, err := w.Store.Get(runID)
	if err != nil {
		return cluster.LocalResult{}, err
	}

	start := time.Now()
	counts := histogram.Build(s.Samples, w.run.Bins)
	elapsed := time.Since(start)

	atomic.AddUint64(&w.stats.Samples, uint64(len(s.Samples)))
	atomic.AddUint64(&w.stats.Computes, 1)

	w.result = &cluster.LocalResult{
		RunID:   runID,
		NodeID:  w.ID,
		Rank:    w.assignment.Rank,
		Samples: int64(len(s.Samples)),
		Counts:  counts,
		Elapsed: elapsed,
	}
	w.phase = PhaseComputed
	return *w.result, nil
}

// Release ends the run: the slice is dropped and Done is closed.
func (w *Worker) Release(runID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkRun(runID); err != nil {
		return err
	}
	if err := w.Store.Delete(runID); err != nil {
		return err
	}
	w.result = nil
	w.phase = PhaseReleased
	w.doneOnce.Do(func() { close(w.done) })
	return nil
}

// checkRun must be called with mu held
func (w *Worker) checkRun(runID string) error {
	if w.phase == PhaseReleased {
		return ErrReleased
	}
	if w.phase == PhaseIdle {
		return fmt.Errorf("%w: no run configured", ErrNotReady)
	}
	if runID != w.run.RunID {
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return nil
}

// Info returns a snapshot of the worker state
func (w *Worker) Info() Info {
	w.mu.Lock()
	phase, runID, a := w.phase, w.run.RunID, w.assignment
	w.mu.Unlock()

	return Info{
		ID:      w.ID,
		Role:    w.Role,
		Phase:   phase,
		RunID:   runID,
		Rank:    a.Rank,
		Samples: w.Store.Stats().Samples,
		Stats: Stats{
			Slices:   atomic.LoadUint64(&w.stats.Slices),
			Samples:  atomic.LoadUint64(&w.stats.Samples),
			Computes: atomic.LoadUint64(&w.stats.Computes),
		},
	}
}
