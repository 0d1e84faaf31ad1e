// Package histogram implements uniform-width binning of float samples and
// the element-wise reduction that combines per-worker partial counts.
package histogram

import (
	"errors"
	"fmt"
)

// DefaultRange is the exclusive upper bound of every sample. Generation,
// binning and verification all share this value.
const DefaultRange float32 = 20.0

var (
	// ErrInvalidConfig is returned when a bin configuration cannot be used.
	ErrInvalidConfig = errors.New("invalid bin configuration")
	// ErrShapeMismatch is returned when histograms of different lengths are combined.
	ErrShapeMismatch = errors.New("histogram length mismatch")
)

// Config describes how samples are classified into bins.
// It is immutable once a run starts and is shared read-only by every worker.
type Config struct {
	Bins  int     `json:"bins" yaml:"bins"`
	Range float32 `json:"range" yaml:"range"`
}

// NewConfig returns a configuration over [0, DefaultRange).
func NewConfig(bins int) Config {
	return Config{Bins: bins, Range: DefaultRange}
}

// Validate reports whether the configuration has at least one bin and a
// positive range.
func (c Config) Validate() error {
	if c.Bins < 1 {
		return fmt.Errorf("%w: bins must be positive, got %d", ErrInvalidConfig, c.Bins)
	}
	if !(c.Range > 0) {
		return fmt.Errorf("%w: range must be positive, got %v", ErrInvalidConfig, c.Range)
	}
	return nil
}

// Width returns the width of one bin, computed in single precision so the
// result matches the sequential check bit for bit.
func (c Config) Width() float32 {
	return c.Range / float32(c.Bins)
}

// BinIndex returns the bin that x falls into. Values at or beyond Range land
// in the last bin; negative values and NaN land in bin 0.
func BinIndex(x float32, c Config) int {
	if !(x > 0) {
		return 0
	}
	q := x / c.Width()
	if q >= float32(c.Bins) {
		return c.Bins - 1
	}
	return int(q)
}

// Local is the partial histogram produced by one worker for its slice.
type Local []int64

// Build bins every sample of a local slice. An empty slice yields a
// histogram of zeros.
func Build(samples []float32, c Config) Local {
	counts := make(Local, c.Bins)
	width := c.Width()
	last := c.Bins - 1
	limit := float32(c.Bins)
	for _, x := range samples {
		if !(x > 0) {
			counts[0]++
			continue
		}
		q := x / width
		if q >= limit {
			counts[last]++
			continue
		}
		counts[int(q)]++
	}
	return counts
}

// Total returns the number of samples binned.
func (l Local) Total() int64 {
	var n int64
	for _, c := range l {
		n += c
	}
	return n
}

// Global is the combined histogram owned by the coordinator.
type Global []int64

// Reduce sums locals element-wise into a new Global of length bins.
// With a single local the result is a copy of it.
func Reduce(bins int, locals ...Local) (Global, error) {
	if bins < 1 {
		return nil, fmt.Errorf("%w: bins must be positive, got %d", ErrInvalidConfig, bins)
	}
	out := make(Global, bins)
	for i, l := range locals {
		if len(l) != bins {
			return nil, fmt.Errorf("%w: local %d has %d bins, want %d", ErrShapeMismatch, i, len(l), bins)
		}
		for b, c := range l {
			out[b] += c
		}
	}
	return out, nil
}

// Total returns the number of samples across all bins.
func (g Global) Total() int64 {
	var n int64
	for _, c := range g {
		n += c
	}
	return n
}

// Pair is one (bin index, count) entry of a report.
type Pair struct {
	Bin   int   `json:"bin"`
	Count int64 `json:"count"`
}

// Pairs lists the bins in increasing index order.
func (g Global) Pairs() []Pair {
	out := make([]Pair, len(g))
	for i, c := range g {
		out[i] = Pair{Bin: i, Count: c}
	}
	return out
}
