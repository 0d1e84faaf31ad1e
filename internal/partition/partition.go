// Package partition decides which contiguous range of the dataset each
// worker is responsible for.
package partition

import (
	"errors"
	"fmt"
)

// ErrInvalidPartition is returned for negative item counts, a non-positive
// worker count, or a plan that does not cover the dataset exactly once.
var ErrInvalidPartition = errors.New("invalid partition")

// Assignment is the slice of the dataset owned by one worker rank.
//
// The slice covers indexes [Offset, Offset+Count). Count may be zero when
// there are more workers than items.
type Assignment struct {
	Rank   int   `json:"rank"`
	Offset int64 `json:"offset"`
	Count  int64 `json:"count"`
}

// End returns the exclusive end index of the assignment.
func (a Assignment) End() int64 {
	return a.Offset + a.Count
}

// Plan holds one Assignment per rank, ordered by rank.
type Plan []Assignment

// Partition splits n items over the given number of workers.
//
// Remainder policy:
//   - Every rank receives floor(n/workers) items
//   - The first n mod workers ranks receive one extra item
//   - Ranges are laid out contiguously in rank order
//
// For n=7 and workers=3 the sizes are {3, 2, 2}. For n=0 every rank gets an
// empty range at offset 0. For workers=1 the single rank owns [0, n).
//
// Parameters:
//   - n: Number of items in the dataset (must be >= 0)
//   - workers: Number of participating ranks (must be >= 1)
//
// Returns:
//   - Plan with exactly workers entries
//   - ErrInvalidPartition for out-of-range arguments
func Partition(n int64, workers int) (Plan, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: item count %d is negative", ErrInvalidPartition, n)
	}
	if workers < 1 {
		return nil, fmt.Errorf("%w: worker count %d must be positive", ErrInvalidPartition, workers)
	}

	p := int64(workers)
	base := n / p
	extra := n % p

	plan := make(Plan, workers)
	var offset int64
	for r := 0; r < workers; r++ {
		count := base
		if int64(r) < extra {
			count++
		}
		plan[r] = Assignment{Rank: r, Offset: offset, Count: count}
		offset += count
	}
	return plan, nil
}

// Total returns the number of items covered by the plan.
func (p Plan) Total() int64 {
	var n int64
	for _, a := range p {
		n += a.Count
	}
	return n
}

// Sizes returns the per-rank item counts.
func (p Plan) Sizes() []int64 {
	out := make([]int64, len(p))
	for i, a := range p {
		out[i] = a.Count
	}
	return out
}

// Validate checks that the plan covers [0, n) exactly once: ranks appear in
// order, the first range starts at 0, each range starts where the previous
// one ended, and the last one ends at n.
func (p Plan) Validate(n int64) error {
	if len(p) == 0 {
		return fmt.Errorf("%w: empty plan", ErrInvalidPartition)
	}
	var next int64
	for i, a := range p {
		if a.Rank != i {
			return fmt.Errorf("%w: entry %d has rank %d", ErrInvalidPartition, i, a.Rank)
		}
		if a.Count < 0 {
			return fmt.Errorf("%w: rank %d has negative count %d", ErrInvalidPartition, a.Rank, a.Count)
		}
		if a.Offset != next {
			return fmt.Errorf("%w: rank %d starts at %d, want %d", ErrInvalidPartition, a.Rank, a.Offset, next)
		}
		next = a.End()
	}
	if next != n {
		return fmt.Errorf("%w: plan covers %d items, want %d", ErrInvalidPartition, next, n)
	}
	return nil
}

// Slice returns the portion of data assigned to rank. The returned slice
// aliases data.
func (p Plan) Slice(data []float32, rank int) ([]float32, error) {
	if rank < 0 || rank >= len(p) {
		return nil, fmt.Errorf("%w: rank %d out of range [0, %d)", ErrInvalidPartition, rank, len(p))
	}
	a := p[rank]
	if a.End() > int64(len(data)) {
		return nil, fmt.Errorf("%w: rank %d ends at %d beyond %d items", ErrInvalidPartition, rank, a.End(), len(data))
	}
	return data[a.Offset:a.End():a.End()], nil
}
