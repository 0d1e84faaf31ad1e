package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionSizes(t *testing.T) {
	tests := []struct {
		name    string
		n       int64
		workers int
		want    []int64
	}{
		{name: "even split", n: 12, workers: 4, want: []int64{3, 3, 3, 3}},
		{name: "remainder to first ranks", n: 7, workers: 3, want: []int64{3, 2, 2}},
		{name: "single worker owns everything", n: 10, workers: 1, want: []int64{10}},
		{name: "no items", n: 0, workers: 3, want: []int64{0, 0, 0}},
		{name: "more workers than items", n: 2, workers: 5, want: []int64{1, 1, 0, 0, 0}},
		{name: "large n", n: 10_000_000_001, workers: 4, want: []int64{2_500_000_001, 2_500_000_000, 2_500_000_000, 2_500_000_000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Partition(tt.n, tt.workers)
			require.NoError(t, err)
			assert.Equal(t, tt.want, plan.Sizes())
			assert.Equal(t, tt.n, plan.Total())
			assert.NoError(t, plan.Validate(tt.n))
		})
	}
}

func TestPartitionCoverage(t *testing.T) {
	// Every index in [0, n) must be owned by exactly one rank.
	for n := int64(0); n <= 40; n++ {
		for workers := 1; workers <= 9; workers++ {
			plan, err := Partition(n, workers)
			require.NoError(t, err)
			require.Len(t, plan, workers)

			seen := make([]int, n)
			for _, a := range plan {
				for i := a.Offset; i < a.End(); i++ {
					seen[i]++
				}
			}
			for i, c := range seen {
				if c != 1 {
					t.Fatalf("n=%d workers=%d: index %d owned %d times", n, workers, i, c)
				}
			}
		}
	}
}

func TestPartitionDeterministic(t *testing.T) {
	a, err := Partition(7, 3)
	require.NoError(t, err)
	b, err := Partition(7, 3)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, Plan{
		{Rank: 0, Offset: 0, Count: 3},
		{Rank: 1, Offset: 3, Count: 2},
		{Rank: 2, Offset: 5, Count: 2},
	}, a)
}

func TestPartitionInvalid(t *testing.T) {
	_, err := Partition(-1, 2)
	assert.ErrorIs(t, err, ErrInvalidPartition)

	_, err = Partition(10, 0)
	assert.ErrorIs(t, err, ErrInvalidPartition)
}

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name string
		plan Plan
		n    int64
	}{
		{name: "empty", plan: Plan{}, n: 0},
		{name: "gap", plan: Plan{{Rank: 0, Offset: 0, Count: 2}, {Rank: 1, Offset: 3, Count: 2}}, n: 5},
		{name: "overlap", plan: Plan{{Rank: 0, Offset: 0, Count: 3}, {Rank: 1, Offset: 2, Count: 3}}, n: 5},
		{name: "drops trailing items", plan: Plan{{Rank: 0, Offset: 0, Count: 2}, {Rank: 1, Offset: 2, Count: 2}}, n: 5},
		{name: "ranks out of order", plan: Plan{{Rank: 1, Offset: 0, Count: 2}, {Rank: 0, Offset: 2, Count: 3}}, n: 5},
		{name: "negative count", plan: Plan{{Rank: 0, Offset: 0, Count: -1}}, n: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.plan.Validate(tt.n), ErrInvalidPartition)
		})
	}
}

func TestPlanSlice(t *testing.T) {
	data := []float32{0, 1, 2, 3, 4, 5, 6}
	plan, err := Partition(int64(len(data)), 3)
	require.NoError(t, err)

	var joined []float32
	for r := range plan {
		s, err := plan.Slice(data, r)
		require.NoError(t, err)
		assert.Len(t, s, int(plan[r].Count))
		joined = append(joined, s...)
	}
	assert.Equal(t, data, joined)

	_, err = plan.Slice(data, 3)
	assert.ErrorIs(t, err, ErrInvalidPartition)

	_, err = plan.Slice(data[:3], 2)
	assert.ErrorIs(t, err, ErrInvalidPartition)
}
