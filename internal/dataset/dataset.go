// Package dataset generates the samples a run bins.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// ErrSize is returned for an item count that cannot be allocated.
var ErrSize = errors.New("invalid dataset size")

// Generate returns n samples drawn uniformly from [0, upper). A zero seed
// seeds the generator from the clock. Rounding can produce a sample equal to
// upper; binning places such samples in the last bin.
func Generate(n int64, upper float32, seed uint64) ([]float32, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d items", ErrSize, n)
	}
	if n > math.MaxInt {
		return nil, fmt.Errorf("%w: %d items exceed addressable memory", ErrSize, n)
	}
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	data := make([]float32, n)
	for i := range data {
		data[i] = r.Float32() * upper
	}
	return data, nil
}
