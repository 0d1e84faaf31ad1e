// Package verify recomputes a histogram sequentially and reports every bin
// where a distributed result disagrees with it.
package verify

import (
	"fmt"
	"io"

	"github.com/dreamware/disthist/internal/histogram"
)

// Mismatch is one bin whose computed count differs from the reference.
type Mismatch struct {
	Bin  int
	Got  int64
	Want int64
}

func (m Mismatch) String() string {
	return fmt.Sprintf("Mismatch in element %d of the histogram.... your item = %d ... the correct is %d", m.Bin, m.Got, m.Want)
}

// Reference bins data in a single pass with no partitioning.
func Reference(data []float32, cfg histogram.Config) []int64 {
	ref := make([]int64, cfg.Bins)
	binrange := cfg.Range / float32(cfg.Bins)
	for _, x := range data {
		i := 0
		if x > 0 {
			q := x / binrange
			if q >= float32(cfg.Bins) {
				i = cfg.Bins - 1
			} else {
				i = int(q)
			}
		}
		ref[i]++
	}
	return ref
}

// Check compares got against the sequential reference over data. A result
// with the wrong number of bins is reported bin by bin against zero.
func Check(data []float32, got histogram.Global, cfg histogram.Config) []Mismatch {
	ref := Reference(data, cfg)
	n := len(ref)
	if len(got) > n {
		n = len(got)
	}

	var out []Mismatch
	for i := 0; i < n; i++ {
		var g, w int64
		if i < len(got) {
			g = got[i]
		}
		if i < len(ref) {
			w = ref[i]
		}
		if g != w {
			out = append(out, Mismatch{Bin: i, Got: g, Want: w})
		}
	}
	return out
}

// WriteMismatches prints one line per mismatch.
func WriteMismatches(w io.Writer, mismatches []Mismatch) error {
	for _, m := range mismatches {
		if _, err := fmt.Fprintln(w, m.String()); err != nil {
			return err
		}
	}
	return nil
}
