package coordinator

import (
	"bufio"
	"fmt"
	"io"
)

// WriteReport prints the elapsed time followed by one "bin i: count" line
// per bin in increasing bin order.
func WriteReport(w io.Writer, r Report) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "Time taken = %.6f seconds\n", r.Elapsed.Seconds())
	fmt.Fprintf(bw, "Slowest worker compute = %.6f seconds\n", r.MaxWorkerCompute.Seconds())
	for _, p := range r.Global.Pairs() {
		fmt.Fprintf(bw, "bin %d: %d\n", p.Bin, p.Count)
	}
	return bw.Flush()
}
