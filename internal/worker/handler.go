package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/dreamware/disthist/internal/cluster"
	"github.com/dreamware/disthist/internal/wire"
)

// NewHandler returns the HTTP surface of a worker.
//
// Endpoints:
//   - POST /run/config  - Accept the broadcast RunConfig
//   - POST /run/slice   - Receive the worker's slice (wire format body)
//   - POST /run/compute - Bin the slice, answer with a LocalResult
//   - POST /run/release - End the run and drop the slice
//   - GET  /info        - Worker state for debugging
//   - GET  /health      - Liveness probe
//
// Status codes:
//   - 204 No Content: Step accepted
//   - 400 Bad Request: Malformed body, headers, or a slice that fails its checksum
//   - 405 Method Not Allowed: Wrong HTTP method
//   - 409 Conflict: Step out of order, unknown run, or run already released
//   - 500 Internal Server Error: Storage failure
//
// The coordinator serves the same handler for its own rank, so every member
// receives its slice through identical code.
func NewHandler(w *Worker) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(cluster.PathHealth, func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc(cluster.PathInfo, func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(rw, w.Info())
	})
	mux.HandleFunc(cluster.PathConfig, post(func(rw http.ResponseWriter, r *http.Request) {
		handleConfig(w, rw, r)
	}))
	mux.HandleFunc(cluster.PathSlice, post(func(rw http.ResponseWriter, r *http.Request) {
		handleSlice(w, rw, r)
	}))
	mux.HandleFunc(cluster.PathCompute, post(func(rw http.ResponseWriter, r *http.Request) {
		handleCompute(w, rw, r)
	}))
	mux.HandleFunc(cluster.PathRelease, post(func(rw http.ResponseWriter, r *http.Request) {
		handleRelease(w, rw, r)
	}))
	return mux
}

func post(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(rw, r)
	}
}

func handleConfig(w *Worker, rw http.ResponseWriter, r *http.Request) {
	var cfg cluster.RunConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(rw, "bad json", http.StatusBadRequest)
		return
	}
	if err := w.Configure(cfg); err != nil {
		writeError(rw, err)
		return
	}
	log.Printf("node[%s] configured for run %s (%d bins, %d members)", w.ID, cfg.RunID, cfg.Bins.Bins, cfg.Size())
	rw.WriteHeader(http.StatusNoContent)
}

// handleSlice decodes the body straight into the slice buffer and verifies
// its checksum before it is stored. The advertised count and body length are
// checked against the assignment first, so nothing is allocated for a slice
// the worker would refuse.
func handleSlice(w *Worker, rw http.ResponseWriter, r *http.Request) {
	runID := r.Header.Get(wire.HeaderRunID)
	offset, err := strconv.ParseInt(r.Header.Get(wire.HeaderOffset), 10, 64)
	if err != nil {
		http.Error(rw, "invalid slice offset", http.StatusBadRequest)
		return
	}
	count, err := strconv.ParseInt(r.Header.Get(wire.HeaderCount), 10, 64)
	if err != nil || count < 0 {
		http.Error(rw, "invalid slice count", http.StatusBadRequest)
		return
	}
	sum, err := wire.ParseChecksum(r.Header.Get(wire.HeaderChecksum))
	if err != nil {
		http.Error(rw, "invalid slice checksum", http.StatusBadRequest)
		return
	}

	want, err := w.Expect(runID)
	if err != nil {
		writeError(rw, err)
		return
	}
	if offset != want.Offset || count != want.Count {
		writeError(rw, fmt.Errorf("%w: got [%d, +%d), want [%d, +%d)", ErrBadSlice,
			offset, count, want.Offset, want.Count))
		return
	}
	// -1 means the length is unknown; Decode still reads at most count samples
	if r.ContentLength >= 0 && r.ContentLength != count*wire.SampleSize {
		http.Error(rw, fmt.Sprintf("body is %d bytes, want %d", r.ContentLength, count*wire.SampleSize), http.StatusBadRequest)
		return
	}

	samples, err := wire.Decode(r.Body, count, sum)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}
	if err := w.Load(runID, offset, samples); err != nil {
		writeError(rw, err)
		return
	}
	log.Printf("node[%s] received %d samples at offset %d", w.ID, count, offset)
	rw.WriteHeader(http.StatusNoContent)
}

func handleCompute(w *Worker, rw http.ResponseWriter, r *http.Request) {
	var ref cluster.RunRef
	if err := json.NewDecoder(r.Body).Decode(&ref); err != nil {
		http.Error(rw, "bad json", http.StatusBadRequest)
		return
	}
	res, err := w.Compute(ref.RunID)
	if err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, res)
}

func handleRelease(w *Worker, rw http.ResponseWriter, r *http.Request) {
	var ref cluster.RunRef
	if err := json.NewDecoder(r.Body).Decode(&ref); err != nil {
		http.Error(rw, "bad json", http.StatusBadRequest)
		return
	}
	if err := w.Release(ref.RunID); err != nil {
		writeError(rw, err)
		return
	}
	log.Printf("node[%s] released run %s", w.ID, ref.RunID)
	rw.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotReady), errors.Is(err, ErrUnknownRun), errors.Is(err, ErrReleased):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidRun), errors.Is(err, ErrBadSlice):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(rw http.ResponseWriter, err error) {
	http.Error(rw, err.Error(), statusFor(err))
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}
