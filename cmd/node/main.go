// Package main implements the histogram worker node. A node registers with
// the coordinator, receives its slice of the dataset, bins it when asked and
// exits once the coordinator releases the run.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│                Node                     │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /run/config   - Run configuration    │
//	│    /run/slice    - Slice upload         │
//	│    /run/compute  - Local histogram      │
//	│    /run/release  - End of run           │
//	│    /health       - Health check         │
//	│    /info         - Node information     │
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    Worker        - Run state machine    │
//	│    Store         - Slice storage        │
//	│    Registration  - Coordinator link     │
//	└─────────────────────────────────────────┘
//
// Configuration:
//   - NODE_ID: Unique node identifier (default: "node-<uuid>")
//   - NODE_LISTEN: Listen address (default: ":8081")
//   - NODE_ADDR: Public address for coordinator (default: "http://127.0.0.1:8081")
//   - COORDINATOR_ADDR: Coordinator URL (required)
//   - HIST_REGISTER_ATTEMPTS: Registration attempts (default: 10)
//   - HIST_CONFIG: Optional YAML settings file
//
// Example usage:
//
//	NODE_ID=node-1 \
//	NODE_LISTEN=:8081 \
//	NODE_ADDR=http://localhost:8081 \
//	COORDINATOR_ADDR=http://localhost:8080 \
//	./node
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/dreamware/disthist/internal/cluster"
	"github.com/dreamware/disthist/internal/config"
	"github.com/dreamware/disthist/internal/worker"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
// This indirection enables test code to intercept fatal errors
// without actually terminating the test process.
var logFatal = log.Fatalf

// main registers the node and serves one run.
//
// The main function:
//  1. Loads configuration from the environment (and HIST_CONFIG)
//  2. Creates the worker and its HTTP endpoints
//  3. Registers with the coordinator (with retries)
//  4. Serves until the run is released or a shutdown signal arrives
//  5. Performs graceful shutdown
//
// Exit codes:
//   - 0: Run released, or shutdown via signal
//   - 1: Invalid configuration
//   - 1: Failed to register with coordinator
//   - 1: Failed to start HTTP server
func main() {
	cfg, err := config.LoadNode(os.Getenv(config.EnvConfigFile), os.Getenv)
	if err != nil {
		logFatal("node: %v", err)
		return
	}
	if cfg.ID == "" {
		cfg.ID = "node-" + uuid.NewString()
	}

	w := worker.New(cfg.ID, cluster.RoleWorker)
	s := &http.Server{
		Addr:              cfg.Listen,
		Handler:           worker.NewHandler(w),
		ReadHeaderTimeout: 5 * time.Second, // Prevent slowloris attacks
	}

	go func() {
		log.Printf("node[%s] listening on %s (public %s)", cfg.ID, cfg.Listen, cfg.PublicAddr)
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resp, ok := register(ctx, cfg)
	if ok {
		log.Printf("node[%s] registered as rank %d of %d", cfg.ID, resp.Rank, resp.Size)
	}

	select {
	case <-w.Done():
		log.Printf("node[%s] run released", cfg.ID)
	case <-ctx.Done():
		log.Printf("node[%s] interrupted in phase %s", cfg.ID, w.Phase())
	}

	// Shutdown waits for the release response to be written
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(sctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Printf("node[%s] stopped", cfg.ID)
}

// register announces the node to the coordinator, retrying on failure to
// handle coordinator startup delays or temporary network issues.
//
// Retry strategy:
//   - cfg.RegisterAttempts attempts (default 10)
//   - cfg.RegisterDelay between attempts (default 400ms)
//   - A 400 or 409 answer is final: the coordinator rejected the node
//   - Fatal error if all attempts fail
//
// Registration only happens at bootstrap. Once the run has started there
// are no retries anywhere in the protocol.
//
// Returns:
//   - The assigned rank and run size, and true on success
//   - false after logFatal was called
func register(ctx context.Context, cfg config.Node) (cluster.RegisterResponse, bool) {
	url := strings.TrimRight(cfg.Coordinator, "/") + "/register"
	body := cluster.RegisterRequest{Node: cluster.NodeInfo{ID: cfg.ID, Addr: cfg.PublicAddr}}
	var lastErr error

	for i := 0; i < cfg.RegisterAttempts; i++ {
		var resp cluster.RegisterResponse
		lastErr = cluster.PostJSON(ctx, url, body, &resp)
		if lastErr == nil {
			log.Printf("registered with coordinator @ %s", cfg.Coordinator)
			return resp, true
		}
		var se *cluster.StatusError
		if errors.As(lastErr, &se) && (se.Code == http.StatusBadRequest || se.Code == http.StatusConflict) {
			break
		}
		log.Printf("register retry %d: %v", i+1, lastErr)

		select {
		case <-time.After(cfg.RegisterDelay):
		case <-ctx.Done():
			logFatal("registration interrupted: %v", ctx.Err())
			return cluster.RegisterResponse{}, false
		}
	}

	// Node cannot take part in a run without a rank
	logFatal("failed to register with coordinator: %v", lastErr)
	return cluster.RegisterResponse{}, false
}
