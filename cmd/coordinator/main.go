// Package main implements the histogram coordinator. It owns the dataset,
// admits worker nodes, drives the distributed run, checks the result against
// a sequential recomputation and prints the histogram.
//
// Usage:
//
//	coordinator [flags] <num_items> <num_bins>
//
// Flags:
//   - -workers: Member count including the coordinator (default $HIST_WORKERS or 1)
//   - -seed: Dataset seed, 0 seeds from the clock (default $HIST_SEED or 0)
//   - -config: YAML settings file (default $HIST_CONFIG)
//
// Environment:
//   - COORDINATOR_ADDR: Listen address (default ":8080")
//   - COORDINATOR_PUBLIC: Address members use to reach the coordinator's own
//     worker (default "http://127.0.0.1:8080")
//   - HIST_HEALTH_INTERVAL: Period of member health probes (default "5s")
//
// HTTP API:
//
//	POST /register   - Node registration, answers with the assigned rank
//	GET  /nodes      - Registered members in rank order
//	GET  /health     - Liveness probe
//	/run/*, /info    - The coordinator's own worker (rank 0)
//
// Example:
//
//	HIST_WORKERS=3 ./coordinator 1000000 10 &
//	NODE_ID=n1 NODE_LISTEN=:8081 NODE_ADDR=http://127.0.0.1:8081 COORDINATOR_ADDR=http://127.0.0.1:8080 ./node &
//	NODE_ID=n2 NODE_LISTEN=:8082 NODE_ADDR=http://127.0.0.1:8082 COORDINATOR_ADDR=http://127.0.0.1:8080 ./node &
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dreamware/disthist/internal/cluster"
	"github.com/dreamware/disthist/internal/collective"
	"github.com/dreamware/disthist/internal/config"
	"github.com/dreamware/disthist/internal/coordinator"
	"github.com/dreamware/disthist/internal/dataset"
	"github.com/dreamware/disthist/internal/histogram"
	"github.com/dreamware/disthist/internal/verify"
	"github.com/dreamware/disthist/internal/worker"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

const usage = "You need to enter two items (in the following orders):\n" +
	"Number of data items: [1, 10000000000]\n" +
	"Number of bins: positive integer\n"

const maxItems = 10000000000

var errUsage = errors.New("usage")

// options are the command line settings of one invocation.
type options struct {
	items      int64
	bins       int
	workers    int
	seed       uint64
	seedSet    bool
	configPath string
}

// parseArgs reads flags and the two positional arguments. Any problem with
// them is reported as errUsage.
func parseArgs(args []string, getenv func(string) string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("coordinator", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&opts.workers, "workers", 0, "member count including the coordinator")
	fs.Uint64Var(&opts.seed, "seed", 0, "dataset seed, 0 seeds from the clock")
	fs.StringVar(&opts.configPath, "config", getenv(config.EnvConfigFile), "YAML settings file")
	if err := fs.Parse(args); err != nil {
		return options{}, fmt.Errorf("%w: %v", errUsage, err)
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			opts.seedSet = true
		}
	})

	if fs.NArg() != 2 {
		return options{}, fmt.Errorf("%w: expected 2 arguments, got %d", errUsage, fs.NArg())
	}
	items, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil || items < 1 || items > maxItems {
		return options{}, fmt.Errorf("%w: bad number of items %q", errUsage, fs.Arg(0))
	}
	bins, err := strconv.Atoi(fs.Arg(1))
	if err != nil || bins < 1 {
		return options{}, fmt.Errorf("%w: bad number of bins %q", errUsage, fs.Arg(1))
	}
	if opts.workers < 0 {
		return options{}, fmt.Errorf("%w: negative worker count", errUsage)
	}
	opts.items = int64(items)
	opts.bins = bins
	return opts, nil
}

// apply lets explicit flags win over file and environment settings.
func (o options) apply(cfg *config.Coordinator) {
	if o.workers > 0 {
		cfg.Workers = o.workers
	}
	if o.seedSet {
		cfg.Seed = o.seed
	}
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Print(usage)
		os.Exit(1)
	}
	cfg, err := config.LoadCoordinator(opts.configPath, os.Getenv)
	if err != nil {
		log.Printf("coordinator: %v", err)
		fmt.Print(usage)
		os.Exit(1)
	}
	opts.apply(&cfg)

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		logFatal("listen: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, ln, cfg, opts, os.Stdout); err != nil {
		logFatal("coordinator: %v", err)
	}
	log.Println("coordinator stopped")
}

// run serves the coordinator on ln for one histogram run and writes the
// diagnostics and report to out.
//
// Steps:
//  1. Generate the dataset
//  2. Serve registration and the coordinator's own worker
//  3. Wait until every member has registered
//  4. Run the job with the health monitor watching
//  5. Check the global histogram and print the report
func run(ctx context.Context, ln net.Listener, cfg config.Coordinator, opts options, out io.Writer) error {
	bins := histogram.NewConfig(opts.bins)
	if err := bins.Validate(); err != nil {
		return err
	}
	data, err := dataset.Generate(opts.items, bins.Range, cfg.Seed)
	if err != nil {
		return err
	}

	self := worker.New(cfg.ID, cluster.RoleCoordinator)
	reg, err := coordinator.NewRegistry(cfg.Workers, cluster.NodeInfo{ID: cfg.ID, Addr: cfg.PublicAddr})
	if err != nil {
		return err
	}
	srv := newServer(reg, self)

	httpSrv := &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("coordinator listening on %s (public %s)", ln.Addr(), cfg.PublicAddr)
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(sctx)
	}()

	log.Printf("coordinator: waiting for %d members", cfg.Workers)
	members, err := reg.Wait(ctx)
	if err != nil {
		return err
	}

	monitor := coordinator.NewHealthMonitor(cfg.HealthInterval)
	monitor.SetOnUnhealthy(func(nodeID string) {
		log.Printf("coordinator: member %s stopped answering; the run waits for it", nodeID)
	})
	go monitor.Start(ctx, reg.Members)
	defer monitor.Stop()

	comm, err := collective.New(members, nil)
	if err != nil {
		return err
	}
	report, err := coordinator.NewJob(comm, bins).Run(ctx, data)
	if err != nil {
		return err
	}

	mismatches := verify.Check(data, report.Global, bins)
	if len(mismatches) > 0 {
		log.Printf("coordinator: %d bins differ from the sequential count", len(mismatches))
	}
	if err := verify.WriteMismatches(out, mismatches); err != nil {
		return err
	}
	return coordinator.WriteReport(out, report)
}

// server holds the coordinator's HTTP state.
type server struct {
	registry *coordinator.Registry
	self     *worker.Worker
}

func newServer(reg *coordinator.Registry, self *worker.Worker) *server {
	return &server{registry: reg, self: self}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/register", s.handleRegister)
	mux.HandleFunc("/nodes", s.handleListNodes)
	mux.HandleFunc(cluster.PathHealth, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	self := worker.NewHandler(s.self)
	mux.Handle("/run/", self)
	mux.Handle(cluster.PathInfo, self)
	return mux
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	resp, err := s.registry.Register(req.Node)
	switch {
	case errors.Is(err, coordinator.ErrInvalidNode):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, coordinator.ErrRegistryFull):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Printf("coordinator: registered %s as rank %d (%d/%d)",
		req.Node.ID, resp.Rank, s.registry.Registered(), s.registry.Size())

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Nodes []cluster.NodeInfo `json:"nodes"`
		Size  int                `json:"size"`
	}{Nodes: s.registry.Members(), Size: s.registry.Size()})
}
