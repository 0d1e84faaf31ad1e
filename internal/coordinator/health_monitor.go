package coordinator

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/dreamware/disthist/internal/cluster"
)

// HealthStatus is the last known liveness of a member.
type HealthStatus string

const (
	StatusUnknown   HealthStatus = "unknown"
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// NodeHealth tracks the liveness of a single member during a run.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type NodeHealth struct {
	LastCheck        time.Time    `json:"last_check"`
	LastHealthy      time.Time    `json:"last_healthy"`
	NodeID           string       `json:"node_id"`
	Status           HealthStatus `json:"status"`
	ConsecutiveFails int          `json:"consecutive_fails"`
}

// HealthMonitor polls every member's /health endpoint while a run is in
// progress and reports members that stop answering.
//
// The monitor is a diagnostic. It never cancels the run or changes the
// membership: a member that dies mid-run still blocks the pending
// collective, and the monitor only makes the cause visible in the log.
//
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	nodes       map[string]*NodeHealth              // Current health status per member
	client      *cluster.Client                     // Client for health checks
	checkFunc   func(context.Context, string) error // Function to perform health check
	onUnhealthy func(nodeID string)                 // Callback when a member becomes unhealthy
	ctx         context.Context                     // Context for cancellation
	cancel      context.CancelFunc                  // Cancel function for shutdown
	interval    time.Duration                       // How often to check member health
	timeout     time.Duration                       // Timeout for a single health check
	mu          sync.RWMutex                        // Protects nodes map
	wg          sync.WaitGroup                      // Wait group for graceful shutdown
	maxFailures int                                 // Failures before marking unhealthy
}

// NewHealthMonitor creates a health monitor that checks each member every
// interval. Members are marked unhealthy after 3 consecutive failures.
//
// Parameters:
//   - interval: How often to perform health checks (default: 5s)
//
// Returns:
//   - *HealthMonitor: Configured health monitor ready to start
//
// Example:
//
//	monitor := NewHealthMonitor(5 * time.Second)
//	go monitor.Start(ctx, registry.Members)
//	defer monitor.Stop()
func NewHealthMonitor(interval time.Duration) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		nodes:       make(map[string]*NodeHealth),
		client:      cluster.NewClient(2 * time.Second),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetOnUnhealthy sets the callback invoked once when a member becomes
// unhealthy. The callback runs on its own goroutine.
//
// Example:
//
//	monitor.SetOnUnhealthy(func(nodeID string) {
//	    log.Printf("member %s is not answering; the run waits for it", nodeID)
//	})
func (h *HealthMonitor) SetOnUnhealthy(callback func(nodeID string)) {
	h.onUnhealthy = callback
}

// SetCheckFunction overrides the default /health probe.
// This is useful for testing.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(ctx context.Context, addr string) error) {
	h.checkFunc = checkFunc
}

// Start runs the monitor in the current goroutine until ctx is canceled or
// Stop is called. nodeProvider is consulted on every tick.
//
// Parameters:
//   - ctx: Context for cancellation (nil uses the monitor's own context)
//   - nodeProvider: Function that returns the current member list
func (h *HealthMonitor) Start(ctx context.Context, nodeProvider func() []cluster.NodeInfo) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}
	if h.checkFunc == nil {
		h.checkFunc = h.defaultHealthCheck
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	log.Printf("health monitor started with interval %v", h.interval)

	h.checkAllNodes(ctx, nodeProvider())

	for {
		select {
		case <-ticker.C:
			h.checkAllNodes(ctx, nodeProvider())
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		}
	}
}

// Stop shuts the monitor down and waits for Start to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

// checkAllNodes probes every member and forgets members no longer listed.
func (h *HealthMonitor) checkAllNodes(ctx context.Context, nodes []cluster.NodeInfo) {
	current := make(map[string]bool, len(nodes))

	for _, node := range nodes {
		current[node.ID] = true
		h.checkNode(ctx, node)
	}

	h.mu.Lock()
	for id := range h.nodes {
		if !current[id] {
			delete(h.nodes, id)
		}
	}
	h.mu.Unlock()
}

// checkNode probes a single member and updates its record.
//
// Implementation:
//  1. Get or create the health record for the member
//  2. Probe without holding the lock
//  3. Track consecutive failures
//  4. Fire the unhealthy callback on the transition only
func (h *HealthMonitor) checkNode(ctx context.Context, node cluster.NodeInfo) {
	h.mu.Lock()
	health, exists := h.nodes[node.ID]
	if !exists {
		now := time.Now()
		health = &NodeHealth{NodeID: node.ID, Status: StatusUnknown, LastCheck: now, LastHealthy: now}
		h.nodes[node.ID] = health
	}
	h.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, h.timeout)
	err := h.checkFunc(cctx, node.Addr)
	cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()

	if err != nil {
		health.ConsecutiveFails++
		log.Printf("health check failed for %s (rank %d, attempt %d/%d): %v",
			node.ID, node.Rank, health.ConsecutiveFails, h.maxFailures, err)

		if health.ConsecutiveFails >= h.maxFailures && health.Status != StatusUnhealthy {
			health.Status = StatusUnhealthy
			log.Printf("member %s marked unhealthy after %d failures", node.ID, health.ConsecutiveFails)
			if h.onUnhealthy != nil {
				go h.onUnhealthy(node.ID)
			}
		}
		return
	}

	if health.Status == StatusUnhealthy {
		log.Printf("member %s is answering again", node.ID)
	}
	health.Status = StatusHealthy
	health.ConsecutiveFails = 0
	health.LastHealthy = time.Now()
}

// defaultHealthCheck GETs the member's /health endpoint.
func (h *HealthMonitor) defaultHealthCheck(ctx context.Context, addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = "http://" + addr
	}
	url = strings.TrimRight(url, "/") + cluster.PathHealth
	return h.client.GetJSON(ctx, url, nil)
}

// GetNodeHealth returns a copy of a member's record, or nil if the member
// is not monitored.
func (h *HealthMonitor) GetNodeHealth(nodeID string) *NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.nodes[nodeID]
	if !exists {
		return nil
	}
	cp := *health
	return &cp
}

// GetAllNodeHealth returns copies of every member's record keyed by ID.
func (h *HealthMonitor) GetAllNodeHealth() map[string]*NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[string]*NodeHealth, len(h.nodes))
	for id, health := range h.nodes {
		cp := *health
		result[id] = &cp
	}
	return result
}

// IsHealthy reports whether a member answered its last check.
func (h *HealthMonitor) IsHealthy(nodeID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.nodes[nodeID]
	return exists && health.Status == StatusHealthy
}
