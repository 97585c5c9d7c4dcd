package cluster

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Peer health states
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// PeerHealth tracks the health status of a single peer.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type PeerHealth struct {
	LastCheck        time.Time `json:"last_check"`
	LastHealthy      time.Time `json:"last_healthy"`
	Addr             string    `json:"addr"`
	Status           string    `json:"status"`
	ConsecutiveFails int       `json:"consecutive_fails"`
}

// HealthMonitor probes every peer's /health endpoint on an interval.
// A peer that fails maxFailures probes in a row is marked unhealthy; when it
// answers again the onRecovered callback fires, which the node uses to
// schedule reconciliation and pull whatever replication missed meanwhile.
type HealthMonitor struct {
	peers       map[string]*PeerHealth
	httpClient  *http.Client
	checkFunc   func(addr string) error
	onRecovered func(addr string)
	ctx         context.Context
	cancel      context.CancelFunc
	log         zerolog.Logger
	interval    time.Duration
	mu          sync.RWMutex
	wg          sync.WaitGroup
	maxFailures int
}

// NewHealthMonitor creates a monitor that probes every interval.
// Peers are marked unhealthy after 3 consecutive failures.
func NewHealthMonitor(interval time.Duration, log zerolog.Logger) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &HealthMonitor{
		interval:    interval,
		maxFailures: 3,
		peers:       make(map[string]*PeerHealth),
		httpClient:  &http.Client{Timeout: 2 * time.Second},
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetOnRecovered sets the callback invoked (in its own goroutine) when a peer
// goes from unhealthy back to healthy.
func (h *HealthMonitor) SetOnRecovered(callback func(addr string)) {
	h.onRecovered = callback
}

// SetCheckFunction overrides the probe, mainly for tests.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(addr string) error) {
	h.checkFunc = checkFunc
}

// Start runs the probe loop until ctx or Stop cancels it. It blocks.
func (h *HealthMonitor) Start(ctx context.Context, peers []string) {
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

	h.log.Info().Dur("interval", h.interval).Int("peers", len(peers)).Msg("peer health monitor started")

	h.checkAll(peers)

	for {
		select {
		case <-ticker.C:
			h.checkAll(peers)
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		}
	}
}

// Stop cancels the probe loop and waits for it to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

func (h *HealthMonitor) checkAll(peers []string) {
	for _, addr := range peers {
		h.checkPeer(addr)
	}
}

func (h *HealthMonitor) checkPeer(addr string) {
	h.mu.Lock()
	health, exists := h.peers[addr]
	if !exists {
		health = &PeerHealth{Addr: addr, Status: StatusUnknown, LastCheck: time.Now()}
		h.peers[addr] = health
	}
	h.mu.Unlock()

	// probe without holding the lock
	err := h.checkFunc(addr)

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()

	if err != nil {
		health.ConsecutiveFails++
		h.log.Debug().Err(err).Str("peer", addr).Int("fails", health.ConsecutiveFails).Msg("peer health check failed")
		if health.ConsecutiveFails >= h.maxFailures && health.Status != StatusUnhealthy {
			health.Status = StatusUnhealthy
			h.log.Warn().Str("peer", addr).Int("fails", health.ConsecutiveFails).Msg("peer marked unhealthy")
		}
		return
	}

	recovered := health.Status == StatusUnhealthy
	health.Status = StatusHealthy
	health.ConsecutiveFails = 0
	health.LastHealthy = time.Now()
	if recovered {
		h.log.Info().Str("peer", addr).Msg("peer recovered")
		if h.onRecovered != nil {
			go h.onRecovered(addr)
		}
	}
}

func (h *HealthMonitor) defaultHealthCheck(addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = "http://" + addr
	}
	url = Endpoint(url, "/health")

	resp, err := h.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// GetAllPeerHealth returns copies of every tracked record keyed by address.
func (h *HealthMonitor) GetAllPeerHealth() map[string]PeerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[string]PeerHealth, len(h.peers))
	for addr, health := range h.peers {
		result[addr] = *health
	}
	return result
}

// IsHealthy reports whether addr passed its latest probe.
func (h *HealthMonitor) IsHealthy(addr string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.peers[addr]
	return exists && health.Status == StatusHealthy
}
