// Package node assembles one replica of the message board: the local
// store, the availability gate, the replication and reconciliation
// engines, sessions, and the HTTP boundary that exposes them.
//
// Architecture:
//
//	┌──────────────────────────────────────────────┐
//	│                    Node                      │
//	├──────────────────────────────────────────────┤
//	│  HTTP API:                                   │
//	│    POST /login          - issue a token      │
//	│    POST /post           - publish (auth)     │
//	│    GET  /messages       - local snapshot     │
//	│    POST /replicate      - peer push          │
//	│    POST /simulate_fail  - availability gate  │
//	│    POST /reconcile      - full pull now      │
//	│    GET  /peers          - configured peers   │
//	│    GET  /health /info /metrics               │
//	├──────────────────────────────────────────────┤
//	│  Components:                                 │
//	│    board.Store          - dedup + ordering   │
//	│    gate.Gate            - accept / reject    │
//	│    replication          - push, 3 attempts   │
//	│    reconcile            - pull, full set     │
//	│    auth                 - bcrypt + sessions  │
//	│    cluster.HealthMonitor- peer probes        │
//	└──────────────────────────────────────────────┘
package node

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"

	"github.com/dreamware/mural/internal/auth"
	"github.com/dreamware/mural/internal/board"
	"github.com/dreamware/mural/internal/cluster"
	"github.com/dreamware/mural/internal/gate"
	"github.com/dreamware/mural/internal/metrics"
	"github.com/dreamware/mural/internal/reconcile"
	"github.com/dreamware/mural/internal/replication"
	"github.com/dreamware/mural/internal/storage"
)

var (
	// ErrUnavailable is returned for inbound replication while the gate
	// is rejecting.
	ErrUnavailable = errors.New("node not accepting replication (simulated down)")
	ErrEmptyText   = errors.New("text cannot be empty")
	ErrDuplicate   = errors.New("message already exists (duplicated id)")
	ErrBadAction   = errors.New("unknown action")
)

// Availability actions accepted by SetAvailability.
const (
	ActionDown = "down"
	ActionUp   = "up"
)

// Options configures a Node. Only ID is required.
type Options struct {
	// Slot is the durable backend for the message log. Nil keeps the
	// node purely in memory.
	Slot storage.Store
	// Transport and Fetcher default to the HTTP implementations.
	Transport replication.Transport
	Fetcher   reconcile.Fetcher
	Users     map[string]string
	Clock     func() time.Time
	Logger    zerolog.Logger
	ID        string
	// ReconcileCron enables periodic full pulls when non-empty.
	ReconcileCron string
	Peers         []string
	Policy        replication.Policy
	// BcryptCost of 0 selects bcrypt.DefaultCost.
	BcryptCost int
	LoginRPS   float64
	LoginBurst int
	// HealthInterval of 0 disables peer health probing.
	HealthInterval time.Duration
}

// Node is one replica of the board.
//
// Each node:
//   - Owns its message store and durable slot
//   - Pushes every local post to all peers (best effort)
//   - Pulls full snapshots from peers on demand, when its gate is
//     re-enabled, when a peer recovers, and optionally on a cron schedule
//
// The peer list is fixed at construction. All shared state lives in the
// components, each with its own lock; the node itself only holds the
// background lifecycle.
type Node struct {
	startedAt  time.Time
	store      *board.Store
	gate       *gate.Gate
	replicator *replication.Replicator
	reconciler *reconcile.Reconciler
	auth       *auth.Authenticator
	limiter    *auth.LimiterPool
	metrics    *metrics.Metrics
	health     *cluster.HealthMonitor
	scheduler  *reconcile.Scheduler
	cancel     context.CancelFunc
	log        zerolog.Logger
	id         string
	peers      []string
	bg         sync.WaitGroup
}

// New wires a node from opts. Call Load to restore persisted messages and
// Start to launch background loops.
func New(opts Options) (*Node, error) {
	if strings.TrimSpace(opts.ID) == "" {
		return nil, errors.New("node id is required")
	}
	users := opts.Users
	if users == nil {
		users = map[string]string{}
	}
	creds, err := auth.NewCredentials(users, opts.BcryptCost)
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	m := metrics.New(opts.ID)
	peers := slices.Clone(opts.Peers)
	if peers == nil {
		peers = []string{}
	}

	store := board.NewStore(opts.ID, opts.Slot, log)
	if opts.Clock != nil {
		store.SetClock(opts.Clock)
	}

	n := &Node{
		id:        opts.ID,
		peers:     peers,
		store:     store,
		auth:      auth.NewAuthenticator(creds, auth.NewSessions()),
		limiter:   auth.NewLimiterPool(opts.LoginRPS, opts.LoginBurst),
		metrics:   m,
		log:       log,
		startedAt: time.Now(),
	}
	n.replicator = replication.New(replication.Config{
		NodeID:    opts.ID,
		Peers:     peers,
		Transport: opts.Transport,
		Policy:    opts.Policy,
		Logger:    log,
		Metrics:   m,
	})
	n.reconciler = reconcile.New(reconcile.Config{
		Store:   store,
		Peers:   peers,
		Fetcher: opts.Fetcher,
		Logger:  log,
		Metrics: m,
	})
	n.gate = gate.New(func() { n.reconciler.Trigger("availability restored") })

	if opts.HealthInterval > 0 && len(peers) > 0 {
		n.health = cluster.NewHealthMonitor(opts.HealthInterval, log)
		n.health.SetOnRecovered(func(addr string) {
			n.reconciler.Trigger("peer recovered: " + addr)
		})
	}
	if opts.ReconcileCron != "" {
		n.scheduler, err = reconcile.NewScheduler(opts.ReconcileCron, func(ctx context.Context) {
			n.reconciler.ReconcileAll(ctx)
		}, log)
		if err != nil {
			return nil, err
		}
	}

	m.Gauge("mural_messages_stored", "Messages currently in the local store.", func() float64 {
		return float64(store.Len())
	})
	m.Gauge("mural_local_counter", "Last counter value minted by this node.", func() float64 {
		return float64(store.Counter())
	})
	m.Gauge("mural_accepting_replication", "1 while inbound replication is accepted.", func() float64 {
		if n.gate.Accepting() {
			return 1
		}
		return 0
	})
	return n, nil
}

// Load restores the durable slot. A missing slot is not an error.
func (n *Node) Load() (int, error) {
	count, err := n.store.Load()
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	return count, err
}

// Start launches the health monitor and the reconcile schedule, if
// configured. They run until ctx is done or Shutdown is called.
func (n *Node) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)
	if n.health != nil {
		n.bg.Add(1)
		go func() {
			defer n.bg.Done()
			n.health.Start(ctx, n.peers)
		}()
	}
	if n.scheduler != nil {
		n.bg.Add(1)
		go func() {
			defer n.bg.Done()
			n.scheduler.Start(ctx)
		}()
	}
}

// Shutdown stops background loops and waits up to timeout for in-flight
// replication and reconciliation to finish. Availability changes after
// this point no longer start reconcile passes. It reports whether
// everything drained in time.
func (n *Node) Shutdown(timeout time.Duration) bool {
	if n.cancel != nil {
		n.cancel()
	}
	if n.health != nil {
		n.health.Stop()
	}
	// the scheduler returns only after its last run
	n.bg.Wait()
	n.reconciler.Close()

	deadline := time.Now().Add(timeout)
	if !n.replicator.WaitTimeout(timeout) {
		return false
	}
	return n.reconciler.WaitTimeout(time.Until(deadline))
}

// Post creates a message authored by user, admits it locally and starts
// replication. Replication never affects the result.
func (n *Node) Post(user, text string) (board.Message, error) {
	if strings.TrimSpace(text) == "" {
		return board.Message{}, ErrEmptyText
	}
	msg := n.store.CreateMessage(user, text)
	added := n.store.Insert(msg)
	n.metrics.Admission(metrics.PathLocal, added)
	if !added {
		return board.Message{}, ErrDuplicate
	}
	n.replicator.Replicate(msg)
	return msg, nil
}

// Receive admits a message pushed by a peer. It returns ErrUnavailable
// while the gate rejects and board.ErrInvalidMessage for unusable bodies.
// The insert happens under the gate, so once a "down" has been applied no
// replicated message is admitted until "up".
func (n *Node) Receive(req cluster.ReplicateRequest) (bool, error) {
	var (
		added bool
		err   error
	)
	accepted := n.gate.Admit(func() {
		if err = req.Message.Validate(); err != nil {
			return
		}
		added = n.store.Insert(req.Message)
	})
	if !accepted {
		n.metrics.ReplicaRejected()
		return false, ErrUnavailable
	}
	if err != nil {
		return false, err
	}
	n.metrics.Admission(metrics.PathReplicated, added)
	if added {
		n.log.Debug().Str("id", req.Message.ID).Str("from", req.From).Msg("replicated message received")
	}
	return added, nil
}

// SetAvailability applies "down" or "up" and returns the status text.
func (n *Node) SetAvailability(action string) (string, error) {
	switch action {
	case ActionDown:
		n.gate.Disable()
		n.log.Warn().Msg("inbound replication disabled")
		return "node replication disabled (simulated down)", nil
	case ActionUp:
		n.gate.Enable()
		n.log.Info().Msg("inbound replication enabled, reconciling with peers")
		return "node replication enabled; reconciling with peers started", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrBadAction, action)
	}
}

// Reconcile runs a full pull from every peer and returns the number of
// newly admitted messages.
func (n *Node) Reconcile(ctx context.Context) int {
	return n.reconciler.ReconcileAll(ctx)
}

// ID returns the node's identifier.
func (n *Node) ID() string { return n.id }

// Peers returns a copy of the configured peer list.
func (n *Node) Peers() []string { return slices.Clone(n.peers) }

// Store returns the node's message store.
func (n *Node) Store() *board.Store { return n.store }

// Gate returns the availability gate guarding inbound replication.
func (n *Node) Gate() *gate.Gate { return n.gate }

// Metrics returns the node's metrics registry.
func (n *Node) Metrics() *metrics.Metrics { return n.metrics }

// HealthyPeers counts peers that passed their latest probe. It returns -1
// when probing is disabled.
func (n *Node) HealthyPeers() int {
	if n.health == nil {
		return -1
	}
	count := 0
	for _, peer := range n.peers {
		if n.health.IsHealthy(peer) {
			count++
		}
	}
	return count
}

// PeerHealth returns the monitor's view of every peer, or nil when
// probing is disabled.
func (n *Node) PeerHealth() map[string]cluster.PeerHealth {
	if n.health == nil {
		return nil
	}
	return n.health.GetAllPeerHealth()
}
