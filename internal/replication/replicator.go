// Package replication pushes freshly posted messages to every peer.
//
// Delivery is best effort: each peer gets its own goroutine and a bounded
// number of attempts. Anything still missing after that is left for
// reconciliation to pull.
package replication

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"

	"github.com/dreamware/mural/internal/board"
	"github.com/dreamware/mural/internal/cluster"
	"github.com/dreamware/mural/internal/metrics"
)

// Config contains configuration for the replicator.
type Config struct {
	Transport Transport // default: HTTPTransport with DefaultDeliverTimeout
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
	Policy    Policy // zero value: DefaultPolicy
	NodeID    string
	Peers     []string
}

// Replicator fans messages out to a fixed peer set.
type Replicator struct {
	transport Transport
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	policy    Policy
	nodeID    string
	peers     []string
	wg        sync.WaitGroup
}

func New(cfg Config) *Replicator {
	if cfg.Transport == nil {
		cfg.Transport = NewHTTPTransport(DefaultDeliverTimeout)
	}
	if cfg.Policy.MaxAttempts == 0 && cfg.Policy.Backoff == nil {
		cfg.Policy = DefaultPolicy()
	}
	return &Replicator{
		transport: cfg.Transport,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With().Str("component", "replicator").Logger(),
		policy:    cfg.Policy,
		nodeID:    cfg.NodeID,
		peers:     slices.Clone(cfg.Peers),
	}
}

// Replicate starts delivery of msg to every peer and returns immediately.
// msg is passed by value so later changes on the caller's side are not seen.
func (r *Replicator) Replicate(msg board.Message) {
	req := cluster.ReplicateRequest{Message: msg, From: r.nodeID}
	for _, peer := range r.peers {
		r.wg.Add(1)
		go func(peer string) {
			defer r.wg.Done()
			r.deliver(peer, req)
		}(peer)
	}
}

func (r *Replicator) deliver(peer string, req cluster.ReplicateRequest) {
	attempts, err := r.policy.Run(func(attempt int) error {
		err := r.transport.Deliver(context.Background(), peer, req)
		r.metrics.ReplicationAttempt(err == nil)
		if err != nil {
			r.logger.Warn().
				Err(err).
				Str("peer", peer).
				Str("id", req.Message.ID).
				Int("attempt", attempt).
				Msg("replication attempt failed")
		}
		return err
	})
	if err != nil {
		r.metrics.ReplicationAbandoned()
		r.logger.Error().
			Err(err).
			Str("peer", peer).
			Str("id", req.Message.ID).
			Int("attempts", attempts).
			Msg("giving up on peer; reconciliation will catch up")
		return
	}
	r.logger.Debug().Str("peer", peer).Str("id", req.Message.ID).Int("attempts", attempts).Msg("replicated")
}

// WaitTimeout blocks until every delivery started so far has finished or
// d elapses. It reports whether all deliveries finished in time.
func (r *Replicator) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
