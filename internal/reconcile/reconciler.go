// Package reconcile pulls every peer's full message set and admits what
// is missing locally. It is the slow, complete path that closes gaps left
// by abandoned replication.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"

	"github.com/dreamware/mural/internal/board"
	"github.com/dreamware/mural/internal/cluster"
	"github.com/dreamware/mural/internal/metrics"
)

// DefaultFetchTimeout bounds a single peer snapshot fetch.
const DefaultFetchTimeout = 4 * time.Second

// Fetcher reads a peer's current snapshot.
type Fetcher interface {
	Fetch(ctx context.Context, peer string) ([]board.Message, error)
}

// HTTPFetcher reads GET /messages from the peer.
type HTTPFetcher struct {
	client *cluster.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &HTTPFetcher{client: cluster.NewClient(timeout)}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, peer string) ([]board.Message, error) {
	var resp cluster.MessagesResponse
	if err := f.client.GetJSON(ctx, cluster.Endpoint(peer, "/messages"), &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Config contains configuration for the reconciler.
type Config struct {
	Store   *board.Store
	Fetcher Fetcher // default: HTTPFetcher with DefaultFetchTimeout
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	Peers   []string
}

// Reconciler runs full-set pulls against a fixed peer set.
type Reconciler struct {
	store   *board.Store
	fetcher Fetcher
	metrics *metrics.Metrics
	logger  zerolog.Logger
	peers   []string
	wg      sync.WaitGroup
	mu      sync.Mutex // guards closed and wg.Add
	closed  bool
}

func New(cfg Config) *Reconciler {
	if cfg.Fetcher == nil {
		cfg.Fetcher = NewHTTPFetcher(DefaultFetchTimeout)
	}
	return &Reconciler{
		store:   cfg.Store,
		fetcher: cfg.Fetcher,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With().Str("component", "reconciler").Logger(),
		peers:   slices.Clone(cfg.Peers),
	}
}

// ReconcileAll pulls from every peer concurrently and returns how many
// messages were newly admitted in total. A peer that cannot be reached
// contributes zero; it never aborts the pass for the others.
func (r *Reconciler) ReconcileAll(ctx context.Context) int {
	start := time.Now()
	counts := make([]int, len(r.peers))

	var wg sync.WaitGroup
	for i, peer := range r.peers {
		wg.Add(1)
		go func(i int, peer string) {
			defer wg.Done()
			added, err := r.ReconcilePeer(ctx, peer)
			if err != nil {
				r.metrics.PeerFetchError()
				r.logger.Warn().Err(err).Str("peer", peer).Msg("reconcile fetch failed")
			}
			counts[i] = added
		}(i, peer)
	}
	wg.Wait()

	total := 0
	for _, n := range counts {
		total += n
	}
	r.metrics.ReconcileRun()
	r.logger.Info().
		Int("peers", len(r.peers)).
		Int("added", total).
		Str("took", time.Since(start).Round(time.Millisecond).String()).
		Msgf("reconciled %s from peers", humanize.Comma(int64(total)))
	return total
}

// ReconcilePeer admits every valid message from peer's snapshot that is
// not already stored.
func (r *Reconciler) ReconcilePeer(ctx context.Context, peer string) (int, error) {
	msgs, err := r.fetcher.Fetch(ctx, peer)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			r.logger.Warn().Err(err).Str("peer", peer).Str("id", m.ID).Msg("skipping invalid message")
			continue
		}
		ok := r.store.Insert(m)
		r.metrics.Admission(metrics.PathReconciled, ok)
		if ok {
			added++
		}
	}
	return added, nil
}

// Trigger starts a pass in the background and returns at once. The pass
// is registered before Trigger returns, so a following WaitTimeout covers it.
// After Close it does nothing. reason is only logged.
func (r *Reconciler) Trigger(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.logger.Debug().Str("reason", reason).Msg("reconciler closed, ignoring trigger")
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.logger.Debug().Str("reason", reason).Msg("background reconcile")
		r.ReconcileAll(context.Background())
	}()
}

// Close stops Trigger from starting new passes. Passes already running
// are left to finish; use WaitTimeout for them.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// WaitTimeout blocks until background passes started by Trigger have
// finished or d elapses. It reports whether all passes finished in time.
func (r *Reconciler) WaitTimeout(d time.Duration) bool {
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
