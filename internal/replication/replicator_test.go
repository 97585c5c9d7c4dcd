package replication

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/mural/internal/board"
	"github.com/dreamware/mural/internal/cluster"
	"github.com/dreamware/mural/internal/metrics"
)

// fakeTransport fails the first failures[peer] deliveries to peer and
// optionally blocks until release is closed.
type fakeTransport struct {
	failures map[string]int
	release  chan struct{}
	calls    map[string][]cluster.ReplicateRequest
	mu       sync.Mutex
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		failures: make(map[string]int),
		calls:    make(map[string][]cluster.ReplicateRequest),
	}
}

func (f *fakeTransport) Deliver(_ context.Context, peer string, req cluster.ReplicateRequest) error {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[peer] = append(f.calls[peer], req)
	if len(f.calls[peer]) <= f.failures[peer] {
		return errors.New("unreachable")
	}
	return nil
}

func (f *fakeTransport) count(peer string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls[peer])
}

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, Backoff: Linear(time.Millisecond)}
}

func testMessage() board.Message {
	return board.Message{
		ID:        "node1-1-abcdef",
		NodeID:    "node1",
		Counter:   1,
		Timestamp: "2024-01-01T00:00:00.000000Z",
		User:      "alice",
		Text:      "hello",
	}
}

func TestReplicateDeliversToEveryPeer(t *testing.T) {
	tr := newFakeTransport()
	r := New(Config{
		NodeID:    "node1",
		Peers:     []string{"http://a", "http://b", "http://c"},
		Transport: tr,
		Policy:    fastPolicy(),
		Logger:    zerolog.Nop(),
	})

	r.Replicate(testMessage())
	require.True(t, r.WaitTimeout(time.Second))

	for _, p := range []string{"http://a", "http://b", "http://c"} {
		require.Equal(t, 1, tr.count(p), p)
		req := tr.calls[p][0]
		assert.Equal(t, "node1", req.From)
		assert.Equal(t, testMessage(), req.Message)
	}
}

func TestReplicateRetriesThenAbandons(t *testing.T) {
	tr := newFakeTransport()
	tr.failures["http://flaky"] = 2
	tr.failures["http://dead"] = 100
	m := metrics.New("node1")

	r := New(Config{
		NodeID:    "node1",
		Peers:     []string{"http://flaky", "http://dead"},
		Transport: tr,
		Policy:    fastPolicy(),
		Logger:    zerolog.Nop(),
		Metrics:   m,
	})
	r.Replicate(testMessage())
	require.True(t, r.WaitTimeout(time.Second))

	assert.Equal(t, 3, tr.count("http://flaky"))
	assert.Equal(t, 3, tr.count("http://dead"), "dead peer must not get more than the attempt budget")

	expected := `
# HELP mural_replication_abandoned_total Peer deliveries given up after the retry budget.
# TYPE mural_replication_abandoned_total counter
mural_replication_abandoned_total{node="node1"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "mural_replication_abandoned_total"))
}

func TestReplicateDoesNotBlockCaller(t *testing.T) {
	tr := newFakeTransport()
	tr.release = make(chan struct{})
	r := New(Config{
		NodeID:    "node1",
		Peers:     []string{"http://slow"},
		Transport: tr,
		Policy:    fastPolicy(),
		Logger:    zerolog.Nop(),
	})

	returned := make(chan struct{})
	go func() {
		r.Replicate(testMessage())
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Replicate blocked on a stalled peer")
	}
	assert.False(t, r.WaitTimeout(20*time.Millisecond))

	close(tr.release)
	assert.True(t, r.WaitTimeout(time.Second))
}

func TestSlowPeerDoesNotDelayOthers(t *testing.T) {
	stall := make(chan struct{})
	var fastDone atomic.Bool

	tr := transportFunc(func(_ context.Context, peer string, _ cluster.ReplicateRequest) error {
		if peer == "http://slow" {
			<-stall
			return nil
		}
		fastDone.Store(true)
		return nil
	})
	r := New(Config{
		NodeID:    "node1",
		Peers:     []string{"http://slow", "http://fast"},
		Transport: tr,
		Policy:    fastPolicy(),
		Logger:    zerolog.Nop(),
	})
	r.Replicate(testMessage())

	assert.Eventually(t, fastDone.Load, time.Second, 5*time.Millisecond)
	close(stall)
	require.True(t, r.WaitTimeout(time.Second))
}

func TestReplicateCopiesPeerList(t *testing.T) {
	peers := []string{"http://a"}
	r := New(Config{NodeID: "node1", Peers: peers, Transport: newFakeTransport(), Logger: zerolog.Nop()})
	tr := r.transport.(*fakeTransport)
	peers[0] = "http://mutated"

	r.Replicate(testMessage())
	require.True(t, r.WaitTimeout(time.Second))
	assert.Equal(t, 1, tr.count("http://a"))
	assert.Zero(t, tr.count("http://mutated"))
}

func TestHTTPTransportRetriesNon2xx(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/replicate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req cluster.ReplicateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(cluster.ErrorResponse{Error: "unavailable"})
			return
		}
		json.NewEncoder(w).Encode(cluster.ReplicateResponse{Status: "ok", Added: true})
	}))
	defer srv.Close()

	r := New(Config{
		NodeID:    "node1",
		Peers:     []string{srv.URL},
		Transport: NewHTTPTransport(time.Second),
		Policy:    fastPolicy(),
		Logger:    zerolog.Nop(),
	})
	r.Replicate(testMessage())
	require.True(t, r.WaitTimeout(time.Second))

	assert.Equal(t, int32(3), hits.Load())
}

func TestHTTPTransportStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(cluster.ErrorResponse{Error: "node temporarily unavailable"})
	}))
	defer srv.Close()

	err := NewHTTPTransport(time.Second).Deliver(context.Background(), srv.URL, cluster.ReplicateRequest{Message: testMessage(), From: "node1"})
	var se *cluster.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "node temporarily unavailable", se.Body)
}

type transportFunc func(ctx context.Context, peer string, req cluster.ReplicateRequest) error

func (f transportFunc) Deliver(ctx context.Context, peer string, req cluster.ReplicateRequest) error {
	return f(ctx, peer, req)
}
