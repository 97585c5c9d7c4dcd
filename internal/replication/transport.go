package replication

import (
	"context"
	"time"

	"github.com/dreamware/mural/internal/cluster"
)

// Transport delivers one replication request to one peer.
type Transport interface {
	Deliver(ctx context.Context, peer string, req cluster.ReplicateRequest) error
}

// HTTPTransport posts to the peer's /replicate endpoint. Non-2xx answers
// come back as *cluster.StatusError and are retried like transport errors.
type HTTPTransport struct {
	client *cluster.Client
}

// DefaultDeliverTimeout bounds a single delivery attempt.
const DefaultDeliverTimeout = 3 * time.Second

func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = DefaultDeliverTimeout
	}
	return &HTTPTransport{client: cluster.NewClient(timeout)}
}

func (t *HTTPTransport) Deliver(ctx context.Context, peer string, req cluster.ReplicateRequest) error {
	var resp cluster.ReplicateResponse
	return t.client.PostJSON(ctx, cluster.Endpoint(peer, "/replicate"), req, &resp)
}
