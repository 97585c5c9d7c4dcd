package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/mural/internal/board"
)

// ReplicateRequest is pushed by the origin node to every peer.
type ReplicateRequest struct {
	Message board.Message `json:"message"`
	From    string        `json:"from"`
}

type ReplicateResponse struct {
	Status string `json:"status"`
	Added  bool   `json:"added"`
}

type MessagesResponse struct {
	Messages []board.Message `json:"messages"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type PostRequest struct {
	Text *string `json:"text"`
}

type PostResponse struct {
	Status  string        `json:"status"`
	Message board.Message `json:"message"`
}

// AvailabilityRequest toggles inbound replication: Action is "down" or "up".
type AvailabilityRequest struct {
	Action string `json:"action"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type ReconcileResponse struct {
	Status string `json:"status"`
	Added  int    `json:"added"`
}

type PeersResponse struct {
	Peers []string `json:"peers"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusError is returned when a peer answers with a non-2xx status.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %s: %d", e.URL, e.Code)
	}
	return fmt.Sprintf("http %s: %d: %s", e.URL, e.Code, e.Body)
}

// Client issues JSON calls to peers. Token, when set, is sent as a bearer token.
type Client struct {
	HTTP  *http.Client
	Token string
}

// httpClient serves a Client whose HTTP field is nil.
var httpClient = &http.Client{Timeout: 5 * time.Second}

// NewClient returns a client with its own timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{HTTP: &http.Client{Timeout: timeout}}
}

func (c *Client) PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	hc := c.HTTP
	if hc == nil {
		hc = httpClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &StatusError{URL: req.URL.String(), Code: resp.StatusCode, Body: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Endpoint joins a peer base URL and an absolute path.
func Endpoint(peer, path string) string {
	return strings.TrimRight(peer, "/") + path
}

// ParsePeers splits a comma separated peer list, dropping blanks,
// trailing slashes and duplicates while keeping the given order.
func ParsePeers(raw string) []string {
	peers := []string{}
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimRight(strings.TrimSpace(p), "/")
		if p == "" || slices.Contains(peers, p) {
			continue
		}
		peers = append(peers, p)
	}
	return peers
}
