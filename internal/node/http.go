package node

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"

	"github.com/dreamware/mural/internal/auth"
	"github.com/dreamware/mural/internal/board"
	"github.com/dreamware/mural/internal/cluster"
)

// maxBody caps every JSON request body.
const maxBody = 1 << 20

// Router returns the node's HTTP boundary.
func (n *Node) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(n.accessLog)

	r.HandleFunc("/login", n.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/post", n.handlePost).Methods(http.MethodPost)
	r.HandleFunc("/messages", n.handleMessages).Methods(http.MethodGet)
	r.HandleFunc("/replicate", n.handleReplicate).Methods(http.MethodPost)
	r.HandleFunc("/simulate_fail", n.handleSimulateFail).Methods(http.MethodPost)
	r.HandleFunc("/reconcile", n.handleReconcile).Methods(http.MethodPost)
	r.HandleFunc("/peers", n.handlePeers).Methods(http.MethodGet)

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	r.HandleFunc("/info", n.handleInfo).Methods(http.MethodGet)
	r.Handle("/metrics", n.metrics.Handler()).Methods(http.MethodGet)
	return r
}

func (n *Node) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		n.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// handleLogin exchanges credentials for a bearer token.
//
// Endpoint: POST /login
//
// Response:
//   - 200 {"token": "..."}
//   - 400 body is not JSON or a field is missing
//   - 401 credentials do not match
//   - 429 too many attempts from this client
func (n *Node) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !n.limiter.Allow(auth.ClientKey(r)) {
		n.metrics.Login("throttled")
		writeError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}
	var req cluster.LoginRequest
	if !decodeJSON(w, r, &req, "JSON required") {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}
	token, err := n.auth.Login(req.Username, req.Password)
	if err != nil {
		n.metrics.Login("rejected")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	n.metrics.Login("ok")
	writeJSON(w, http.StatusOK, cluster.LoginResponse{Token: token})
}

// handlePost publishes a message for the authenticated user. The token is
// checked before the body is read.
//
// Endpoint: POST /post
//
// Response:
//   - 201 {"status":"ok","message":{...}}
//   - 401 missing or unknown bearer token
//   - 400 body is not JSON, text missing, not a string, or blank
//   - 409 the minted id already exists
func (n *Node) handlePost(w http.ResponseWriter, r *http.Request) {
	user, err := n.auth.Authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req cluster.PostRequest
	if !decodeJSON(w, r, &req, "text required") {
		return
	}
	if req.Text == nil {
		writeError(w, http.StatusBadRequest, "text required")
		return
	}

	msg, err := n.Post(user, *req.Text)
	switch {
	case errors.Is(err, ErrEmptyText):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusCreated, cluster.PostResponse{Status: "ok", Message: msg})
	}
}

func (n *Node) handleMessages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, cluster.MessagesResponse{Messages: n.store.Snapshot()})
}

// handleReplicate admits a message pushed by a peer. The gate is checked
// first so a rejecting node never inspects or stores the body.
//
// Endpoint: POST /replicate
//
// Response:
//   - 200 {"status":"ok","added":bool}
//   - 503 gate is rejecting
//   - 400 body is not JSON or the message is unusable
func (n *Node) handleReplicate(w http.ResponseWriter, r *http.Request) {
	if !n.gate.Accepting() {
		n.metrics.ReplicaRejected()
		writeError(w, http.StatusServiceUnavailable, ErrUnavailable.Error())
		return
	}
	var req cluster.ReplicateRequest
	if !decodeJSON(w, r, &req, "message required") {
		return
	}
	added, err := n.Receive(req)
	switch {
	case errors.Is(err, ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, board.ErrInvalidMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, cluster.ReplicateResponse{Status: "ok", Added: added})
	}
}

func (n *Node) handleSimulateFail(w http.ResponseWriter, r *http.Request) {
	var req cluster.AvailabilityRequest
	if !decodeJSON(w, r, &req, "action required ('down' or 'up')") {
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "action required ('down' or 'up')")
		return
	}
	status, err := n.SetAvailability(req.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrBadAction.Error())
		return
	}
	writeJSON(w, http.StatusOK, cluster.StatusResponse{Status: status})
}

func (n *Node) handleReconcile(w http.ResponseWriter, r *http.Request) {
	added := n.Reconcile(r.Context())
	writeJSON(w, http.StatusOK, cluster.ReconcileResponse{Status: "ok", Added: added})
}

func (n *Node) handlePeers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, cluster.PeersResponse{Peers: n.Peers()})
}

// InfoResponse is served on GET /info.
type InfoResponse struct {
	PeerHealth   map[string]cluster.PeerHealth `json:"peer_health,omitempty"`
	HealthyPeers *int                          `json:"healthy_peers,omitempty"`
	NodeID       string                        `json:"node_id"`
	Availability string                        `json:"availability"`
	Uptime       string                        `json:"uptime"`
	LastMessage  string                        `json:"last_message,omitempty"`
	Peers        []string                      `json:"peers"`
	Messages     int                           `json:"message_count"`
	Counter      uint64                        `json:"local_counter"`
	Sessions     int                           `json:"sessions"`
}

func (n *Node) handleInfo(w http.ResponseWriter, _ *http.Request) {
	snap := n.store.Snapshot()
	info := InfoResponse{
		NodeID:       n.id,
		Availability: string(n.gate.State()),
		Uptime:       strings.TrimSuffix(humanize.RelTime(n.startedAt, time.Now(), "", ""), " "),
		Peers:        n.Peers(),
		PeerHealth:   n.PeerHealth(),
		Messages:     len(snap),
		Counter:      n.store.Counter(),
		Sessions:     n.auth.Sessions().Len(),
	}
	if healthy := n.HealthyPeers(); healthy >= 0 {
		info.HealthyPeers = &healthy
	}
	if len(snap) > 0 {
		if ts, err := time.Parse(board.TimestampLayout, snap[len(snap)-1].Timestamp); err == nil {
			info.LastMessage = humanize.Time(ts)
		}
	}
	writeJSON(w, http.StatusOK, info)
}

// decodeJSON reads a bounded JSON body into v, answering 400 with msg on
// failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, msg string) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, msg)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, cluster.ErrorResponse{Error: msg})
}
