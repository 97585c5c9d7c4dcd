// Package main implements the mural node service, one replica of a
// replicated message board.
//
// The node is a peer in a fixed-membership cluster, responsible for:
//   - Authenticating users and accepting their posts
//   - Pushing every local post to all peers (best effort, bounded retries)
//   - Accepting posts pushed by peers unless simulated down
//   - Pulling full snapshots from peers to close gaps (reconciliation)
//   - Persisting its message log to a per-node durable slot
//
// Configuration (environment, optionally via .env and a YAML file):
//   - NODE_ID: Unique node identifier (required)
//   - NODE_LISTEN: Listen address (default: ":5001")
//   - NODE_PEERS: Comma separated peer base URLs
//   - NODE_DATA_DIR: Durable slot directory (default: "data")
//   - NODE_STORE: Slot backend, "file", "pebble" or "memory" (default: "file")
//   - NODE_CONFIG: Optional YAML config file
//   - NODE_ENV_FILE: Optional .env file (default: ".env")
//   - LOG_LEVEL, REPLICATE_ATTEMPTS, REPLICATE_BACKOFF, RECONCILE_CRON,
//     PEER_HEALTH_INTERVAL, LOGIN_RPS, LOGIN_BURST
//
// Example usage:
//
//	# Start a three node cluster
//	NODE_ID=node1 NODE_LISTEN=:5001 NODE_PEERS=http://127.0.0.1:5002,http://127.0.0.1:5003 ./node
//	NODE_ID=node2 NODE_LISTEN=:5002 NODE_PEERS=http://127.0.0.1:5001,http://127.0.0.1:5003 ./node
//	NODE_ID=node3 NODE_LISTEN=:5003 NODE_PEERS=http://127.0.0.1:5001,http://127.0.0.1:5002 ./node
//
//	# Log in and post
//	TOKEN=$(curl -s localhost:5001/login -d '{"username":"alice","password":"password1"}' | jq -r .token)
//	curl -X POST localhost:5001/post -H "Authorization: Bearer $TOKEN" -d '{"text":"hello"}'
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/dreamware/mural/internal/config"
	"github.com/dreamware/mural/internal/logging"
	"github.com/dreamware/mural/internal/node"
	"github.com/dreamware/mural/internal/replication"
	"github.com/dreamware/mural/internal/storage"
)

// logFatal is a variable to allow mocking fatal exits in tests.
var logFatal = func(format string, v ...any) {
	l := zerolog.New(os.Stderr).With().Timestamp().Logger()
	l.Fatal().Msgf(format, v...)
}

// shutdownTimeout bounds both the HTTP drain and the wait for in-flight
// replication on exit.
const shutdownTimeout = 5 * time.Second

// main loads configuration and serves until SIGINT or SIGTERM.
//
// Exit codes:
//   - 0: Normal shutdown via signal
//   - 1: Invalid configuration, unusable data directory or listen failure
func main() {
	cfg, err := config.Load(getenv("NODE_ENV_FILE", ".env"))
	if err != nil {
		logFatal("config: %v", err)
		return
	}
	logger := logging.New(cfg.LogLevel, cfg.NodeID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, nil); err != nil {
		logFatal("node %s: %v", cfg.NodeID, err)
	}
}

// run starts the node described by cfg and blocks until ctx is done. When
// ready is not nil it receives the bound listen address once the server
// accepts connections.
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger, ready chan<- string) error {
	slot, err := storage.Open(cfg.Store, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open %s slot in %s: %w", cfg.Store, cfg.DataDir, err)
	}
	defer func() {
		if err := slot.Close(); err != nil {
			logger.Error().Err(err).Msg("close slot")
		}
	}()

	n, err := node.New(node.Options{
		ID:             cfg.NodeID,
		Peers:          cfg.Peers,
		Slot:           slot,
		Users:          cfg.Users,
		Logger:         logger,
		ReconcileCron:  cfg.Reconcile.Cron,
		HealthInterval: cfg.Health.Interval,
		LoginRPS:       cfg.Login.RPS,
		LoginBurst:     cfg.Login.Burst,
		Policy: replication.Policy{
			MaxAttempts: cfg.Replication.Attempts,
			Backoff:     replication.Linear(cfg.Replication.Backoff),
		},
	})
	if err != nil {
		return err
	}

	restored, err := n.Load()
	if err != nil {
		// non-fatal: start with an empty board
		logger.Warn().Err(err).Msg("could not restore persisted messages, starting empty")
	}
	logger.Info().
		Str("store", cfg.Store).
		Str("data_dir", filepath.Clean(cfg.DataDir)).
		Int("restored", restored).
		Uint64("counter", n.Store().Counter()).
		Msgf("restored %s messages", humanize.Comma(int64(restored)))

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Listen, err)
	}

	// Configure HTTP server with security timeouts
	s := &http.Server{
		Handler:           n.Router(),
		ReadHeaderTimeout: 5 * time.Second, // Prevent slowloris attacks
	}

	n.Start(ctx)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("listen", ln.Addr().String()).Strs("peers", n.Peers()).Msg("node listening")
		if err := s.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	if ready != nil {
		ready <- ln.Addr().String()
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			n.Shutdown(shutdownTimeout)
			return fmt.Errorf("serve: %w", err)
		}
	}

	// Initiate graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	if !n.Shutdown(shutdownTimeout) {
		logger.Warn().Msg("in-flight replication did not finish before shutdown")
	}
	logger.Info().Int("messages", n.Store().Len()).Msg("node stopped")
	return nil
}

// getenv retrieves an environment variable with a default fallback value.
//
// Example:
//
//	envFile := getenv("NODE_ENV_FILE", ".env")
//	// Returns $NODE_ENV_FILE if set, otherwise ".env"
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
