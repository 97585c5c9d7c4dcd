// Package cluster holds what nodes need to talk to each other: the JSON wire
// types of the node boundary, a small HTTP JSON client, static peer list
// parsing and a health monitor for peers.
//
// # Topology
//
// Every node is a full peer. There is no coordinator and no membership
// protocol; the peer list is fixed at startup:
//
//	┌──────────┐   POST /replicate   ┌──────────┐
//	│  node1   │ ──────────────────▶ │  node2   │
//	│          │ ◀────────────────── │          │
//	└──────────┘   GET /messages     └──────────┘
//	      ▲                                │
//	      └────────────── node3 ◀──────────┘
//
// # Communication Protocol
//
// Replication (POST /replicate):
//   - Body {"message": {...}, "from": "<node id>"}
//   - 200 {"status":"ok","added":bool}; 503 while the receiver rejects
//
// Reconciliation (GET /messages):
//   - Full snapshot of the peer's board, never a delta
//
// Health (GET /health):
//   - 200 while the process serves; probed by HealthMonitor
//
// Non-2xx answers surface as *StatusError so callers can tell a peer that
// refused from one that could not be reached.
//
// # Health Monitoring
//
// HealthMonitor probes each peer on an interval and marks it unhealthy after
// three consecutive failures. The transition back to healthy invokes the
// recovery callback in its own goroutine.
package cluster
