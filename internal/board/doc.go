// Package board implements a node's local copy of the replicated message
// board: minting, deduplication, ordering and durability.
//
// Every message enters through Store.Insert regardless of whether it was
// posted locally, pushed by a peer or pulled during reconciliation. The id is
// the only identity: the first delivery wins and every later delivery of the
// same id is dropped. Reads always see the log sorted by timestamp; no attempt
// is made to compensate for clock skew between nodes.
//
// After each admitted message the full state (messages plus local counter)
// is written to the node's durable slot. On startup Load restores it; a
// missing or corrupt slot leaves the store empty.
package board
