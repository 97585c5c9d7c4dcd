// Package storage provides the durable slot backends a node uses to survive
// restarts.
//
// # Overview
//
// A node owns exactly one slot, addressed by a key derived from its identity,
// and overwrites it wholesale after every admitted message. The package only
// moves bytes; encoding the message log is the caller's business.
//
// # Implementations
//
// MemoryStore: map guarded by sync.RWMutex
//   - No persistence (data lost on restart)
//   - Suitable for tests and throwaway nodes
//
// FileStore: one JSON file per key under a data directory
//   - Temp file, fsync, rename, directory fsync
//   - Human-readable, same layout as messages_<node>.json dumps
//
// PebbleStore: embedded LSM (github.com/cockroachdb/pebble)
//   - Every Put uses pebble.Sync
//   - Suitable when the data directory is shared with other tooling
//
// # Errors
//
// ErrKeyNotFound is returned by Get when the slot was never written. Callers
// treat it, like any other read failure, as "start empty".
//
// # Usage
//
//	st, err := storage.Open(storage.BackendPebble, "data/node1")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//
//	raw, err := st.Get("messages_node1")
//	if errors.Is(err, storage.ErrKeyNotFound) {
//	    // fresh node
//	}
package storage
