// Package gate implements the per-node availability toggle that decides
// whether inbound replication is accepted.
package gate

import "sync"

// State of the gate
type State string

const (
	Accepting State = "accepting"
	Rejecting State = "rejecting"
)

// Gate starts Accepting. Disable and Enable are the only mutators.
type Gate struct {
	onEnable func()
	state    State
	mu       sync.RWMutex
}

// New returns an accepting gate. onEnable, if not nil, is called after
// every Enable. It runs on the caller's goroutine and must not block; hand
// long work to a goroutine of its own.
func New(onEnable func()) *Gate {
	return &Gate{state: Accepting, onEnable: onEnable}
}

// Disable makes the node refuse inbound replication. It waits for
// admissions already running under Admit, so once it returns nothing more
// is admitted until Enable.
func (g *Gate) Disable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = Rejecting
}

// Enable makes the node accept inbound replication again and calls the
// enable hook (which schedules reconciliation with all peers).
func (g *Gate) Enable() {
	g.mu.Lock()
	g.state = Accepting
	hook := g.onEnable
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
}

// Admit runs fn only while the gate is accepting and reports whether it
// ran. The state cannot change while fn runs.
func (g *Gate) Admit(fn func()) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.state != Accepting {
		return false
	}
	fn()
	return true
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Accepting reports whether inbound replication is currently allowed.
func (g *Gate) Accepting() bool {
	return g.State() == Accepting
}
