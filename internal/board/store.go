package board

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"

	"github.com/dreamware/mural/internal/storage"
)

// persisted is the layout of the durable slot.
type persisted struct {
	Messages     []Message `json:"messages"`
	LocalCounter uint64    `json:"local_counter"`
}

// Store owns a node's copy of the board.
//
// Every mutation (counter bump, duplicate check, append, re-sort and the
// durability write) happens under mu, so readers never observe a counter
// without its message or a partially sorted log.
type Store struct {
	slot    storage.Store
	seen    map[string]struct{}
	now     func() time.Time
	log     zerolog.Logger
	nodeID  string
	slotKey string
	// messages is sorted by Timestamp, ties in admission order.
	messages []Message
	counter  uint64
	mu       sync.RWMutex
}

// NewStore creates an empty store for nodeID persisting into slot.
// slot may be nil, in which case nothing is written.
func NewStore(nodeID string, slot storage.Store, log zerolog.Logger) *Store {
	return &Store{
		nodeID:  nodeID,
		slot:    slot,
		slotKey: SlotKey(nodeID),
		seen:    make(map[string]struct{}),
		now:     time.Now,
		log:     log,
	}
}

// SlotKey is the durable slot name for a node identity.
func SlotKey(nodeID string) string {
	return "messages_" + nodeID
}

// SetClock overrides the time source used to stamp new messages.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// NodeID returns the identity used to mint messages.
func (s *Store) NodeID() string {
	return s.nodeID
}

// Load repopulates the store from the durable slot and returns how many
// messages were restored. On any error the store is left empty; callers
// log and carry on.
func (s *Store) Load() (int, error) {
	if s.slot == nil {
		return 0, nil
	}
	raw, err := s.slot.Get(s.slotKey)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("read slot %s: %w", s.slotKey, err)
	}

	var st persisted
	if err := json.Unmarshal(raw, &st); err != nil {
		return 0, fmt.Errorf("decode slot %s: %w", s.slotKey, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = s.messages[:0]
	s.seen = make(map[string]struct{}, len(st.Messages))
	s.counter = st.LocalCounter
	for _, m := range st.Messages {
		if _, dup := s.seen[m.ID]; dup || m.ID == "" {
			continue
		}
		s.seen[m.ID] = struct{}{}
		s.messages = append(s.messages, m)
		// a slot written by an older build may lag behind its own messages
		if m.NodeID == s.nodeID && m.Counter > s.counter {
			s.counter = m.Counter
		}
	}
	sortByTimestamp(s.messages)
	return len(s.messages), nil
}

// CreateMessage mints a new message authored by author. The counter bump is
// serialized with insertion; the message is not admitted until Insert.
func (s *Store) CreateMessage(author, text string) Message {
	s.mu.Lock()
	s.counter++
	counter := s.counter
	now := s.now()
	s.mu.Unlock()

	return Message{
		ID:        mintID(s.nodeID, counter),
		NodeID:    s.nodeID,
		Counter:   counter,
		Timestamp: FormatTimestamp(now),
		User:      author,
		Text:      strings.TrimSpace(text),
	}
}

// Insert admits msg unless its id is already present. It is the single
// admission path for local posts, inbound replication and reconciliation:
// first writer wins, later deliveries of the same id return false.
func (s *Store) Insert(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[msg.ID]; ok {
		return false
	}
	s.messages = append(s.messages, msg)
	s.seen[msg.ID] = struct{}{}
	sortByTimestamp(s.messages)
	s.persistLocked()
	return true
}

// Has reports whether id has been admitted.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[id]
	return ok
}

// Snapshot returns a copy of the log in timestamp order.
func (s *Store) Snapshot() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.messages)
	if out == nil {
		out = []Message{}
	}
	return out
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Counter returns the last minted local counter value.
func (s *Store) Counter() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counter
}

// persistLocked overwrites the durable slot. Failures are logged; memory
// stays authoritative for the running process. Caller holds mu.
func (s *Store) persistLocked() {
	if s.slot == nil {
		return
	}
	raw, err := json.Marshal(persisted{Messages: s.messages, LocalCounter: s.counter})
	if err != nil {
		s.log.Error().Err(err).Msg("encode slot")
		return
	}
	if err := s.slot.Put(s.slotKey, raw); err != nil {
		s.log.Error().Err(err).Str("slot", s.slotKey).Msg("persist slot")
	}
}

func sortByTimestamp(msgs []Message) {
	slices.SortStableFunc(msgs, func(a, b Message) int {
		return strings.Compare(a.Timestamp, b.Timestamp)
	})
}
