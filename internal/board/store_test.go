package board

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/mural/internal/storage"
)

func msgAt(id string, ts time.Time) Message {
	return Message{ID: id, NodeID: "other", Counter: 1, Timestamp: FormatTimestamp(ts), User: "alice", Text: "hi " + id}
}

// failingSlot accepts nothing and returns nothing
type failingSlot struct{}

func (failingSlot) Get(string) ([]byte, error) { return nil, errors.New("disk gone") }
func (failingSlot) Put(string, []byte) error    { return errors.New("disk gone") }
func (failingSlot) Close() error                { return nil }

func TestCreateMessage(t *testing.T) {
	s := NewStore("node1", nil, zerolog.Nop())
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 1500, time.UTC)
	s.SetClock(func() time.Time { return fixed })

	m := s.CreateMessage("alice", "  hello  ")

	assert.Equal(t, "node1", m.NodeID)
	assert.Equal(t, uint64(1), m.Counter)
	assert.Equal(t, "2024-03-01T12:00:00.000001Z", m.Timestamp)
	assert.Equal(t, "alice", m.User)
	assert.Equal(t, "hello", m.Text)
	assert.True(t, strings.HasPrefix(m.ID, "node1-1-"), "id %s", m.ID)
	assert.Len(t, strings.TrimPrefix(m.ID, "node1-1-"), 6)

	// minting alone admits nothing
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Has(m.ID))
}

func TestCreateMessageCounterStrictlyIncreases(t *testing.T) {
	s := NewStore("node1", nil, zerolog.Nop())

	var prev uint64
	ids := make(map[string]bool)
	for i := 0; i < 50; i++ {
		m := s.CreateMessage("bob", "text")
		assert.Greater(t, m.Counter, prev)
		assert.False(t, ids[m.ID], "duplicate id %s", m.ID)
		ids[m.ID] = true
		prev = m.Counter
	}
	assert.Equal(t, uint64(50), s.Counter())
}

func TestInsertDeduplicates(t *testing.T) {
	s := NewStore("node1", nil, zerolog.Nop())
	base := time.Now()
	m := msgAt("x-1-aaaaaa", base)

	assert.True(t, s.Insert(m))
	assert.False(t, s.Insert(m), "second delivery must be a no-op")

	// same id, different content: still the same message
	changed := m
	changed.Text = "rewritten"
	assert.False(t, s.Insert(changed))

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, m.Text, snap[0].Text)
}

func TestInsertKeepsTimestampOrder(t *testing.T) {
	s := NewStore("node1", nil, zerolog.Nop())
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	order := []int{5, 1, 4, 2, 3, 0}
	for _, i := range order {
		s.Insert(msgAt(fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second)))
	}

	snap := s.Snapshot()
	require.Len(t, snap, len(order))
	for i := range snap {
		assert.Equal(t, fmt.Sprintf("m%d", i), snap[i].ID)
	}
}

func TestInsertEqualTimestampsKeepAdmissionOrder(t *testing.T) {
	s := NewStore("node1", nil, zerolog.Nop())
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s.Insert(msgAt("b", ts))
	s.Insert(msgAt("a", ts))

	snap := s.Snapshot()
	assert.Equal(t, "b", snap[0].ID)
	assert.Equal(t, "a", snap[1].ID)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore("node1", nil, zerolog.Nop())
	assert.NotNil(t, s.Snapshot(), "empty snapshot should be an empty slice")

	s.Insert(msgAt("a", time.Now()))
	snap := s.Snapshot()
	snap[0].Text = "mutated"
	_ = append(snap, msgAt("b", time.Now()))

	again := s.Snapshot()
	require.Len(t, again, 1)
	assert.Equal(t, "hi a", again[0].Text)
}

func TestConcurrentInsertSameIDs(t *testing.T) {
	s := NewStore("node1", storage.NewMemoryStore(), zerolog.Nop())
	base := time.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	added := 0
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if s.Insert(msgAt(fmt.Sprintf("m%02d", i), base.Add(time.Duration(i)))) {
					mu.Lock()
					added++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, added)
	assert.Equal(t, 20, s.Len())
}

func TestPersistAndReload(t *testing.T) {
	slot := storage.NewMemoryStore()
	s := NewStore("node1", slot, zerolog.Nop())

	var last Message
	for i := 0; i < 3; i++ {
		last = s.CreateMessage("carol", fmt.Sprintf("post %d", i))
		require.True(t, s.Insert(last))
	}
	s.Insert(msgAt("remote-1-abcdef", time.Now().Add(-time.Hour)))

	reloaded := NewStore("node1", slot, zerolog.Nop())
	n, err := reloaded.Load()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, s.Snapshot(), reloaded.Snapshot())
	assert.GreaterOrEqual(t, reloaded.Counter(), last.Counter)

	next := reloaded.CreateMessage("carol", "after restart")
	assert.Greater(t, next.Counter, last.Counter)
	assert.False(t, reloaded.Has(next.ID))
}

func TestReloadCounterFromOwnMessages(t *testing.T) {
	slot := storage.NewMemoryStore()
	raw := `{"messages":[{"id":"node1-7-abcdef","node_id":"node1","counter":7,"timestamp":"2024-01-01T00:00:00.000000Z","user":"a","text":"t"}],"local_counter":2}`
	require.NoError(t, slot.Put(SlotKey("node1"), []byte(raw)))

	s := NewStore("node1", slot, zerolog.Nop())
	_, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), s.Counter())
}

func TestLoadFailuresLeaveStoreEmpty(t *testing.T) {
	t.Run("missing slot", func(t *testing.T) {
		s := NewStore("node1", storage.NewMemoryStore(), zerolog.Nop())
		n, err := s.Load()
		assert.ErrorIs(t, err, storage.ErrKeyNotFound)
		assert.Zero(t, n)
		assert.Equal(t, 0, s.Len())
	})

	t.Run("corrupt slot", func(t *testing.T) {
		slot := storage.NewMemoryStore()
		require.NoError(t, slot.Put(SlotKey("node1"), []byte("{not json")))
		s := NewStore("node1", slot, zerolog.Nop())
		_, err := s.Load()
		assert.Error(t, err)
		assert.Equal(t, 0, s.Len())
		assert.Equal(t, uint64(0), s.Counter())
	})

	t.Run("unreadable slot", func(t *testing.T) {
		s := NewStore("node1", failingSlot{}, zerolog.Nop())
		_, err := s.Load()
		assert.Error(t, err)
	})
}

func TestPersistFailureIsNotFatal(t *testing.T) {
	s := NewStore("node1", failingSlot{}, zerolog.Nop())
	m := s.CreateMessage("alice", "still here")

	assert.True(t, s.Insert(m))
	assert.Equal(t, 1, s.Len())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"valid", Message{ID: "n-1-abc", Text: "x"}, false},
		{"missing id", Message{Text: "x"}, true},
		{"blank text", Message{ID: "n-1-abc", Text: "   "}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMessage)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
