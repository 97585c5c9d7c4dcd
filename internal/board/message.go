package board

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the wire format of Message.Timestamp. The fixed-width
// fraction keeps lexical order equal to chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// ErrInvalidMessage is returned by Validate for messages that may not be admitted.
var ErrInvalidMessage = errors.New("invalid message")

// Message is one post on the shared board. It is immutable once minted;
// the id alone decides identity.
type Message struct {
	ID        string `json:"id"`
	NodeID    string `json:"node_id"`
	Counter   uint64 `json:"counter"`
	Timestamp string `json:"timestamp"`
	User      string `json:"user"`
	Text      string `json:"text"`
}

// Validate reports whether m can be admitted into a store.
func (m Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidMessage)
	}
	if strings.TrimSpace(m.Text) == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidMessage)
	}
	return nil
}

// FormatTimestamp renders t in TimestampLayout (UTC).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// mintID builds "<node>-<counter>-<6 hex>".
func mintID(nodeID string, counter uint64) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("%s-%d-%s", nodeID, counter, suffix)
}
