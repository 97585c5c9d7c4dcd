// Package logging builds the node's zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a JSON logger on stderr tagged with nodeID.
func New(level, nodeID string) zerolog.Logger {
	return NewWithWriter(os.Stderr, level, nodeID)
}

// NewWithWriter is New with an explicit sink. Unknown levels fall back to
// info.
func NewWithWriter(w io.Writer, level, nodeID string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("node", nodeID).
		Logger()
}

func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
