// Package ids mints opaque, type-prefixed identifiers for gateway entities.
//
// Identifiers follow the OpenAI Assistants convention of a short prefix
// identifying the entity kind followed by an opaque random string (for
// example "asst_8f3c1a9b2d4e"). Callers must treat everything after the
// prefix as opaque; the prefix itself is the only part used for routing or
// entity-kind dispatch.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

// Prefix identifies the entity kind encoded in a generated ID.
type Prefix string

const (
	// Assistant prefixes Assistant IDs.
	Assistant Prefix = "asst"
	// Thread prefixes Thread IDs.
	Thread Prefix = "thread"
	// Message prefixes Message IDs.
	Message Prefix = "msg"
	// Run prefixes Run IDs.
	Run Prefix = "run"
	// File prefixes File IDs.
	File Prefix = "file"
	// ToolCall prefixes tool call IDs minted by provider adapters.
	ToolCall Prefix = "call"
	// Trace prefixes trace IDs.
	Trace Prefix = "trace"
	// Span prefixes span IDs.
	Span Prefix = "span"
)

// New mints a fresh opaque ID for the given prefix. The opaque portion is at
// least 12 characters of hex-encoded random entropy, matching the
// ">=12-character random string" requirement.
func New(p Prefix) string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return string(p) + "_" + raw
}

// HasPrefix reports whether id carries the given type prefix. Useful for
// routing handlers that accept either a thread or run ID in the same path
// segment.
func HasPrefix(id string, p Prefix) bool {
	return strings.HasPrefix(id, string(p)+"_")
}
