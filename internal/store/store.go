// Package store defines the durable persistence contract for Assistants,
// Threads (and their Message sequences), and Files. The interface is the
// capability every backend (in-memory, Redis-shaped key-value, relational)
// implements identically; callers never see backend-specific behavior.
//
// The Store exclusively owns persisted entities: callers receive immutable
// snapshots or explicit copies, never internal pointers a second caller could
// mutate concurrently. The Store does not validate semantic invariants
// across entities (e.g. that a tool-result Message matches an outstanding
// tool call) — that is the Run Engine's duty.
package store

import (
	"context"
	"errors"

	"github.com/eL1fe/assistants-gateway/internal/types"
)

// ErrNotFound is returned by Get/Update/Delete operations when the entity
// does not exist. Backends must return exactly this sentinel (wrapped or
// bare) so callers can use errors.Is.
var ErrNotFound = errors.New("store: not found")

// Order directs message-listing order.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// ListMessagesParams carries the cursor-pagination inputs for listing a
// Thread's messages.
//
// Cursor semantics: After skips up to and including that message ID in the
// given order; Before truncates strictly before it. A cursor pointing at a
// non-existent ID is ignored and the full collection is returned (in the
// requested order), per spec.
type ListMessagesParams struct {
	Limit  int
	Order  Order
	After  string
	Before string
}

// Page is a single page of results plus the has_more flag, derived by
// fetching Limit+1 and truncating.
type Page[T any] struct {
	Items   []T
	HasMore bool
}

// AssistantStore is the CRUD contract for Assistants.
type AssistantStore interface {
	CreateAssistant(ctx context.Context, a types.Assistant) (types.Assistant, error)
	GetAssistant(ctx context.Context, id string) (types.Assistant, error)
	UpdateAssistant(ctx context.Context, id string, patch AssistantPatch) (types.Assistant, error)
	DeleteAssistant(ctx context.Context, id string) error
	ListAssistants(ctx context.Context, limit int, order Order, after, before string) (Page[types.Assistant], error)
}

// AssistantPatch carries partial-update fields for an Assistant. Nil pointers
// (and a nil Tools slice) leave the corresponding field unchanged.
type AssistantPatch struct {
	Model          *string
	Name           *string
	Description    *string
	Instructions   *string
	Tools          []types.Tool
	Temperature    *float32
	TopP           *float32
	ResponseFormat *types.ResponseFormat
	Metadata       map[string]string
}

// ThreadStore is the CRUD contract for Threads plus their Message sequences.
type ThreadStore interface {
	CreateThread(ctx context.Context, t types.Thread) (types.Thread, error)
	GetThread(ctx context.Context, id string) (types.Thread, error)
	UpdateThreadMetadata(ctx context.Context, id string, metadata map[string]string) (types.Thread, error)
	DeleteThread(ctx context.Context, id string) error
	ListThreads(ctx context.Context, limit int, order Order, after, before string) (Page[types.Thread], error)

	// AppendMessage appends m to threadID's ordered sequence, assigning Seq
	// and ID if unset. Appends for a single engine-driven Run must be
	// serialized by the caller; the Store itself only guarantees per-ID
	// write serialization, not cross-append ordering beyond arrival order.
	AppendMessage(ctx context.Context, threadID string, m types.Message) (types.Message, error)
	GetMessage(ctx context.Context, threadID, messageID string) (types.Message, error)
	ListMessages(ctx context.Context, threadID string, params ListMessagesParams) (Page[types.Message], error)
}

// FileStore is the CRUD contract for Files.
type FileStore interface {
	CreateFile(ctx context.Context, f types.File) (types.File, error)
	GetFile(ctx context.Context, id string) (types.File, error)
	DeleteFile(ctx context.Context, id string) error
	ListFiles(ctx context.Context, limit int, order Order, after, before string) (Page[types.File], error)
}

// Store is the full persistence capability the Gateway and Run Engine
// depend on.
type Store interface {
	AssistantStore
	ThreadStore
	FileStore
}
