// Package cache layers a write-through, read-through in-process cache in
// front of any store.Store backend. Writes hit both the cache and the
// backend (backend first: a failed backend write must never populate the
// cache); reads consult the cache and fall back to the backend on miss,
// filling the cache only on a successful load. Deletes invalidate.
//
// Grounded on the teacher's runtime/registry/cache.go MemoryCache (RWMutex
// map, invalidate-on-delete), adapted to cache indefinitely: entities, unlike
// the teacher's toolset schemas, have no background-refresh requirement, so
// there is no TTL or refresh goroutine here — only explicit invalidation on
// write/delete, per spec.md §4.1's cache policy.
package cache

import (
	"context"
	"sync"

	"github.com/eL1fe/assistants-gateway/internal/store"
	"github.com/eL1fe/assistants-gateway/internal/types"
)

// Store wraps an inner store.Store with a read-through/write-through cache
// over per-ID entity lookups (Assistants, Threads, Files, and Messages by
// ID). List and pagination queries always consult the backend directly,
// since backend specifics (ordering, cursors) must not leak through the
// cache layer.
type Store struct {
	inner store.Store

	mu         sync.RWMutex
	assistants map[string]types.Assistant
	threads    map[string]types.Thread
	files      map[string]types.File
	messages   map[string]types.Message // key: threadID+"/"+messageID
}

// New wraps inner with a write-through cache.
func New(inner store.Store) *Store {
	return &Store{
		inner:      inner,
		assistants: make(map[string]types.Assistant),
		threads:    make(map[string]types.Thread),
		files:      make(map[string]types.File),
		messages:   make(map[string]types.Message),
	}
}

// ---- Assistants ----

func (c *Store) CreateAssistant(ctx context.Context, a types.Assistant) (types.Assistant, error) {
	out, err := c.inner.CreateAssistant(ctx, a)
	if err != nil {
		return types.Assistant{}, err
	}
	c.mu.Lock()
	c.assistants[out.ID] = out
	c.mu.Unlock()
	return out, nil
}

func (c *Store) GetAssistant(ctx context.Context, id string) (types.Assistant, error) {
	c.mu.RLock()
	a, ok := c.assistants[id]
	c.mu.RUnlock()
	if ok {
		return a, nil
	}
	out, err := c.inner.GetAssistant(ctx, id)
	if err != nil {
		return types.Assistant{}, err
	}
	c.mu.Lock()
	c.assistants[id] = out
	c.mu.Unlock()
	return out, nil
}

func (c *Store) UpdateAssistant(ctx context.Context, id string, patch store.AssistantPatch) (types.Assistant, error) {
	out, err := c.inner.UpdateAssistant(ctx, id, patch)
	if err != nil {
		return types.Assistant{}, err
	}
	c.mu.Lock()
	c.assistants[id] = out
	c.mu.Unlock()
	return out, nil
}

func (c *Store) DeleteAssistant(ctx context.Context, id string) error {
	if err := c.inner.DeleteAssistant(ctx, id); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.assistants, id)
	c.mu.Unlock()
	return nil
}

func (c *Store) ListAssistants(ctx context.Context, limit int, order store.Order, after, before string) (store.Page[types.Assistant], error) {
	return c.inner.ListAssistants(ctx, limit, order, after, before)
}

// ---- Threads ----

func (c *Store) CreateThread(ctx context.Context, t types.Thread) (types.Thread, error) {
	out, err := c.inner.CreateThread(ctx, t)
	if err != nil {
		return types.Thread{}, err
	}
	c.mu.Lock()
	c.threads[out.ID] = out
	c.mu.Unlock()
	return out, nil
}

func (c *Store) GetThread(ctx context.Context, id string) (types.Thread, error) {
	c.mu.RLock()
	t, ok := c.threads[id]
	c.mu.RUnlock()
	if ok {
		return t, nil
	}
	out, err := c.inner.GetThread(ctx, id)
	if err != nil {
		return types.Thread{}, err
	}
	c.mu.Lock()
	c.threads[id] = out
	c.mu.Unlock()
	return out, nil
}

func (c *Store) UpdateThreadMetadata(ctx context.Context, id string, metadata map[string]string) (types.Thread, error) {
	out, err := c.inner.UpdateThreadMetadata(ctx, id, metadata)
	if err != nil {
		return types.Thread{}, err
	}
	c.mu.Lock()
	c.threads[id] = out
	c.mu.Unlock()
	return out, nil
}

func (c *Store) DeleteThread(ctx context.Context, id string) error {
	if err := c.inner.DeleteThread(ctx, id); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.threads, id)
	for k := range c.messages {
		if threadOf(k) == id {
			delete(c.messages, k)
		}
	}
	c.mu.Unlock()
	return nil
}

func (c *Store) ListThreads(ctx context.Context, limit int, order store.Order, after, before string) (store.Page[types.Thread], error) {
	return c.inner.ListThreads(ctx, limit, order, after, before)
}

// ---- Messages ----

func (c *Store) AppendMessage(ctx context.Context, threadID string, m types.Message) (types.Message, error) {
	out, err := c.inner.AppendMessage(ctx, threadID, m)
	if err != nil {
		return types.Message{}, err
	}
	c.mu.Lock()
	c.messages[msgKey(threadID, out.ID)] = out
	c.mu.Unlock()
	return out, nil
}

func (c *Store) GetMessage(ctx context.Context, threadID, messageID string) (types.Message, error) {
	key := msgKey(threadID, messageID)
	c.mu.RLock()
	m, ok := c.messages[key]
	c.mu.RUnlock()
	if ok {
		return m, nil
	}
	out, err := c.inner.GetMessage(ctx, threadID, messageID)
	if err != nil {
		return types.Message{}, err
	}
	c.mu.Lock()
	c.messages[key] = out
	c.mu.Unlock()
	return out, nil
}

func (c *Store) ListMessages(ctx context.Context, threadID string, params store.ListMessagesParams) (store.Page[types.Message], error) {
	return c.inner.ListMessages(ctx, threadID, params)
}

// ---- Files ----

func (c *Store) CreateFile(ctx context.Context, f types.File) (types.File, error) {
	out, err := c.inner.CreateFile(ctx, f)
	if err != nil {
		return types.File{}, err
	}
	c.mu.Lock()
	c.files[out.ID] = out
	c.mu.Unlock()
	return out, nil
}

func (c *Store) GetFile(ctx context.Context, id string) (types.File, error) {
	c.mu.RLock()
	f, ok := c.files[id]
	c.mu.RUnlock()
	if ok {
		return f, nil
	}
	out, err := c.inner.GetFile(ctx, id)
	if err != nil {
		return types.File{}, err
	}
	c.mu.Lock()
	c.files[id] = out
	c.mu.Unlock()
	return out, nil
}

func (c *Store) DeleteFile(ctx context.Context, id string) error {
	if err := c.inner.DeleteFile(ctx, id); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.files, id)
	c.mu.Unlock()
	return nil
}

func (c *Store) ListFiles(ctx context.Context, limit int, order store.Order, after, before string) (store.Page[types.File], error) {
	return c.inner.ListFiles(ctx, limit, order, after, before)
}

func msgKey(threadID, messageID string) string { return threadID + "/" + messageID }

func threadOf(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i]
		}
	}
	return key
}

var _ store.Store = (*Store)(nil)
