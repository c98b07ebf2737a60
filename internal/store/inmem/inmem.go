// Package inmem provides an in-memory implementation of store.Store. It is
// the mandatory backend: safe for concurrent use, holds file content
// natively (no base64 round trip), and is the reference implementation the
// other backends' tests compare against.
//
// Grounded on the teacher's runtime/agent/session/inmem (RWMutex-guarded
// maps, defensive copy on read/write) and runtime/agent/runlog/inmem
// (monotonic per-parent sequence numbers used as pagination cursors).
package inmem

import (
	"context"
	"sync"

	"github.com/eL1fe/assistants-gateway/internal/ids"
	"github.com/eL1fe/assistants-gateway/internal/store"
	"github.com/eL1fe/assistants-gateway/internal/types"
)

// Store implements store.Store entirely in memory.
type Store struct {
	mu sync.RWMutex

	assistants   map[string]types.Assistant
	assistantOrd []string // insertion order, for stable listing

	threads   map[string]types.Thread
	threadOrd []string

	messages   map[string]map[string]types.Message // threadID -> messageID -> Message
	messageOrd map[string][]string                  // threadID -> messageID in append order
	nextSeq    map[string]int64                     // threadID -> next Seq

	files   map[string]types.File
	fileOrd []string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		assistants:   make(map[string]types.Assistant),
		threads:      make(map[string]types.Thread),
		messages:     make(map[string]map[string]types.Message),
		messageOrd:   make(map[string][]string),
		nextSeq:      make(map[string]int64),
		files:        make(map[string]types.File),
	}
}

// ---- Assistants ----

func (s *Store) CreateAssistant(_ context.Context, a types.Assistant) (types.Assistant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = ids.New(ids.Assistant)
	}
	a.Tools = cloneTools(a.Tools)
	a.Metadata = cloneMeta(a.Metadata)
	s.assistants[a.ID] = a
	s.assistantOrd = append(s.assistantOrd, a.ID)
	return cloneAssistant(a), nil
}

func (s *Store) GetAssistant(_ context.Context, id string) (types.Assistant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assistants[id]
	if !ok {
		return types.Assistant{}, store.ErrNotFound
	}
	return cloneAssistant(a), nil
}

func (s *Store) UpdateAssistant(_ context.Context, id string, patch store.AssistantPatch) (types.Assistant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assistants[id]
	if !ok {
		return types.Assistant{}, store.ErrNotFound
	}
	if patch.Model != nil {
		a.Model = *patch.Model
	}
	if patch.Name != nil {
		a.Name = *patch.Name
	}
	if patch.Description != nil {
		a.Description = *patch.Description
	}
	if patch.Instructions != nil {
		a.Instructions = *patch.Instructions
	}
	if patch.Tools != nil {
		a.Tools = cloneTools(patch.Tools)
	}
	if patch.Temperature != nil {
		a.Temperature = patch.Temperature
	}
	if patch.TopP != nil {
		a.TopP = patch.TopP
	}
	if patch.ResponseFormat != nil {
		a.ResponseFormat = patch.ResponseFormat
	}
	if patch.Metadata != nil {
		a.Metadata = cloneMeta(patch.Metadata)
	}
	s.assistants[id] = a
	return cloneAssistant(a), nil
}

func (s *Store) DeleteAssistant(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assistants[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.assistants, id)
	s.assistantOrd = removeID(s.assistantOrd, id)
	return nil
}

func (s *Store) ListAssistants(_ context.Context, limit int, order store.Order, after, before string) (store.Page[types.Assistant], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ord := orderedIDs(s.assistantOrd, order)
	pg := paginateIDs(ord, after, before, limit)
	out := make([]types.Assistant, 0, len(pg.page))
	for _, id := range pg.page {
		out = append(out, cloneAssistant(s.assistants[id]))
	}
	return store.Page[types.Assistant]{Items: out, HasMore: pg.hasMore}, nil
}

// ---- Threads ----

func (s *Store) CreateThread(_ context.Context, t types.Thread) (types.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = ids.New(ids.Thread)
	}
	t.Metadata = cloneMeta(t.Metadata)
	s.threads[t.ID] = t
	s.threadOrd = append(s.threadOrd, t.ID)
	s.messages[t.ID] = make(map[string]types.Message)
	return cloneThread(t), nil
}

func (s *Store) GetThread(_ context.Context, id string) (types.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return types.Thread{}, store.ErrNotFound
	}
	return cloneThread(t), nil
}

func (s *Store) UpdateThreadMetadata(_ context.Context, id string, metadata map[string]string) (types.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return types.Thread{}, store.ErrNotFound
	}
	t.Metadata = cloneMeta(metadata)
	s.threads[id] = t
	return cloneThread(t), nil
}

func (s *Store) DeleteThread(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.threads, id)
	delete(s.messages, id)
	delete(s.messageOrd, id)
	delete(s.nextSeq, id)
	s.threadOrd = removeID(s.threadOrd, id)
	return nil
}

func (s *Store) ListThreads(_ context.Context, limit int, order store.Order, after, before string) (store.Page[types.Thread], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ord := orderedIDs(s.threadOrd, order)
	pg := paginateIDs(ord, after, before, limit)
	out := make([]types.Thread, 0, len(pg.page))
	for _, id := range pg.page {
		out = append(out, cloneThread(s.threads[id]))
	}
	return store.Page[types.Thread]{Items: out, HasMore: pg.hasMore}, nil
}

// ---- Messages ----

func (s *Store) AppendMessage(_ context.Context, threadID string, m types.Message) (types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[threadID]; !ok {
		return types.Message{}, store.ErrNotFound
	}
	if m.ID == "" {
		m.ID = ids.New(ids.Message)
	}
	m.ThreadID = threadID
	seq := s.nextSeq[threadID] + 1
	s.nextSeq[threadID] = seq
	m.Seq = seq
	m.Content = cloneParts(m.Content)

	byID := s.messages[threadID]
	if byID == nil {
		byID = make(map[string]types.Message)
		s.messages[threadID] = byID
	}
	byID[m.ID] = m
	s.messageOrd[threadID] = append(s.messageOrd[threadID], m.ID)
	return cloneMessage(m), nil
}

func (s *Store) GetMessage(_ context.Context, threadID, messageID string) (types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID, ok := s.messages[threadID]
	if !ok {
		return types.Message{}, store.ErrNotFound
	}
	m, ok := byID[messageID]
	if !ok {
		return types.Message{}, store.ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *Store) ListMessages(_ context.Context, threadID string, params store.ListMessagesParams) (store.Page[types.Message], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID, ok := s.messages[threadID]
	if !ok {
		return store.Page[types.Message]{}, store.ErrNotFound
	}
	all := append([]string(nil), s.messageOrd[threadID]...)
	// all is in append (ascending Seq) order already.
	if params.Order == store.OrderDesc {
		reverseStrings(all)
	}

	pg := paginateIDs(all, params.After, params.Before, params.Limit)
	out := make([]types.Message, 0, len(pg.page))
	for _, id := range pg.page {
		out = append(out, cloneMessage(byID[id]))
	}
	return store.Page[types.Message]{Items: out, HasMore: pg.hasMore}, nil
}

// ---- Files ----

func (s *Store) CreateFile(_ context.Context, f types.File) (types.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == "" {
		f.ID = ids.New(ids.File)
	}
	f.Content = append([]byte(nil), f.Content...)
	s.files[f.ID] = f
	s.fileOrd = append(s.fileOrd, f.ID)
	return cloneFile(f), nil
}

func (s *Store) GetFile(_ context.Context, id string) (types.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	if !ok {
		return types.File{}, store.ErrNotFound
	}
	return cloneFile(f), nil
}

func (s *Store) DeleteFile(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.files, id)
	s.fileOrd = removeID(s.fileOrd, id)
	return nil
}

func (s *Store) ListFiles(_ context.Context, limit int, order store.Order, after, before string) (store.Page[types.File], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ord := orderedIDs(s.fileOrd, order)
	pg := paginateIDs(ord, after, before, limit)
	out := make([]types.File, 0, len(pg.page))
	for _, id := range pg.page {
		out = append(out, cloneFile(s.files[id]))
	}
	return store.Page[types.File]{Items: out, HasMore: pg.hasMore}, nil
}

// ---- helpers ----

func orderedIDs(insertionOrder []string, order store.Order) []string {
	out := append([]string(nil), insertionOrder...)
	if order == store.OrderDesc {
		reverseStrings(out)
	}
	return out
}

func reverseStrings(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func removeID(ord []string, id string) []string {
	for i, v := range ord {
		if v == id {
			return append(ord[:i], ord[i+1:]...)
		}
	}
	return ord
}

type paginated struct {
	page    []string
	hasMore bool
}

// paginateIDs applies the after/before cursor semantics over an
// already-ordered ID slice and derives has_more by requesting limit+1.
// A cursor pointing at a non-existent ID is ignored.
func paginateIDs(ordered []string, after, before string, limit int) paginated {
	start := 0
	if after != "" {
		if idx := indexOf(ordered, after); idx >= 0 {
			start = idx + 1
		}
	}
	end := len(ordered)
	if before != "" {
		if idx := indexOf(ordered, before); idx >= 0 {
			end = idx
		}
	}
	if start > end {
		start = end
	}
	window := ordered[start:end]

	if limit <= 0 {
		return paginated{page: nil, hasMore: len(window) > 0}
	}
	fetch := limit + 1
	if fetch > len(window) {
		fetch = len(window)
	}
	slice := window[:fetch]
	hasMore := len(slice) > limit
	if hasMore {
		slice = slice[:limit]
	}
	return paginated{page: append([]string(nil), slice...), hasMore: hasMore}
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneTools(t []types.Tool) []types.Tool {
	if t == nil {
		return nil
	}
	return append([]types.Tool(nil), t...)
}

func cloneParts(p []types.ContentPart) []types.ContentPart {
	if p == nil {
		return nil
	}
	return append([]types.ContentPart(nil), p...)
}

func cloneAssistant(a types.Assistant) types.Assistant {
	out := a
	out.Tools = cloneTools(a.Tools)
	out.Metadata = cloneMeta(a.Metadata)
	return out
}

func cloneThread(t types.Thread) types.Thread {
	out := t
	out.Metadata = cloneMeta(t.Metadata)
	return out
}

func cloneMessage(m types.Message) types.Message {
	out := m
	out.Content = cloneParts(m.Content)
	if m.ToolCalls != nil {
		out.ToolCalls = append([]types.ToolCall(nil), m.ToolCalls...)
	}
	return out
}

func cloneFile(f types.File) types.File {
	out := f
	out.Content = append([]byte(nil), f.Content...)
	return out
}
