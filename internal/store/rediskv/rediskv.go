// Package rediskv implements store.Store over a Redis-shaped key-value
// backend: set/get/del/keys plus TTL, per spec.md §4.1. Binary file content
// is base64-encoded inside the JSON payload, matching the spec's
// non-in-memory-backend requirement.
//
// Grounded on the teacher's features/stream/pulse/clients/pulse/client.go
// lazy-connect client-wrapper shape: callers build a *redis.Client and pass
// it to New, and the package exposes a narrow Client seam (set/get/del plus
// ordered-list operations for per-thread message ordering and per-kind
// listing) so adapter tests can fake the transport instead of requiring a
// live Redis server.
package rediskv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eL1fe/assistants-gateway/internal/ids"
	"github.com/eL1fe/assistants-gateway/internal/store"
	"github.com/eL1fe/assistants-gateway/internal/types"
)

// ErrKeyNotFound is returned by Client.Get when the key does not exist.
var ErrKeyNotFound = errors.New("rediskv: key not found")

// Client is the narrow Redis surface this backend depends on: set/get/del
// with an optional TTL, plus list operations used to maintain per-kind and
// per-thread ordering indexes (Redis has no native ordered-keys-by-insertion
// scan, so an explicit list is kept alongside each entity's hash entry).
type Client interface {
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	RPush(ctx context.Context, listKey string, value string) error
	LRem(ctx context.Context, listKey string, value string) error
	LRange(ctx context.Context, listKey string) ([]string, error)
}

// RedisClient adapts a *redis.Client to Client.
type RedisClient struct{ RDB *redis.Client }

// NewRedisClient wraps rdb as a Client.
func NewRedisClient(rdb *redis.Client) *RedisClient { return &RedisClient{RDB: rdb} }

func (c *RedisClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.RDB.Set(ctx, key, value, ttl).Err()
}

func (c *RedisClient) Get(ctx context.Context, key string) (string, error) {
	v, err := c.RDB.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	return v, err
}

func (c *RedisClient) Del(ctx context.Context, keys ...string) error {
	return c.RDB.Del(ctx, keys...).Err()
}

func (c *RedisClient) RPush(ctx context.Context, listKey, value string) error {
	return c.RDB.RPush(ctx, listKey, value).Err()
}

func (c *RedisClient) LRem(ctx context.Context, listKey, value string) error {
	return c.RDB.LRem(ctx, listKey, 0, value).Err()
}

func (c *RedisClient) LRange(ctx context.Context, listKey string) ([]string, error) {
	return c.RDB.LRange(ctx, listKey, 0, -1).Result()
}

// Store is a store.Store backend over Client. TTL is zero (no expiry) for
// all entity keys; entities are durable until explicitly deleted.
type Store struct {
	kv Client
}

// New wraps kv as a store.Store.
func New(kv Client) *Store {
	return &Store{kv: kv}
}

func keyAssistant(id string) string { return "assistant:" + id }
func keyThread(id string) string    { return "thread:" + id }
func keyMessage(id string) string   { return "message:" + id }
func keyFile(id string) string      { return "file:" + id }

const (
	listAssistants = "index:assistants"
	listThreads    = "index:threads"
	listFiles      = "index:files"
)

func listMessages(threadID string) string { return "index:thread:" + threadID + ":messages" }

func (s *Store) putJSON(ctx context.Context, key string, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("rediskv: marshal: %w", err)
	}
	return s.kv.Set(ctx, key, string(buf), 0)
}

func (s *Store) getJSON(ctx context.Context, key string, out any) error {
	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), out)
}

// ---- Assistants ----

func (s *Store) CreateAssistant(ctx context.Context, a types.Assistant) (types.Assistant, error) {
	if a.ID == "" {
		a.ID = ids.New(ids.Assistant)
	}
	if err := s.putJSON(ctx, keyAssistant(a.ID), a); err != nil {
		return types.Assistant{}, err
	}
	if err := s.kv.RPush(ctx, listAssistants, a.ID); err != nil {
		return types.Assistant{}, err
	}
	return a, nil
}

func (s *Store) GetAssistant(ctx context.Context, id string) (types.Assistant, error) {
	var a types.Assistant
	if err := s.getJSON(ctx, keyAssistant(id), &a); err != nil {
		return types.Assistant{}, err
	}
	return a, nil
}

func (s *Store) UpdateAssistant(ctx context.Context, id string, patch store.AssistantPatch) (types.Assistant, error) {
	a, err := s.GetAssistant(ctx, id)
	if err != nil {
		return types.Assistant{}, err
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
		a.Tools = patch.Tools
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
		a.Metadata = patch.Metadata
	}
	if err := s.putJSON(ctx, keyAssistant(id), a); err != nil {
		return types.Assistant{}, err
	}
	return a, nil
}

func (s *Store) DeleteAssistant(ctx context.Context, id string) error {
	if _, err := s.GetAssistant(ctx, id); err != nil {
		return err
	}
	if err := s.kv.Del(ctx, keyAssistant(id)); err != nil {
		return err
	}
	return s.kv.LRem(ctx, listAssistants, id)
}

func (s *Store) ListAssistants(ctx context.Context, limit int, order store.Order, after, before string) (store.Page[types.Assistant], error) {
	ord, err := s.orderedList(ctx, listAssistants, order)
	if err != nil {
		return store.Page[types.Assistant]{}, err
	}
	pg := paginate(ord, after, before, limit)
	out := make([]types.Assistant, 0, len(pg.page))
	for _, id := range pg.page {
		a, err := s.GetAssistant(ctx, id)
		if err != nil {
			return store.Page[types.Assistant]{}, err
		}
		out = append(out, a)
	}
	return store.Page[types.Assistant]{Items: out, HasMore: pg.hasMore}, nil
}

// ---- Threads ----

func (s *Store) CreateThread(ctx context.Context, t types.Thread) (types.Thread, error) {
	if t.ID == "" {
		t.ID = ids.New(ids.Thread)
	}
	if err := s.putJSON(ctx, keyThread(t.ID), t); err != nil {
		return types.Thread{}, err
	}
	if err := s.kv.RPush(ctx, listThreads, t.ID); err != nil {
		return types.Thread{}, err
	}
	return t, nil
}

func (s *Store) GetThread(ctx context.Context, id string) (types.Thread, error) {
	var t types.Thread
	if err := s.getJSON(ctx, keyThread(id), &t); err != nil {
		return types.Thread{}, err
	}
	return t, nil
}

func (s *Store) UpdateThreadMetadata(ctx context.Context, id string, metadata map[string]string) (types.Thread, error) {
	t, err := s.GetThread(ctx, id)
	if err != nil {
		return types.Thread{}, err
	}
	t.Metadata = metadata
	if err := s.putJSON(ctx, keyThread(id), t); err != nil {
		return types.Thread{}, err
	}
	return t, nil
}

func (s *Store) DeleteThread(ctx context.Context, id string) error {
	if _, err := s.GetThread(ctx, id); err != nil {
		return err
	}
	msgIDs, err := s.kv.LRange(ctx, listMessages(id))
	if err != nil {
		return err
	}
	for _, mid := range msgIDs {
		if err := s.kv.Del(ctx, keyMessage(mid)); err != nil {
			return err
		}
	}
	if err := s.kv.Del(ctx, keyThread(id), listMessages(id)); err != nil {
		return err
	}
	return s.kv.LRem(ctx, listThreads, id)
}

func (s *Store) ListThreads(ctx context.Context, limit int, order store.Order, after, before string) (store.Page[types.Thread], error) {
	ord, err := s.orderedList(ctx, listThreads, order)
	if err != nil {
		return store.Page[types.Thread]{}, err
	}
	pg := paginate(ord, after, before, limit)
	out := make([]types.Thread, 0, len(pg.page))
	for _, id := range pg.page {
		t, err := s.GetThread(ctx, id)
		if err != nil {
			return store.Page[types.Thread]{}, err
		}
		out = append(out, t)
	}
	return store.Page[types.Thread]{Items: out, HasMore: pg.hasMore}, nil
}

// ---- Messages ----

func (s *Store) AppendMessage(ctx context.Context, threadID string, m types.Message) (types.Message, error) {
	if _, err := s.GetThread(ctx, threadID); err != nil {
		return types.Message{}, err
	}
	if m.ID == "" {
		m.ID = ids.New(ids.Message)
	}
	m.ThreadID = threadID
	existing, err := s.kv.LRange(ctx, listMessages(threadID))
	if err != nil {
		return types.Message{}, err
	}
	m.Seq = int64(len(existing)) + 1
	if err := s.putJSON(ctx, keyMessage(m.ID), m); err != nil {
		return types.Message{}, err
	}
	if err := s.kv.RPush(ctx, listMessages(threadID), m.ID); err != nil {
		return types.Message{}, err
	}
	return m, nil
}

func (s *Store) GetMessage(ctx context.Context, threadID, messageID string) (types.Message, error) {
	var m types.Message
	if err := s.getJSON(ctx, keyMessage(messageID), &m); err != nil {
		return types.Message{}, err
	}
	if m.ThreadID != threadID {
		return types.Message{}, store.ErrNotFound
	}
	return m, nil
}

func (s *Store) ListMessages(ctx context.Context, threadID string, params store.ListMessagesParams) (store.Page[types.Message], error) {
	if _, err := s.GetThread(ctx, threadID); err != nil {
		return store.Page[types.Message]{}, err
	}
	ord, err := s.orderedList(ctx, listMessages(threadID), params.Order)
	if err != nil {
		return store.Page[types.Message]{}, err
	}
	pg := paginate(ord, params.After, params.Before, params.Limit)
	out := make([]types.Message, 0, len(pg.page))
	for _, id := range pg.page {
		m, err := s.GetMessage(ctx, threadID, id)
		if err != nil {
			return store.Page[types.Message]{}, err
		}
		out = append(out, m)
	}
	return store.Page[types.Message]{Items: out, HasMore: pg.hasMore}, nil
}

// ---- Files ----

func (s *Store) CreateFile(ctx context.Context, f types.File) (types.File, error) {
	if f.ID == "" {
		f.ID = ids.New(ids.File)
	}
	wire := wireFile{
		ID: f.ID, Filename: f.Filename, Bytes: f.Bytes, Purpose: f.Purpose,
		CreatedAt: f.CreatedAt, ContentB64: base64.StdEncoding.EncodeToString(f.Content),
	}
	if err := s.putJSON(ctx, keyFile(f.ID), wire); err != nil {
		return types.File{}, err
	}
	if err := s.kv.RPush(ctx, listFiles, f.ID); err != nil {
		return types.File{}, err
	}
	return f, nil
}

func (s *Store) GetFile(ctx context.Context, id string) (types.File, error) {
	var wire wireFile
	if err := s.getJSON(ctx, keyFile(id), &wire); err != nil {
		return types.File{}, err
	}
	content, err := base64.StdEncoding.DecodeString(wire.ContentB64)
	if err != nil {
		return types.File{}, fmt.Errorf("rediskv: invalid_response decoding file content: %w", err)
	}
	return types.File{
		ID: wire.ID, Filename: wire.Filename, Bytes: wire.Bytes,
		Purpose: wire.Purpose, CreatedAt: wire.CreatedAt, Content: content,
	}, nil
}

func (s *Store) DeleteFile(ctx context.Context, id string) error {
	if _, err := s.GetFile(ctx, id); err != nil {
		return err
	}
	if err := s.kv.Del(ctx, keyFile(id)); err != nil {
		return err
	}
	return s.kv.LRem(ctx, listFiles, id)
}

func (s *Store) ListFiles(ctx context.Context, limit int, order store.Order, after, before string) (store.Page[types.File], error) {
	ord, err := s.orderedList(ctx, listFiles, order)
	if err != nil {
		return store.Page[types.File]{}, err
	}
	pg := paginate(ord, after, before, limit)
	out := make([]types.File, 0, len(pg.page))
	for _, id := range pg.page {
		f, err := s.GetFile(ctx, id)
		if err != nil {
			return store.Page[types.File]{}, err
		}
		out = append(out, f)
	}
	return store.Page[types.File]{Items: out, HasMore: pg.hasMore}, nil
}

func (s *Store) orderedList(ctx context.Context, listKey string, order store.Order) ([]string, error) {
	ord, err := s.kv.LRange(ctx, listKey)
	if err != nil {
		return nil, err
	}
	if order == store.OrderDesc {
		out := append([]string(nil), ord...)
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		return out, nil
	}
	return ord, nil
}

type wireFile struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	Bytes      int64  `json:"bytes"`
	Purpose    string `json:"purpose"`
	CreatedAt  int64  `json:"created_at"`
	ContentB64 string `json:"content_b64"`
}

type pageIDs struct {
	page    []string
	hasMore bool
}

func paginate(ordered []string, after, before string, limit int) pageIDs {
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
		return pageIDs{hasMore: len(window) > 0}
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
	return pageIDs{page: append([]string(nil), slice...), hasMore: hasMore}
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

var _ store.Store = (*Store)(nil)
