// Package sqlstore implements store.Store over a relational backend using
// database/sql: a single wide table keyed by (kind, id) holding a JSON
// payload and an updated_at timestamp, per spec.md §4.1's "single wide table
// keyed by (type, id)" backend description.
//
// Grounded on the teacher's features/run/mongo/store.go thin
// delegate-to-client shape (lazy connect, a narrow client interface so tests
// can fake the driver) adapted from a document store onto database/sql, and
// on floegence-redeven-agent's use of modernc.org/sqlite — a pure-Go driver
// that avoids a cgo dependency for local/embedded relational persistence.
// Binary file content is base64-encoded inside the JSON payload, since the
// column is a JSON/text column, not a BLOB, matching spec.md's "non-native
// backend" requirement.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/eL1fe/assistants-gateway/internal/ids"
	"github.com/eL1fe/assistants-gateway/internal/store"
	"github.com/eL1fe/assistants-gateway/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS entities (
	kind       TEXT    NOT NULL,
	id         TEXT    NOT NULL,
	parent_id  TEXT    NOT NULL DEFAULT '',
	seq        INTEGER NOT NULL DEFAULT 0,
	payload    TEXT    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (kind, id)
);
CREATE INDEX IF NOT EXISTS entities_parent_seq ON entities(kind, parent_id, seq);
`

const (
	kindAssistant = "assistant"
	kindThread    = "thread"
	kindMessage   = "message"
	kindFile      = "file"
)

// Store is a relational store.Store backend. It is lazily connected: New
// only records the DSN, and the underlying *sql.DB is opened, pinged and
// given its schema on first use, which surfaces any connection failure as a
// store-level configuration error.
type Store struct {
	dsn string

	mu      sync.Mutex
	db      *sql.DB
	connErr error
}

// New returns a Store that will lazily open dsn (a modernc.org/sqlite data
// source name, e.g. "file:gateway.db?cache=shared" or ":memory:") on first
// operation.
func New(dsn string) *Store {
	return &Store{dsn: dsn}
}

func (s *Store) conn(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	if s.connErr != nil {
		return nil, s.connErr
	}
	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		s.connErr = fmt.Errorf("sqlstore: config error: %w", err)
		return nil, s.connErr
	}
	// A single connection keeps an ":memory:" DSN consistent across calls
	// (each new connection to ":memory:" would otherwise see an empty
	// database) and matches the per-ID write serialization spec.md requires.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		s.connErr = fmt.Errorf("sqlstore: config error: %w", err)
		return nil, s.connErr
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		s.connErr = fmt.Errorf("sqlstore: config error: %w", err)
		return nil, s.connErr
	}
	s.db = db
	return db, nil
}

// Close releases the underlying database handle, if opened.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- row encode/decode ----

func (s *Store) put(ctx context.Context, kind, id, parentID string, seq int64, payload any, updatedAt int64) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal %s: %w", kind, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO entities (kind, id, parent_id, seq, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at, seq=excluded.seq, parent_id=excluded.parent_id
	`, kind, id, parentID, seq, string(buf), updatedAt)
	return err
}

func (s *Store) get(ctx context.Context, kind, id string, out any) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	var payload string
	err = db.QueryRowContext(ctx, `SELECT payload FROM entities WHERE kind = ? AND id = ?`, kind, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(payload), out)
}

func (s *Store) del(ctx context.Context, kind, id string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM entities WHERE kind = ? AND id = ?`, kind, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) listIDs(ctx context.Context, kind, parentID string, order store.Order) ([]string, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	dir := "ASC"
	if order == store.OrderDesc {
		dir = "DESC"
	}
	var rows *sql.Rows
	if kind == kindMessage {
		rows, err = db.QueryContext(ctx, fmt.Sprintf(`SELECT id FROM entities WHERE kind = ? AND parent_id = ? ORDER BY seq %s`, dir), kind, parentID)
	} else {
		rows, err = db.QueryContext(ctx, fmt.Sprintf(`SELECT id FROM entities WHERE kind = ? ORDER BY seq %s, id %s`, dir, dir), kind)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ---- Assistants ----

func (s *Store) CreateAssistant(ctx context.Context, a types.Assistant) (types.Assistant, error) {
	if a.ID == "" {
		a.ID = ids.New(ids.Assistant)
	}
	if err := s.put(ctx, kindAssistant, a.ID, "", a.CreatedAt, a, a.CreatedAt); err != nil {
		return types.Assistant{}, err
	}
	return a, nil
}

func (s *Store) GetAssistant(ctx context.Context, id string) (types.Assistant, error) {
	var a types.Assistant
	if err := s.get(ctx, kindAssistant, id, &a); err != nil {
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
	if err := s.put(ctx, kindAssistant, id, "", a.CreatedAt, a, a.CreatedAt); err != nil {
		return types.Assistant{}, err
	}
	return a, nil
}

func (s *Store) DeleteAssistant(ctx context.Context, id string) error {
	return s.del(ctx, kindAssistant, id)
}

func (s *Store) ListAssistants(ctx context.Context, limit int, order store.Order, after, before string) (store.Page[types.Assistant], error) {
	all, err := s.listIDs(ctx, kindAssistant, "", order)
	if err != nil {
		return store.Page[types.Assistant]{}, err
	}
	pg := paginate(all, after, before, limit)
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
	if err := s.put(ctx, kindThread, t.ID, "", t.CreatedAt, t, t.CreatedAt); err != nil {
		return types.Thread{}, err
	}
	return t, nil
}

func (s *Store) GetThread(ctx context.Context, id string) (types.Thread, error) {
	var t types.Thread
	if err := s.get(ctx, kindThread, id, &t); err != nil {
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
	if err := s.put(ctx, kindThread, id, "", t.CreatedAt, t, t.CreatedAt); err != nil {
		return types.Thread{}, err
	}
	return t, nil
}

func (s *Store) DeleteThread(ctx context.Context, id string) error {
	if err := s.del(ctx, kindThread, id); err != nil {
		return err
	}
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM entities WHERE kind = ? AND parent_id = ?`, kindMessage, id)
	return err
}

func (s *Store) ListThreads(ctx context.Context, limit int, order store.Order, after, before string) (store.Page[types.Thread], error) {
	all, err := s.listIDs(ctx, kindThread, "", order)
	if err != nil {
		return store.Page[types.Thread]{}, err
	}
	pg := paginate(all, after, before, limit)
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
	seq, err := s.nextSeq(ctx, threadID)
	if err != nil {
		return types.Message{}, err
	}
	m.Seq = seq
	if err := s.put(ctx, kindMessage, m.ID, threadID, seq, m, m.CreatedAt); err != nil {
		return types.Message{}, err
	}
	return m, nil
}

func (s *Store) nextSeq(ctx context.Context, threadID string) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	var max sql.NullInt64
	err = db.QueryRowContext(ctx, `SELECT MAX(seq) FROM entities WHERE kind = ? AND parent_id = ?`, kindMessage, threadID).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max.Int64 + 1, nil
}

func (s *Store) GetMessage(ctx context.Context, threadID, messageID string) (types.Message, error) {
	var m types.Message
	if err := s.get(ctx, kindMessage, messageID, &m); err != nil {
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
	all, err := s.listIDs(ctx, kindMessage, threadID, params.Order)
	if err != nil {
		return store.Page[types.Message]{}, err
	}
	pg := paginate(all, params.After, params.Before, params.Limit)
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
	if err := s.put(ctx, kindFile, f.ID, "", f.CreatedAt, wire, f.CreatedAt); err != nil {
		return types.File{}, err
	}
	return f, nil
}

func (s *Store) GetFile(ctx context.Context, id string) (types.File, error) {
	var wire wireFile
	if err := s.get(ctx, kindFile, id, &wire); err != nil {
		return types.File{}, err
	}
	content, err := base64.StdEncoding.DecodeString(wire.ContentB64)
	if err != nil {
		return types.File{}, fmt.Errorf("sqlstore: invalid_response decoding file content: %w", err)
	}
	return types.File{
		ID: wire.ID, Filename: wire.Filename, Bytes: wire.Bytes,
		Purpose: wire.Purpose, CreatedAt: wire.CreatedAt, Content: content,
	}, nil
}

func (s *Store) DeleteFile(ctx context.Context, id string) error {
	return s.del(ctx, kindFile, id)
}

func (s *Store) ListFiles(ctx context.Context, limit int, order store.Order, after, before string) (store.Page[types.File], error) {
	all, err := s.listIDs(ctx, kindFile, "", order)
	if err != nil {
		return store.Page[types.File]{}, err
	}
	pg := paginate(all, after, before, limit)
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

// ---- wire shapes ----

type wireFile struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	Bytes      int64  `json:"bytes"`
	Purpose    string `json:"purpose"`
	CreatedAt  int64  `json:"created_at"`
	ContentB64 string `json:"content_b64"`
}

// ---- pagination shared with inmem's cursor semantics ----

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
