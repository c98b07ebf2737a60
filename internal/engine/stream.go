package engine

import (
	"sync"
)

// EventName identifies one of the Stream Bus event kinds in the strict
// order spec.md §4.2 requires.
type EventName string

const (
	EventRunCreated           EventName = "thread.run.created"
	EventRunQueued            EventName = "thread.run.queued"
	EventRunInProgress        EventName = "thread.run.in_progress"
	EventMessageCreated       EventName = "thread.message.created"
	EventMessageInProgress    EventName = "thread.message.in_progress"
	EventMessageDelta         EventName = "thread.message.delta"
	EventMessageCompleted     EventName = "thread.message.completed"
	EventRunRequiresAction    EventName = "thread.run.requires_action"
	EventRunCompleted         EventName = "thread.run.completed"
	EventRunFailed            EventName = "thread.run.failed"
	EventRunCancelled         EventName = "thread.run.cancelled"
	EventDone                 EventName = "done"
)

// Event is one message delivered over the Stream Bus. Data is the fully
// rendered JSON payload for the event (an entity snapshot, or for deltas,
// just the incremental content); Done events carry the literal "[DONE]".
type Event struct {
	Name EventName
	Data []byte
}

// busBufferSize bounds the per-subscriber delta buffer. It is deliberately
// small: the engine is otherwise waiting on the upstream provider between
// chunks, so a slow reader blocking the emission point briefly is
// acceptable backpressure, not a bug, per spec.md §5.
const busBufferSize = 16

// Bus is the per-Run Stream Bus: one producer (the Run Engine), zero-or-one
// subscriber (an SSE pump) at a time. Grounded on the teacher's
// runtime/agent/stream Sink/Subscribe contract, simplified to the single
// in-process channel this gateway's SSE transport needs (no Pulse/Redis
// fan-out — the spec calls for one channel per streaming Run, not a
// broadcast tree).
type Bus struct {
	mu         sync.Mutex
	ch         chan Event
	attached   bool
	detachCh   chan struct{}
	closed     bool
}

// NewBus returns a Bus ready to accept a subscriber.
func NewBus() *Bus {
	return &Bus{
		ch:       make(chan Event, busBufferSize),
		detachCh: make(chan struct{}),
	}
}

// Subscribe attaches a reader to the bus, returning the channel to read
// from. Only one subscriber is supported at a time; a later Subscribe call
// (e.g. resuming an SSE stream after a requires_action pause) replaces the
// previous attachment.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attached = true
	return b.ch
}

// Unsubscribe detaches the current reader. Pending and future Send calls
// are dropped (non-blocking) until a new Subscribe call attaches again; the
// Run continues toward its terminal state regardless.
func (b *Bus) Unsubscribe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached {
		return
	}
	b.attached = false
	close(b.detachCh)
	b.detachCh = make(chan struct{})
}

// Send delivers ev to the current subscriber, blocking while one is
// attached (bounded by busBufferSize) and dropping ev immediately if none
// is. Safe to call after Close; sends after Close are silently dropped.
func (b *Bus) Send(ev Event) {
	b.mu.Lock()
	if b.closed || !b.attached {
		b.mu.Unlock()
		return
	}
	ch, detach := b.ch, b.detachCh
	b.mu.Unlock()

	select {
	case ch <- ev:
	case <-detach:
	}
}

// Close sends a terminal done event (if a subscriber is attached) and
// marks the bus closed; further Send calls are no-ops. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	attached := b.attached
	ch, detach := b.ch, b.detachCh
	b.mu.Unlock()

	if attached {
		select {
		case ch <- Event{Name: EventDone, Data: []byte("[DONE]")}:
		case <-detach:
		}
	}
}
