package anthropic

import (
	"context"
	"io"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/eL1fe/assistants-gateway/internal/provider"
)

// streamer adapts an Anthropic Messages streaming response into
// provider.Streamer. Events are consumed on a background goroutine and
// delivered over a buffered channel so Recv never blocks the SDK's own
// event-loop goroutine.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	chunks chan provider.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], nameMap map[string]string) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: cctx, cancel: cancel, stream: stream, chunks: make(chan provider.Chunk, 32)}
	go s.run(nameMap)
	return s
}

func (s *streamer) Recv() (provider.Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if err := s.err(); err != nil {
			return provider.Chunk{}, err
		}
		return provider.Chunk{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		s.setErr(err)
		return provider.Chunk{}, err
	}
}

func (s *streamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *streamer) run(nameMap map[string]string) {
	defer close(s.chunks)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	p := newChunkProcessor(s.emit, nameMap)
	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				s.setErr(err)
			} else if err := s.ctx.Err(); err != nil {
				s.setErr(err)
			} else {
				s.setErr(nil)
			}
			return
		}
		if err := p.handle(s.stream.Current()); err != nil {
			s.setErr(err)
			return
		}
	}
}

func (s *streamer) emit(c provider.Chunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- c:
		return nil
	}
}

func (s *streamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *streamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

// chunkProcessor converts Anthropic streaming events into provider.Chunks,
// buffering tool_use input fragments by content-block index until the block
// closes.
type chunkProcessor struct {
	emit        func(provider.Chunk) error
	nameMap     map[string]string
	toolBlocks  map[int]*toolBuffer
	stopReason  string
}

type toolBuffer struct {
	id, name  string
	fragments []string
}

func (tb *toolBuffer) joined() string {
	joined := strings.Join(tb.fragments, "")
	if strings.TrimSpace(joined) == "" {
		return "{}"
	}
	return joined
}

func newChunkProcessor(emit func(provider.Chunk) error, nameMap map[string]string) *chunkProcessor {
	return &chunkProcessor{emit: emit, nameMap: nameMap, toolBlocks: make(map[int]*toolBuffer)}
}

func (p *chunkProcessor) handle(event sdk.MessageStreamEventUnion) error {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		p.toolBlocks = make(map[int]*toolBuffer)
		p.stopReason = ""
		return nil
	case sdk.ContentBlockStartEvent:
		idx := int(ev.Index)
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			name := toolUse.Name
			if canonical, ok := p.nameMap[name]; ok {
				name = canonical
			}
			p.toolBlocks[idx] = &toolBuffer{id: toolUse.ID, name: name}
		}
		return nil
	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return nil
			}
			return p.emit(provider.Chunk{Type: provider.ChunkContent, ContentDelta: delta.Text})
		case sdk.InputJSONDelta:
			if delta.PartialJSON == "" {
				return nil
			}
			tb := p.toolBlocks[idx]
			if tb == nil {
				return nil
			}
			tb.fragments = append(tb.fragments, delta.PartialJSON)
			return p.emit(provider.Chunk{Type: provider.ChunkToolCallDelta, ToolCallDelta: &provider.ToolCallDelta{
				Index: idx, ID: tb.id, Name: tb.name, Delta: delta.PartialJSON,
			}})
		default:
			return nil
		}
	case sdk.ContentBlockStopEvent:
		idx := int(ev.Index)
		tb := p.toolBlocks[idx]
		if tb == nil {
			return nil
		}
		delete(p.toolBlocks, idx)
		return p.emit(provider.Chunk{Type: provider.ChunkToolCall, ToolCall: &provider.ToolCall{
			ID: tb.id, Name: tb.name, Arguments: []byte(tb.joined()),
		}})
	case sdk.MessageDeltaEvent:
		p.stopReason = string(ev.Delta.StopReason)
		usage := provider.TokenUsage{
			InputTokens:  int(ev.Usage.InputTokens),
			OutputTokens: int(ev.Usage.OutputTokens),
			TotalTokens:  int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
		}
		return p.emit(provider.Chunk{Type: provider.ChunkUsage, Usage: &usage})
	case sdk.MessageStopEvent:
		hasTools := false
		chunk := provider.Chunk{Type: provider.ChunkStop, FinishReason: mapStopReason(p.stopReason, hasTools)}
		p.toolBlocks = make(map[int]*toolBuffer)
		return p.emit(chunk)
	}
	return nil
}
