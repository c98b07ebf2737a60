package bedrock

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/eL1fe/assistants-gateway/internal/provider"
)

// streamer adapts a Bedrock ConverseStream event stream into
// provider.Streamer. Events arrive on the SDK's own channel; a background
// goroutine re-emits them as normalized Chunks over a buffered channel so a
// slow consumer cannot stall the SDK's decode loop.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *bedrockruntime.ConverseStreamEventStream

	chunks chan provider.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error
}

func newStreamer(ctx context.Context, stream *bedrockruntime.ConverseStreamEventStream, nameMap map[string]string) *streamer {
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
	return s.stream.Close()
}

func (s *streamer) run(nameMap map[string]string) {
	defer close(s.chunks)
	defer func() {
		if err := s.stream.Close(); err != nil {
			s.setErr(err)
		}
	}()

	p := newChunkProcessor(s.emit, nameMap)
	events := s.stream.Events()
	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		case event, ok := <-events:
			if !ok {
				if err := s.stream.Err(); err != nil {
					s.setErr(err)
				} else if err := s.ctx.Err(); err != nil {
					s.setErr(err)
				} else {
					s.setErr(nil)
				}
				return
			}
			if err := p.handle(event); err != nil {
				s.setErr(err)
				return
			}
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

// chunkProcessor converts Bedrock ConverseStream events into provider.Chunks.
type chunkProcessor struct {
	emit       func(provider.Chunk) error
	toolBlocks map[int]*toolBuffer
	nameMap    map[string]string
}

type toolBuffer struct {
	id, name  string
	fragments []string
}

func (tb *toolBuffer) joined() string {
	joined := strings.Join(tb.fragments, "")
	if joined == "" {
		return "{}"
	}
	return joined
}

func newChunkProcessor(emit func(provider.Chunk) error, nameMap map[string]string) *chunkProcessor {
	return &chunkProcessor{emit: emit, toolBlocks: make(map[int]*toolBuffer), nameMap: nameMap}
}

func (p *chunkProcessor) handle(event any) error {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberMessageStart:
		p.toolBlocks = make(map[int]*toolBuffer)
		return nil
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		if toolUse, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
			id := ""
			if toolUse.Value.ToolUseId != nil {
				id = *toolUse.Value.ToolUseId
			}
			raw := ""
			if toolUse.Value.Name != nil {
				raw = *toolUse.Value.Name
			}
			name := raw
			if canonical, ok := p.nameMap[raw]; ok {
				name = canonical
			}
			p.toolBlocks[idx] = &toolBuffer{id: id, name: name}
		}
		return nil
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		switch delta := ev.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			if delta.Value == "" {
				return nil
			}
			return p.emit(provider.Chunk{Type: provider.ChunkContent, ContentDelta: delta.Value})
		case *brtypes.ContentBlockDeltaMemberToolUse:
			tb := p.toolBlocks[idx]
			if tb == nil || delta.Value.Input == nil {
				return nil
			}
			fragment := *delta.Value.Input
			tb.fragments = append(tb.fragments, fragment)
			return p.emit(provider.Chunk{Type: provider.ChunkToolCallDelta, ToolCallDelta: &provider.ToolCallDelta{
				Index: idx, ID: tb.id, Name: tb.name, Delta: fragment,
			}})
		}
		return nil
	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		tb := p.toolBlocks[idx]
		if tb == nil {
			return nil
		}
		delete(p.toolBlocks, idx)
		return p.emit(provider.Chunk{Type: provider.ChunkToolCall, ToolCall: &provider.ToolCall{
			ID: tb.id, Name: tb.name, Arguments: []byte(tb.joined()),
		}})
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		hasTools := false
		chunk := provider.Chunk{Type: provider.ChunkStop, FinishReason: mapStopReason(string(ev.Value.StopReason), hasTools)}
		p.toolBlocks = make(map[int]*toolBuffer)
		return p.emit(chunk)
	case *brtypes.ConverseStreamOutputMemberMetadata:
		if ev.Value.Usage == nil {
			return nil
		}
		usage := provider.TokenUsage{
			InputTokens:  int32Value(ev.Value.Usage.InputTokens),
			OutputTokens: int32Value(ev.Value.Usage.OutputTokens),
			TotalTokens:  int32Value(ev.Value.Usage.TotalTokens),
		}
		return p.emit(provider.Chunk{Type: provider.ChunkUsage, Usage: &usage})
	}
	return nil
}

func contentIndex(idx *int32) (int, error) {
	if idx == nil {
		return 0, fmt.Errorf("bedrock: content block index missing")
	}
	return int(*idx), nil
}

func int32Value(ptr *int32) int {
	if ptr == nil {
		return 0
	}
	return int(*ptr)
}
