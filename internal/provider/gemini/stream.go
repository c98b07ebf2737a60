package gemini

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/eL1fe/assistants-gateway/internal/provider"
)

// streamer adapts Gemini's iter.Seq2[*genai.GenerateContentResponse, error]
// into provider.Streamer. Unlike the OpenAI/Anthropic/Bedrock protocols,
// Gemini never fragments a function call's arguments across deltas: each
// FunctionCall part already carries its complete Args map, so every tool
// call is emitted as a single ChunkToolCall rather than accumulated deltas.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc

	chunks chan provider.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error
}

func newStreamer(ctx context.Context, seq iter2) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: cctx, cancel: cancel, chunks: make(chan provider.Chunk, 32)}
	go s.run(seq)
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
	return nil
}

func (s *streamer) run(seq iter2) {
	defer close(s.chunks)

	hasToolCalls := false

	for resp, err := range seq {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}

		if err != nil {
			s.setErr(err)
			return
		}
		if resp == nil {
			continue
		}

		for _, cand := range resp.Candidates {
			if cand == nil || cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					if err := s.emit(provider.Chunk{Type: provider.ChunkContent, ContentDelta: part.Text}); err != nil {
						s.setErr(err)
						return
					}
				}
				if part.FunctionCall != nil {
					hasToolCalls = true
					argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						argsJSON = []byte("{}")
					}
					tc := provider.ToolCall{ID: newToolCallID(part.FunctionCall.Name), Name: part.FunctionCall.Name, Arguments: argsJSON}
					if err := s.emit(provider.Chunk{Type: provider.ChunkToolCall, ToolCall: &tc}); err != nil {
						s.setErr(err)
						return
					}
				}
			}
		}

		if resp.UsageMetadata != nil {
			usage := provider.TokenUsage{
				InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
			}
			if err := s.emit(provider.Chunk{Type: provider.ChunkUsage, Usage: &usage}); err != nil {
				s.setErr(err)
				return
			}
		}
	}

	finish := provider.FinishStop
	if hasToolCalls {
		finish = provider.FinishToolCalls
	}
	if err := s.emit(provider.Chunk{Type: provider.ChunkStop, FinishReason: finish}); err != nil {
		s.setErr(err)
		return
	}
	s.setErr(nil)
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
