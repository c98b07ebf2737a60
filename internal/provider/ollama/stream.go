package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/eL1fe/assistants-gateway/internal/apierrors"
	"github.com/eL1fe/assistants-gateway/internal/provider"
)

// streamer reads the newline-delimited JSON body of an Ollama /api/chat
// streaming response and re-emits it as normalized provider.Chunks. Ollama
// reports each tool call whole rather than as argument fragments, so,
// like Gemini, every tool call is a single ChunkToolCall rather than an
// accumulated delta sequence; a seen-set guards against Ollama occasionally
// re-emitting the same tool call across consecutive lines.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser

	chunks chan provider.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error
}

func newStreamer(ctx context.Context, body io.ReadCloser) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: cctx, cancel: cancel, body: body, chunks: make(chan provider.Chunk, 32)}
	go s.run()
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
	return s.body.Close()
}

func (s *streamer) run() {
	defer close(s.chunks)
	defer s.body.Close()

	scanner := bufio.NewScanner(s.body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	emitted := map[string]struct{}{}
	for scanner.Scan() {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var resp chatResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			s.setErr(apierrors.NewProviderError("ollama", apierrors.KindInvalidResponse, 0, "failed to decode stream line", err))
			return
		}
		if resp.Error != "" {
			s.setErr(apierrors.NewProviderError("ollama", apierrors.KindUnavailable, 0, resp.Error, nil))
			return
		}

		if resp.Message != nil {
			if resp.Message.Content != "" {
				if err := s.emit(provider.Chunk{Type: provider.ChunkContent, ContentDelta: resp.Message.Content}); err != nil {
					s.setErr(err)
					return
				}
			}
			for _, tc := range resp.Message.ToolCalls {
				id := newToolCallID(tc)
				if _, ok := emitted[id]; ok {
					continue
				}
				emitted[id] = struct{}{}
				args := tc.Function.Arguments
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				call := provider.ToolCall{ID: id, Name: strings.TrimSpace(tc.Function.Name), Arguments: args}
				if err := s.emit(provider.Chunk{Type: provider.ChunkToolCall, ToolCall: &call}); err != nil {
					s.setErr(err)
					return
				}
			}
		}

		if resp.Done {
			usage := provider.TokenUsage{
				InputTokens:  resp.PromptEvalCount,
				OutputTokens: resp.EvalCount,
				TotalTokens:  resp.PromptEvalCount + resp.EvalCount,
			}
			if err := s.emit(provider.Chunk{Type: provider.ChunkUsage, Usage: &usage}); err != nil {
				s.setErr(err)
				return
			}
			finish := provider.FinishStop
			if len(emitted) > 0 {
				finish = provider.FinishToolCalls
			}
			if err := s.emit(provider.Chunk{Type: provider.ChunkStop, FinishReason: finish}); err != nil {
				s.setErr(err)
				return
			}
			s.setErr(nil)
			return
		}
	}

	if err := scanner.Err(); err != nil {
		s.setErr(apierrors.NewProviderError("ollama", apierrors.KindUnavailable, 0, fmt.Sprintf("stream read failed: %v", err), err))
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
