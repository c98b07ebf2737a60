package openaigateway

import (
	"context"
	"io"
	"sync"

	"github.com/eL1fe/assistants-gateway/internal/provider"
)

// callbackStreamer runs a StreamHandler's send-callback shape in a
// background goroutine and re-exposes it through provider.Streamer's
// pull-based Recv, the same adaptation every other adapter's streamer
// performs over its own SDK's native shape.
type callbackStreamer struct {
	ctx    context.Context
	cancel context.CancelFunc

	chunks chan provider.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error
}

func newCallbackStreamer(ctx context.Context, handler StreamHandler, req provider.Request) *callbackStreamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &callbackStreamer{ctx: cctx, cancel: cancel, chunks: make(chan provider.Chunk, 32)}
	go s.run(handler, req)
	return s
}

func (s *callbackStreamer) Recv() (provider.Chunk, error) {
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

func (s *callbackStreamer) Close() error {
	s.cancel()
	return nil
}

func (s *callbackStreamer) run(handler StreamHandler, req provider.Request) {
	defer close(s.chunks)
	err := handler(s.ctx, req, func(c provider.Chunk) error {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case s.chunks <- c:
			return nil
		}
	})
	s.setErr(err)
}

func (s *callbackStreamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *callbackStreamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}
