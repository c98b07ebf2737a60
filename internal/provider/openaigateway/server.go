// Package openaigateway re-hosts OpenAI-compatible completions behind a
// composable middleware chain rather than a single upstream. Where
// openaicompat speaks the wire protocol to one backend, Server wraps one or
// more provider.Client instances (typically openaicompat clients pointed at
// different replicas of an internally proxied OpenAI-compatible cluster)
// with cross-cutting unary/stream middleware — logging, rate limiting,
// retries, request rewriting — applied in registration order.
package openaigateway

import (
	"context"
	"errors"

	"github.com/eL1fe/assistants-gateway/internal/provider"
)

// ErrProviderRequired indicates that a provider.Client must be supplied.
var ErrProviderRequired = errors.New("model gateway: provider is required")

type (
	// UnaryHandler processes a single non-streaming completion request.
	UnaryHandler func(ctx context.Context, req provider.Request) (provider.Response, error)

	// StreamHandler processes a streaming completion request, invoking send
	// for each chunk produced. send must be called sequentially; an error
	// returned from send aborts the stream.
	StreamHandler func(ctx context.Context, req provider.Request, send func(provider.Chunk) error) error

	// UnaryMiddleware wraps a UnaryHandler to add behavior before, after, or
	// around the handler invocation.
	UnaryMiddleware func(next UnaryHandler) UnaryHandler

	// StreamMiddleware wraps a StreamHandler to add behavior around a
	// streaming completion. Middleware must preserve send's sequential
	// semantics.
	StreamMiddleware func(next StreamHandler) StreamHandler

	// Option configures a Server during construction.
	Option func(*serverConfig)

	serverConfig struct {
		provider provider.Client
		unaryMW  []UnaryMiddleware
		streamMW []StreamMiddleware
	}

	// Server adapts a provider.Client into a provider.Client with
	// middleware support for both unary and streaming completions.
	// Middleware is applied in registration order: the first middleware
	// registered wraps all subsequent ones, forming an onion structure
	// where the innermost layer invokes the wrapped provider.
	Server struct {
		provider provider.Client
		unary    UnaryHandler
		stream   StreamHandler
	}
)

// WithProvider sets the underlying provider.Client the Server re-hosts.
// Required; NewServer returns ErrProviderRequired without it.
func WithProvider(p provider.Client) Option {
	return func(c *serverConfig) { c.provider = p }
}

// WithUnary appends one or more UnaryMiddleware to the unary completion
// chain, in registration order.
func WithUnary(mw ...UnaryMiddleware) Option {
	return func(c *serverConfig) { c.unaryMW = append(c.unaryMW, mw...) }
}

// WithStream appends one or more StreamMiddleware to the streaming
// completion chain, in registration order.
func WithStream(mw ...StreamMiddleware) Option {
	return func(c *serverConfig) { c.streamMW = append(c.streamMW, mw...) }
}

// NewServer constructs a Server with the provided options. All behavior
// beyond invoking the wrapped provider is composed via WithUnary/WithStream.
func NewServer(opts ...Option) (*Server, error) {
	var cfg serverConfig
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.provider == nil {
		return nil, ErrProviderRequired
	}

	baseUnary := func(ctx context.Context, req provider.Request) (provider.Response, error) {
		return cfg.provider.Complete(ctx, req)
	}
	baseStream := func(ctx context.Context, req provider.Request, send func(provider.Chunk) error) error {
		st, err := cfg.provider.Stream(ctx, req)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		for {
			ch, err := st.Recv()
			if err != nil {
				return err
			}
			if err := send(ch); err != nil {
				return err
			}
		}
	}

	unary := baseUnary
	for i := len(cfg.unaryMW) - 1; i >= 0; i-- {
		unary = cfg.unaryMW[i](unary)
	}
	stream := baseStream
	for i := len(cfg.streamMW) - 1; i >= 0; i-- {
		stream = cfg.streamMW[i](stream)
	}
	return &Server{provider: cfg.provider, unary: unary, stream: stream}, nil
}

// Complete satisfies provider.Client by running req through the unary
// middleware chain.
func (s *Server) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	return s.unary(ctx, req)
}

// Stream satisfies provider.Client by running req through the stream
// middleware chain and adapting its send-callback shape into a
// provider.Streamer a caller can Recv from.
func (s *Server) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	return newCallbackStreamer(ctx, s.stream, req), nil
}
