package openaigateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eL1fe/assistants-gateway/internal/provider"
)

type fakeProvider struct {
	resp      provider.Response
	err       error
	chunks    []provider.Chunk
	streamErr error
}

func (f *fakeProvider) Complete(context.Context, provider.Request) (provider.Response, error) {
	return f.resp, f.err
}

func (f *fakeProvider) Stream(context.Context, provider.Request) (provider.Streamer, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return &fakeStreamer{chunks: f.chunks}, nil
}

type fakeStreamer struct {
	chunks []provider.Chunk
	idx    int
}

func (s *fakeStreamer) Recv() (provider.Chunk, error) {
	if s.idx >= len(s.chunks) {
		return provider.Chunk{}, errEOF
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, nil
}

func (s *fakeStreamer) Close() error { return nil }

var errEOF = errors.New("EOF")

func TestNewServer_RequiresProvider(t *testing.T) {
	_, err := NewServer()
	assert.ErrorIs(t, err, ErrProviderRequired)
}

func TestServer_Complete_AppliesMiddlewareInRegistrationOrder(t *testing.T) {
	fp := &fakeProvider{resp: provider.Response{Content: "base"}}
	var order []string

	mw1 := func(next UnaryHandler) UnaryHandler {
		return func(ctx context.Context, req provider.Request) (provider.Response, error) {
			order = append(order, "mw1-before")
			resp, err := next(ctx, req)
			order = append(order, "mw1-after")
			return resp, err
		}
	}
	mw2 := func(next UnaryHandler) UnaryHandler {
		return func(ctx context.Context, req provider.Request) (provider.Response, error) {
			order = append(order, "mw2-before")
			resp, err := next(ctx, req)
			order = append(order, "mw2-after")
			return resp, err
		}
	}

	srv, err := NewServer(WithProvider(fp), WithUnary(mw1, mw2))
	require.NoError(t, err)

	resp, err := srv.Complete(context.Background(), provider.Request{})
	require.NoError(t, err)
	assert.Equal(t, "base", resp.Content)
	assert.Equal(t, []string{"mw1-before", "mw2-before", "mw2-after", "mw1-after"}, order)
}

func TestServer_Stream_DrainsUnderlyingChunksThroughRecv(t *testing.T) {
	fp := &fakeProvider{chunks: []provider.Chunk{
		{Type: provider.ChunkContent, ContentDelta: "a"},
		{Type: provider.ChunkContent, ContentDelta: "b"},
	}}
	srv, err := NewServer(WithProvider(fp))
	require.NoError(t, err)

	s, err := srv.Stream(context.Background(), provider.Request{})
	require.NoError(t, err)
	defer s.Close()

	c1, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "a", c1.ContentDelta)

	c2, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "b", c2.ContentDelta)

	_, err = s.Recv()
	assert.Error(t, err)
}

func TestRoundRobin_DistributesAcrossBackends(t *testing.T) {
	p1 := &fakeProvider{resp: provider.Response{Content: "one"}}
	p2 := &fakeProvider{resp: provider.Response{Content: "two"}}
	rr, err := NewRoundRobin([]provider.Client{p1, p2})
	require.NoError(t, err)

	r1, err := rr.Complete(context.Background(), provider.Request{})
	require.NoError(t, err)
	r2, err := rr.Complete(context.Background(), provider.Request{})
	require.NoError(t, err)
	r3, err := rr.Complete(context.Background(), provider.Request{})
	require.NoError(t, err)

	assert.Equal(t, "one", r1.Content)
	assert.Equal(t, "two", r2.Content)
	assert.Equal(t, "one", r3.Content)
}

func TestRoundRobin_RequiresAtLeastOneBackend(t *testing.T) {
	_, err := NewRoundRobin(nil)
	assert.Error(t, err)
}
