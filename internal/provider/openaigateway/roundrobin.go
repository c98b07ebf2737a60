package openaigateway

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/eL1fe/assistants-gateway/internal/provider"
)

// RoundRobin implements provider.Client by distributing requests across
// several backing clients in rotation — the literal "re-hosting a cluster"
// case rather than a single upstream: each element of backends is typically
// an openaicompat client pointed at a different replica of the same
// OpenAI-compatible deployment.
type RoundRobin struct {
	backends []provider.Client
	next     uint64
}

// NewRoundRobin builds a RoundRobin over the given backends. At least one
// backend is required.
func NewRoundRobin(backends []provider.Client) (*RoundRobin, error) {
	if len(backends) == 0 {
		return nil, errors.New("openaigateway: at least one backend is required")
	}
	return &RoundRobin{backends: backends}, nil
}

func (r *RoundRobin) pick() provider.Client {
	idx := atomic.AddUint64(&r.next, 1) - 1
	return r.backends[idx%uint64(len(r.backends))]
}

// Complete dispatches to the next backend in rotation.
func (r *RoundRobin) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	return r.pick().Complete(ctx, req)
}

// Stream dispatches to the next backend in rotation.
func (r *RoundRobin) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	return r.pick().Stream(ctx, req)
}
