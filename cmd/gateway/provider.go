package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/eL1fe/assistants-gateway/internal/config"
	"github.com/eL1fe/assistants-gateway/internal/provider"
	"github.com/eL1fe/assistants-gateway/internal/provider/anthropic"
	"github.com/eL1fe/assistants-gateway/internal/provider/bedrock"
	"github.com/eL1fe/assistants-gateway/internal/provider/gemini"
	"github.com/eL1fe/assistants-gateway/internal/provider/ollama"
	"github.com/eL1fe/assistants-gateway/internal/provider/openaicompat"
	"github.com/eL1fe/assistants-gateway/internal/provider/openaigateway"
	"github.com/eL1fe/assistants-gateway/internal/provider/ratelimit"
)

// initialTPM/maxTPM seed every adapter's AdaptiveLimiter, per spec.md's
// expectation that the Gateway itself shields upstream providers from
// bursts rather than relying on each provider's own throttling.
const (
	initialTPM = 60000.0
	maxTPM     = 600000.0
)

// buildProvider constructs the provider.Client for one configured adapter
// instance, by cfg.Name. Every adapter is wrapped in a per-instance
// ratelimit.AdaptiveLimiter, matching SPEC_FULL.md's domain-stack wiring
// for golang.org/x/time/rate.
func buildProvider(ctx context.Context, cfg config.ProviderConfig) (provider.Client, error) {
	defaultModel := ""
	if len(cfg.Models) > 0 {
		defaultModel = cfg.Models[0]
	}

	var (
		client provider.Client
		err    error
	)
	switch strings.ToLower(cfg.Name) {
	case "openaicompat":
		client, err = openaicompat.NewFromConfig(cfg.APIKey, cfg.BaseURL, cfg.Name, defaultModel, nil)
	case "anthropic":
		client, err = anthropic.NewFromAPIKey(cfg.APIKey, anthropic.Options{DefaultModel: defaultModel, MaxTokens: 4096})
	case "bedrock":
		client, err = buildBedrock(ctx, cfg, defaultModel)
	case "gemini":
		client, err = gemini.NewFromAPIKey(ctx, cfg.APIKey, defaultModel)
	case "ollama":
		client, err = ollama.New(ollama.Options{BaseURL: cfg.BaseURL, DefaultModel: defaultModel, Timeout: 60 * time.Second})
	case "openaigateway":
		client, err = buildOpenAIGateway(cfg, defaultModel)
	default:
		return nil, fmt.Errorf("gateway: unknown provider kind %q", cfg.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("gateway: provider %q: %w", cfg.Name, err)
	}

	return ratelimit.NewAdaptiveLimiter(initialTPM, maxTPM).Wrap(client), nil
}

// buildBedrock resolves AWS credentials the standard way (environment,
// shared config, IAM role) scoped to cfg.Region, per the pack's own
// config.LoadDefaultConfig(ctx, config.WithRegion(...)) convention.
func buildBedrock(ctx context.Context, cfg config.ProviderConfig, defaultModel string) (provider.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	runtime := bedrockruntime.NewFromConfig(awsCfg)
	return bedrock.New(runtime, bedrock.Options{DefaultModel: defaultModel, MaxTokens: 4096, Temperature: 0.7})
}

// buildOpenAIGateway re-hosts one or more OpenAI-compatible replicas (
// cfg.BaseURL as a comma-separated list) behind the onion-middleware
// Server, round-robining across replicas when more than one is given.
func buildOpenAIGateway(cfg config.ProviderConfig, defaultModel string) (provider.Client, error) {
	var backends []provider.Client
	for _, url := range strings.Split(cfg.BaseURL, ",") {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		c, err := openaicompat.NewFromConfig(cfg.APIKey, url, "openaigateway", defaultModel, nil)
		if err != nil {
			return nil, err
		}
		backends = append(backends, c)
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("openaigateway: at least one base_url is required")
	}
	rr, err := openaigateway.NewRoundRobin(backends)
	if err != nil {
		return nil, err
	}
	return openaigateway.NewServer(openaigateway.WithProvider(rr))
}

// resolver builds an engine.ProviderResolver dispatching by exact model name
// against each adapter's declared model list and, for unmatched models, to
// the catch-all adapter (if one is configured).
type resolver struct {
	byModel map[string]provider.Client
	catchAll provider.Client
	names    []string
}

func (r *resolver) Resolve(model string) (provider.Client, error) {
	if c, ok := r.byModel[model]; ok {
		return c, nil
	}
	if r.catchAll != nil {
		return r.catchAll, nil
	}
	return nil, fmt.Errorf("gateway: no provider configured for model %q", model)
}

func (r *resolver) Models() []string { return r.names }

// buildResolver constructs the Engine's ProviderResolver and the Gateway's
// ModelLister from the configured provider instances, one adapter per
// config.ProviderConfig entry. An entry with no Models acts as the
// catch-all for any model no other entry names explicitly.
func buildResolver(ctx context.Context, providers []config.ProviderConfig) (*resolver, error) {
	r := &resolver{byModel: make(map[string]provider.Client)}
	for _, cfg := range providers {
		client, err := buildProvider(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if len(cfg.Models) == 0 {
			r.catchAll = client
			continue
		}
		for _, m := range cfg.Models {
			r.byModel[m] = client
			r.names = append(r.names, m)
		}
	}
	return r, nil
}
