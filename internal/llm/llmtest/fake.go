// Package llmtest provides a scripted llm.Provider for orchestration tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"github.com/Corphon/PersonaKit/internal/llm"
)

// Responder produces the reply text for one request.
type Responder func(ctx context.Context, req llm.CompletionRequest) (string, error)

// Provider is a fake backend. Safe for concurrent use.
type Provider struct {
	mu         sync.Mutex
	name       string
	responder  Responder
	streamer   func(ctx context.Context, req llm.CompletionRequest, emit llm.Emit) error
	requests   []llm.CompletionRequest
	initCalls  int
	configured llm.Options
}

// New returns a fake that replies with the given texts in order, repeating the last one.
func New(replies ...string) *Provider {
	if len(replies) == 0 {
		replies = []string{"ok"}
	}
	var mu sync.Mutex
	i := 0
	return NewFunc(func(ctx context.Context, req llm.CompletionRequest) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		r := replies[i]
		if i < len(replies)-1 {
			i++
		}
		return r, nil
	})
}

// NewFunc returns a fake driven by fn.
func NewFunc(fn Responder) *Provider {
	return &Provider{name: "fake", responder: fn}
}

// Echo replies with the content of the last message.
func Echo() *Provider {
	return NewFunc(func(ctx context.Context, req llm.CompletionRequest) (string, error) {
		if len(req.Messages) == 0 {
			return "", nil
		}
		return req.Messages[len(req.Messages)-1].Content, nil
	})
}

// Hang blocks until the request context is done.
func Hang(ctx context.Context, req llm.CompletionRequest) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

// WithStream overrides streaming behaviour.
func (p *Provider) WithStream(fn func(ctx context.Context, req llm.CompletionRequest, emit llm.Emit) error) *Provider {
	p.streamer = fn
	return p
}

// Named sets the provider name.
func (p *Provider) Named(name string) *Provider {
	p.name = name
	return p
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Configure(opts llm.Options) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configured = opts
	return nil
}

func (p *Provider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initCalls++
	return nil
}

func (p *Provider) record(req llm.CompletionRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
}

func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.record(req)
	text, err := p.responder(ctx, req)
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{
		Content:      text,
		FinishReason: "stop",
		Model:        "fake-model",
		Provider:     p.name,
		Usage:        &llm.Usage{TotalTokens: llm.EstimateTokens(text)},
	}, nil
}

// CompleteStream splits the reply into space-separated fragments.
func (p *Provider) CompleteStream(ctx context.Context, req llm.CompletionRequest) (*llm.Stream, error) {
	p.record(req)
	if p.streamer != nil {
		return llm.NewStream(ctx, func(ctx context.Context, emit llm.Emit) error {
			return p.streamer(ctx, req, emit)
		}), nil
	}
	text, err := p.responder(ctx, req)
	if err != nil {
		return nil, err
	}
	words := strings.SplitAfter(text, " ")
	return llm.StaticStream(ctx, words...), nil
}

func (p *Provider) ListModels() []llm.ModelInfo {
	return []llm.ModelInfo{{Name: "fake-model", Provider: p.name, MaxTokens: 4096, SupportsStreaming: true}}
}

// Requests returns a copy of all recorded requests.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// LastRequest returns the most recent request.
func (p *Provider) LastRequest() llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return llm.CompletionRequest{}
	}
	return p.requests[len(p.requests)-1]
}

// InitCalls reports how many times Initialize ran.
func (p *Provider) InitCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initCalls
}
