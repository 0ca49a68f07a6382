package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/PersonaKit/internal/config"
	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/llm"
	"github.com/Corphon/PersonaKit/internal/llm/llmtest"
)

func init() {
	llm.Register("svc-fake", func() llm.Provider { return llmtest.New("from registry").Named("svc-fake") })
}

func TestLLMServiceUnconfigured(t *testing.T) {
	s := NewLLMService(&config.Config{AI: config.AIConfig{Provider: "nope"}}, nil, nil)

	assert.False(t, s.IsReady())
	assert.Equal(t, "nope", s.Name())
	assert.NotEmpty(t, s.GetReadyState())
	assert.Empty(t, s.ListModels())

	_, err := s.Complete(context.Background(), llm.CompletionRequest{})
	assert.True(t, apperrors.IsConfigError(err))
	_, err = s.CompleteStream(context.Background(), llm.CompletionRequest{})
	assert.True(t, apperrors.IsConfigError(err))
	assert.True(t, apperrors.IsConfigError(s.Initialize(context.Background())))
}

func TestLLMServiceUpdateProvider(t *testing.T) {
	s := NewLLMService(&config.Config{AI: config.AIConfig{Provider: "nope"}}, nil, nil)
	require.NoError(t, s.UpdateProvider("svc-fake", config.ProviderConfig{Model: "m"}))

	assert.True(t, s.IsReady())
	assert.Equal(t, "svc-fake", s.Name())

	resp, err := s.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "from registry", resp.Content)

	require.NoError(t, s.Initialize(context.Background()))
	assert.Equal(t, "就绪", s.GetReadyState())

	// 失败的切换保留原提供者
	assert.Error(t, s.UpdateProvider("still-nope", config.ProviderConfig{}))
	assert.Equal(t, "svc-fake", s.Name())
	assert.True(t, s.IsReady())

	status := s.Status()
	assert.Equal(t, "svc-fake", status["provider"])
	assert.Equal(t, true, status["ready"])
}

func TestLLMServiceDelegatesToGivenProvider(t *testing.T) {
	fake := llmtest.New("a", "b")
	s := NewLLMServiceWith(fake, nil, nil)

	text, err := llm.Collect(mustStream(t, s))
	require.NoError(t, err)
	assert.Equal(t, "a", text)
	assert.Len(t, s.ListModels(), 1)
	assert.Len(t, fake.Requests(), 1)
}

func mustStream(t *testing.T, p llm.Provider) *llm.Stream {
	t.Helper()
	st, err := p.CompleteStream(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	return st
}

func TestProviderOptions(t *testing.T) {
	opts := ProviderOptions(config.ProviderConfig{APIKey: "k", Model: "m", MaxTokens: 10, TimeoutSeconds: 5})
	assert.Equal(t, llm.Options{APIKey: "k", Model: "m", MaxTokens: 10, TimeoutSeconds: 5}, opts)
}
