package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/llm"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := llm.New("anthropic", llm.Options{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	return p.(*Provider)
}

func TestCompleteSplitsSystemPrompt(t *testing.T) {
	var body map[string]interface{}
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("X-Api-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		fmt.Fprint(w, `{"model":"claude","stop_reason":"end_turn","content":[{"type":"text","text":"Hi"}],"usage":{"input_tokens":5,"output_tokens":1}}`)
	})

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are Dr. Lee."},
			{Role: llm.RoleUser, Content: "Hello"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi", resp.Content)
	assert.Equal(t, 6, resp.Usage.TotalTokens)

	assert.Equal(t, "You are Dr. Lee.", body["system"])
	assert.Len(t, body["messages"], 1)
	assert.Equal(t, float64(llm.DefaultMaxTokens), body["max_tokens"])
}

func TestStreamConcatenatesDeltas(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Good \"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"morning\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
	})

	s, err := p.CompleteStream(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hello"}},
	})
	require.NoError(t, err)
	text, err := llm.Collect(s)
	require.NoError(t, err)
	assert.Equal(t, "Good morning", text)
}

func TestUnauthorizedMapsToAuthenticationError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"type":"authentication_error"}}`)
	})

	_, err := p.Complete(context.Background(), llm.CompletionRequest{})
	assert.True(t, apperrors.IsAuthenticationError(err))
}
