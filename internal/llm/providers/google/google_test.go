package google

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

func TestConfigureNeedsKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	_, err := llm.New("google", llm.Options{})
	assert.True(t, apperrors.IsConfigError(err))
}

func TestDirectCompleteUsesRESTShape(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("x-goog-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"Hello "},{"text":"there"}]},"finishReason":"STOP"}],"usageMetadata":{"totalTokenCount":9}}`)
	}))
	defer srv.Close()

	p, err := llm.New("google", llm.Options{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := p.(*Provider).DirectComplete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be brief"},
			{Role: llm.RoleUser, Content: "hi"},
			{Role: llm.RoleAssistant, Content: "hello"},
			{Role: llm.RoleUser, Content: "again"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 9, resp.Usage.TotalTokens)

	contents := body["contents"].([]interface{})
	require.Len(t, contents, 3)
	assert.Equal(t, "model", contents[1].(map[string]interface{})["role"])
	assert.Contains(t, body, "systemInstruction")
}

func TestDirectCompleteMapsQuota(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := llm.New("google", llm.Options{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = p.(*Provider).DirectComplete(context.Background(), llm.CompletionRequest{})
	assert.True(t, apperrors.IsQuotaExceededError(err))
}

func TestToGenaiMapsRoles(t *testing.T) {
	contents, cfg := toGenai(llm.ApplyDefaults(llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "sys"},
			{Role: llm.RoleUser, Content: "u"},
			{Role: llm.RoleAssistant, Content: "a"},
		},
	}, llm.Options{MaxTokens: 100}))

	require.Len(t, contents, 2)
	assert.EqualValues(t, "model", contents[1].Role)
	assert.Equal(t, int32(100), cfg.MaxOutputTokens)
	require.NotNil(t, cfg.SystemInstruction)
}
