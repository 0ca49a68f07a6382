package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Corphon/PersonaKit/internal/config"
	"github.com/Corphon/PersonaKit/internal/llm/llmtest"
	"github.com/Corphon/PersonaKit/internal/models"
	"github.com/Corphon/PersonaKit/internal/utils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.BasePath = t.TempDir()
	cfg.Server.Port = "0"
	return cfg
}

func TestNewWiresServices(t *testing.T) {
	cfg := testConfig(t)
	fake := llmtest.New("hello")
	a, err := New(cfg, WithProvider(fake), WithLogger(utils.NopLogger()))
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, a.LLM.IsReady())
	assert.Equal(t, 1, fake.InitCalls())

	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/providers", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var env struct {
		Data struct {
			Active string                 `json:"active"`
			Status map[string]interface{} `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "fake", env.Data.Active)
	assert.Equal(t, true, env.Data.Status["ready"])
}

func TestNewReloadsPersistedState(t *testing.T) {
	cfg := testConfig(t)
	first, err := New(cfg, WithProvider(llmtest.New("hi")), WithLogger(utils.NopLogger()))
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]interface{}{"name": "Ann", "type": "user", "description": "shop owner"})
	w := httptest.NewRecorder()
	first.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/characters", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first.Close()

	second, err := New(cfg, WithProvider(llmtest.New("hi")), WithLogger(utils.NopLogger()))
	require.NoError(t, err)
	defer second.Close()

	list := second.Characters.Store().List("")
	require.Len(t, list, 1)
	assert.Equal(t, "Ann", list[0].Name)
	assert.Equal(t, models.CharacterTypeUser, list[0].Type)
}

func TestNewWithoutProviderKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg := testConfig(t)
	cfg.AI.Provider = "anthropic"
	a, err := New(cfg, WithLogger(utils.NopLogger()))
	require.NoError(t, err)
	defer a.Close()

	assert.False(t, a.LLM.IsReady())
	assert.Equal(t, "anthropic", a.LLM.Name())
}

func TestNewRejectsBadStorageFormat(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Format = "xml"
	_, err := New(cfg, WithProvider(llmtest.New()), WithLogger(utils.NopLogger()))
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	a, err := New(testConfig(t), WithProvider(llmtest.New()), WithLogger(utils.NopLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
