package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/llm"
	"github.com/Corphon/PersonaKit/internal/llm/llmtest"
	"github.com/Corphon/PersonaKit/internal/models"
)

// setupCLI 临时数据目录 + 脚本化提供者
func setupCLI(t *testing.T, provider llm.Provider) string {
	t.Helper()
	t.Setenv("DATA_DIR", "")
	t.Setenv("PERSONAKIT_PROVIDER", "")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	content := "storage:\n  base_path: " + filepath.Join(dir, "data") + "\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(cfgFile, []byte(content), 0644))

	providerOverride = provider
	t.Cleanup(func() { providerOverride = nil })
	return cfgFile
}

func run(t *testing.T, cfgFile, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", cfgFile}, args...))
	err := root.Execute()
	return out.String(), err
}

func createCharacter(t *testing.T, cfgFile, name, typ string) *models.Character {
	t.Helper()
	out, err := run(t, cfgFile, "", "character", "create", "--json", "--name", name, "--type", typ, "--description", name+" persona")
	require.NoError(t, err, out)
	var c models.Character
	require.NoError(t, json.Unmarshal([]byte(out), &c))
	return &c
}

func TestCharacterCommands(t *testing.T) {
	cfgFile := setupCLI(t, llmtest.New())

	ann := createCharacter(t, cfgFile, "Ann", "user")
	assert.Equal(t, models.CharacterTypeUser, ann.Type)
	createCharacter(t, cfgFile, "Dr. Lee", "expert")

	out, err := run(t, cfgFile, "", "character", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Ann")
	assert.Contains(t, out, "Dr. Lee")

	out, err = run(t, cfgFile, "", "character", "list", "--type", "expert")
	require.NoError(t, err)
	assert.NotContains(t, out, "Ann")

	out, err = run(t, cfgFile, "", "character", "show", ann.ID)
	require.NoError(t, err)
	assert.Contains(t, out, ann.ID)
	assert.Contains(t, out, "Ann persona")

	_, err = run(t, cfgFile, "", "character", "create", "--name", "X", "--type", "robot")
	assert.True(t, apperrors.IsValidationError(err))
}

func TestCharacterShowUnknown(t *testing.T) {
	cfgFile := setupCLI(t, llmtest.New())

	_, err := run(t, cfgFile, "", "character", "show", "missing")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(summarize(err), "[not_found]"))
}

func TestCharacterGenerate(t *testing.T) {
	cfgFile := setupCLI(t, llmtest.New(`{"name": "Nurse Kim", "description": "night shift nurse"}`))

	out, err := run(t, cfgFile, "", "character", "generate", "--idea", "shift planner", "--type", "user", "--json")
	require.NoError(t, err, out)
	var list []models.Character
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Nurse Kim", list[0].Name)

	_, err = run(t, cfgFile, "", "character", "generate")
	assert.True(t, apperrors.IsValidationError(err))
}

func TestChatOneShot(t *testing.T) {
	cfgFile := setupCLI(t, llmtest.New("hello there"))
	ann := createCharacter(t, cfgFile, "Ann", "user")

	out, err := run(t, cfgFile, "", "chat", ann.ID, "-m", "hi")
	require.NoError(t, err)
	assert.Contains(t, out, "hello there")
}

func TestChatInteractive(t *testing.T) {
	cfgFile := setupCLI(t, llmtest.New("first reply", "second reply"))
	ann := createCharacter(t, cfgFile, "Ann", "user")

	out, err := run(t, cfgFile, "hi\n\nhow are you\n/exit\nnever sent\n", "chat", ann.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "first reply")
	assert.Contains(t, out, "second reply")
}

func TestValidateAndReport(t *testing.T) {
	cfgFile := setupCLI(t, llmtest.New("I like it. Budget is a major risk. The next step is a pilot."))
	ann := createCharacter(t, cfgFile, "Ann", "user")
	lee := createCharacter(t, cfgFile, "Dr. Lee", "expert")

	_, err := run(t, cfgFile, "", "validate", "--characters", ann.ID)
	assert.True(t, apperrors.IsValidationError(err))
	_, err = run(t, cfgFile, "", "validate", "-q", "ok?", "--characters", ann.ID, "--mode", "parallel")
	assert.True(t, apperrors.IsValidationError(err))

	out, err := run(t, cfgFile, "", "validate", "--json", "-q", "Would you use it?", "--characters", ann.ID+","+lee.ID)
	require.NoError(t, err, out)
	var result models.ValidationRun
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Len(t, result.Results, 2)
	require.NotNil(t, result.Analysis)

	out, err = run(t, cfgFile, "", "validate", "-q", "Again?", "--characters", ann.ID+","+lee.ID, "--mode", "sequential")
	require.NoError(t, err)
	assert.Contains(t, out, "Ann (user)")
	assert.Contains(t, out, "Consensus:")

	out, err = run(t, cfgFile, "", "report", result.SessionID)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Decision report: Would you use it?")
	assert.Contains(t, out, "The next step is a pilot")

	_, err = run(t, cfgFile, "", "report", "missing")
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestDataCommands(t *testing.T) {
	cfgFile := setupCLI(t, llmtest.New())
	createCharacter(t, cfgFile, "Ann", "user")

	out, err := run(t, cfgFile, "", "data", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "characters")

	dest := filepath.Join(t.TempDir(), "snap")
	out, err = run(t, cfgFile, "", "data", "backup", "--dest", dest)
	require.NoError(t, err)
	assert.Contains(t, out, dest)

	_, err = run(t, cfgFile, "", "data", "backup", "--dest", dest)
	assert.True(t, apperrors.IsConflictError(err))

	createCharacter(t, cfgFile, "Bob", "expert")
	_, err = run(t, cfgFile, "", "data", "restore", dest)
	require.NoError(t, err)

	out, err = run(t, cfgFile, "", "character", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Ann")
	assert.NotContains(t, out, "Bob")
}

func TestSummarize(t *testing.T) {
	err := apperrors.NewQuotaExceededError("rate limited\nretry later", nil)
	assert.Equal(t, "[quota_exceeded] rate limited", summarize(err))
	assert.Equal(t, "boom", summarize(errors.New("boom")))
}
