package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/llm"
	"github.com/Corphon/PersonaKit/internal/llm/llmtest"
	"github.com/Corphon/PersonaKit/internal/models"
	"github.com/Corphon/PersonaKit/internal/utils"
)

func TestDialogueScenario(t *testing.T) {
	provider := llmtest.New("I am cautiously optimistic.")
	e := newEnv(t, provider, nil)
	lee := mustCharacter(t, e.store, "Dr. Lee", models.CharacterTypeExpert)

	d, err := e.dialogues.Create(lee.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.DialogueCreated, d.State)
	assert.Equal(t, "与Dr. Lee的对话", d.Title)

	reply, err := e.dialogues.SendMessage(context.Background(), d.ID, "What is your outlook?")
	require.NoError(t, err)
	assert.NotEmpty(t, reply.Content)
	assert.Equal(t, models.RoleAssistant, reply.Role)

	history, err := e.dialogues.GetHistory(d.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	got, _ := e.dialogues.Get(d.ID)
	assert.Equal(t, models.DialogueIdle, got.State)
	assert.True(t, got.UpdatedAt.After(d.UpdatedAt))
	assert.Equal(t, int64(1), e.metrics.GetCounterValue(utils.MetricDialogueMessages))

	req := provider.LastRequest()
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "Dr. Lee")
	assert.Equal(t, "What is your outlook?", req.Messages[1].Content)
}

func TestDialogueCreateUnknownCharacter(t *testing.T) {
	e := newEnv(t, llmtest.New(), nil)
	_, err := e.dialogues.Create("nobody", "")
	assert.True(t, apperrors.IsNotFoundError(err))

	_, err = e.dialogues.SendMessage(context.Background(), "missing", "hi")
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestDialogueHistoryOrderingAndContextWindow(t *testing.T) {
	provider := llmtest.New("ok")
	e := newEnv(t, provider, nil)
	c := mustCharacter(t, e.store, "Ann", models.CharacterTypeUser)
	d, err := e.dialogues.Create(c.ID, "t")
	require.NoError(t, err)

	const n = 12
	for i := 0; i < n; i++ {
		_, err := e.dialogues.SendMessage(context.Background(), d.ID, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	history, err := e.dialogues.GetHistory(d.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2*n)
	for i := 0; i < n; i++ {
		assert.Equal(t, models.RoleUser, history[2*i].Role)
		assert.Equal(t, fmt.Sprintf("m%d", i), history[2*i].Content)
		assert.Equal(t, models.RoleAssistant, history[2*i+1].Role)
	}
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].Timestamp.Before(history[i-1].Timestamp))
	}

	// 系统提示 + 最近 10 条 + 新消息
	req := provider.LastRequest()
	require.Len(t, req.Messages, 1+DefaultContextWindow+1)
	assert.Equal(t, "m6", req.Messages[1].Content)
	assert.Equal(t, "m11", req.Messages[len(req.Messages)-1].Content)

	last, err := e.dialogues.GetHistory(d.ID, 3)
	require.NoError(t, err)
	assert.Len(t, last, 3)
}

func TestDialogueFailureKeepsUserMessage(t *testing.T) {
	provider := llmtest.NewFunc(func(ctx context.Context, req llm.CompletionRequest) (string, error) {
		return "", apperrors.NewQuotaExceededError("quota", nil)
	})
	e := newEnv(t, provider, nil)
	c := mustCharacter(t, e.store, "Ann", models.CharacterTypeUser)
	d, _ := e.dialogues.Create(c.ID, "")

	_, err := e.dialogues.SendMessage(context.Background(), d.ID, "hello")
	require.Error(t, err)
	assert.True(t, apperrors.IsQuotaExceededError(err))

	history, _ := e.dialogues.GetHistory(d.ID, 0)
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Content)

	got, _ := e.dialogues.Get(d.ID)
	assert.Equal(t, models.DialogueIdle, got.State)

	_, err = e.dialogues.SendMessage(context.Background(), d.ID, "  ")
	assert.True(t, apperrors.IsValidationError(err))
}

func TestDialogueStreamReplacesPlaceholder(t *testing.T) {
	e := newEnv(t, llmtest.New("hello there world"), nil)
	c := mustCharacter(t, e.store, "Ann", models.CharacterTypeUser)
	d, _ := e.dialogues.Create(c.ID, "")

	var fragments []string
	var done bool
	msg, err := e.dialogues.SendMessageStream(context.Background(), d.ID, "hi", func(ev StreamEvent) {
		if ev.Done {
			done = true
			return
		}
		fragments = append(fragments, ev.Fragment)
	})
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []string{"hello ", "there ", "world"}, fragments)
	assert.Equal(t, "hello there world", msg.Content)

	history, _ := e.dialogues.GetHistory(d.ID, 0)
	require.Len(t, history, 2)
	assert.Equal(t, msg.ID, history[1].ID)
	assert.Equal(t, "hello there world", history[1].Content)
	assert.Nil(t, history[1].Metadata["partial"])
}

func TestDialogueStreamCancelKeepsPartial(t *testing.T) {
	provider := llmtest.New().WithStream(func(ctx context.Context, req llm.CompletionRequest, emit llm.Emit) error {
		emit("partial ")
		<-ctx.Done()
		return ctx.Err()
	})
	e := newEnv(t, provider, nil)
	c := mustCharacter(t, e.store, "Ann", models.CharacterTypeUser)
	d, _ := e.dialogues.Create(c.ID, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msg, err := e.dialogues.SendMessageStream(ctx, d.ID, "hi", func(ev StreamEvent) {
		if !ev.Done {
			cancel()
		}
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, msg)
	assert.Equal(t, "partial ", msg.Content)

	history, _ := e.dialogues.GetHistory(d.ID, 0)
	require.Len(t, history, 2)
	assert.Equal(t, "partial ", history[1].Content)
	assert.Equal(t, true, history[1].Metadata["partial"])
}

func TestDialogueSummarize(t *testing.T) {
	provider := llmtest.New("reply", "总结：讨论了产品前景。\n关键话题：市场，定价、渠道\n情感倾向：positive")
	e := newEnv(t, provider, nil)
	c := mustCharacter(t, e.store, "Ann", models.CharacterTypeUser)
	d, _ := e.dialogues.Create(c.ID, "")

	_, err := e.dialogues.SummarizeDialogue(context.Background(), d.ID)
	assert.True(t, apperrors.IsValidationError(err))

	_, err = e.dialogues.SendMessage(context.Background(), d.ID, "hi")
	require.NoError(t, err)

	s, err := e.dialogues.SummarizeDialogue(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, "讨论了产品前景。", s.Summary)
	assert.Equal(t, []string{"市场", "定价", "渠道"}, s.KeyTopics)
	assert.Equal(t, "positive", s.Sentiment)
	assert.Equal(t, 2, s.MessageCount)

	got, _ := e.dialogues.Get(d.ID)
	assert.Equal(t, models.DialogueSummarized, got.State)
	require.NotNil(t, got.Summary)
	assert.Contains(t, provider.LastRequest().Messages[1].Content, "hi")
}

func TestParseDialogueSummaryWithoutLabels(t *testing.T) {
	s := parseDialogueSummary("Just a plain paragraph.")
	assert.Equal(t, "Just a plain paragraph.", s.Summary)
	assert.Equal(t, "neutral", s.Sentiment)
	assert.Empty(t, s.KeyTopics)
}

func TestDialogueContinueListSearchDelete(t *testing.T) {
	provider := llmtest.New("ok")
	e := newEnv(t, provider, nil)
	a := mustCharacter(t, e.store, "Ann", models.CharacterTypeUser)
	b := mustCharacter(t, e.store, "Bob", models.CharacterTypeExpert)

	d1, _ := e.dialogues.Create(a.ID, "pricing talk")
	_, _ = e.dialogues.Create(b.ID, "roadmap")

	_, err := e.dialogues.ContinueDialogue(context.Background(), d1.ID, "")
	require.NoError(t, err)
	req := provider.LastRequest()
	assert.Equal(t, defaultContinuation, req.Messages[len(req.Messages)-1].Content)

	assert.Len(t, e.dialogues.List(""), 2)
	assert.Len(t, e.dialogues.List(a.ID), 1)
	assert.Len(t, e.dialogues.Search("pricing"), 1)
	assert.Len(t, e.dialogues.Search(defaultContinuation), 1)

	require.NoError(t, e.dialogues.Delete(d1.ID))
	_, err = e.dialogues.Get(d1.ID)
	assert.True(t, apperrors.IsNotFoundError(err))
	assert.True(t, apperrors.IsNotFoundError(e.dialogues.Delete(d1.ID)))
}

func TestDialoguePersistence(t *testing.T) {
	repo := newRepo(t)
	e := newEnv(t, llmtest.New("ok"), repo)
	c := mustCharacter(t, e.store, "Ann", models.CharacterTypeUser)
	d, _ := e.dialogues.Create(c.ID, "")
	_, err := e.dialogues.SendMessage(context.Background(), d.ID, "hi")
	require.NoError(t, err)

	reloaded := newEnv(t, llmtest.New("ok"), repo)
	n, err := reloaded.dialogues.LoadAll()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	history, err := reloaded.dialogues.GetHistory(d.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestLockManager(t *testing.T) {
	lm := NewLockManager()
	calls := 0
	require.NoError(t, lm.With("a", func() error { calls++; return nil }))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, lm.Len())

	sentinel := errors.New("boom")
	assert.ErrorIs(t, lm.With("a", func() error { return sentinel }), sentinel)

	// 未超过上限时不清理
	assert.Zero(t, lm.Sweep())
	lm.Forget("a")
	assert.Zero(t, lm.Len())

	ctx, cancel := context.WithCancel(context.Background())
	lm.StartCleanup(ctx, 0)
	cancel()
}
