package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/llm"
	"github.com/Corphon/PersonaKit/internal/llm/llmtest"
	"github.com/Corphon/PersonaKit/internal/models"
	"github.com/Corphon/PersonaKit/internal/utils"
)

// byName 按系统提示中的角色名返回不同回复
func byName(replies map[string]func(ctx context.Context) (string, error)) llmtest.Responder {
	return func(ctx context.Context, req llm.CompletionRequest) (string, error) {
		system := req.Messages[0].Content
		for name, fn := range replies {
			if strings.Contains(system, "# "+name+" ") {
				return fn(ctx)
			}
		}
		return "default reply", nil
	}
}

func reply(s string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return s, nil }
}

func panelOf(t *testing.T, store *CharacterStore) (a, b, c *models.Character) {
	t.Helper()
	return mustCharacter(t, store, "Ann", models.CharacterTypeUser),
		mustCharacter(t, store, "Lee", models.CharacterTypeExpert),
		mustCharacter(t, store, "Acme", models.CharacterTypeOrganization)
}

func TestValidationScenario(t *testing.T) {
	provider := llmtest.New("The plan is feasible and the market is ready.")
	e := newEnv(t, provider, nil)
	a, b, c := panelOf(t, e.store)

	session, err := e.validator.CreateSession("Q?", []string{a.ID, b.ID, c.ID})
	require.NoError(t, err)
	assert.Empty(t, session.Warnings)
	assert.Equal(t, models.ValidationOpen, session.Status())

	run, err := e.validator.RunConcurrent(context.Background(), session.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeConcurrent, run.Mode)
	require.Len(t, run.Responses, 3)
	for _, id := range []string{a.ID, b.ID, c.ID} {
		assert.Contains(t, run.Responses, id)
	}
	require.NotNil(t, run.Analysis)
	assert.GreaterOrEqual(t, run.Analysis.ConsensusLevel, 0.0)
	assert.LessOrEqual(t, run.Analysis.ConsensusLevel, 1.0)

	got, err := e.validator.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ValidationComplete, got.Status())
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, int64(1), e.metrics.GetCounterValue(utils.MetricValidationRuns))

	// 每个角色一次独立请求
	reqs := provider.Requests()
	require.Len(t, reqs, 3)
	for _, r := range reqs {
		require.Len(t, r.Messages, 2)
		assert.Equal(t, 1000, r.MaxTokens)
		assert.Contains(t, r.Messages[1].Content, "Q?")
	}
}

func TestValidationTimeoutIsAllOrNothing(t *testing.T) {
	provider := llmtest.NewFunc(byName(map[string]func(context.Context) (string, error){
		"Ann": reply("fine"),
		"Lee": reply("fine too"),
		"Acme": func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}))
	e := newEnv(t, provider, nil)
	validator := NewValidator(e.characters, provider, nil, nil, ValidatorOptions{Timeout: time.Second}, e.metrics, nil)
	a, b, c := panelOf(t, e.store)

	session, err := validator.CreateSession("Q?", []string{a.ID, b.ID, c.ID})
	require.NoError(t, err)

	start := time.Now()
	run, err := validator.RunConcurrent(context.Background(), session.ID, nil)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Nil(t, run)
	assert.True(t, apperrors.IsTimeoutError(err))
	assert.Less(t, elapsed, 3*time.Second)
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
	assert.Equal(t, int64(1), e.metrics.GetCounterValue(utils.MetricValidationTimeouts))

	got, _ := validator.GetSession(session.ID)
	assert.Empty(t, got.Results)
}

func TestValidationIsolatesFailures(t *testing.T) {
	provider := llmtest.NewFunc(byName(map[string]func(context.Context) (string, error){
		"Ann": reply("I like it."),
		"Lee": reply("There is a risk."),
		"Acme": func(context.Context) (string, error) {
			return "", apperrors.NewQuotaExceededError("quota", nil)
		},
	}))
	e := newEnv(t, provider, nil)
	a, b, c := panelOf(t, e.store)
	session, _ := e.validator.CreateSession("Q?", []string{a.ID, b.ID, c.ID})

	run, err := e.validator.RunConcurrent(context.Background(), session.ID, nil)
	require.NoError(t, err)
	assert.Len(t, run.Responses, 2)
	require.Contains(t, run.Results, c.ID)
	assert.True(t, run.Results[c.ID].Failed())
	assert.Equal(t, string(apperrors.ErrorTypeQuotaExceeded), run.Results[c.ID].ErrorKind)

	got, _ := e.validator.GetSession(session.ID)
	assert.Equal(t, models.ValidationComplete, got.Status())

	_, err = e.validator.GetCharacterPerspective(session.ID, c.ID)
	assert.True(t, apperrors.IsNotFoundError(err))
	p, err := e.validator.GetCharacterPerspective(session.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ann", p.CharacterName)
}

func TestValidationAllFail(t *testing.T) {
	provider := llmtest.NewFunc(func(ctx context.Context, req llm.CompletionRequest) (string, error) {
		return "", apperrors.NewConnectionError("down", nil)
	})
	e := newEnv(t, provider, nil)
	a, b, _ := panelOf(t, e.store)
	session, _ := e.validator.CreateSession("Q?", []string{a.ID, b.ID})

	_, err := e.validator.RunConcurrent(context.Background(), session.ID, nil)
	assert.True(t, apperrors.IsProviderError(err))
}

func TestValidationDeadlineCoversQueuedCharacters(t *testing.T) {
	// 回复方忽略 ctx，面板大于并发上限
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	provider := llmtest.NewFunc(func(ctx context.Context, req llm.CompletionRequest) (string, error) {
		<-release
		return "late", nil
	})
	e := newEnv(t, provider, nil)
	validator := NewValidator(e.characters, provider, nil, nil, ValidatorOptions{Timeout: time.Second, MaxWorkers: 3}, e.metrics, nil)
	a, b, c := panelOf(t, e.store)
	d := mustCharacter(t, e.store, "Bo", models.CharacterTypeUser)

	session, err := validator.CreateSession("Q?", []string{a.ID, b.ID, c.ID, d.ID})
	require.NoError(t, err)

	start := time.Now()
	run, err := validator.RunConcurrent(context.Background(), session.ID, nil)
	elapsed := time.Since(start)

	assert.Nil(t, run)
	assert.True(t, apperrors.IsTimeoutError(err))
	assert.Less(t, elapsed, 3*time.Second)
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
}

func TestValidationAnalysisRecommendations(t *testing.T) {
	provider := llmtest.NewFunc(byName(map[string]func(context.Context) (string, error){
		"Ann":  reply("I like it. The opportunity is large."),
		"Lee":  reply("There is a risk of cost."),
		"Acme": reply("We need budget approval first."),
	}))
	e := newEnv(t, provider, nil)
	a, b, c := panelOf(t, e.store)
	session, _ := e.validator.CreateSession("Q?", []string{a.ID, b.ID, c.ID})

	run, err := e.validator.RunConcurrent(context.Background(), session.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, run.Analysis)
	// 用户+专家、专家+组织、用户+组织 三组建议，外加调研建议
	assert.Len(t, run.Analysis.Recommendations, 4)

	got, _ := e.validator.GetSession(session.ID)
	require.NotNil(t, got.Analysis)
	assert.Equal(t, run.Analysis.Recommendations, got.Analysis.Recommendations)

	// 同质面板只有调研建议
	b2 := mustCharacter(t, e.store, "Bo", models.CharacterTypeUser)
	s2, _ := e.validator.CreateSession("Q?", []string{a.ID, b2.ID})
	run, err = e.validator.RunSequential(context.Background(), s2.ID, nil)
	require.NoError(t, err)
	assert.Len(t, run.Analysis.Recommendations, 1)
}

func TestSingleResponseConsensusMatchesComparison(t *testing.T) {
	provider := llmtest.NewFunc(byName(map[string]func(context.Context) (string, error){
		"Ann": reply("I like it."),
		"Lee": func(context.Context) (string, error) {
			return "", apperrors.NewModelError("bad model", nil)
		},
	}))
	e := newEnv(t, provider, nil)
	a, b, _ := panelOf(t, e.store)
	session, _ := e.validator.CreateSession("Q?", []string{a.ID, b.ID})

	run, err := e.validator.RunConcurrent(context.Background(), session.ID, nil)
	require.NoError(t, err)
	require.Len(t, run.Responses, 1)

	cmp, err := e.validator.ComparePerspectives(session.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Analysis.ConsensusLevel, cmp.ConsensusLevel)
	assert.Zero(t, cmp.ConsensusLevel)
}

func TestCreateSessionValidation(t *testing.T) {
	e := newEnv(t, llmtest.New(), nil)
	a := mustCharacter(t, e.store, "Ann", models.CharacterTypeUser)
	a2 := mustCharacter(t, e.store, "Amy", models.CharacterTypeUser)

	_, err := e.validator.CreateSession("Q?", []string{a.ID, "ghost-1", "ghost-2"})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFoundError(err))
	assert.Contains(t, err.Error(), "ghost-1")
	assert.NotContains(t, err.Error(), "ghost-2")

	_, err = e.validator.CreateSession("", []string{a.ID})
	assert.True(t, apperrors.IsValidationError(err))
	_, err = e.validator.CreateSession("Q?", nil)
	assert.True(t, apperrors.IsValidationError(err))

	s, err := e.validator.CreateSession("Q?", []string{a.ID, a2.ID, a.ID})
	require.NoError(t, err)
	assert.Len(t, s.CharacterIDs, 2)
	assert.Len(t, s.Warnings, 1)
}

func TestRunSequentialAndLimitedWorkers(t *testing.T) {
	provider := llmtest.New("Same answer.")
	e := newEnv(t, provider, nil)
	a, b, c := panelOf(t, e.store)
	session, _ := e.validator.CreateSession("Q?", []string{a.ID, b.ID, c.ID})

	run, err := e.validator.RunSequential(context.Background(), session.ID, []string{a.ID, b.ID})
	require.NoError(t, err)
	assert.Equal(t, ModeSequential, run.Mode)
	assert.Len(t, run.Responses, 2)

	got, _ := e.validator.GetSession(session.ID)
	assert.Equal(t, models.ValidationOpen, got.Status())

	limited := NewValidator(e.characters, provider, nil, nil, ValidatorOptions{MaxWorkers: 1}, nil, nil)
	s2, _ := limited.CreateSession("Q?", []string{a.ID, b.ID, c.ID})
	run, err = limited.RunConcurrent(context.Background(), s2.ID, nil)
	require.NoError(t, err)
	assert.Len(t, run.Responses, 3)
	assert.Equal(t, 1.0, run.Analysis.ConsensusLevel)
}

func TestComparePerspectives(t *testing.T) {
	provider := llmtest.NewFunc(byName(map[string]func(context.Context) (string, error){
		"Ann":  reply("I like the app and I support it."),
		"Lee":  reply("The app has a security risk."),
		"Acme": reply("The app needs budget."),
	}))
	e := newEnv(t, provider, nil)
	a, b, c := panelOf(t, e.store)
	session, _ := e.validator.CreateSession("Q?", []string{a.ID, b.ID, c.ID})

	_, err := e.validator.ComparePerspectives(session.ID)
	assert.True(t, apperrors.IsValidationError(err))

	_, err = e.validator.RunConcurrent(context.Background(), session.ID, nil)
	require.NoError(t, err)

	cmp, err := e.validator.ComparePerspectives(session.ID)
	require.NoError(t, err)
	require.Len(t, cmp.Perspectives, 3)
	assert.Contains(t, cmp.CommonPoints, "app")
	assert.Contains(t, cmp.CommonPoints, "the")

	byID := map[string]models.Perspective{}
	for _, p := range cmp.Perspectives {
		byID[p.CharacterID] = p
	}
	assert.Equal(t, models.SentimentPositive, byID[a.ID].Analysis.Sentiment)
	assert.Equal(t, models.StanceSupport, byID[a.ID].Analysis.Stance)
	assert.Equal(t, models.SentimentCautious, byID[b.ID].Analysis.Sentiment)
	assert.Equal(t, models.CharacterTypeOrganization, byID[c.ID].CharacterType)
}

func TestValidatorPersistence(t *testing.T) {
	repo := newRepo(t)
	e := newEnv(t, llmtest.New("ok"), repo)
	a, b, _ := panelOf(t, e.store)
	session, _ := e.validator.CreateSession("Q?", []string{a.ID, b.ID})
	_, err := e.validator.RunConcurrent(context.Background(), session.ID, nil)
	require.NoError(t, err)

	reloaded := newEnv(t, llmtest.New("ok"), repo)
	n, err := reloaded.validator.LoadAll()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err := reloaded.validator.GetSession(session.ID)
	require.NoError(t, err)
	assert.Len(t, got.Results, 2)

	require.NoError(t, reloaded.validator.DeleteSession(session.ID))
	assert.Empty(t, reloaded.validator.ListSessions())
}
