package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/llm"
	"github.com/Corphon/PersonaKit/internal/llm/llmtest"
	"github.com/Corphon/PersonaKit/internal/models"
)

func TestCharacterStoreLifecycle(t *testing.T) {
	store := NewCharacterStore(nil, nil)

	_, err := store.Create(&models.Character{Type: models.CharacterTypeUser})
	assert.True(t, apperrors.IsValidationError(err))
	_, err = store.Create(&models.Character{Name: "x", Type: "robot"})
	assert.True(t, apperrors.IsValidationError(err))

	c, err := store.Create(&models.Character{Name: "Dr. Lee", Type: models.CharacterTypeExpert})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "Dr. Lee", c.Info.Name)

	_, err = store.Create(c)
	assert.True(t, apperrors.IsConflictError(err))

	name := "Dr. Lee Senior"
	updated, err := store.Update(c.ID, models.CharacterUpdate{Name: &name, Tags: []string{"ai"}})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.True(t, updated.UpdatedAt.After(c.UpdatedAt))

	otherType := models.CharacterTypeUser
	_, err = store.Update(c.ID, models.CharacterUpdate{Type: &otherType})
	assert.True(t, apperrors.IsValidationError(err))
	otherID := "other"
	_, err = store.Update(c.ID, models.CharacterUpdate{ID: &otherID})
	assert.True(t, apperrors.IsValidationError(err))

	// 返回的是副本
	got, err := store.Get(c.ID)
	require.NoError(t, err)
	got.Name = "mutated"
	again, _ := store.Get(c.ID)
	assert.Equal(t, name, again.Name)

	assert.Len(t, store.Search("senior"), 1)
	assert.Len(t, store.Search("ai"), 1)
	assert.Len(t, store.List(models.CharacterTypeUser), 0)

	require.NoError(t, store.Delete(c.ID))
	_, err = store.Get(c.ID)
	assert.True(t, apperrors.IsNotFoundError(err))
	assert.True(t, apperrors.IsNotFoundError(store.Delete(c.ID)))
}

func TestCharacterStorePersistence(t *testing.T) {
	repo := newRepo(t)
	first := NewCharacterStore(repo, nil)
	a := mustCharacter(t, first, "Ann", models.CharacterTypeUser)
	mustCharacter(t, first, "Acme", models.CharacterTypeOrganization)

	// 懒加载
	lazy := NewCharacterStore(repo, nil)
	got, err := lazy.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.Name)

	second := NewCharacterStore(repo, nil)
	n, err := second.LoadAll()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, second.Count())
}

const generatedJSON = "```json\n" + `{
  "name": "张经理",
  "description": "连锁零售门店经理",
  "info": {"age": "38", "position": "门店经理", "background": "零售管理十年"},
  "context": {"current_situation": "门店客流下降", "goals": "提升复购"},
  "expertise": {"professional_field": "零售管理"},
  "behavior": {"decision_style": "数据驱动"},
  "tags": ["retail"]
}` + "\n```"

func TestGenerateCharacterParsesJSON(t *testing.T) {
	provider := llmtest.New(generatedJSON)
	e := newEnv(t, provider, nil)

	summary := models.ExplorationSummary{SessionID: "exp-1", InitialIdea: "智能排班"}
	c, err := e.characters.GenerateCharacter(context.Background(), summary, models.CharacterTypeUser, "关注一线员工")
	require.NoError(t, err)

	assert.Equal(t, "张经理", c.Name)
	assert.Equal(t, "张经理", c.Info.Name)
	assert.Equal(t, "零售管理", c.Expertise.ProfessionalField)
	assert.Equal(t, "ai_assisted", c.Metadata["generation_method"])
	assert.Equal(t, "exp-1", c.Metadata["exploration_session"])
	assert.True(t, e.store.Exists(c.ID))

	req := provider.LastRequest()
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "智能排班")
	assert.Contains(t, req.Messages[0].Content, "关注一线员工")
	assert.Equal(t, 2000, req.MaxTokens)
}

func TestGenerateCharacterFallsBackOnProse(t *testing.T) {
	e := newEnv(t, llmtest.New("这是一个没有结构的描述。"), nil)

	c, err := e.characters.GenerateCharacter(context.Background(), models.ExplorationSummary{}, models.CharacterTypeExpert, "")
	require.NoError(t, err)
	assert.Equal(t, "Expert Character", c.Name)
	assert.Equal(t, "这是一个没有结构的描述。", c.Description)
	assert.Equal(t, "Technology and Innovation", c.Expertise.ProfessionalField)
	assert.Equal(t, false, c.Metadata["structured"])

	_, err = e.characters.GenerateCharacter(context.Background(), models.ExplorationSummary{}, "robot", "")
	assert.True(t, apperrors.IsValidationError(err))
}

func TestGenerateCharacterSet(t *testing.T) {
	e := newEnv(t, llmtest.New("no json"), nil)
	set, err := e.characters.GenerateCharacterSet(context.Background(), models.ExplorationSummary{InitialIdea: "idea"}, nil)
	require.NoError(t, err)
	require.Len(t, set, 3)
	assert.Equal(t, models.CharacterTypeUser, set[0].Type)
	assert.Equal(t, models.CharacterTypeExpert, set[1].Type)
	assert.Equal(t, models.CharacterTypeOrganization, set[2].Type)
}

func TestRefineCharacter(t *testing.T) {
	provider := llmtest.New(`{"name": "ignored", "behavior": {"decision_style": "谨慎"}}`)
	e := newEnv(t, provider, nil)
	c := mustCharacter(t, e.store, "Ann", models.CharacterTypeUser)

	refined, err := e.characters.RefineCharacter(context.Background(), c.ID, "更谨慎一些", "behavior")
	require.NoError(t, err)
	assert.Equal(t, "谨慎", refined.Behavior.DecisionStyle)
	assert.Equal(t, "Ann", refined.Name)
	assert.Equal(t, "product", refined.Expertise.ProfessionalField)

	history, ok := refined.Metadata["refinement_history"].([]interface{})
	require.True(t, ok)
	assert.Len(t, history, 1)

	_, err = e.characters.RefineCharacter(context.Background(), c.ID, " ", "")
	assert.True(t, apperrors.IsValidationError(err))
	_, err = e.characters.RefineCharacter(context.Background(), "missing", "x", "")
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestValidateCharacter(t *testing.T) {
	e := newEnv(t, llmtest.New(), nil)

	empty := e.characters.ValidateCharacter(&models.Character{})
	assert.False(t, empty.Valid)
	assert.Zero(t, empty.CompletenessScore)
	assert.NotEmpty(t, empty.Suggestions)

	full := &models.Character{
		Name:      "Ann",
		Info:      models.CharacterInfo{Name: "Ann", Background: "ten years in retail"},
		Context:   models.CharacterContext{CurrentSituation: "busy"},
		Expertise: models.CharacterExpertise{ProfessionalField: "retail"},
		Behavior:  models.CharacterBehavior{DecisionStyle: "fast"},
	}
	v := e.characters.ValidateCharacter(full)
	assert.True(t, v.Valid)
	assert.Equal(t, 1.0, v.Score)

	full.Expertise.ProfessionalField = "aviation"
	full.Context.Goals = "ambitious growth"
	full.Context.ResourceConstraints = "limited budget"
	v = e.characters.ValidateCharacter(full)
	assert.InDelta(t, 0.6, v.ConsistencyScore, 1e-9)
	assert.False(t, v.Valid)
	assert.Len(t, v.Issues, 2)
}

func TestCreateFromTemplate(t *testing.T) {
	e := newEnv(t, llmtest.New(), nil)
	desc := "custom"
	c, err := e.characters.CreateFromTemplate(models.CharacterTypeOrganization, "Acme", models.CharacterUpdate{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "Acme", c.Name)
	assert.Equal(t, "custom", c.Description)
	assert.Equal(t, "Business Strategy", c.Expertise.ProfessionalField)

	prompt, err := e.characters.CharacterPrompt(c)
	require.NoError(t, err)
	assert.Contains(t, prompt, "Acme")
}

func TestDecodeModelJSON(t *testing.T) {
	var out map[string]interface{}
	require.NoError(t, decodeModelJSON("好的：\n```json\n{\"name\"：\"测试\", \"list\": [1, 2]}\n```\n以上。", &out))
	assert.Equal(t, "测试", out["name"])

	assert.Error(t, decodeModelJSON("no json here", &out))
}
