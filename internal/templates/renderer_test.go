package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/models"
)

func TestBuiltinTemplatesLoaded(t *testing.T) {
	r := MustRenderer()
	for _, name := range []string{
		UserCharacter, ExpertCharacter, OrganizationCharacter, CharacterGeneration,
		CreativeExploration, DialogueResponse, ConcurrentValidation, DialogueSummary, CharacterRefinement,
	} {
		assert.Contains(t, r.Names(), name)
	}
}

func TestRenderCharacterPromptFillsPlaceholders(t *testing.T) {
	r := MustRenderer()
	c := models.NewCharacter("Dr. Lee", models.CharacterTypeExpert, "cardiologist")
	c.Expertise.ProfessionalField = "cardiology"

	out, err := r.Render(CharacterTemplate(c.Type), map[string]interface{}{"character": c})
	require.NoError(t, err)
	assert.Contains(t, out, "# Dr. Lee 专家角色定义")
	assert.Contains(t, out, "**核心专业领域**：cardiology")
	assert.Contains(t, out, "**特殊技能**：请补充特殊技能")
}

func TestRenderConcurrentValidationByType(t *testing.T) {
	r := MustRenderer()
	out, err := r.Render(ConcurrentValidation, map[string]interface{}{
		"character_name":       "Acme",
		"character_type":       "organization",
		"character_type_label": TypeLabel(models.CharacterTypeOrganization),
		"question":             "Should we launch?",
		"character_background": "retail chain",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "从组织角度")
	assert.Contains(t, out, "评估投资回报率")
	assert.NotContains(t, out, "评估技术实现难度")
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, err := MustRenderer().Render("nope", nil)
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestCustomDirectoryOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dialogue_response.tmpl"), []byte("custom {{ .character_name }}"), 0644))

	r, err := NewRenderer(dir)
	require.NoError(t, err)
	out, err := r.Render(DialogueResponse, map[string]interface{}{"character_name": "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "custom Ann", out)
}

func TestCustomDirectoryParseError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.tmpl"), []byte("{{ .x "), 0644))

	_, err := NewRenderer(dir)
	assert.True(t, apperrors.IsConfigError(err))
}
