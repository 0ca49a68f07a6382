// internal/services/character_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/llm"
	"github.com/Corphon/PersonaKit/internal/models"
	"github.com/Corphon/PersonaKit/internal/templates"
	"github.com/Corphon/PersonaKit/internal/utils"
)

// CharacterService 角色生成、精炼与提示构建
type CharacterService struct {
	store    *CharacterStore
	provider llm.Provider
	renderer templates.Renderer
	logger   *utils.Logger
}

// characterSpec 模型返回的角色定义
type characterSpec struct {
	Name        string                    `json:"name"`
	Description string                    `json:"description"`
	Info        models.CharacterInfo      `json:"info"`
	Context     models.CharacterContext   `json:"context"`
	Expertise   models.CharacterExpertise `json:"expertise"`
	Behavior    models.CharacterBehavior  `json:"behavior"`
	Response    models.ResponseGuidelines `json:"response"`
	Tags        []string                  `json:"tags"`
}

// NewCharacterService 创建角色服务
func NewCharacterService(store *CharacterStore, provider llm.Provider, renderer templates.Renderer, logger *utils.Logger) *CharacterService {
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &CharacterService{
		store:    store,
		provider: provider,
		renderer: renderer,
		logger:   logger,
	}
}

// Store 底层角色存储
func (s *CharacterService) Store() *CharacterStore {
	return s.store
}

// GenerateCharacter 根据探索总结生成并保存一个角色
func (s *CharacterService) GenerateCharacter(ctx context.Context, summary models.ExplorationSummary, typ models.CharacterType, requirements string) (*models.Character, error) {
	if _, ok := models.ParseCharacterType(string(typ)); !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid character type %q", typ), nil)
	}
	timer := s.logger.StartTimer("generate_character")

	prompt, err := s.renderer.Render(templates.CharacterGeneration, map[string]interface{}{
		"exploration_summary":  formatExplorationSummary(summary),
		"character_type":       string(typ),
		"character_type_label": templates.TypeLabel(typ),
		"requirements":         requirements,
	})
	if err != nil {
		return nil, err
	}

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompt},
			{Role: llm.RoleUser, Content: fmt.Sprintf("请生成一个详细的%s角色定义。", templates.TypeLabel(typ))},
		},
		MaxTokens:   2000,
		Temperature: llm.Float(0.7),
	})
	if err != nil {
		s.logger.Error("character generation failed", map[string]interface{}{"type": typ, "error": err})
		return nil, err
	}

	spec, parsed := parseCharacterSpec(resp.Content, typ)
	if !parsed {
		s.logger.Warn("model reply was not valid JSON, using default facets", map[string]interface{}{"type": typ})
	}

	c := spec.toCharacter(typ)
	c.Metadata["generation_method"] = "ai_assisted"
	c.Metadata["generation_time"] = time.Now().Format(time.RFC3339)
	c.Metadata["structured"] = parsed
	if summary.SessionID != "" {
		c.Metadata["exploration_session"] = summary.SessionID
	}
	if requirements != "" {
		c.Metadata["requirements"] = requirements
	}

	created, err := s.store.Create(c)
	if err != nil {
		return nil, err
	}
	timer.Stop(map[string]interface{}{"id": created.ID, "type": typ})
	return created, nil
}

// GenerateCharacterSet 依次生成用户、专家、组织三个角色
func (s *CharacterService) GenerateCharacterSet(ctx context.Context, summary models.ExplorationSummary, requirements map[models.CharacterType]string) ([]*models.Character, error) {
	out := make([]*models.Character, 0, 3)
	for _, typ := range models.AllCharacterTypes() {
		c, err := s.GenerateCharacter(ctx, summary, typ, requirements[typ])
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
	s.logger.Info("character set generated", map[string]interface{}{"count": len(out)})
	return out, nil
}

// RefineCharacter 按反馈改写角色的各个方面，并记录精炼历史
func (s *CharacterService) RefineCharacter(ctx context.Context, id, feedback, aspect string) (*models.Character, error) {
	if strings.TrimSpace(feedback) == "" {
		return nil, apperrors.NewValidationError("refinement feedback is required", nil)
	}
	current, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}

	currentJSON, err := json.MarshalIndent(specFromCharacter(current), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("序列化角色失败: %w", err)
	}
	prompt, err := s.renderer.Render(templates.CharacterRefinement, map[string]interface{}{
		"character_json": string(currentJSON),
		"feedback":       feedback,
		"aspect":         aspect,
	})
	if err != nil {
		return nil, err
	}

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "你是角色优化专家，擅长根据反馈改进角色定义。"},
			{Role: llm.RoleUser, Content: prompt},
		},
		MaxTokens:   2000,
		Temperature: llm.Float(0.6),
	})
	if err != nil {
		return nil, err
	}

	var refined characterSpec
	if err := decodeModelJSON(resp.Content, &refined); err != nil {
		return nil, apperrors.NewProviderError("refinement reply could not be parsed", err)
	}

	upd := models.CharacterUpdate{}
	if refined.Description != "" {
		upd.Description = &refined.Description
	}
	if refined.Info != (models.CharacterInfo{}) {
		upd.Info = &refined.Info
	}
	if refined.Context != (models.CharacterContext{}) {
		upd.Context = &refined.Context
	}
	if refined.Expertise != (models.CharacterExpertise{}) {
		upd.Expertise = &refined.Expertise
	}
	if refined.Behavior != (models.CharacterBehavior{}) {
		upd.Behavior = &refined.Behavior
	}
	if refined.Response != (models.ResponseGuidelines{}) {
		upd.Response = &refined.Response
	}
	if len(refined.Tags) > 0 {
		upd.Tags = refined.Tags
	}

	history, _ := current.Metadata["refinement_history"].([]interface{})
	history = append(history, map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
		"feedback":  feedback,
		"aspect":    aspect,
	})
	upd.Metadata = map[string]interface{}{"refinement_history": history}

	updated, err := s.store.Update(id, upd)
	if err != nil {
		return nil, err
	}
	s.logger.Info("character refined", map[string]interface{}{"id": id, "aspect": aspect})
	return updated, nil
}

// CharacterPrompt 渲染角色类型对应的系统提示
func (s *CharacterService) CharacterPrompt(c *models.Character) (string, error) {
	return s.renderer.Render(templates.CharacterTemplate(c.Type), map[string]interface{}{
		"character":      c,
		"character_name": c.Name,
	})
}

var requiredCharacterFields = []struct {
	name  string
	value func(c *models.Character) string
}{
	{"name", func(c *models.Character) string { return c.Name }},
	{"info.name", func(c *models.Character) string { return c.Info.Name }},
	{"context.current_situation", func(c *models.Character) string { return c.Context.CurrentSituation }},
	{"expertise.professional_field", func(c *models.Character) string { return c.Expertise.ProfessionalField }},
	{"behavior.decision_style", func(c *models.Character) string { return c.Behavior.DecisionStyle }},
}

// ValidateCharacter 完整性与一致性检查
func (s *CharacterService) ValidateCharacter(c *models.Character) models.CharacterValidation {
	result := models.CharacterValidation{Issues: []string{}, Suggestions: []string{}}

	var missing []string
	for _, f := range requiredCharacterFields {
		if strings.TrimSpace(f.value(c)) == "" {
			missing = append(missing, f.name)
		}
	}
	total := len(requiredCharacterFields)
	result.CompletenessScore = float64(total-len(missing)) / float64(total)
	if len(missing) > 0 {
		result.Issues = append(result.Issues, "missing required fields: "+strings.Join(missing, ", "))
	}

	consistency := consistencyIssues(c)
	result.ConsistencyScore = 1.0 - float64(len(consistency))*0.2
	if result.ConsistencyScore < 0 {
		result.ConsistencyScore = 0
	}
	result.Issues = append(result.Issues, consistency...)

	result.Valid = result.CompletenessScore >= 0.8 && result.ConsistencyScore >= 0.7
	result.Score = (result.CompletenessScore + result.ConsistencyScore) / 2

	if result.CompletenessScore < 0.8 {
		result.Suggestions = append(result.Suggestions, "add more detailed character information")
	}
	if result.ConsistencyScore < 0.7 {
		result.Suggestions = append(result.Suggestions, "review character consistency and alignment")
	}
	return result
}

func consistencyIssues(c *models.Character) []string {
	var issues []string
	field := strings.ToLower(c.Expertise.ProfessionalField)
	background := strings.ToLower(c.Info.Background)
	if field != "" && background != "" && !strings.Contains(background, field) {
		issues = append(issues, "expertise field may not align with background")
	}
	goals := strings.ToLower(c.Context.Goals)
	constraints := strings.ToLower(c.Context.ResourceConstraints)
	if strings.Contains(goals, "ambitious") && strings.Contains(constraints, "limited") {
		issues = append(issues, "goals may be too ambitious given resource constraints")
	}
	return issues
}

// CreateFromTemplate 用类型默认画像创建角色，再套用 overrides
func (s *CharacterService) CreateFromTemplate(typ models.CharacterType, name string, overrides models.CharacterUpdate) (*models.Character, error) {
	if _, ok := models.ParseCharacterType(string(typ)); !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid character type %q", typ), nil)
	}
	spec := defaultSpec(typ, "")
	if name != "" {
		spec.Name = name
		spec.Info.Name = name
	}
	c := spec.toCharacter(typ)
	c.Metadata["generation_method"] = "template"

	created, err := s.store.Create(c)
	if err != nil {
		return nil, err
	}
	if isEmptyUpdate(overrides) {
		return created, nil
	}
	return s.store.Update(created.ID, overrides)
}

func isEmptyUpdate(u models.CharacterUpdate) bool {
	return u.Name == nil && u.Description == nil && u.Info == nil && u.Context == nil &&
		u.Expertise == nil && u.Behavior == nil && u.Response == nil && u.Tags == nil &&
		u.Metadata == nil && u.ID == nil && u.Type == nil
}

// parseCharacterSpec 解析失败时退回类型默认画像，描述取回复前 200 个字符
func parseCharacterSpec(content string, typ models.CharacterType) (characterSpec, bool) {
	var spec characterSpec
	if err := decodeModelJSON(content, &spec); err == nil && strings.TrimSpace(spec.Name) != "" {
		if spec.Info.Name == "" {
			spec.Info.Name = spec.Name
		}
		return spec, true
	}
	return defaultSpec(typ, content), false
}

func defaultSpec(typ models.CharacterType, reply string) characterSpec {
	name := strings.ToUpper(string(typ[:1])) + string(typ[1:]) + " Character"
	position, field := "End User", "User Experience"
	switch typ {
	case models.CharacterTypeExpert:
		position, field = "Domain Expert", "Technology and Innovation"
	case models.CharacterTypeOrganization:
		position, field = "Business Manager", "Business Strategy"
	}
	return characterSpec{
		Name:        name,
		Description: strings.TrimSpace(truncateRunes(reply, 200)),
		Info: models.CharacterInfo{
			Name:       name,
			Age:        "30-40",
			Position:   position,
			Background: "Experienced professional in " + field,
			Experience: "5+ years",
		},
		Context: models.CharacterContext{
			CurrentSituation:    "Exploring new opportunities",
			Goals:               "To provide valuable insights",
			Challenges:          "Complex problem solving",
			ResourceConstraints: "Time and information limitations",
		},
		Expertise: models.CharacterExpertise{
			ProfessionalField: field,
			SpecialSkills:     "Analysis and communication",
			ExperienceLevel:   "Senior level",
			IndustryInsights:  "Deep industry knowledge",
		},
		Behavior: models.CharacterBehavior{
			DecisionStyle:      "Analytical and collaborative",
			RiskPreference:     "Moderate risk tolerance",
			CommunicationStyle: "Clear and constructive",
			Values:             "Integrity and excellence",
		},
		Response: models.ResponseGuidelines{
			FocusAreas:       "Practical solutions and insights",
			AvoidanceAreas:   "Speculation without evidence",
			ExpressionStyle:  "Professional and direct",
			ExpectedOutcomes: "Actionable recommendations",
		},
		Tags: []string{string(typ), "generated"},
	}
}

func (spec characterSpec) toCharacter(typ models.CharacterType) *models.Character {
	c := models.NewCharacter(spec.Name, typ, spec.Description)
	c.Info = spec.Info
	if c.Info.Name == "" {
		c.Info.Name = spec.Name
	}
	c.Context = spec.Context
	c.Expertise = spec.Expertise
	c.Behavior = spec.Behavior
	c.Response = spec.Response
	if spec.Tags != nil {
		c.Tags = append([]string(nil), spec.Tags...)
	}
	return c
}

func specFromCharacter(c *models.Character) characterSpec {
	return characterSpec{
		Name:        c.Name,
		Description: c.Description,
		Info:        c.Info,
		Context:     c.Context,
		Expertise:   c.Expertise,
		Behavior:    c.Behavior,
		Response:    c.Response,
		Tags:        c.Tags,
	}
}

func formatExplorationSummary(s models.ExplorationSummary) string {
	if s.Text != "" {
		return s.Text
	}
	var b strings.Builder
	fmt.Fprintf(&b, "初始想法：%s\n", orNA(s.InitialIdea))
	fmt.Fprintf(&b, "利益相关者：%s\n", joinOrNA(s.Insights.Stakeholders))
	fmt.Fprintf(&b, "知识领域：%s\n", joinOrNA(s.Insights.KnowledgeAreas))
	fmt.Fprintf(&b, "实施环境：%s\n", joinOrNA(s.Insights.ImplementationContext))
	fmt.Fprintf(&b, "价值主张：%s\n", joinOrNA(s.Insights.ValuePropositions))
	fmt.Fprintf(&b, "风险：%s", joinOrNA(s.Insights.Risks))
	return b.String()
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func joinOrNA(items []string) string {
	if len(items) == 0 {
		return "N/A"
	}
	return strings.Join(items, "；")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
