// internal/models/character.go
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// CharacterType 角色类型，创建后不可修改
type CharacterType string

const (
	CharacterTypeUser         CharacterType = "user"
	CharacterTypeExpert       CharacterType = "expert"
	CharacterTypeOrganization CharacterType = "organization"
)

// ParseCharacterType 解析角色类型，大小写不敏感
func ParseCharacterType(s string) (CharacterType, bool) {
	switch CharacterType(strings.ToLower(strings.TrimSpace(s))) {
	case CharacterTypeUser:
		return CharacterTypeUser, true
	case CharacterTypeExpert:
		return CharacterTypeExpert, true
	case CharacterTypeOrganization:
		return CharacterTypeOrganization, true
	default:
		return "", false
	}
}

// AllCharacterTypes 全部角色类型
func AllCharacterTypes() []CharacterType {
	return []CharacterType{CharacterTypeUser, CharacterTypeExpert, CharacterTypeOrganization}
}

// CharacterInfo 基本信息
type CharacterInfo struct {
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
	Age        string `json:"age,omitempty" yaml:"age,omitempty"`
	Position   string `json:"position,omitempty" yaml:"position,omitempty"`
	Background string `json:"background,omitempty" yaml:"background,omitempty"`
	Experience string `json:"experience,omitempty" yaml:"experience,omitempty"`
}

// CharacterContext 所处情境
type CharacterContext struct {
	CurrentSituation    string `json:"current_situation,omitempty" yaml:"current_situation,omitempty"`
	Goals               string `json:"goals,omitempty" yaml:"goals,omitempty"`
	Challenges          string `json:"challenges,omitempty" yaml:"challenges,omitempty"`
	ResourceConstraints string `json:"resource_constraints,omitempty" yaml:"resource_constraints,omitempty"`
}

// CharacterExpertise 专业能力
type CharacterExpertise struct {
	ProfessionalField string `json:"professional_field,omitempty" yaml:"professional_field,omitempty"`
	SpecialSkills     string `json:"special_skills,omitempty" yaml:"special_skills,omitempty"`
	ExperienceLevel   string `json:"experience_level,omitempty" yaml:"experience_level,omitempty"`
	IndustryInsights  string `json:"industry_insights,omitempty" yaml:"industry_insights,omitempty"`
}

// CharacterBehavior 行为特征
type CharacterBehavior struct {
	DecisionStyle      string `json:"decision_style,omitempty" yaml:"decision_style,omitempty"`
	RiskPreference     string `json:"risk_preference,omitempty" yaml:"risk_preference,omitempty"`
	CommunicationStyle string `json:"communication_style,omitempty" yaml:"communication_style,omitempty"`
	Values             string `json:"values,omitempty" yaml:"values,omitempty"`
}

// ResponseGuidelines 回复准则
type ResponseGuidelines struct {
	FocusAreas       string `json:"focus_areas,omitempty" yaml:"focus_areas,omitempty"`
	AvoidanceAreas   string `json:"avoidance_areas,omitempty" yaml:"avoidance_areas,omitempty"`
	ExpressionStyle  string `json:"expression_style,omitempty" yaml:"expression_style,omitempty"`
	ExpectedOutcomes string `json:"expected_outcomes,omitempty" yaml:"expected_outcomes,omitempty"`
}

// Character 角色定义
type Character struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name"`
	Type        CharacterType `json:"type" yaml:"type"`
	Description string        `json:"description" yaml:"description"`

	Info      CharacterInfo      `json:"info" yaml:"info"`
	Context   CharacterContext   `json:"context" yaml:"context"`
	Expertise CharacterExpertise `json:"expertise" yaml:"expertise"`
	Behavior  CharacterBehavior  `json:"behavior" yaml:"behavior"`
	Response  ResponseGuidelines `json:"response" yaml:"response"`

	Tags      []string               `json:"tags" yaml:"tags"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time              `json:"updated_at" yaml:"updated_at"`
}

// NewCharacter 创建带新 ID 的角色
func NewCharacter(name string, typ CharacterType, description string) *Character {
	now := time.Now()
	return &Character{
		ID:          uuid.NewString(),
		Name:        name,
		Type:        typ,
		Description: description,
		Info:        CharacterInfo{Name: name},
		Tags:        []string{},
		Metadata:    map[string]interface{}{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone 深拷贝，存储对外只返回副本
func (c *Character) Clone() *Character {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Tags = append([]string(nil), c.Tags...)
	if c.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Matches 名称、描述、标签的大小写不敏感子串匹配
func (c *Character) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(c.Name), q) || strings.Contains(strings.ToLower(c.Description), q) {
		return true
	}
	for _, t := range c.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

// CharacterUpdate 精炼/更新时可替换的字段，nil 表示不变
type CharacterUpdate struct {
	Name        *string                `json:"name,omitempty"`
	Description *string                `json:"description,omitempty"`
	Info        *CharacterInfo         `json:"info,omitempty"`
	Context     *CharacterContext      `json:"context,omitempty"`
	Expertise   *CharacterExpertise    `json:"expertise,omitempty"`
	Behavior    *CharacterBehavior     `json:"behavior,omitempty"`
	Response    *ResponseGuidelines    `json:"response,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	// 以下字段不允许修改，设置即报错
	ID   *string        `json:"id,omitempty"`
	Type *CharacterType `json:"type,omitempty"`
}

// CharacterValidation 完整性检查结果
type CharacterValidation struct {
	Valid             bool     `json:"valid"`
	Score             float64  `json:"score"`
	CompletenessScore float64  `json:"completeness_score"`
	ConsistencyScore  float64  `json:"consistency_score"`
	Issues            []string `json:"issues"`
	Suggestions       []string `json:"suggestions"`
}
