// internal/models/exploration.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Readiness 生成角色的准备程度
type Readiness string

const (
	ReadinessReady        Readiness = "ready"
	ReadinessPartial      Readiness = "partial"
	ReadinessInsufficient Readiness = "insufficient"
)

// ExplorationInsights 从探索对话中累计的洞察
type ExplorationInsights struct {
	Stakeholders          []string `json:"stakeholders" yaml:"stakeholders"`
	KnowledgeAreas        []string `json:"knowledge_areas" yaml:"knowledge_areas"`
	ImplementationContext []string `json:"implementation_context" yaml:"implementation_context"`
	ValuePropositions     []string `json:"value_propositions" yaml:"value_propositions"`
	Risks                 []string `json:"risks" yaml:"risks"`
}

// ExplorationTurn 一轮探索问答
type ExplorationTurn struct {
	Input     string    `json:"input" yaml:"input"`
	Response  string    `json:"response" yaml:"response"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// ExplorationSession 创意探索会话
type ExplorationSession struct {
	ID                  string              `json:"id" yaml:"id"`
	InitialIdea         string              `json:"initial_idea" yaml:"initial_idea"`
	Turns               []ExplorationTurn   `json:"turns" yaml:"turns"`
	Insights            ExplorationInsights `json:"insights" yaml:"insights"`
	QuestionsAsked      int                 `json:"questions_asked" yaml:"questions_asked"`
	GeneratedCharacters []string            `json:"generated_characters" yaml:"generated_characters"`
	CreatedAt           time.Time           `json:"created_at" yaml:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at" yaml:"updated_at"`
}

// NewExplorationSession 创建探索会话
func NewExplorationSession(idea string) *ExplorationSession {
	now := time.Now()
	return &ExplorationSession{
		ID:                  uuid.NewString(),
		InitialIdea:         idea,
		Turns:               []ExplorationTurn{},
		GeneratedCharacters: []string{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// AddCharacter 记录由本次探索生成的角色
func (s *ExplorationSession) AddCharacter(id string) {
	for _, existing := range s.GeneratedCharacters {
		if existing == id {
			return
		}
	}
	s.GeneratedCharacters = append(s.GeneratedCharacters, id)
	s.UpdatedAt = time.Now()
}

// Clone 深拷贝
func (s *ExplorationSession) Clone() *ExplorationSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Turns = append([]ExplorationTurn(nil), s.Turns...)
	cp.GeneratedCharacters = append([]string(nil), s.GeneratedCharacters...)
	cp.Insights = ExplorationInsights{
		Stakeholders:          append([]string(nil), s.Insights.Stakeholders...),
		KnowledgeAreas:        append([]string(nil), s.Insights.KnowledgeAreas...),
		ImplementationContext: append([]string(nil), s.Insights.ImplementationContext...),
		ValuePropositions:     append([]string(nil), s.Insights.ValuePropositions...),
		Risks:                 append([]string(nil), s.Insights.Risks...),
	}
	return &cp
}

// ExplorationSummary 探索总结，供角色生成使用
type ExplorationSummary struct {
	SessionID      string              `json:"session_id"`
	InitialIdea    string              `json:"initial_idea"`
	Insights       ExplorationInsights `json:"insights"`
	TurnCount      int                 `json:"turn_count"`
	QuestionsAsked int                 `json:"questions_asked"`
	ReadinessScore int                 `json:"readiness_score"`
	Readiness      Readiness           `json:"readiness"`
	Text           string              `json:"text"`
}
