// internal/models/analysis.go
package models

import (
	"strings"
	"time"
)

// Sentiment 倾向
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentCautious Sentiment = "cautious"
	SentimentNeutral  Sentiment = "neutral"
)

// Stance 立场
type Stance string

const (
	StanceSupport Stance = "support"
	StanceOppose  Stance = "cautious_or_oppose"
	StanceNeutral Stance = "neutral"
)

// ConsensusSummary 多角色回复的汇总
type ConsensusSummary struct {
	ConsensusLevel  float64  `json:"consensus_level" yaml:"consensus_level"`
	KeyConcerns     []string `json:"key_concerns" yaml:"key_concerns"`
	Opportunities   []string `json:"opportunities" yaml:"opportunities"`
	Recommendations []string `json:"recommendations" yaml:"recommendations"`
	CommonPoints    []string `json:"common_points" yaml:"common_points"`
	Language        string   `json:"language" yaml:"language"`
}

// PerspectiveAnalysis 单个角色观点分析
type PerspectiveAnalysis struct {
	Sentiment   Sentiment `json:"sentiment"`
	Stance      Stance    `json:"stance"`
	KeyPoints   []string  `json:"key_points"`
	Concerns    []string  `json:"concerns"`
	Suggestions []string  `json:"suggestions"`
}

// Perspective 带角色信息的观点
type Perspective struct {
	CharacterID   string              `json:"character_id"`
	CharacterName string              `json:"character_name"`
	CharacterType CharacterType       `json:"character_type"`
	Analysis      PerspectiveAnalysis `json:"analysis"`
}

// PerspectiveComparison comparePerspectives 的结果
type PerspectiveComparison struct {
	SessionID      string        `json:"session_id"`
	Question       string        `json:"question"`
	Perspectives   []Perspective `json:"perspectives"`
	CommonPoints   []string      `json:"common_points"`
	ConsensusLevel float64       `json:"consensus_level"`
}

// Priority 优先级
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank 排序用，高优先级在前
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// ParsePriority 空串表示不过滤
func ParsePriority(s string) (Priority, bool) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PriorityHigh, PriorityMedium, PriorityLow:
		return p, true
	default:
		return "", false
	}
}

// ActionItem 行动项
type ActionItem struct {
	Action   string   `json:"action"`
	Priority Priority `json:"priority"`
	Source   string   `json:"source"`
	Category string   `json:"category"`
}

// RiskMatrix 概率/影响 2×2 矩阵
type RiskMatrix struct {
	HighProbabilityHighImpact []string `json:"high_probability_high_impact"`
	HighProbabilityLowImpact  []string `json:"high_probability_low_impact"`
	LowProbabilityHighImpact  []string `json:"low_probability_high_impact"`
	LowProbabilityLowImpact   []string `json:"low_probability_low_impact"`
}

// Total 风险总数
func (m RiskMatrix) Total() int {
	return len(m.HighProbabilityHighImpact) + len(m.HighProbabilityLowImpact) +
		len(m.LowProbabilityHighImpact) + len(m.LowProbabilityLowImpact)
}

// RiskAssessment 风险矩阵及应对策略
type RiskAssessment struct {
	Matrix     RiskMatrix          `json:"risk_matrix"`
	Mitigation map[string][]string `json:"mitigation_strategies"`
	TotalRisks int                 `json:"total_risks"`
}

// SessionInsights 单个验证会话的洞察
type SessionInsights struct {
	SessionID       string               `json:"session_id"`
	Question        string               `json:"question"`
	ResponseCount   int                  `json:"response_count"`
	ConsensusLevel  float64              `json:"consensus_level"`
	KeyThemes       []string             `json:"key_themes"`
	Concerns        []string             `json:"concerns"`
	Opportunities   []string             `json:"opportunities"`
	Recommendations []string             `json:"recommendations"`
	Sentiments      map[string]Sentiment `json:"sentiments"`
}

// DecisionReport 决策支持报告
type DecisionReport struct {
	SessionID        string       `json:"session_id"`
	Question         string       `json:"question"`
	ExecutiveSummary string       `json:"executive_summary"`
	KeyFindings      []string     `json:"key_findings"`
	Recommendations  []string     `json:"recommendations"`
	NextSteps        []string     `json:"next_steps"`
	SuccessFactors   []string     `json:"success_factors"`
	RiskMatrix       RiskMatrix   `json:"risk_matrix"`
	ActionItems      []ActionItem `json:"action_items"`
	GeneratedAt      time.Time    `json:"generated_at"`
}

// Milestone 里程碑
type Milestone struct {
	Name  string `json:"name"`
	Month int    `json:"month"`
	Phase string `json:"phase"`
}

// RoadmapPhase 路线图阶段
type RoadmapPhase struct {
	Name       string   `json:"name"`
	Months     int      `json:"months"`
	StartMonth int      `json:"start_month"`
	Activities []string `json:"activities"`
}

// Roadmap 实施路线图
type Roadmap struct {
	TotalMonths int            `json:"total_months"`
	Phases      []RoadmapPhase `json:"phases"`
	Milestones  []Milestone    `json:"milestones"`
	Priorities  []ActionItem   `json:"priorities"`
}
