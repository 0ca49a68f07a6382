// internal/analysis/integration.go
package analysis

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Corphon/PersonaKit/internal/models"
)

// 风险矩阵象限键
const (
	QuadrantHighHigh = "high_probability_high_impact"
	QuadrantHighLow  = "high_probability_low_impact"
	QuadrantLowHigh  = "low_probability_high_impact"
	QuadrantLowLow   = "low_probability_low_impact"
)

const executiveSummaryRunes = 300

// PanelResponse 一个角色对问题的回答
type PanelResponse struct {
	CharacterID   string
	CharacterName string
	CharacterType models.CharacterType
	Response      string
}

// Panel 一次验证的问题与全部成功回答
type Panel struct {
	SessionID string
	Question  string
	Responses []PanelResponse
}

func (p Panel) texts() []string {
	out := make([]string, 0, len(p.Responses))
	for _, r := range p.Responses {
		out = append(out, r.Response)
	}
	return out
}

func (p Panel) types() []models.CharacterType {
	out := make([]models.CharacterType, 0, len(p.Responses))
	for _, r := range p.Responses {
		out = append(out, r.CharacterType)
	}
	return out
}

// Language 面板回答的语言
func (p Panel) Language() Language {
	return DetectLanguage(p.texts()...)
}

// Recommendations 按参与角色类型组合给出的固定建议，末尾总附带调研建议
func Recommendations(lang Language, types []models.CharacterType) []string {
	has := make(map[models.CharacterType]bool, len(types))
	for _, t := range types {
		has[t] = true
	}
	ph := phrasesFor(lang)
	var out []string
	if has[models.CharacterTypeUser] && has[models.CharacterTypeExpert] {
		out = append(out, ph.userExpert)
	}
	if has[models.CharacterTypeExpert] && has[models.CharacterTypeOrganization] {
		out = append(out, ph.expertOrg)
	}
	if has[models.CharacterTypeUser] && has[models.CharacterTypeOrganization] {
		out = append(out, ph.userOrg)
	}
	return append(out, ph.research)
}

// Insights 会话级洞察
func Insights(a TextAnalyzer, p Panel) models.SessionInsights {
	summary := a.Summarize(p.texts())
	lang := Language(summary.Language)
	sentiments := make(map[string]models.Sentiment, len(p.Responses))
	for _, r := range p.Responses {
		sentiments[r.CharacterID] = a.Perspective(r.Response).Sentiment
	}
	return models.SessionInsights{
		SessionID:       p.SessionID,
		Question:        p.Question,
		ResponseCount:   len(p.Responses),
		ConsensusLevel:  summary.ConsensusLevel,
		KeyThemes:       summary.CommonPoints,
		Concerns:        summary.KeyConcerns,
		Opportunities:   summary.Opportunities,
		Recommendations: Recommendations(lang, p.types()),
		Sentiments:      sentiments,
	}
}

// ActionItems 含行动指示词的句子，按优先级排序；priority 非空时只保留该级别
func ActionItems(p Panel, priority models.Priority) []models.ActionItem {
	lang := p.Language()
	lex := LexiconFor(lang)

	var items []models.ActionItem
	seen := make(map[string]bool)
	for _, r := range p.Responses {
		for _, s := range MatchingSentences(lang, r.Response, lex.Action, 0) {
			if seen[s] {
				continue
			}
			seen[s] = true
			item := models.ActionItem{
				Action:   s,
				Priority: models.PriorityMedium,
				Source:   r.CharacterName,
				Category: string(r.CharacterType),
			}
			switch {
			case hasAnyTerm(lang, s, lex.HighPriority):
				item.Priority = models.PriorityHigh
			case hasAnyTerm(lang, s, lex.LowPriority):
				item.Priority = models.PriorityLow
			}
			if priority != "" && item.Priority != priority {
				continue
			}
			items = append(items, item)
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Priority.Rank() < items[j].Priority.Rank()
	})
	if items == nil {
		items = []models.ActionItem{}
	}
	return items
}

// AssessRisks 风险句按"严重"与"频繁"指示词落入 2×2 矩阵，并附应对策略
func AssessRisks(p Panel) models.RiskAssessment {
	lang := p.Language()
	lex := LexiconFor(lang)

	matrix := models.RiskMatrix{
		HighProbabilityHighImpact: []string{},
		HighProbabilityLowImpact:  []string{},
		LowProbabilityHighImpact:  []string{},
		LowProbabilityLowImpact:   []string{},
	}
	seen := make(map[string]bool)
	for _, r := range p.Responses {
		for _, s := range MatchingSentences(lang, r.Response, lex.Risk, 0) {
			if seen[s] {
				continue
			}
			seen[s] = true
			severe := hasAnyTerm(lang, s, lex.Severe)
			frequent := hasAnyTerm(lang, s, lex.Frequent)
			switch {
			case severe && frequent:
				matrix.HighProbabilityHighImpact = append(matrix.HighProbabilityHighImpact, s)
			case severe:
				matrix.LowProbabilityHighImpact = append(matrix.LowProbabilityHighImpact, s)
			case frequent:
				matrix.HighProbabilityLowImpact = append(matrix.HighProbabilityLowImpact, s)
			default:
				matrix.LowProbabilityLowImpact = append(matrix.LowProbabilityLowImpact, s)
			}
		}
	}

	mitigation := make(map[string][]string, 4)
	for k, v := range phrasesFor(lang).mitigation {
		mitigation[k] = append([]string(nil), v...)
	}
	return models.RiskAssessment{
		Matrix:     matrix,
		Mitigation: mitigation,
		TotalRisks: matrix.Total(),
	}
}

// DecisionReport 由回答文本直接整理的决策报告，不调用模型
func DecisionReport(a TextAnalyzer, p Panel) models.DecisionReport {
	texts := p.texts()
	summary := a.Summarize(texts)
	lang := Language(summary.Language)
	lex := LexiconFor(lang)
	ph := phrasesFor(lang)

	exec := fmt.Sprintf(ph.summary, p.Question, len(p.Responses), summary.ConsensusLevel*100)
	if len(summary.KeyConcerns) > 0 {
		exec += " " + strings.Join(summary.KeyConcerns, "; ")
	} else {
		exec += " " + ph.noConcerns
	}

	findings := collect(lang, texts, lex.Finding)
	if len(findings) == 0 {
		for _, t := range texts {
			findings = appendUnique(findings, MatchingSentences(lang, t, lex.KeyPoint, maxExtracted)...)
		}
		findings = limit(findings, maxExtracted)
	}

	recs := collect(lang, texts, lex.Recommendation)
	recs = appendUnique(recs, Recommendations(lang, p.types())...)

	actions := ActionItems(p, "")
	next := collect(lang, texts, lex.NextStep)
	if len(next) == 0 {
		for _, item := range actions {
			if item.Priority == models.PriorityHigh {
				next = appendUnique(next, item.Action)
			}
		}
		next = limit(next, maxExtracted)
	}

	return models.DecisionReport{
		SessionID:        p.SessionID,
		Question:         p.Question,
		ExecutiveSummary: Truncate(exec, executiveSummaryRunes),
		KeyFindings:      nonNil(findings),
		Recommendations:  nonNil(recs),
		NextSteps:        nonNil(next),
		SuccessFactors:   nonNil(collect(lang, texts, lex.SuccessFactor)),
		RiskMatrix:       AssessRisks(p).Matrix,
		ActionItems:      actions,
		GeneratedAt:      time.Now(),
	}
}

// Roadmap 四个阶段按 1:2:6:3 分配月份，每阶段至少一个月，最后阶段吸收余数
func Roadmap(p Panel, months int) models.Roadmap {
	if months < 4 {
		months = 4
	}
	lang := p.Language()
	ph := phrasesFor(lang)

	weights := [4]int{1, 2, 6, 3}
	durations := [4]int{}
	used := 0
	for i := 0; i < 3; i++ {
		d := months * weights[i] / 12
		if d < 1 {
			d = 1
		}
		durations[i] = d
		used += d
	}
	durations[3] = months - used
	if durations[3] < 1 {
		// 前三个阶段已占满，从开发阶段挪一个月
		durations[2] -= 1 - durations[3]
		durations[3] = 1
	}

	roadmap := models.Roadmap{TotalMonths: months}
	start := 0
	for i := 0; i < 4; i++ {
		roadmap.Phases = append(roadmap.Phases, models.RoadmapPhase{
			Name:       ph.phases[i],
			Months:     durations[i],
			StartMonth: start + 1,
			Activities: append([]string(nil), ph.phaseActions[i]...),
		})
		start += durations[i]
		roadmap.Milestones = append(roadmap.Milestones, models.Milestone{
			Name:  fmt.Sprintf(ph.completed, ph.phases[i]),
			Month: start,
			Phase: ph.phases[i],
		})
	}
	roadmap.Priorities = ActionItems(p, models.PriorityHigh)
	return roadmap
}

// Truncate 按字符截断，超出时追加省略号
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

func collect(lang Language, texts []string, indicators []string) []string {
	var out []string
	for _, t := range texts {
		out = appendUnique(out, MatchingSentences(lang, t, indicators, 0)...)
	}
	return limit(out, maxExtracted)
}

func appendUnique(dst []string, items ...string) []string {
	for _, it := range items {
		dup := false
		for _, d := range dst {
			if d == it {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, it)
		}
	}
	return dst
}

func limit(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
