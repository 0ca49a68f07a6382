// internal/services/exploration_service.go
package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/PersonaKit/internal/analysis"
	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/llm"
	"github.com/Corphon/PersonaKit/internal/models"
	"github.com/Corphon/PersonaKit/internal/storage"
	"github.com/Corphon/PersonaKit/internal/templates"
	"github.com/Corphon/PersonaKit/internal/utils"
)

const (
	explorationHistoryTurns = 5
	maxInsightsPerKind      = 10
	insightsPerTurn         = 3
)

// 提问类型
const (
	QuestionStakeholders = "stakeholders"
	QuestionScenarios    = "scenarios"
	QuestionFeasibility  = "feasibility"
	QuestionValue        = "value"
	QuestionRisks        = "risks"
	QuestionGeneral      = "general"
)

var questionPrompts = map[string]string{
	QuestionStakeholders: "基于当前的想法，请帮助我们识别：谁是主要用户？谁会受到影响？谁可能提供帮助？请提出具体的问题来澄清这些利益相关者的特征。",
	QuestionScenarios:    "请帮助我们探索这个想法的不同应用场景：在什么情况下这个想法最有价值？哪些场景下可能不适用？请提出具体问题来探索各种可能性。",
	QuestionFeasibility:  "请帮助我们评估实施可行性：需要什么技术？需要什么资源？有什么潜在的障碍？请提出相关问题来深入了解实施要求。",
	QuestionValue:        "请帮助我们探索价值主张：这个想法解决了什么问题？为谁创造了价值？独特之处在哪里？请提出相关问题来明确价值点。",
	QuestionRisks:        "请帮助我们识别风险：可能遇到什么挑战？有什么潜在的风险因素？如何规避这些风险？请提出相关问题来全面评估风险。",
	QuestionGeneral:      "请基于我们讨论的想法，提出一个深入的、开放性的问题，帮助我们进一步探索和完善这个概念。",
}

// QuestionKinds 支持的提问类型
func QuestionKinds() []string {
	return []string{QuestionStakeholders, QuestionScenarios, QuestionFeasibility, QuestionValue, QuestionRisks, QuestionGeneral}
}

// insightIndicators 每类洞察的指示词
type insightIndicators struct {
	stakeholders, knowledge, implementation, value, risks []string
}

var explorationIndicators = map[analysis.Language]insightIndicators{
	analysis.Chinese: {
		stakeholders:   []string{"用户", "客户", "利益相关者", "受众", "合作伙伴", "群体"},
		knowledge:      []string{"技术", "知识", "专业", "法规", "算法", "领域"},
		implementation: []string{"资源", "组织", "预算", "团队", "成本", "周期", "实施"},
		value:          []string{"价值", "解决", "优势", "好处", "独特", "效率"},
		risks:          []string{"风险", "挑战", "障碍", "困难", "隐患"},
	},
	analysis.English: {
		stakeholders:   []string{"user", "users", "customer", "customers", "stakeholder", "stakeholders", "audience", "partner", "partners"},
		knowledge:      []string{"technology", "technical", "knowledge", "expertise", "regulation", "regulations", "domain"},
		implementation: []string{"resource", "resources", "budget", "team", "organization", "cost", "timeline", "implementation"},
		value:          []string{"value", "solve", "solves", "benefit", "benefits", "advantage", "unique"},
		risks:          []string{"risk", "risks", "challenge", "challenges", "obstacle", "obstacles"},
	},
}

// ExplorationResult 一轮探索的返回
type ExplorationResult struct {
	SessionID   string                     `json:"session_id"`
	Response    string                     `json:"response"`
	NewInsights models.ExplorationInsights `json:"new_insights"`
	Session     *models.ExplorationSession `json:"session"`
}

// ExplorationService 创意探索会话，多个会话并存
type ExplorationService struct {
	mu       sync.RWMutex
	sessions map[string]*models.ExplorationSession

	provider llm.Provider
	renderer templates.Renderer
	persist  Persistence
	opts     DialogueOptions
	logger   *utils.Logger
}

// NewExplorationService 创建探索服务
func NewExplorationService(provider llm.Provider, renderer templates.Renderer, persist Persistence, opts DialogueOptions, logger *utils.Logger) *ExplorationService {
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &ExplorationService{
		sessions: make(map[string]*models.ExplorationSession),
		provider: provider,
		renderer: renderer,
		persist:  persist,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// LoadAll 启动时加载已持久化的探索会话
func (s *ExplorationService) LoadAll() (int, error) {
	if s.persist == nil {
		return 0, nil
	}
	ids, err := s.persist.List(storage.CollectionExplorations)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	loaded := 0
	for _, id := range ids {
		var e models.ExplorationSession
		found, err := s.persist.Load(storage.CollectionExplorations, id, &e)
		if err != nil || !found || e.ID == "" {
			continue
		}
		s.sessions[e.ID] = &e
		loaded++
	}
	return loaded, nil
}

// Start 开始一个新的探索会话
func (s *ExplorationService) Start(idea string) (*models.ExplorationSession, error) {
	if strings.TrimSpace(idea) == "" {
		return nil, apperrors.NewValidationError("initial idea is required", nil)
	}
	session := models.NewExplorationSession(strings.TrimSpace(idea))

	s.mu.Lock()
	s.sessions[session.ID] = session
	snapshot := session.Clone()
	s.mu.Unlock()

	s.save(snapshot)
	s.logger.Info("exploration started", map[string]interface{}{
		"id":   session.ID,
		"idea": analysis.Truncate(idea, 100),
	})
	return snapshot, nil
}

// Get 返回会话副本
func (s *ExplorationService) Get(id string) (*models.ExplorationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("exploration session %s not found", id), nil)
	}
	return session.Clone(), nil
}

// List 按创建时间排序
func (s *ExplorationService) List() []*models.ExplorationSession {
	s.mu.RLock()
	out := make([]*models.ExplorationSession, 0, len(s.sessions))
	for _, e := range s.sessions {
		out = append(out, e.Clone())
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Delete 删除探索会话
func (s *ExplorationService) Delete(id string) error {
	s.mu.Lock()
	if _, ok := s.sessions[id]; !ok {
		s.mu.Unlock()
		return apperrors.NewNotFoundError(fmt.Sprintf("exploration session %s not found", id), nil)
	}
	delete(s.sessions, id)
	s.mu.Unlock()
	if s.persist != nil {
		if err := s.persist.Delete(storage.CollectionExplorations, id); err != nil && !apperrors.IsNotFoundError(err) {
			return err
		}
	}
	return nil
}

// Explore 一轮探索对话，并从回复中抽取洞察
func (s *ExplorationService) Explore(ctx context.Context, id, input string) (*ExplorationResult, error) {
	if strings.TrimSpace(input) == "" {
		return nil, apperrors.NewValidationError("exploration input is required", nil)
	}
	session, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	prompt, err := s.renderer.Render(templates.CreativeExploration, map[string]interface{}{
		"initial_idea": session.InitialIdea,
		"insights":     formatInsights(session.Insights),
	})
	if err != nil {
		return nil, err
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: prompt}}
	turns := session.Turns
	if len(turns) > explorationHistoryTurns {
		turns = turns[len(turns)-explorationHistoryTurns:]
	}
	for _, t := range turns {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: t.Input},
			llm.Message{Role: llm.RoleAssistant, Content: t.Response},
		)
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: input})

	timer := s.logger.StartTimer("exploration_turn")
	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		Messages:    messages,
		MaxTokens:   s.opts.MaxTokens,
		Temperature: llm.Float(s.opts.Temperature),
	})
	if err != nil {
		return nil, err
	}
	found := ExtractInsights(resp.Content)

	s.mu.Lock()
	live, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("exploration session %s not found", id), nil)
	}
	live.Turns = append(live.Turns, models.ExplorationTurn{
		Input:     input,
		Response:  resp.Content,
		Timestamp: time.Now(),
	})
	live.Insights = mergeInsights(live.Insights, found)
	live.UpdatedAt = time.Now()
	snapshot := live.Clone()
	s.mu.Unlock()

	s.save(snapshot)
	timer.Stop(map[string]interface{}{"session": id})
	return &ExplorationResult{
		SessionID:   id,
		Response:    resp.Content,
		NewInsights: found,
		Session:     snapshot,
	}, nil
}

// AskQuestion 生成一个指定类型的探索问题；未知类型按 general 处理
func (s *ExplorationService) AskQuestion(ctx context.Context, id, kind string) (string, error) {
	session, err := s.Get(id)
	if err != nil {
		return "", err
	}
	questionPrompt, ok := questionPrompts[kind]
	if !ok {
		kind = QuestionGeneral
		questionPrompt = questionPrompts[QuestionGeneral]
	}

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "你是一个专业的创意探索助手，擅长提出有洞察力的问题。请只提出一个简洁、具体、有深度的问题。"},
			{Role: llm.RoleUser, Content: fmt.Sprintf("当前想法：%s\n\n%s", session.InitialIdea, questionPrompt)},
		},
		MaxTokens:   200,
		Temperature: llm.Float(0.8),
	})
	if err != nil {
		return "", err
	}
	question := strings.TrimSpace(resp.Content)

	s.mu.Lock()
	var snapshot *models.ExplorationSession
	if live, ok := s.sessions[id]; ok {
		live.QuestionsAsked++
		live.UpdatedAt = time.Now()
		snapshot = live.Clone()
	}
	s.mu.Unlock()
	if snapshot != nil {
		s.save(snapshot)
	}
	s.logger.Debug("exploration question generated", map[string]interface{}{"session": id, "kind": kind})
	return question, nil
}

// RecordCharacter 记录由该探索生成的角色
func (s *ExplorationService) RecordCharacter(id, characterID string) error {
	s.mu.Lock()
	live, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return apperrors.NewNotFoundError(fmt.Sprintf("exploration session %s not found", id), nil)
	}
	live.AddCharacter(characterID)
	snapshot := live.Clone()
	s.mu.Unlock()
	s.save(snapshot)
	return nil
}

// Summary 探索总结与生成角色的准备程度
func (s *ExplorationService) Summary(id string) (*models.ExplorationSummary, error) {
	session, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	score, readiness := Readiness(session)
	summary := &models.ExplorationSummary{
		SessionID:      session.ID,
		InitialIdea:    session.InitialIdea,
		Insights:       session.Insights,
		TurnCount:      len(session.Turns),
		QuestionsAsked: session.QuestionsAsked,
		ReadinessScore: score,
		Readiness:      readiness,
	}
	summary.Text = formatExplorationSummary(*summary)
	return summary, nil
}

// Readiness 利益相关者、知识领域、实施环境各计 1 分，提问不少于 3 个再计 1 分
func Readiness(session *models.ExplorationSession) (int, models.Readiness) {
	score := 0
	if len(session.Insights.Stakeholders) > 0 {
		score++
	}
	if len(session.Insights.KnowledgeAreas) > 0 {
		score++
	}
	if len(session.Insights.ImplementationContext) > 0 {
		score++
	}
	if session.QuestionsAsked >= 3 {
		score++
	}
	switch {
	case score >= 3:
		return score, models.ReadinessReady
	case score == 2:
		return score, models.ReadinessPartial
	default:
		return score, models.ReadinessInsufficient
	}
}

// ExtractInsights 按指示词从回复中抽取各类洞察句
func ExtractInsights(text string) models.ExplorationInsights {
	lang := analysis.DetectLanguage(text)
	ind := explorationIndicators[lang]
	return models.ExplorationInsights{
		Stakeholders:          analysis.MatchingSentences(lang, text, ind.stakeholders, insightsPerTurn),
		KnowledgeAreas:        analysis.MatchingSentences(lang, text, ind.knowledge, insightsPerTurn),
		ImplementationContext: analysis.MatchingSentences(lang, text, ind.implementation, insightsPerTurn),
		ValuePropositions:     analysis.MatchingSentences(lang, text, ind.value, insightsPerTurn),
		Risks:                 analysis.MatchingSentences(lang, text, ind.risks, insightsPerTurn),
	}
}

func mergeInsights(dst, src models.ExplorationInsights) models.ExplorationInsights {
	return models.ExplorationInsights{
		Stakeholders:          mergeUnique(dst.Stakeholders, src.Stakeholders),
		KnowledgeAreas:        mergeUnique(dst.KnowledgeAreas, src.KnowledgeAreas),
		ImplementationContext: mergeUnique(dst.ImplementationContext, src.ImplementationContext),
		ValuePropositions:     mergeUnique(dst.ValuePropositions, src.ValuePropositions),
		Risks:                 mergeUnique(dst.Risks, src.Risks),
	}
}

func mergeUnique(dst, src []string) []string {
	out := append([]string{}, dst...)
	for _, item := range src {
		if len(out) >= maxInsightsPerKind {
			break
		}
		dup := false
		for _, existing := range out {
			if existing == item {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, item)
		}
	}
	return out
}

func formatInsights(in models.ExplorationInsights) string {
	var lines []string
	add := func(label string, items []string) {
		if len(items) > 0 {
			lines = append(lines, fmt.Sprintf("- %s：%s", label, strings.Join(items, "；")))
		}
	}
	add("利益相关者", in.Stakeholders)
	add("知识领域", in.KnowledgeAreas)
	add("实施环境", in.ImplementationContext)
	add("价值主张", in.ValuePropositions)
	add("风险", in.Risks)
	return strings.Join(lines, "\n")
}

func (s *ExplorationService) save(e *models.ExplorationSession) {
	if s.persist == nil {
		return
	}
	if err := s.persist.Save(storage.CollectionExplorations, e.ID, e); err != nil {
		s.logger.Warn("failed to persist exploration session", map[string]interface{}{"id": e.ID, "error": err})
	}
}
