// internal/services/validator.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Corphon/PersonaKit/internal/analysis"
	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/llm"
	"github.com/Corphon/PersonaKit/internal/models"
	"github.com/Corphon/PersonaKit/internal/storage"
	"github.com/Corphon/PersonaKit/internal/templates"
	"github.com/Corphon/PersonaKit/internal/utils"
)

const (
	ModeConcurrent = "concurrent"
	ModeSequential = "sequential"
)

// Validator 同一问题并发询问多个角色并比较结果
type Validator struct {
	mu       sync.RWMutex
	sessions map[string]*models.ValidationSession

	characters *CharacterService
	provider   llm.Provider
	renderer   templates.Renderer
	analyzer   analysis.TextAnalyzer
	persist    Persistence
	opts       ValidatorOptions
	metrics    *utils.MetricsCollector
	logger     *utils.Logger
}

// NewValidator analyzer 为 nil 时使用关键词分析
func NewValidator(characters *CharacterService, provider llm.Provider, analyzer analysis.TextAnalyzer, persist Persistence, opts ValidatorOptions, metrics *utils.MetricsCollector, logger *utils.Logger) *Validator {
	if analyzer == nil {
		analyzer = analysis.NewKeywordAnalyzer()
	}
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &Validator{
		sessions:   make(map[string]*models.ValidationSession),
		characters: characters,
		provider:   provider,
		renderer:   characters.renderer,
		analyzer:   analyzer,
		persist:    persist,
		opts:       opts.withDefaults(),
		metrics:    metrics,
		logger:     logger,
	}
}

// Analyzer 当前使用的文本分析策略
func (v *Validator) Analyzer() analysis.TextAnalyzer {
	return v.analyzer
}

// LoadAll 启动时加载已持久化的验证会话
func (v *Validator) LoadAll() (int, error) {
	if v.persist == nil {
		return 0, nil
	}
	ids, err := v.persist.List(storage.CollectionValidations)
	if err != nil {
		return 0, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	loaded := 0
	for _, id := range ids {
		var s models.ValidationSession
		found, err := v.persist.Load(storage.CollectionValidations, id, &s)
		if err != nil || !found || s.ID == "" {
			continue
		}
		if s.Results == nil {
			s.Results = map[string]models.CharacterResult{}
		}
		v.sessions[s.ID] = &s
		loaded++
	}
	return loaded, nil
}

// resolve 按顺序取角色，返回第一个不存在的 ID 对应的错误
func (v *Validator) resolve(ids []string) ([]*models.Character, error) {
	out := make([]*models.Character, 0, len(ids))
	for _, id := range ids {
		c, err := v.characters.Store().Get(id)
		if err != nil {
			if apperrors.IsNotFoundError(err) {
				return nil, apperrors.NewNotFoundError(fmt.Sprintf("character %s not found", id), err)
			}
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// CreateSession 创建验证会话；角色类型少于两种时只记录警告
func (v *Validator) CreateSession(question string, characterIDs []string) (*models.ValidationSession, error) {
	if strings.TrimSpace(question) == "" {
		return nil, apperrors.NewValidationError("question is required", nil)
	}
	ids := dedupe(characterIDs)
	if len(ids) == 0 {
		return nil, apperrors.NewValidationError("at least one character is required", nil)
	}
	chars, err := v.resolve(ids)
	if err != nil {
		return nil, err
	}

	session := models.NewValidationSession(question, ids)
	types := make(map[models.CharacterType]struct{})
	for _, c := range chars {
		types[c.Type] = struct{}{}
	}
	if len(types) < 2 {
		warning := fmt.Sprintf("panel has %d distinct character type(s); consensus analysis is less meaningful", len(types))
		session.Warnings = append(session.Warnings, warning)
		v.logger.Warn("homogeneous validation panel", map[string]interface{}{
			"session": session.ID,
			"types":   len(types),
		})
	}

	v.mu.Lock()
	v.sessions[session.ID] = session
	snapshot := session.Clone()
	v.mu.Unlock()

	v.save(snapshot)
	return snapshot, nil
}

// GetSession 返回会话副本
func (v *Validator) GetSession(id string) (*models.ValidationSession, error) {
	v.mu.RLock()
	s, ok := v.sessions[id]
	var out *models.ValidationSession
	if ok {
		out = s.Clone()
	}
	v.mu.RUnlock()
	if ok {
		return out, nil
	}
	return nil, apperrors.NewNotFoundError(fmt.Sprintf("validation session %s not found", id), nil)
}

// ListSessions 按创建时间排序
func (v *Validator) ListSessions() []*models.ValidationSession {
	v.mu.RLock()
	out := make([]*models.ValidationSession, 0, len(v.sessions))
	for _, s := range v.sessions {
		out = append(out, s.Clone())
	}
	v.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// DeleteSession 删除验证会话
func (v *Validator) DeleteSession(id string) error {
	v.mu.Lock()
	if _, ok := v.sessions[id]; !ok {
		v.mu.Unlock()
		return apperrors.NewNotFoundError(fmt.Sprintf("validation session %s not found", id), nil)
	}
	delete(v.sessions, id)
	v.mu.Unlock()
	if v.persist != nil {
		if err := v.persist.Delete(storage.CollectionValidations, id); err != nil && !apperrors.IsNotFoundError(err) {
			return err
		}
	}
	return nil
}

// prepare 取会话与参与角色；ids 为空时使用会话中的全部角色
func (v *Validator) prepare(sessionID string, ids []string) (*models.ValidationSession, []*models.Character, error) {
	session, err := v.GetSession(sessionID)
	if err != nil {
		return nil, nil, err
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		ids = session.CharacterIDs
	}
	chars, err := v.resolve(ids)
	if err != nil {
		return nil, nil, err
	}
	return session, chars, nil
}

// ask 一次独立的临时生成请求，不保留任何角色级状态
func (v *Validator) ask(ctx context.Context, question string, c *models.Character) (string, error) {
	systemPrompt, err := v.characters.CharacterPrompt(c)
	if err != nil {
		return "", err
	}
	userPrompt, err := v.renderer.Render(templates.ConcurrentValidation, map[string]interface{}{
		"question":             question,
		"character_name":       c.Name,
		"character_type":       string(c.Type),
		"character_type_label": templates.TypeLabel(c.Type),
		"character_background": characterBackground(c),
	})
	if err != nil {
		return "", err
	}
	resp, err := v.provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: userPrompt},
		},
		MaxTokens:   v.opts.MaxTokens,
		Temperature: llm.Float(0.7),
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func characterBackground(c *models.Character) string {
	lines := []string{fmt.Sprintf("%s（%s）", c.Name, templates.TypeLabel(c.Type))}
	if c.Info.Background != "" {
		lines = append(lines, "背景："+c.Info.Background)
	}
	if c.Expertise.ProfessionalField != "" {
		lines = append(lines, "专业领域："+c.Expertise.ProfessionalField)
	}
	if c.Context.Goals != "" {
		lines = append(lines, "目标："+c.Context.Goals)
	}
	return strings.Join(lines, "\n")
}

// outcome 单个角色调用的结果
type outcome struct {
	result   apperrors.Result[string]
	duration time.Duration
}

// RunConcurrent 并行询问每个角色，共享一个截止时间
// 截止时间到达时整体返回 TimeoutError，不返回部分结果
// 单个角色失败只记录在该角色的结果中，全部失败时返回 ProviderError
func (v *Validator) RunConcurrent(ctx context.Context, sessionID string, characterIDs []string) (*models.ValidationRun, error) {
	session, chars, err := v.prepare(sessionID, characterIDs)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	v.metrics.IncrementCounter(utils.MetricValidationRuns)

	deadlineCtx, cancel := context.WithTimeout(ctx, v.opts.Timeout)
	defer cancel()

	outcomes := make([]outcome, len(chars))
	// 槽位在各自的 goroutine 里等待，排队的角色同样受截止时间约束
	var slots chan struct{}
	if v.opts.MaxWorkers > 0 && v.opts.MaxWorkers < len(chars) {
		slots = make(chan struct{}, v.opts.MaxWorkers)
	}
	var g errgroup.Group
	for i, c := range chars {
		g.Go(func() error {
			if slots != nil {
				select {
				case slots <- struct{}{}:
					defer func() { <-slots }()
				case <-deadlineCtx.Done():
					outcomes[i] = outcome{result: apperrors.FromError[string](
						llm.ClassifyTransportError("validator", deadlineCtx.Err()))}
					return nil
				}
			}
			callStart := time.Now()
			text, err := v.ask(deadlineCtx, session.Question, c)
			outcomes[i] = outcome{
				result:   apperrors.FromError[string](err),
				duration: time.Since(callStart),
			}
			if err == nil {
				outcomes[i].result = apperrors.Ok(text)
			}
			// 单个失败不取消其他角色
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
		if deadlineCtx.Err() != nil && anyFailed(outcomes) {
			return nil, v.deadlineError(ctx, session, len(chars))
		}
	case <-deadlineCtx.Done():
		return nil, v.deadlineError(ctx, session, len(chars))
	}

	return v.finish(session, chars, outcomes, ModeConcurrent, start)
}

// respondingTypes 成功回答的角色类型，按角色 ID 排序
func respondingTypes(session *models.ValidationSession, typeOf map[string]models.CharacterType) []models.CharacterType {
	ids := make([]string, 0, len(session.Results))
	for id, r := range session.Results {
		if !r.Failed() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]models.CharacterType, 0, len(ids))
	for _, id := range ids {
		if t := typeOf[id]; t != "" {
			out = append(out, t)
		}
	}
	return out
}

func anyFailed(outcomes []outcome) bool {
	for _, o := range outcomes {
		if !o.result.IsOk() {
			return true
		}
	}
	return false
}

// deadlineError 区分共享截止时间到期和调用方取消
func (v *Validator) deadlineError(parent context.Context, session *models.ValidationSession, n int) error {
	if parent.Err() != nil && !errors.Is(parent.Err(), context.DeadlineExceeded) {
		return llm.ClassifyTransportError("validator", parent.Err())
	}
	v.metrics.IncrementCounter(utils.MetricValidationTimeouts)
	v.logger.Warn("validation run timed out", map[string]interface{}{
		"session":    session.ID,
		"characters": n,
		"timeout":    v.opts.Timeout.String(),
	})
	return apperrors.NewTimeoutError(
		fmt.Sprintf("validation %s did not complete within %s", session.ID, v.opts.Timeout), context.DeadlineExceeded)
}

// RunSequential 逐个询问，用于与并发结果对照；同样受共享截止时间约束
func (v *Validator) RunSequential(ctx context.Context, sessionID string, characterIDs []string) (*models.ValidationRun, error) {
	session, chars, err := v.prepare(sessionID, characterIDs)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	v.metrics.IncrementCounter(utils.MetricValidationRuns)

	deadlineCtx, cancel := context.WithTimeout(ctx, v.opts.Timeout)
	defer cancel()

	outcomes := make([]outcome, len(chars))
	for i, c := range chars {
		callStart := time.Now()
		text, err := v.ask(deadlineCtx, session.Question, c)
		if deadlineCtx.Err() != nil {
			return nil, v.deadlineError(ctx, session, len(chars))
		}
		outcomes[i] = outcome{result: apperrors.FromError[string](err), duration: time.Since(callStart)}
		if err == nil {
			outcomes[i].result = apperrors.Ok(text)
		}
	}
	return v.finish(session, chars, outcomes, ModeSequential, start)
}

// finish 汇总结果，写回会话并持久化
func (v *Validator) finish(session *models.ValidationSession, chars []*models.Character, outcomes []outcome, mode string, start time.Time) (*models.ValidationRun, error) {
	results := make(map[string]models.CharacterResult, len(chars))
	responses := make(map[string]string, len(chars))
	var firstErr error
	for i, c := range chars {
		o := outcomes[i]
		r := models.CharacterResult{CharacterID: c.ID, DurationMs: o.duration.Milliseconds()}
		text, err := o.result.Value()
		if err != nil {
			r.Error = err.Error()
			r.ErrorKind = string(o.result.Kind())
			if firstErr == nil {
				firstErr = err
			}
			v.logger.Warn("character validation failed", map[string]interface{}{
				"session":   session.ID,
				"character": c.ID,
				"kind":      r.ErrorKind,
			})
		} else {
			r.Response = text
			responses[c.ID] = text
		}
		results[c.ID] = r
	}

	if len(responses) == 0 && len(chars) > 0 {
		return nil, apperrors.NewProviderError(
			fmt.Sprintf("all %d characters failed to respond", len(chars)), firstErr)
	}

	typeOf := make(map[string]models.CharacterType, len(session.CharacterIDs)+len(chars))
	for _, id := range session.CharacterIDs {
		_, typeOf[id] = v.label(id)
	}
	for _, c := range chars {
		typeOf[c.ID] = c.Type
	}

	v.mu.Lock()
	live, ok := v.sessions[session.ID]
	if !ok {
		v.mu.Unlock()
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("validation session %s not found", session.ID), nil)
	}
	for id, r := range results {
		live.Results[id] = r
	}
	summary := v.analyzer.Summarize(live.Responses())
	summary.Recommendations = analysis.Recommendations(analysis.Language(summary.Language), respondingTypes(live, typeOf))
	live.Analysis = &summary
	if live.Status() == models.ValidationComplete && live.CompletedAt == nil {
		now := time.Now()
		live.CompletedAt = &now
	}
	snapshot := live.Clone()
	v.mu.Unlock()

	v.save(snapshot)

	run := &models.ValidationRun{
		SessionID:  session.ID,
		Question:   session.Question,
		Responses:  responses,
		Results:    results,
		Analysis:   snapshot.Analysis,
		Mode:       mode,
		DurationMs: time.Since(start).Milliseconds(),
		Timestamp:  time.Now(),
	}
	v.logger.Info("validation run finished", map[string]interface{}{
		"session":    session.ID,
		"mode":       mode,
		"responses":  len(responses),
		"failed":     len(results) - len(responses),
		"durationMs": run.DurationMs,
	})
	return run, nil
}

// ComparePerspectives 每个成功角色的情感、立场与要点，加上共有词与一致度
func (v *Validator) ComparePerspectives(sessionID string) (*models.PerspectiveComparison, error) {
	session, err := v.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	responses := session.ResponseMap()
	if len(responses) == 0 {
		return nil, apperrors.NewValidationError("validation session has no responses yet", nil)
	}

	ids := make([]string, 0, len(responses))
	for id := range responses {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := &models.PerspectiveComparison{
		SessionID:    session.ID,
		Question:     session.Question,
		Perspectives: make([]models.Perspective, 0, len(ids)),
	}
	texts := make([]string, 0, len(ids))
	for _, id := range ids {
		out.Perspectives = append(out.Perspectives, v.perspective(id, responses[id]))
		texts = append(texts, responses[id])
	}
	out.CommonPoints = analysis.CommonWords(texts, 10)
	out.ConsensusLevel = analysis.Consensus(texts)
	return out, nil
}

// GetCharacterPerspective 单个角色的观点分析
func (v *Validator) GetCharacterPerspective(sessionID, characterID string) (*models.Perspective, error) {
	session, err := v.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	r, ok := session.Results[characterID]
	if !ok || r.Failed() {
		return nil, apperrors.NewNotFoundError(
			fmt.Sprintf("no response from character %s in session %s", characterID, sessionID), nil)
	}
	p := v.perspective(characterID, r.Response)
	return &p, nil
}

func (v *Validator) perspective(characterID, response string) models.Perspective {
	name, typ := v.label(characterID)
	return models.Perspective{
		CharacterID:   characterID,
		CharacterName: name,
		CharacterType: typ,
		Analysis:      v.analyzer.Perspective(response),
	}
}

// label 角色已被删除时退回 ID
func (v *Validator) label(characterID string) (string, models.CharacterType) {
	if c, err := v.characters.Store().Get(characterID); err == nil {
		return c.Name, c.Type
	}
	return characterID, ""
}

// Panel 会话的成功回答，供整合分析使用
func (v *Validator) Panel(sessionID string) (analysis.Panel, error) {
	session, err := v.GetSession(sessionID)
	if err != nil {
		return analysis.Panel{}, err
	}
	ids := make([]string, 0, len(session.Results))
	for id, r := range session.Results {
		if !r.Failed() {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return analysis.Panel{}, apperrors.NewValidationError("validation session has no responses yet", nil)
	}
	sort.Strings(ids)

	panel := analysis.Panel{SessionID: session.ID, Question: session.Question}
	for _, id := range ids {
		name, typ := v.label(id)
		panel.Responses = append(panel.Responses, analysis.PanelResponse{
			CharacterID:   id,
			CharacterName: name,
			CharacterType: typ,
			Response:      session.Results[id].Response,
		})
	}
	return panel, nil
}

func (v *Validator) save(s *models.ValidationSession) {
	if v.persist == nil {
		return
	}
	if err := v.persist.Save(storage.CollectionValidations, s.ID, s); err != nil {
		v.logger.Warn("failed to persist validation session", map[string]interface{}{"id": s.ID, "error": err})
	}
}
