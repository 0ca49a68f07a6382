// internal/services/dialogue_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/llm"
	"github.com/Corphon/PersonaKit/internal/models"
	"github.com/Corphon/PersonaKit/internal/storage"
	"github.com/Corphon/PersonaKit/internal/templates"
	"github.com/Corphon/PersonaKit/internal/utils"
)

const (
	summaryWindow       = 20
	defaultContinuation = "请继续。"
)

// DialogueService 管理与单个角色的多轮对话
// 同一对话的并发 SendMessage 不排队，调用方负责串行化
type DialogueService struct {
	mu        sync.RWMutex
	dialogues map[string]*models.Dialogue

	locks      *LockManager
	characters *CharacterService
	provider   llm.Provider
	renderer   templates.Renderer
	persist    Persistence
	opts       DialogueOptions
	metrics    *utils.MetricsCollector
	logger     *utils.Logger
}

// NewDialogueService 创建对话服务
func NewDialogueService(characters *CharacterService, provider llm.Provider, persist Persistence, opts DialogueOptions, metrics *utils.MetricsCollector, logger *utils.Logger) *DialogueService {
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &DialogueService{
		dialogues:  make(map[string]*models.Dialogue),
		locks:      NewLockManager(),
		characters: characters,
		provider:   provider,
		renderer:   characters.renderer,
		persist:    persist,
		opts:       opts.withDefaults(),
		metrics:    metrics,
		logger:     logger,
	}
}

// Options 生效的对话参数
func (s *DialogueService) Options() DialogueOptions {
	return s.opts
}

// Locks 对话持久化使用的锁
func (s *DialogueService) Locks() *LockManager {
	return s.locks
}

// LoadAll 启动时加载已持久化的对话
func (s *DialogueService) LoadAll() (int, error) {
	if s.persist == nil {
		return 0, nil
	}
	ids, err := s.persist.List(storage.CollectionDialogues)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	loaded := 0
	for _, id := range ids {
		var d models.Dialogue
		found, err := s.persist.Load(storage.CollectionDialogues, id, &d)
		if err != nil {
			s.logger.Warn("skip unreadable dialogue", map[string]interface{}{"id": id, "error": err})
			continue
		}
		if !found || d.ID == "" {
			continue
		}
		s.dialogues[d.ID] = &d
		loaded++
	}
	return loaded, nil
}

// Create 新建对话；角色不存在时返回 NotFoundError
func (s *DialogueService) Create(characterID, title string) (*models.Dialogue, error) {
	c, err := s.characters.Store().Get(characterID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(title) == "" {
		title = fmt.Sprintf("与%s的对话", c.Name)
	}
	d := models.NewDialogue(characterID, title)

	s.mu.Lock()
	s.dialogues[d.ID] = d
	snapshot := d.Clone()
	s.mu.Unlock()

	s.persistDialogue(d.ID)
	s.logger.Info("dialogue created", map[string]interface{}{"id": d.ID, "character": characterID})
	return snapshot, nil
}

// Get 返回对话副本
func (s *DialogueService) Get(id string) (*models.Dialogue, error) {
	s.mu.RLock()
	d, ok := s.dialogues[id]
	var out *models.Dialogue
	if ok {
		out = d.Clone()
	}
	s.mu.RUnlock()
	if ok {
		return out, nil
	}

	if s.persist != nil && id != "" {
		var loaded models.Dialogue
		found, err := s.persist.Load(storage.CollectionDialogues, id, &loaded)
		if err != nil && !apperrors.IsValidationError(err) {
			return nil, err
		}
		if found && loaded.ID == id {
			s.mu.Lock()
			defer s.mu.Unlock()
			if existing, ok := s.dialogues[id]; ok {
				return existing.Clone(), nil
			}
			s.dialogues[id] = &loaded
			return loaded.Clone(), nil
		}
	}
	return nil, apperrors.NewNotFoundError(fmt.Sprintf("dialogue %s not found", id), nil)
}

// GetHistory 完整历史；limit>0 时只返回最后 limit 条
func (s *DialogueService) GetHistory(id string, limit int) ([]models.Message, error) {
	d, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return append([]models.Message{}, d.LastMessages(limit)...), nil
}

// turn 一次生成所需的输入快照
type turn struct {
	dialogueID  string
	characterID string
	context     []models.Message
	userMessage models.Message
}

// beginTurn 追加用户消息，并截取生成用的上下文窗口
func (s *DialogueService) beginTurn(id, content string, withPlaceholder bool) (turn, models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return turn{}, models.Message{}, apperrors.NewValidationError("message content is required", nil)
	}
	if _, err := s.Get(id); err != nil {
		return turn{}, models.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dialogues[id]
	if !ok {
		return turn{}, models.Message{}, apperrors.NewNotFoundError(fmt.Sprintf("dialogue %s not found", id), nil)
	}

	t := turn{
		dialogueID:  id,
		characterID: d.CharacterID,
		context:     contextWindow(d.Messages, s.opts.ContextWindow),
		userMessage: models.NewMessage(models.RoleUser, content),
	}
	d.Messages = append(d.Messages, t.userMessage)

	var placeholder models.Message
	if withPlaceholder {
		placeholder = models.NewMessage(models.RoleAssistant, "")
		placeholder.Metadata = map[string]interface{}{"streaming": true}
		d.Messages = append(d.Messages, placeholder)
	}
	d.State = models.DialogueAwaitingReply
	touch(d)
	return t, placeholder, nil
}

// contextWindow 最近 n 条非空消息；存储的历史不受影响
func contextWindow(messages []models.Message, n int) []models.Message {
	out := make([]models.Message, 0, n)
	for i := len(messages) - 1; i >= 0 && len(out) < n; i-- {
		if messages[i].Content == "" {
			continue
		}
		out = append(out, messages[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func touch(d *models.Dialogue) {
	now := time.Now()
	if !now.After(d.UpdatedAt) {
		now = d.UpdatedAt.Add(time.Nanosecond)
	}
	d.UpdatedAt = now
}

// buildRequest 角色系统提示 + 上下文窗口 + 新消息
func (s *DialogueService) buildRequest(t turn) (llm.CompletionRequest, error) {
	c, err := s.characters.Store().Get(t.characterID)
	if err != nil {
		return llm.CompletionRequest{}, err
	}
	characterPrompt, err := s.characters.CharacterPrompt(c)
	if err != nil {
		return llm.CompletionRequest{}, err
	}
	system, err := s.renderer.Render(templates.DialogueResponse, map[string]interface{}{
		"character_prompt": characterPrompt,
		"character_name":   c.Name,
		"instructions":     "",
	})
	if err != nil {
		return llm.CompletionRequest{}, err
	}

	messages := make([]llm.Message, 0, len(t.context)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, m := range t.context {
		messages = append(messages, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: t.userMessage.Content})

	return llm.CompletionRequest{
		Messages:    messages,
		MaxTokens:   s.opts.MaxTokens,
		Temperature: llm.Float(s.opts.Temperature),
	}, nil
}

// SendMessage 追加用户消息并生成回复；失败时用户消息保留
func (s *DialogueService) SendMessage(ctx context.Context, id, content string) (*models.Message, error) {
	t, _, err := s.beginTurn(id, content, false)
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementCounter(utils.MetricDialogueMessages)

	req, err := s.buildRequest(t)
	if err != nil {
		s.endTurn(id, nil)
		return nil, err
	}

	resp, err := s.provider.Complete(ctx, req)
	if err != nil {
		s.endTurn(id, nil)
		s.logger.Warn("dialogue turn failed", map[string]interface{}{
			"dialogue": id,
			"kind":     string(apperrors.KindOf(err)),
			"error":    err,
		})
		return nil, err
	}

	reply := models.NewMessage(models.RoleAssistant, resp.Content)
	reply.Metadata = responseMetadata(resp)
	s.endTurn(id, &reply)
	return &reply, nil
}

// endTurn 追加回复（可为空），回到 Idle 并持久化
func (s *DialogueService) endTurn(id string, reply *models.Message) {
	s.mu.Lock()
	if d, ok := s.dialogues[id]; ok {
		if reply != nil {
			d.Messages = append(d.Messages, *reply)
		}
		d.State = models.DialogueIdle
		touch(d)
	}
	s.mu.Unlock()
	s.persistDialogue(id)
}

func responseMetadata(resp *llm.CompletionResponse) map[string]interface{} {
	md := map[string]interface{}{
		"model":    resp.Model,
		"provider": resp.Provider,
	}
	if resp.Usage != nil {
		md["total_tokens"] = resp.Usage.TotalTokens
	}
	if method := resp.Method(); method != "" {
		md["method"] = method
	}
	return md
}

// SendMessageStream 先追加占位回复，流结束或被取消时整体替换为已收到的内容
func (s *DialogueService) SendMessageStream(ctx context.Context, id, content string, onFragment func(StreamEvent)) (*models.Message, error) {
	t, placeholder, err := s.beginTurn(id, content, true)
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementCounter(utils.MetricDialogueMessages)

	req, err := s.buildRequest(t)
	if err != nil {
		s.finalizeStream(id, placeholder.ID, "", err)
		return nil, err
	}

	stream, err := s.provider.CompleteStream(ctx, req)
	if err != nil {
		s.finalizeStream(id, placeholder.ID, "", err)
		return nil, err
	}

	var sb strings.Builder
	var streamErr error
	for {
		fragment, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			streamErr = err
			stream.Close()
			break
		}
		sb.WriteString(fragment)
		if onFragment != nil {
			onFragment(StreamEvent{DialogueID: id, MessageID: placeholder.ID, Fragment: fragment})
		}
	}
	if streamErr == nil && ctx.Err() != nil {
		streamErr = ctx.Err()
	}

	final := s.finalizeStream(id, placeholder.ID, sb.String(), streamErr)
	if onFragment != nil {
		onFragment(StreamEvent{DialogueID: id, MessageID: placeholder.ID, Done: true})
	}
	if streamErr != nil {
		if errors.Is(streamErr, context.Canceled) || errors.Is(streamErr, context.DeadlineExceeded) {
			streamErr = llm.ClassifyTransportError(s.provider.Name(), streamErr)
		}
		return final, streamErr
	}
	return final, nil
}

// finalizeStream 替换占位消息；出错且没有任何内容时移除占位
func (s *DialogueService) finalizeStream(id, placeholderID, content string, streamErr error) *models.Message {
	s.mu.Lock()
	var out *models.Message
	if d, ok := s.dialogues[id]; ok {
		for i := range d.Messages {
			if d.Messages[i].ID != placeholderID {
				continue
			}
			if content == "" && streamErr != nil {
				d.Messages = append(d.Messages[:i], d.Messages[i+1:]...)
				break
			}
			msg := models.Message{
				ID:        placeholderID,
				Role:      models.RoleAssistant,
				Content:   content,
				Timestamp: time.Now(),
				Metadata:  map[string]interface{}{"streamed": true},
			}
			if streamErr != nil {
				msg.Metadata["partial"] = true
				msg.Metadata["error"] = streamErr.Error()
			}
			d.Messages[i] = msg
			cp := msg
			out = &cp
			break
		}
		d.State = models.DialogueIdle
		touch(d)
	}
	s.mu.Unlock()
	s.persistDialogue(id)
	return out
}

// ContinueDialogue 让角色接着上一轮继续；prompt 为空时使用默认提示
func (s *DialogueService) ContinueDialogue(ctx context.Context, id, prompt string) (*models.Message, error) {
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultContinuation
	}
	return s.SendMessage(ctx, id, prompt)
}

// SummarizeDialogue 总结最近的消息，状态置为 Summarized
func (s *DialogueService) SummarizeDialogue(ctx context.Context, id string) (*models.DialogueSummary, error) {
	d, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if len(d.Messages) == 0 {
		return nil, apperrors.NewValidationError("dialogue has no messages to summarize", nil)
	}

	window := summaryWindow
	if s.opts.MaxHistory < window {
		window = s.opts.MaxHistory
	}
	recent := d.LastMessages(window)

	name := d.CharacterID
	if c, err := s.characters.Store().Get(d.CharacterID); err == nil {
		name = c.Name
	}
	prompt, err := s.renderer.Render(templates.DialogueSummary, map[string]interface{}{
		"character_name": name,
		"messages":       recent,
	})
	if err != nil {
		return nil, err
	}

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "你是对话分析专家，擅长提炼对话要点。"},
			{Role: llm.RoleUser, Content: prompt},
		},
		MaxTokens:   500,
		Temperature: llm.Float(0.3),
	})
	if err != nil {
		return nil, err
	}

	summary := parseDialogueSummary(resp.Content)
	summary.MessageCount = len(d.Messages)
	summary.DurationSecs = d.Messages[len(d.Messages)-1].Timestamp.Sub(d.Messages[0].Timestamp).Seconds()
	summary.CreatedAt = time.Now()

	s.mu.Lock()
	if live, ok := s.dialogues[id]; ok {
		cp := summary
		cp.KeyTopics = append([]string(nil), summary.KeyTopics...)
		live.Summary = &cp
		live.State = models.DialogueSummarized
		touch(live)
	}
	s.mu.Unlock()
	s.persistDialogue(id)
	return &summary, nil
}

var summaryLabels = map[string][]string{
	"summary":   {"总结", "summary"},
	"topics":    {"关键话题", "key topics", "topics"},
	"sentiment": {"情感倾向", "sentiment"},
}

// parseDialogueSummary 解析 "标签：内容" 格式；找不到总结行时整段作为总结
func parseDialogueSummary(content string) models.DialogueSummary {
	out := models.DialogueSummary{KeyTopics: []string{}, Sentiment: "neutral"}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*# "))
		key, value, ok := splitLabel(line)
		if !ok {
			continue
		}
		switch key {
		case "summary":
			out.Summary = value
		case "topics":
			for _, t := range strings.FieldsFunc(value, func(r rune) bool {
				return r == ',' || r == '，' || r == '、' || r == ';' || r == '；'
			}) {
				if t = strings.TrimSpace(t); t != "" {
					out.KeyTopics = append(out.KeyTopics, t)
				}
			}
		case "sentiment":
			v := strings.ToLower(value)
			switch {
			case strings.Contains(v, "positive") || strings.Contains(v, "积极"):
				out.Sentiment = "positive"
			case strings.Contains(v, "negative") || strings.Contains(v, "消极"):
				out.Sentiment = "negative"
			}
		}
	}
	if out.Summary == "" {
		out.Summary = strings.TrimSpace(content)
	}
	return out
}

func splitLabel(line string) (string, string, bool) {
	idx := strings.IndexAny(line, ":：")
	if idx <= 0 {
		return "", "", false
	}
	label := strings.ToLower(strings.TrimSpace(line[:idx]))
	rest := line[idx:]
	if strings.HasPrefix(rest, "：") {
		rest = strings.TrimPrefix(rest, "：")
	} else {
		rest = strings.TrimPrefix(rest, ":")
	}
	for key, labels := range summaryLabels {
		for _, l := range labels {
			if label == l {
				return key, strings.TrimSpace(rest), true
			}
		}
	}
	return "", "", false
}

// List 按创建时间排序；characterID 为空时返回全部
func (s *DialogueService) List(characterID string) []*models.Dialogue {
	s.mu.RLock()
	out := make([]*models.Dialogue, 0, len(s.dialogues))
	for _, d := range s.dialogues {
		if characterID == "" || d.CharacterID == characterID {
			out = append(out, d.Clone())
		}
	}
	s.mu.RUnlock()
	sortDialogues(out)
	return out
}

// Search 标题或消息内容匹配
func (s *DialogueService) Search(query string) []*models.Dialogue {
	s.mu.RLock()
	out := make([]*models.Dialogue, 0)
	for _, d := range s.dialogues {
		if d.Matches(query) {
			out = append(out, d.Clone())
		}
	}
	s.mu.RUnlock()
	sortDialogues(out)
	return out
}

// Delete 删除对话及其持久化文件
func (s *DialogueService) Delete(id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	return s.locks.With(id, func() error {
		s.mu.Lock()
		delete(s.dialogues, id)
		s.mu.Unlock()
		if s.persist != nil {
			if err := s.persist.Delete(storage.CollectionDialogues, id); err != nil && !apperrors.IsNotFoundError(err) {
				return err
			}
		}
		s.logger.Info("dialogue deleted", map[string]interface{}{"id": id})
		return nil
	})
}

// persistDialogue 尽力持久化；在对话锁内取快照，保证后写入的总是较新的状态
func (s *DialogueService) persistDialogue(id string) {
	if s.persist == nil {
		return
	}
	err := s.locks.With(id, func() error {
		s.mu.RLock()
		d, ok := s.dialogues[id]
		var snapshot *models.Dialogue
		if ok {
			snapshot = d.Clone()
		}
		s.mu.RUnlock()
		if !ok {
			return nil
		}
		return s.persist.Save(storage.CollectionDialogues, id, snapshot)
	})
	if err != nil {
		s.logger.Warn("failed to persist dialogue", map[string]interface{}{"id": id, "error": err})
	}
}

func sortDialogues(ds []*models.Dialogue) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].CreatedAt.Equal(ds[j].CreatedAt) {
			return ds[i].ID < ds[j].ID
		}
		return ds[i].CreatedAt.Before(ds[j].CreatedAt)
	})
}
