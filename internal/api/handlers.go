// internal/api/handlers.go
package api

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/llm"
	"github.com/Corphon/PersonaKit/internal/models"
	"github.com/Corphon/PersonaKit/internal/services"
	"github.com/Corphon/PersonaKit/internal/utils"
)

// Services 处理器依赖的服务集合，由 app 组装后传入
type Services struct {
	Characters   *services.CharacterService
	Dialogues    *services.DialogueService
	Validator    *services.Validator
	Integration  *services.IntegrationService
	Explorations *services.ExplorationService
	Provider     llm.Provider
	Metrics      *utils.MetricsCollector
	Logger       *utils.Logger
}

// Handler 处理API请求
type Handler struct {
	svc       Services
	Response  *ResponseHelper
	WebSocket *WebSocketManager
	startedAt time.Time
}

// NewHandler 创建API处理器
func NewHandler(svc Services) *Handler {
	if svc.Logger == nil {
		svc.Logger = utils.NopLogger()
	}
	return &Handler{
		svc:       svc,
		Response:  NewResponseHelper(),
		WebSocket: NewWebSocketManager(svc.Logger),
		startedAt: time.Now(),
	}
}

// bind 解析 JSON 请求体，失败时写出 400
func (h *Handler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return false
	}
	return true
}

// ========================================
// 系统
// ========================================

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	provider := ""
	if h.svc.Provider != nil {
		provider = h.svc.Provider.Name()
	}
	h.Response.Success(c, gin.H{
		"status":         "ok",
		"provider":       provider,
		"characters":     h.svc.Characters.Store().Count(),
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	})
}

// GetMetrics 指标快照
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, h.svc.Metrics.GetMetrics())
}

// GetProviders 已注册的提供者与当前提供者
func (h *Handler) GetProviders(c *gin.Context) {
	active := ""
	if h.svc.Provider != nil {
		active = h.svc.Provider.Name()
	}
	resp := gin.H{
		"active":    active,
		"available": llm.ListProviders(),
	}
	if s, ok := h.svc.Provider.(interface{ Status() map[string]interface{} }); ok {
		resp["status"] = s.Status()
	}
	h.Response.Success(c, resp)
}

// GetProviderModels 当前提供者支持的模型
func (h *Handler) GetProviderModels(c *gin.Context) {
	if h.svc.Provider == nil {
		h.Response.Success(c, []llm.ModelInfo{})
		return
	}
	list := h.svc.Provider.ListModels()
	if list == nil {
		list = []llm.ModelInfo{}
	}
	h.Response.Success(c, list)
}

// GetWebSocketStatus WebSocket 连接状态
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	h.Response.Success(c, h.WebSocket.GetStatus())
}

// ========================================
// 角色
// ========================================

// CreateCharacterRequest 创建角色；template 为 true 时以该类型模板为底
type CreateCharacterRequest struct {
	Name        string                     `json:"name" binding:"required"`
	Type        string                     `json:"type" binding:"required"`
	Description string                     `json:"description"`
	Template    bool                       `json:"template"`
	Info        *models.CharacterInfo      `json:"info,omitempty"`
	Context     *models.CharacterContext   `json:"context,omitempty"`
	Expertise   *models.CharacterExpertise `json:"expertise,omitempty"`
	Behavior    *models.CharacterBehavior  `json:"behavior,omitempty"`
	Response    *models.ResponseGuidelines `json:"response,omitempty"`
	Tags        []string                   `json:"tags,omitempty"`
}

func (r CreateCharacterRequest) update() models.CharacterUpdate {
	upd := models.CharacterUpdate{
		Info:      r.Info,
		Context:   r.Context,
		Expertise: r.Expertise,
		Behavior:  r.Behavior,
		Response:  r.Response,
		Tags:      r.Tags,
	}
	if r.Description != "" {
		upd.Description = &r.Description
	}
	return upd
}

func parseType(s string) (models.CharacterType, error) {
	typ, ok := models.ParseCharacterType(s)
	if !ok {
		return "", apperrors.NewValidationError("invalid character type: "+s, nil)
	}
	return typ, nil
}

// ListCharacters 角色列表，支持 type 过滤与 q 搜索
func (h *Handler) ListCharacters(c *gin.Context) {
	store := h.svc.Characters.Store()
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		h.Response.Success(c, store.Search(q))
		return
	}
	var typ models.CharacterType
	if raw := c.Query("type"); raw != "" {
		t, err := parseType(raw)
		if err != nil {
			h.Response.FromError(c, err)
			return
		}
		typ = t
	}
	h.Response.Success(c, store.List(typ))
}

// CreateCharacter 手动创建角色
func (h *Handler) CreateCharacter(c *gin.Context) {
	var req CreateCharacterRequest
	if !h.bind(c, &req) {
		return
	}
	typ, err := parseType(req.Type)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}

	var created *models.Character
	if req.Template {
		created, err = h.svc.Characters.CreateFromTemplate(typ, req.Name, req.update())
	} else {
		ch := models.NewCharacter(req.Name, typ, req.Description)
		applyFacets(ch, req)
		created, err = h.svc.Characters.Store().Create(ch)
	}
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Created(c, created, "角色创建成功")
}

func applyFacets(ch *models.Character, req CreateCharacterRequest) {
	if req.Info != nil {
		ch.Info = *req.Info
		if ch.Info.Name == "" {
			ch.Info.Name = ch.Name
		}
	}
	if req.Context != nil {
		ch.Context = *req.Context
	}
	if req.Expertise != nil {
		ch.Expertise = *req.Expertise
	}
	if req.Behavior != nil {
		ch.Behavior = *req.Behavior
	}
	if req.Response != nil {
		ch.Response = *req.Response
	}
	if req.Tags != nil {
		ch.Tags = req.Tags
	}
}

// GetCharacter 角色详情
func (h *Handler) GetCharacter(c *gin.Context) {
	ch, err := h.svc.Characters.Store().Get(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, ch)
}

// UpdateCharacter 局部更新
func (h *Handler) UpdateCharacter(c *gin.Context) {
	var upd models.CharacterUpdate
	if !h.bind(c, &upd) {
		return
	}
	ch, err := h.svc.Characters.Store().Update(c.Param("id"), upd)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, ch, "角色更新成功")
}

// DeleteCharacter 删除角色
func (h *Handler) DeleteCharacter(c *gin.Context) {
	if err := h.svc.Characters.Store().Delete(c.Param("id")); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"id": c.Param("id")}, "角色已删除")
}

// GenerateCharacterRequest AI 生成角色；type 为空时生成三种类型的一组
type GenerateCharacterRequest struct {
	ExplorationID string `json:"exploration_id"`
	Idea          string `json:"idea"`
	Type          string `json:"type"`
	Requirements  string `json:"requirements"`
}

// GenerateCharacter 基于探索总结或一句想法生成角色
func (h *Handler) GenerateCharacter(c *gin.Context) {
	var req GenerateCharacterRequest
	if !h.bind(c, &req) {
		return
	}

	summary := models.ExplorationSummary{InitialIdea: req.Idea}
	if req.ExplorationID != "" {
		s, err := h.svc.Explorations.Summary(req.ExplorationID)
		if err != nil {
			h.Response.FromError(c, err)
			return
		}
		summary = *s
	} else if strings.TrimSpace(req.Idea) == "" {
		h.Response.BadRequest(c, "请求参数错误", "exploration_id or idea is required")
		return
	}

	var generated []*models.Character
	if req.Type == "" {
		set, err := h.svc.Characters.GenerateCharacterSet(c.Request.Context(), summary, nil)
		if err != nil {
			h.Response.FromError(c, err)
			return
		}
		generated = set
	} else {
		typ, err := parseType(req.Type)
		if err != nil {
			h.Response.FromError(c, err)
			return
		}
		ch, err := h.svc.Characters.GenerateCharacter(c.Request.Context(), summary, typ, req.Requirements)
		if err != nil {
			h.Response.FromError(c, err)
			return
		}
		generated = []*models.Character{ch}
	}

	if req.ExplorationID != "" {
		for _, ch := range generated {
			if err := h.svc.Explorations.RecordCharacter(req.ExplorationID, ch.ID); err != nil {
				h.svc.Logger.Warn("failed to record generated character", map[string]interface{}{
					"exploration": req.ExplorationID,
					"character":   ch.ID,
					"error":       err,
				})
			}
		}
	}
	h.Response.Created(c, generated, "角色生成成功")
}

// RefineCharacter 根据反馈优化角色
func (h *Handler) RefineCharacter(c *gin.Context) {
	var req struct {
		Feedback string `json:"feedback" binding:"required"`
		Aspect   string `json:"aspect"`
	}
	if !h.bind(c, &req) {
		return
	}
	ch, err := h.svc.Characters.RefineCharacter(c.Request.Context(), c.Param("id"), req.Feedback, req.Aspect)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, ch, "角色优化成功")
}

// ValidateCharacter 完整性与一致性检查
func (h *Handler) ValidateCharacter(c *gin.Context) {
	ch, err := h.svc.Characters.Store().Get(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, h.svc.Characters.ValidateCharacter(ch))
}

// GetCharacterPrompt 角色系统提示
func (h *Handler) GetCharacterPrompt(c *gin.Context) {
	ch, err := h.svc.Characters.Store().Get(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	prompt, err := h.svc.Characters.CharacterPrompt(ch)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"character_id": ch.ID, "prompt": prompt})
}

// ========================================
// 对话
// ========================================

// ListDialogues 对话列表，支持 character_id 过滤与 q 搜索
func (h *Handler) ListDialogues(c *gin.Context) {
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		h.Response.Success(c, h.svc.Dialogues.Search(q))
		return
	}
	h.Response.Success(c, h.svc.Dialogues.List(c.Query("character_id")))
}

// CreateDialogue 与角色开始对话
func (h *Handler) CreateDialogue(c *gin.Context) {
	var req struct {
		CharacterID string `json:"character_id" binding:"required"`
		Title       string `json:"title"`
	}
	if !h.bind(c, &req) {
		return
	}
	d, err := h.svc.Dialogues.Create(req.CharacterID, req.Title)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Created(c, d, "对话创建成功")
}

// GetDialogue 对话详情
func (h *Handler) GetDialogue(c *gin.Context) {
	d, err := h.svc.Dialogues.Get(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, d)
}

// GetDialogueMessages 对话历史，limit 取最近 N 条
func (h *Handler) GetDialogueMessages(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		h.Response.BadRequest(c, "limit 参数无效")
		return
	}
	history, err := h.svc.Dialogues.GetHistory(c.Param("id"), limit)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, history)
}

// SendMessage 发送消息并返回角色回复
func (h *Handler) SendMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if !h.bind(c, &req) {
		return
	}
	reply, err := h.svc.Dialogues.SendMessage(c.Request.Context(), c.Param("id"), req.Content)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, reply)
}

// ContinueDialogue 让角色继续
func (h *Handler) ContinueDialogue(c *gin.Context) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	// 请求体可以为空
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}
	reply, err := h.svc.Dialogues.ContinueDialogue(c.Request.Context(), c.Param("id"), req.Prompt)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, reply)
}

// SummarizeDialogue 总结对话
func (h *Handler) SummarizeDialogue(c *gin.Context) {
	summary, err := h.svc.Dialogues.SummarizeDialogue(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, summary)
}

// DeleteDialogue 删除对话
func (h *Handler) DeleteDialogue(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.Dialogues.Delete(id); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.WebSocket.CloseDialogue(id)
	h.Response.Success(c, gin.H{"id": id}, "对话已删除")
}

// ========================================
// 并发验证
// ========================================

// ListValidations 验证会话列表
func (h *Handler) ListValidations(c *gin.Context) {
	h.Response.Success(c, h.svc.Validator.ListSessions())
}

// CreateValidation 创建验证会话
func (h *Handler) CreateValidation(c *gin.Context) {
	var req struct {
		Question     string   `json:"question" binding:"required"`
		CharacterIDs []string `json:"character_ids" binding:"required"`
	}
	if !h.bind(c, &req) {
		return
	}
	s, err := h.svc.Validator.CreateSession(req.Question, req.CharacterIDs)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Created(c, s, "验证会话创建成功")
}

// GetValidation 验证会话详情
func (h *Handler) GetValidation(c *gin.Context) {
	s, err := h.svc.Validator.GetSession(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"session": s, "status": s.Status()})
}

// DeleteValidation 删除验证会话
func (h *Handler) DeleteValidation(c *gin.Context) {
	if err := h.svc.Validator.DeleteSession(c.Param("id")); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"id": c.Param("id")}, "验证会话已删除")
}

// RunValidation 运行验证；mode 为 sequential 时逐个调用
func (h *Handler) RunValidation(c *gin.Context) {
	var req struct {
		Mode         string   `json:"mode"`
		CharacterIDs []string `json:"character_ids"`
	}
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}

	var (
		run *models.ValidationRun
		err error
	)
	switch req.Mode {
	case "", services.ModeConcurrent:
		run, err = h.svc.Validator.RunConcurrent(c.Request.Context(), c.Param("id"), req.CharacterIDs)
	case services.ModeSequential:
		run, err = h.svc.Validator.RunSequential(c.Request.Context(), c.Param("id"), req.CharacterIDs)
	default:
		h.Response.BadRequest(c, "不支持的运行模式", req.Mode)
		return
	}
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, run)
}

// ComparePerspectives 各角色观点对比
func (h *Handler) ComparePerspectives(c *gin.Context) {
	cmp, err := h.svc.Validator.ComparePerspectives(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, cmp)
}

// GetPerspective 单个角色的观点
func (h *Handler) GetPerspective(c *gin.Context) {
	p, err := h.svc.Validator.GetCharacterPerspective(c.Param("id"), c.Param("character_id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, p)
}

// GetInsights 会话洞察
func (h *Handler) GetInsights(c *gin.Context) {
	insights, err := h.svc.Integration.AnalyzeSession(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, insights)
}

// GetReport 决策报告
func (h *Handler) GetReport(c *gin.Context) {
	report, err := h.svc.Integration.GenerateDecisionReport(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, report)
}

// GetRisks 风险矩阵
func (h *Handler) GetRisks(c *gin.Context) {
	risks, err := h.svc.Integration.AssessRiskMatrix(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, risks)
}

// GetActionItems 行动项，priority 过滤
func (h *Handler) GetActionItems(c *gin.Context) {
	items, err := h.svc.Integration.IdentifyActionItems(c.Param("id"), c.Query("priority"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, items)
}

// GetRoadmap 实施路线图
func (h *Handler) GetRoadmap(c *gin.Context) {
	months, err := strconv.Atoi(c.DefaultQuery("months", "12"))
	if err != nil {
		h.Response.BadRequest(c, "months 参数无效")
		return
	}
	roadmap, err := h.svc.Integration.GenerateRoadmap(c.Param("id"), months)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, roadmap)
}

// ========================================
// 创意探索
// ========================================

// ListExplorations 探索会话列表
func (h *Handler) ListExplorations(c *gin.Context) {
	h.Response.Success(c, h.svc.Explorations.List())
}

// StartExploration 开始探索
func (h *Handler) StartExploration(c *gin.Context) {
	var req struct {
		Idea string `json:"idea" binding:"required"`
	}
	if !h.bind(c, &req) {
		return
	}
	s, err := h.svc.Explorations.Start(req.Idea)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Created(c, s, "探索会话已开始")
}

// GetExploration 探索会话详情
func (h *Handler) GetExploration(c *gin.Context) {
	s, err := h.svc.Explorations.Get(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, s)
}

// DeleteExploration 删除探索会话
func (h *Handler) DeleteExploration(c *gin.Context) {
	if err := h.svc.Explorations.Delete(c.Param("id")); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"id": c.Param("id")}, "探索会话已删除")
}

// Explore 一轮探索
func (h *Handler) Explore(c *gin.Context) {
	var req struct {
		Input string `json:"input" binding:"required"`
	}
	if !h.bind(c, &req) {
		return
	}
	res, err := h.svc.Explorations.Explore(c.Request.Context(), c.Param("id"), req.Input)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, res)
}

// AskQuestion 生成探索问题
func (h *Handler) AskQuestion(c *gin.Context) {
	var req struct {
		Kind string `json:"kind"`
	}
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}
	q, err := h.svc.Explorations.AskQuestion(c.Request.Context(), c.Param("id"), req.Kind)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"question": q, "kind": req.Kind})
}

// GetExplorationSummary 探索总结
func (h *Handler) GetExplorationSummary(c *gin.Context) {
	s, err := h.svc.Explorations.Summary(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, s)
}
