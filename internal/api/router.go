// internal/api/router.go
package api

import (
	"time"

	"github.com/gin-gonic/gin"
)

// RouterOptions 路由配置
type RouterOptions struct {
	Debug     bool
	RateLimit int // 每分钟每个 IP 的请求数，<=0 不限流
}

// SetupRouter 配置HTTP路由
func SetupRouter(h *Handler, opts RouterOptions) *gin.Engine {
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog(h.svc.Logger, h.svc.Metrics), corsMiddleware())

	r.GET("/health", h.Health)

	// WebSocket 流式对话
	r.GET("/ws/dialogues/:id", h.DialogueWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	if opts.RateLimit > 0 {
		api.Use(NewRateLimiter(opts.RateLimit, time.Minute).Middleware(h.Response))
	}
	{
		api.GET("/metrics", h.GetMetrics)
		api.GET("/ws/status", h.GetWebSocketStatus)

		providers := api.Group("/providers")
		{
			providers.GET("", h.GetProviders)
			providers.GET("/models", h.GetProviderModels)
		}

		// ===============================
		// 角色
		// ===============================
		characters := api.Group("/characters")
		{
			characters.GET("", h.ListCharacters)
			characters.POST("", h.CreateCharacter)
			characters.POST("/generate", h.GenerateCharacter)
			characters.GET("/:id", h.GetCharacter)
			characters.PUT("/:id", h.UpdateCharacter)
			characters.DELETE("/:id", h.DeleteCharacter)
			characters.POST("/:id/refine", h.RefineCharacter)
			characters.GET("/:id/validate", h.ValidateCharacter)
			characters.GET("/:id/prompt", h.GetCharacterPrompt)
		}

		// ===============================
		// 对话
		// ===============================
		dialogues := api.Group("/dialogues")
		{
			dialogues.GET("", h.ListDialogues)
			dialogues.POST("", h.CreateDialogue)
			dialogues.GET("/:id", h.GetDialogue)
			dialogues.DELETE("/:id", h.DeleteDialogue)
			dialogues.GET("/:id/messages", h.GetDialogueMessages)
			dialogues.POST("/:id/messages", h.SendMessage)
			dialogues.POST("/:id/continue", h.ContinueDialogue)
			dialogues.POST("/:id/summary", h.SummarizeDialogue)
		}

		// ===============================
		// 并发验证与决策支持
		// ===============================
		validations := api.Group("/validations")
		{
			validations.GET("", h.ListValidations)
			validations.POST("", h.CreateValidation)
			validations.GET("/:id", h.GetValidation)
			validations.DELETE("/:id", h.DeleteValidation)
			validations.POST("/:id/run", h.RunValidation)
			validations.GET("/:id/compare", h.ComparePerspectives)
			validations.GET("/:id/perspectives/:character_id", h.GetPerspective)
			validations.GET("/:id/insights", h.GetInsights)
			validations.GET("/:id/report", h.GetReport)
			validations.GET("/:id/risks", h.GetRisks)
			validations.GET("/:id/actions", h.GetActionItems)
			validations.GET("/:id/roadmap", h.GetRoadmap)
		}

		// ===============================
		// 创意探索
		// ===============================
		explorations := api.Group("/explorations")
		{
			explorations.GET("", h.ListExplorations)
			explorations.POST("", h.StartExploration)
			explorations.GET("/:id", h.GetExploration)
			explorations.DELETE("/:id", h.DeleteExploration)
			explorations.POST("/:id/explore", h.Explore)
			explorations.POST("/:id/questions", h.AskQuestion)
			explorations.GET("/:id/summary", h.GetExplorationSummary)
		}
	}

	return r
}
