// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/Corphon/PersonaKit/internal/analysis"
	"github.com/Corphon/PersonaKit/internal/api"
	"github.com/Corphon/PersonaKit/internal/config"
	"github.com/Corphon/PersonaKit/internal/llm"
	_ "github.com/Corphon/PersonaKit/internal/llm/providers"
	"github.com/Corphon/PersonaKit/internal/services"
	"github.com/Corphon/PersonaKit/internal/storage"
	"github.com/Corphon/PersonaKit/internal/templates"
	"github.com/Corphon/PersonaKit/internal/utils"
)

const (
	shutdownTimeout   = 30 * time.Second
	initializeTimeout = 15 * time.Second
	lockSweepInterval = 5 * time.Minute
	metricsInterval   = 5 * time.Minute
)

// App 应用程序实例，持有全部服务
type App struct {
	Config     *config.Config
	Logger     *utils.Logger
	Metrics    *utils.MetricsCollector
	Repository *storage.Repository

	LLM          *services.LLMService
	Characters   *services.CharacterService
	Dialogues    *services.DialogueService
	Validator    *services.Validator
	Integration  *services.IntegrationService
	Explorations *services.ExplorationService

	Handler *api.Handler

	router *gin.Engine
	cancel context.CancelFunc
}

// Option 构建选项
type Option func(*buildOptions)

type buildOptions struct {
	provider llm.Provider
	logger   *utils.Logger
}

// WithProvider 使用给定提供者替代配置中的提供者
func WithProvider(p llm.Provider) Option {
	return func(o *buildOptions) { o.provider = p }
}

// WithLogger 使用给定日志器
func WithLogger(l *utils.Logger) Option {
	return func(o *buildOptions) { o.logger = l }
}

// New 按依赖顺序创建全部服务并加载持久化数据
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	a := &App{Config: cfg, Logger: bo.logger}

	// 1. 日志与指标
	if a.Logger == nil {
		logger, err := utils.NewLogger(utils.LoggerOptions{
			Level: cfg.Logging.Level,
			File:  cfg.Logging.File,
			JSON:  cfg.Logging.JSON,
		})
		if err != nil {
			return nil, err
		}
		a.Logger = logger
	}
	a.Metrics = utils.NewMetricsCollector()

	// 2. 存储
	format, err := storage.ParseFormat(cfg.Storage.Format)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	repo, err := storage.NewRepository(storage.Options{
		BaseDir:   cfg.Storage.BasePath,
		Format:    format,
		CacheSize: cfg.Storage.CacheSize,
		Logger:    a.Logger,
	})
	if err != nil {
		return nil, err
	}
	a.Repository = repo

	// 3. 提供者
	if bo.provider != nil {
		a.LLM = services.NewLLMServiceWith(bo.provider, a.Logger, a.Metrics)
	} else {
		a.LLM = services.NewLLMService(cfg, a.Logger, a.Metrics)
	}
	if a.LLM.IsReady() {
		ctx, cancel := context.WithTimeout(context.Background(), initializeTimeout)
		if err := a.LLM.Initialize(ctx); err != nil {
			a.Logger.Warn("LLM provider initialization failed", map[string]interface{}{
				"provider": a.LLM.Name(),
				"error":    err,
			})
		}
		cancel()
	}

	// 4. 业务服务
	renderer := templates.MustRenderer()
	dialogueOpts := services.DialogueOptions{
		ContextWindow: cfg.Dialogue.ContextWindow,
		MaxHistory:    cfg.Dialogue.MaxHistory,
		MaxTokens:     cfg.Dialogue.MaxTokens,
		Temperature:   cfg.Dialogue.Temperature,
	}

	store := services.NewCharacterStore(repo, a.Logger)
	a.Characters = services.NewCharacterService(store, a.LLM, renderer, a.Logger)
	a.Dialogues = services.NewDialogueService(a.Characters, a.LLM, repo, dialogueOpts, a.Metrics, a.Logger)
	a.Validator = services.NewValidator(a.Characters, a.LLM, analysis.NewKeywordAnalyzer(), repo, services.ValidatorOptions{
		Timeout:    time.Duration(cfg.Concurrent.TimeoutSeconds) * time.Second,
		MaxWorkers: cfg.Concurrent.MaxWorkers,
	}, a.Metrics, a.Logger)
	a.Integration = services.NewIntegrationService(a.Validator, a.Logger)
	a.Explorations = services.NewExplorationService(a.LLM, renderer, repo, dialogueOpts, a.Logger)

	// 5. 加载持久化数据
	loaders := []struct {
		name string
		load func() (int, error)
	}{
		{"characters", store.LoadAll},
		{"dialogues", a.Dialogues.LoadAll},
		{"validations", a.Validator.LoadAll},
		{"explorations", a.Explorations.LoadAll},
	}
	for _, l := range loaders {
		n, err := l.load()
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", l.name, err)
		}
		a.Logger.Debug("Loaded persisted entities", map[string]interface{}{"collection": l.name, "count": n})
	}

	a.Handler = api.NewHandler(api.Services{
		Characters:   a.Characters,
		Dialogues:    a.Dialogues,
		Validator:    a.Validator,
		Integration:  a.Integration,
		Explorations: a.Explorations,
		Provider:     a.LLM,
		Metrics:      a.Metrics,
		Logger:       a.Logger,
	})

	a.Logger.Info("Application initialized", map[string]interface{}{
		"config":   cfg.Source,
		"provider": a.LLM.Name(),
		"ready":    a.LLM.IsReady(),
		"storage":  repo.BaseDir(),
	})
	return a, nil
}

// Router 懒加载 HTTP 路由
func (a *App) Router() *gin.Engine {
	if a.router == nil {
		a.router = api.SetupRouter(a.Handler, api.RouterOptions{
			Debug:     a.Config.Server.Debug,
			RateLimit: a.Config.Server.RateLimit,
		})
	}
	return a.router
}

// Start 启动后台任务：锁清理和周期指标输出，Close 时停止
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.Dialogues.Locks().StartCleanup(ctx, lockSweepInterval)
	a.Metrics.StartReporting(ctx, a.Logger, metricsInterval)
}

// Run 启动 HTTP 服务，ctx 取消后优雅关闭
func (a *App) Run(ctx context.Context) error {
	a.Start(ctx)
	defer a.Close()

	srv := &http.Server{
		Addr:              ":" + a.Config.Server.Port,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("HTTP server listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("Shutting down HTTP server", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.Handler.WebSocket.CloseAll()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close 停止后台任务并刷新日志
func (a *App) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	_ = a.Logger.Sync()
}
