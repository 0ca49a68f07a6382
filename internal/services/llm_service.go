// internal/services/llm_service.go
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Corphon/PersonaKit/internal/config"
	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/llm"
	"github.com/Corphon/PersonaKit/internal/utils"
)

// LLMService 持有当前提供者并实现 llm.Provider；切换提供者对所有服务即时生效
type LLMService struct {
	mu         sync.RWMutex
	provider   *llm.ManagedProvider
	name       string
	readyState string
	initErr    error
	logger     *utils.Logger
	metrics    *utils.MetricsCollector
}

var _ llm.Provider = (*LLMService)(nil)

// ProviderOptions 配置文件中的提供者设置转换为 llm.Options
func ProviderOptions(pc config.ProviderConfig) llm.Options {
	return llm.Options{
		APIKey:         pc.APIKey,
		APISecret:      pc.APISecret,
		Model:          pc.Model,
		BaseURL:        pc.BaseURL,
		MaxTokens:      pc.MaxTokens,
		Temperature:    pc.Temperature,
		TopP:           pc.TopP,
		TimeoutSeconds: pc.TimeoutSeconds,
	}
}

// NewLLMService 按配置创建当前提供者；配置不可用时服务仍可创建，调用时返回配置错误
func NewLLMService(cfg *config.Config, logger *utils.Logger, metrics *utils.MetricsCollector) *LLMService {
	if logger == nil {
		logger = utils.NopLogger()
	}
	s := &LLMService{logger: logger, metrics: metrics, readyState: "未配置"}

	name, pc := cfg.ActiveProvider()
	if err := s.UpdateProvider(name, pc); err != nil {
		logger.Warn("LLM provider not configured", map[string]interface{}{
			"provider": name,
			"key_env":  config.ProviderKeyEnv(name),
			"error":    err,
		})
	}
	return s
}

// NewLLMServiceWith 直接使用给定提供者，测试和 CLI 使用
func NewLLMServiceWith(p llm.Provider, logger *utils.Logger, metrics *utils.MetricsCollector) *LLMService {
	if logger == nil {
		logger = utils.NopLogger()
	}
	s := &LLMService{logger: logger, metrics: metrics}
	s.install(p, 0)
	return s
}

func (s *LLMService) install(p llm.Provider, timeout time.Duration) {
	managed, ok := p.(*llm.ManagedProvider)
	if !ok {
		managed = llm.Manage(p, timeout, s.logger, s.metrics)
	}
	s.mu.Lock()
	s.provider = managed
	s.name = p.Name()
	s.readyState = "已配置"
	s.initErr = nil
	s.mu.Unlock()
}

// UpdateProvider 切换提供者；失败时保留原提供者
func (s *LLMService) UpdateProvider(name string, pc config.ProviderConfig) error {
	p, err := llm.New(name, ProviderOptions(pc))
	if err != nil {
		s.mu.Lock()
		if s.provider == nil {
			s.name = name
			s.readyState = err.Error()
		}
		s.mu.Unlock()
		return err
	}
	s.install(p, time.Duration(pc.TimeoutSeconds)*time.Second)
	s.logger.Info("LLM provider configured", map[string]interface{}{
		"provider": name,
		"model":    pc.Model,
	})
	return nil
}

// IsReady 是否有可用的提供者
func (s *LLMService) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider != nil && s.initErr == nil
}

// GetReadyState 就绪状态说明
func (s *LLMService) GetReadyState() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.initErr != nil {
		return s.initErr.Error()
	}
	return s.readyState
}

func (s *LLMService) current() (*llm.ManagedProvider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.provider == nil {
		return nil, apperrors.NewConfigError(fmt.Sprintf("LLM provider %q is not configured: %s", s.name, s.readyState), nil)
	}
	return s.provider, nil
}

// Name 当前提供者名称
func (s *LLMService) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// Configure 重新配置当前提供者
func (s *LLMService) Configure(opts llm.Options) error {
	p, err := s.current()
	if err != nil {
		return err
	}
	return p.Configure(opts)
}

// Initialize 初始化当前提供者，结果记入就绪状态
func (s *LLMService) Initialize(ctx context.Context) error {
	p, err := s.current()
	if err != nil {
		return err
	}
	err = p.Initialize(ctx)
	s.mu.Lock()
	if s.provider == p {
		s.initErr = err
		if err == nil {
			s.readyState = "就绪"
		}
	}
	s.mu.Unlock()
	return err
}

// Complete 文本生成
func (s *LLMService) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p, err := s.current()
	if err != nil {
		return nil, err
	}
	return p.Complete(ctx, req)
}

// CompleteStream 流式生成
func (s *LLMService) CompleteStream(ctx context.Context, req llm.CompletionRequest) (*llm.Stream, error) {
	p, err := s.current()
	if err != nil {
		return nil, err
	}
	return p.CompleteStream(ctx, req)
}

// ListModels 当前提供者的模型列表，未配置时为空
func (s *LLMService) ListModels() []llm.ModelInfo {
	p, err := s.current()
	if err != nil {
		return []llm.ModelInfo{}
	}
	return p.ListModels()
}

// Status 状态快照
func (s *LLMService) Status() map[string]interface{} {
	return map[string]interface{}{
		"provider":     s.Name(),
		"ready":        s.IsReady(),
		"status":       s.GetReadyState(),
		"has_fallback": s.hasFallback(),
	}
}

func (s *LLMService) hasFallback() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider != nil && s.provider.HasFallback()
}
