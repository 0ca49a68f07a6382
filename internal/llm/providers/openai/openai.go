// internal/llm/providers/openai/openai.go
package openai

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/llm"
)

// Spec 描述一个 OpenAI 兼容后端
type Spec struct {
	Name         string
	EnvKey       string
	BaseURL      string
	DefaultModel string
	Models       []string
	MaxTokens    int
	Headers      map[string]string
}

// 同一协议的后端共享实现，差别只在地址、密钥和模型列表
var specs = []Spec{
	{
		Name:         "openai",
		EnvKey:       "OPENAI_API_KEY",
		BaseURL:      "https://api.openai.com/v1",
		DefaultModel: "gpt-4o-mini",
		Models:       []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "o3-mini"},
		MaxTokens:    16384,
	},
	{
		Name:         "openrouter",
		EnvKey:       "OPENROUTER_API_KEY",
		BaseURL:      "https://openrouter.ai/api/v1",
		DefaultModel: "qwen/qwen3-235b-a22b:free",
		Models:       []string{"qwen/qwen3-235b-a22b:free", "mistralai/devstral-2512:free", "nousresearch/hermes-3-llama-3.1-405b:free"},
		MaxTokens:    8192,
		Headers:      map[string]string{"X-Title": "PersonaKit"},
	},
	{
		Name:         "grok",
		EnvKey:       "XAI_API_KEY",
		BaseURL:      "https://api.x.ai/v1",
		DefaultModel: "grok-3-mini",
		Models:       []string{"grok-4", "grok-4-fast", "grok-3", "grok-3-mini"},
		MaxTokens:    8192,
	},
	{
		Name:         "qwen",
		EnvKey:       "DASHSCOPE_API_KEY",
		BaseURL:      "https://dashscope.aliyuncs.com/compatible-mode/v1",
		DefaultModel: "qwen2.5-plus",
		Models:       []string{"qwen2.5-max", "qwen2.5-plus", "qwq-32b"},
		MaxTokens:    8192,
	},
	{
		Name:         "githubmodels",
		EnvKey:       "GITHUB_TOKEN",
		BaseURL:      "https://models.inference.ai.azure.com",
		DefaultModel: "gpt-4o",
		Models:       []string{"gpt-4o", "o1", "o3-mini", "Phi-4"},
		MaxTokens:    4096,
	},
}

func init() {
	for _, s := range specs {
		s := s
		llm.Register(s.Name, func() llm.Provider { return New(s) })
	}
}

// Provider OpenAI 兼容提供者
type Provider struct {
	spec Spec
	opts llm.Options

	mu          sync.Mutex
	initialized bool
	client      *http.Client
	chat        *llm.ChatClient
	sign        func(r *http.Request)
}

// New 创建未配置的提供者
func New(spec Spec) *Provider {
	return &Provider{spec: spec}
}

func (p *Provider) Name() string {
	return p.spec.Name
}

// Configure 解析密钥：配置优先，其次环境变量
func (p *Provider) Configure(opts llm.Options) error {
	if opts.APIKey == "" && p.spec.EnvKey != "" {
		opts.APIKey = os.Getenv(p.spec.EnvKey)
	}
	if opts.APIKey == "" {
		return apperrors.NewConfigError(fmt.Sprintf("%s API密钥未提供（可设置 %s）", p.spec.Name, p.spec.EnvKey), nil)
	}
	if opts.Model == "" {
		opts.Model = p.spec.DefaultModel
	}
	if opts.BaseURL == "" {
		opts.BaseURL = p.spec.BaseURL
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts = opts
	p.initialized = false
	return nil
}

// Options 返回当前配置
func (p *Provider) Options() llm.Options {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts
}

// Initialize 创建带连接池的 HTTP 客户端，重复调用无副作用
func (p *Provider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}
	if p.opts.APIKey == "" {
		return apperrors.NewConfigError(fmt.Sprintf("%s 尚未配置", p.spec.Name), nil)
	}
	endpoint, err := ChatEndpoint(p.opts.BaseURL)
	if err != nil {
		return err
	}

	p.client = &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	p.chat = &llm.ChatClient{
		Provider: p.spec.Name,
		Endpoint: endpoint,
		APIKey:   p.opts.APIKey,
		HTTP:     p.client,
		Headers:  p.spec.Headers,
		Sign:     p.sign,
	}
	p.initialized = true
	return nil
}

// SetRequestHook 设置每个请求发送前的钩子，需在 Initialize 之前调用
func (p *Provider) SetRequestHook(fn func(r *http.Request)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sign = fn
	p.initialized = false
}

// ChatEndpoint 由 base_url 拼出 chat/completions 地址
func ChatEndpoint(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", apperrors.NewConnectionError(fmt.Sprintf("无效的接口地址: %q", baseURL), err)
	}
	return strings.TrimRight(baseURL, "/") + "/chat/completions", nil
}

func (p *Provider) ready(ctx context.Context) (*llm.ChatClient, llm.Options, error) {
	if err := p.Initialize(ctx); err != nil {
		return nil, llm.Options{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chat, p.opts, nil
}

func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	chat, opts, err := p.ready(ctx)
	if err != nil {
		return nil, err
	}
	return chat.Complete(ctx, llm.ApplyDefaults(req, opts))
}

func (p *Provider) CompleteStream(ctx context.Context, req llm.CompletionRequest) (*llm.Stream, error) {
	chat, opts, err := p.ready(ctx)
	if err != nil {
		return nil, err
	}
	return chat.Stream(ctx, llm.ApplyDefaults(req, opts))
}

func (p *Provider) ListModels() []llm.ModelInfo {
	models := make([]llm.ModelInfo, 0, len(p.spec.Models))
	for _, m := range p.spec.Models {
		models = append(models, llm.ModelInfo{
			Name:              m,
			Provider:          p.spec.Name,
			MaxTokens:         p.spec.MaxTokens,
			SupportsStreaming: true,
		})
	}
	return models
}

// CloseIdleConnections 释放连接池
func (p *Provider) CloseIdleConnections() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.CloseIdleConnections()
	}
}
