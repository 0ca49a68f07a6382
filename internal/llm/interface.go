// internal/llm/interface.go
package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
)

// Role 消息角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// 请求默认值，提供者配置未指定时使用
const (
	DefaultMaxTokens   = 2000
	DefaultTemperature = 0.7
	DefaultTopP        = 1.0
)

// Message 一条对话消息
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest 统一请求结构
// Temperature/TopP 为 nil 表示未设置，由提供者配置补齐
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
	Model       string    `json:"model,omitempty"`
}

// Usage token 用量
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// CompletionResponse 统一响应结构
type CompletionResponse struct {
	Content      string                 `json:"content"`
	FinishReason string                 `json:"finishReason,omitempty"`
	Usage        *Usage                 `json:"usage,omitempty"`
	Model        string                 `json:"model,omitempty"`
	Provider     string                 `json:"provider,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Method 返回响应走的路径（primary 或 fallback）
func (r *CompletionResponse) Method() string {
	if r == nil || r.Metadata == nil {
		return ""
	}
	m, _ := r.Metadata["method"].(string)
	return m
}

// ModelInfo 模型描述
type ModelInfo struct {
	Name              string `json:"name"`
	Provider          string `json:"provider"`
	MaxTokens         int    `json:"maxTokens"`
	SupportsStreaming bool   `json:"supportsStreaming"`
}

// Options 提供者配置
type Options struct {
	APIKey         string
	APISecret      string
	Model          string
	BaseURL        string
	MaxTokens      int
	Temperature    float64
	TopP           float64
	TimeoutSeconds int
}

// Provider 定义所有LLM提供者必须实现的接口
type Provider interface {
	// 提供者名称
	Name() string

	// 接收配置；无法解析出密钥时返回 ConfigError
	Configure(opts Options) error

	// 建立客户端状态，幂等
	Initialize(ctx context.Context) error

	// 文本生成
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// 流式生成，返回的 Stream 不可重启
	CompleteStream(ctx context.Context, req CompletionRequest) (*Stream, error)

	// 支持的模型
	ListModels() []ModelInfo
}

// Float 构造可选浮点参数
func Float(v float64) *float64 {
	return &v
}

// ApplyDefaults 用提供者配置补齐请求中未设置的字段，调用方给出的值保持不变
func ApplyDefaults(req CompletionRequest, opts Options) CompletionRequest {
	if req.Model == "" {
		req.Model = opts.Model
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = opts.MaxTokens
		if req.MaxTokens <= 0 {
			req.MaxTokens = DefaultMaxTokens
		}
	}
	if req.Temperature == nil {
		t := opts.Temperature
		if t <= 0 {
			t = DefaultTemperature
		}
		req.Temperature = &t
	}
	if req.TopP == nil {
		p := opts.TopP
		if p <= 0 {
			p = DefaultTopP
		}
		req.TopP = &p
	}
	return req
}

// SplitSystem 拆出系统提示，部分后端需要单独传递
func SplitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// EstimateTokens 粗略估算 token 数
func EstimateTokens(text string) int {
	return len(text) / 4
}

// ValidateConnection 发送一个极小的请求确认后端可用
func ValidateConnection(ctx context.Context, p Provider) error {
	_, err := p.Complete(ctx, CompletionRequest{
		Messages:  []Message{{Role: RoleUser, Content: "ping"}},
		MaxTokens: 5,
	})
	return err
}

// ProviderFactory 创建未配置的提供者实例
type ProviderFactory func() Provider

var (
	registryMu sync.RWMutex
	providers  = make(map[string]ProviderFactory)
)

// Register 注册提供者工厂，在提供者包的 init 中调用
func Register(name string, factory ProviderFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	providers[strings.ToLower(name)] = factory
}

// New 按名称创建并配置提供者
func New(name string, opts Options) (Provider, error) {
	registryMu.RLock()
	factory, exists := providers[strings.ToLower(name)]
	registryMu.RUnlock()
	if !exists {
		return nil, apperrors.NewConfigError(fmt.Sprintf("未知的提供者: %s", name), nil)
	}

	provider := factory()
	if err := provider.Configure(opts); err != nil {
		return nil, err
	}
	return provider, nil
}

// ListProviders 返回所有已注册的提供者名称
func ListProviders() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
