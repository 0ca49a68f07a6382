// internal/llm/providers/anthropic/anthropic.go
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/llm"
)

const (
	providerName = "anthropic"
	envKey       = "ANTHROPIC_API_KEY"
	apiVersion   = "2023-06-01"
)

func init() {
	llm.Register(providerName, func() llm.Provider {
		return &Provider{
			recommendedModels: []string{
				"claude-3-5-sonnet-latest",
				"claude-3-7-sonnet-latest",
				"claude-3-5-haiku-latest",
			},
		}
	})
}

type Provider struct {
	opts              llm.Options
	recommendedModels []string

	mu          sync.Mutex
	initialized bool
	client      *http.Client
	endpoint    string
}

func (p *Provider) Name() string {
	return providerName
}

func (p *Provider) Configure(opts llm.Options) error {
	if opts.APIKey == "" {
		opts.APIKey = os.Getenv(envKey)
	}
	if opts.APIKey == "" {
		return apperrors.NewConfigError("Anthropic API密钥未提供（可设置 "+envKey+"）", nil)
	}
	if opts.Model == "" {
		opts.Model = p.recommendedModels[0]
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.anthropic.com"
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts = opts
	p.initialized = false
	return nil
}

func (p *Provider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}
	if p.opts.APIKey == "" {
		return apperrors.NewConfigError("Anthropic 尚未配置", nil)
	}
	u, err := url.Parse(p.opts.BaseURL)
	if err != nil || u.Host == "" {
		return apperrors.NewConnectionError(fmt.Sprintf("无效的接口地址: %q", p.opts.BaseURL), err)
	}
	p.endpoint = strings.TrimRight(p.opts.BaseURL, "/") + "/v1/messages"
	p.client = &http.Client{}
	p.initialized = true
	return nil
}

func (p *Provider) ListModels() []llm.ModelInfo {
	out := make([]llm.ModelInfo, 0, len(p.recommendedModels))
	for _, m := range p.recommendedModels {
		out = append(out, llm.ModelInfo{Name: m, Provider: providerName, MaxTokens: 8192, SupportsStreaming: true})
	}
	return out
}

// buildBody Anthropic 的 system 单独传递，消息只能是 user/assistant
func buildBody(req llm.CompletionRequest, stream bool) map[string]interface{} {
	system, rest := llm.SplitSystem(req.Messages)
	messages := make([]map[string]string, 0, len(rest))
	for _, m := range rest {
		messages = append(messages, map[string]string{"role": string(m.Role), "content": m.Content})
	}

	body := map[string]interface{}{
		"model":      req.Model,
		"messages":   messages,
		"max_tokens": req.MaxTokens,
	}
	if system != "" {
		body["system"] = system
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil && *req.TopP < 1 {
		body["top_p"] = *req.TopP
	}
	if len(req.Stop) > 0 {
		body["stop_sequences"] = req.Stop
	}
	if stream {
		body["stream"] = true
	}
	return body
}

func (p *Provider) send(ctx context.Context, req llm.CompletionRequest, stream bool) (*http.Response, llm.CompletionRequest, error) {
	if err := p.Initialize(ctx); err != nil {
		return nil, req, err
	}
	p.mu.Lock()
	opts, endpoint, client := p.opts, p.endpoint, p.client
	p.mu.Unlock()

	req = llm.ApplyDefaults(req, opts)
	jsonData, err := json.Marshal(buildBody(req, stream))
	if err != nil {
		return nil, req, apperrors.NewProviderError("序列化请求失败", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, req, apperrors.NewConnectionError("创建请求失败", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", opts.APIKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, req, llm.ClassifyTransportError(providerName, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, req, llm.ClassifyHTTPStatus(providerName, httpResp.StatusCode, body)
	}
	return httpResp, req, nil
}

func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	httpResp, req, err := p.send(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var response struct {
		Model      string `json:"model"`
		StopReason string `json:"stop_reason"`
		Content    []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, llm.ClassifyTransportError(providerName, fmt.Errorf("解析响应失败: %w", err))
	}

	var sb strings.Builder
	for _, c := range response.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, apperrors.NewProviderError("Anthropic未返回文本内容", nil)
	}

	model := response.Model
	if model == "" {
		model = req.Model
	}
	return &llm.CompletionResponse{
		Content:      sb.String(),
		FinishReason: response.StopReason,
		Model:        model,
		Provider:     providerName,
		Usage: &llm.Usage{
			PromptTokens:     response.Usage.InputTokens,
			CompletionTokens: response.Usage.OutputTokens,
			TotalTokens:      response.Usage.InputTokens + response.Usage.OutputTokens,
		},
	}, nil
}

// CompleteStream 处理 content_block_delta 事件，message_stop 结束
func (p *Provider) CompleteStream(ctx context.Context, req llm.CompletionRequest) (*llm.Stream, error) {
	httpResp, _, err := p.send(ctx, req, true)
	if err != nil {
		return nil, err
	}

	return llm.NewStream(ctx, func(ctx context.Context, emit llm.Emit) error {
		defer httpResp.Body.Close()
		stop := context.AfterFunc(ctx, func() { httpResp.Body.Close() })
		defer stop()

		return llm.ReadSSE(httpResp.Body, func(data string) (bool, error) {
			var event struct {
				Type  string `json:"type"`
				Delta struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"delta"`
				Error *struct {
					Type    string `json:"type"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				return true, nil
			}
			switch event.Type {
			case "content_block_delta":
				if event.Delta.Type == "text_delta" || event.Delta.Type == "text" {
					if !emit(event.Delta.Text) {
						return false, ctx.Err()
					}
				}
			case "message_stop":
				return false, nil
			case "error":
				if event.Error != nil && event.Error.Type == "overloaded_error" {
					return false, apperrors.NewQuotaExceededError(event.Error.Message, nil)
				}
				return false, apperrors.NewProviderError("Anthropic 流式错误", nil)
			}
			return true, nil
		}, providerName)
	}), nil
}
