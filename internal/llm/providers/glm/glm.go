// internal/llm/providers/glm/glm.go
package glm

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/llm"
	"github.com/Corphon/PersonaKit/internal/llm/providers/openai"
)

const providerName = "zhipu"

var spec = openai.Spec{
	Name:         providerName,
	EnvKey:       "ZHIPU_API_KEY",
	BaseURL:      "https://open.bigmodel.cn/api/paas/v4/",
	DefaultModel: "glm-4",
	Models:       []string{"glm-4", "glm-4-flash", "glm-4-air", "glm-4-long"},
	MaxTokens:    8192,
}

func init() {
	llm.Register("zhipu", func() llm.Provider { return New() })
	llm.Register("glm", func() llm.Provider { return New() })
}

// Provider 智谱GLM：主路径复用带连接池的兼容客户端，失败时通过 DirectComplete 直连
type Provider struct {
	*openai.Provider
}

// New 创建未配置的智谱提供者
func New() *Provider {
	return &Provider{Provider: openai.New(spec)}
}

// Configure 配置密钥；提供 api_secret 时为每个请求附加签名头
func (p *Provider) Configure(opts llm.Options) error {
	if err := p.Provider.Configure(opts); err != nil {
		return err
	}
	if opts.APISecret != "" {
		key, secret := p.Options().APIKey, opts.APISecret
		p.SetRequestHook(func(r *http.Request) {
			signRequest(r, key, secret, time.Now().Unix())
		})
	}
	return nil
}

// 创建智谱API所需的签名
func createSignature(apiKey, apiSecret string, timestamp int64) string {
	h := hmac.New(sha256.New, []byte(apiSecret))
	h.Write([]byte(fmt.Sprintf("%s\n%d", apiKey, timestamp)))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func signRequest(r *http.Request, apiKey, apiSecret string, timestamp int64) {
	r.Header.Set("X-ZhipuAI-Timestamp", fmt.Sprintf("%d", timestamp))
	r.Header.Set("X-ZhipuAI-Signature", createSignature(apiKey, apiSecret, timestamp))
}

// DirectComplete 最小直连路径：新建无连接复用的客户端，POST {base_url}chat/completions
func (p *Provider) DirectComplete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	opts := p.Options()
	req = llm.ApplyDefaults(req, opts)

	baseURL := opts.BaseURL
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	messages := make([]map[string]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]string{"role": string(m.Role), "content": m.Content})
	}
	payload := map[string]interface{}{
		"model":       req.Model,
		"messages":    messages,
		"max_tokens":  req.MaxTokens,
		"temperature": *req.Temperature,
		"stream":      false,
	}
	if req.TopP != nil {
		payload["top_p"] = *req.TopP
	}
	if len(req.Stop) > 0 {
		payload["stop"] = req.Stop
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.NewProviderError("序列化请求失败", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.NewConnectionError("创建直连请求失败", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+opts.APIKey)
	if opts.APISecret != "" {
		signRequest(httpReq, opts.APIKey, opts.APISecret, time.Now().Unix())
	}

	timeout := time.Duration(opts.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{DisableKeepAlives: true, Proxy: http.ProxyFromEnvironment},
	}
	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, llm.ClassifyTransportError(providerName, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return nil, llm.ClassifyHTTPStatus(providerName, httpResp.StatusCode, body)
	}

	var response struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, llm.ClassifyTransportError(providerName, fmt.Errorf("解析直连响应失败: %w", err))
	}
	if len(response.Choices) == 0 {
		return nil, apperrors.NewProviderError("智谱GLM未返回任何结果", nil)
	}

	return &llm.CompletionResponse{
		Content:      response.Choices[0].Message.Content,
		FinishReason: response.Choices[0].FinishReason,
		Model:        req.Model,
		Provider:     providerName,
		Usage: &llm.Usage{
			PromptTokens:     response.Usage.PromptTokens,
			CompletionTokens: response.Usage.CompletionTokens,
			TotalTokens:      response.Usage.TotalTokens,
		},
	}, nil
}
