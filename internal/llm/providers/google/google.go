// internal/llm/providers/google/google.go
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/llm"
)

const (
	providerName   = "google"
	envKey         = "GEMINI_API_KEY"
	defaultRESTURL = "https://generativelanguage.googleapis.com/v1beta"
)

func init() {
	llm.Register(providerName, func() llm.Provider {
		return &Provider{
			recommendedModels: []string{
				"gemini-2.0-flash",
				"gemini-2.5-flash",
				"gemini-2.5-pro",
			},
		}
	})
	llm.Register("gemini", func() llm.Provider {
		return &Provider{recommendedModels: []string{"gemini-2.0-flash", "gemini-2.5-flash", "gemini-2.5-pro"}}
	})
}

// Provider Gemini：genai SDK 为主路径，REST generateContent 为直连降级路径
type Provider struct {
	opts              llm.Options
	recommendedModels []string

	mu          sync.Mutex
	initialized bool
	client      *genai.Client
}

func (p *Provider) Name() string {
	return providerName
}

func (p *Provider) Configure(opts llm.Options) error {
	if opts.APIKey == "" {
		opts.APIKey = os.Getenv(envKey)
	}
	if opts.APIKey == "" {
		opts.APIKey = os.Getenv("GOOGLE_API_KEY")
	}
	if opts.APIKey == "" {
		return apperrors.NewConfigError("google API密钥未提供（可设置 "+envKey+"）", nil)
	}
	if opts.Model == "" {
		opts.Model = p.recommendedModels[0]
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts = opts
	p.initialized = false
	return nil
}

// Initialize 创建 genai 客户端，重复调用复用同一客户端
func (p *Provider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}
	if p.opts.APIKey == "" {
		return apperrors.NewConfigError("google 尚未配置", nil)
	}

	cfg := &genai.ClientConfig{
		APIKey:  p.opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if p.opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return apperrors.NewConnectionError("创建 GenAI 客户端失败", err)
	}
	p.client = client
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

func float32Ptr(v *float64) *float32 {
	if v == nil {
		return nil
	}
	f := float32(*v)
	return &f
}

// toGenai 把统一请求转成 genai 的 contents 与配置，assistant 映射为 model 角色
func toGenai(req llm.CompletionRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	system, rest := llm.SplitSystem(req.Messages)

	contents := make([]*genai.Content, 0, len(rest))
	for _, m := range rest {
		role := genai.RoleUser
		if m.Role == llm.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, genai.Role(role)))
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     float32Ptr(req.Temperature),
		TopP:            float32Ptr(req.TopP),
		MaxOutputTokens: int32(req.MaxTokens),
		StopSequences:   req.Stop,
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return contents, cfg
}

func (p *Provider) ready(ctx context.Context) (*genai.Client, llm.Options, error) {
	if err := p.Initialize(ctx); err != nil {
		return nil, llm.Options{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client, p.opts, nil
}

func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	client, opts, err := p.ready(ctx)
	if err != nil {
		return nil, err
	}
	req = llm.ApplyDefaults(req, opts)
	contents, cfg := toGenai(req)

	resp, err := client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, classifyGenaiError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, apperrors.NewProviderError("google gemini未返回任何结果", nil)
	}

	out := &llm.CompletionResponse{
		Content:      resp.Text(),
		FinishReason: strings.ToLower(string(resp.Candidates[0].FinishReason)),
		Model:        req.Model,
		Provider:     providerName,
	}
	if resp.UsageMetadata != nil {
		out.Usage = &llm.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

func (p *Provider) CompleteStream(ctx context.Context, req llm.CompletionRequest) (*llm.Stream, error) {
	client, opts, err := p.ready(ctx)
	if err != nil {
		return nil, err
	}
	req = llm.ApplyDefaults(req, opts)
	contents, cfg := toGenai(req)

	return llm.NewStream(ctx, func(ctx context.Context, emit llm.Emit) error {
		for chunk, err := range client.Models.GenerateContentStream(ctx, req.Model, contents, cfg) {
			if err != nil {
				return classifyGenaiError(err)
			}
			if !emit(chunk.Text()) {
				return ctx.Err()
			}
		}
		return nil
	}), nil
}

// classifyGenaiError 映射 SDK 的 APIError 状态码
func classifyGenaiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return llm.ClassifyHTTPStatus(providerName, apiErr.Code, []byte(apiErr.Message))
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return llm.ClassifyHTTPStatus(providerName, apiErrPtr.Code, []byte(apiErrPtr.Message))
	}
	return llm.ClassifyTransportError(providerName, err)
}

// DirectComplete 直连 REST generateContent，不经过 SDK
func (p *Provider) DirectComplete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	opts := p.opts
	p.mu.Unlock()
	req = llm.ApplyDefaults(req, opts)

	system, rest := llm.SplitSystem(req.Messages)
	contents := make([]map[string]interface{}, 0, len(rest))
	for _, m := range rest {
		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "model"
		}
		contents = append(contents, map[string]interface{}{
			"role":  role,
			"parts": []map[string]string{{"text": m.Content}},
		})
	}

	generationConfig := map[string]interface{}{
		"temperature":     *req.Temperature,
		"topP":            *req.TopP,
		"maxOutputTokens": req.MaxTokens,
	}
	if len(req.Stop) > 0 {
		generationConfig["stopSequences"] = req.Stop
	}
	requestBody := map[string]interface{}{
		"contents":         contents,
		"generationConfig": generationConfig,
	}
	if system != "" {
		requestBody["systemInstruction"] = map[string]interface{}{
			"parts": []map[string]string{{"text": system}},
		}
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, apperrors.NewProviderError("序列化请求失败", err)
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultRESTURL
	}
	apiURL := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(baseURL, "/"), req.Model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, apperrors.NewConnectionError("创建直连请求失败", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", opts.APIKey)

	timeout := time.Duration(opts.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := &http.Client{Timeout: timeout, Transport: &http.Transport{DisableKeepAlives: true}}
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
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
			TotalTokenCount      int `json:"totalTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, llm.ClassifyTransportError(providerName, fmt.Errorf("解析直连响应失败: %w", err))
	}
	if len(response.Candidates) == 0 {
		return nil, apperrors.NewProviderError("google gemini未返回任何结果", nil)
	}

	var sb strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}

	return &llm.CompletionResponse{
		Content:      sb.String(),
		FinishReason: strings.ToLower(response.Candidates[0].FinishReason),
		Model:        req.Model,
		Provider:     providerName,
		Usage: &llm.Usage{
			PromptTokens:     response.UsageMetadata.PromptTokenCount,
			CompletionTokens: response.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      response.UsageMetadata.TotalTokenCount,
		},
	}, nil
}
