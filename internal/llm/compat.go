// internal/llm/compat.go
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
)

// ChatClient OpenAI 兼容的 chat/completions 客户端（OpenAI、智谱等共用）
type ChatClient struct {
	Provider string
	Endpoint string // 完整的 chat/completions URL
	APIKey   string
	HTTP     *http.Client
	Headers  map[string]string
	// Sign 在发送前追加鉴权头（如智谱签名），可为空
	Sign func(r *http.Request)
}

// chatResponse OpenAI 兼容响应
type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// BuildChatBody 构建请求体；req 应已经过 ApplyDefaults
func BuildChatBody(req CompletionRequest, stream bool) map[string]interface{} {
	messages := make([]map[string]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]string{"role": string(m.Role), "content": m.Content})
	}

	body := map[string]interface{}{
		"model":    req.Model,
		"messages": messages,
		"stream":   stream,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if len(req.Stop) > 0 {
		body["stop"] = req.Stop
	}
	return body
}

func (c *ChatClient) newRequest(ctx context.Context, body map[string]interface{}, stream bool) (*http.Request, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, apperrors.NewProviderError("序列化请求失败", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, apperrors.NewConnectionError("创建请求失败", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	for k, v := range c.Headers {
		httpReq.Header.Set(k, v)
	}
	if c.Sign != nil {
		c.Sign(httpReq)
	}
	return httpReq, nil
}

func (c *ChatClient) client() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// Complete 非流式调用
func (c *ChatClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	httpReq, err := c.newRequest(ctx, BuildChatBody(req, false), false)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.client().Do(httpReq)
	if err != nil {
		return nil, ClassifyTransportError(c.Provider, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return nil, ClassifyHTTPStatus(c.Provider, httpResp.StatusCode, body)
	}

	var response chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, ClassifyTransportError(c.Provider, fmt.Errorf("解析响应失败: %w", err))
	}
	if len(response.Choices) == 0 {
		return nil, apperrors.NewProviderError(fmt.Sprintf("%s未返回任何结果", c.Provider), nil)
	}

	out := &CompletionResponse{
		Content:      response.Choices[0].Message.Content,
		FinishReason: response.Choices[0].FinishReason,
		Model:        response.Model,
		Provider:     c.Provider,
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	if response.Usage != nil {
		out.Usage = &Usage{
			PromptTokens:     response.Usage.PromptTokens,
			CompletionTokens: response.Usage.CompletionTokens,
			TotalTokens:      response.Usage.TotalTokens,
		}
	}
	return out, nil
}

// Stream 流式调用，解析 SSE "data: " 行直到 [DONE]
func (c *ChatClient) Stream(ctx context.Context, req CompletionRequest) (*Stream, error) {
	httpReq, err := c.newRequest(ctx, BuildChatBody(req, true), true)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.client().Do(httpReq)
	if err != nil {
		return nil, ClassifyTransportError(c.Provider, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, ClassifyHTTPStatus(c.Provider, httpResp.StatusCode, body)
	}

	return NewStream(ctx, func(ctx context.Context, emit Emit) error {
		defer httpResp.Body.Close()
		// 取消时关闭 body 以打断阻塞的读取
		stop := context.AfterFunc(ctx, func() { httpResp.Body.Close() })
		defer stop()
		return ReadSSE(httpResp.Body, func(data string) (bool, error) {
			if data == "[DONE]" {
				return false, nil
			}
			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				// 跳过无法解析的行
				return true, nil
			}
			for _, choice := range chunk.Choices {
				if !emit(choice.Delta.Content) {
					return false, ctx.Err()
				}
			}
			return true, nil
		}, c.Provider)
	}), nil
}

// ReadSSE 逐行读取 SSE 流，对每个 data 负载调用 handle；handle 返回 false 时停止
func ReadSSE(r io.Reader, handle func(data string) (bool, error), provider string) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, ":") {
			if strings.HasPrefix(line, "data:") {
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				more, herr := handle(data)
				if herr != nil {
					return herr
				}
				if !more {
					return nil
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return ClassifyTransportError(provider, err)
		}
	}
}
