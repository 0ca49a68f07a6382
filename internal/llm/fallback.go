// internal/llm/fallback.go
package llm

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/utils"
)

// DirectTransport 由支持降级的提供者实现：绕过主客户端的最小直连 HTTP 路径
type DirectTransport interface {
	DirectComplete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// ManagedProvider 包装提供者：主路径超时控制、一次性直连降级、日志和指标
type ManagedProvider struct {
	Provider

	direct  DirectTransport
	timeout time.Duration
	logger  *utils.Logger
	metrics *utils.MetricsCollector
}

// Manage 包装提供者；若提供者实现 DirectTransport 则启用降级
func Manage(p Provider, timeout time.Duration, logger *utils.Logger, metrics *utils.MetricsCollector) *ManagedProvider {
	if logger == nil {
		logger = utils.NopLogger()
	}
	mp := &ManagedProvider{
		Provider: p,
		timeout:  timeout,
		logger:   logger,
		metrics:  metrics,
	}
	if d, ok := p.(DirectTransport); ok {
		mp.direct = d
	}
	return mp
}

// WithFallback 显式指定降级路径
func (m *ManagedProvider) WithFallback(direct DirectTransport) *ManagedProvider {
	m.direct = direct
	return m
}

// HasFallback 是否配置了降级路径
func (m *ManagedProvider) HasFallback() bool {
	return m.direct != nil
}

// Complete 先走主路径；传输层失败或超时时经直连路径重试一次，不递归
func (m *ManagedProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	primaryCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		primaryCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	resp, err := m.Provider.Complete(primaryCtx, req)
	if err == nil {
		annotate(resp, "primary", time.Since(start))
		m.metrics.RecordProviderCall(time.Since(start), false, nil)
		return resp, nil
	}

	err = ClassifyTransportError(m.Name(), err)
	if m.direct == nil || !shouldFallback(err) || ctx.Err() != nil {
		m.metrics.RecordProviderCall(time.Since(start), false, err)
		m.logger.Warn("provider call failed", map[string]interface{}{
			"provider": m.Name(),
			"kind":     string(apperrors.KindOf(err)),
			"error":    err,
		})
		return nil, err
	}

	m.logger.Warn("primary client failed, trying direct HTTP", map[string]interface{}{
		"provider": m.Name(),
		"kind":     string(apperrors.KindOf(err)),
		"error":    err,
	})

	fbStart := time.Now()
	resp, fbErr := m.direct.DirectComplete(ctx, req)
	if fbErr != nil {
		fbErr = ClassifyTransportError(m.Name(), fbErr)
		m.metrics.RecordProviderCall(time.Since(start), true, fbErr)
		m.logger.Error("fallback call failed", map[string]interface{}{
			"provider":   m.Name(),
			"method":     "fallback",
			"durationMs": time.Since(fbStart).Milliseconds(),
			"error":      fbErr,
		})
		return nil, apperrors.WrapError(fbErr, fmt.Sprintf("主路径失败(%v)，降级路径也失败", err), apperrors.ErrorTypeProvider)
	}

	annotate(resp, "fallback", time.Since(fbStart))
	m.metrics.RecordProviderCall(time.Since(start), true, nil)
	m.logger.Info("fallback call succeeded", map[string]interface{}{
		"provider":   m.Name(),
		"method":     "fallback",
		"durationMs": time.Since(fbStart).Milliseconds(),
	})
	return resp, nil
}

// CompleteStream 流式调用不降级，仅分类错误
func (m *ManagedProvider) CompleteStream(ctx context.Context, req CompletionRequest) (*Stream, error) {
	s, err := m.Provider.CompleteStream(ctx, req)
	if err != nil {
		err = ClassifyTransportError(m.Name(), err)
		m.metrics.RecordProviderCall(0, false, err)
		return nil, err
	}
	m.metrics.IncrementCounter(utils.MetricProviderCalls)
	return s, nil
}

// 认证、配额、模型错误换条路径也不会成功
func shouldFallback(err error) bool {
	switch apperrors.KindOf(err) {
	case apperrors.ErrorTypeConnection, apperrors.ErrorTypeTimeout, apperrors.ErrorTypeProvider:
		return true
	default:
		return false
	}
}

func annotate(resp *CompletionResponse, method string, d time.Duration) {
	if resp == nil {
		return
	}
	if resp.Metadata == nil {
		resp.Metadata = make(map[string]interface{})
	}
	resp.Metadata["method"] = method
	resp.Metadata["durationMs"] = d.Milliseconds()
}
