// internal/llm/errors.go
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
)

// ClassifyHTTPStatus 把后端非 2xx 响应映射到统一错误类型
func ClassifyHTTPStatus(provider string, status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 300 {
		detail = detail[:300] + "..."
	}
	msg := fmt.Sprintf("%s API错误(%d): %s", provider, status, detail)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.NewAuthenticationError(msg, nil)
	case status == http.StatusTooManyRequests || status == http.StatusPaymentRequired:
		return apperrors.NewQuotaExceededError(msg, nil)
	case status == http.StatusNotFound:
		return apperrors.NewModelError(msg, nil)
	case status == http.StatusBadRequest && strings.Contains(strings.ToLower(detail), "model"):
		return apperrors.NewModelError(msg, nil)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return apperrors.NewTimeoutError(msg, nil)
	default:
		return apperrors.NewProviderError(msg, nil)
	}
}

// ClassifyTransportError 把网络层错误映射到统一错误类型，已分类的错误原样返回
func ClassifyTransportError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if apperrors.KindOf(err) != "" {
		return err
	}

	msg := fmt.Sprintf("%s 请求失败", provider)

	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewTimeoutError(msg, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.NewTimeoutError(msg, err)
	}
	if errors.Is(err, context.Canceled) {
		return apperrors.NewProviderError(msg+": 已取消", err)
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &opErr),
		errors.As(err, &dnsErr),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return apperrors.NewConnectionError(msg, err)
	}

	return apperrors.NewProviderError(msg, err)
}
