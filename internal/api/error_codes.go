// internal/api/error_codes.go
package api

import (
	"errors"
	"net/http"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
)

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"
	ErrorUpgradeFailed = "WEBSOCKET_UPGRADE_FAILED"
)

// statusFor 错误类型到 HTTP 状态码
var statusFor = map[apperrors.ErrorType]int{
	apperrors.ErrorTypeValidation:     http.StatusBadRequest,
	apperrors.ErrorTypeNotFound:       http.StatusNotFound,
	apperrors.ErrorTypeConflict:       http.StatusConflict,
	apperrors.ErrorTypeConfig:         http.StatusInternalServerError,
	apperrors.ErrorTypeConnection:     http.StatusServiceUnavailable,
	apperrors.ErrorTypeTimeout:        http.StatusGatewayTimeout,
	apperrors.ErrorTypeAuthentication: http.StatusBadGateway,
	apperrors.ErrorTypeQuotaExceeded:  http.StatusTooManyRequests,
	apperrors.ErrorTypeModel:          http.StatusBadGateway,
	apperrors.ErrorTypeProvider:       http.StatusBadGateway,
}

// classify 返回状态码与错误代码；非 AppError 按内部错误处理
func classify(err error) (int, string) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, ErrorInternalError
	}
	status, ok := statusFor[appErr.Type]
	if !ok {
		status = http.StatusInternalServerError
	}
	return status, appErr.Code
}
