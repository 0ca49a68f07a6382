// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	// 通用错误类型
	ErrorTypeValidation ErrorType = "validation_error"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"

	// 启动期配置错误，不重试
	ErrorTypeConfig ErrorType = "config_error"

	// 提供者错误分类
	ErrorTypeConnection     ErrorType = "connection_error"
	ErrorTypeTimeout        ErrorType = "timeout"
	ErrorTypeAuthentication ErrorType = "authentication_error"
	ErrorTypeQuotaExceeded  ErrorType = "quota_exceeded"
	ErrorTypeModel          ErrorType = "model_error"
	ErrorTypeProvider       ErrorType = "provider_error"
)

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string // 用户友好的错误代码
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 创建新的 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewConflictError 创建冲突错误
func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

// NewConfigError 创建配置错误（缺少凭据等）
func NewConfigError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConfig, message, originalError)
}

// NewConnectionError 创建连接错误
func NewConnectionError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConnection, message, originalError)
}

// NewTimeoutError 创建超时错误
func NewTimeoutError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeTimeout, message, originalError)
}

// NewAuthenticationError 创建认证错误
func NewAuthenticationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeAuthentication, message, originalError)
}

// NewQuotaExceededError 创建配额/限流错误
func NewQuotaExceededError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeQuotaExceeded, message, originalError)
}

// NewModelError 创建模型错误
func NewModelError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeModel, message, originalError)
}

// NewProviderError 创建提供者通用错误
func NewProviderError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeProvider, message, originalError)
}

// KindOf 返回错误链中第一个 AppError 的类型，非 AppError 返回空串
func KindOf(err error) ErrorType {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	return ""
}

func isType(err error, t ErrorType) bool {
	return err != nil && KindOf(err) == t
}

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool { return isType(err, ErrorTypeValidation) }

// IsNotFoundError 检查是否为未找到错误
func IsNotFoundError(err error) bool { return isType(err, ErrorTypeNotFound) }

// IsConflictError 检查是否为冲突错误
func IsConflictError(err error) bool { return isType(err, ErrorTypeConflict) }

// IsConfigError 检查是否为配置错误
func IsConfigError(err error) bool { return isType(err, ErrorTypeConfig) }

// IsConnectionError 检查是否为连接错误
func IsConnectionError(err error) bool { return isType(err, ErrorTypeConnection) }

// IsTimeoutError 检查是否为超时错误
func IsTimeoutError(err error) bool { return isType(err, ErrorTypeTimeout) }

// IsAuthenticationError 检查是否为认证错误
func IsAuthenticationError(err error) bool { return isType(err, ErrorTypeAuthentication) }

// IsQuotaExceededError 检查是否为配额错误
func IsQuotaExceededError(err error) bool { return isType(err, ErrorTypeQuotaExceeded) }

// IsModelError 检查是否为模型错误
func IsModelError(err error) bool { return isType(err, ErrorTypeModel) }

// IsProviderError 检查是否为提供者通用错误
func IsProviderError(err error) bool { return isType(err, ErrorTypeProvider) }

// Retryable 仅连接错误与超时属于瞬时错误
func Retryable(err error) bool {
	switch KindOf(err) {
	case ErrorTypeConnection, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}

// generateErrorCode 根据错误类型生成错误代码
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeConfig:
		return "CONFIG_ERROR"
	case ErrorTypeConnection:
		return "CONNECTION_FAILED"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	case ErrorTypeAuthentication:
		return "AUTHENTICATION_FAILED"
	case ErrorTypeQuotaExceeded:
		return "QUOTA_EXCEEDED"
	case ErrorTypeModel:
		return "MODEL_ERROR"
	case ErrorTypeProvider:
		return "PROVIDER_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError 包装现有错误
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		// 如果已经是 AppError，保留原有类型
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	return NewAppError(errType, message, err)
}
