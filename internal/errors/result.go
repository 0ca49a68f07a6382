// internal/errors/result.go
package errors

// Result 是成功值或带类型错误的标签联合，用于并发扇出时按参与者聚合结果
type Result[T any] struct {
	value T
	err   *AppError
}

// Ok 构造成功结果
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Err 构造失败结果
func Err[T any](kind ErrorType, message string) Result[T] {
	return Result[T]{err: NewAppError(kind, message, nil)}
}

// FromError 把普通 error 转成失败结果，保留其类型
func FromError[T any](err error) Result[T] {
	if err == nil {
		var zero T
		return Ok(zero)
	}
	kind := KindOf(err)
	if kind == "" {
		kind = ErrorTypeProvider
	}
	return Result[T]{err: NewAppError(kind, err.Error(), err)}
}

// IsOk 是否成功
func (r Result[T]) IsOk() bool { return r.err == nil }

// Value 返回值和错误
func (r Result[T]) Value() (T, error) {
	if r.err != nil {
		var zero T
		return zero, r.err
	}
	return r.value, nil
}

// Kind 失败时返回错误类型
func (r Result[T]) Kind() ErrorType {
	if r.err == nil {
		return ""
	}
	return r.err.Type
}

// Error 失败时返回错误
func (r Result[T]) Error() error {
	if r.err == nil {
		return nil
	}
	return r.err
}
