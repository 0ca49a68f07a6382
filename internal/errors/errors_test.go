package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := NewTimeoutError("deadline exceeded", context.DeadlineExceeded)
	wrapped := fmt.Errorf("run validation: %w", base)

	assert.True(t, IsTimeoutError(wrapped))
	assert.Equal(t, ErrorTypeTimeout, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, context.DeadlineExceeded))
	assert.Equal(t, "TIMEOUT", base.Code)
}

func TestWrapErrorKeepsOriginalType(t *testing.T) {
	err := WrapError(NewNotFoundError("character missing", nil), "create dialogue", ErrorTypeProvider)
	assert.True(t, IsNotFoundError(err))

	plain := WrapError(errors.New("boom"), "save", ErrorTypeProvider)
	assert.True(t, IsProviderError(plain))

	assert.Nil(t, WrapError(nil, "noop", ErrorTypeProvider))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(NewConnectionError("refused", nil)))
	assert.True(t, Retryable(NewTimeoutError("slow", nil)))
	assert.False(t, Retryable(NewAuthenticationError("bad key", nil)))
	assert.False(t, Retryable(errors.New("raw")))
}

func TestResult(t *testing.T) {
	ok := Ok("hello")
	v, err := ok.Value()
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
	assert.True(t, ok.IsOk())

	failed := FromError[string](NewQuotaExceededError("429", nil))
	assert.False(t, failed.IsOk())
	assert.Equal(t, ErrorTypeQuotaExceeded, failed.Kind())

	generic := FromError[int](errors.New("weird"))
	assert.Equal(t, ErrorTypeProvider, generic.Kind())

	e := Err[int](ErrorTypeModel, "unknown model")
	_, err = e.Value()
	assert.True(t, IsModelError(err))
}
