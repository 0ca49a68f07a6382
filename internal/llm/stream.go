// internal/llm/stream.go
package llm

import (
	"context"
	"io"
	"strings"
	"sync"
)

// Stream 惰性、有限、不可重启的文本片段序列
// 调用方必须读到 io.EOF 或调用 Close
type Stream struct {
	ch     chan string
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
	eof bool
}

// Emit 由生产者调用，返回 false 表示消费方已取消
type Emit func(fragment string) bool

// NewStream 启动生产者 goroutine，produce 返回时流结束
func NewStream(ctx context.Context, produce func(ctx context.Context, emit Emit) error) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		ch:     make(chan string),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.ch)
		err := produce(ctx, func(fragment string) bool {
			if fragment == "" {
				return ctx.Err() == nil
			}
			select {
			case s.ch <- fragment:
				return true
			case <-ctx.Done():
				return false
			}
		})
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	}()

	return s
}

// Recv 返回下一个片段，结束时返回 io.EOF，生产者出错时返回该错误
func (s *Stream) Recv() (string, error) {
	s.mu.Lock()
	if s.eof {
		s.mu.Unlock()
		return "", io.EOF
	}
	s.mu.Unlock()

	fragment, ok := <-s.ch
	if ok {
		return fragment, nil
	}

	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eof = true
	s.cancel()
	if s.err != nil {
		err := s.err
		s.err = nil
		return "", err
	}
	return "", io.EOF
}

// Close 取消生产者并等待其退出
func (s *Stream) Close() {
	s.cancel()
	for range s.ch {
	}
	<-s.done
	s.mu.Lock()
	s.eof = true
	s.mu.Unlock()
}

// Collect 读完整个流并拼接；出错时返回已收到的部分
func Collect(s *Stream) (string, error) {
	var sb strings.Builder
	for {
		fragment, err := s.Recv()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			s.Close()
			return sb.String(), err
		}
		sb.WriteString(fragment)
	}
}

// StaticStream 用固定片段构造流，测试与非流式后端降级时使用
func StaticStream(ctx context.Context, fragments ...string) *Stream {
	return NewStream(ctx, func(ctx context.Context, emit Emit) error {
		for _, f := range fragments {
			if !emit(f) {
				return ctx.Err()
			}
		}
		return nil
	})
}
