// internal/utils/logger.go
package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the logging level
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
	FATAL
)

// LoggerOptions 日志配置
type LoggerOptions struct {
	Level string // debug|info|warn|error
	File  string // 可选日志文件
	JSON  bool
}

// Logger 在 zap 之上保留 Info(msg, fields) 形式的调用方式
type Logger struct {
	zl    *zap.Logger
	level zap.AtomicLevel
}

var (
	globalLogger *Logger
	loggerOnce   sync.Once
)

// GetLogger returns the process default logger. Only main should rely on it;
// services receive their logger explicitly.
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		l, err := NewLogger(LoggerOptions{Level: "info"})
		if err != nil {
			l = NopLogger()
		}
		globalLogger = l
	})
	return globalLogger
}

// NewLogger 创建日志器
func NewLogger(opts LoggerOptions) (*Logger, error) {
	level := zap.NewAtomicLevelAt(ParseLevel(opts.Level))

	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.Sampling = nil
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	if !opts.JSON {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		cfg.OutputPaths = append(cfg.OutputPaths, opts.File)
	}

	zl, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return &Logger{zl: zl, level: level}, nil
}

// NopLogger 丢弃所有输出，测试用
func NopLogger() *Logger {
	return &Logger{zl: zap.NewNop(), level: zap.NewAtomicLevelAt(zapcore.FatalLevel)}
}

// NewLoggerFromZap 包装已有的 zap logger（测试中配合 zaptest/observer 使用）
func NewLoggerFromZap(zl *zap.Logger) *Logger {
	return &Logger{zl: zl.WithOptions(zap.AddCallerSkip(1)), level: zap.NewAtomicLevelAt(zapcore.DebugLevel)}
}

// ParseLevel 解析日志级别字符串，未知值回落到 info
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// SetLogLevel sets the minimum level for logging
func (l *Logger) SetLogLevel(level LogLevel) {
	switch level {
	case DEBUG:
		l.level.SetLevel(zapcore.DebugLevel)
	case WARNING:
		l.level.SetLevel(zapcore.WarnLevel)
	case ERROR:
		l.level.SetLevel(zapcore.ErrorLevel)
	case FATAL:
		l.level.SetLevel(zapcore.FatalLevel)
	default:
		l.level.SetLevel(zapcore.InfoLevel)
	}
}

// With 返回带固定字段的子日志器
func (l *Logger) With(fields map[string]interface{}) *Logger {
	return &Logger{zl: l.zl.With(toZapFields(fields)...), level: l.level}
}

// Zap 暴露底层 zap logger
func (l *Logger) Zap() *zap.Logger {
	return l.zl
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

func toZapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(fields))
	for _, k := range keys {
		if err, ok := fields[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields map[string]interface{}) {
	l.zl.Debug(message, toZapFields(fields)...)
}

// Info logs an info message
func (l *Logger) Info(message string, fields map[string]interface{}) {
	l.zl.Info(message, toZapFields(fields)...)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields map[string]interface{}) {
	l.zl.Warn(message, toZapFields(fields)...)
}

// Error logs an error message
func (l *Logger) Error(message string, fields map[string]interface{}) {
	l.zl.Error(message, toZapFields(fields)...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, fields map[string]interface{}) {
	l.zl.Fatal(message, toZapFields(fields)...)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zl.Debug(fmt.Sprintf(format, args...))
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zl.Info(fmt.Sprintf(format, args...))
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zl.Warn(fmt.Sprintf(format, args...))
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zl.Error(fmt.Sprintf(format, args...))
}

// Fatalf logs a formatted fatal message and exits
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.zl.Fatal(fmt.Sprintf(format, args...))
}

// Timer 记录一次操作耗时
type Timer struct {
	logger    *Logger
	operation string
	start     time.Time
}

// StartTimer 开始计时
func (l *Logger) StartTimer(operation string) *Timer {
	return &Timer{logger: l, operation: operation, start: time.Now()}
}

// Elapsed 已经过的时间
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Stop 结束计时并以 debug 级别输出 durationMs
func (t *Timer) Stop(fields map[string]interface{}) time.Duration {
	d := time.Since(t.start)
	merged := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		merged[k] = v
	}
	merged["operation"] = t.operation
	merged["durationMs"] = d.Milliseconds()
	t.logger.Debug("operation finished", merged)
	return d
}
