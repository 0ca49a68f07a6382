// internal/utils/metrics.go
package utils

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// 指标名称
const (
	MetricProviderCalls      = "provider.calls"
	MetricProviderFailures   = "provider.failures"
	MetricProviderFallbacks  = "provider.fallbacks"
	MetricProviderLatency    = "provider.latency_ms"
	MetricValidationRuns     = "validation.runs"
	MetricValidationTimeouts = "validation.timeouts"
	MetricDialogueMessages   = "dialogue.messages"
	MetricAPIRequests        = "api.requests"
	MetricAPILatency         = "api.latency_ms"
)

// MetricsCollector collects application metrics
type MetricsCollector struct {
	counters   map[string]*int64
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Histogram tracks count, sum, min and max
type Histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

// NewMetricsCollector 每个应用实例一个收集器
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*int64),
		histograms: make(map[string]*Histogram),
	}
}

// IncrementCounter increments a counter metric
func (m *MetricsCollector) IncrementCounter(name string) {
	m.AddCounter(name, 1)
}

// AddCounter adds a value to a counter metric
func (m *MetricsCollector) AddCounter(name string, value int64) {
	if m == nil {
		return
	}
	m.mu.RLock()
	counter, exists := m.counters[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		counter, exists = m.counters[name]
		if !exists {
			counter = new(int64)
			m.counters[name] = counter
		}
		m.mu.Unlock()
	}

	atomic.AddInt64(counter, value)
}

// GetCounterValue gets the current value of a counter
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	counter, exists := m.counters[name]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return atomic.LoadInt64(counter)
}

// RecordHistogram records a value in a histogram
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	if m == nil {
		return
	}
	m.mu.RLock()
	histogram, exists := m.histograms[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		histogram, exists = m.histograms[name]
		if !exists {
			histogram = &Histogram{min: value, max: value}
			m.histograms[name] = histogram
		}
		m.mu.Unlock()
	}

	histogram.mu.Lock()
	defer histogram.mu.Unlock()

	histogram.count++
	histogram.sum += value
	if value < histogram.min {
		histogram.min = value
	}
	if value > histogram.max {
		histogram.max = value
	}
}

// RecordDuration 以毫秒记录耗时
func (m *MetricsCollector) RecordDuration(name string, d time.Duration) {
	m.RecordHistogram(name, d.Milliseconds())
}

// GetMetrics returns a snapshot of all metrics
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, counter := range m.counters {
		counters[name] = atomic.LoadInt64(counter)
	}

	histograms := make(map[string]map[string]int64, len(m.histograms))
	for name, h := range m.histograms {
		h.mu.Lock()
		histograms[name] = map[string]int64{
			"count": h.count,
			"sum":   h.sum,
			"min":   h.min,
			"max":   h.max,
		}
		h.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"histograms": histograms,
	}
}

// RecordProviderCall 记录一次提供者调用
func (m *MetricsCollector) RecordProviderCall(duration time.Duration, fallback bool, err error) {
	m.IncrementCounter(MetricProviderCalls)
	m.RecordDuration(MetricProviderLatency, duration)
	if fallback {
		m.IncrementCounter(MetricProviderFallbacks)
	}
	if err != nil {
		m.IncrementCounter(MetricProviderFailures)
	}
}

// StartReporting 周期性输出指标快照，ctx 取消时退出
func (m *MetricsCollector) StartReporting(ctx context.Context, logger *Logger, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("Periodic metrics report", map[string]interface{}{
					"metrics": m.GetMetrics(),
				})
			}
		}
	}()
}
