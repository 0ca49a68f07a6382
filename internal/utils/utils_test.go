package utils

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerWritesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewLoggerFromZap(zap.New(core))

	logger.Info("provider call", map[string]interface{}{
		"provider": "openai",
		"err":      errors.New("boom"),
	})
	logger.StartTimer("complete").Stop(map[string]interface{}{"method": "fallback"})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "provider call", entries[0].Message)
	assert.Equal(t, "openai", entries[0].ContextMap()["provider"])
	assert.Equal(t, "boom", entries[0].ContextMap()["err"])
	assert.Equal(t, "fallback", entries[1].ContextMap()["method"])
	assert.Contains(t, entries[1].ContextMap(), "durationMs")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("nonsense"))
}

func TestMetricsCollectorConcurrent(t *testing.T) {
	m := NewMetricsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%10 == 0 {
				err = errors.New("fail")
			}
			m.RecordProviderCall(time.Duration(i)*time.Millisecond, i%5 == 0, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(50), m.GetCounterValue(MetricProviderCalls))
	assert.Equal(t, int64(10), m.GetCounterValue(MetricProviderFallbacks))
	assert.Equal(t, int64(5), m.GetCounterValue(MetricProviderFailures))

	snapshot := m.GetMetrics()
	hist := snapshot["histograms"].(map[string]map[string]int64)[MetricProviderLatency]
	assert.Equal(t, int64(50), hist["count"])
	assert.Equal(t, int64(0), hist["min"])
	assert.Equal(t, int64(49), hist["max"])
}

func TestNilCollectorIsSafe(t *testing.T) {
	var m *MetricsCollector
	m.IncrementCounter("x")
	m.RecordHistogram("y", 1)
	assert.Zero(t, m.GetCounterValue("x"))
}

func TestSealSecret(t *testing.T) {
	sealed, err := SealSecret("sk-123", "pass")
	require.NoError(t, err)
	assert.True(t, IsSealed(sealed))
	assert.NotContains(t, sealed, "sk-123")

	again, err := SealSecret(sealed, "pass")
	require.NoError(t, err)
	assert.Equal(t, sealed, again)

	plain, err := OpenSecret(sealed, "pass")
	require.NoError(t, err)
	assert.Equal(t, "sk-123", plain)

	_, err = OpenSecret(sealed, "other")
	assert.Error(t, err)
	_, err = SealSecret("x", "")
	assert.Error(t, err)

	plain, err = OpenSecret("not-sealed", "")
	require.NoError(t, err)
	assert.Equal(t, "not-sealed", plain)
}
