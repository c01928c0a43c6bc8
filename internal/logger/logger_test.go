package logger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New("orderq", "loud")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestNew_HonoursLevel(t *testing.T) {
	log, err := New("orderq", "warn")
	require.NoError(t, err)

	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
}

func TestWithTask_AddsTaskFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	WithTask(zap.New(core), "task-1", "critical", "order:process").Info("picked up")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "task-1", fields["task_id"])
	assert.Equal(t, "critical", fields["queue"])
	assert.Equal(t, "order:process", fields["task_type"])
}

func resetGlobal(t *testing.T) {
	t.Helper()
	l.Store(nil)
	fallback = sync.Once{}
	t.Cleanup(func() {
		l.Store(nil)
		fallback = sync.Once{}
	})
}

func TestL_FallsBackToDefault(t *testing.T) {
	resetGlobal(t)

	assert.NotNil(t, L())
}

func TestL_ConcurrentCallersShareOneLogger(t *testing.T) {
	resetGlobal(t)

	const callers = 32
	got := make([]*zap.Logger, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = L()
		}(i)
	}
	wg.Wait()

	require.NotNil(t, got[0])
	for _, log := range got[1:] {
		assert.Same(t, got[0], log)
	}
}

func TestL_ReturnsInitLogger(t *testing.T) {
	resetGlobal(t)

	require.NoError(t, Init("orderq", "debug"))
	assert.True(t, L().Core().Enabled(zapcore.DebugLevel))
}
