package logger

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	l        atomic.Pointer[zap.Logger]
	fallback sync.Once
)

// New builds the JSON logger every orderq process writes to stdout.
func New(service, level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "@timestamp"
	encCfg.MessageKey = "message"
	encCfg.LevelKey = "level"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(encCfg)

	core := zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), lvl)
	return zap.New(core, zap.AddCaller()).With(
		zap.String("service", service),
	), nil
}

func Init(service, level string) error {
	base, err := New(service, level)
	if err != nil {
		return err
	}
	l.Store(base)
	zap.ReplaceGlobals(base)
	return nil
}

// L returns the logger set by Init, building an info-level default once if
// Init was never called. Safe for concurrent use.
func L() *zap.Logger {
	if log := l.Load(); log != nil {
		return log
	}
	fallback.Do(func() {
		base, err := New("orderq", "info")
		if err != nil {
			base = zap.NewNop()
		}
		if l.CompareAndSwap(nil, base) {
			zap.ReplaceGlobals(base)
		}
	})
	return l.Load()
}

// WithTask scopes log to one queued task.
func WithTask(base *zap.Logger, taskID, queue, taskType string) *zap.Logger {
	return base.With(
		zap.String("task_id", taskID),
		zap.String("queue", queue),
		zap.String("task_type", taskType),
	)
}
