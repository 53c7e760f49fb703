package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestSlogLoggerLevels(t *testing.T) {
	tests := []struct {
		name   string
		level  LogLevel
		logFn  func(Logger)
		expect bool
	}{
		{"debug hidden at info", LogLevelInfo, func(l Logger) { l.Debug("msg") }, false},
		{"info shown at info", LogLevelInfo, func(l Logger) { l.Info("msg") }, true},
		{"trace shown at trace", LogLevelTrace, func(l Logger) { l.Trace("msg") }, true},
		{"warn hidden at error", LogLevelError, func(l Logger) { l.Warn("msg") }, false},
		{"error always shown", LogLevelError, func(l Logger) { l.Error("msg") }, true},
		{"explicit level respected", LogLevelWarn, func(l Logger) { l.Log(LogLevelDebug, "msg") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.logFn(NewSlogLogger(&buf, tt.level, time.UTC))
			if tt.expect {
				assert.Contains(t, buf.String(), "msg=msg")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestTraceLevelIsRenamed(t *testing.T) {
	var buf bytes.Buffer
	NewSlogLogger(&buf, LogLevelTrace, time.UTC).Trace("deep")
	assert.Contains(t, buf.String(), "level=TRACE")
	assert.NotContains(t, buf.String(), "time=")
}

func TestModuleAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogLogger(&buf, LogLevelDebug, time.UTC).
		Module("pipeline").
		Module("worker").
		With(String("run_id", "r1"))

	log.Info("document analyzed",
		Int("relationships", 3),
		Float64("score", 0.66666),
		Duration("elapsed", 1500*time.Millisecond))

	out := buf.String()
	assert.Contains(t, out, "module=pipeline.worker")
	assert.Contains(t, out, "run_id=r1")
	assert.Contains(t, out, "relationships=3")
	assert.Contains(t, out, "score=0.667")
	assert.Contains(t, out, "elapsed=1.5s")
}

func TestWithDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewSlogLogger(&buf, LogLevelInfo, time.UTC)
	_ = parent.With(String("child", "yes"))

	parent.Info("parent")
	assert.NotContains(t, buf.String(), "child=yes")
}

func TestWithContextTraceID(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogLogger(&buf, LogLevelInfo, time.UTC)

	log.WithContext(WithTraceID(context.Background(), "run-42")).Info("x")
	assert.Contains(t, buf.String(), "trace_id=run-42")

	buf.Reset()
	log.WithContext(context.Background()).Info("y")
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestCentralLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "threatlink.log")

	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "info",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path, Level: "debug"},
		ModuleLevels: map[string]string{"datastore": "debug"},
	})
	require.NoError(t, err)

	cl.Module("datastore").Debug("migrated", String("table", "entities"))
	cl.Module("api").Debug("hidden")
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "migrated", rec["msg"])
	assert.Equal(t, "datastore", rec["module"])
	assert.Equal(t, "entities", rec["table"])
}

func TestCentralLoggerRejectsBadTimezone(t *testing.T) {
	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)
}

func TestBufferedFileWriterCloseIsIdempotent(t *testing.T) {
	w, err := NewBufferedFileWriter(filepath.Join(t.TempDir(), "a.log"), 10*time.Millisecond)
	require.NoError(t, err)

	_, err = w.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("late"))
	require.Error(t, err)
}

func TestGormAdapterTrace(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewGormLoggerAdapter(NewSlogLogger(&buf, LogLevelDebug, time.UTC), 10*time.Millisecond)

	fc := func() (string, int64) { return "SELECT 1", 1 }

	adapter.Trace(context.Background(), time.Now(), fc, nil)
	assert.Empty(t, buf.String(), "plain statements are trace level")

	adapter.Trace(context.Background(), time.Now().Add(-time.Second), fc, nil)
	assert.Contains(t, buf.String(), "slow query")

	buf.Reset()
	adapter.Trace(context.Background(), time.Now(), fc, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String())

	adapter.Trace(context.Background(), time.Now(), fc, assert.AnError)
	assert.Contains(t, buf.String(), "query error")

	buf.Reset()
	adapter.Trace(context.Background(), time.Now(), fc, errLocked{})
	assert.Contains(t, buf.String(), "query conflict")
}

type errLocked struct{}

func (errLocked) Error() string { return "database is locked" }
