package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWriter(t *testing.T) {
	logger = nil
	once = *new(sync.Once)

	var buf bytes.Buffer
	SetupWriter(&buf, "DEBUG", "json")
	require.NotNil(t, logger)

	Get().Debug("visible")
	assert.Contains(t, buf.String(), `"msg":"visible"`)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "info", "text")
	l.Info("hello", "k", "v")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "k=v")
}

func TestContextHelpers(t *testing.T) {
	tests := []struct {
		name  string
		build func() *slog.Logger
		key   string
		want  string
	}{
		{"component", func() *slog.Logger { return WithComponent("store") }, "component", "store"},
		{"workspace", func() *slog.Logger { return WithWorkspace("ws1") }, "workspace_id", "ws1"},
		{"action", func() *slog.Logger { return WithAction("a-1") }, "action_id", "a-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger = slog.New(slog.NewJSONHandler(&buf, nil))

			tt.build().Info("hello")

			var out map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
			assert.Equal(t, tt.want, out[tt.key])
			assert.Equal(t, "hello", out["msg"])
		})
	}
}
