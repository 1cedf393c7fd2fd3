package debug

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want slog.Level
		err  bool
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "loud", err: true},
	} {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseLevel(tc.in)
			if tc.err {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEnableDisable(t *testing.T) {
	prev := level.Level()
	defer level.Set(prev)

	var buf bytes.Buffer
	SetOutput(&buf, false)

	Disable()
	assert.False(t, Enabled())
	Printf("hidden %d", 1)
	assert.Empty(t, buf.String())

	Enable()
	assert.True(t, Enabled())
	Printf("shown %d", 2)
	assert.Contains(t, buf.String(), "shown 2")
}

func TestLoggerComponent(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, false)

	Logger("drain").Info("hello")
	assert.Contains(t, buf.String(), "component=drain")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestConfigureFile(t *testing.T) {
	prev := level.Level()
	defer level.Set(prev)

	path := filepath.Join(t.TempDir(), "pseudows.log")
	require.NoError(t, Configure(Config{Level: "warn", JSON: true, File: path}))
	defer Close()

	Get().Warn("to file")
	assert.Equal(t, slog.LevelWarn, level.Level())
	assert.FileExists(t, path)

	assert.Error(t, Configure(Config{Level: "nope"}))
}
