package logs

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", "debug"},
		{"info", "info"},
		{"warn", "warn"},
		{"warning", "warn"},
		{"error", "error"},
		{"bogus", "info"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in).String())
		})
	}
}

func TestConsoleLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Console: &buf, Level: "info"})

	l.Debug("hidden")
	l.Info("building kernel")
	l.Success("kernel built")
	l.Warn("dtbs_install failed")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "building kernel")
	assert.Contains(t, out, "SUCC")
	assert.Contains(t, out, "WARN")
}

func TestFileSinkGetsRecordsAfterAttach(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Console: &buf, Level: "warn"})
	path := filepath.Join(t.TempDir(), "kernel_build.log")

	l.Info("before attach")
	require.NoError(t, l.AttachFile(path))
	assert.True(t, l.HasFile())

	l.Debug("debug reaches file")
	l.With("stage", "compile").Warn("retrying")
	_, err := l.OutputWriter(false).Write([]byte("make[1]: Entering directory\n"))
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.NotContains(t, content, "before attach")
	assert.Contains(t, content, "debug reaches file")
	assert.Contains(t, content, "stage=compile")
	assert.Contains(t, content, "make[1]: Entering directory")

	// console kept its own threshold and never saw raw command output
	assert.NotContains(t, buf.String(), "debug reaches file")
	assert.NotContains(t, buf.String(), "make[1]")
}

func TestOutputWriterEcho(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Console: &buf})

	_, err := l.OutputWriter(true).Write([]byte("CC arch/arm64/kernel/setup.o\n"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(buf.String(), "setup.o"))
}

func TestSuccessFollowsInfoThreshold(t *testing.T) {
	tests := []struct {
		level string
		shown bool
	}{
		{"debug", true},
		{"info", true},
		{"warn", false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			l := New(Config{Console: &buf, Level: tt.level})
			l.Success("Kernel compiled")
			assert.Equal(t, tt.shown, strings.Contains(buf.String(), "SUCC"))
		})
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Console: &buf, Level: "info"})

	l.Debug("hidden")
	l.SetLevel("debug")
	l.Debug("shown", "stage", "compile")
	l.With("run", "abc").Success("done")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "run=abc")
	assert.Contains(t, out, "SUCC")
	assert.NotContains(t, out, "INFO")
}

func TestFileRecordsSuccess(t *testing.T) {
	l := New(Config{Console: io.Discard, Level: "error"})
	path := filepath.Join(t.TempDir(), "kernel_build.log")
	require.NoError(t, l.AttachFile(path))

	l.Success("Mali GPU driver installed", "lib", "libmali.so")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "SUCC")
	assert.Contains(t, string(data), "lib=libmali.so")
}
