package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", Debug, false},
		{"INFO", Info, false},
		{"", Info, false},
		{"warning", Warn, false},
		{"error", Error, false},
		{"verbose", Info, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(Config{LogLevel: Warn, Output: &buf})
	require.NoError(t, err)

	l.Debug("debug %d", 1)
	l.Info("info %d", 2)
	l.Warn("warn %d", 3)
	l.Error("error %d", 4)

	out := buf.String()
	assert.NotContains(t, out, "debug 1")
	assert.NotContains(t, out, "info 2")
	assert.Contains(t, out, "WARN: ")
	assert.Contains(t, out, "warn 3")
	assert.Contains(t, out, "ERROR: ")
	assert.Contains(t, out, "error 4")
}

func TestLoggerWritesRotatedFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "extract.log")
	l, err := NewLogger(Config{LogLevel: Info, LogFile: path, MaxSizeMB: 1, Output: &buf})
	require.NoError(t, err)

	l.Info("capture %s done", "a.pcap")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "capture a.pcap done"))
	assert.Contains(t, buf.String(), "capture a.pcap done")
}

func TestDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(Config{LogLevel: Debug, Output: &buf})
	require.NoError(t, err)
	prev := SetDefault(l)
	t.Cleanup(func() { SetDefault(prev) })

	Debugf("a")
	Infof("b")
	Warnf("c")
	Errorf("d")

	assert.Equal(t, 4, strings.Count(buf.String(), "\n"))
	assert.Same(t, l, GetLogger())
}
