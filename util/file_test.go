package util

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileExt(t *testing.T) {
	tests := map[string]string{
		"photo.PNG":        "png",
		"a/b/c.jpeg":       "jpeg",
		"archive.tar.webp": "webp",
		"noext":            "",
		".hidden":          "hidden",
	}
	for in, want := range tests {
		assert.Equal(t, want, FileExt(in), in)
	}
}

func TestTrace(t *testing.T) {
	done := Trace("noop", "k", "v")
	assert.NotPanics(t, done)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", "json")
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	logger, err = NewLogger(&buf, "DEBUG", "")
	require.NoError(t, err)
	logger.Debug("text line")
	assert.Contains(t, buf.String(), "msg=\"text line\"")

	_, err = NewLogger(&buf, "loud", "text")
	assert.Error(t, err)
	_, err = NewLogger(&buf, "info", "xml")
	assert.Error(t, err)
}
