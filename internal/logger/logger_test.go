package logger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ir.log")
	l := New(path, true)

	l.Info("generation", "layer added", map[string]interface{}{"layer": 3})
	l.Error("backend", "request failed", map[string]interface{}{"error": errors.New("boom")})
	l.Debug("brush", "below file level", nil)
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"layer added"`)
	assert.Contains(t, string(data), `"module":"generation"`)
	assert.Contains(t, string(data), `"error":"boom"`)
	assert.NotContains(t, string(data), "below file level")
}

func TestNop(t *testing.T) {
	var l Logger = NewNop()
	l.Warn("x", "y", nil)
	assert.NoError(t, l.Sync())
}
