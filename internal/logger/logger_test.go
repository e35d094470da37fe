package logger

import (
	"bytes"
	"encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"testing"
)

func TestNewWithWriter_AddsServiceAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "pos-api", "debug")
	log.Debug("hello", slog.String("order_id", "o1"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "pos-api", rec["service"])
	assert.Equal(t, "o1", rec["order_id"])
	assert.Contains(t, rec, "hostname")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
