package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextHandler(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "json", slog.LevelInfo)
	require.NoError(t, err)

	ctx := Ctx(context.Background(), slog.String("repository_url", "octo/list"))
	l.With("component", "syncer").InfoContext(ctx, "hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "octo/list", rec["repository_url"])
	assert.Equal(t, "syncer", rec["component"])
}

func TestCtx_Siblings(t *testing.T) {
	base := Ctx(context.Background(), slog.String("a", "1"))
	left := Ctx(base, slog.String("b", "2"))
	right := Ctx(base, slog.String("c", "3"))

	assert.Len(t, left.Value(contextKey{}), 2)
	assert.Equal(t, []slog.Attr{slog.String("a", "1"), slog.String("c", "3")}, right.Value(contextKey{}))
	assert.Equal(t, []slog.Attr{slog.String("a", "1"), slog.String("b", "2")}, left.Value(contextKey{}))
}

func TestNew_Format(t *testing.T) {
	for _, format := range []string{"", "text", "json"} {
		_, err := New(&bytes.Buffer{}, format, slog.LevelInfo)
		assert.NoError(t, err, format)
	}

	_, err := New(&bytes.Buffer{}, "yaml", slog.LevelInfo)
	assert.Error(t, err)
}
