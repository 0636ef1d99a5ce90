package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewForwardsToSlog(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	New(base, "mqtt", slog.LevelWarn).Printf("connection lost: %s", "EOF")

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "component=mqtt")
	assert.Contains(t, out, `msg="connection lost: EOF"`)
}
