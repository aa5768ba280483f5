package clipboard

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	m := &Memory{}
	require.NoError(t, m.WriteText(context.Background(), "go run ."))
	assert.Equal(t, "go run .", m.Text())
	assert.Equal(t, 1, m.Writes())

	m.SetErr(errors.New("denied"))
	assert.Error(t, m.WriteText(context.Background(), "other"))
	assert.Equal(t, "go run .", m.Text())
	assert.Equal(t, 1, m.Writes())
}

func TestTerminalEmitsOSC52(t *testing.T) {
	var buf bytes.Buffer
	cb := NewTerminal(&buf)
	require.NoError(t, cb.WriteText(context.Background(), "hello"))

	out := buf.String()
	assert.Contains(t, out, "\x1b]52;")
	assert.Contains(t, out, base64.StdEncoding.EncodeToString([]byte("hello")))
}

func TestTerminalCancelled(t *testing.T) {
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewTerminal(&buf).WriteText(ctx, "hello")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, buf.String())
}

func TestNone(t *testing.T) {
	assert.ErrorIs(t, None.WriteText(context.Background(), "x"), ErrUnavailable)
}
