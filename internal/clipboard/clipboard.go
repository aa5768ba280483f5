// Package clipboard defines the clipboard capability used by code panels and
// its host backends.
package clipboard

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/muesli/termenv"
)

// ErrUnavailable is returned when no clipboard is reachable, for example
// when a browser session has disconnected.
var ErrUnavailable = errors.New("clipboard unavailable")

// Clipboard writes text to the host clipboard.
type Clipboard interface {
	WriteText(ctx context.Context, text string) error
}

// Func adapts a function to the Clipboard interface.
type Func func(ctx context.Context, text string) error

func (f Func) WriteText(ctx context.Context, text string) error {
	return f(ctx, text)
}

// None is a clipboard that always fails with ErrUnavailable.
var None Clipboard = Func(func(context.Context, string) error { return ErrUnavailable })

// Terminal writes through the OSC 52 escape sequence, which most modern
// terminal emulators forward to the system clipboard.
type Terminal struct {
	mu  sync.Mutex
	out *termenv.Output
}

// NewTerminal returns a clipboard that emits OSC 52 to w.
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{out: termenv.NewOutput(w)}
}

func (t *Terminal) WriteText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.out.Copy(text)
	return nil
}

// Memory records writes. It is used by tests and by headless renders.
type Memory struct {
	mu     sync.Mutex
	text   string
	writes int
	// Err, when set, is returned by every write and nothing is recorded.
	Err error
}

func (m *Memory) WriteText(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.text = text
	m.writes++
	return nil
}

// Text returns the most recently written text.
func (m *Memory) Text() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text
}

// Writes returns the number of successful writes.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// SetErr makes subsequent writes fail with err (nil restores success).
func (m *Memory) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}
