package preview

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetemplate/lessonview"
	"github.com/livetemplate/lessonview/internal/clock"
	"github.com/livetemplate/lessonview/internal/terminal"
	"github.com/livetemplate/lessonview/internal/widget"
)

func sampleLesson(t *testing.T) *lessonview.Lesson {
	t.Helper()
	lesson, err := lessonview.ParseYAML([]byte(`title: Loops
description: Repeating work
sections:
  - id: basics
    title: Basics
    items:
      - type: paragraph
        content: Loops repeat code.
      - type: list
        content: [for, range]
      - type: code
        content: for i := 0; i < 3; i++ {}
      - type: terminal
        content: go run .
        output: "0\n1\n2\n"
      - type: interactive
        component: counter
      - type: interactive
        component: Ghost
      - type: image
        content: javascript:alert(1)
        alt: bad
`), "loops.yaml")
	require.NoError(t, err)
	// Hand-built documents can carry text where a list belongs.
	lesson.Sections[0].Items = append(lesson.Sections[0].Items,
		lessonview.ContentItem{Type: lessonview.TypeList, Content: lessonview.Text("not a list")})
	return lesson
}

func TestMarkdown(t *testing.T) {
	r, err := New(Options{Style: "notty", Registry: widget.NewRegistry(widget.Builtins())})
	require.NoError(t, err)

	md := r.Markdown(sampleLesson(t))
	assert.Contains(t, md, "# Loops\n")
	assert.Contains(t, md, "## Basics\n")
	assert.Contains(t, md, "- for\n- range")
	assert.NotContains(t, md, "not a list")
	assert.Contains(t, md, "```javascript\nfor i := 0; i < 3; i++ {}\n```")
	assert.Contains(t, md, "```bash\ngo run .\n```")
	assert.Contains(t, md, "```text\n0\n1\n2\n```")
	assert.Contains(t, md, "Interactive widget `counter` (basics)")
	assert.Contains(t, md, "Widget `Ghost` not found")
	assert.NotContains(t, md, "javascript:alert")
}

func TestRender(t *testing.T) {
	r, err := New(Options{Style: "notty", Width: 60})
	require.NoError(t, err)

	out, err := r.Render(sampleLesson(t))
	require.NoError(t, err)
	assert.Contains(t, out, "Loops repeat code.")
	assert.Contains(t, out, "go run .")
	// Without a registry every widget is unknown.
	assert.Contains(t, out, "not found")
}

func TestPlay(t *testing.T) {
	var buf bytes.Buffer
	err := Play(context.Background(), &buf, terminal.Spec{Command: "go test", Output: "ok\n"},
		terminal.WithTiming(time.Millisecond, time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, "$ go test\nok\n", buf.String())
}

func TestPlayTextAdventure(t *testing.T) {
	var buf bytes.Buffer
	err := Play(context.Background(), &buf, terminal.Spec{
		Command:  "look",
		Output:   "You are in a maze",
		EffectID: lessonview.EffectTextAdventure,
	}, terminal.WithTiming(time.Millisecond, time.Millisecond))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(buf.String(), "You are in a maze\n"), buf.String())
}

func TestPlayCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	err := Play(ctx, &buf, terminal.Spec{Command: "sleep", Output: "never"},
		terminal.WithClock(clock.NewFake()))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, buf.String(), "never")
}
