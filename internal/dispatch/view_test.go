package dispatch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetemplate/lessonview"
	"github.com/livetemplate/lessonview/internal/clipboard"
	"github.com/livetemplate/lessonview/internal/clock"
	"github.com/livetemplate/lessonview/internal/widget"
)

func sampleLesson() *lessonview.Lesson {
	return &lessonview.Lesson{
		ID:    "intro-go",
		Title: "Intro to Go",
		Sections: []lessonview.Section{
			{ID: "setup", Title: "Setup", Items: []lessonview.ContentItem{
				{Type: lessonview.TypeParagraph, Content: lessonview.Text("Install the toolchain.")},
				{Type: lessonview.TypeTerminal, Content: lessonview.Text("go version"), Output: "go1.22", EffectID: lessonview.EffectTextAdventure},
			}},
			{ID: "play", Title: "Play", Items: []lessonview.ContentItem{
				{Type: lessonview.TypeInteractive, Component: "counter"},
				{Type: lessonview.TypeInteractive, Component: "Missing"},
				{Type: "video"},
				{Type: lessonview.TypeCode, Content: lessonview.Text("fmt.Println(1)"), Language: "go"},
			}},
		},
	}
}

func TestMountAssignsBlockIDs(t *testing.T) {
	v := Mount(context.Background(), New(widget.NewRegistry(widget.Builtins())), sampleLesson(), nil)
	defer v.Close()

	require.Len(t, v.Sections(), 2)
	assert.Len(t, v.Sections()[1].Blocks, 4)
	for _, id := range []string{"setup-0", "setup-1", "play-0", "play-1", "play-2", "play-3"} {
		_, ok := v.Block(id)
		assert.True(t, ok, id)
	}
	assert.NotEmpty(t, v.ID())
}

func TestViewRender(t *testing.T) {
	ctx := context.Background()
	v := Mount(ctx, New(widget.NewRegistry(widget.Builtins())), sampleLesson(), nil)
	defer v.Close()
	require.NoError(t, v.Wait(ctx))

	html := string(v.Render(ctx))
	assert.Contains(t, html, "<h1>Intro to Go</h1>")
	assert.Contains(t, html, `<section class="lv-section" id="setup">`)
	assert.Contains(t, html, `id="block-play-0"`)
	assert.Contains(t, html, `data-interactive-id="play"`)
	assert.Contains(t, html, "Missing")
	assert.Contains(t, html, `class="lv-block lv-unknown"`)
	assert.Less(t, strings.Index(html, "block-setup-0"), strings.Index(html, "block-play-3"))
}

func TestViewActions(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake()
	cb := &clipboard.Memory{}

	var mu sync.Mutex
	var changed []string
	v := Mount(ctx, New(widget.NewRegistry(widget.Builtins()), WithClock(clk), WithClipboard(cb)), sampleLesson(),
		func(id string) {
			mu.Lock()
			changed = append(changed, id)
			mu.Unlock()
		})
	defer v.Close()
	require.NoError(t, v.Wait(ctx))

	require.NoError(t, v.Action(ctx, "play-3", "copy", nil))
	assert.Equal(t, "fmt.Println(1)", cb.Text())

	require.NoError(t, v.Action(ctx, "setup-1", "run", nil))
	clk.Advance(700*time.Millisecond + 5*15*time.Millisecond)
	html, err := v.RenderBlock(ctx, "setup-1")
	require.NoError(t, err)
	assert.Contains(t, string(html), "go1.22")

	require.NoError(t, v.Action(ctx, "play-0", "increment", nil))
	html, _ = v.RenderBlock(ctx, "play-0")
	assert.Contains(t, string(html), "<output>1</output>")

	assert.ErrorIs(t, v.Action(ctx, "nope-0", "copy", nil), ErrUnknownBlock)
	assert.ErrorIs(t, v.Action(ctx, "setup-0", "copy", nil), ErrUnsupportedAction)
	_, err = v.RenderBlock(ctx, "nope-0")
	assert.ErrorIs(t, err, ErrUnknownBlock)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, changed, "setup-1")
	assert.Contains(t, changed, "play-0")
}

func TestViewCloseCancelsTimers(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake()
	v := Mount(ctx, New(nil, WithClock(clk), WithClipboard(&clipboard.Memory{})), sampleLesson(), nil)

	require.NoError(t, v.Action(ctx, "setup-1", "run", nil))
	require.NoError(t, v.Action(ctx, "play-3", "copy", nil))
	assert.Equal(t, 2, clk.Pending())

	v.Close()
	v.Close()
	assert.Equal(t, 0, clk.Pending())

	b, _ := v.Block("setup-1")
	clk.Advance(time.Second)
	assert.Empty(t, b.(*TerminalBlock).Terminal().Output(), "closed terminal never reveals")
}

func TestWidgetLoadDoesNotBlockSiblings(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	reg := widget.NewRegistry(map[string]widget.Loader{
		"counter": func(ctx context.Context) (widget.Factory, error) {
			<-release
			return widget.NewCounter, nil
		},
	})
	ctx := context.Background()
	v := Mount(ctx, New(reg), sampleLesson(), nil)
	defer v.Close()

	html := string(v.Render(ctx))
	assert.Contains(t, html, LoadingText)
	assert.Contains(t, html, "Install the toolchain.")
	assert.Contains(t, html, "fmt")
}
