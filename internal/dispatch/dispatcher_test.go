package dispatch

import (
	"context"
	"errors"
	"html/template"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetemplate/lessonview"
	"github.com/livetemplate/lessonview/internal/clipboard"
	"github.com/livetemplate/lessonview/internal/clock"
	"github.com/livetemplate/lessonview/internal/diagram"
	"github.com/livetemplate/lessonview/internal/widget"
)

var section = lessonview.Section{ID: "basics", Title: "Basics"}

func slot(id string) Slot { return Slot{ID: id, Section: section} }

func render(t *testing.T, b Block) string {
	t.Helper()
	return string(Render(context.Background(), b))
}

type echoWidget struct{ id string }

func (w *echoWidget) Render(context.Context) (template.HTML, error) {
	return template.HTML(`<span class="echo">` + template.HTMLEscapeString(w.id) + `</span>`), nil
}

func echoFactory(_ context.Context, p widget.Props) (widget.Widget, error) {
	return &echoWidget{id: p.InteractiveID}, nil
}

type panicWidget struct{}

func (panicWidget) Render(context.Context) (template.HTML, error) { panic("render exploded") }

func TestDispatchIsTotal(t *testing.T) {
	d := New(widget.NewRegistry(widget.Builtins()))
	ctx := context.Background()

	for _, typ := range append(lessonview.ItemTypes, "video", "") {
		t.Run(string(typ), func(t *testing.T) {
			b := d.Dispatch(ctx, lessonview.ContentItem{Type: typ}, slot("x-0"))
			require.NotNil(t, b)
			assert.Equal(t, "x-0", b.ID())
			assert.Equal(t, typ, b.Kind())
			assert.NotPanics(t, func() { Render(ctx, b) })
			b.Close()
		})
	}
}

func TestUnknownTypeRendersNothing(t *testing.T) {
	d := New(nil)
	b := d.Dispatch(context.Background(), lessonview.ContentItem{Type: "video", Content: lessonview.Text("x.mp4")}, slot("a-0"))
	assert.Empty(t, render(t, b))
}

func TestListRendering(t *testing.T) {
	d := New(nil)
	ctx := context.Background()

	b := d.Dispatch(ctx, lessonview.ContentItem{Type: lessonview.TypeList, Content: lessonview.List("a", "b", "c")}, slot("l-0"))
	html := render(t, b)
	assert.Equal(t, 3, strings.Count(html, "<li>"))
	ia, ib, ic := strings.Index(html, "<li>a</li>"), strings.Index(html, "<li>b</li>"), strings.Index(html, "<li>c</li>")
	assert.True(t, ia >= 0 && ia < ib && ib < ic, "entries keep input order: %s", html)

	b = d.Dispatch(ctx, lessonview.ContentItem{Type: lessonview.TypeList, Content: lessonview.Text("not-a-list")}, slot("l-1"))
	assert.Empty(t, render(t, b))
}

func TestTextBlocks(t *testing.T) {
	d := New(nil)
	ctx := context.Background()

	p := d.Dispatch(ctx, lessonview.ContentItem{Type: lessonview.TypeParagraph,
		Content: lessonview.Text("Use **bold** text. <script>alert(1)</script>")}, slot("p"))
	html := render(t, p)
	assert.Contains(t, html, "<strong>bold</strong>")
	assert.NotContains(t, html, "<script>")

	h := d.Dispatch(ctx, lessonview.ContentItem{Type: lessonview.TypeHeading, Content: lessonview.Text("A < B")}, slot("h"))
	assert.Contains(t, render(t, h), "A &lt; B")

	q := d.Dispatch(ctx, lessonview.ContentItem{Type: lessonview.TypeQuote, Content: lessonview.Text("Simple is better")}, slot("q"))
	assert.Contains(t, render(t, q), "<blockquote")
	assert.Contains(t, render(t, q), "Simple is better")
}

func TestImage(t *testing.T) {
	d := New(nil)
	ctx := context.Background()

	b := d.Dispatch(ctx, lessonview.ContentItem{Type: lessonview.TypeImage,
		Content: lessonview.Text("img/flow.png"), Alt: `Data "flow"`}, slot("i"))
	html := render(t, b)
	assert.Contains(t, html, `src="img/flow.png"`)
	assert.Contains(t, html, `alt="Data &#34;flow&#34;"`)

	b = d.Dispatch(ctx, lessonview.ContentItem{Type: lessonview.TypeImage,
		Content: lessonview.Text("javascript:alert(1)"), Alt: "x"}, slot("j"))
	assert.Empty(t, render(t, b))
}

func TestCodeBlockCopy(t *testing.T) {
	clk := clock.NewFake()
	cb := &clipboard.Memory{}
	d := New(nil, WithClock(clk), WithClipboard(cb))
	ctx := context.Background()

	b := d.Dispatch(ctx, lessonview.ContentItem{Type: lessonview.TypeCode, Content: lessonview.Text("  x = 1  ")}, slot("c"))
	code, ok := b.(*CodeBlock)
	require.True(t, ok)
	assert.Equal(t, lessonview.DefaultCodeLanguage, code.Panel().Language())

	require.NoError(t, code.HandleAction(ctx, "copy", nil))
	assert.Equal(t, "x = 1", cb.Text())
	assert.True(t, code.Panel().Copied())
	assert.Contains(t, render(t, b), "Copied!")

	clk.Advance(2 * time.Second)
	assert.False(t, code.Panel().Copied())

	assert.ErrorIs(t, code.HandleAction(ctx, "run", nil), ErrUnsupportedAction)
}

func TestCodeBlockCopyFailureIsSilent(t *testing.T) {
	cb := &clipboard.Memory{Err: errors.New("denied")}
	d := New(nil, WithClock(clock.NewFake()), WithClipboard(cb))
	b := d.Dispatch(context.Background(), lessonview.ContentItem{Type: lessonview.TypeCode, Content: lessonview.Text("ls")}, slot("c"))

	require.NoError(t, b.(Actor).HandleAction(context.Background(), "copy", nil))
	assert.False(t, b.(*CodeBlock).Panel().Copied())
}

func TestTerminalBlockRun(t *testing.T) {
	clk := clock.NewFake()
	d := New(nil, WithClock(clk))
	ctx := context.Background()

	b := d.Dispatch(ctx, lessonview.ContentItem{Type: lessonview.TypeTerminal,
		Content: lessonview.Text("echo done"), Output: "done"}, slot("t"))
	term := b.(*TerminalBlock).Terminal()
	assert.Equal(t, lessonview.DefaultTerminalLanguage, term.Panel().Language())

	require.NoError(t, b.(Actor).HandleAction(ctx, "run", nil))
	assert.True(t, term.IsRunning())
	clk.Advance(700 * time.Millisecond)
	assert.Equal(t, "done", term.Output())
	assert.False(t, term.IsRunning())
	assert.Contains(t, render(t, b), "done")
}

func TestTerminalBlockPassesEffectHook(t *testing.T) {
	clk := clock.NewFake()
	d := New(nil, WithClock(clk))
	calls := 0
	item := lessonview.ContentItem{Type: lessonview.TypeTerminal, Content: lessonview.Text("play"),
		Output: "You win", EffectID: "confetti", OnRunCustomEffect: func() { calls++ }}

	b := d.Dispatch(context.Background(), item, slot("t"))
	require.NoError(t, b.(Actor).HandleAction(context.Background(), "run", nil))
	assert.Equal(t, 1, calls)
}

type countingService struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *countingService) Render(_ context.Context, id, description string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return `<svg id="` + id + `"></svg>`, nil
}

func TestDiagramBlock(t *testing.T) {
	svc := &countingService{}
	d := New(nil, WithDiagramService(svc))
	b := d.Dispatch(context.Background(), lessonview.ContentItem{Type: lessonview.TypeMermaid,
		Content: lessonview.Text("graph TD; A-->B")}, slot("m"))

	first := render(t, b)
	second := render(t, b)
	assert.Contains(t, first, "<svg")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, svc.calls)
}

func TestDiagramBlockFailure(t *testing.T) {
	svc := &countingService{err: errors.New("bad syntax")}
	d := New(nil, WithDiagramService(svc))
	b := d.Dispatch(context.Background(), lessonview.ContentItem{Type: lessonview.TypeMermaid,
		Content: lessonview.Text("graph ???")}, slot("m"))

	html := render(t, b)
	assert.Contains(t, html, diagram.ErrorPlaceholder)
	assert.Contains(t, html, "lv-diagram-error")
	render(t, b)
	assert.Equal(t, 1, svc.calls, "failures are not retried")
}

func TestMissingWidget(t *testing.T) {
	d := New(widget.NewRegistry(widget.Builtins()))
	b := d.Dispatch(context.Background(), lessonview.ContentItem{Type: lessonview.TypeInteractive, Component: "NoSuchWidget"}, slot("w"))

	_, isWidget := b.(*WidgetBlock)
	assert.False(t, isWidget)
	html := render(t, b)
	assert.Contains(t, html, "NoSuchWidget")
	assert.Contains(t, html, `role="alert"`)
}

func TestWidgetLoadingBoundary(t *testing.T) {
	release := make(chan struct{})
	reg := widget.NewRegistry(map[string]widget.Loader{
		"Echo": func(ctx context.Context) (widget.Factory, error) {
			<-release
			return echoFactory, nil
		},
	})
	d := New(reg)
	ctx := context.Background()

	changed := make(chan struct{}, 1)
	s := slot("w")
	s.OnChange = func() { changed <- struct{}{} }
	b := d.Dispatch(ctx, lessonview.ContentItem{Type: lessonview.TypeInteractive, Component: "Echo"}, s)
	wb, ok := b.(*WidgetBlock)
	require.True(t, ok)

	state, _ := wb.State()
	assert.Equal(t, WidgetLoading, state)
	assert.Contains(t, render(t, b), LoadingText)

	close(release)
	require.NoError(t, wb.Wait(ctx))
	<-changed

	state, err := wb.State()
	require.NoError(t, err)
	assert.Equal(t, WidgetReady, state)
	html := render(t, b)
	assert.NotContains(t, html, LoadingText)
	assert.Contains(t, html, `<span class="echo">basics</span>`, "identity falls back to the section id")
}

func TestWidgetIdentityPrefersInteractiveID(t *testing.T) {
	d := New(widget.NewRegistry(map[string]widget.Loader{"Echo": widget.Static(echoFactory)}))
	ctx := context.Background()
	b := d.Dispatch(ctx, lessonview.ContentItem{Type: lessonview.TypeInteractive, Component: "Echo", InteractiveID: "quiz-1"}, slot("w"))
	wb := b.(*WidgetBlock)
	require.NoError(t, wb.Wait(ctx))

	assert.Equal(t, "quiz-1", wb.Props().InteractiveID)
	assert.Contains(t, render(t, b), `<span class="echo">quiz-1</span>`)
}

func TestWidgetLoadFailure(t *testing.T) {
	reg := widget.NewRegistry(map[string]widget.Loader{
		"Broken": func(context.Context) (widget.Factory, error) { return nil, errors.New("chunk missing") },
	})
	d := New(reg)
	ctx := context.Background()
	b := d.Dispatch(ctx, lessonview.ContentItem{Type: lessonview.TypeInteractive, Component: "Broken"}, slot("w"))
	wb := b.(*WidgetBlock)
	require.NoError(t, wb.Wait(ctx))

	state, err := wb.State()
	assert.Equal(t, WidgetFailed, state)
	var le *widget.LoadError
	assert.ErrorAs(t, err, &le)
	html := render(t, b)
	assert.Contains(t, html, "Broken")
	assert.Contains(t, html, `data-state="failed"`)
	assert.Error(t, wb.HandleAction(ctx, "increment", nil))
}

func TestWidgetActions(t *testing.T) {
	d := New(widget.NewRegistry(widget.Builtins()))
	ctx := context.Background()
	b := d.Dispatch(ctx, lessonview.ContentItem{Type: lessonview.TypeInteractive, Component: "counter", InteractiveID: "c"}, slot("w"))
	wb := b.(*WidgetBlock)
	require.NoError(t, wb.Wait(ctx))

	require.NoError(t, wb.HandleAction(ctx, "increment", nil))
	assert.Contains(t, render(t, b), "<output>1</output>")
}

func TestWidgetRenderPanicIsContained(t *testing.T) {
	reg := widget.NewRegistry(map[string]widget.Loader{
		"Bomb": widget.Static(func(context.Context, widget.Props) (widget.Widget, error) { return panicWidget{}, nil }),
	})
	d := New(reg)
	ctx := context.Background()
	b := d.Dispatch(ctx, lessonview.ContentItem{Type: lessonview.TypeInteractive, Component: "Bomb"}, slot("w"))
	require.NoError(t, b.(*WidgetBlock).Wait(ctx))

	assert.NotPanics(t, func() { assert.Empty(t, render(t, b)) })
}
