// Package dispatch turns lesson content items into live blocks: stateless
// text fragments, code panels, simulated terminals, diagrams, and widgets
// behind a loading boundary.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log"

	"github.com/livetemplate/lessonview"
	"github.com/livetemplate/lessonview/internal/codepanel"
	"github.com/livetemplate/lessonview/internal/diagram"
	"github.com/livetemplate/lessonview/internal/terminal"
)

// ErrUnsupportedAction is returned for actions a block does not handle.
var ErrUnsupportedAction = errors.New("unsupported action")

// Block is the rendering of one content item.
type Block interface {
	ID() string
	Kind() lessonview.ItemType
	Render(ctx context.Context) template.HTML
	Close()
}

// Actor is implemented by blocks that accept user actions.
type Actor interface {
	HandleAction(ctx context.Context, action string, data json.RawMessage) error
}

// Render renders b, recovering a panic into an empty rendering.
func Render(ctx context.Context, b Block) (html template.HTML) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Dispatch] Block %s (%s) panicked during render: %v", b.ID(), b.Kind(), r)
			html = ""
		}
	}()
	return b.Render(ctx)
}

func execute(t *template.Template, data any) template.HTML {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		log.Printf("[Dispatch] Failed to execute %s template: %v", t.Name(), err)
		return ""
	}
	return template.HTML(buf.String())
}

// staticBlock is a fixed fragment. An empty fragment is the no-op rendering.
type staticBlock struct {
	id   string
	kind lessonview.ItemType
	html template.HTML
}

func (b *staticBlock) ID() string { return b.id }
func (b *staticBlock) Kind() lessonview.ItemType { return b.kind }
func (b *staticBlock) Render(context.Context) template.HTML { return b.html }
func (b *staticBlock) Close() {}

// CodeBlock wraps a code panel.
type CodeBlock struct {
	id    string
	panel *codepanel.Panel
}

func (b *CodeBlock) ID() string { return b.id }
func (b *CodeBlock) Kind() lessonview.ItemType { return lessonview.TypeCode }
func (b *CodeBlock) Panel() *codepanel.Panel { return b.panel }
func (b *CodeBlock) Render(context.Context) template.HTML { return b.panel.Render() }
func (b *CodeBlock) Close() { b.panel.Close() }

// HandleAction supports "copy". Clipboard failures are logged by the panel
// and otherwise ignored.
func (b *CodeBlock) HandleAction(ctx context.Context, action string, _ json.RawMessage) error {
	if action != "copy" {
		return ErrUnsupportedAction
	}
	_ = b.panel.Copy(ctx)
	return nil
}

// TerminalBlock wraps a simulated terminal.
type TerminalBlock struct {
	id   string
	term *terminal.Terminal
}

func (b *TerminalBlock) ID() string { return b.id }
func (b *TerminalBlock) Kind() lessonview.ItemType { return lessonview.TypeTerminal }
func (b *TerminalBlock) Terminal() *terminal.Terminal { return b.term }
func (b *TerminalBlock) Render(context.Context) template.HTML { return b.term.Render() }
func (b *TerminalBlock) Close() { b.term.Close() }

// HandleAction supports "copy" and "run". A run while one is in progress is
// ignored.
func (b *TerminalBlock) HandleAction(ctx context.Context, action string, _ json.RawMessage) error {
	switch action {
	case "copy":
		_ = b.term.Copy(ctx)
	case "run":
		b.term.Run()
	default:
		return ErrUnsupportedAction
	}
	return nil
}

var diagramTemplate = template.Must(template.New("diagram").Parse(
	`<div class="lv-diagram{{if .Failed}} lv-diagram-error{{end}}">{{.Markup}}</div>`))

// DiagramBlock wraps a diagram renderer.
type DiagramBlock struct {
	id       string
	renderer *diagram.Renderer
}

func (b *DiagramBlock) ID() string { return b.id }
func (b *DiagramBlock) Kind() lessonview.ItemType { return lessonview.TypeMermaid }
func (b *DiagramBlock) Renderer() *diagram.Renderer { return b.renderer }
func (b *DiagramBlock) Close() {}

// Render renders the diagram on first use. Service markup is trusted; the
// failure placeholder is plain text.
func (b *DiagramBlock) Render(ctx context.Context) template.HTML {
	markup, failed := b.renderer.Render(ctx)
	data := struct {
		Markup any
		Failed bool
	}{Markup: template.HTML(markup), Failed: failed}
	if failed {
		data.Markup = markup
	}
	return execute(diagramTemplate, data)
}
