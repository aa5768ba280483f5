package dispatch

import (
	"bytes"
	"context"
	"html/template"
	"log"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/livetemplate/lessonview"
	"github.com/livetemplate/lessonview/internal/clipboard"
	"github.com/livetemplate/lessonview/internal/clock"
	"github.com/livetemplate/lessonview/internal/codepanel"
	"github.com/livetemplate/lessonview/internal/diagram"
	"github.com/livetemplate/lessonview/internal/metrics"
	"github.com/livetemplate/lessonview/internal/security"
	"github.com/livetemplate/lessonview/internal/terminal"
	"github.com/livetemplate/lessonview/internal/widget"
)

// Timing holds the durations used by interactive blocks. Zero values use
// the package defaults of codepanel and terminal.
type Timing struct {
	CopyConfirm time.Duration
	RunDelay    time.Duration
	RevealTick  time.Duration
}

// Dispatcher maps content items to blocks.
type Dispatcher struct {
	registry  *widget.Registry
	diagrams  diagram.Service
	clipboard clipboard.Clipboard
	clock     clock.Clock
	timing    Timing
	md        goldmark.Markdown
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDiagramService sets the service used for mermaid items.
func WithDiagramService(s diagram.Service) Option {
	return func(d *Dispatcher) { d.diagrams = s }
}

// WithClipboard sets the clipboard used by code panels and terminals.
func WithClipboard(cb clipboard.Clipboard) Option {
	return func(d *Dispatcher) { d.clipboard = cb }
}

// WithClock sets the clock that drives copy confirmation and reveals.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithTiming overrides block timings.
func WithTiming(t Timing) Option {
	return func(d *Dispatcher) { d.timing = t }
}

// New creates a dispatcher resolving interactive items against registry.
// A nil registry treats every widget as missing.
func New(registry *widget.Registry, opts ...Option) *Dispatcher {
	if registry == nil {
		registry = widget.NewRegistry(nil)
	}
	d := &Dispatcher{
		registry:  registry,
		diagrams:  diagram.ClientService{},
		clipboard: clipboard.None,
		clock:     clock.New(),
		md:        goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the widget registry.
func (d *Dispatcher) Registry() *widget.Registry { return d.registry }

// Slot places an item in a view.
type Slot struct {
	// ID identifies the block within its view.
	ID string
	// Section is the enclosing section; its ID is the fallback widget identity.
	Section lessonview.Section
	// OnChange is called after the block's state changes outside of a
	// render, such as a reveal tick or a finished widget load.
	OnChange func()
}

var (
	paragraphTemplate = template.Must(template.New("paragraph").Parse(`<div class="lv-paragraph">{{.}}</div>`))
	headingTemplate   = template.Must(template.New("heading").Parse(`<h3 class="lv-heading">{{.}}</h3>`))
	quoteTemplate     = template.Must(template.New("quote").Parse(`<blockquote class="lv-quote">{{.}}</blockquote>`))
	listTemplate      = template.Must(template.New("list").Parse(`<ol class="lv-list">
{{- range .}}
<li>{{.}}</li>
{{- end}}
</ol>`))
	imageTemplate = template.Must(template.New("image").Parse(`<img class="lv-image" src="{{.Src}}" alt="{{.Alt}}" loading="lazy">`))
)

// Dispatch returns exactly one block for item, selected by its type.
// Unknown types and non-list list content yield an empty block. A panic
// while building the block also yields an empty block.
func (d *Dispatcher) Dispatch(ctx context.Context, item lessonview.ContentItem, slot Slot) (b Block) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Dispatch] Item %s (%s) panicked: %v", slot.ID, item.Type, r)
			b = &staticBlock{id: slot.ID, kind: item.Type}
		}
	}()

	label := string(item.Type)
	if !item.Type.Known() {
		label = "unknown"
	}
	metrics.Dispatched.WithLabelValues(label).Inc()

	switch item.Type {
	case lessonview.TypeParagraph:
		return d.static(slot, item.Type, execute(paragraphTemplate, d.inline(item.Content.Text())))
	case lessonview.TypeHeading:
		return d.static(slot, item.Type, execute(headingTemplate, item.Content.Text()))
	case lessonview.TypeQuote:
		return d.static(slot, item.Type, execute(quoteTemplate, d.inline(item.Content.Text())))
	case lessonview.TypeList:
		if !item.Content.IsList() {
			return d.static(slot, item.Type, "")
		}
		return d.static(slot, item.Type, execute(listTemplate, item.Content.Items()))
	case lessonview.TypeImage:
		return d.image(slot, item)
	case lessonview.TypeCode:
		lang := item.Language
		if lang == "" {
			lang = lessonview.DefaultCodeLanguage
		}
		return &CodeBlock{id: slot.ID, panel: codepanel.New(item.Content.Text(), lang,
			codepanel.WithClipboard(d.clipboard),
			codepanel.WithClock(d.clock),
			codepanel.WithConfirmWindow(d.timing.CopyConfirm),
			codepanel.WithOnChange(slot.OnChange),
		)}
	case lessonview.TypeTerminal:
		return &TerminalBlock{id: slot.ID, term: terminal.New(terminal.SpecFromItem(item),
			terminal.WithClipboard(d.clipboard),
			terminal.WithClock(d.clock),
			terminal.WithTiming(d.timing.RunDelay, d.timing.RevealTick),
			terminal.WithConfirmWindow(d.timing.CopyConfirm),
			terminal.WithOnChange(slot.OnChange),
		)}
	case lessonview.TypeMermaid:
		return &DiagramBlock{id: slot.ID, renderer: diagram.NewRenderer(d.diagrams, item.Content.Text())}
	case lessonview.TypeInteractive:
		return d.interactive(ctx, item, slot)
	default:
		if item.Type != "" {
			log.Printf("[Dispatch] Ignoring item %s with unknown type %q", slot.ID, item.Type)
		}
		return d.static(slot, item.Type, "")
	}
}

func (d *Dispatcher) static(slot Slot, kind lessonview.ItemType, html template.HTML) Block {
	return &staticBlock{id: slot.ID, kind: kind, html: html}
}

func (d *Dispatcher) image(slot Slot, item lessonview.ContentItem) Block {
	src := item.Content.Text()
	if err := security.ValidateImageSource(src); err != nil {
		log.Printf("[Dispatch] Dropping image %s: %v", slot.ID, err)
		return d.static(slot, item.Type, "")
	}
	data := struct{ Src, Alt string }{src, item.Alt}
	return d.static(slot, item.Type, execute(imageTemplate, data))
}

func (d *Dispatcher) interactive(ctx context.Context, item lessonview.ContentItem, slot Slot) Block {
	entry, ok := d.registry.Lookup(item.Component)
	if !ok {
		log.Printf("[Widget] Widget %q not found (block %s)", item.Component, slot.ID)
		return missingWidget(slot.ID, item.Component)
	}
	id := item.InteractiveID
	if id == "" {
		id = slot.Section.ID
	}
	return newWidgetBlock(ctx, slot.ID, entry, widget.Props{InteractiveID: id}, slot.OnChange)
}

// inline renders text as markdown. Raw HTML in the source is omitted.
func (d *Dispatcher) inline(text string) template.HTML {
	var buf bytes.Buffer
	if err := d.md.Convert([]byte(text), &buf); err != nil {
		log.Printf("[Dispatch] Markdown conversion failed: %v", err)
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(bytes.TrimSpace(buf.Bytes()))
}
