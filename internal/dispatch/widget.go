package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"sync"

	"github.com/livetemplate/lessonview"
	"github.com/livetemplate/lessonview/internal/widget"
)

// WidgetState is the load state of one mounted widget.
type WidgetState int

const (
	WidgetLoading WidgetState = iota
	WidgetReady
	WidgetFailed
)

func (s WidgetState) String() string {
	switch s {
	case WidgetReady:
		return "ready"
	case WidgetFailed:
		return "failed"
	default:
		return "loading"
	}
}

// LoadingText is shown while a widget implementation is being loaded.
const LoadingText = "Initializing…"

var (
	missingWidgetTemplate = template.Must(template.New("missing-widget").Parse(
		`<div class="lv-widget-error" role="alert">Widget <code>{{.}}</code> not found</div>`))

	widgetTemplate = template.Must(template.New("widget").Parse(
		`<div class="lv-widget-boundary" data-state="{{.State}}" data-interactive-id="{{.ID}}">
{{- if eq .State "loading"}}<div class="lv-widget-loading" aria-busy="true">{{.Loading}}</div>
{{- else if eq .State "failed"}}<div class="lv-widget-error" role="alert">Widget <code>{{.Name}}</code> failed to load</div>
{{- else}}{{.Body}}{{end -}}
</div>`))
)

// missingWidget renders the inline error for an unregistered widget name.
func missingWidget(id, name string) Block {
	return &staticBlock{
		id:   id,
		kind: lessonview.TypeInteractive,
		html: execute(missingWidgetTemplate, name),
	}
}

// WidgetBlock renders a registered widget behind a loading boundary. The
// load starts when the block is created and runs independently of sibling
// blocks; until it settles the block renders LoadingText.
type WidgetBlock struct {
	id       string
	name     string
	props    widget.Props
	onChange func()

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	state    WidgetState
	instance widget.Widget
	err      error
}

func newWidgetBlock(ctx context.Context, id string, entry *widget.Entry, props widget.Props, onChange func()) *WidgetBlock {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := &WidgetBlock{
		id:       id,
		name:     entry.Name(),
		props:    props,
		onChange: onChange,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	// Already loaded factories still instantiate asynchronously so every
	// widget goes through the same boundary.
	go b.load(entry)
	return b
}

func (b *WidgetBlock) load(entry *widget.Entry) {
	defer close(b.done)

	inst, err := b.instantiate(entry)

	b.mu.Lock()
	if b.ctx.Err() != nil {
		b.mu.Unlock()
		closeWidget(inst)
		return
	}
	if err != nil {
		log.Printf("[Widget] %s (%s): %v", b.name, b.props.InteractiveID, err)
		b.state, b.err = WidgetFailed, err
	} else {
		b.state, b.instance = WidgetReady, inst
	}
	b.mu.Unlock()

	if b.onChange != nil {
		b.onChange()
	}
}

func (b *WidgetBlock) instantiate(entry *widget.Entry) (inst widget.Widget, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("widget factory panicked: %v", r)
		}
	}()
	factory, err := entry.Load(b.ctx)
	if err != nil {
		return nil, err
	}
	inst, err = factory(b.ctx, b.props)
	if err == nil && inst == nil {
		err = fmt.Errorf("widget factory returned nothing")
	}
	return inst, err
}

func (b *WidgetBlock) ID() string { return b.id }

func (b *WidgetBlock) Kind() lessonview.ItemType { return lessonview.TypeInteractive }

// Name returns the registered widget name.
func (b *WidgetBlock) Name() string { return b.name }

// Props returns the configuration given to the widget instance.
func (b *WidgetBlock) Props() widget.Props { return b.props }

// State returns the current load state and the load error, if any.
func (b *WidgetBlock) State() (WidgetState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.err
}

// Wait blocks until the load settles or ctx ends.
func (b *WidgetBlock) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *WidgetBlock) Render(ctx context.Context) template.HTML {
	b.mu.Lock()
	state, inst := b.state, b.instance
	b.mu.Unlock()

	data := struct {
		State   string
		ID      string
		Name    string
		Loading string
		Body    template.HTML
	}{
		State:   state.String(),
		ID:      b.props.InteractiveID,
		Name:    b.name,
		Loading: LoadingText,
	}
	if state == WidgetReady && inst != nil {
		body, err := inst.Render(ctx)
		if err != nil {
			log.Printf("[Widget] Failed to render %s (%s): %v", b.name, b.props.InteractiveID, err)
		}
		data.Body = body
	}
	return execute(widgetTemplate, data)
}

// HandleAction forwards an action to a ready widget.
func (b *WidgetBlock) HandleAction(ctx context.Context, action string, data json.RawMessage) error {
	b.mu.Lock()
	state, inst := b.state, b.instance
	b.mu.Unlock()

	if state != WidgetReady {
		return fmt.Errorf("widget %s is %s", b.name, state)
	}
	h, ok := inst.(widget.ActionHandler)
	if !ok {
		return ErrUnsupportedAction
	}
	return h.HandleAction(ctx, action, data)
}

// Close abandons an outstanding load and releases the instance.
func (b *WidgetBlock) Close() {
	b.mu.Lock()
	b.cancel()
	inst := b.instance
	b.instance = nil
	b.mu.Unlock()
	closeWidget(inst)
}

func closeWidget(w widget.Widget) {
	switch c := w.(type) {
	case interface{ Close(context.Context) error }:
		if err := c.Close(context.Background()); err != nil {
			log.Printf("[Widget] Failed to close instance: %v", err)
		}
	case interface{ Close() error }:
		_ = c.Close()
	case interface{ Close() }:
		c.Close()
	}
}
