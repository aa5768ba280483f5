package widget

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"sync"
)

// Builtins returns loaders for the sample widgets that ship with the binary.
func Builtins() map[string]Loader {
	return map[string]Loader{
		"counter": Static(NewCounter),
		"slider":  Static(NewSlider),
		"toggle":  Static(NewToggle),
	}
}

func renderTemplate(t *template.Template, data any) (template.HTML, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

// Counter is a click counter.
type Counter struct {
	id    string
	mu    sync.Mutex
	count int
}

func NewCounter(_ context.Context, props Props) (Widget, error) {
	return &Counter{id: props.InteractiveID}, nil
}

var counterTemplate = template.Must(template.New("counter").Parse(`<div class="lv-widget lv-counter" data-interactive-id="{{.ID}}">
<button type="button" data-widget-action="decrement" aria-label="Decrement">−</button>
<output>{{.Count}}</output>
<button type="button" data-widget-action="increment" aria-label="Increment">+</button>
<button type="button" data-widget-action="reset">Reset</button>
</div>`))

func (c *Counter) Render(context.Context) (template.HTML, error) {
	c.mu.Lock()
	data := struct {
		ID    string
		Count int
	}{c.id, c.count}
	c.mu.Unlock()
	return renderTemplate(counterTemplate, data)
}

func (c *Counter) HandleAction(_ context.Context, action string, _ json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch action {
	case "increment":
		c.count++
	case "decrement":
		c.count--
	case "reset":
		c.count = 0
	default:
		return fmt.Errorf("counter: unknown action %q", action)
	}
	return nil
}

// Slider holds a value between 0 and 100.
type Slider struct {
	id    string
	mu    sync.Mutex
	value int
}

func NewSlider(_ context.Context, props Props) (Widget, error) {
	return &Slider{id: props.InteractiveID, value: 50}, nil
}

var sliderTemplate = template.Must(template.New("slider").Parse(`<div class="lv-widget lv-slider" data-interactive-id="{{.ID}}">
<input type="range" min="0" max="100" value="{{.Value}}" data-widget-action="set" data-widget-field="value">
<output>{{.Value}}</output>
</div>`))

func (s *Slider) Render(context.Context) (template.HTML, error) {
	s.mu.Lock()
	data := struct {
		ID    string
		Value int
	}{s.id, s.value}
	s.mu.Unlock()
	return renderTemplate(sliderTemplate, data)
}

func (s *Slider) HandleAction(_ context.Context, action string, data json.RawMessage) error {
	if action != "set" {
		return fmt.Errorf("slider: unknown action %q", action)
	}
	var payload struct {
		Value json.Number `json:"value"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("slider: invalid payload: %w", err)
	}
	v, err := payload.Value.Int64()
	if err != nil {
		return fmt.Errorf("slider: value must be an integer: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = int(min(max(v, 0), 100))
	return nil
}

// Toggle is an on/off switch.
type Toggle struct {
	id string
	mu sync.Mutex
	on bool
}

func NewToggle(_ context.Context, props Props) (Widget, error) {
	return &Toggle{id: props.InteractiveID}, nil
}

var toggleTemplate = template.Must(template.New("toggle").Parse(`<div class="lv-widget lv-toggle" data-interactive-id="{{.ID}}">
<button type="button" role="switch" aria-checked="{{.On}}" data-widget-action="toggle">{{if .On}}On{{else}}Off{{end}}</button>
</div>`))

func (t *Toggle) Render(context.Context) (template.HTML, error) {
	t.mu.Lock()
	data := struct {
		ID string
		On bool
	}{t.id, t.on}
	t.mu.Unlock()
	return renderTemplate(toggleTemplate, data)
}

func (t *Toggle) HandleAction(_ context.Context, action string, _ json.RawMessage) error {
	if action != "toggle" {
		return fmt.Errorf("toggle: unknown action %q", action)
	}
	t.mu.Lock()
	t.on = !t.on
	t.mu.Unlock()
	return nil
}
