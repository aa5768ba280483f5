// Package widget defines embeddable interactive widgets and the registry
// that maps widget names to lazily loaded implementations.
package widget

import (
	"context"
	"encoding/json"
	"html/template"
)

// Props is the configuration a widget instance receives. InteractiveID is
// its identity: the item's interactiveId, or the enclosing section id.
type Props struct {
	InteractiveID string
}

// Widget is a mounted widget instance.
type Widget interface {
	Render(ctx context.Context) (template.HTML, error)
}

// ActionHandler is implemented by widgets that react to user input.
// Actions arrive from elements carrying data-widget-action.
type ActionHandler interface {
	HandleAction(ctx context.Context, action string, data json.RawMessage) error
}

// Factory creates a widget instance.
type Factory func(ctx context.Context, props Props) (Widget, error)

// Loader fetches a widget implementation on first use.
type Loader func(ctx context.Context) (Factory, error)

// Static wraps an already available factory as a loader.
func Static(f Factory) Loader {
	return func(context.Context) (Factory, error) { return f, nil }
}
