// Package diagram renders textual diagram descriptions (Mermaid syntax)
// into markup through an external rendering service.
package diagram

import (
	"context"
	"fmt"
	"html"
)

// ErrorPlaceholder is shown in place of a diagram the service failed to render.
const ErrorPlaceholder = "Error rendering diagram"

// Service renders a diagram description into markup. id is a fresh random
// identifier unique to the attempt; services that emit DOM ids use it.
type Service interface {
	Render(ctx context.Context, id, description string) (string, error)
}

// Func adapts a function to the Service interface.
type Func func(ctx context.Context, id, description string) (string, error)

func (f Func) Render(ctx context.Context, id, description string) (string, error) {
	return f(ctx, id, description)
}

// ClientService defers rendering to the browser: it emits the description in
// a Mermaid container that the page script renders on load. It never fails.
type ClientService struct{}

func (ClientService) Render(_ context.Context, id, description string) (string, error) {
	return fmt.Sprintf(`<pre class="mermaid" id="%s">%s</pre>`,
		html.EscapeString(id), html.EscapeString(description)), nil
}
