package diagram

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/livetemplate/lessonview/internal/metrics"
)

// Renderer renders one diagram slot. The service is called at most once per
// distinct description; the result, including a failure placeholder, is kept
// until the description changes. Failures are never retried.
type Renderer struct {
	service Service
	newID   func() string

	// renderMu serialises service calls so concurrent Render calls for the
	// same description share one attempt.
	renderMu sync.Mutex

	mu          sync.Mutex
	description string
	gen         uint64
	rendered    bool
	failed      bool
	markup      string
}

// NewRenderer creates a renderer for description. A nil service renders in
// the browser via ClientService.
func NewRenderer(service Service, description string) *Renderer {
	if service == nil {
		service = ClientService{}
	}
	return &Renderer{
		service:     service,
		newID:       func() string { return "mermaid-" + uuid.NewString() },
		description: description,
	}
}

// Description returns the current description.
func (r *Renderer) Description() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.description
}

// SetDescription replaces the description. A change discards the previous
// markup; the next Render makes exactly one new attempt.
func (r *Renderer) SetDescription(description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if description == r.description {
		return
	}
	r.description = description
	r.gen++
	r.rendered = false
	r.failed = false
	r.markup = ""
}

// Rendered returns the cached markup, if an attempt for the current
// description has completed.
func (r *Renderer) Rendered() (markup string, failed, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.markup, r.failed, r.rendered
}

// Render returns the diagram markup, calling the service if the current
// description has not been attempted yet. On failure it returns
// ErrorPlaceholder and failed is true.
func (r *Renderer) Render(ctx context.Context) (markup string, failed bool) {
	r.renderMu.Lock()
	defer r.renderMu.Unlock()

	r.mu.Lock()
	if r.rendered {
		markup, failed = r.markup, r.failed
		r.mu.Unlock()
		return markup, failed
	}
	description := r.description
	gen := r.gen
	r.mu.Unlock()

	id := r.newID()
	out, err := r.service.Render(ctx, id, strings.TrimSpace(description))
	metrics.DiagramRenders.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		log.Printf("[Diagram] Failed to render diagram %s: %v", id, err)
		out = ErrorPlaceholder
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// An abandoned attempt (caller went away) is not a failure of the
	// description, and a superseded description must not overwrite the new one.
	if r.gen == gen && (err == nil || ctx.Err() == nil) {
		r.rendered = true
		r.failed = err != nil
		r.markup = out
	}
	return out, err != nil
}
