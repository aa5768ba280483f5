package widget

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/livetemplate/lessonview/internal/metrics"
)

// ErrUnknownWidget is returned for names absent from the registry.
var ErrUnknownWidget = errors.New("unknown widget")

// LoadError reports a failed loader execution.
type LoadError struct {
	Name string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load widget %q: %v", e.Name, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Registry maps widget names to loaders. It is fixed at construction.
// Each entry's loader runs at most once successfully for the life of the
// registry; concurrent first loads share a single execution.
type Registry struct {
	entries map[string]*Entry
	group   singleflight.Group
}

// Entry is one registered widget.
type Entry struct {
	name     string
	loader   Loader
	registry *Registry

	mu      sync.Mutex
	factory Factory
}

// NewRegistry builds a registry from name -> loader. The map is copied.
func NewRegistry(loaders map[string]Loader) *Registry {
	r := &Registry{entries: make(map[string]*Entry, len(loaders))}
	for name, loader := range loaders {
		if loader == nil {
			continue
		}
		r.entries[name] = &Entry{name: name, loader: loader, registry: r}
	}
	return r
}

// Lookup returns the entry for name.
func (r *Registry) Lookup(name string) (*Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load resolves name and loads it.
func (r *Registry) Load(ctx context.Context, name string) (Factory, error) {
	e, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWidget, name)
	}
	return e.Load(ctx)
}

// Name returns the registered name.
func (e *Entry) Name() string { return e.name }

// Loaded returns the factory if a load already succeeded.
func (e *Entry) Loaded() (Factory, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.factory, e.factory != nil
}

// Load returns the factory, running the loader if no load has succeeded yet.
// A caller whose ctx ends stops waiting, but the shared load keeps running
// for the others. Failures are returned as *LoadError and are not cached.
func (e *Entry) Load(ctx context.Context) (Factory, error) {
	if f, ok := e.Loaded(); ok {
		return f, nil
	}

	ch := e.registry.group.DoChan(e.name, func() (interface{}, error) {
		if f, ok := e.Loaded(); ok {
			return f, nil
		}
		return e.run(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, &LoadError{Name: e.name, Err: res.Err}
		}
		return res.Val.(Factory), nil
	}
}

func (e *Entry) run(ctx context.Context) (f Factory, err error) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("loader panicked: %v", r)
		}
		metrics.ObserveWidgetLoad(e.name, started, err)
		if err != nil {
			log.Printf("[Widget] Failed to load %q: %v", e.name, err)
			f = nil
			return
		}
		log.Printf("[Widget] Loaded %q in %s", e.name, time.Since(started).Round(time.Millisecond))
	}()

	f, err = e.loader(ctx)
	if err == nil && f == nil {
		err = errors.New("loader returned no factory")
	}
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.factory = f
	e.mu.Unlock()
	return f, nil
}
