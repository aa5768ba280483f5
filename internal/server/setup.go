package server

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/livetemplate/lessonview/internal/config"
	"github.com/livetemplate/lessonview/internal/diagram"
	"github.com/livetemplate/lessonview/internal/wasm"
	"github.com/livetemplate/lessonview/internal/widget"
)

// Build creates a server wired from cfg: builtin and configured WASM
// widgets, and the configured diagram service with its optional store.
// configDir resolves relative widget paths; it defaults to rootDir.
// Everything acquired here is released by Server.Close.
func Build(ctx context.Context, rootDir, configDir string, cfg *config.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if configDir == "" {
		configDir = rootDir
	}

	var closers []func() error
	fail := func(err error) (*Server, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		return nil, err
	}

	registry, closeWidgets, err := BuildRegistry(ctx, configDir, cfg)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeWidgets)

	diagrams, closeDiagrams, err := BuildDiagramService(ctx, cfg.Diagram)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeDiagrams)

	all := []Option{WithRegistry(registry), WithDiagramService(diagrams)}
	for _, c := range closers {
		all = append(all, withCloser(c))
	}
	return NewWithConfig(rootDir, cfg, append(all, opts...)...), nil
}

// BuildRegistry returns the builtin widgets plus one WASM widget per
// configured entry. A configured name replaces a builtin of the same name.
func BuildRegistry(ctx context.Context, configDir string, cfg *config.Config) (*widget.Registry, func() error, error) {
	loaders := widget.Builtins()
	if len(cfg.Widgets) == 0 {
		return widget.NewRegistry(loaders), func() error { return nil }, nil
	}

	host, err := wasm.NewHost(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start widget runtime: %w", err)
	}
	for name := range cfg.Widgets {
		path := cfg.WidgetPath(configDir, name)
		loaders[name] = host.Loader(name, filepath.Clean(path))
		log.Printf("[Widget] Registered WASM widget %q from %s", name, path)
	}
	return widget.NewRegistry(loaders), func() error {
		return host.Close(context.Background())
	}, nil
}

// BuildDiagramService returns the client-side service, or headless Chrome
// behind retries, a circuit breaker and the markup store when rendering
// server side.
func BuildDiagramService(ctx context.Context, cfg config.DiagramConfig) (diagram.Service, func() error, error) {
	if !cfg.IsServerSide() {
		return diagram.ClientService{}, func() error { return nil }, nil
	}

	chrome, err := diagram.NewChromeService(diagram.ChromeOptions{
		MermaidURL: cfg.MermaidURL,
		ExecPath:   cfg.ChromePath,
		Timeout:    cfg.GetTimeout(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start headless chrome: %w", err)
	}

	var store *diagram.SQLStore
	if cfg.Store.IsEnabled() {
		store, err = diagram.OpenSQLStore(ctx, cfg.Store.Driver, cfg.Store.GetDSN())
		if err != nil {
			chrome.Close()
			return nil, nil, err
		}
		log.Printf("[Diagram] Using %s store", cfg.Store.Driver)
	}

	resilient := diagram.NewResilientService(chrome, diagram.DefaultResilienceConfig(), nil)
	var svc *diagram.StoreService
	if store != nil {
		svc = diagram.NewStoreService(resilient, store, cfg.Store.GetTTL())
	} else {
		svc = diagram.NewStoreService(resilient, nil, cfg.Store.GetTTL())
	}
	return svc, func() error {
		svc.Close()
		var err error
		if store != nil {
			err = store.Close()
		}
		if cerr := chrome.Close(); cerr != nil && err == nil {
			err = cerr
		}
		return err
	}, nil
}
