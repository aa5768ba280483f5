package server

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/livetemplate/lessonview"
	"github.com/livetemplate/lessonview/internal/clipboard"
	"github.com/livetemplate/lessonview/internal/clock"
	"github.com/livetemplate/lessonview/internal/config"
	"github.com/livetemplate/lessonview/internal/diagram"
	"github.com/livetemplate/lessonview/internal/dispatch"
	"github.com/livetemplate/lessonview/internal/widget"
)

// mermaidScriptOrigin is where the browser loads mermaid from when diagrams
// render client side.
const mermaidScriptOrigin = "https://cdn.jsdelivr.net"

// Route represents a discovered lesson.
type Route struct {
	Pattern  string             // URL pattern (e.g., "/basics")
	FilePath string             // Relative file path (e.g., "basics.md")
	Lesson   *lessonview.Lesson // Parsed lesson
}

// Server is the lessonview HTTP server.
type Server struct {
	rootDir  string
	config   *config.Config
	registry *widget.Registry
	diagrams diagram.Service
	clock    clock.Clock
	clip     clipboard.Clipboard // nil: ask the browser over the live channel

	routes []*Route
	mu     sync.RWMutex

	sessions map[*session]bool // Connected live channels
	connMu   sync.RWMutex       // Separate mutex for sessions

	watcher *Watcher // File watcher for live reload
	router  http.Handler
	ctx     context.Context
	cancel  context.CancelFunc
	closers []func() error
}

// Option customizes a Server.
type Option func(*Server)

// WithRegistry sets the widget registry. The default registry holds the
// builtin widgets.
func WithRegistry(r *widget.Registry) Option {
	return func(s *Server) { s.registry = r }
}

// WithDiagramService sets the diagram service used by mermaid blocks.
func WithDiagramService(svc diagram.Service) Option {
	return func(s *Server) { s.diagrams = svc }
}

// WithClock sets the clock handed to interactive blocks.
func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithClipboard makes every live session copy through cb instead of the
// browser. Embedders with a native clipboard use it.
func WithClipboard(cb clipboard.Clipboard) Option {
	return func(s *Server) { s.clip = cb }
}

// withCloser registers a cleanup run by Close.
func withCloser(fn func() error) Option {
	return func(s *Server) { s.closers = append(s.closers, fn) }
}

// New creates a new server for the given root directory.
func New(rootDir string, opts ...Option) *Server {
	return NewWithConfig(rootDir, config.DefaultConfig(), opts...)
}

// NewWithConfig creates a new server with a specific configuration.
func NewWithConfig(rootDir string, cfg *config.Config, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		rootDir:  rootDir,
		config:   cfg,
		diagrams: diagram.ClientService{},
		clock:    clock.New(),
		routes:   make([]*Route, 0),
		sessions: make(map[*session]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = widget.NewRegistry(widget.Builtins())
	}
	s.router = s.buildRouter()
	return s
}

// Config returns the server configuration.
func (s *Server) Config() *config.Config { return s.config }

// Registry returns the widget registry.
func (s *Server) Registry() *widget.Registry { return s.registry }

func (s *Server) clientDiagrams() bool {
	_, ok := s.diagrams.(diagram.ClientService)
	return ok
}

// Dispatcher returns a dispatcher configured from the server settings that
// copies through cb.
func (s *Server) Dispatcher(cb clipboard.Clipboard) *dispatch.Dispatcher {
	t := s.config.Timing
	return dispatch.New(s.registry,
		dispatch.WithDiagramService(s.diagrams),
		dispatch.WithClipboard(cb),
		dispatch.WithClock(s.clock),
		dispatch.WithTiming(dispatch.Timing{
			CopyConfirm: t.GetCopyConfirm(),
			RunDelay:    t.GetRunDelay(),
			RevealTick:  t.GetRevealTick(),
		}),
	)
}

// Discover scans the directory for lesson files and creates routes.
func (s *Server) Discover() error {
	files, err := LessonFiles(s.rootDir, s.config.Ignore)
	if err != nil {
		return err
	}

	routes := make([]*Route, 0, len(files))
	for _, relPath := range files {
		lesson, err := lessonview.ParseFile(filepath.Join(s.rootDir, filepath.FromSlash(relPath)))
		if err != nil {
			log.Printf("Warning: Failed to parse %s: %v", relPath, err)
			continue
		}
		routes = append(routes, &Route{
			Pattern:  lessonPattern(relPath),
			FilePath: relPath,
			Lesson:   lesson,
		})
	}

	sortRoutes(routes)

	s.mu.Lock()
	s.routes = routes
	s.mu.Unlock()
	return nil
}

// Routes returns the discovered routes.
func (s *Server) Routes() []*Route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.routes
}

// Route returns the route serving pattern.
func (s *Server) Route(pattern string) (*Route, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.routes {
		if r.Pattern == pattern {
			return r, true
		}
	}
	return nil, false
}

// LessonByID returns the route whose lesson has id.
func (s *Server) LessonByID(id string) (*Route, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.routes {
		if r.Lesson.ID == id {
			return r, true
		}
	}
	return nil, false
}

var compressedTypes = []string{"text/html", "text/css", "text/plain", "application/javascript", "application/json"}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	var scriptOrigins []string
	if s.clientDiagrams() {
		scriptOrigins = append(scriptOrigins, mermaidScriptOrigin)
	}
	r.Use(SecurityHeadersMiddleware(scriptOrigins...))

	api := s.config.API
	limiter := NewRateLimiter(api.GetRateLimitRPS(), api.GetRateLimitBurst(), api.GetMaxTrackedIPs())
	s.closers = append(s.closers, limiter.Close)
	r.Use(limiter.Middleware)

	// The live channel must not pass through the compressor: the upgrade
	// needs the raw response writer. promhttp negotiates its own encoding.
	r.Get("/ws", s.serveWebSocket)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5, compressedTypes...))

		r.Get("/healthz", s.serveHealth)
		r.Get("/assets/{name}", s.serveAsset)

		r.Route("/api", func(r chi.Router) {
			r.Use(CORSMiddleware(s.config.Server.CORSOrigins))
			r.Get("/lessons", s.handleListLessons)
			r.Get("/lessons/{id}", s.handleGetLesson)
			r.Get("/lessons/{id}/blocks", s.handleLessonBlocks)
		})

		r.NotFound(s.servePage)
	})

	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "ok %d lessons\n", len(s.Routes()))
}

// servePage serves a lesson page, or the lesson index at "/" when no
// index lesson exists.
func (s *Server) servePage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	route, ok := s.Route(r.URL.Path)
	if !ok && r.URL.Path != "/" && strings.HasSuffix(r.URL.Path, "/") {
		route, ok = s.Route(strings.TrimSuffix(r.URL.Path, "/"))
	}

	var (
		page []byte
		err  error
	)
	switch {
	case ok:
		page, err = s.RenderPage(r.Context(), route)
	case r.URL.Path == "/":
		page, err = s.RenderIndex()
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		log.Printf("[Server] Failed to render %s: %v", r.URL.Path, err)
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

// LessonFiles lists the lesson files under rootDir as slash-separated
// relative paths. Directories starting with _ or . are skipped, as are the
// config file and anything matching an ignore pattern.
func LessonFiles(rootDir string, ignore []string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(rootDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			name := d.Name()
			if p != rootDir && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}

		if !lessonview.IsLessonFile(p) || d.Name() == config.FileName {
			return nil
		}

		relPath, err := filepath.Rel(rootDir, p)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)
		if !isIgnored(relPath, ignore) {
			files = append(files, relPath)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	return files, nil
}

// lessonPattern converts a lesson file path to a URL pattern.
// Examples:
//   - "index.md" → "/"
//   - "basics.md" → "/basics"
//   - "go/intro.yaml" → "/go/intro"
//   - "go/index.md" → "/go/"
func lessonPattern(relPath string) string {
	relPath = filepath.ToSlash(relPath)
	dir, file := path.Split(relPath)
	name := lessonview.LessonID(file)

	if name == "index" {
		if dir == "" {
			return "/"
		}
		return "/" + dir
	}
	return "/" + dir + name
}

// isIgnored reports whether relPath matches an ignore pattern. A pattern
// ending in "/**" ignores a whole directory; other patterns are matched
// against the relative path and the file name.
func isIgnored(relPath string, patterns []string) bool {
	for _, p := range patterns {
		if prefix, ok := strings.CutSuffix(p, "/**"); ok {
			if relPath == prefix || strings.HasPrefix(relPath, prefix+"/") {
				return true
			}
			continue
		}
		if ok, _ := path.Match(p, relPath); ok {
			return true
		}
		if ok, _ := path.Match(p, path.Base(relPath)); ok {
			return true
		}
	}
	return false
}

// sortRoutes sorts routes with index routes first.
func sortRoutes(routes []*Route) {
	sort.SliceStable(routes, func(i, j int) bool {
		a, b := routes[i].Pattern, routes[j].Pattern
		// Root path comes first
		if a == "/" || b == "/" {
			return a == "/" && b != "/"
		}
		// Directory index paths come before other paths
		aIsIndex := strings.HasSuffix(a, "/")
		bIsIndex := strings.HasSuffix(b, "/")
		if aIsIndex != bIsIndex {
			return aIsIndex
		}
		return a < b
	})
}

func (s *Server) registerSession(sess *session) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.sessions[sess] = true
	log.Printf("[Server] Live session registered: %d active sessions", len(s.sessions))
}

func (s *Server) unregisterSession(sess *session) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	delete(s.sessions, sess)
	log.Printf("[Server] Live session unregistered: %d active sessions", len(s.sessions))
}

// SessionCount returns the number of connected live sessions.
func (s *Server) SessionCount() int {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return len(s.sessions)
}

// BroadcastReload asks every connected browser to reload.
func (s *Server) BroadcastReload(filePath string) {
	s.connMu.RLock()
	defer s.connMu.RUnlock()

	if len(s.sessions) == 0 {
		return
	}

	log.Printf("[Server] Broadcasting reload for %s to %d sessions", filePath, len(s.sessions))

	msg := MessageEnvelope{Action: "reload", Data: mustJSON(map[string]string{"filePath": filePath})}
	for sess := range s.sessions {
		if err := sess.send(msg); err != nil {
			log.Printf("[Server] Failed to send reload to session: %v", err)
		}
	}
}

// EnableWatch re-discovers lessons when lesson files or the config
// change and asks connected browsers to reload.
func (s *Server) EnableWatch(debug bool) error {
	watcher, err := NewWatcher(s.rootDir, func(changed []string) error {
		if err := s.Discover(); err != nil {
			return fmt.Errorf("failed to re-discover lessons: %w", err)
		}
		// Every session reloads, so one message covers the batch.
		s.BroadcastReload(changed[0])
		return nil
	}, WatcherOptions{Ignore: s.config.Ignore, Debug: debug})
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	s.watcher = watcher
	s.watcher.Start()

	log.Printf("[Watch] File watcher started for %s", s.rootDir)
	return nil
}

// StopWatch stops the file watcher if it's running.
func (s *Server) StopWatch() error {
	if s.watcher != nil {
		err := s.watcher.Stop()
		s.watcher = nil
		return err
	}
	return nil
}

// Close stops the watcher, disconnects live sessions and releases the
// resources the server was built with.
func (s *Server) Close() error {
	s.cancel()
	err := s.StopWatch()

	s.connMu.RLock()
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.connMu.RUnlock()
	for _, sess := range sessions {
		sess.close()
	}

	for i := len(s.closers) - 1; i >= 0; i-- {
		if cerr := s.closers[i](); cerr != nil && err == nil {
			err = cerr
		}
	}
	s.closers = nil
	return err
}

// ListenAndServe serves on the configured address until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Server.Addr(),
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
