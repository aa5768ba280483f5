// Package embedded runs lessonview from an embedded filesystem, so a course
// can ship as a single binary.
package embedded

import (
	"context"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/livetemplate/lessonview/internal/config"
	"github.com/livetemplate/lessonview/internal/server"
)

// Serve runs the lessons embedded under rootPath until interrupted:
//
//	//go:embed all:lessons
//	var lessons embed.FS
//
//	embedded.Serve(lessons, "lessons", "localhost:8080")
func Serve(contentFS fs.FS, rootPath, addr string) error {
	return ServeWithOptions(Options{ContentFS: contentFS, RootPath: rootPath, Addr: addr})
}

// Options configures an embedded site.
type Options struct {
	ContentFS fs.FS  // lesson files and an optional lessonview.yaml
	RootPath  string // directory inside ContentFS holding the lessons
	Addr      string // host:port; empty keeps the configured address

	Config  *config.Config // replaces the embedded lessonview.yaml
	OnReady func()         // runs after discovery, before listening
	Quiet   bool
}

// Site is embedded content extracted to disk and ready to serve.
type Site struct {
	dir string
	cfg *config.Config
	srv *server.Server
}

// Open extracts the content, loads its config and discovers its lessons.
// Close releases everything Open acquired.
func Open(ctx context.Context, opts Options) (*Site, error) {
	tmpDir, err := os.MkdirTemp("", "lessonview-embedded-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	fail := func(err error) (*Site, error) {
		os.RemoveAll(tmpDir)
		return nil, err
	}

	if err := extractFS(opts.ContentFS, opts.RootPath, tmpDir); err != nil {
		return fail(fmt.Errorf("failed to extract embedded content: %w", err))
	}

	cfg := opts.Config
	if cfg == nil {
		if cfg, err = config.LoadFromDir(tmpDir); err != nil {
			return fail(fmt.Errorf("failed to load config: %w", err))
		}
	}
	if opts.Addr != "" {
		if err := setAddr(&cfg.Server, opts.Addr); err != nil {
			return fail(err)
		}
	}
	// Embedded content never changes.
	cfg.Features.HotReload = false

	srv, err := server.Build(ctx, tmpDir, tmpDir, cfg)
	if err != nil {
		return fail(err)
	}
	if err := srv.Discover(); err != nil {
		srv.Close()
		return fail(fmt.Errorf("failed to discover lessons: %w", err))
	}
	return &Site{dir: tmpDir, cfg: cfg, srv: srv}, nil
}

// Handler serves the site.
func (s *Site) Handler() http.Handler { return s.srv }

// Lessons returns the route pattern of every discovered lesson.
func (s *Site) Lessons() []string {
	routes := s.srv.Routes()
	patterns := make([]string, len(routes))
	for i, r := range routes {
		patterns[i] = r.Pattern
	}
	return patterns
}

// Close stops the server and removes the extracted files.
func (s *Site) Close() error {
	err := s.srv.Close()
	if rerr := os.RemoveAll(s.dir); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// ServeWithOptions starts a server with more configuration options. It
// returns after an interrupt or SIGTERM once connections have drained.
func ServeWithOptions(opts Options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	site, err := Open(ctx, opts)
	if err != nil {
		return err
	}
	defer site.Close()

	if !opts.Quiet {
		fmt.Printf("\n📚 %s: %d lesson(s)\n", site.cfg.Title, len(site.Lessons()))
		fmt.Printf("🌐 Serving at http://%s\n", site.cfg.Server.Addr())
	}

	if opts.OnReady != nil {
		opts.OnReady()
	}

	if err := site.srv.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	if !opts.Quiet {
		fmt.Printf("\n🛑 Shut down gracefully\n")
	}
	return nil
}

func setAddr(sc *config.ServerConfig, addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port in address %q", addr)
	}
	sc.Host, sc.Port = host, port
	return nil
}

// extractFS writes the tree under rootPath to destDir.
func extractFS(contentFS fs.FS, rootPath string, destDir string) error {
	src := contentFS
	if rootPath != "" && rootPath != "." {
		sub, err := fs.Sub(contentFS, rootPath)
		if err != nil {
			return fmt.Errorf("embedded root %q: %w", rootPath, err)
		}
		src = sub
	}
	return os.CopyFS(destDir, src)
}
