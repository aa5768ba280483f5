package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"path/filepath"

	"github.com/livetemplate/lessonview/internal/clipboard"
	"github.com/livetemplate/lessonview/internal/config"
	"github.com/livetemplate/lessonview/internal/server"
)

// site is one opened lesson directory: its lesson server and the local
// listener the webview reaches it through.
type site struct {
	dir   string
	title string
	srv   *server.Server
	http  *http.Server
	port  int
}

// openSite serves dir on a loopback port with live reload. Copies go
// through clip.
func openSite(ctx context.Context, dir string, clip clipboard.Clipboard) (*site, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	cfg, err := config.LoadFromDir(absDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	srv, err := server.Build(ctx, absDir, absDir, cfg, server.WithClipboard(clip))
	if err != nil {
		return nil, err
	}
	if err := srv.Discover(); err != nil {
		srv.Close()
		return nil, fmt.Errorf("failed to discover lessons: %w", err)
	}
	if err := srv.EnableWatch(cfg.Server.Debug); err != nil {
		srv.Close()
		return nil, fmt.Errorf("failed to enable watch mode: %w", err)
	}

	// The live channel needs a real socket; the asset server cannot
	// upgrade connections.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		srv.Close()
		return nil, fmt.Errorf("failed to find free port: %w", err)
	}
	s := &site{
		dir:   absDir,
		title: cfg.Title,
		srv:   srv,
		http:  &http.Server{Handler: srv},
		port:  listener.Addr().(*net.TCPAddr).Port,
	}
	go func() {
		if err := s.http.Serve(listener); err != http.ErrServerClosed {
			log.Printf("[Desktop] HTTP server error: %v", err)
		}
	}()
	log.Printf("[Desktop] Serving %s on port %d", absDir, s.port)
	return s, nil
}

func (s *site) close() {
	s.http.Close()
	if err := s.srv.Close(); err != nil {
		log.Printf("[Desktop] Failed to close server: %v", err)
	}
}

func (s *site) windowTitle() string {
	if s.title == "" {
		return filepath.Base(s.dir)
	}
	return fmt.Sprintf("%s - %s", s.title, filepath.Base(s.dir))
}

// url returns the address of the lesson parsed from file (relative to
// the site directory), or of the index when file is empty or unknown.
func (s *site) url(file string) string {
	return lessonURL(s.port, s.srv.Routes(), file)
}

func lessonURL(port int, routes []*server.Route, file string) string {
	path := "/"
	for _, r := range routes {
		if file != "" && r.FilePath == file {
			path = r.Pattern
			break
		}
	}
	return fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
}
