package main

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/livetemplate/lessonview"
	"github.com/livetemplate/lessonview/internal/clipboard"
)

// App is the desktop shell: it opens lesson directories and points the
// webview at them.
type App struct {
	ctx context.Context

	mu     sync.RWMutex
	site   *site
	recent *recentDirs

	// onRecentChange rebuilds the Open Recent menu.
	onRecentChange func()
}

// LessonInfo represents a lesson for the frontend.
type LessonInfo struct {
	Pattern  string `json:"pattern"`
	FilePath string `json:"filePath"`
	Title    string `json:"title"`
}

// NewApp creates an App whose recent list is stored at recentPath.
func NewApp(recentPath string) *App {
	r := loadRecent(recentPath)
	r.prune()
	return &App{recent: r}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	// A directory or lesson on the command line opens straight away.
	if len(os.Args) > 1 {
		if err := a.open(os.Args[1]); err != nil {
			log.Printf("[Desktop] Failed to open %s: %v", os.Args[1], err)
		}
	}
}

func (a *App) shutdown(context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.site != nil {
		a.site.close()
		a.site = nil
	}
}

// OpenFile asks for a lesson, serves its directory and shows it.
func (a *App) OpenFile() (string, error) {
	selection, err := runtime.OpenFileDialog(a.ctx, runtime.OpenDialogOptions{
		Title:            "Open Lesson",
		DefaultDirectory: a.dialogDirectory(),
		Filters: []runtime.FileFilter{
			{DisplayName: "Lessons (*.md, *.yaml, *.yml)", Pattern: "*.md;*.yaml;*.yml"},
			{DisplayName: "All Files (*.*)", Pattern: "*.*"},
		},
	})
	if err != nil || selection == "" {
		return "", err
	}
	return selection, a.open(selection)
}

// OpenDirectory asks for a lesson directory and shows its index.
func (a *App) OpenDirectory() (string, error) {
	selection, err := runtime.OpenDirectoryDialog(a.ctx, runtime.OpenDialogOptions{
		Title:            "Open Lesson Directory",
		DefaultDirectory: a.dialogDirectory(),
	})
	if err != nil || selection == "" {
		return "", err
	}
	return selection, a.open(selection)
}

// OpenRecent reopens a directory from the recent list.
func (a *App) OpenRecent(dir string) error {
	return a.open(dir)
}

// GetRecent returns recently opened directories, newest first.
func (a *App) GetRecent() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.recent.Dirs...)
}

// open serves a directory, or the directory of a lesson file and
// navigates to that lesson.
func (a *App) open(target string) error {
	dir, file, err := splitTarget(target)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.site != nil {
		a.site.close()
		a.site = nil
	}
	s, err := openSite(a.ctx, dir, a.nativeClipboard())
	if err != nil {
		a.mu.Unlock()
		return err
	}
	a.site = s
	a.recent.add(s.dir)
	if err := a.recent.save(); err != nil {
		log.Printf("[Desktop] Failed to save recent directories: %v", err)
	}
	a.mu.Unlock()

	if a.onRecentChange != nil {
		a.onRecentChange()
	}
	runtime.WindowSetTitle(a.ctx, s.windowTitle())
	runtime.EventsEmit(a.ctx, "navigate", s.url(file))
	return nil
}

// splitTarget resolves a directory or lesson path into the directory to
// serve and the lesson file within it.
func splitTarget(target string) (dir, file string, err error) {
	info, err := os.Stat(target)
	if err != nil {
		return "", "", err
	}
	if info.IsDir() {
		return target, "", nil
	}
	if !lessonview.IsLessonFile(target) {
		return "", "", fmt.Errorf("not a lesson file: %s", filepath.Base(target))
	}
	return filepath.Dir(target), filepath.Base(target), nil
}

func (a *App) dialogDirectory() string {
	if dir := a.GetCurrentDirectory(); dir != "" {
		return dir
	}
	return defaultDirectory()
}

// defaultDirectory prefers ~/Documents, then the home directory.
func defaultDirectory() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	if docs := filepath.Join(home, "Documents"); isDir(docs) {
		return docs
	}
	return home
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// nativeClipboard copies through the OS clipboard rather than the webview's.
func (a *App) nativeClipboard() clipboard.Clipboard {
	return clipboard.Func(func(_ context.Context, text string) error {
		return runtime.ClipboardSetText(a.ctx, text)
	})
}

// GetCurrentDirectory returns the open directory, or "".
func (a *App) GetCurrentDirectory() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.site == nil {
		return ""
	}
	return a.site.dir
}

// GetServerURL returns the index URL of the open directory, or "".
func (a *App) GetServerURL() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.site == nil {
		return ""
	}
	return a.site.url("")
}

// GetLessons returns the lessons of the open directory.
func (a *App) GetLessons() []LessonInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.site == nil {
		return nil
	}
	routes := a.site.srv.Routes()
	lessons := make([]LessonInfo, len(routes))
	for i, r := range routes {
		lessons[i] = LessonInfo{Pattern: r.Pattern, FilePath: r.FilePath, Title: r.Lesson.Title}
	}
	return lessons
}

//go:embed welcome.html
var welcomeSource string

var welcomeTemplate = template.Must(template.New("welcome").Parse(welcomeSource))

// GetHandler serves the open directory, or the welcome screen with the
// recent list when nothing is open.
func (a *App) GetHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.RLock()
		s := a.site
		a.mu.RUnlock()
		if s != nil {
			s.srv.ServeHTTP(w, r)
			return
		}

		var buf bytes.Buffer
		if err := welcomeTemplate.Execute(&buf, struct{ Recent []string }{a.GetRecent()}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(buf.Bytes())
	})
}
