package server

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/livetemplate/lessonview"
	"github.com/livetemplate/lessonview/internal/clock"
	"github.com/livetemplate/lessonview/internal/config"
)

// debounceInterval coalesces the burst of events editors emit on save.
const debounceInterval = 100 * time.Millisecond

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Ignore holds discovery ignore patterns; matching files never
	// trigger a reload.
	Ignore []string
	// Clock drives the debounce. Nil uses the real clock.
	Clock clock.Clock
	Debug bool
}

// Watcher reports changes to lesson files and the config file under a
// root directory. Changes arriving within debounceInterval of each other
// are delivered together as one batch of slash-separated relative paths.
type Watcher struct {
	fsw      *fsnotify.Watcher
	rootDir  string
	opts     WatcherOptions
	onChange func(changed []string) error
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	changed map[string]bool
	timer   clock.Timer
}

// NewWatcher watches rootDir and every directory below it that discovery
// would enter.
func NewWatcher(rootDir string, onChange func(changed []string) error, opts WatcherOptions) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	w := &Watcher{
		fsw:      fsw,
		rootDir:  rootDir,
		opts:     opts,
		onChange: onChange,
		done:     make(chan struct{}),
		changed:  make(map[string]bool),
	}
	if err := w.addTree(rootDir); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.rootDir && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if w.opts.Debug {
			log.Printf("[Watch] Added directory: %s", p)
		}
		return w.fsw.Add(p)
	})
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}

// Start delivers events until Stop.
func (w *Watcher) Start() {
	go func() {
		for {
			select {
			case event, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				w.handle(event)
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				log.Printf("[Watch] Error: %v", err)
			case <-w.done:
				return
			}
		}
	}()
}

// relevant returns the relative path of a change that should trigger a
// reload, or false.
func (w *Watcher) relevant(name string) (string, bool) {
	rel, err := filepath.Rel(w.rootDir, name)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == config.FileName {
		return rel, true
	}
	if !lessonview.IsLessonFile(name) || isIgnored(rel, w.opts.Ignore) {
		return "", false
	}
	return rel, true
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if skipDir(info.Name()) {
				return
			}
			if err := w.addTree(event.Name); err != nil {
				log.Printf("[Watch] Failed to watch %s: %v", event.Name, err)
			}
			return
		}
	}
	if event.Op == fsnotify.Chmod {
		return
	}
	rel, ok := w.relevant(event.Name)
	if !ok {
		return
	}
	if w.opts.Debug {
		log.Printf("[Watch] File changed: %s (%s)", rel, event.Op)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.changed[rel] = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = w.opts.Clock.AfterFunc(debounceInterval, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	changed := make([]string, 0, len(w.changed))
	for rel := range w.changed {
		changed = append(changed, rel)
	}
	w.changed = make(map[string]bool)
	w.timer = nil
	w.mu.Unlock()

	if len(changed) == 0 {
		return
	}
	sort.Strings(changed)
	if err := w.onChange(changed); err != nil {
		log.Printf("[Watch] Reload failed for %s: %v", strings.Join(changed, ", "), err)
	}
}

// Stop stops watching. Pending changes are dropped.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}
