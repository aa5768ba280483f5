// Package codepanel implements the copyable, syntax-highlighted code display
// used by code items and as the command source of simulated terminals.
package codepanel

import (
	"bytes"
	"context"
	"html/template"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"github.com/livetemplate/lessonview/internal/clipboard"
	"github.com/livetemplate/lessonview/internal/clock"
	"github.com/livetemplate/lessonview/internal/metrics"
)

// DefaultConfirmWindow is how long the "copied" confirmation stays visible.
const DefaultConfirmWindow = 2 * time.Second

// StyleName is the chroma style used for highlighting and its CSS.
const StyleName = "github"

// Runner is the run affordance a panel can expose. A simulated terminal is
// the only implementation.
type Runner interface {
	Run() bool
	IsRunning() bool
}

// Option configures a Panel.
type Option func(*Panel)

// WithClipboard sets the clipboard copies are written to.
func WithClipboard(cb clipboard.Clipboard) Option {
	return func(p *Panel) { p.clip = cb }
}

// WithClock sets the clock driving the confirmation window.
func WithClock(c clock.Clock) Option {
	return func(p *Panel) { p.clock = c }
}

// WithRunner enables the run button.
func WithRunner(r Runner) Option {
	return func(p *Panel) { p.runner = r }
}

// WithOnChange registers a callback invoked after every visible state change.
func WithOnChange(fn func()) Option {
	return func(p *Panel) { p.onChange = fn }
}

// WithConfirmWindow overrides DefaultConfirmWindow.
func WithConfirmWindow(d time.Duration) Option {
	return func(p *Panel) {
		if d > 0 {
			p.confirm = d
		}
	}
}

// Panel displays a code sample with a copy button and an optional run button.
type Panel struct {
	code     string
	language string
	clip     clipboard.Clipboard
	clock    clock.Clock
	runner   Runner
	onChange func()
	confirm  time.Duration

	highlightOnce sync.Once
	highlighted   template.HTML

	mu     sync.Mutex
	copied bool
	gen    uint64
	timer  clock.Timer
	closed bool
}

// New creates a panel for code written in language.
func New(code, language string, opts ...Option) *Panel {
	p := &Panel{
		code:     strings.TrimSpace(code),
		language: language,
		clip:     clipboard.None,
		clock:    clock.New(),
		confirm:  DefaultConfirmWindow,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Code returns the displayed (trimmed) code.
func (p *Panel) Code() string { return p.code }

// Language returns the highlighting language.
func (p *Panel) Language() string { return p.language }

// HasRunner reports whether the run button is shown.
func (p *Panel) HasRunner() bool { return p.runner != nil }

// Copied reports whether the copy confirmation is currently showing.
func (p *Panel) Copied() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.copied
}

// Copy writes the trimmed code to the clipboard. On failure the error is
// logged and returned and the visible state is left alone. A copy while the
// confirmation is showing restarts the window.
func (p *Panel) Copy(ctx context.Context) error {
	if err := p.clip.WriteText(ctx, p.code); err != nil {
		log.Printf("[Copy] Failed to copy %d bytes of %s code: %v", len(p.code), p.language, err)
		metrics.ClipboardWrites.WithLabelValues(metrics.ResultError).Inc()
		return err
	}
	metrics.ClipboardWrites.WithLabelValues(metrics.ResultOK).Inc()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.gen++
	gen := p.gen
	p.copied = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = p.clock.AfterFunc(p.confirm, func() { p.expire(gen) })
	p.mu.Unlock()

	p.notify()
	return nil
}

func (p *Panel) expire(gen uint64) {
	p.mu.Lock()
	if p.closed || p.gen != gen {
		p.mu.Unlock()
		return
	}
	p.copied = false
	p.timer = nil
	p.mu.Unlock()

	p.notify()
}

// Run triggers the runner, if any. It reports whether a run started.
func (p *Panel) Run() bool {
	if p.runner == nil {
		return false
	}
	return p.runner.Run()
}

// Close cancels the pending confirmation timer.
func (p *Panel) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Panel) notify() {
	if p.onChange != nil {
		p.onChange()
	}
}

// Highlighted returns the code as chroma-highlighted HTML spans. Highlighting
// failures fall back to escaped plain text.
func (p *Panel) Highlighted() template.HTML {
	p.highlightOnce.Do(func() {
		html, err := Highlight(p.code, p.language)
		if err != nil {
			log.Printf("[Copy] Highlighting %s code failed: %v", p.language, err)
			html = template.HTML(template.HTMLEscapeString(p.code))
		}
		p.highlighted = html
	})
	return p.highlighted
}

var panelTemplate = template.Must(template.New("panel").Parse(`<div class="lv-code-panel">
<div class="lv-code-header">
<span class="lv-code-lang">{{.Language}}</span>
<div class="lv-code-actions">
{{- if .HasRun}}
<button type="button" class="lv-run" data-action="run"{{if .Running}} disabled aria-busy="true"{{end}}>{{if .Running}}<span class="lv-spinner" aria-hidden="true"></span>Running…{{else}}Run{{end}}</button>
{{- end}}
<button type="button" class="lv-copy{{if .Copied}} lv-copied{{end}}" data-action="copy">{{if .Copied}}Copied!{{else}}Copy{{end}}</button>
</div>
</div>
<pre class="chroma"><code class="language-{{.Language}}">{{.Code}}</code></pre>
</div>`))

// Render returns the panel markup for its current state.
func (p *Panel) Render() template.HTML {
	data := struct {
		Language string
		Code     template.HTML
		Copied   bool
		HasRun   bool
		Running  bool
	}{
		Language: p.language,
		Code:     p.Highlighted(),
		Copied:   p.Copied(),
		HasRun:   p.runner != nil,
	}
	// Runner state is read outside p.mu; the runner may call back into the
	// panel while holding its own lock.
	if p.runner != nil {
		data.Running = p.runner.IsRunning()
	}

	var buf bytes.Buffer
	if err := panelTemplate.Execute(&buf, data); err != nil {
		log.Printf("[Copy] Failed to render code panel: %v", err)
		return ""
	}
	return template.HTML(buf.String())
}

// Highlight tokenises code with the chroma lexer for language and formats it
// as class-annotated HTML without the surrounding <pre>.
func Highlight(code, language string) (template.HTML, error) {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, style(), iterator); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

var formatter = chromahtml.New(chromahtml.WithClasses(true), chromahtml.PreventSurroundingPre(true))

func style() *chroma.Style {
	if s := styles.Get(StyleName); s != nil {
		return s
	}
	return styles.Fallback
}

// WriteCSS writes the stylesheet matching the highlighting classes.
func WriteCSS(w io.Writer) error {
	return formatter.WriteCSS(w, style())
}
