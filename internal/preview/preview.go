// Package preview renders lessons for the terminal. Text is laid out by
// glamour; simulated terminals can be played back in real time.
package preview

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"

	"github.com/livetemplate/lessonview"
	"github.com/livetemplate/lessonview/internal/security"
	"github.com/livetemplate/lessonview/internal/terminal"
	"github.com/livetemplate/lessonview/internal/widget"
)

// Options configures a Renderer.
type Options struct {
	// Style is a glamour standard style ("dark", "light", "notty", ...).
	// Empty detects the terminal background.
	Style string
	// Width wraps text; 0 uses glamour's default.
	Width int
	// Registry decides whether interactive items name a known widget.
	// Nil treats every widget as unknown.
	Registry *widget.Registry
}

// Renderer turns lessons into terminal text.
type Renderer struct {
	tr       *glamour.TermRenderer
	registry *widget.Registry
}

// New creates a Renderer.
func New(opts Options) (*Renderer, error) {
	style := glamour.WithAutoStyle()
	if opts.Style != "" {
		style = glamour.WithStandardStyle(opts.Style)
	}
	ropts := []glamour.TermRendererOption{style}
	if opts.Width > 0 {
		ropts = append(ropts, glamour.WithWordWrap(opts.Width))
	}
	tr, err := glamour.NewTermRenderer(ropts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create terminal renderer: %w", err)
	}
	registry := opts.Registry
	if registry == nil {
		registry = widget.NewRegistry(nil)
	}
	return &Renderer{tr: tr, registry: registry}, nil
}

// Render renders the whole lesson.
func (r *Renderer) Render(lesson *lessonview.Lesson) (string, error) {
	return r.tr.Render(r.Markdown(lesson))
}

// Markdown is the document Render lays out. Items follow the same rules
// as the HTML dispatcher: unknown types and non-list list content are
// dropped, unknown widgets are named.
func (r *Renderer) Markdown(lesson *lessonview.Lesson) string {
	var b strings.Builder
	if lesson.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", lesson.Title)
	}
	if lesson.Description != "" {
		fmt.Fprintf(&b, "*%s*\n\n", lesson.Description)
	}
	for _, sec := range lesson.Sections {
		if sec.Title != "" {
			fmt.Fprintf(&b, "## %s\n\n", sec.Title)
		}
		for _, item := range sec.Items {
			if md := r.item(item, sec); md != "" {
				b.WriteString(md)
				b.WriteString("\n\n")
			}
		}
	}
	return b.String()
}

func (r *Renderer) item(item lessonview.ContentItem, sec lessonview.Section) string {
	switch item.Type {
	case lessonview.TypeParagraph:
		return item.Content.Text()
	case lessonview.TypeHeading:
		return "### " + item.Content.Text()
	case lessonview.TypeQuote:
		return quote(item.Content.Text())
	case lessonview.TypeList:
		if !item.Content.IsList() {
			return ""
		}
		lines := make([]string, 0, item.Content.Len())
		for _, entry := range item.Content.Items() {
			lines = append(lines, "- "+entry)
		}
		return strings.Join(lines, "\n")
	case lessonview.TypeCode:
		lang := item.Language
		if lang == "" {
			lang = lessonview.DefaultCodeLanguage
		}
		return fence(lang, item.Content.Text())
	case lessonview.TypeTerminal:
		spec := terminal.SpecFromItem(item)
		lang := spec.Language
		if lang == "" {
			lang = lessonview.DefaultTerminalLanguage
		}
		md := fence(lang, spec.Command)
		if spec.Output != "" {
			md += "\n\n" + fence("text", strings.TrimSpace(spec.Output))
		}
		return md
	case lessonview.TypeMermaid:
		return fence("mermaid", item.Content.Text())
	case lessonview.TypeImage:
		src := item.Content.Text()
		if security.ValidateImageSource(src) != nil {
			return ""
		}
		return fmt.Sprintf("![%s](%s)", item.Alt, src)
	case lessonview.TypeInteractive:
		id := item.InteractiveID
		if id == "" {
			id = sec.ID
		}
		if _, ok := r.registry.Lookup(item.Component); !ok {
			return quote(fmt.Sprintf("Widget `%s` not found", item.Component))
		}
		return quote(fmt.Sprintf("Interactive widget `%s` (%s). Open the lesson in a browser to use it.", item.Component, id))
	default:
		return ""
	}
}

func fence(lang, code string) string {
	return "```" + lang + "\n" + strings.TrimRight(code, "\n") + "\n```"
}

func quote(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}

// Play runs a simulated terminal and streams its output to w as it is
// revealed. It returns once the run completes or ctx ends.
func Play(ctx context.Context, w io.Writer, spec terminal.Spec, opts ...terminal.Option) error {
	out := termenv.NewOutput(w)
	prompt := out.String("$ ").Foreground(out.Color("2")).Bold()
	fmt.Fprintf(w, "%s%s\n", prompt, spec.Command)

	changed := make(chan struct{}, 1)
	opts = append(opts, terminal.WithOnChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}))
	t := terminal.New(spec, opts...)
	defer t.Close()

	if !t.Run() {
		return nil
	}

	printed := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(w)
			return ctx.Err()
		case <-changed:
		}

		raw := t.RawOutput()
		if len(raw) > printed {
			io.WriteString(w, raw[printed:])
			printed = len(raw)
		}
		if !t.IsRunning() {
			if printed > 0 && !strings.HasSuffix(raw, "\n") {
				fmt.Fprintln(w)
			}
			return nil
		}
	}
}
