package server

import (
	"bytes"
	"context"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/livetemplate/lessonview/internal/assets"
	"github.com/livetemplate/lessonview/internal/clipboard"
	"github.com/livetemplate/lessonview/internal/codepanel"
	"github.com/livetemplate/lessonview/internal/dispatch"
)

// HighlightCSSName is the stylesheet holding the code highlighting classes.
const HighlightCSSName = "highlight.css"

// widgetSettle bounds how long a page render waits for widgets to load
// before sending their loading boundary instead.
const widgetSettle = time.Second

var layoutTemplate = template.Must(template.New("layout").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <link rel="stylesheet" href="/assets/` + assets.ClientCSSName + `">
    <link rel="stylesheet" href="/assets/` + HighlightCSSName + `">
</head>
<body>
<div class="lv-layout">
<nav class="lv-nav">
    <a class="lv-nav-home" href="/">{{.SiteTitle}}</a>
    <ul>
    {{- range .Nav}}
        <li{{if .Current}} class="current"{{end}}><a href="{{.Pattern}}">{{.Title}}</a></li>
    {{- end}}
    </ul>
</nav>
<main{{if .Pattern}} data-lesson-path="{{.Pattern}}"{{end}}>
{{.Content}}
</main>
</div>
{{- if .ClientDiagrams}}
<script src="` + mermaidScriptOrigin + `/npm/mermaid@10.9.5/dist/mermaid.min.js"></script>
<script>mermaid.initialize({ startOnLoad: false });</script>
{{- end}}
<script src="/assets/` + assets.ClientJSName + `"></script>
</body>
</html>
`))

var indexTemplate = template.Must(template.New("index").Parse(`<section class="lv-index">
<h1>{{.Title}}</h1>
{{- if .Lessons}}
<ul class="lv-index-list">
{{- range .Lessons}}
<li><a href="{{.Pattern}}">{{.Title}}</a>{{if .Description}}<p>{{.Description}}</p>{{end}}</li>
{{- end}}
</ul>
{{- else}}
<p>No lessons found.</p>
{{- end}}
</section>`))

type navItem struct {
	Pattern     string
	Title       string
	Description string
	Current     bool
}

type layoutData struct {
	Title          string
	SiteTitle      string
	Pattern        string
	Nav            []navItem
	Content        template.HTML
	ClientDiagrams bool
}

func (s *Server) nav(current string) []navItem {
	routes := s.Routes()
	items := make([]navItem, 0, len(routes))
	for _, r := range routes {
		title := r.Lesson.Title
		if title == "" {
			title = r.Lesson.ID
		}
		items = append(items, navItem{
			Pattern:     r.Pattern,
			Title:       title,
			Description: r.Lesson.Description,
			Current:     r.Pattern == current,
		})
	}
	return items
}

func (s *Server) layout(data layoutData) ([]byte, error) {
	data.SiteTitle = s.config.Title
	data.ClientDiagrams = s.clientDiagrams()
	var buf bytes.Buffer
	if err := layoutTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderPage renders the full HTML page for a lesson. The lesson is mounted
// for the duration of the render; interaction happens over the live channel.
func (s *Server) RenderPage(ctx context.Context, route *Route) ([]byte, error) {
	view := dispatch.Mount(ctx, s.Dispatcher(clipboard.None), route.Lesson, nil)
	defer view.Close()

	waitCtx, cancel := context.WithTimeout(ctx, widgetSettle)
	if err := view.Wait(waitCtx); err != nil {
		log.Printf("[Server] Widgets still loading for %s: %v", route.Pattern, err)
	}
	cancel()

	title := route.Lesson.Title
	if title == "" {
		title = s.config.Title
	}
	return s.layout(layoutData{
		Title:   title,
		Pattern: route.Pattern,
		Nav:     s.nav(route.Pattern),
		Content: view.Render(ctx),
	})
}

// RenderIndex renders the lesson index shown at "/" when no lesson claims it.
func (s *Server) RenderIndex() ([]byte, error) {
	var buf bytes.Buffer
	err := indexTemplate.Execute(&buf, struct {
		Title   string
		Lessons []navItem
	}{s.config.Title, s.nav("/")})
	if err != nil {
		return nil, err
	}
	return s.layout(layoutData{
		Title:   s.config.Title,
		Nav:     s.nav("/"),
		Content: template.HTML(buf.String()),
	})
}

// serveAsset serves embedded client assets.
func (s *Server) serveAsset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	switch name {
	case assets.ClientJSName, assets.ClientCSSName:
		data, ctype, err := assets.Read(name)
		if err != nil {
			http.Error(w, "Asset not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", ctype)
		w.Write(data)
	case HighlightCSSName:
		w.Header().Set("Content-Type", "text/css")
		if err := codepanel.WriteCSS(w); err != nil {
			log.Printf("[Server] Failed to write highlight CSS: %v", err)
		}
	default:
		http.NotFound(w, r)
	}
}
