package lessonview

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// IntroSectionID holds items that appear before the first "##" heading.
const IntroSectionID = "intro"

// Frontmatter represents the YAML frontmatter at the top of a markdown lesson.
type Frontmatter struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

// FenceInfo is a parsed fenced code block info string such as
// `sh terminal output="ok" effect=text-adventure`.
type FenceInfo struct {
	Language string
	Flags    []string
	Metadata map[string]string
}

// HasFlag reports whether the bare word flag appears in the info string.
func (f FenceInfo) HasFlag(flag string) bool {
	for _, fl := range f.Flags {
		if fl == flag {
			return true
		}
	}
	return false
}

func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
}

// lessonBuilder accumulates sections while walking the document.
type lessonBuilder struct {
	file       string
	source     []byte // full file, for error context
	body       []byte // markdown after frontmatter
	lineOffset int
	lesson     *Lesson
	current    *Section
	ids        map[string]bool
}

func parseMarkdown(content []byte, file string) (*Lesson, error) {
	fm, body, err := extractFrontmatter(content)
	if err != nil {
		return nil, NewParseError(file, 1, fmt.Sprintf("Failed to parse frontmatter: %v", err)).
			withSource(content).
			WithHint("Frontmatter is YAML between two '---' lines at the top of the file")
	}

	doc := newMarkdown().Parser().Parse(text.NewReader(body))

	b := &lessonBuilder{
		file:       file,
		source:     content,
		body:       body,
		lineOffset: bytes.Count(content[:len(content)-len(body)], []byte("\n")),
		lesson: &Lesson{
			ID:          fm.ID,
			Title:       fm.Title,
			Description: fm.Description,
		},
		ids: make(map[string]bool),
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if err := b.block(n); err != nil {
			return nil, err
		}
	}
	b.flush()

	return b.lesson, nil
}

func (b *lessonBuilder) block(n ast.Node) error {
	switch node := n.(type) {
	case *ast.Heading:
		title := b.lines(node)
		switch {
		case node.Level == 1 && b.lesson.Title == "":
			b.lesson.Title = title
		case node.Level <= 2:
			b.startSection(headingID(node, title), title)
		default:
			b.add(ContentItem{Type: TypeHeading, Content: Text(title)})
		}

	case *ast.Paragraph:
		if img, ok := soleImage(node, b.body); ok {
			b.add(ContentItem{
				Type:    TypeImage,
				Content: Text(string(img.Destination)),
				Alt:     inlineText(img, b.body),
			})
			return nil
		}
		b.add(ContentItem{Type: TypeParagraph, Content: Text(b.lines(node))})

	case *ast.Blockquote:
		b.add(ContentItem{Type: TypeQuote, Content: Text(b.blockText(node))})

	case *ast.List:
		var entries []string
		for li := node.FirstChild(); li != nil; li = li.NextSibling() {
			entries = append(entries, b.blockText(li))
		}
		b.add(ContentItem{Type: TypeList, Content: List(entries...)})

	case *ast.FencedCodeBlock:
		return b.fence(node)

	case *ast.CodeBlock:
		b.add(ContentItem{Type: TypeCode, Content: Text(b.code(node))})
	}
	// HTML blocks, thematic breaks and tables carry no lesson items.
	return nil
}

func (b *lessonBuilder) fence(node *ast.FencedCodeBlock) error {
	var info FenceInfo
	if node.Info != nil {
		info = ParseFenceInfo(string(node.Info.Segment.Value(b.body)))
	}
	body := b.code(node)
	line := b.lineOf(node)
	if strings.TrimSpace(body) == "" && info.Language != "widget" {
		return nil
	}

	switch {
	case info.Language == "mermaid":
		b.add(ContentItem{Type: TypeMermaid, Content: Text(body)})

	case info.Language == "widget":
		component := info.Metadata["component"]
		if component == "" && len(info.Flags) > 0 {
			component = info.Flags[0]
		}
		if component == "" {
			return NewParseError(b.file, line, "Widget block has no component name").
				withSource(b.source).
				WithSection(b.sectionID()).
				WithHint("Name the widget after the fence, e.g. ```widget counter id=demo")
		}
		b.add(ContentItem{
			Type:          TypeInteractive,
			Component:     component,
			InteractiveID: info.Metadata["id"],
		})

	case info.Language == "output":
		if prev := b.last(); prev != nil && prev.Type == TypeTerminal && prev.Output == "" {
			prev.Output = body
			return nil
		}
		b.add(ContentItem{Type: TypeCode, Content: Text(body), Language: "text"})

	case info.Language == "terminal" || info.HasFlag("terminal"):
		lang := info.Language
		if lang == "terminal" {
			lang = ""
		}
		effect := info.Metadata["effect"]
		if effect == "" {
			effect = info.Metadata["effectId"]
		}
		b.add(ContentItem{
			Type:     TypeTerminal,
			Content:  Text(body),
			Language: lang,
			Output:   strings.ReplaceAll(info.Metadata["output"], `\n`, "\n"),
			EffectID: effect,
		})

	default:
		b.add(ContentItem{Type: TypeCode, Content: Text(body), Language: info.Language})
	}
	return nil
}

func (b *lessonBuilder) startSection(id, title string) {
	b.flush()
	b.current = &Section{ID: b.uniqueID(id), Title: title}
}

func (b *lessonBuilder) add(item ContentItem) {
	if b.current == nil {
		b.current = &Section{ID: b.uniqueID(IntroSectionID)}
	}
	b.current.Items = append(b.current.Items, item)
}

func (b *lessonBuilder) last() *ContentItem {
	if b.current == nil || len(b.current.Items) == 0 {
		return nil
	}
	return &b.current.Items[len(b.current.Items)-1]
}

func (b *lessonBuilder) flush() {
	if b.current == nil {
		return
	}
	// A heading with nothing under it still forms a section.
	b.lesson.Sections = append(b.lesson.Sections, *b.current)
	b.current = nil
}

func (b *lessonBuilder) sectionID() string {
	if b.current == nil {
		return ""
	}
	return b.current.ID
}

func (b *lessonBuilder) uniqueID(id string) string {
	if id == "" {
		id = "section"
	}
	candidate := id
	for n := 1; b.ids[candidate]; n++ {
		candidate = fmt.Sprintf("%s-%d", id, n)
	}
	b.ids[candidate] = true
	return candidate
}

// lines joins a block's source lines, preserving inline markdown.
func (b *lessonBuilder) lines(n ast.Node) string {
	segs := n.Lines()
	parts := make([]string, 0, segs.Len())
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		parts = append(parts, strings.TrimRight(string(seg.Value(b.body)), " \t\r\n"))
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// blockText flattens container blocks (quotes, list items) into text,
// one paragraph per blank-line separated chunk.
func (b *lessonBuilder) blockText(n ast.Node) string {
	if n.Type() != ast.TypeBlock {
		return ""
	}
	if n.Lines().Len() > 0 {
		return b.lines(n)
	}
	var parts []string
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t := b.blockText(c); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (b *lessonBuilder) code(n ast.Node) string {
	var buf bytes.Buffer
	segs := n.Lines()
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		buf.Write(seg.Value(b.body))
	}
	return buf.String()
}

// lineOf returns the 1-indexed line in the original file where n starts.
func (b *lessonBuilder) lineOf(n ast.Node) int {
	if f, ok := n.(*ast.FencedCodeBlock); ok && f.Info != nil {
		return b.lineOffset + bytes.Count(b.body[:f.Info.Segment.Start], []byte("\n")) + 1
	}
	for c := n; c != nil; c = c.FirstChild() {
		if c.Type() == ast.TypeBlock && c.Lines().Len() > 0 {
			start := c.Lines().At(0).Start
			return b.lineOffset + bytes.Count(b.body[:start], []byte("\n")) + 1
		}
	}
	return 0
}

func headingID(h *ast.Heading, title string) string {
	if v, ok := h.AttributeString("id"); ok {
		if id, ok := v.([]byte); ok && len(id) > 0 {
			return string(id)
		}
	}
	return strings.ToLower(strings.Join(strings.Fields(title), "-"))
}

// soleImage reports whether a paragraph holds exactly one image and nothing
// else but whitespace.
func soleImage(p *ast.Paragraph, source []byte) (*ast.Image, bool) {
	var img *ast.Image
	for c := p.FirstChild(); c != nil; c = c.NextSibling() {
		switch node := c.(type) {
		case *ast.Image:
			if img != nil {
				return nil, false
			}
			img = node
		case *ast.Text:
			if len(bytes.TrimSpace(node.Segment.Value(source))) > 0 {
				return nil, false
			}
		default:
			return nil, false
		}
	}
	return img, img != nil
}

func inlineText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// ParseFenceInfo splits a fenced code info string into language, bare flags
// and key=value metadata. Values may be single or double quoted and may
// contain spaces when quoted.
func ParseFenceInfo(info string) FenceInfo {
	fi := FenceInfo{Metadata: make(map[string]string)}
	tokens := splitInfo(info)
	if len(tokens) == 0 {
		return fi
	}

	start := 0
	if !strings.Contains(tokens[0], "=") {
		fi.Language = tokens[0]
		start = 1
	}
	for _, tok := range tokens[start:] {
		if key, value, ok := strings.Cut(tok, "="); ok {
			fi.Metadata[key] = value
			continue
		}
		fi.Flags = append(fi.Flags, tok)
	}
	return fi
}

func splitInfo(info string) []string {
	var (
		tokens []string
		cur    strings.Builder
		quote  rune
		inTok  bool
	)
	for _, r := range info {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			inTok = true
		case r == ' ' || r == '\t':
			if inTok {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inTok = false
			}
		default:
			cur.WriteRune(r)
			inTok = true
		}
	}
	if inTok {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

// extractFrontmatter extracts YAML frontmatter from the beginning of content.
// Returns the parsed frontmatter and the remaining content.
func extractFrontmatter(content []byte) (*Frontmatter, []byte, error) {
	if !bytes.HasPrefix(content, []byte("---\n")) {
		return &Frontmatter{}, content, nil
	}

	endIdx := bytes.Index(content[4:], []byte("\n---\n"))
	if endIdx == -1 {
		return nil, nil, fmt.Errorf("unclosed frontmatter")
	}

	yamlContent := content[4 : 4+endIdx]
	remaining := content[4+endIdx+5:]

	var fm Frontmatter
	if err := yaml.Unmarshal(yamlContent, &fm); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &fm, remaining, nil
}
