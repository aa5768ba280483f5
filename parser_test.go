package lessonview

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseFrontmatter(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantFM   Frontmatter
		wantBody string
	}{
		{
			name: "complete frontmatter",
			content: `---
id: loops
title: "Loops"
description: Iterating in Go
---

# Hello World`,
			wantFM: Frontmatter{
				ID:          "loops",
				Title:       "Loops",
				Description: "Iterating in Go",
			},
			wantBody: "# Hello World",
		},
		{
			name: "no frontmatter",
			content: `# Hello World

Some content`,
			wantFM:   Frontmatter{},
			wantBody: "# Hello World\n\nSome content",
		},
		{
			name: "minimal frontmatter",
			content: `---
title: "Simple"
---

Content`,
			wantFM:   Frontmatter{Title: "Simple"},
			wantBody: "Content",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fm, remaining, err := extractFrontmatter([]byte(tt.content))
			if err != nil {
				t.Fatalf("extractFrontmatter() error = %v", err)
			}
			if *fm != tt.wantFM {
				t.Errorf("frontmatter = %+v, want %+v", *fm, tt.wantFM)
			}

			body := strings.TrimSpace(string(remaining))
			want := strings.TrimSpace(tt.wantBody)
			if body != want {
				t.Errorf("remaining body = %q, want %q", body, want)
			}
		})
	}
}

func TestExtractFrontmatterUnclosed(t *testing.T) {
	_, _, err := extractFrontmatter([]byte("---\ntitle: x\n\n# Body\n"))
	if err == nil {
		t.Fatal("expected error for unclosed frontmatter")
	}
}

func TestParseFenceInfo(t *testing.T) {
	tests := []struct {
		info      string
		wantLang  string
		wantFlags []string
		wantMeta  map[string]string
	}{
		{info: "", wantMeta: map[string]string{}},
		{info: "go", wantLang: "go", wantMeta: map[string]string{}},
		{
			info:      `sh terminal output="hello world" effect=text-adventure`,
			wantLang:  "sh",
			wantFlags: []string{"terminal"},
			wantMeta:  map[string]string{"output": "hello world", "effect": "text-adventure"},
		},
		{
			info:      "widget counter id='demo'",
			wantLang:  "widget",
			wantFlags: []string{"counter"},
			wantMeta:  map[string]string{"id": "demo"},
		},
		{
			info:     "id=only",
			wantMeta: map[string]string{"id": "only"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.info, func(t *testing.T) {
			got := ParseFenceInfo(tt.info)
			if got.Language != tt.wantLang {
				t.Errorf("Language = %q, want %q", got.Language, tt.wantLang)
			}
			if strings.Join(got.Flags, ",") != strings.Join(tt.wantFlags, ",") {
				t.Errorf("Flags = %v, want %v", got.Flags, tt.wantFlags)
			}
			if len(got.Metadata) != len(tt.wantMeta) {
				t.Fatalf("Metadata = %v, want %v", got.Metadata, tt.wantMeta)
			}
			for k, v := range tt.wantMeta {
				if got.Metadata[k] != v {
					t.Errorf("Metadata[%s] = %q, want %q", k, got.Metadata[k], v)
				}
			}
		})
	}
}

const loopsLesson = `---
title: Loops
---

Intro paragraph with **bold**.

## Getting Started

Some text.

- one
- two

> quoted

![Diagram](img/loop.png)

### Sub

` + "```go" + `
fmt.Println("hi")
` + "```" + `

` + "```bash terminal effect=text-adventure" + `
go run .
` + "```" + `

` + "```output" + `
hi
` + "```" + `

` + "```mermaid" + `
graph TD; A-->B
` + "```" + `

` + "```widget counter id=demo" + `
` + "```" + `
`

func TestParseMarkdownComplete(t *testing.T) {
	lesson, err := ParseString(loopsLesson)
	if err != nil {
		t.Fatalf("ParseString() error = %v", err)
	}

	if lesson.Title != "Loops" {
		t.Errorf("Title = %q, want \"Loops\"", lesson.Title)
	}
	if len(lesson.Sections) != 2 {
		t.Fatalf("got %d sections, want 2", len(lesson.Sections))
	}
	if lesson.Sections[0].ID != IntroSectionID {
		t.Errorf("first section id = %q, want %q", lesson.Sections[0].ID, IntroSectionID)
	}

	intro := lesson.Sections[0].Items
	if len(intro) != 1 || intro[0].Type != TypeParagraph {
		t.Fatalf("intro items = %+v, want one paragraph", intro)
	}
	if intro[0].Content.Text() != "Intro paragraph with **bold**." {
		t.Errorf("intro text = %q", intro[0].Content.Text())
	}

	started := lesson.Sections[1]
	if started.ID != "getting-started" || started.Title != "Getting Started" {
		t.Errorf("section = %q/%q, want getting-started/Getting Started", started.ID, started.Title)
	}

	wantTypes := []ItemType{
		TypeParagraph, TypeList, TypeQuote, TypeImage, TypeHeading,
		TypeCode, TypeTerminal, TypeMermaid, TypeInteractive,
	}
	if len(started.Items) != len(wantTypes) {
		t.Fatalf("got %d items, want %d: %+v", len(started.Items), len(wantTypes), started.Items)
	}
	for i, want := range wantTypes {
		if started.Items[i].Type != want {
			t.Errorf("item %d type = %q, want %q", i, started.Items[i].Type, want)
		}
	}

	list := started.Items[1]
	if !list.Content.IsList() || strings.Join(list.Content.Items(), "|") != "one|two" {
		t.Errorf("list content = %v, want [one two]", list.Content)
	}
	if started.Items[2].Content.Text() != "quoted" {
		t.Errorf("quote = %q, want \"quoted\"", started.Items[2].Content.Text())
	}

	img := started.Items[3]
	if img.Content.Text() != "img/loop.png" || img.Alt != "Diagram" {
		t.Errorf("image = %q alt %q", img.Content.Text(), img.Alt)
	}

	code := started.Items[5]
	if code.Language != "go" || !strings.Contains(code.Content.Text(), `fmt.Println("hi")`) {
		t.Errorf("code = %+v", code)
	}

	term := started.Items[6]
	if term.Language != "bash" {
		t.Errorf("terminal language = %q, want bash", term.Language)
	}
	if term.EffectID != EffectTextAdventure {
		t.Errorf("terminal effect = %q, want %q", term.EffectID, EffectTextAdventure)
	}
	if term.Output != "hi\n" {
		t.Errorf("terminal output = %q, want \"hi\\n\"", term.Output)
	}

	widget := started.Items[8]
	if widget.Component != "counter" || widget.InteractiveID != "demo" {
		t.Errorf("widget = %q/%q, want counter/demo", widget.Component, widget.InteractiveID)
	}

	if err := lesson.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestParseMarkdownTerminalInlineOutput(t *testing.T) {
	content := "## Run\n\n```terminal output=\"line1\\nline2\"\nls\n```\n"
	lesson, err := ParseString(content)
	if err != nil {
		t.Fatalf("ParseString() error = %v", err)
	}

	item := lesson.Sections[0].Items[0]
	if item.Type != TypeTerminal {
		t.Fatalf("type = %q, want terminal", item.Type)
	}
	if item.Language != "" {
		t.Errorf("language = %q, want empty so the default applies", item.Language)
	}
	if item.Output != "line1\nline2" {
		t.Errorf("output = %q", item.Output)
	}
}

func TestParseMarkdownOrphanOutputIsCode(t *testing.T) {
	lesson, err := ParseString("## A\n\n```output\nplain\n```\n")
	if err != nil {
		t.Fatalf("ParseString() error = %v", err)
	}
	item := lesson.Sections[0].Items[0]
	if item.Type != TypeCode || item.Language != "text" {
		t.Errorf("item = %+v, want text code", item)
	}
}

func TestParseMarkdownDuplicateHeadings(t *testing.T) {
	lesson, err := ParseString("Before.\n\n## Intro\n\nA\n\n## Intro\n\nB\n")
	if err != nil {
		t.Fatalf("ParseString() error = %v", err)
	}

	seen := make(map[string]bool)
	for _, s := range lesson.Sections {
		if seen[s.ID] {
			t.Errorf("duplicate section id %q", s.ID)
		}
		seen[s.ID] = true
	}
	if err := lesson.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestParseMarkdownWidgetWithoutName(t *testing.T) {
	content := "---\ntitle: x\n---\n\n## A\n\n```widget\n```\n"
	_, err := ParseString(content)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("error type = %T, want *ParseError", err)
	}
	if pe.Line != 7 {
		t.Errorf("Line = %d, want 7", pe.Line)
	}
	if pe.Section != "a" {
		t.Errorf("Section = %q, want \"a\"", pe.Section)
	}
	if !strings.Contains(err.Error(), "```widget") {
		t.Errorf("error should show the offending line:\n%s", err)
	}
}

func TestParseFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "02-loops.lesson.yaml")
	content := `title: Loops
sections:
  - id: basics
    title: Basics
    items:
      - type: paragraph
        content: Hello
      - type: list
        content: [a, b]
      - type: terminal
        content: go test ./...
        output: ok
        effectId: text-adventure
      - type: interactive
        component: counter
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	lesson, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if lesson.ID != "02-loops" {
		t.Errorf("ID = %q, want \"02-loops\"", lesson.ID)
	}
	if lesson.SourceFile != path {
		t.Errorf("SourceFile = %q, want %q", lesson.SourceFile, path)
	}
	if lesson.ItemCount() != 4 {
		t.Fatalf("ItemCount() = %d, want 4", lesson.ItemCount())
	}

	items := lesson.Sections[0].Items
	if got := items[1].Content.Items(); len(got) != 2 || got[0] != "a" {
		t.Errorf("list content = %v", got)
	}
	if items[2].EffectID != EffectTextAdventure || items[2].Output != "ok" {
		t.Errorf("terminal = %+v", items[2])
	}
	if got := lesson.Components(); len(got) != 1 || got[0] != "counter" {
		t.Errorf("Components() = %v, want [counter]", got)
	}
}

func TestParseYAMLInvalidItem(t *testing.T) {
	content := `sections:
  - id: basics
    items:
      - type: paragraph
        content: fine
      - type: list
        content: not a list
`
	_, err := ParseYAML([]byte(content), "bad.yaml")
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("error type = %T, want *ParseError", err)
	}
	if pe.Line != 6 {
		t.Errorf("Line = %d, want 6", pe.Line)
	}

	var ie *ItemError
	if !errors.As(err, &ie) {
		t.Fatalf("error should wrap *ItemError")
	}
	if ie.Section != "basics" || ie.Index != 1 || ie.Field != "content" {
		t.Errorf("ItemError = %+v", ie)
	}
}

func TestParseYAMLSectionErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing id",
			content: "sections:\n  - title: Nameless\n",
			want:    "has no id",
		},
		{
			name:    "duplicate id",
			content: "sections:\n  - id: a\n  - id: a\n",
			want:    "Duplicate section id",
		},
		{
			name:    "unknown field",
			content: "title: x\nchapters: []\n",
			want:    "Failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAML([]byte(tt.content), "lesson.yaml")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should contain %q", err, tt.want)
			}
		})
	}
}

func TestLessonID(t *testing.T) {
	tests := map[string]string{
		"lessons/02-loops.lesson.yaml": "02-loops",
		"intro.md":                     "intro",
		"/abs/path/v1.2.md":            "v1.2",
		"notes":                        "notes",
	}
	for in, want := range tests {
		if got := LessonID(in); got != want {
			t.Errorf("LessonID(%q) = %q, want %q", in, got, want)
		}
	}
}
