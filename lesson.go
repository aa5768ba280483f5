package lessonview

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Lesson is a parsed lesson: an ordered list of sections, each holding
// renderable items.
type Lesson struct {
	ID          string    `yaml:"id" json:"id"`
	Title       string    `yaml:"title" json:"title"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	SourceFile  string    `yaml:"-" json:"sourceFile,omitempty"`
	Sections    []Section `yaml:"sections" json:"sections"`
}

// Section returns the section with the given id.
func (l *Lesson) Section(id string) (*Section, bool) {
	for i := range l.Sections {
		if l.Sections[i].ID == id {
			return &l.Sections[i], true
		}
	}
	return nil, false
}

// ItemCount returns the number of items across all sections.
func (l *Lesson) ItemCount() int {
	n := 0
	for _, s := range l.Sections {
		n += len(s.Items)
	}
	return n
}

// Components returns the distinct widget names referenced by the lesson in
// order of first appearance.
func (l *Lesson) Components() []string {
	seen := make(map[string]bool)
	var names []string
	for _, s := range l.Sections {
		for _, it := range s.Items {
			if it.Type == TypeInteractive && !seen[it.Component] {
				seen[it.Component] = true
				names = append(names, it.Component)
			}
		}
	}
	return names
}

// Validate checks section identity and every item's shape.
func (l *Lesson) Validate() error {
	seen := make(map[string]bool)
	for _, s := range l.Sections {
		if s.ID == "" {
			return NewParseError(l.label(), 0, fmt.Sprintf("Section %q has no id", s.Title)).
				WithHint("Every section needs an id; it identifies widgets that do not set interactiveId")
		}
		if seen[s.ID] {
			return NewParseError(l.label(), 0, fmt.Sprintf("Duplicate section id %q", s.ID)).
				WithSection(s.ID)
		}
		seen[s.ID] = true

		for i, it := range s.Items {
			if err := it.Validate(); err != nil {
				return itemParseError(l.label(), 0, s.ID, i, err)
			}
		}
	}
	return nil
}

func (l *Lesson) label() string {
	if l.SourceFile != "" {
		return l.SourceFile
	}
	return l.ID
}

// ParseFile reads a lesson from disk. Markdown (.md) and YAML
// (.yaml, .yml) sources are supported.
func ParseFile(path string) (*Lesson, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	var lesson *Lesson
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		lesson, err = parseYAML(content, absPath)
	default:
		lesson, err = parseMarkdown(content, absPath)
	}
	if err != nil {
		return nil, err
	}

	lesson.SourceFile = absPath
	if lesson.ID == "" {
		lesson.ID = LessonID(path)
	}
	return lesson, nil
}

// ParseString parses markdown lesson content held in memory.
func ParseString(content string) (*Lesson, error) {
	lesson, err := parseMarkdown([]byte(content), "inline")
	if err != nil {
		return nil, err
	}
	if lesson.ID == "" {
		lesson.ID = "inline"
	}
	return lesson, nil
}

// ParseYAML parses a YAML lesson held in memory. name labels errors.
func ParseYAML(content []byte, name string) (*Lesson, error) {
	lesson, err := parseYAML(content, name)
	if err != nil {
		return nil, err
	}
	if lesson.ID == "" {
		lesson.ID = LessonID(name)
	}
	return lesson, nil
}

// LessonID derives a lesson id from its file name:
// "lessons/02-loops.lesson.yaml" becomes "02-loops".
func LessonID(path string) string {
	base := filepath.Base(path)
	for {
		ext := filepath.Ext(base)
		if ext == "" || ext == base {
			break
		}
		switch strings.ToLower(ext) {
		case ".md", ".yaml", ".yml", ".lesson":
			base = strings.TrimSuffix(base, ext)
			continue
		}
		break
	}
	return base
}

// IsLessonFile reports whether path names a file ParseFile understands.
func IsLessonFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".yaml", ".yml":
		return true
	}
	return false
}

type yamlLesson struct {
	ID          string        `yaml:"id"`
	Title       string        `yaml:"title"`
	Description string        `yaml:"description"`
	Sections    []yamlSection `yaml:"sections"`
}

type yamlSection struct {
	ID    string      `yaml:"id"`
	Title string      `yaml:"title"`
	Items []yaml.Node `yaml:"items"`
}

// parseYAML decodes items one node at a time so validation errors can carry
// the item's line.
func parseYAML(content []byte, file string) (*Lesson, error) {
	var doc yamlLesson
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, NewParseError(file, yamlErrorLine(err), fmt.Sprintf("Failed to parse YAML: %v", err)).
			withSource(content).wrap(err)
	}

	lesson := &Lesson{
		ID:          doc.ID,
		Title:       doc.Title,
		Description: doc.Description,
	}

	seen := make(map[string]bool)
	for _, ys := range doc.Sections {
		if ys.ID == "" {
			return nil, NewParseError(file, 0, fmt.Sprintf("Section %q has no id", ys.Title)).
				withSource(content).
				WithHint("Every section needs an id; it identifies widgets that do not set interactiveId")
		}
		if seen[ys.ID] {
			return nil, NewParseError(file, 0, fmt.Sprintf("Duplicate section id %q", ys.ID)).
				withSource(content).WithSection(ys.ID)
		}
		seen[ys.ID] = true

		section := Section{ID: ys.ID, Title: ys.Title}
		for i := range ys.Items {
			node := &ys.Items[i]
			var item ContentItem
			if err := node.Decode(&item); err != nil {
				return nil, NewParseError(file, node.Line, fmt.Sprintf("Invalid item: %v", err)).
					withSource(content).WithSection(ys.ID).wrap(err)
			}
			if err := item.Validate(); err != nil {
				return nil, itemParseError(file, node.Line, ys.ID, i, err).withSource(content)
			}
			section.Items = append(section.Items, item)
		}
		lesson.Sections = append(lesson.Sections, section)
	}

	return lesson, nil
}

// yamlErrorLine pulls "line N" out of a yaml.v3 error message.
func yamlErrorLine(err error) int {
	msg := err.Error()
	idx := strings.Index(msg, "line ")
	if idx < 0 {
		return 0
	}
	var line int
	if _, scanErr := fmt.Sscanf(msg[idx:], "line %d", &line); scanErr != nil {
		return 0
	}
	return line
}
