// Package lessonview provides the core library for rendering structured lesson
// content (prose, code samples, simulated terminals, diagrams and embedded
// interactive widgets) into a live presentational view.
package lessonview

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

// ItemType discriminates the kinds of content a lesson can contain.
type ItemType string

const (
	TypeParagraph   ItemType = "paragraph"
	TypeHeading     ItemType = "heading"
	TypeQuote       ItemType = "quote"
	TypeList        ItemType = "list"
	TypeCode        ItemType = "code"
	TypeTerminal    ItemType = "terminal"
	TypeMermaid     ItemType = "mermaid"
	TypeImage       ItemType = "image"
	TypeInteractive ItemType = "interactive"
)

// ItemTypes lists every known item type in declaration order.
var ItemTypes = []ItemType{
	TypeParagraph, TypeHeading, TypeQuote, TypeList, TypeCode,
	TypeTerminal, TypeMermaid, TypeImage, TypeInteractive,
}

// Known reports whether t is one of the recognized item types.
func (t ItemType) Known() bool {
	return slices.Contains(ItemTypes, t)
}

const (
	// DefaultCodeLanguage is used for code items without a language tag.
	DefaultCodeLanguage = "javascript"
	// DefaultTerminalLanguage is used for terminal items without a language tag.
	DefaultTerminalLanguage = "bash"
	// EffectTextAdventure selects the character-by-character terminal reveal.
	EffectTextAdventure = "text-adventure"
)

// Content is the payload of a content item: a text string, or an ordered
// sequence of strings for list items. The zero value is empty text.
type Content struct {
	text  string
	items []string
	list  bool
}

// Text returns text content.
func Text(s string) Content {
	return Content{text: s}
}

// List returns list content holding the given entries in order.
func List(items ...string) Content {
	return Content{items: slices.Clone(items), list: true}
}

// IsList reports whether the content is a sequence of strings.
func (c Content) IsList() bool { return c.list }

// Text returns the text payload. It is empty for list content.
func (c Content) Text() string { return c.text }

// Items returns a copy of the list entries, or nil for text content.
func (c Content) Items() []string { return slices.Clone(c.items) }

// Len returns the number of list entries.
func (c Content) Len() int { return len(c.items) }

// IsZero reports whether the content carries nothing at all.
// yaml.v3 consults it for omitempty.
func (c Content) IsZero() bool {
	return !c.list && c.text == ""
}

func (c Content) String() string {
	if c.list {
		return fmt.Sprintf("%q", c.items)
	}
	return c.text
}

// UnmarshalYAML accepts either a scalar string or a sequence of strings.
func (c *Content) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*c = Text(s)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return fmt.Errorf("list content must contain strings: %w", err)
		}
		*c = Content{items: items, list: true}
		return nil
	default:
		return fmt.Errorf("line %d: content must be a string or a list of strings", value.Line)
	}
}

// MarshalYAML emits a scalar for text and a sequence for lists.
func (c Content) MarshalYAML() (interface{}, error) {
	if c.list {
		return c.items, nil
	}
	return c.text, nil
}

// UnmarshalJSON accepts either a JSON string or an array of strings.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		*c = Content{}
		return nil
	case len(trimmed) > 0 && trimmed[0] == '[':
		var items []string
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return fmt.Errorf("list content must contain strings: %w", err)
		}
		*c = Content{items: items, list: true}
		return nil
	default:
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("content must be a string or a list of strings: %w", err)
		}
		*c = Text(s)
		return nil
	}
}

// MarshalJSON emits a string for text and an array for lists.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.list {
		if c.items == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(c.items)
	}
	return json.Marshal(c.text)
}

// ContentItem is one renderable unit of lesson content. Items are produced by
// a content source and consumed read-only; nothing downstream mutates them.
type ContentItem struct {
	Type     ItemType `yaml:"type" json:"type"`
	Content  Content  `yaml:"content,omitempty" json:"content"`
	Language string   `yaml:"language,omitempty" json:"language,omitempty"`

	// Terminal only
	Output   string `yaml:"output,omitempty" json:"output,omitempty"`
	EffectID string `yaml:"effectId,omitempty" json:"effectId,omitempty"`
	// OnRunCustomEffect is invoked synchronously when a terminal run is
	// triggered, before the timed reveal starts.
	OnRunCustomEffect func() `yaml:"-" json:"-"`

	// Interactive only
	Component     string `yaml:"component,omitempty" json:"component,omitempty"`
	InteractiveID string `yaml:"interactiveId,omitempty" json:"interactiveId,omitempty"`

	// Image only
	Alt string `yaml:"alt,omitempty" json:"alt,omitempty"`
}

// Validate checks the item's shape against its type.
func (it ContentItem) Validate() error {
	if !it.Type.Known() {
		return &ItemError{Type: it.Type, Reason: fmt.Sprintf("unknown item type %q", it.Type)}
	}

	if it.Type == TypeInteractive {
		if it.Component == "" {
			return &ItemError{Type: it.Type, Field: "component", Reason: "interactive items must name a component"}
		}
		return nil
	}

	if it.Component != "" {
		return &ItemError{Type: it.Type, Field: "component", Reason: "only interactive items may name a component"}
	}
	if it.Content.IsZero() {
		return &ItemError{Type: it.Type, Field: "content", Reason: "content is required"}
	}
	if it.Type == TypeList && !it.Content.IsList() {
		return &ItemError{Type: it.Type, Field: "content", Reason: "list content must be a sequence of strings"}
	}
	if it.Type != TypeList && it.Content.IsList() {
		return &ItemError{Type: it.Type, Field: "content", Reason: "only list items may carry a sequence"}
	}
	if it.Output != "" && it.Type != TypeTerminal {
		return &ItemError{Type: it.Type, Field: "output", Reason: "output is only valid on terminal items"}
	}
	if it.Alt != "" && it.Type != TypeImage {
		return &ItemError{Type: it.Type, Field: "alt", Reason: "alt is only valid on image items"}
	}
	return nil
}

// Section is a named grouping of items. Its ID is the fallback identity for
// interactive widgets that do not carry their own.
type Section struct {
	ID    string        `yaml:"id" json:"id"`
	Title string        `yaml:"title,omitempty" json:"title,omitempty"`
	Items []ContentItem `yaml:"items" json:"items"`
}

// ItemError describes a content item whose shape does not match its type.
type ItemError struct {
	Section string
	Index   int
	Type    ItemType
	Field   string
	Reason  string
}

func (e *ItemError) Error() string {
	where := ""
	if e.Section != "" {
		where = fmt.Sprintf("section %q item %d: ", e.Section, e.Index)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s%s item: invalid %s: %s", where, e.Type, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s%s", where, e.Reason)
}
