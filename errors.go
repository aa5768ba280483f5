package lessonview

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ParseError is a lesson source error with enough position information to
// point the author at the offending line.
type ParseError struct {
	File    string // Source file path, or a label for in-memory sources
	Line    int    // 1-indexed, 0 when unknown
	Column  int    // 1-indexed, optional
	Message string
	Hint    string
	Section string // Section the error was found in, if any

	// source is consulted for code context when File is not on disk.
	source []byte
	err    error
}

func (e *ParseError) Error() string {
	return e.Format()
}

// Unwrap exposes the underlying cause, typically an *ItemError.
func (e *ParseError) Unwrap() error { return e.err }

// Format renders the error with surrounding source lines.
func (e *ParseError) Format() string {
	var b strings.Builder

	fmt.Fprintf(&b, "❌ Error in %s\n\n", e.File)
	if e.Line > 0 {
		fmt.Fprintf(&b, "Line %d: %s\n", e.Line, e.Message)
	} else {
		fmt.Fprintf(&b, "%s\n", e.Message)
	}

	if context := e.codeContext(); context != "" {
		b.WriteString(context)
	}
	if e.Hint != "" {
		fmt.Fprintf(&b, "\n💡 Tip: %s\n", e.Hint)
	}
	if e.Section != "" {
		fmt.Fprintf(&b, "\n🔗 In section %q\n", e.Section)
	}
	return b.String()
}

func (e *ParseError) codeContext() string {
	if e.Line < 1 {
		return ""
	}
	lines := e.sourceLines()
	if e.Line > len(lines) {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	start := max(1, e.Line-2)
	end := min(len(lines), e.Line+2)
	for i := start; i <= end; i++ {
		prefix := fmt.Sprintf("  %2d | ", i)
		b.WriteString(prefix + lines[i-1] + "\n")
		if i == e.Line && e.Column > 0 {
			b.WriteString(strings.Repeat(" ", len(prefix)+e.Column-1) + "^\n")
		}
	}
	return b.String()
}

func (e *ParseError) sourceLines() []string {
	data := e.source
	if data == nil && e.File != "" {
		var err error
		if data, err = os.ReadFile(e.File); err != nil {
			return nil
		}
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

// NewParseError creates a new ParseError.
func NewParseError(file string, line int, message string) *ParseError {
	return &ParseError{
		File:    file,
		Line:    line,
		Message: message,
	}
}

// WithColumn adds column information to the error.
func (e *ParseError) WithColumn(col int) *ParseError {
	e.Column = col
	return e
}

// WithHint adds a helpful hint to the error.
func (e *ParseError) WithHint(hint string) *ParseError {
	e.Hint = hint
	return e
}

// WithSection records the section the error belongs to.
func (e *ParseError) WithSection(id string) *ParseError {
	e.Section = id
	return e
}

func (e *ParseError) withSource(src []byte) *ParseError {
	e.source = src
	return e
}

func (e *ParseError) wrap(err error) *ParseError {
	e.err = err
	return e
}

// itemParseError converts an item validation failure into a positioned error.
func itemParseError(file string, line int, section string, index int, err error) *ParseError {
	var ie *ItemError
	if !errors.As(err, &ie) {
		return NewParseError(file, line, err.Error()).WithSection(section).wrap(err)
	}
	ie.Section = section
	ie.Index = index

	pe := NewParseError(file, line, ie.Error()).WithSection(section).wrap(ie)
	switch ie.Field {
	case "component":
		pe.WithHint("Interactive items need a component name, e.g. ```widget counter id=demo")
	case "content":
		if ie.Type == TypeList {
			pe.WithHint("List content is a YAML sequence: content: [first, second]")
		} else {
			pe.WithHint("Give the item a non-empty content string")
		}
	case "":
		pe.WithHint(fmt.Sprintf("Valid item types are: %s", joinTypes(ItemTypes)))
	}
	return pe
}

func joinTypes(types []ItemType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
