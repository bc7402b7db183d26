package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// MarkdownRenderer renders bot answers with glamour at a fixed wrap width.
// A nil renderer or a glamour failure falls back to the raw text.
type MarkdownRenderer struct {
	renderer *glamour.TermRenderer
	width    int
	style    string
}

// NewMarkdownRenderer builds a renderer for the theme and wrap width.
func NewMarkdownRenderer(theme Theme, width int) *MarkdownRenderer {
	if width < 20 {
		width = 20
	}
	mr := &MarkdownRenderer{width: width, style: theme.GlamourStyle()}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(mr.style),
		glamour.WithWordWrap(width),
	)
	if err == nil {
		mr.renderer = r
	}
	return mr
}

// Width returns the wrap width.
func (mr *MarkdownRenderer) Width() int {
	if mr == nil {
		return 0
	}
	return mr.width
}

// Render renders content, recovering from glamour panics.
func (mr *MarkdownRenderer) Render(content string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = content
		}
	}()

	if mr == nil || mr.renderer == nil || content == "" {
		return content
	}
	rendered, err := mr.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.Trim(rendered, "\n")
}

// HardBreaks turns single newlines outside fenced code blocks into markdown
// hard line breaks, so multi-line answers keep their line structure.
func HardBreaks(content string) string {
	if !strings.Contains(content, "\n") {
		return content
	}
	lines := strings.Split(content, "\n")
	inFence := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence || i == len(lines)-1 || trimmed == "" {
			continue
		}
		if next := strings.TrimSpace(lines[i+1]); next == "" {
			continue
		}
		if !strings.HasSuffix(line, "  ") && !strings.HasSuffix(line, "\\") {
			lines[i] = line + "  "
		}
	}
	return strings.Join(lines, "\n")
}
