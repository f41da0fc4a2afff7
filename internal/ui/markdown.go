package ui

import (
	"charm.land/glamour/v2"
)

// maxReadableWidth caps word wrap; wider lines are hard to scan.
const maxReadableWidth = 100

// RenderMarkdown renders markdown for terminal display, word-wrapped to
// the terminal width. In agent mode, without color, or when rendering
// fails, the raw markdown comes back unchanged.
func RenderMarkdown(markdown string) string {
	if IsAgentMode() || !ShouldUseColor() {
		return markdown
	}

	wrapWidth := TerminalWidth(80)
	if wrapWidth > maxReadableWidth {
		wrapWidth = maxReadableWidth
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStylePath("dark"),
		glamour.WithWordWrap(wrapWidth),
	)
	if err != nil {
		return markdown
	}

	rendered, err := renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return rendered
}
