// Package ui provides terminal styling for nbk output: color and TTY
// detection, status coloring, and markdown rendering.
package ui

import (
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// IsAgentMode reports whether output should stay machine-friendly:
// no colors, no markdown rendering, no pager. Set NBK_AGENT_MODE=1
// when driving nbk from scripts or agents that parse output.
func IsAgentMode() bool {
	return os.Getenv("NBK_AGENT_MODE") != ""
}

// ShouldUseColor decides color output. NO_COLOR and CLICOLOR=0 disable
// it, CLICOLOR_FORCE enables it even when piped, otherwise it follows
// the TTY check. NO_COLOR wins over CLICOLOR_FORCE.
func ShouldUseColor() bool {
	if IsAgentMode() {
		return false
	}
	if termenv.EnvNoColor() {
		return false
	}
	if force := os.Getenv("CLICOLOR_FORCE"); force != "" && force != "0" {
		return true
	}
	return IsTerminal()
}

// ShouldUseEmoji reports whether status icons may use non-ASCII glyphs.
// NBK_NO_EMOJI disables them regardless of TTY state.
func ShouldUseEmoji() bool {
	if os.Getenv("NBK_NO_EMOJI") != "" {
		return false
	}
	return IsTerminal()
}

// TerminalWidth returns the stdout width, or fallback when stdout is
// not a terminal or the size cannot be read.
func TerminalWidth(fallback int) int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return fallback
}
