package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/thinktank-hq/notebook/internal/types"
)

// Ayu theme color palette, adaptive light/dark.
var (
	ColorGood = lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	}
	ColorBad = lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6",
		Dark:  "#59c2ff",
	}
)

// Status styles, shared by every nbk command.
var (
	GoodStyle   = lipgloss.NewStyle().Foreground(ColorGood)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	BadStyle    = lipgloss.NewStyle().Foreground(ColorBad)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
)

// HeaderStyle for section headers.
var HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)

// Styled applies a style when color output is on, otherwise returns the
// text untouched.
func Styled(style lipgloss.Style, text string) string {
	if !ShouldUseColor() {
		return text
	}
	return style.Render(text)
}

// ClaimsStatus colors pipeline progress: verified green, distilled
// yellow, pending muted.
func ClaimsStatus(s types.ClaimsStatus) string {
	switch s {
	case types.ClaimsVerified:
		return Styled(GoodStyle, string(s))
	case types.ClaimsDistilled:
		return Styled(WarnStyle, string(s))
	default:
		return Styled(MutedStyle, string(s))
	}
}

// IntegrationStatus colors the pipeline verdict: integrated green,
// probation yellow, orphan red.
func IntegrationStatus(s types.IntegrationStatus) string {
	switch s {
	case types.IntegrationIntegrated:
		return Styled(GoodStyle, string(s))
	case types.IntegrationOrphan:
		return Styled(BadStyle, string(s))
	default:
		return Styled(WarnStyle, string(s))
	}
}

// ReviewStatus colors the review gate state: approved green, pending
// yellow, rejected red.
func ReviewStatus(s types.ReviewStatus) string {
	switch s {
	case types.ReviewApproved:
		return Styled(GoodStyle, string(s))
	case types.ReviewRejected:
		return Styled(BadStyle, string(s))
	default:
		return Styled(WarnStyle, string(s))
	}
}

// Friction renders a friction score, red at or above the notebook's
// review threshold.
func Friction(friction, threshold float64) string {
	text := fmt.Sprintf("%.4f", friction)
	if friction >= threshold {
		return Styled(BadStyle, text)
	}
	return Styled(MutedStyle, text)
}

// Topic renders a topic path, muted. Empty topics show as "-".
func Topic(topic string) string {
	if topic == "" {
		return Styled(MutedStyle, "-")
	}
	return Styled(AccentStyle, topic)
}

// Header renders a section header line.
func Header(text string) string {
	return Styled(HeaderStyle, text)
}

// Truncate shortens s to max runes, appending an ellipsis when cut.
// Newlines collapse to spaces first so table rows stay on one line.
func Truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 1 {
		return string(r[:max])
	}
	return string(r[:max-1]) + "…"
}
