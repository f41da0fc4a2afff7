package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "exactly10!", Truncate("exactly10!", 10))
	assert.Equal(t, "this is a…", Truncate("this is a long sentence", 10))
	assert.Equal(t, "multi line text", Truncate("multi\nline\n  text", 0))
	// Rune-safe: no split inside a multibyte character.
	assert.Equal(t, "héllo wor…", Truncate("héllo world here", 10))
}

func TestStyledWithoutColorIsIdentity(t *testing.T) {
	t.Setenv("NBK_AGENT_MODE", "1")
	assert.Equal(t, "probation", Styled(WarnStyle, "probation"))
	assert.Equal(t, "verified", ClaimsStatus("verified"))
	assert.Equal(t, "orphan", IntegrationStatus("orphan"))
	assert.Equal(t, "pending", ReviewStatus("pending"))
	assert.Equal(t, "0.8000", Friction(0.8, 0.75))
	assert.Equal(t, "-", Topic(""))
}

func TestRenderMarkdownAgentModePassesThrough(t *testing.T) {
	t.Setenv("NBK_AGENT_MODE", "1")
	md := "# heading\n\nbody **bold**\n"
	assert.Equal(t, md, RenderMarkdown(md))
}
