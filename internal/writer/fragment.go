package writer

import (
	"strings"
	"unicode/utf8"
)

// DefaultTokenBudget is the per-fragment budget in approximate tokens.
// The character conversion assumes roughly four characters per token,
// which tracks English prose closely enough for splitting.
const (
	DefaultTokenBudget = 4000
	charsPerToken      = 4
)

// splitContent breaks content into fragments that each fit the token
// budget. Returns nil when the content already fits. Splits prefer
// heading boundaries, then paragraph boundaries, then a hard cut.
func splitContent(content string, budget int) []string {
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	maxChars := budget * charsPerToken
	if len(content) <= maxChars {
		return nil
	}

	var pieces []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			pieces = append(pieces, s)
		}
		cur.Reset()
	}
	add := func(block string) {
		block = strings.TrimSpace(block)
		if block == "" {
			return
		}
		if cur.Len() > 0 && cur.Len()+len(block)+2 > maxChars {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(block)
	}

	for _, block := range headingBlocks(content) {
		if len(block) <= maxChars {
			add(block)
			continue
		}
		for _, chunk := range paragraphChunks(block, maxChars) {
			add(chunk)
		}
	}
	flush()
	return pieces
}

// headingBlocks splits markdown at ATX heading lines. Each heading
// starts a new block; text before the first heading forms its own.
func headingBlocks(content string) []string {
	var blocks []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			blocks = append(blocks, strings.Join(cur, "\n"))
			cur = nil
		}
	}
	for _, line := range strings.Split(content, "\n") {
		if isHeadingLine(line) {
			flush()
		}
		cur = append(cur, line)
	}
	flush()
	return blocks
}

func isHeadingLine(line string) bool {
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	return n >= 1 && n <= 6 && n < len(line) && (line[n] == ' ' || line[n] == '\t')
}

// paragraphChunks splits an oversized block on blank lines, packing
// paragraphs up to maxChars. A single paragraph larger than the limit
// is cut at the limit without breaking UTF-8 runes.
func paragraphChunks(block string, maxChars int) []string {
	var chunks []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}
	for _, para := range strings.Split(block, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) > maxChars {
			flush()
			chunks = append(chunks, hardSplit(para, maxChars)...)
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(para)+2 > maxChars {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	flush()
	return chunks
}

func hardSplit(text string, maxChars int) []string {
	var parts []string
	for len(text) > maxChars {
		cut := maxChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxChars
		}
		parts = append(parts, strings.TrimSpace(text[:cut]))
		text = text[cut:]
	}
	if s := strings.TrimSpace(text); s != "" {
		parts = append(parts, s)
	}
	return parts
}
