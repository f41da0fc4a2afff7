package writer

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitContentFits(t *testing.T) {
	if got := splitContent("short note", 10); got != nil {
		t.Errorf("split = %v, want nil for content within budget", got)
	}
}

func TestSplitOnHeadings(t *testing.T) {
	// Budget 25 tokens = 100 chars; each section is ~76 chars so every
	// piece holds exactly one section.
	var b strings.Builder
	for i := 0; i < 4; i++ {
		fmt.Fprintf(&b, "## Section %d\n\n%s\n\n", i, strings.Repeat("x", 60))
	}

	pieces := splitContent(b.String(), 25)
	if len(pieces) != 4 {
		t.Fatalf("len(pieces) = %d, want 4", len(pieces))
	}
	for i, p := range pieces {
		if len(p) > 100 {
			t.Errorf("piece %d is %d chars, over budget", i, len(p))
		}
		want := fmt.Sprintf("## Section %d", i)
		if !strings.HasPrefix(p, want) {
			t.Errorf("piece %d starts %q, want heading %q", i, p[:20], want)
		}
	}
}

func TestSplitPacksSmallSections(t *testing.T) {
	// Two ~30 char sections fit one 100 char piece together.
	content := "## A\n\n" + strings.Repeat("a", 24) + "\n\n## B\n\n" + strings.Repeat("b", 24) +
		"\n\n## C\n\n" + strings.Repeat("c", 80)
	pieces := splitContent(content, 25)
	if len(pieces) != 2 {
		t.Fatalf("len(pieces) = %d, want 2: %q", len(pieces), pieces)
	}
	if !strings.Contains(pieces[0], "## A") || !strings.Contains(pieces[0], "## B") {
		t.Errorf("small sections not packed together: %q", pieces[0])
	}
}

func TestSplitParagraphFallback(t *testing.T) {
	paras := make([]string, 6)
	for i := range paras {
		paras[i] = strings.Repeat(string(rune('a'+i)), 40)
	}
	content := strings.Join(paras, "\n\n")

	pieces := splitContent(content, 25)
	if len(pieces) != 3 {
		t.Fatalf("len(pieces) = %d, want 3", len(pieces))
	}
	for i, p := range pieces {
		if len(p) > 100 {
			t.Errorf("piece %d is %d chars, over budget", i, len(p))
		}
	}
	if strings.Join(pieces, "\n\n") != content {
		t.Errorf("paragraph split lost content")
	}
}

func TestSplitHardCutKeepsRunesWhole(t *testing.T) {
	content := strings.Repeat("я", 300)
	pieces := splitContent(content, 25)
	if len(pieces) < 2 {
		t.Fatalf("len(pieces) = %d", len(pieces))
	}
	for i, p := range pieces {
		if len(p) > 100 {
			t.Errorf("piece %d is %d bytes", i, len(p))
		}
		if !utf8.ValidString(p) {
			t.Errorf("piece %d split a rune", i)
		}
	}
	if strings.Join(pieces, "") != content {
		t.Errorf("hard split lost content")
	}
}

func TestSplitDefaultBudget(t *testing.T) {
	content := strings.Repeat("word ", 4000) // 20 000 chars
	pieces := splitContent(content, 0)
	if len(pieces) != 2 {
		t.Fatalf("len(pieces) = %d, want 2", len(pieces))
	}
	for i, p := range pieces {
		if len(p) > DefaultTokenBudget*charsPerToken {
			t.Errorf("piece %d is %d chars", i, len(p))
		}
	}
}
