package writer

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed rules.toml
var builtinRules []byte

// minSignals is how many distinct signals must match before a rule is
// allowed to touch the document.
const minSignals = 2

// Rule is one source-specific cleanup profile. Signals detect the
// source; strip patterns are removed in place; cut sections name
// headings whose content is dropped wholesale.
type Rule struct {
	Name        string   `toml:"name"`
	Signals     []string `toml:"signals"`
	Strip       []string `toml:"strip"`
	CutSections []string `toml:"cut_sections"`
}

type ruleFile struct {
	Rules []Rule `toml:"rules"`
}

type compiledRule struct {
	name    string
	signals []*regexp.Regexp
	strip   []*regexp.Regexp
	cuts    []*regexp.Regexp
}

// Cleaner applies source-specific cleanup rules to normalized content.
// Cleaning is idempotent: running it twice yields the same output.
type Cleaner struct {
	rules []compiledRule
}

// NewCleaner compiles the built-in ruleset.
func NewCleaner() (*Cleaner, error) {
	return NewCleanerFromTOML(builtinRules)
}

// NewCleanerFromTOML compiles a TOML ruleset, for deployments that ship
// their own patterns.
func NewCleanerFromTOML(data []byte) (*Cleaner, error) {
	var f ruleFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse cleanup rules: %w", err)
	}
	c := &Cleaner{}
	for _, r := range f.Rules {
		cr := compiledRule{name: r.Name}
		var err error
		if cr.signals, err = compileAll(r.Signals); err != nil {
			return nil, fmt.Errorf("rule %q signals: %w", r.Name, err)
		}
		if cr.strip, err = compileAll(r.Strip); err != nil {
			return nil, fmt.Errorf("rule %q strip: %w", r.Name, err)
		}
		for _, section := range r.CutSections {
			cr.cuts = append(cr.cuts, headingPattern(section))
		}
		c.rules = append(c.rules, cr)
	}
	return c, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// headingPattern matches a markdown (# Title) or mediawiki (== Title ==)
// heading line for the named section.
func headingPattern(section string) *regexp.Regexp {
	name := regexp.QuoteMeta(section)
	return regexp.MustCompile(`(?mi)^(?:#{1,6}\s+` + name + `|={2,}\s*` + name + `\s*=*)\s*$`)
}

// Clean applies every rule whose signals fire to the content. It
// returns the cleaned text and the names of the rules that fired.
func (c *Cleaner) Clean(content string) (string, []string) {
	var fired []string
	for _, r := range c.rules {
		if !r.detected(content) {
			continue
		}
		content = r.apply(content)
		fired = append(fired, r.name)
	}
	return content, fired
}

// detected counts distinct matching signals against the threshold.
func (r *compiledRule) detected(content string) bool {
	n := 0
	for _, sig := range r.signals {
		if sig.MatchString(content) {
			n++
			if n >= minSignals {
				return true
			}
		}
	}
	return false
}

func (r *compiledRule) apply(content string) string {
	for _, cut := range r.cuts {
		content = cutSection(content, cut)
	}
	for _, re := range r.strip {
		content = re.ReplaceAllString(content, "")
	}
	return collapseWhitespace(content)
}

// cutSection removes a heading and its body. The cut ends at the next
// heading of the same or a higher level, so mid-document chrome does not
// take trailing body content with it.
func cutSection(content string, heading *regexp.Regexp) string {
	for {
		loc := heading.FindStringIndex(content)
		if loc == nil {
			return content
		}
		level := headingLevel(content[loc[0]:loc[1]])
		rest := content[loc[1]:]
		end := len(content)
		for _, m := range anyHeading.FindAllStringIndex(rest, -1) {
			if headingLevel(rest[m[0]:m[1]]) <= level {
				end = loc[1] + m[0]
				break
			}
		}
		content = content[:loc[0]] + content[end:]
	}
}

var anyHeading = regexp.MustCompile(`(?m)^(#{1,6}\s+\S.*|={2,}\s*\S.*)$`)

// headingLevel maps "## x" to 2 and "=== x ===" to 3.
func headingLevel(line string) int {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "#") {
		return len(line) - len(strings.TrimLeft(line, "#"))
	}
	return len(line) - len(strings.TrimLeft(line, "="))
}
