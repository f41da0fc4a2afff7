// Package timeparsing resolves the time expressions CLI flags accept
// into absolute instants. Parsing is layered:
//
//  1. Compact offset relative to now (-2h, +1d, 3w)
//  2. Absolute stamp (RFC 3339, YYYY-MM-DD)
//  3. Natural language ("yesterday", "next monday at 9am")
//
// The audit --since flag is the main consumer; a bare "-2h" there means
// two hours ago.
package timeparsing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// compactOffsetRe matches compact offset patterns: [+-]?(\d+)([hdwmy]).
// Examples: +6h, -1d, 2w, 3m, 1y.
var compactOffsetRe = regexp.MustCompile(`^([+-]?)(\d+)([hdwmy])$`)

// nlp is shared across calls; a when parser is read-only after rule
// registration.
var nlp = newNLP()

func newNLP() *when.Parser {
	p := when.New(nil)
	p.Add(en.All...)
	p.Add(common.All...)
	return p
}

// ParseRelativeTime resolves a flag value through the layers in order.
// Absolute stamps are tried before natural language: the NLP layer
// happily matches fragments of an RFC 3339 string, so it goes last.
func ParseRelativeTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}
	if IsCompactOffset(s) {
		return ParseCompactOffset(s, now)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}
	return ParseNaturalLanguage(s, now)
}

// ParseCompactOffset parses compact offset syntax against a base time.
//
// Units: h hours, d days, w weeks, m months, y years. A missing sign
// means forward.
func ParseCompactOffset(s string, now time.Time) (time.Time, error) {
	matches := compactOffsetRe.FindStringSubmatch(s)
	if matches == nil {
		return time.Time{}, fmt.Errorf("not a compact offset: %q", s)
	}

	amount, err := strconv.Atoi(matches[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid offset amount: %q", matches[2])
	}
	if matches[1] == "-" {
		amount = -amount
	}

	switch matches[3] {
	case "h":
		return now.Add(time.Duration(amount) * time.Hour), nil
	case "d":
		return now.AddDate(0, 0, amount), nil
	case "w":
		return now.AddDate(0, 0, amount*7), nil
	case "m":
		return now.AddDate(0, amount, 0), nil
	case "y":
		return now.AddDate(amount, 0, 0), nil
	}
	return time.Time{}, fmt.Errorf("unknown offset unit: %q", matches[3])
}

// IsCompactOffset reports whether the string matches compact offset
// syntax.
func IsCompactOffset(s string) bool {
	return compactOffsetRe.MatchString(s)
}

// ParseNaturalLanguage resolves an English time expression relative to
// now. The match may cover only part of the input ("since yesterday"
// resolves via the "yesterday" fragment).
func ParseNaturalLanguage(s string, now time.Time) (time.Time, error) {
	r, err := nlp.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized time expression %q", s)
	}
	return r.Time, nil
}
