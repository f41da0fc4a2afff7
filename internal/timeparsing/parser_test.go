package timeparsing

import (
	"testing"
	"time"
)

func TestParseCompactOffset(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{
			name:  "+6h adds 6 hours",
			input: "+6h",
			want:  time.Date(2026, 6, 15, 18, 0, 0, 0, time.UTC),
		},
		{
			name:  "-2h subtracts 2 hours",
			input: "-2h",
			want:  time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC),
		},
		{
			name:  "-1d subtracts 1 day",
			input: "-1d",
			want:  time.Date(2026, 6, 14, 12, 0, 0, 0, time.UTC),
		},
		{
			name:  "+2w adds 2 weeks",
			input: "+2w",
			want:  time.Date(2026, 6, 29, 12, 0, 0, 0, time.UTC),
		},
		{
			name:  "unsigned means forward",
			input: "3m",
			want:  time.Date(2026, 9, 15, 12, 0, 0, 0, time.UTC),
		},
		{
			name:  "-1y subtracts 1 year",
			input: "-1y",
			want:  time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
		},
		{
			name:    "bare number rejected",
			input:   "6",
			wantErr: true,
		},
		{
			name:    "unknown unit rejected",
			input:   "6x",
			wantErr: true,
		},
		{
			name:    "words rejected",
			input:   "tomorrow",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCompactOffset(tt.input, now)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseCompactOffset(%q) = %v, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCompactOffset(%q) error: %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseCompactOffset(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsCompactOffset(t *testing.T) {
	for _, s := range []string{"+6h", "-1d", "2w", "3m", "1y"} {
		if !IsCompactOffset(s) {
			t.Errorf("IsCompactOffset(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"", "6", "h", "yesterday", "2026-01-02", "+6 h"} {
		if IsCompactOffset(s) {
			t.Errorf("IsCompactOffset(%q) = true, want false", s)
		}
	}
}

func TestParseNaturalLanguage(t *testing.T) {
	// Wednesday, January 14, 2026, 10:00 local.
	now := time.Date(2026, 1, 14, 10, 0, 0, 0, time.Local)

	tests := []struct {
		name      string
		input     string
		wantYear  int
		wantMonth time.Month
		wantDay   int
		wantHour  int // -1 means don't check
		wantErr   bool
	}{
		{
			name:      "tomorrow",
			input:     "tomorrow",
			wantYear:  2026,
			wantMonth: time.January,
			wantDay:   15,
			wantHour:  -1,
		},
		{
			name:      "yesterday",
			input:     "yesterday",
			wantYear:  2026,
			wantMonth: time.January,
			wantDay:   13,
			wantHour:  -1,
		},
		{
			name:      "next monday",
			input:     "next monday",
			wantYear:  2026,
			wantMonth: time.January,
			wantDay:   19,
			wantHour:  -1,
		},
		{
			name:      "tomorrow at 9am",
			input:     "tomorrow at 9am",
			wantYear:  2026,
			wantMonth: time.January,
			wantDay:   15,
			wantHour:  9,
		},
		{
			name:    "gibberish",
			input:   "flurbious",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNaturalLanguage(tt.input, now)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseNaturalLanguage(%q) = %v, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseNaturalLanguage(%q) error: %v", tt.input, err)
			}
			if got.Year() != tt.wantYear || got.Month() != tt.wantMonth || got.Day() != tt.wantDay {
				t.Errorf("ParseNaturalLanguage(%q) = %v, want %d-%02d-%02d",
					tt.input, got, tt.wantYear, tt.wantMonth, tt.wantDay)
			}
			if tt.wantHour >= 0 && got.Hour() != tt.wantHour {
				t.Errorf("ParseNaturalLanguage(%q) hour = %d, want %d", tt.input, got.Hour(), tt.wantHour)
			}
		})
	}
}

func TestParseRelativeTimeLayers(t *testing.T) {
	now := time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC)

	// Layer 1: compact offset.
	got, err := ParseRelativeTime("-2h", now)
	if err != nil {
		t.Fatalf("ParseRelativeTime(-2h) error: %v", err)
	}
	if want := now.Add(-2 * time.Hour); !got.Equal(want) {
		t.Errorf("ParseRelativeTime(-2h) = %v, want %v", got, want)
	}

	// Layer 2: absolute stamps. RFC 3339 must not fall through to the
	// NLP layer, which would latch onto the year fragment.
	got, err = ParseRelativeTime("2026-03-01T12:30:00Z", now)
	if err != nil {
		t.Fatalf("ParseRelativeTime(rfc3339) error: %v", err)
	}
	if want := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("ParseRelativeTime(rfc3339) = %v, want %v", got, want)
	}

	got, err = ParseRelativeTime("2026-03-01", now)
	if err != nil {
		t.Fatalf("ParseRelativeTime(date) error: %v", err)
	}
	if got.Year() != 2026 || got.Month() != time.March || got.Day() != 1 {
		t.Errorf("ParseRelativeTime(date) = %v, want 2026-03-01", got)
	}

	// Layer 3: natural language.
	got, err = ParseRelativeTime("yesterday", now)
	if err != nil {
		t.Fatalf("ParseRelativeTime(yesterday) error: %v", err)
	}
	if got.Day() != 13 {
		t.Errorf("ParseRelativeTime(yesterday) day = %d, want 13", got.Day())
	}

	// Whitespace-only input is rejected before any layer runs.
	if _, err := ParseRelativeTime("   ", now); err == nil {
		t.Error("ParseRelativeTime(blank) succeeded, want error")
	}
}
