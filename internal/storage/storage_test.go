package storage

import (
	"strings"
	"testing"

	"github.com/thinktank-hq/notebook/internal/types"
)

func TestSQLiteConnString(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		readOnly bool
		want     []string // substrings that must appear
		notWant  []string
	}{
		{
			name: "plain path gets pragmas",
			path: "notebook.db",
			want: []string{"file:notebook.db?", "_pragma=foreign_keys(ON)", "_pragma=busy_timeout(", "_time_format=sqlite"},
		},
		{
			name:     "read only adds mode",
			path:     "notebook.db",
			readOnly: true,
			want:     []string{"mode=ro"},
		},
		{
			name:    "existing URI keeps its pragmas",
			path:    "file:x.db?_pragma=busy_timeout(5)",
			want:    []string{"_pragma=busy_timeout(5)", "_pragma=foreign_keys(ON)"},
			notWant: []string{"busy_timeout(30000)"},
		},
		{
			name: "empty path",
			path: "   ",
			want: []string{""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SQLiteConnString(tt.path, tt.readOnly)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("SQLiteConnString(%q) = %q, missing %q", tt.path, got, w)
				}
			}
			for _, nw := range tt.notWant {
				if nw != "" && strings.Contains(got, nw) {
					t.Errorf("SQLiteConnString(%q) = %q, should not contain %q", tt.path, got, nw)
				}
			}
		})
	}
}

func TestIsMySQLDSN(t *testing.T) {
	tests := []struct {
		conn string
		want bool
	}{
		{"mysql://root:pw@tcp(localhost:3306)/notebook", true},
		{"root:pw@tcp(localhost:3306)/notebook?parseTime=true", true},
		{"app@unix(/var/run/mysqld.sock)/notebook", true},
		{"file:notebook.db", false},
		{"notebook.db", false},
		{"file::memory:", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsMySQLDSN(tt.conn); got != tt.want {
			t.Errorf("IsMySQLDSN(%q) = %v, want %v", tt.conn, got, tt.want)
		}
	}
}

func TestGradeIntegration(t *testing.T) {
	thresholds := GradeThresholds{Integrate: 0.80, Low: 0.50, Friction: 0.60}
	tests := []struct {
		name         string
		similarities []float64
		maxFriction  float64
		want         types.IntegrationStatus
	}{
		{"no comparisons", nil, 0, types.IntegrationProbation},
		{"all peers close, low friction", []float64{0.9, 0.85}, 0.1, types.IntegrationIntegrated},
		{"all peers close, high friction", []float64{0.9, 0.85}, 0.9, types.IntegrationProbation},
		{"no peer reached low bar", []float64{0.2, 0.4}, 0, types.IntegrationOrphan},
		{"mixed reach", []float64{0.9, 0.3}, 0.1, types.IntegrationProbation},
		{"exactly at integrate threshold", []float64{0.80}, 0.59, types.IntegrationIntegrated},
		{"exactly at friction threshold", []float64{0.95}, 0.60, types.IntegrationProbation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GradeIntegration(tt.similarities, tt.maxFriction, thresholds)
			if got != tt.want {
				t.Errorf("GradeIntegration(%v, %v) = %v, want %v", tt.similarities, tt.maxFriction, got, tt.want)
			}
		})
	}
}
