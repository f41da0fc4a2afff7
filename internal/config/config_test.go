package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notebook.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.ConnectionStrings.Notebook; got != "file:notebook.db" {
		t.Errorf("connection string = %q, want file:notebook.db", got)
	}
	if cfg.Jobs.DefaultTimeoutSeconds != 120 {
		t.Errorf("default timeout = %d, want 120", cfg.Jobs.DefaultTimeoutSeconds)
	}
	if cfg.Jobs.DefaultMaxRetries != 3 {
		t.Errorf("default max retries = %d, want 3", cfg.Jobs.DefaultMaxRetries)
	}
	if cfg.Pipeline.SemanticTopK != 5 {
		t.Errorf("semantic top k = %d, want 5", cfg.Pipeline.SemanticTopK)
	}
	st := cfg.Pipeline.SimilarityThresholds
	if st.Integrate != 0.80 || st.Low != 0.50 || st.Friction != 0.60 {
		t.Errorf("thresholds = %+v, want 0.80/0.50/0.60", st)
	}
	if cfg.Pipeline.RetroactivePropagation {
		t.Error("retroactive propagation should default off")
	}
	if !cfg.Pipeline.CompareIncludesMirrored {
		t.Error("compare_includes_mirrored should default on")
	}
	if cfg.Fragmenter.TokenBudget != 4000 {
		t.Errorf("token budget = %d, want 4000", cfg.Fragmenter.TokenBudget)
	}
	if cfg.Review.FrictionThreshold != 0.75 {
		t.Errorf("review threshold = %v, want 0.75", cfg.Review.FrictionThreshold)
	}
	if cfg.Server.Listen != ":8723" {
		t.Errorf("listen = %q, want :8723", cfg.Server.Listen)
	}
	if cfg.Auth.AllowDevIdentity {
		t.Error("dev identity should default off")
	}
}

func TestLoadFileValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
connection_strings:
  notebook: "file:/tmp/kb.db"
pipeline:
  semantic_top_k: 9
  similarity_thresholds:
    integrate: 0.9
server:
  listen: ":9000"
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ConnectionStrings.Notebook != "file:/tmp/kb.db" {
		t.Errorf("connection string = %q", cfg.ConnectionStrings.Notebook)
	}
	if cfg.Pipeline.SemanticTopK != 9 {
		t.Errorf("semantic top k = %d, want 9", cfg.Pipeline.SemanticTopK)
	}
	if cfg.Pipeline.SimilarityThresholds.Integrate != 0.9 {
		t.Errorf("integrate = %v, want 0.9", cfg.Pipeline.SimilarityThresholds.Integrate)
	}
	// unset nested keys keep defaults
	if cfg.Pipeline.SimilarityThresholds.Low != 0.50 {
		t.Errorf("low = %v, want default 0.50", cfg.Pipeline.SimilarityThresholds.Low)
	}
	if cfg.Server.Listen != ":9000" {
		t.Errorf("listen = %q, want :9000", cfg.Server.Listen)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("NOTEBOOK_SERVER_LISTEN", ":7777")
	t.Setenv("NOTEBOOK_AUTH_ALLOW_DEV_IDENTITY", "true")
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Listen != ":7777" {
		t.Errorf("listen = %q, want env override :7777", cfg.Server.Listen)
	}
	if !cfg.Auth.AllowDevIdentity {
		t.Error("allow_dev_identity env override not applied")
	}
}

func TestLoadClampsPollInterval(t *testing.T) {
	cfg, err := Load(writeConfig(t, "subscriptions:\n  poll_interval_seconds: 2\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Subscriptions.PollIntervalSeconds != MinPollIntervalSeconds {
		t.Errorf("poll interval = %d, want floor %d", cfg.Subscriptions.PollIntervalSeconds, MinPollIntervalSeconds)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"zero timeout", "jobs:\n  default_timeout_seconds: 0\n", "default_timeout_seconds"},
		{"threshold out of range", "pipeline:\n  similarity_thresholds:\n    friction: 1.5\n", "friction"},
		{"low above integrate", "pipeline:\n  similarity_thresholds:\n    low: 0.9\n    integrate: 0.6\n", "must not exceed"},
		{"empty listen", "server:\n  listen: \"\"\n", "server.listen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}
