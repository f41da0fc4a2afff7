// Package config loads daemon configuration from notebook.yaml, the
// NOTEBOOK_* environment, and flag overrides, in ascending precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full daemon configuration tree. Keys mirror the viper
// paths, e.g. pipeline.similarity_thresholds.integrate.
type Config struct {
	ConnectionStrings ConnectionStrings `mapstructure:"connection_strings"`
	Auth              Auth              `mapstructure:"auth"`
	Jobs              Jobs              `mapstructure:"jobs"`
	Pipeline          Pipeline          `mapstructure:"pipeline"`
	Fragmenter        Fragmenter        `mapstructure:"fragmenter"`
	Review            Review            `mapstructure:"review"`
	Subscriptions     Subscriptions     `mapstructure:"subscriptions"`
	Server            Server            `mapstructure:"server"`
	Events            Events            `mapstructure:"events"`
}

type ConnectionStrings struct {
	// Notebook selects the backend: a SQLite path/URI, or a MySQL DSN
	// (user:pass@tcp(host)/db or mysql://...).
	Notebook string `mapstructure:"notebook"`
}

type Auth struct {
	// PublicKey is a base64 SPKI Ed25519 public key for JWT verification.
	PublicKey string `mapstructure:"public_key"`
	// PublicKeyFile is a PEM file path, watched for rotation. Takes
	// precedence over PublicKey when both are set.
	PublicKeyFile string `mapstructure:"public_key_file"`
	Issuer        string `mapstructure:"issuer"`
	// AllowDevIdentity accepts the X-Author-Id header in place of a
	// token. Never enable outside local development.
	AllowDevIdentity bool `mapstructure:"allow_dev_identity"`
}

type Jobs struct {
	DefaultTimeoutSeconds  int `mapstructure:"default_timeout_seconds"`
	DefaultMaxRetries      int `mapstructure:"default_max_retries"`
	ReclaimIntervalSeconds int `mapstructure:"reclaim_interval_seconds"`
}

type Pipeline struct {
	SemanticTopK            int                  `mapstructure:"semantic_top_k"`
	SimilarityThresholds    SimilarityThresholds `mapstructure:"similarity_thresholds"`
	RetroactivePropagation  bool                 `mapstructure:"retroactive_propagation"`
	CompareIncludesMirrored bool                 `mapstructure:"compare_includes_mirrored"`
}

type SimilarityThresholds struct {
	Integrate float64 `mapstructure:"integrate"`
	Low       float64 `mapstructure:"low"`
	Friction  float64 `mapstructure:"friction"`
}

type Fragmenter struct {
	TokenBudget int `mapstructure:"token_budget"`
}

type Review struct {
	// FrictionThreshold is the default notebook review_threshold applied
	// at notebook creation.
	FrictionThreshold float64 `mapstructure:"friction_threshold"`
}

type Subscriptions struct {
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
}

type Server struct {
	Listen string `mapstructure:"listen"`
}

type Events struct {
	// NATSURL, when set, mirrors every notebook event to JetStream.
	NATSURL string `mapstructure:"nats_url"`
}

// MinPollIntervalSeconds is the floor for subscription polling.
const MinPollIntervalSeconds = 10

func setDefaults(v *viper.Viper) {
	v.SetDefault("connection_strings.notebook", "file:notebook.db")
	v.SetDefault("auth.public_key", "")
	v.SetDefault("auth.public_key_file", "")
	v.SetDefault("auth.issuer", "thinktank")
	v.SetDefault("auth.allow_dev_identity", false)
	v.SetDefault("jobs.default_timeout_seconds", 120)
	v.SetDefault("jobs.default_max_retries", 3)
	v.SetDefault("jobs.reclaim_interval_seconds", 15)
	v.SetDefault("pipeline.semantic_top_k", 5)
	v.SetDefault("pipeline.similarity_thresholds.integrate", 0.80)
	v.SetDefault("pipeline.similarity_thresholds.low", 0.50)
	v.SetDefault("pipeline.similarity_thresholds.friction", 0.60)
	v.SetDefault("pipeline.retroactive_propagation", false)
	v.SetDefault("pipeline.compare_includes_mirrored", true)
	v.SetDefault("fragmenter.token_budget", 4000)
	v.SetDefault("review.friction_threshold", 0.75)
	v.SetDefault("subscriptions.poll_interval_seconds", 60)
	v.SetDefault("server.listen", ":8723")
	v.SetDefault("events.nats_url", "")
}

// Load reads configuration. path, when non-empty, names an explicit
// config file; otherwise notebook.yaml is searched in the working
// directory and $HOME/.notebook. A missing file is not an error: env
// vars (NOTEBOOK_ prefix, dots as underscores) and defaults still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("notebook")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.notebook")
	}
	v.SetEnvPrefix("NOTEBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Subscriptions.PollIntervalSeconds < MinPollIntervalSeconds {
		cfg.Subscriptions.PollIntervalSeconds = MinPollIntervalSeconds
	}
	if issues := cfg.Validate(); len(issues) > 0 {
		return nil, fmt.Errorf("invalid config: %s", strings.Join(issues, "; "))
	}
	return &cfg, nil
}

// Validate returns a list of human-readable configuration problems.
// An empty list means the config is usable.
func (c *Config) Validate() []string {
	var issues []string
	if c.ConnectionStrings.Notebook == "" {
		issues = append(issues, "connection_strings.notebook: required")
	}
	if c.Jobs.DefaultTimeoutSeconds <= 0 {
		issues = append(issues, fmt.Sprintf("jobs.default_timeout_seconds: %d is invalid (must be > 0)", c.Jobs.DefaultTimeoutSeconds))
	}
	if c.Jobs.DefaultMaxRetries < 0 {
		issues = append(issues, fmt.Sprintf("jobs.default_max_retries: %d is invalid (must be >= 0)", c.Jobs.DefaultMaxRetries))
	}
	if c.Jobs.ReclaimIntervalSeconds <= 0 {
		issues = append(issues, fmt.Sprintf("jobs.reclaim_interval_seconds: %d is invalid (must be > 0)", c.Jobs.ReclaimIntervalSeconds))
	}
	if c.Pipeline.SemanticTopK <= 0 {
		issues = append(issues, fmt.Sprintf("pipeline.semantic_top_k: %d is invalid (must be > 0)", c.Pipeline.SemanticTopK))
	}
	t := c.Pipeline.SimilarityThresholds
	for name, val := range map[string]float64{
		"pipeline.similarity_thresholds.integrate": t.Integrate,
		"pipeline.similarity_thresholds.low":       t.Low,
		"pipeline.similarity_thresholds.friction":  t.Friction,
		"review.friction_threshold":                c.Review.FrictionThreshold,
	} {
		if val < 0 || val > 1 {
			issues = append(issues, fmt.Sprintf("%s: %v is invalid (must be in [0,1])", name, val))
		}
	}
	if t.Low > t.Integrate {
		issues = append(issues, fmt.Sprintf("pipeline.similarity_thresholds: low (%v) must not exceed integrate (%v)", t.Low, t.Integrate))
	}
	if c.Fragmenter.TokenBudget <= 0 {
		issues = append(issues, fmt.Sprintf("fragmenter.token_budget: %d is invalid (must be > 0)", c.Fragmenter.TokenBudget))
	}
	if c.Server.Listen == "" {
		issues = append(issues, "server.listen: required")
	}
	return issues
}

// JobTimeout returns the default job timeout as a duration.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Jobs.DefaultTimeoutSeconds) * time.Second
}

// ReclaimInterval returns the reclamation poll interval as a duration.
func (c *Config) ReclaimInterval() time.Duration {
	return time.Duration(c.Jobs.ReclaimIntervalSeconds) * time.Second
}

// PollInterval returns the subscription poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Subscriptions.PollIntervalSeconds) * time.Second
}
