// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

// Config holds all application configuration.
type Config struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	Session  SessionConfig
	Stream   StreamConfig
	Remote   RemoteConfig
	Feedback FeedbackConfig
	Limits   LimitsConfig
}

// SessionConfig controls the in-memory session store.
type SessionConfig struct {
	TimeoutMinutes int           `env:"SESSION_TIMEOUT_MINUTES" envDefault:"30"`
	MaxMessages    int           `env:"SESSION_MAX_MESSAGES" envDefault:"100"`
	SweepInterval  time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"60s"`
}

// Timeout returns the idle cutoff as a duration.
func (s SessionConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMinutes) * time.Minute
}

// StreamConfig controls per-turn event streaming.
type StreamConfig struct {
	// Timeout is the idle timeout of a /message stream.
	Timeout time.Duration `env:"STREAM_TIMEOUT" envDefault:"5m"`
	// PacingDelay is the pause between staged bot messages.
	PacingDelay time.Duration `env:"PACING_DELAY" envDefault:"2s"`
}

// RemoteConfig points the classifier and action executor at external services.
// Empty URLs keep the built-in rule-based implementations.
type RemoteConfig struct {
	ClassifierURL    string        `env:"CLASSIFIER_URL"`
	ClassifierAPIKey string        `env:"CLASSIFIER_API_KEY"`
	ActionURL        string        `env:"ACTION_URL"`
	ActionAPIKey     string        `env:"ACTION_API_KEY"`
	Timeout          time.Duration `env:"REMOTE_TIMEOUT" envDefault:"10s"`
}

// FeedbackConfig locates the feedback sink.
type FeedbackConfig struct {
	DBPath string `env:"FEEDBACK_DB_PATH" envDefault:"./data/feedback.db"`
}

// LimitsConfig bounds request volume and size.
type LimitsConfig struct {
	RateLimitRequests  int           `env:"RATE_LIMIT_REQUESTS" envDefault:"30"`
	RateLimitWindow    time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
	MaxRequestBodySize int64         `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no environment overrides apply.
func Default() *Config {
	return &Config{
		Port:           "8080",
		AllowedOrigins: []string{"*"},
		Session: SessionConfig{
			TimeoutMinutes: 30,
			MaxMessages:    100,
			SweepInterval:  time.Minute,
		},
		Stream: StreamConfig{
			Timeout:     5 * time.Minute,
			PacingDelay: 2 * time.Second,
		},
		Remote: RemoteConfig{
			Timeout: 10 * time.Second,
		},
		Feedback: FeedbackConfig{
			DBPath: "./data/feedback.db",
		},
		Limits: LimitsConfig{
			RateLimitRequests:  30,
			RateLimitWindow:    time.Minute,
			MaxRequestBodySize: 1 << 20,
		},
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Session.TimeoutMinutes <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT_MINUTES must be > 0")
	}
	if c.Session.MaxMessages <= 0 {
		return fmt.Errorf("SESSION_MAX_MESSAGES must be > 0")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.Stream.Timeout <= 0 {
		return fmt.Errorf("STREAM_TIMEOUT must be > 0")
	}
	if c.Stream.PacingDelay < 0 {
		return fmt.Errorf("PACING_DELAY cannot be negative")
	}
	if c.Feedback.DBPath == "" {
		return fmt.Errorf("FEEDBACK_DB_PATH cannot be empty")
	}
	if c.Limits.RateLimitRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.Limits.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Limits.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	return nil
}

// RemoteClassifierEnabled reports whether an external classifier is configured.
func (c *Config) RemoteClassifierEnabled() bool {
	return strings.TrimSpace(c.Remote.ClassifierURL) != ""
}

// RemoteActionEnabled reports whether an external action service is configured.
func (c *Config) RemoteActionEnabled() bool {
	return strings.TrimSpace(c.Remote.ActionURL) != ""
}

// IsContainer returns true if running inside a Docker container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
