package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment keys recognised by Load.
const (
	envPrefix  = "HISCORE_"
	envConfig  = "HISCORE_CONFIG"
	envDotfile = "HISCORE_ENV_FILE"
)

// Load builds a Config by layering defaults, optional dotenv, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. .env file (HISCORE_ENV_FILE, default ".env"); only fills unset variables
//  3. file (YAML) if HISCORE_CONFIG is set
//  4. env (prefix HISCORE_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	dotfile := os.Getenv(envDotfile)
	if dotfile == "" {
		dotfile = ".env"
	}
	if err := godotenv.Load(dotfile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: dotenv %s: %w", ErrLoadConfig, dotfile, err)
	}

	k := koanf.New(".")

	if path := os.Getenv(envConfig); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// HISCORE_RATE_LIMIT_WINDOW_SECONDS -> rate_limit_window_seconds (flat keys).
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return invalid("addr must not be empty")
	case c.AllowedOrigin == "":
		return invalid("allowed_origin must not be empty")
	case c.RateLimitWindowSeconds <= 0:
		return invalid("rate_limit_window_seconds must be positive")
	case c.RateLimitTTLSeconds < c.RateLimitWindowSeconds:
		return invalid("rate_limit_ttl_seconds must not be shorter than the window")
	case c.TriggerTimeoutMS <= 0:
		return invalid("trigger_timeout_ms must be positive")
	case c.Slot == "":
		return invalid("slot must not be empty")
	case c.WorkflowMaxAttempts < 1:
		return invalid("workflow_max_attempts must be at least 1")
	}

	if !oneOf(c.RateLimitBackend, "memory", "redis") {
		return invalid("rate_limit_backend must be memory or redis")
	}
	if !oneOf(c.ArtifactBackend, "memory", "sql", "github") {
		return invalid("artifact_backend must be memory, sql or github")
	}
	if !oneOf(c.DatabaseDialect, "sqlite", "postgres") {
		return invalid("database_dialect must be sqlite or postgres")
	}
	if !oneOf(c.LockBackend, "local", "redis") {
		return invalid("lock_backend must be local or redis")
	}
	if c.TriggerRepository != "" && !isRepository(c.TriggerRepository) {
		return invalid("trigger_repository must look like owner/name")
	}
	if c.GitHubRepository != "" && !isRepository(c.GitHubRepository) {
		return invalid("github_repository must look like owner/name")
	}
	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

func isRepository(s string) bool {
	owner, name, ok := strings.Cut(s, "/")
	return ok && owner != "" && name != "" && !strings.Contains(name, "/")
}
