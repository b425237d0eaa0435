// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - One flat Config shared by the gateway and the arbiter binaries.
// - New() builds a Config with defaults; Load(ctx) layers overrides on top.
// - Secrets (tokens, passwords) are never logged; use Summary for log output.
package config

import (
	"fmt"
	"runtime"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the slog handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr is the gateway HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`
	// ArbiterAddr is the listen address of the arbiter in serve mode.
	ArbiterAddr string `koanf:"arbiter_addr"`

	// AllowedOrigin is the single origin allowed to call the gateway cross-origin.
	AllowedOrigin string `koanf:"allowed_origin"`
	// ClientIPHeader names a trusted proxy header carrying the caller address.
	// Empty means the TCP peer address is used.
	ClientIPHeader string `koanf:"client_ip_header"`

	// RateLimitWindowSeconds is the minimum spacing between accepted submissions per source.
	RateLimitWindowSeconds int `koanf:"rate_limit_window_seconds"`
	// RateLimitTTLSeconds is how long an entry lives in the store.
	RateLimitTTLSeconds int `koanf:"rate_limit_ttl_seconds"`
	// RateLimitBackend is memory or redis.
	RateLimitBackend string `koanf:"rate_limit_backend"`

	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	// TriggerBaseURL is the API root receiving repository dispatches.
	TriggerBaseURL string `koanf:"trigger_base_url"`
	// TriggerRepository is the "owner/name" dispatch target.
	TriggerRepository string `koanf:"trigger_repository"`
	// TriggerToken is the bearer credential for the dispatch call.
	TriggerToken string `koanf:"trigger_token"`
	// TriggerTimeoutMS bounds a single dispatch call.
	TriggerTimeoutMS int `koanf:"trigger_timeout_ms"`

	// Slot names the single leaderboard identity managed by this deployment.
	Slot string `koanf:"slot"`

	// ArtifactBackend is memory, sql or github.
	ArtifactBackend string `koanf:"artifact_backend"`
	// DatabaseDialect is sqlite or postgres.
	DatabaseDialect string `koanf:"database_dialect"`
	DatabaseDSN     string `koanf:"database_dsn"`

	GitHubBaseURL        string `koanf:"github_base_url"`
	GitHubRepository     string `koanf:"github_repository"`
	GitHubToken          string `koanf:"github_token"`
	GitHubBaseBranch     string `koanf:"github_base_branch"`
	GitHubProposalBranch string `koanf:"github_proposal_branch"`
	GitHubRecordPath     string `koanf:"github_record_path"`

	// RunnerToken authenticates dispatches and review actions sent to the arbiter.
	RunnerToken string `koanf:"runner_token"`

	// WorkerCount sets the number of arbitration workers in serve mode.
	WorkerCount int `koanf:"worker_count"`
	// QueueSize bounds the in-memory dispatch queue.
	QueueSize int `koanf:"queue_size"`
	// DedupeSize sets how many dispatch IDs are remembered for replay suppression.
	DedupeSize int `koanf:"dedupe_size"`

	// WorkflowMaxAttempts bounds read-compare-write retries after a CAS conflict.
	WorkflowMaxAttempts int `koanf:"workflow_max_attempts"`
	// LockBackend is local or redis.
	LockBackend string `koanf:"lock_backend"`
	LockTTLMS   int    `koanf:"lock_ttl_ms"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:               "info",
		LogFormat:              "text",
		Addr:                   ":8080",
		ArbiterAddr:            ":8081",
		AllowedOrigin:          "http://localhost:4000",
		RateLimitWindowSeconds: 30,
		RateLimitTTLSeconds:    60,
		RateLimitBackend:       "memory",
		RedisAddr:              "localhost:6379",
		TriggerBaseURL:         "https://api.github.com/",
		TriggerTimeoutMS:       5000,
		Slot:                   "highscore",
		ArtifactBackend:        "sql",
		DatabaseDialect:        "sqlite",
		DatabaseDSN:            "hiscore.db",
		GitHubBaseURL:          "https://api.github.com/",
		GitHubBaseBranch:       "main",
		GitHubProposalBranch:   "highscore-update",
		GitHubRecordPath:       "_data/highscore.json",
		WorkerCount:            runtime.NumCPU(),
		QueueSize:              1024,
		DedupeSize:             10_000,
		WorkflowMaxAttempts:    5,
		LockBackend:            "local",
		LockTTLMS:              30_000,
	}
}

// RateLimitWindow returns the enforced spacing as a duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

// RateLimitTTL returns the store expiry as a duration.
func (c *Config) RateLimitTTL() time.Duration {
	return time.Duration(c.RateLimitTTLSeconds) * time.Second
}

// TriggerTimeout returns the dispatch call timeout.
func (c *Config) TriggerTimeout() time.Duration {
	return time.Duration(c.TriggerTimeoutMS) * time.Millisecond
}

// LockTTL returns the slot lock lease.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMS) * time.Millisecond
}

// Summary returns a loggable description with secrets masked.
func (c *Config) Summary() string {
	return fmt.Sprintf("addr=%s arbiter_addr=%s origin=%s ratelimit=%s/%ds artifact=%s slot=%s trigger_repo=%s trigger_token=%s",
		c.Addr, c.ArbiterAddr, c.AllowedOrigin, c.RateLimitBackend, c.RateLimitWindowSeconds,
		c.ArtifactBackend, c.Slot, c.TriggerRepository, mask(c.TriggerToken))
}

func mask(secret string) string {
	if secret == "" {
		return "<unset>"
	}
	return "<redacted>"
}
