// Package config loads process-level coordinator settings from the
// environment. Constructors throughout the module still take functional
// options; this package only supplies the defaults a deployment tunes
// without recompiling.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config tunes the coordinator and pipeline. Retry bounds follow the step
// policy: enrich/persist retry more generously than reason, and validation
// re-attempts are a fixed budget per turn.
type Config struct {
	// MaxRecentTurns bounds the episodic window; older exchanges fold into
	// the rolling summary.
	MaxRecentTurns int `env:"ENGRAM_MAX_RECENT_TURNS" envDefault:"8"`

	// EnrichMaxAttempts bounds retries of the enrich step on transient
	// memory failures.
	EnrichMaxAttempts int `env:"ENGRAM_ENRICH_MAX_ATTEMPTS" envDefault:"4"`

	// PersistMaxAttempts bounds retries of the persist step.
	PersistMaxAttempts int `env:"ENGRAM_PERSIST_MAX_ATTEMPTS" envDefault:"4"`

	// ReasonMaxAttempts bounds retries of the reason step on timeout.
	// Deliberately smaller than the memory bounds.
	ReasonMaxAttempts int `env:"ENGRAM_REASON_MAX_ATTEMPTS" envDefault:"2"`

	// ValidationRetryLimit bounds how often a failed validation routes back
	// to reason with an augmented context before the turn fails and the
	// conversation awaits human review.
	ValidationRetryLimit int `env:"ENGRAM_VALIDATION_RETRY_LIMIT" envDefault:"3"`

	// ReasoningTimeout is the per-attempt deadline for reasoning calls.
	ReasoningTimeout time.Duration `env:"ENGRAM_REASONING_TIMEOUT" envDefault:"30s"`

	// RetryInitialInterval seeds the exponential backoff between retries.
	RetryInitialInterval time.Duration `env:"ENGRAM_RETRY_INITIAL_INTERVAL" envDefault:"100ms"`

	// SignalQueueDepth is the per-conversation signal buffer. A full queue
	// rejects further deliveries rather than blocking the caller.
	SignalQueueDepth int `env:"ENGRAM_SIGNAL_QUEUE_DEPTH" envDefault:"64"`

	// RetrievalCacheSize bounds the memoized retrieval cache.
	RetrievalCacheSize int `env:"ENGRAM_RETRIEVAL_CACHE_SIZE" envDefault:"256"`

	// JournalPath, when set, selects the SQLite journal at that path instead
	// of the in-memory one.
	JournalPath string `env:"ENGRAM_JOURNAL_PATH"`
}

// Default returns the compiled-in defaults without consulting the
// environment.
func Default() Config {
	return Config{
		MaxRecentTurns:       8,
		EnrichMaxAttempts:    4,
		PersistMaxAttempts:   4,
		ReasonMaxAttempts:    2,
		ValidationRetryLimit: 3,
		ReasoningTimeout:     30 * time.Second,
		RetryInitialInterval: 100 * time.Millisecond,
		SignalQueueDepth:     64,
		RetrievalCacheSize:   256,
	}
}

// Load parses the environment over the defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config from environment: %w", err)
	}
	return cfg, nil
}
