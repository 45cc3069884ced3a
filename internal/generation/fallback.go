// Package generation implements the two-stage mockup generation pipeline:
// a planning model proposes a design brief, a builder model implements it,
// and failures walk a configurable fallback chain of model/provider pairs
// with bounded per-model retries.
package generation

import (
	"errors"
	"strings"

	"mocksmith/internal/ai"
	"mocksmith/internal/config"
)

// DefaultMaxRetries applies to models requested outside the configured
// chain (explicit per-request overrides).
const DefaultMaxRetries = 2

// FallbackEntry is one (model, provider, maxRetries) tuple. Position in
// the chain determines fallback priority.
type FallbackEntry struct {
	Model      string      `json:"model"`
	Provider   ai.Provider `json:"provider"`
	MaxRetries int         `json:"max_retries"`
}

// Chain is the ordered fallback chain. Immutable after construction;
// built once at process start and shared across requests.
type Chain struct {
	entries []FallbackEntry
}

// NewChain builds the chain from loaded configuration.
func NewChain(cfg []config.ChainEntryConfig) *Chain {
	entries := make([]FallbackEntry, 0, len(cfg))
	for _, e := range cfg {
		entries = append(entries, FallbackEntry{
			Model:      e.Model,
			Provider:   ai.Provider(e.Provider),
			MaxRetries: e.MaxRetries,
		})
	}
	return &Chain{entries: entries}
}

// NewChainFromEntries builds a chain directly from entries. Used by tests.
func NewChainFromEntries(entries ...FallbackEntry) *Chain {
	return &Chain{entries: entries}
}

// Entries returns the ordered entry list.
func (c *Chain) Entries() []FallbackEntry {
	out := make([]FallbackEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Default returns the primary entry.
func (c *Chain) Default() (FallbackEntry, bool) {
	if len(c.entries) == 0 {
		return FallbackEntry{}, false
	}
	return c.entries[0], true
}

// Next returns the entry immediately following the one matching
// currentModel by exact string match. The second return is false when the
// chain is exhausted: currentModel is the last entry, or is not in the
// chain at all.
func (c *Chain) Next(currentModel string) (FallbackEntry, bool) {
	for i, e := range c.entries {
		if e.Model == currentModel {
			if i+1 < len(c.entries) {
				return c.entries[i+1], true
			}
			return FallbackEntry{}, false
		}
	}
	return FallbackEntry{}, false
}

// maxRetriesFor returns the retry bound for a model, or DefaultMaxRetries
// when the model is not a chain entry.
func (c *Chain) maxRetriesFor(model string) int {
	for _, e := range c.entries {
		if e.Model == model {
			return e.MaxRetries
		}
	}
	return DefaultMaxRetries
}

// transientMarkers are the legacy substring signatures of transient
// provider failures. Structured error kinds from the provider client are
// consulted first; the substring match remains for errors that arrive as
// plain strings.
var transientMarkers = []string{
	"overloaded",
	"rate limit",
	"rate_limit",
	"timeout",
	"timed out",
	"network",
	"connection",
	"429",
	"503",
	"500",
}

// ShouldRetry reports whether an attempt against model should be retried
// in place. True only when the error is transient AND currentRetryCount
// is still below the model's configured bound.
func (c *Chain) ShouldRetry(err error, currentRetryCount int, model string) bool {
	if err == nil {
		return false
	}
	if currentRetryCount >= c.maxRetriesFor(model) {
		return false
	}
	return IsTransient(err)
}

// IsTransient classifies an error as retryable. A structured
// ai.ProviderError answers directly; anything else falls back to a
// case-insensitive substring match against known transient signatures.
func IsTransient(err error) bool {
	var provErr *ai.ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable()
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
