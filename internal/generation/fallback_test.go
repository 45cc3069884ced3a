package generation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"mocksmith/internal/ai"
	"mocksmith/internal/config"
)

func TestChainNext(t *testing.T) {
	chain := NewChainFromEntries(
		FallbackEntry{Model: "model-a", Provider: providerP, MaxRetries: 2},
		FallbackEntry{Model: "model-b", Provider: providerQ, MaxRetries: 1},
		FallbackEntry{Model: "model-c", Provider: providerP, MaxRetries: 1},
	)

	next, ok := chain.Next("model-a")
	assert.True(t, ok)
	assert.Equal(t, "model-b", next.Model)
	assert.Equal(t, providerQ, next.Provider)

	next, ok = chain.Next("model-b")
	assert.True(t, ok)
	assert.Equal(t, "model-c", next.Model)

	_, ok = chain.Next("model-c")
	assert.False(t, ok, "last entry has no successor")

	_, ok = chain.Next("not-in-chain")
	assert.False(t, ok, "unknown models are treated as exhausted")
}

func TestChainDefault(t *testing.T) {
	chain := NewChainFromEntries(
		FallbackEntry{Model: "model-a", Provider: providerP, MaxRetries: 2},
	)
	first, ok := chain.Default()
	assert.True(t, ok)
	assert.Equal(t, "model-a", first.Model)

	_, ok = NewChainFromEntries().Default()
	assert.False(t, ok)
}

func TestNewChainFromConfig(t *testing.T) {
	chain := NewChain([]config.ChainEntryConfig{
		{Model: "claude-sonnet-4-5", Provider: "anthropic", MaxRetries: 2},
		{Model: "gpt-4o", Provider: "openai", MaxRetries: 1},
	})

	entries := chain.Entries()
	assert.Len(t, entries, 2)
	assert.Equal(t, ai.Provider("anthropic"), entries[0].Provider)
	assert.Equal(t, 1, entries[1].MaxRetries)
}

func TestShouldRetryHonorsRetryBound(t *testing.T) {
	chain := NewChainFromEntries(
		FallbackEntry{Model: "model-a", Provider: providerP, MaxRetries: 2},
	)
	transient := &ai.ProviderError{Kind: ai.ErrOverloaded, StatusCode: 529, Message: "overloaded"}

	assert.True(t, chain.ShouldRetry(transient, 0, "model-a"))
	assert.True(t, chain.ShouldRetry(transient, 1, "model-a"))
	assert.False(t, chain.ShouldRetry(transient, 2, "model-a"),
		"retry count at the bound stops retrying even for transient errors")
	assert.False(t, chain.ShouldRetry(transient, 3, "model-a"))
}

func TestShouldRetryNonTransient(t *testing.T) {
	chain := NewChainFromEntries(
		FallbackEntry{Model: "model-a", Provider: providerP, MaxRetries: 2},
	)

	fatal := &ai.ProviderError{Kind: ai.ErrBadRequest, StatusCode: 400, Message: "invalid"}
	assert.False(t, chain.ShouldRetry(fatal, 0, "model-a"))
	assert.False(t, chain.ShouldRetry(nil, 0, "model-a"))
}

func TestShouldRetryUnknownModelUsesDefaultBound(t *testing.T) {
	chain := NewChainFromEntries(
		FallbackEntry{Model: "model-a", Provider: providerP, MaxRetries: 0},
	)
	transient := &ai.ProviderError{Kind: ai.ErrRateLimit, StatusCode: 429, Message: "rate limited"}

	assert.True(t, chain.ShouldRetry(transient, DefaultMaxRetries-1, "off-chain-model"))
	assert.False(t, chain.ShouldRetry(transient, DefaultMaxRetries, "off-chain-model"))
}

func TestIsTransientClassification(t *testing.T) {
	tests := []struct {
		err       error
		transient bool
	}{
		{&ai.ProviderError{Kind: ai.ErrOverloaded}, true},
		{&ai.ProviderError{Kind: ai.ErrRateLimit}, true},
		{&ai.ProviderError{Kind: ai.ErrTimeout}, true},
		{&ai.ProviderError{Kind: ai.ErrNetwork}, true},
		{&ai.ProviderError{Kind: ai.ErrServer}, true},
		{&ai.ProviderError{Kind: ai.ErrAuth}, false},
		{&ai.ProviderError{Kind: ai.ErrBadRequest}, false},
		{errors.New("API returned 429 Too Many Requests"), true},
		{errors.New("upstream 503 service unavailable"), true},
		{errors.New("Rate Limit exceeded"), true},
		{errors.New("request timed out"), true},
		{errors.New("connection reset by peer"), true},
		{errors.New("model not found"), false},
		{fmt.Errorf("wrapped: %w", &ai.ProviderError{Kind: ai.ErrBadRequest, Message: "overloaded phrasing in message"}), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.transient, IsTransient(tt.err), "error: %v", tt.err)
	}
}

func TestExtractTarget(t *testing.T) {
	cleaned, model, provider := extractTarget("[model: gpt-4o] [provider: openai]\n\nbuild a landing page")
	assert.Equal(t, "build a landing page", cleaned)
	assert.Equal(t, "gpt-4o", model)
	assert.Equal(t, "openai", provider)

	cleaned, model, provider = extractTarget("no tags here")
	assert.Equal(t, "no tags here", cleaned)
	assert.Empty(t, model)
	assert.Empty(t, provider)
}

func TestTagMessageRoundTrips(t *testing.T) {
	tagged := tagMessage("claude-sonnet-4-5", providerP, "the brief")
	cleaned, model, provider := extractTarget(tagged)
	assert.Equal(t, "the brief", cleaned)
	assert.Equal(t, "claude-sonnet-4-5", model)
	assert.Equal(t, string(providerP), provider)
}
