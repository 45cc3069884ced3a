package ai

import (
	"context"
	"fmt"
	"time"
)

// Provider identifies a model provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"` // user, assistant
	Content string `json:"content"`
}

// GenerateParams describes one text-generation call.
type GenerateParams struct {
	Model       string
	Messages    []Message
	System      string
	MaxTokens   int
	Temperature float32
}

// Usage represents token usage for a single call.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input string `json:"input"`
}

// GenerateResult is the outcome of a successful generation call.
type GenerateResult struct {
	Text         string        `json:"text"`
	Usage        Usage         `json:"usage"`
	FinishReason string        `json:"finish_reason"`
	ToolCalls    []ToolCall    `json:"tool_calls,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// ErrorKind classifies provider failures for retry decisions.
type ErrorKind string

const (
	ErrOverloaded ErrorKind = "overloaded"
	ErrRateLimit  ErrorKind = "rate_limit"
	ErrTimeout    ErrorKind = "timeout"
	ErrNetwork    ErrorKind = "network"
	ErrServer     ErrorKind = "server"
	ErrAuth       ErrorKind = "auth"
	ErrBadRequest ErrorKind = "bad_request"
	ErrUnknown    ErrorKind = "unknown"
)

// ProviderError carries a status code and a retryable flag alongside the
// message so callers do not have to parse error strings.
type ProviderError struct {
	Provider   Provider
	Model      string
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s (%s): %s: %s", e.Provider, e.Model, e.Kind, e.Message)
}

// Retryable reports whether the failure is transient.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case ErrOverloaded, ErrRateLimit, ErrTimeout, ErrNetwork, ErrServer:
		return true
	default:
		return false
	}
}

// kindForStatus maps an HTTP status code to an error kind.
func kindForStatus(status int) ErrorKind {
	switch status {
	case 429:
		return ErrRateLimit
	case 408, 504:
		return ErrTimeout
	case 401, 403:
		return ErrAuth
	case 400, 404, 422:
		return ErrBadRequest
	case 529:
		return ErrOverloaded
	}
	if status >= 500 {
		return ErrServer
	}
	return ErrUnknown
}

// Client is the outbound model-provider collaborator.
type Client interface {
	// Generate issues one text-generation call.
	Generate(ctx context.Context, params *GenerateParams) (*GenerateResult, error)

	// Provider returns the provider identifier.
	Provider() Provider

	// Health checks if the provider is reachable.
	Health(ctx context.Context) error

	// Stats returns usage statistics accumulated by this client.
	Stats() *ProviderStats
}

// ProviderStats tracks aggregate statistics for one provider client.
type ProviderStats struct {
	Provider     Provider  `json:"provider"`
	RequestCount int64     `json:"request_count"`
	TotalTokens  int64     `json:"total_tokens"`
	TotalCost    float64   `json:"total_cost"`
	AvgLatency   float64   `json:"avg_latency"`
	ErrorCount   int64     `json:"error_count"`
	LastUsed     time.Time `json:"last_used"`
}
