package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// AnthropicClient implements the Anthropic Messages API client.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	stats      *ProviderStats
	statsMu    sync.RWMutex
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float32            `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		ID    string          `json:"id,omitempty"`
		Name  string          `json:"name,omitempty"`
		Input json.RawMessage `json:"input,omitempty"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewAnthropicClient creates a new Anthropic API client.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{
		apiKey:  apiKey,
		baseURL: "https://api.anthropic.com/v1/messages",
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		stats: &ProviderStats{
			Provider: ProviderAnthropic,
			LastUsed: time.Now(),
		},
	}
}

// Generate implements the Client interface for Anthropic.
func (c *AnthropicClient) Generate(ctx context.Context, params *GenerateParams) (*GenerateResult, error) {
	startTime := time.Now()

	maxTokens := params.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	messages := make([]anthropicMessage, 0, len(params.Messages))
	for _, m := range params.Messages {
		messages = append(messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	req := &anthropicRequest{
		Model:       params.Model,
		MaxTokens:   maxTokens,
		Messages:    messages,
		Temperature: params.Temperature,
		System:      params.System,
	}

	resp, err := c.makeRequest(ctx, params.Model, req)
	if err != nil {
		c.incrementErrorCount()
		return nil, err
	}

	text := ""
	var toolCalls []ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text += block.Text
		case "tool_use":
			toolCalls = append(toolCalls, ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: string(block.Input),
			})
		}
	}

	cost := c.calculateCost(resp.Usage.InputTokens, resp.Usage.OutputTokens)
	c.updateStats(resp.Usage.InputTokens+resp.Usage.OutputTokens, cost, time.Since(startTime))

	return &GenerateResult{
		Text: text,
		Usage: Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
			Cost:             cost,
		},
		FinishReason: resp.StopReason,
		ToolCalls:    toolCalls,
		Duration:     time.Since(startTime),
	}, nil
}

// makeRequest sends the HTTP request to the Anthropic API.
func (c *AnthropicClient) makeRequest(ctx context.Context, model string, req *anthropicRequest) (*anthropicResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(ProviderAnthropic, model, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{
			Provider: ProviderAnthropic, Model: model,
			Kind: ErrNetwork, Message: err.Error(),
		}
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		var apiErr anthropicResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != nil {
			msg = apiErr.Error.Message
		}
		return nil, &ProviderError{
			Provider:   ProviderAnthropic,
			Model:      model,
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    msg,
		}
	}

	var out anthropicResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &ProviderError{
			Provider: ProviderAnthropic, Model: model,
			Kind: ErrBadRequest, Message: "malformed response: " + err.Error(),
		}
	}

	if out.Error != nil {
		return nil, &ProviderError{
			Provider: ProviderAnthropic, Model: model,
			Kind: ErrServer, Message: out.Error.Message,
		}
	}

	return &out, nil
}

// Provider returns the provider identifier.
func (c *AnthropicClient) Provider() Provider {
	return ProviderAnthropic
}

// Health checks if the Anthropic API is accessible.
func (c *AnthropicClient) Health(ctx context.Context) error {
	req := &anthropicRequest{
		Model:     "claude-haiku-4-5",
		MaxTokens: 5,
		Messages: []anthropicMessage{
			{Role: "user", Content: "Hello"},
		},
	}

	_, err := c.makeRequest(ctx, req.Model, req)
	return err
}

// calculateCost estimates cost based on Anthropic pricing.
func (c *AnthropicClient) calculateCost(inputTokens, outputTokens int) float64 {
	inputCostPer1K := 0.003
	outputCostPer1K := 0.015

	inputCost := float64(inputTokens) / 1000.0 * inputCostPer1K
	outputCost := float64(outputTokens) / 1000.0 * outputCostPer1K

	return inputCost + outputCost
}

func (c *AnthropicClient) updateStats(totalTokens int, cost float64, duration time.Duration) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	c.stats.RequestCount++
	c.stats.TotalTokens += int64(totalTokens)
	c.stats.TotalCost += cost
	c.stats.AvgLatency = (c.stats.AvgLatency*float64(c.stats.RequestCount-1) + duration.Seconds()) / float64(c.stats.RequestCount)
	c.stats.LastUsed = time.Now()
}

func (c *AnthropicClient) incrementErrorCount() {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.ErrorCount++
}

// Stats returns current usage statistics (thread-safe copy).
func (c *AnthropicClient) Stats() *ProviderStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()

	statsCopy := *c.stats
	return &statsCopy
}

// classifyTransportError maps transport-level failures to a ProviderError.
func classifyTransportError(provider Provider, model string, err error) *ProviderError {
	kind := ErrNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) {
		kind = ErrTimeout
	} else if errors.As(err, &netErr) && netErr.Timeout() {
		kind = ErrTimeout
	}
	return &ProviderError{
		Provider: provider,
		Model:    model,
		Kind:     kind,
		Message:  err.Error(),
	}
}
