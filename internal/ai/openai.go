package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// OpenAIClient implements the OpenAI chat-completions API client.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	stats      *ProviderStats
	statsMu    sync.RWMutex
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float32         `json:"temperature,omitempty"`
	Stream      bool            `json:"stream"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// NewOpenAIClient creates a new OpenAI API client.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		apiKey:  apiKey,
		baseURL: "https://api.openai.com/v1/chat/completions",
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		stats: &ProviderStats{
			Provider: ProviderOpenAI,
			LastUsed: time.Now(),
		},
	}
}

// Generate implements the Client interface for OpenAI.
func (o *OpenAIClient) Generate(ctx context.Context, params *GenerateParams) (*GenerateResult, error) {
	startTime := time.Now()

	messages := make([]openAIMessage, 0, len(params.Messages)+1)
	if params.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: params.System})
	}
	for _, m := range params.Messages {
		messages = append(messages, openAIMessage{Role: m.Role, Content: m.Content})
	}

	req := &openAIRequest{
		Model:       params.Model,
		Messages:    messages,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		Stream:      false,
	}

	resp, err := o.makeRequest(ctx, params.Model, req)
	if err != nil {
		o.incrementErrorCount()
		return nil, err
	}

	text := ""
	finishReason := ""
	var toolCalls []ToolCall
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		text = choice.Message.Content
		finishReason = choice.FinishReason
		for _, tc := range choice.Message.ToolCalls {
			toolCalls = append(toolCalls, ToolCall{
				ID:    tc.ID,
				Name:  tc.Function.Name,
				Input: tc.Function.Arguments,
			})
		}
	}

	cost := o.calculateCost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	o.updateStats(resp.Usage.TotalTokens, cost, time.Since(startTime))

	return &GenerateResult{
		Text: text,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
			Cost:             cost,
		},
		FinishReason: finishReason,
		ToolCalls:    toolCalls,
		Duration:     time.Since(startTime),
	}, nil
}

// makeRequest sends the HTTP request to the OpenAI API.
func (o *OpenAIClient) makeRequest(ctx context.Context, model string, req *openAIRequest) (*openAIResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(ProviderOpenAI, model, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{
			Provider: ProviderOpenAI, Model: model,
			Kind: ErrNetwork, Message: err.Error(),
		}
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		var apiErr openAIResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != nil {
			msg = apiErr.Error.Message
		}
		return nil, &ProviderError{
			Provider:   ProviderOpenAI,
			Model:      model,
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    msg,
		}
	}

	var out openAIResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &ProviderError{
			Provider: ProviderOpenAI, Model: model,
			Kind: ErrBadRequest, Message: "malformed response: " + err.Error(),
		}
	}

	if out.Error != nil {
		return nil, &ProviderError{
			Provider: ProviderOpenAI, Model: model,
			Kind: ErrServer, Message: out.Error.Message,
		}
	}

	return &out, nil
}

// Provider returns the provider identifier.
func (o *OpenAIClient) Provider() Provider {
	return ProviderOpenAI
}

// Health checks if the OpenAI API is accessible.
func (o *OpenAIClient) Health(ctx context.Context) error {
	req := &openAIRequest{
		Model:     "gpt-4o-mini",
		MaxTokens: 5,
		Messages: []openAIMessage{
			{Role: "user", Content: "Hello"},
		},
	}

	_, err := o.makeRequest(ctx, req.Model, req)
	return err
}

// calculateCost estimates cost based on OpenAI pricing.
func (o *OpenAIClient) calculateCost(promptTokens, completionTokens int) float64 {
	inputCostPer1K := 0.0025
	outputCostPer1K := 0.01

	inputCost := float64(promptTokens) / 1000.0 * inputCostPer1K
	outputCost := float64(completionTokens) / 1000.0 * outputCostPer1K

	return inputCost + outputCost
}

func (o *OpenAIClient) updateStats(totalTokens int, cost float64, duration time.Duration) {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()

	o.stats.RequestCount++
	o.stats.TotalTokens += int64(totalTokens)
	o.stats.TotalCost += cost
	o.stats.AvgLatency = (o.stats.AvgLatency*float64(o.stats.RequestCount-1) + duration.Seconds()) / float64(o.stats.RequestCount)
	o.stats.LastUsed = time.Now()
}

func (o *OpenAIClient) incrementErrorCount() {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	o.stats.ErrorCount++
}

// Stats returns current usage statistics (thread-safe copy).
func (o *OpenAIClient) Stats() *ProviderStats {
	o.statsMu.RLock()
	defer o.statsMu.RUnlock()

	statsCopy := *o.stats
	return &statsCopy
}
