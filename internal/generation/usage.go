package generation

import "mocksmith/internal/ai"

// CumulativeUsage aggregates token usage across every sub-call of a single
// request: planning, context selection, and the final builder call. One
// accumulator is owned per request and never shared.
type CumulativeUsage struct {
	CompletionTokens int     `json:"completion_tokens"`
	PromptTokens     int     `json:"prompt_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// Add folds a single call's usage into the running total.
func (u *CumulativeUsage) Add(usage ai.Usage) {
	u.CompletionTokens += usage.CompletionTokens
	u.PromptTokens += usage.PromptTokens
	u.TotalTokens += usage.TotalTokens
	u.Cost += usage.Cost
}
