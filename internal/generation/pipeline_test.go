package generation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mocksmith/internal/ai"
)

// outcome scripts one Generate call.
type outcome struct {
	result *ai.GenerateResult
	err    error
}

// scriptedClient is a fake provider client driven by per-model outcome
// sequences. The last outcome of a sequence repeats.
type scriptedClient struct {
	provider ai.Provider
	mu       sync.Mutex
	calls    map[string]int
	order    *[]string
	script   map[string][]outcome
}

func newScriptedClient(provider ai.Provider, order *[]string) *scriptedClient {
	return &scriptedClient{
		provider: provider,
		calls:    make(map[string]int),
		order:    order,
		script:   make(map[string][]outcome),
	}
}

func (c *scriptedClient) on(model string, outcomes ...outcome) *scriptedClient {
	c.script[model] = outcomes
	return c
}

func (c *scriptedClient) Generate(_ context.Context, params *ai.GenerateParams) (*ai.GenerateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.calls[params.Model]
	c.calls[params.Model]++
	if c.order != nil {
		*c.order = append(*c.order, params.Model)
	}

	outcomes := c.script[params.Model]
	if len(outcomes) == 0 {
		return nil, errors.New("no script for model " + params.Model)
	}
	if idx >= len(outcomes) {
		idx = len(outcomes) - 1
	}
	return outcomes[idx].result, outcomes[idx].err
}

func (c *scriptedClient) Provider() ai.Provider { return c.provider }

func (c *scriptedClient) Health(context.Context) error { return nil }

func (c *scriptedClient) Stats() *ai.ProviderStats { return &ai.ProviderStats{Provider: c.provider} }

func (c *scriptedClient) callCount(model string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[model]
}

func success(text string, usage ai.Usage) outcome {
	return outcome{result: &ai.GenerateResult{Text: text, Usage: usage, FinishReason: "end_turn"}}
}

func overloaded() outcome {
	return outcome{err: &ai.ProviderError{Kind: ai.ErrOverloaded, StatusCode: 529, Message: "overloaded"}}
}

func noSleep(context.Context, time.Duration) error { return nil }

const (
	providerP = ai.Provider("anthropic")
	providerQ = ai.Provider("openai")
)

func testChain() *Chain {
	return NewChainFromEntries(
		FallbackEntry{Model: "model-a", Provider: providerP, MaxRetries: 2},
		FallbackEntry{Model: "model-b", Provider: providerQ, MaxRetries: 1},
	)
}

func newTestPipeline(chain *Chain, clients map[ai.Provider]ai.Client) *Pipeline {
	registry := ai.NewRegistryWithClients(clients)
	return NewPipeline(chain, registry, "planner-model", providerP, 2*time.Second, WithSleep(noSleep))
}

func buildRequest(planning bool) *Request {
	return &Request{
		Messages: []ai.Message{{Role: "user", Content: "make me a todo app"}},
		Mode:     ModeBuild,
		Planning: planning,
		UserID:   1,
	}
}

func TestExhaustedChainAttemptsEveryEntryInOrder(t *testing.T) {
	var order []string
	clientP := newScriptedClient(providerP, &order).on("model-a", overloaded())
	clientQ := newScriptedClient(providerQ, &order).on("model-b", overloaded())

	p := newTestPipeline(testChain(), map[ai.Provider]ai.Client{providerP: clientP, providerQ: clientQ})

	_, err := p.Generate(context.Background(), buildRequest(false))
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 5, exhausted.Attempts)

	var provErr *ai.ProviderError
	require.ErrorAs(t, exhausted.LastErr, &provErr)
	assert.Equal(t, ai.ErrOverloaded, provErr.Kind)

	// MaxRetries+1 calls per entry, in chain order.
	assert.Equal(t, []string{"model-a", "model-a", "model-a", "model-b", "model-b"}, order)
}

func TestSuccessSkipsRemainingEntries(t *testing.T) {
	var order []string
	clientP := newScriptedClient(providerP, &order).
		on("model-a", success("<html>", ai.Usage{TotalTokens: 10}))
	clientQ := newScriptedClient(providerQ, &order).on("model-b", overloaded())

	p := newTestPipeline(testChain(), map[ai.Provider]ai.Client{providerP: clientP, providerQ: clientQ})

	result, err := p.Generate(context.Background(), buildRequest(false))
	require.NoError(t, err)

	assert.Equal(t, "model-a", result.Model)
	assert.Equal(t, 1, result.Attempts)
	assert.Zero(t, clientQ.callCount("model-b"))
}

func TestRetriesThenFallsBackToNextEntry(t *testing.T) {
	// Chain [(A,P,2),(B,Q,1)]: A exhausts 1 initial + 2 retries, B
	// succeeds on its first call.
	var order []string
	clientP := newScriptedClient(providerP, &order).on("model-a", overloaded())
	clientQ := newScriptedClient(providerQ, &order).
		on("model-b", success("done", ai.Usage{TotalTokens: 5}))

	p := newTestPipeline(testChain(), map[ai.Provider]ai.Client{providerP: clientP, providerQ: clientQ})

	result, err := p.Generate(context.Background(), buildRequest(false))
	require.NoError(t, err)

	assert.Equal(t, 3, clientP.callCount("model-a"))
	assert.Equal(t, 1, clientQ.callCount("model-b"))
	assert.Equal(t, "model-b", result.Model)
	assert.Equal(t, providerQ, result.Provider)
	assert.Equal(t, 4, result.Attempts)
}

func TestNonRetryableErrorIsFatal(t *testing.T) {
	clientP := newScriptedClient(providerP, nil).on("model-a", outcome{
		err: &ai.ProviderError{Kind: ai.ErrBadRequest, StatusCode: 400, Message: "invalid request"},
	})
	clientQ := newScriptedClient(providerQ, nil).on("model-b", success("x", ai.Usage{}))

	p := newTestPipeline(testChain(), map[ai.Provider]ai.Client{providerP: clientP, providerQ: clientQ})

	_, err := p.Generate(context.Background(), buildRequest(false))
	require.Error(t, err)
	assert.False(t, IsExhausted(err))

	// The fatal error neither retries nor falls back.
	assert.Equal(t, 1, clientP.callCount("model-a"))
	assert.Zero(t, clientQ.callCount("model-b"))
}

func TestPlanningFailureNeverBlocksBuilder(t *testing.T) {
	clientP := newScriptedClient(providerP, nil).
		on("planner-model", outcome{err: errors.New("planner exploded")}).
		on("model-a", success("built", ai.Usage{TotalTokens: 3}))

	var sawPrompt string
	capture := &captureClient{inner: clientP, sawPrompt: &sawPrompt}

	registry := ai.NewRegistryWithClients(map[ai.Provider]ai.Client{providerP: capture})
	p := NewPipeline(
		NewChainFromEntries(FallbackEntry{Model: "model-a", Provider: providerP, MaxRetries: 1}),
		registry, "planner-model", providerP, time.Second, WithSleep(noSleep),
	)

	result, err := p.Generate(context.Background(), buildRequest(true))
	require.NoError(t, err)
	assert.False(t, result.Planned)
	assert.Equal(t, 1, clientP.callCount("planner-model"))
	assert.Equal(t, 1, clientP.callCount("model-a"))

	// The builder still runs, on the original request content.
	assert.Equal(t, "make me a todo app", sawPrompt)
}

func TestPlanningRewritesTrailingMessageWithTags(t *testing.T) {
	clientP := newScriptedClient(providerP, nil).
		on("planner-model", success("Brief: two screens, blue palette", ai.Usage{PromptTokens: 5, CompletionTokens: 10, TotalTokens: 15}))
	clientP.on("model-a", success("built", ai.Usage{}))

	var sawPrompt string
	capture := &captureClient{inner: clientP, sawPrompt: &sawPrompt}

	registry := ai.NewRegistryWithClients(map[ai.Provider]ai.Client{providerP: capture})
	p := NewPipeline(
		NewChainFromEntries(FallbackEntry{Model: "model-a", Provider: providerP, MaxRetries: 1}),
		registry, "planner-model", providerP, time.Second, WithSleep(noSleep),
	)

	result, err := p.Generate(context.Background(), buildRequest(true))
	require.NoError(t, err)
	assert.True(t, result.Planned)

	// The plan replaces the user content; the tags are stripped back off
	// before the builder call, which receives the brief itself.
	assert.Contains(t, sawPrompt, "Brief: two screens, blue palette")
	assert.NotContains(t, sawPrompt, "[model:")
}

// captureClient records the trailing message of builder calls.
type captureClient struct {
	inner     *scriptedClient
	sawPrompt *string
}

func (c *captureClient) Generate(ctx context.Context, params *ai.GenerateParams) (*ai.GenerateResult, error) {
	if params.Model == "model-a" && len(params.Messages) > 0 {
		*c.sawPrompt = params.Messages[len(params.Messages)-1].Content
	}
	return c.inner.Generate(ctx, params)
}

func (c *captureClient) Provider() ai.Provider { return c.inner.Provider() }

func (c *captureClient) Health(ctx context.Context) error { return c.inner.Health(ctx) }

func (c *captureClient) Stats() *ai.ProviderStats { return c.inner.Stats() }

func TestExplicitOverrideStillStripsPlanningTags(t *testing.T) {
	clientP := newScriptedClient(providerP, nil).
		on("planner-model", success("Brief: one screen, dark palette", ai.Usage{TotalTokens: 5})).
		on("model-a", success("built", ai.Usage{}))

	var sawPrompt string
	capture := &captureClient{inner: clientP, sawPrompt: &sawPrompt}

	registry := ai.NewRegistryWithClients(map[ai.Provider]ai.Client{providerP: capture})
	p := NewPipeline(
		NewChainFromEntries(FallbackEntry{Model: "model-a", Provider: providerP, MaxRetries: 1}),
		registry, "planner-model", providerP, time.Second, WithSleep(noSleep),
	)

	req := buildRequest(true)
	req.Model = "model-a"
	req.Provider = providerP

	result, err := p.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.Planned)
	assert.Equal(t, "model-a", result.Model)

	// The override picks the pair, but the planning tags still come off.
	assert.Contains(t, sawPrompt, "Brief: one screen, dark palette")
	assert.NotContains(t, sawPrompt, "[model:")
	assert.NotContains(t, sawPrompt, "[provider:")
}

func TestUsageAccumulatesAcrossStages(t *testing.T) {
	clientP := newScriptedClient(providerP, nil).
		on("planner-model", success("brief", ai.Usage{CompletionTokens: 10, PromptTokens: 5, TotalTokens: 15})).
		on("model-a", success("built", ai.Usage{CompletionTokens: 20, PromptTokens: 8, TotalTokens: 28}))

	registry := ai.NewRegistryWithClients(map[ai.Provider]ai.Client{providerP: clientP})
	p := NewPipeline(
		NewChainFromEntries(FallbackEntry{Model: "model-a", Provider: providerP, MaxRetries: 1}),
		registry, "planner-model", providerP, time.Second, WithSleep(noSleep),
	)

	result, err := p.Generate(context.Background(), buildRequest(true))
	require.NoError(t, err)

	assert.Equal(t, 30, result.Usage.CompletionTokens)
	assert.Equal(t, 13, result.Usage.PromptTokens)
	assert.Equal(t, 43, result.Usage.TotalTokens)
}

func TestExplicitOverrideOutsideChainExhaustsAlone(t *testing.T) {
	clientP := newScriptedClient(providerP, nil).on("custom-model", overloaded())

	p := newTestPipeline(testChain(), map[ai.Provider]ai.Client{providerP: clientP})

	req := buildRequest(false)
	req.Model = "custom-model"
	req.Provider = providerP

	_, err := p.Generate(context.Background(), req)
	require.Error(t, err)
	assert.True(t, IsExhausted(err))

	// Unknown models get the default retry bound and no chain successor.
	assert.Equal(t, DefaultMaxRetries+1, clientP.callCount("custom-model"))
}

func TestUnconfiguredProviderAdvancesChain(t *testing.T) {
	// Provider P has no client; the walk must still reach B.
	clientQ := newScriptedClient(providerQ, nil).
		on("model-b", success("built", ai.Usage{TotalTokens: 2}))

	p := newTestPipeline(testChain(), map[ai.Provider]ai.Client{providerQ: clientQ})

	result, err := p.Generate(context.Background(), buildRequest(false))
	require.NoError(t, err)
	assert.Equal(t, "model-b", result.Model)
}

func TestContextSelectionUsageJoinsTotal(t *testing.T) {
	files := map[string]string{
		"screens/home.html":     "<html>home</html>",
		"screens/login.html":    "<html>login</html>",
		"screens/settings.html": "<html>settings</html>",
		"screens/cart.html":     "<html>cart</html>",
		"screens/profile.html":  "<html>profile</html>",
	}

	clientP := newScriptedClient(providerP, nil).
		on("planner-model", success("screens/home.html", ai.Usage{PromptTokens: 4, CompletionTokens: 2, TotalTokens: 6})).
		on("model-a", success("built", ai.Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20}))

	registry := ai.NewRegistryWithClients(map[ai.Provider]ai.Client{providerP: clientP})
	p := NewPipeline(
		NewChainFromEntries(FallbackEntry{Model: "model-a", Provider: providerP, MaxRetries: 0}),
		registry, "planner-model", providerP, time.Second, WithSleep(noSleep),
	)

	req := buildRequest(false)
	req.Files = files

	result, err := p.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 26, result.Usage.TotalTokens)
}
