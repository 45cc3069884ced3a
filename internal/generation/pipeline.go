package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mocksmith/internal/ai"
	"mocksmith/internal/logging"
)

// Mode selects the chat behavior.
type Mode string

const (
	ModeDiscuss Mode = "discuss"
	ModeBuild   Mode = "build"
)

// Request is one generation request flowing through the pipeline. The
// driver may rewrite the target pair as it walks the fallback chain.
type Request struct {
	Messages []ai.Message
	Files    map[string]string
	Mode     Mode

	// Optional explicit target; empty means chain entry 0.
	Model    string
	Provider ai.Provider

	// Planning enables the design-brief stage (build mode only).
	Planning bool

	UserID    uint
	ProjectID uint
}

// Result is a successful pipeline outcome.
type Result struct {
	Text         string          `json:"text"`
	Model        string          `json:"model"`
	Provider     ai.Provider     `json:"provider"`
	Usage        CumulativeUsage `json:"usage"`
	FinishReason string          `json:"finish_reason"`
	ToolCalls    []ai.ToolCall   `json:"tool_calls,omitempty"`
	Attempts     int             `json:"attempts"`
	Planned      bool            `json:"planned"`
}

// ExhaustedError is returned when every chain entry has been tried and
// failed. It carries the last provider error encountered.
type ExhaustedError struct {
	LastErr  error
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all models exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }

// StatusCode returns the HTTP status to surface for exhaustion.
func (e *ExhaustedError) StatusCode() int { return 502 }

// Event reports pipeline progress for the chat UI.
type Event struct {
	Type     string `json:"type"` // planning, attempt, fallback, done, exhausted
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`
	Attempt  int    `json:"attempt,omitempty"`
}

// Publisher receives progress events. Implementations must not block.
type Publisher interface {
	Publish(userID uint, event Event)
}

// Pipeline is the two-stage generation driver. One instance is shared by
// all requests; all mutable state is request-local.
type Pipeline struct {
	chain            *Chain
	registry         *ai.Registry
	planningModel    string
	planningProvider ai.Provider
	backoff          time.Duration
	events           Publisher
	logger           *zap.Logger

	// sleep is replaceable so tests do not wait out real backoffs.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPublisher attaches a progress-event publisher.
func WithPublisher(p Publisher) Option {
	return func(pl *Pipeline) { pl.events = p }
}

// WithSleep overrides the backoff sleeper. Tests use this.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(pl *Pipeline) { pl.sleep = fn }
}

// NewPipeline creates the generation driver.
func NewPipeline(chain *Chain, registry *ai.Registry, planningModel string, planningProvider ai.Provider, backoff time.Duration, opts ...Option) *Pipeline {
	p := &Pipeline{
		chain:            chain,
		registry:         registry,
		planningModel:    planningModel,
		planningProvider: planningProvider,
		backoff:          backoff,
		logger:           logging.L(),
		sleep:            sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Generate runs the full pipeline for one request: optional planning,
// optional context selection, then the builder call with retry/fallback.
// The walk is strictly sequential; at most one pair is active at a time.
func (p *Pipeline) Generate(ctx context.Context, req *Request) (*Result, error) {
	usage := &CumulativeUsage{}
	messages := make([]ai.Message, len(req.Messages))
	copy(messages, req.Messages)

	if len(messages) == 0 {
		return nil, fmt.Errorf("empty message history")
	}

	planned := p.runPlanningStage(ctx, req, messages, usage)
	p.attachFileContext(ctx, req, messages, usage)

	entry := p.initialEntry(req, messages)

	result, err := p.runBuilderStage(ctx, req, messages, entry, usage)
	if err != nil {
		return nil, err
	}
	result.Planned = planned
	return result, nil
}

// runPlanningStage issues the design-brief call and rewrites the trailing
// user message with the tagged plan. Failures are logged and swallowed:
// the builder stage always proceeds, on the original messages if needed.
func (p *Pipeline) runPlanningStage(ctx context.Context, req *Request, messages []ai.Message, usage *CumulativeUsage) bool {
	if req.Mode != ModeBuild || !req.Planning {
		return false
	}

	client, err := p.registry.Client(p.planningProvider)
	if err != nil {
		p.logger.Warn("planning provider unavailable, skipping planning",
			zap.String("provider", string(p.planningProvider)), zap.Error(err))
		return false
	}

	p.publish(req.UserID, Event{Type: "planning", Model: p.planningModel, Provider: string(p.planningProvider)})

	last := len(messages) - 1
	planResult, err := client.Generate(ctx, &ai.GenerateParams{
		Model:     p.planningModel,
		Messages:  []ai.Message{{Role: "user", Content: planningPrompt(messages[last].Content)}},
		System:    plannerSystemPrompt,
		MaxTokens: 2000,
	})
	if err != nil {
		p.logger.Warn("planning stage failed, continuing without brief",
			zap.String("model", p.planningModel),
			zap.String("provider", string(p.planningProvider)),
			zap.Error(err))
		return false
	}

	usage.Add(planResult.Usage)

	target := p.targetModelFor(req)
	messages[last].Content = tagMessage(target.Model, target.Provider, planResult.Text)
	return true
}

// attachFileContext appends project file context to the trailing user
// message. Large file maps go through a selection call first; selection
// failure degrades to inlining every file path's content unselected.
func (p *Pipeline) attachFileContext(ctx context.Context, req *Request, messages []ai.Message, usage *CumulativeUsage) {
	if len(req.Files) == 0 {
		return
	}

	selected := allPaths(req.Files)
	if len(req.Files) > contextSelectionThreshold {
		if picked := p.selectContext(ctx, req, messages, usage); len(picked) > 0 {
			selected = picked
		}
	}

	last := len(messages) - 1
	messages[last].Content += renderFileContext(req.Files, selected)
}

// selectContext asks the planning model which files matter for the request.
func (p *Pipeline) selectContext(ctx context.Context, req *Request, messages []ai.Message, usage *CumulativeUsage) []string {
	client, err := p.registry.Client(p.planningProvider)
	if err != nil {
		return nil
	}

	last := len(messages) - 1
	prompt := fmt.Sprintf("Request:\n%s\n\nProject files:\n%s", messages[last].Content, fileListing(req.Files))

	result, err := client.Generate(ctx, &ai.GenerateParams{
		Model:     p.planningModel,
		Messages:  []ai.Message{{Role: "user", Content: prompt}},
		System:    contextSelectorSystemPrompt,
		MaxTokens: 500,
	})
	if err != nil {
		p.logger.Warn("context selection failed, using all files", zap.Error(err))
		return nil
	}

	usage.Add(result.Usage)
	return parseSelectedPaths(result.Text, req.Files)
}

// initialEntry resolves the starting chain entry: explicit request
// override, then message tag markers, then chain entry 0. Tag markers
// are always stripped so the builder never sees them, even when an
// override wins.
func (p *Pipeline) initialEntry(req *Request, messages []ai.Message) FallbackEntry {
	last := len(messages) - 1
	cleaned, tagModel, tagProvider := extractTarget(messages[last].Content)
	if tagModel != "" {
		messages[last].Content = cleaned
	}

	if req.Model != "" {
		return p.entryFor(req.Model, req.Provider)
	}
	if tagModel != "" {
		return p.entryFor(tagModel, ai.Provider(tagProvider))
	}

	if entry, ok := p.chain.Default(); ok {
		return entry
	}
	return FallbackEntry{}
}

// entryFor builds the entry for a requested pair, borrowing the chain's
// retry bound when the model is a chain member.
func (p *Pipeline) entryFor(model string, provider ai.Provider) FallbackEntry {
	for _, e := range p.chain.Entries() {
		if e.Model == model {
			if provider == "" {
				provider = e.Provider
			}
			return FallbackEntry{Model: model, Provider: provider, MaxRetries: e.MaxRetries}
		}
	}
	return FallbackEntry{Model: model, Provider: provider, MaxRetries: DefaultMaxRetries}
}

// targetModelFor is the pair planning tags onto the rewritten message.
func (p *Pipeline) targetModelFor(req *Request) FallbackEntry {
	if req.Model != "" {
		return p.entryFor(req.Model, req.Provider)
	}
	if entry, ok := p.chain.Default(); ok {
		return entry
	}
	return FallbackEntry{}
}

// runBuilderStage drives the retry-then-fallback loop. For the active
// pair it attempts up to MaxRetries+1 calls with a fixed backoff between
// transient failures, then advances the chain; a non-transient error is
// fatal for the whole request.
func (p *Pipeline) runBuilderStage(ctx context.Context, req *Request, messages []ai.Message, entry FallbackEntry, usage *CumulativeUsage) (*Result, error) {
	if entry.Model == "" {
		return nil, fmt.Errorf("no models configured")
	}

	system := systemPromptFor(req.Mode)
	totalAttempts := 0
	var lastErr error

	for {
		client, err := p.registry.Client(entry.Provider)
		if err != nil {
			// Unconfigured provider: treat the pair as failed and advance.
			lastErr = err
			p.logger.Warn("provider not configured, advancing chain",
				zap.String("model", entry.Model),
				zap.String("provider", string(entry.Provider)))
		} else {
			result, attempts, attemptErr := p.attemptEntry(ctx, req, client, entry, system, messages)
			totalAttempts += attempts
			if attemptErr == nil {
				usage.Add(result.Usage)
				p.publish(req.UserID, Event{Type: "done", Model: entry.Model, Provider: string(entry.Provider)})
				return &Result{
					Text:         result.Text,
					Model:        entry.Model,
					Provider:     entry.Provider,
					Usage:        *usage,
					FinishReason: result.FinishReason,
					ToolCalls:    result.ToolCalls,
					Attempts:     totalAttempts,
				}, nil
			}
			if !IsTransient(attemptErr) {
				return nil, attemptErr
			}
			lastErr = attemptErr
		}

		next, ok := p.chain.Next(entry.Model)
		if !ok {
			p.publish(req.UserID, Event{Type: "exhausted"})
			return nil, &ExhaustedError{LastErr: lastErr, Attempts: totalAttempts}
		}

		p.logger.Info("falling back to next model",
			zap.String("from_model", entry.Model),
			zap.String("to_model", next.Model),
			zap.String("to_provider", string(next.Provider)))
		p.publish(req.UserID, Event{Type: "fallback", Model: next.Model, Provider: string(next.Provider)})
		entry = next
	}
}

// attemptEntry runs the bounded attempt loop for one chain entry and
// returns how many calls were issued. The error is nil on success; a
// non-nil error means the pair is spent (or fatally failed).
func (p *Pipeline) attemptEntry(ctx context.Context, req *Request, client ai.Client, entry FallbackEntry, system string, messages []ai.Message) (*ai.GenerateResult, int, error) {
	attempts := 0
	var lastErr error

	for retry := 0; ; retry++ {
		attempts++
		p.logger.Info("generation attempt",
			zap.String("model", entry.Model),
			zap.String("provider", string(entry.Provider)),
			zap.Int("attempt", attempts))
		p.publish(req.UserID, Event{Type: "attempt", Model: entry.Model, Provider: string(entry.Provider), Attempt: attempts})

		result, err := client.Generate(ctx, &ai.GenerateParams{
			Model:       entry.Model,
			Messages:    messages,
			System:      system,
			MaxTokens:   8192,
			Temperature: 0.7,
		})
		if err == nil {
			return result, attempts, nil
		}
		lastErr = err

		p.logger.Warn("generation attempt failed",
			zap.String("model", entry.Model),
			zap.String("provider", string(entry.Provider)),
			zap.Int("attempt", attempts),
			zap.Error(err))

		if !p.chain.ShouldRetry(err, retry, entry.Model) {
			return nil, attempts, lastErr
		}
		if err := p.sleep(ctx, p.backoff); err != nil {
			return nil, attempts, err
		}
	}
}

func (p *Pipeline) publish(userID uint, event Event) {
	if p.events != nil {
		p.events.Publish(userID, event)
	}
}

// IsExhausted reports whether an error is a chain-exhaustion failure.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}
