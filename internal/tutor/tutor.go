package tutor

import (
	"context"
	"log/slog"
	"strings"

	"github.com/felixgeelhaar/pythonquest/internal/llm"
)

const (
	// DisabledMessage is returned when no provider is configured.
	DisabledMessage = "AI features are disabled. Please configure your API key."

	// HintFallback is returned when a hint could not be generated.
	HintFallback = "Sorry, I couldn't generate a hint right now. Please try again later."

	// ExplainFallback is returned when an explanation could not be generated.
	ExplainFallback = "Sorry, I couldn't generate an explanation right now. Please check your code and try again."
)

// Tutor answers hint and explanation requests. Its methods never fail:
// every problem is logged and turned into a displayable message.
type Tutor struct {
	provider    llm.Provider
	prompter    *Prompter
	logger      *slog.Logger
	maxTokens   int
	temperature float64
}

// Option configures a Tutor
type Option func(*Tutor)

// WithLogger sets the logger used for collaborator failures
func WithLogger(l *slog.Logger) Option {
	return func(t *Tutor) { t.logger = l }
}

// WithMaxTokens caps the generated answer length
func WithMaxTokens(n int) Option {
	return func(t *Tutor) { t.maxTokens = n }
}

// WithTemperature sets the sampling temperature
func WithTemperature(temp float64) Option {
	return func(t *Tutor) { t.temperature = temp }
}

// New creates a tutor backed by provider. A nil provider, or one without
// its API key, disables the tutor: both operations return DisabledMessage
// without any network call.
func New(provider llm.Provider, opts ...Option) *Tutor {
	t := &Tutor{
		provider:    provider,
		prompter:    NewPrompter(),
		logger:      slog.Default(),
		maxTokens:   1024,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewFromRegistry uses the registry's default provider, or a disabled
// tutor when none is registered.
func NewFromRegistry(registry llm.LLMRegistry, opts ...Option) *Tutor {
	provider, err := registry.Default()
	if err != nil {
		return New(nil, opts...)
	}
	return New(provider, opts...)
}

// Enabled reports whether a usable provider is configured.
func (t *Tutor) Enabled() bool {
	return llm.HasCredentials(t.provider)
}

// Hint asks for a nudge toward solving the lesson.
func (t *Tutor) Hint(ctx context.Context, code, description string) string {
	if !t.Enabled() {
		return DisabledMessage
	}
	return t.generate(ctx, KindHint, t.prompter.HintPrompt(code, description), HintFallback)
}

// Explain asks for a plain-language explanation of a failure.
func (t *Tutor) Explain(ctx context.Context, code, errText string) string {
	if !t.Enabled() {
		return DisabledMessage
	}
	return t.generate(ctx, KindExplain, t.prompter.ExplainPrompt(code, errText), ExplainFallback)
}

func (t *Tutor) generate(ctx context.Context, kind Kind, prompt, fallback string) string {
	resp, err := t.provider.Generate(ctx, &llm.Request{
		System:      t.prompter.SystemPrompt(kind),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens:   t.maxTokens,
		Temperature: t.temperature,
	})
	if err != nil {
		t.logger.Error("tutor request failed",
			"kind", kind, "provider", t.provider.Name(), "error", err)
		return fallback
	}

	text := ""
	if resp != nil {
		text = strings.TrimSpace(resp.Content)
	}
	if text == "" {
		reason := ""
		if resp != nil {
			reason = resp.FinishReason
		}
		t.logger.Error("tutor returned no text",
			"kind", kind, "provider", t.provider.Name(), "finish_reason", reason, "error", llm.ErrEmptyResponse)
		return fallback
	}
	return text
}
