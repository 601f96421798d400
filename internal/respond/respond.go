// Package respond generates the assistant reply for a turn. Provider calls
// are rate limited and retried with exponential backoff; when every attempt
// fails the error is classified and a deterministic in-character fallback is
// returned instead, so a turn always produces a reply.
package respond

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/Cirilcetra/agentbackend/internal/log"
)

// ChatClient is the provider surface the generator needs.
// *openai.Client satisfies it.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Kind classifies a generation failure.
type Kind string

const (
	// KindRateLimited: the provider rejected the call for quota reasons.
	KindRateLimited Kind = "rate_limited"

	// KindConnectionFailed: the provider was unreachable.
	KindConnectionFailed Kind = "connection_failed"

	// KindProviderError: the provider answered with an error.
	KindProviderError Kind = "provider_error"

	// KindUnavailable: no provider is configured.
	KindUnavailable Kind = "unavailable"
)

// fallbacks are the deterministic in-character replies per failure kind.
var fallbacks = map[Kind]string{
	KindRateLimited:      "I'm getting a lot of messages right now. Give me a moment and ask me again.",
	KindConnectionFailed: "I'm having trouble connecting right now. Please try again in a moment.",
	KindProviderError:    "Something went wrong on my end. Please try asking that again.",
	KindUnavailable:      "I can't answer right now. Please try again later.",
}

// DemoReply is returned for every turn when no provider is configured.
const DemoReply = "Thanks for your message! I'm running in demo mode right now, so my answers are limited. Ask me again once I'm fully set up."

// Result is the outcome of one generation.
type Result struct {
	Reply    string
	Model    string
	Fallback bool
	Kind     Kind // set only when Fallback is true
}

// Metadata renders the result as message metadata.
func (r Result) Metadata() map[string]string {
	m := map[string]string{"model": r.Model}
	if r.Fallback {
		m["fallback"] = "true"
		m["error_kind"] = string(r.Kind)
	}
	return m
}

const (
	maxAttempts = 3
	baseBackoff = time.Second
	maxBackoff  = 10 * time.Second
)

// Generator produces assistant replies.
type Generator struct {
	client      ChatClient
	model       string
	temperature float32
	maxTokens   int
	limiter     *rate.Limiter
	logger      log.Logger

	demo      bool
	demoReply string

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Generator.
type Option func(*Generator)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) Option {
	return func(g *Generator) { g.temperature = t }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) Option {
	return func(g *Generator) { g.maxTokens = n }
}

// WithRateLimit caps outbound provider calls per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(g *Generator) { g.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// New creates a generator backed by a chat provider.
func New(client ChatClient, model string, logger log.Logger, opts ...Option) *Generator {
	if logger == nil {
		logger = log.NewNop()
	}
	g := &Generator{
		client:      client,
		model:       model,
		temperature: 0.3,
		maxTokens:   500,
		limiter:     rate.NewLimiter(rate.Limit(5), 10),
		logger:      logger,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewDemo creates a generator that returns a fixed reply without calling any
// provider. Used when no API key is configured.
func NewDemo(logger log.Logger) *Generator {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Generator{
		model:     "demo",
		demo:      true,
		demoReply: DemoReply,
		logger:    logger,
		sleep:     sleepContext,
	}
}

// Generate produces the reply for one turn. It never returns an error for
// provider failures; those become classified fallback results. Only context
// cancellation aborts the turn.
func (g *Generator) Generate(ctx context.Context, systemPrompt, userMessage string) (Result, error) {
	if g.demo {
		return Result{Reply: g.demoReply, Model: g.model}, nil
	}

	req := openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMessage},
		},
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return Result{}, fmt.Errorf("waiting for rate limiter: %w", err)
			}
		}

		resp, err := g.client.CreateChatCompletion(ctx, req)
		if err == nil {
			reply := extractReply(resp)
			if reply == "" {
				lastErr = errors.New("provider returned an empty reply")
				break
			}
			return Result{Reply: reply, Model: g.model}, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if !retryable(err) {
			break
		}
		if attempt == maxAttempts {
			break
		}

		backoff := baseBackoff << (attempt - 1)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		g.logger.Warn("chat completion failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"error", err)
		if err := g.sleep(ctx, backoff); err != nil {
			return Result{}, err
		}
	}

	kind := classify(lastErr)
	g.logger.Error("chat completion exhausted retries, using fallback",
		"kind", string(kind),
		"error", lastErr)
	return Result{
		Reply:    fallbacks[kind],
		Model:    g.model,
		Fallback: true,
		Kind:     kind,
	}, nil
}

func extractReply(resp openai.ChatCompletionResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content)
}

// classify maps a provider error to its failure kind.
func classify(err error) Kind {
	if err == nil {
		return KindUnavailable
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return KindRateLimited
		case apiErr.HTTPStatusCode >= 500:
			return KindProviderError
		default:
			return KindProviderError
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindConnectionFailed
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "connection reset", "no such host", "timeout", "broken pipe", "eof"} {
		if strings.Contains(msg, pattern) {
			return KindConnectionFailed
		}
	}
	// An empty reply on a successful call is the provider misbehaving.
	return KindProviderError
}

// retryable reports whether another attempt could help.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	// Transport-level failures are worth retrying.
	return classify(err) == KindConnectionFailed
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
