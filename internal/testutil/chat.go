package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"
)

// MockChatClient provides deterministic chat completions for testing.
// It matches the last user message against registered patterns and returns
// the corresponding response. Errors can be injected to exercise the retry
// and fallback paths.
//
// Thread-safe for concurrent use.
type MockChatClient struct {
	mu       sync.Mutex
	rules    []chatRule
	fallback string
	errs     []error // consumed one per call before any rule matching
	calls    []ChatCall
}

type chatRule struct {
	pattern  string // substring match, case-insensitive
	response string
}

// ChatCall records a single completion request.
type ChatCall struct {
	SystemPrompt string
	UserMessage  string
	Response     string
}

// NewMockChatClient creates a mock chat client with the given fallback
// response, returned when no pattern matches.
func NewMockChatClient(fallback string) *MockChatClient {
	return &MockChatClient{fallback: fallback}
}

// AddResponse registers a pattern-response pair.
// Patterns are checked in registration order; first match wins.
func (m *MockChatClient) AddResponse(pattern, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, chatRule{
		pattern:  strings.ToLower(pattern),
		response: response,
	})
}

// FailNext queues errors to be returned by the next len(errs) calls,
// before any rule matching. Used to exercise retry behavior.
func (m *MockChatClient) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, errs...)
}

// Calls returns a copy of all recorded completion requests.
func (m *MockChatClient) Calls() []ChatCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]ChatCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// CreateChatCompletion implements the chat client interface consumed by the
// response generator.
func (m *MockChatClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return openai.ChatCompletionResponse{}, err
	}

	var systemPrompt, userText string
	for _, msg := range req.Messages {
		switch msg.Role {
		case openai.ChatMessageRoleSystem:
			systemPrompt = msg.Content
		case openai.ChatMessageRoleUser:
			userText = msg.Content
		}
	}

	response := m.fallback
	lower := strings.ToLower(userText)
	for _, rule := range m.rules {
		if strings.Contains(lower, rule.pattern) {
			response = rule.response
			break
		}
	}

	m.calls = append(m.calls, ChatCall{
		SystemPrompt: systemPrompt,
		UserMessage:  userText,
		Response:     response,
	})

	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: response,
			}},
		},
	}, nil
}
