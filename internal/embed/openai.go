package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/Cirilcetra/agentbackend/internal/log"
)

// Dimension produced by text-embedding-ada-002. The pgvector schema in
// db/migrations uses the same dimension.
const AdaDimension = 1536

// OpenAI embeds texts through the OpenAI embeddings API with bounded retry.
//
// Safe for concurrent use.
type OpenAI struct {
	client *openai.Client
	model  openai.EmbeddingModel
	logger log.Logger

	maxRetries      int
	initialInterval time.Duration
	maxInterval     time.Duration
}

// NewOpenAI creates an OpenAI embedder for the given model.
// An empty model defaults to text-embedding-ada-002.
func NewOpenAI(client *openai.Client, model string, logger log.Logger) *OpenAI {
	if model == "" {
		model = string(openai.AdaEmbeddingV2)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &OpenAI{
		client:          client,
		model:           openai.EmbeddingModel(model),
		logger:          logger,
		maxRetries:      3,
		initialInterval: time.Second,
		maxInterval:     10 * time.Second,
	}
}

// Embed returns one vector per input text.
// Transient provider failures are retried with exponential backoff; the last
// error is returned once attempts are exhausted.
func (e *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var lastErr error
	delay := e.initialInterval
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: texts,
			Model: e.model,
		})
		if err == nil {
			if len(resp.Data) != len(texts) {
				return nil, fmt.Errorf("embedding count mismatch: got %d for %d texts", len(resp.Data), len(texts))
			}
			vectors := make([][]float32, len(resp.Data))
			for i, d := range resp.Data {
				vectors[i] = d.Embedding
			}
			return vectors, nil
		}

		lastErr = err
		if !retryable(err) || attempt == e.maxRetries {
			break
		}

		e.logger.Debug("retrying embedding call",
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during embed retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, e.maxInterval)
		}
	}

	return nil, fmt.Errorf("embed %d texts: %w", len(texts), lastErr)
}

// Dimension returns the vector dimension for the configured model.
func (e *OpenAI) Dimension() int {
	return AdaDimension
}

// retryable reports whether err is transient and worth another attempt.
// Rate limits and server-side failures are retried; everything else
// (auth errors, invalid requests) fails immediately.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}

	// Network-level errors do not surface as APIError.
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection reset", "timeout", "temporary", "eof"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
