// Package convo persists chat turns and reads them back for prompt assembly
// and the history API. A turn is stored as a single row pairing the user
// message with the assistant reply.
package convo

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Cirilcetra/agentbackend/internal/log"
	"github.com/Cirilcetra/agentbackend/internal/storage"
)

// Querier is the storage surface the turn store needs.
type Querier interface {
	InsertMessage(ctx context.Context, m *storage.Message) error
	ListMessages(ctx context.Context, conversationID uuid.UUID, limit int, order storage.Order) ([]storage.Message, error)
	DeleteConversation(ctx context.Context, id uuid.UUID) error
}

// Store reads and writes conversation turns.
type Store struct {
	q      Querier
	logger log.Logger
}

// NewStore creates a turn store backed by the given querier.
func NewStore(q Querier, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{q: q, logger: logger}
}

// AppendTurn persists one completed turn: the visitor's message paired with
// the assistant reply.
func (s *Store) AppendTurn(ctx context.Context, conversationID uuid.UUID, userText, reply string, metadata map[string]string) (*storage.Message, error) {
	m := &storage.Message{
		ConversationID: conversationID,
		Sender:         storage.SenderUser,
		Text:           userText,
		Response:       reply,
		Metadata:       metadata,
	}
	if err := s.q.InsertMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("appending turn: %w", err)
	}
	return m, nil
}

// Window returns the last n turns in chronological order, ready for prompt
// assembly. Reading latest-first and reversing keeps the window anchored to
// the most recent turns regardless of conversation length.
func (s *Store) Window(ctx context.Context, conversationID uuid.UUID, n int) ([]storage.Message, error) {
	msgs, err := s.q.ListMessages(ctx, conversationID, n, storage.OrderReverse)
	if err != nil {
		return nil, fmt.Errorf("reading history window: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// List returns up to limit turns in the given order, for history listings.
// OrderReverse reads the newest turns, OrderForward the oldest.
func (s *Store) List(ctx context.Context, conversationID uuid.UUID, limit int, order storage.Order) ([]storage.Message, error) {
	msgs, err := s.q.ListMessages(ctx, conversationID, limit, order)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	return msgs, nil
}

// Delete removes a conversation and all its turns.
func (s *Store) Delete(ctx context.Context, conversationID uuid.UUID) error {
	if err := s.q.DeleteConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	s.logger.Info("conversation deleted", "conversation_id", conversationID)
	return nil
}
