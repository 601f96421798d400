// Package identity resolves externally supplied visitor ids and the
// (chatbot, visitor) pair to durable rows, creating them lazily on first
// contact. Concurrent first contact is resolved optimistically: insert, and
// on a uniqueness conflict refetch the winner's row. No locks are taken.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Cirilcetra/agentbackend/internal/log"
	"github.com/Cirilcetra/agentbackend/internal/storage"
)

// ErrEmptyVisitorID indicates the caller supplied no visitor identifier.
var ErrEmptyVisitorID = errors.New("visitor id is empty")

// Querier is the storage surface the resolver needs.
type Querier interface {
	GetChatbot(ctx context.Context, id uuid.UUID) (*storage.Chatbot, error)
	GetVisitorByExternalID(ctx context.Context, externalID string) (*storage.Visitor, error)
	InsertVisitor(ctx context.Context, v *storage.Visitor) error
	TouchVisitor(ctx context.Context, id uuid.UUID, name string) error
	GetConversation(ctx context.Context, chatbotID, visitorID uuid.UUID) (*storage.Conversation, error)
	InsertConversation(ctx context.Context, c *storage.Conversation) error
}

// Resolver maps external identities to durable visitor and conversation rows.
type Resolver struct {
	store  Querier
	logger log.Logger
}

// NewResolver creates a resolver backed by the given store.
func NewResolver(store Querier, logger log.Logger) *Resolver {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Resolver{store: store, logger: logger}
}

// ResolveVisitor returns the durable visitor for an external id, creating the
// row on first contact. The name backfills the visitor only if previously
// unset; last_seen is updated on every call.
func (r *Resolver) ResolveVisitor(ctx context.Context, externalID, name string) (*storage.Visitor, error) {
	if externalID == "" {
		return nil, ErrEmptyVisitorID
	}

	v, err := r.store.GetVisitorByExternalID(ctx, externalID)
	switch {
	case err == nil:
		return r.touch(ctx, v, name)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("looking up visitor: %w", err)
	}

	fresh := &storage.Visitor{ExternalID: externalID, Name: name}
	err = r.store.InsertVisitor(ctx, fresh)
	switch {
	case err == nil:
		r.logger.Info("visitor created", "visitor_id", fresh.ID)
		return fresh, nil
	case errors.Is(err, storage.ErrConflict):
		// Lost the first-contact race; the winner's row is authoritative.
		v, err = r.store.GetVisitorByExternalID(ctx, externalID)
		if err != nil {
			return nil, fmt.Errorf("refetching visitor after conflict: %w", err)
		}
		return r.touch(ctx, v, name)
	default:
		return nil, fmt.Errorf("inserting visitor: %w", err)
	}
}

func (r *Resolver) touch(ctx context.Context, v *storage.Visitor, name string) (*storage.Visitor, error) {
	if err := r.store.TouchVisitor(ctx, v.ID, name); err != nil {
		// Not worth failing the turn over; last_seen is advisory.
		r.logger.Warn("failed to touch visitor", "visitor_id", v.ID, "error", err)
	}
	if v.Name == "" && name != "" {
		v.Name = name
	}
	return v, nil
}

// LookupConversation returns the existing conversation for the (chatbot,
// visitor) pair without creating anything. Reads must not mint visitor or
// conversation rows; a visitor who has never sent a message gets
// storage.ErrNotFound, as does a pair with no conversation yet.
func (r *Resolver) LookupConversation(ctx context.Context, chatbotID uuid.UUID, externalVisitorID string) (*storage.Conversation, error) {
	if externalVisitorID == "" {
		return nil, ErrEmptyVisitorID
	}
	v, err := r.store.GetVisitorByExternalID(ctx, externalVisitorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("looking up visitor: %w", err)
	}
	return r.store.GetConversation(ctx, chatbotID, v.ID)
}

// ResolveConversation returns the single conversation for the (chatbot,
// visitor) pair, creating it on first message. The tenant id is derived from
// the chatbot row, never from caller input.
func (r *Resolver) ResolveConversation(ctx context.Context, chatbotID, visitorID uuid.UUID) (*storage.Conversation, error) {
	c, err := r.store.GetConversation(ctx, chatbotID, visitorID)
	switch {
	case err == nil:
		return c, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}

	bot, err := r.store.GetChatbot(ctx, chatbotID)
	if err != nil {
		return nil, fmt.Errorf("looking up chatbot %s: %w", chatbotID, err)
	}

	fresh := &storage.Conversation{
		ChatbotID: chatbotID,
		VisitorID: visitorID,
		TenantID:  bot.TenantID,
	}
	err = r.store.InsertConversation(ctx, fresh)
	switch {
	case err == nil:
		r.logger.Info("conversation created",
			"conversation_id", fresh.ID,
			"chatbot_id", chatbotID,
			"visitor_id", visitorID)
		return fresh, nil
	case errors.Is(err, storage.ErrConflict):
		c, err = r.store.GetConversation(ctx, chatbotID, visitorID)
		if err != nil {
			return nil, fmt.Errorf("refetching conversation after conflict: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}
}
