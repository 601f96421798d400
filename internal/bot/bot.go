// Package bot orchestrates a chat turn end to end: identity resolution,
// retrieval, prompt assembly, reply generation, persistence and background
// indexing of the completed turn.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Cirilcetra/agentbackend/internal/convo"
	"github.com/Cirilcetra/agentbackend/internal/identity"
	"github.com/Cirilcetra/agentbackend/internal/index"
	"github.com/Cirilcetra/agentbackend/internal/ingest"
	"github.com/Cirilcetra/agentbackend/internal/log"
	"github.com/Cirilcetra/agentbackend/internal/prompt"
	"github.com/Cirilcetra/agentbackend/internal/respond"
	"github.com/Cirilcetra/agentbackend/internal/retrieval"
	"github.com/Cirilcetra/agentbackend/internal/storage"
)

var (
	// ErrEmptyMessage indicates the turn carried no message text.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrInvalidCategory indicates a reindex request named an unknown
	// content category.
	ErrInvalidCategory = errors.New("invalid category")
)

// reindexTimeout bounds the background indexing of a completed turn.
const reindexTimeout = 30 * time.Second

// Querier is the storage surface the orchestrator reads directly.
type Querier interface {
	GetChatbot(ctx context.Context, id uuid.UUID) (*storage.Chatbot, error)
	GetConversationByID(ctx context.Context, id uuid.UUID) (*storage.Conversation, error)
	ingest.ContentSource
}

// Bot wires the turn pipeline together.
type Bot struct {
	store     Querier
	resolver  *identity.Resolver
	turns     *convo.Store
	ranker    *retrieval.Ranker
	assembler *prompt.Assembler
	generator *respond.Generator
	pipeline  *ingest.Pipeline
	window    int
	logger    log.Logger

	wg sync.WaitGroup
}

// Config carries the orchestrator's collaborators.
type Config struct {
	Store         Querier
	Resolver      *identity.Resolver
	Turns         *convo.Store
	Ranker        *retrieval.Ranker
	Assembler     *prompt.Assembler
	Generator     *respond.Generator
	Pipeline      *ingest.Pipeline
	HistoryWindow int
	Logger        log.Logger
}

// New creates the orchestrator.
func New(cfg Config) *Bot {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	window := cfg.HistoryWindow
	if window < 1 {
		window = 10
	}
	return &Bot{
		store:     cfg.Store,
		resolver:  cfg.Resolver,
		turns:     cfg.Turns,
		ranker:    cfg.Ranker,
		assembler: cfg.Assembler,
		generator: cfg.Generator,
		pipeline:  cfg.Pipeline,
		window:    window,
		logger:    logger,
	}
}

// TurnRequest is one incoming visitor message.
type TurnRequest struct {
	ChatbotID   uuid.UUID
	VisitorID   string // external opaque id supplied by the client
	VisitorName string
	Message     string
}

// TurnResponse is the completed turn.
type TurnResponse struct {
	Reply          string
	ConversationID uuid.UUID
	MessageID      uuid.UUID
	Fallback       bool
}

// SubmitTurn runs one chat turn. Identity resolution failures abort the
// turn; every later stage degrades instead, so a visitor always gets a
// reply once their conversation is known.
func (b *Bot) SubmitTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	chatbot, err := b.store.GetChatbot(ctx, req.ChatbotID)
	if err != nil {
		return nil, fmt.Errorf("resolving chatbot: %w", err)
	}
	visitor, err := b.resolver.ResolveVisitor(ctx, req.VisitorID, req.VisitorName)
	if err != nil {
		return nil, fmt.Errorf("resolving visitor: %w", err)
	}
	conversation, err := b.resolver.ResolveConversation(ctx, chatbot.ID, visitor.ID)
	if err != nil {
		return nil, fmt.Errorf("resolving conversation: %w", err)
	}

	snippets := b.ranker.Rank(ctx, conversation.TenantID, visitor.ID.String(), req.Message)

	history, err := b.turns.Window(ctx, conversation.ID, b.window)
	if err != nil {
		// A missing window degrades the prompt, not the turn.
		b.logger.Warn("failed to read history window",
			"conversation_id", conversation.ID, "error", err)
		history = nil
	}

	systemPrompt := b.assembler.Assemble(prompt.Input{
		BotName:     chatbot.Name,
		VisitorName: visitor.Name,
		Persona:     chatbot.Persona,
		Snippets:    snippets,
		History:     history,
	})

	result, err := b.generator.Generate(ctx, systemPrompt, req.Message)
	if err != nil {
		return nil, fmt.Errorf("generating reply: %w", err)
	}

	resp := &TurnResponse{
		Reply:          result.Reply,
		ConversationID: conversation.ID,
		Fallback:       result.Fallback,
	}

	message, err := b.turns.AppendTurn(ctx, conversation.ID, req.Message, result.Reply, result.Metadata())
	if err != nil {
		// The reply was already generated; losing the row is logged, not fatal.
		b.logger.Error("failed to persist turn",
			"conversation_id", conversation.ID, "error", err)
		return resp, nil
	}
	resp.MessageID = message.ID

	// Fallback replies carry no real content worth recalling later.
	if !result.Fallback {
		b.indexTurnAsync(conversation.TenantID, visitor.ID, message.ID, req.Message, result.Reply)
	}
	return resp, nil
}

// indexTurnAsync indexes the completed turn off the request path. The caller
// already has their reply; indexing latency and failures stay invisible.
func (b *Bot) indexTurnAsync(tenantID string, visitorID, messageID uuid.UUID, userText, reply string) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), reindexTimeout)
		defer cancel()
		if err := b.pipeline.ReindexTurn(ctx, tenantID, visitorID, messageID, userText, reply); err != nil {
			b.logger.Warn("failed to index turn",
				"tenant_id", tenantID, "message_id", messageID, "error", err)
		}
	}()
}

// GetHistory returns up to limit turns in the requested order for the
// visitor's conversation with the chatbot. Reading history is a pure read:
// visitors and conversations are only ever created by a first message, so a
// visitor who has never written gets an empty history and no rows.
func (b *Bot) GetHistory(ctx context.Context, chatbotID uuid.UUID, externalVisitorID string, limit int, order storage.Order) ([]storage.Message, error) {
	if _, err := b.store.GetChatbot(ctx, chatbotID); err != nil {
		return nil, fmt.Errorf("resolving chatbot: %w", err)
	}
	conversation, err := b.resolver.LookupConversation(ctx, chatbotID, externalVisitorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}
	if limit < 1 {
		limit = 50
	}
	return b.turns.List(ctx, conversation.ID, limit, order)
}

// DeleteConversation removes a conversation, its turns, and its indexed
// conversation chunks.
func (b *Bot) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	conversation, err := b.store.GetConversationByID(ctx, id)
	if err != nil {
		return fmt.Errorf("looking up conversation: %w", err)
	}
	if err := b.turns.Delete(ctx, id); err != nil {
		return err
	}
	if err := b.pipeline.DeleteVisitorTurns(ctx, conversation.TenantID, conversation.VisitorID); err != nil {
		b.logger.Warn("failed to clear indexed turns",
			"conversation_id", id, "error", err)
	}
	return nil
}

// Reindex rebuilds the tenant's semantic index from the relational store.
func (b *Bot) Reindex(ctx context.Context, tenantID string) error {
	return b.pipeline.ReindexTenant(ctx, tenantID, b.store)
}

// ReindexEntity re-projects a single entity into the index. The entity's
// current fields are read from the relational store, so the index always
// reflects what is actually persisted. Profile ignores sourceID (one per
// tenant).
func (b *Bot) ReindexEntity(ctx context.Context, tenantID, category, sourceID string) error {
	switch category {
	case index.CategoryProfile:
		profile, err := b.store.GetProfile(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("loading profile: %w", err)
		}
		return b.pipeline.ReindexProfile(ctx, profile)

	case index.CategoryProject:
		projects, err := b.store.ListProjects(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("loading projects: %w", err)
		}
		for i := range projects {
			if projects[i].ID.String() == sourceID {
				return b.pipeline.ReindexProject(ctx, &projects[i])
			}
		}
		return fmt.Errorf("project %q: %w", sourceID, storage.ErrNotFound)

	case index.CategoryDocument:
		docs, err := b.store.ListDocuments(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("loading documents: %w", err)
		}
		for i := range docs {
			if docs[i].ID.String() == sourceID {
				return b.pipeline.ReindexDocument(ctx, &docs[i])
			}
		}
		return fmt.Errorf("document %q: %w", sourceID, storage.ErrNotFound)

	case index.CategoryNote:
		notes, err := b.store.ListNotes(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("loading notes: %w", err)
		}
		for i := range notes {
			if notes[i].ID.String() == sourceID {
				return b.pipeline.ReindexNote(ctx, &notes[i])
			}
		}
		return fmt.Errorf("note %q: %w", sourceID, storage.ErrNotFound)
	}
	return fmt.Errorf("%w: %q", ErrInvalidCategory, category)
}

// Close waits for background indexing to drain.
func (b *Bot) Close() {
	b.wg.Wait()
}
