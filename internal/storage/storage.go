// Package storage provides the durable relational store for chatbots,
// visitors, conversations, messages and tenant content, with two
// implementations of the same Store interface: PostgreSQL (production) and
// in-memory (demo mode, tests, fallback when the database is unreachable).
//
// The implementation is selected once at startup and injected into every
// consumer; business logic never reaches for storage through globals.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Sentinel errors returned by Store implementations.
// Check with errors.Is().
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates an insert violated a uniqueness constraint.
	// Callers resolve concurrent get-or-create races by refetching.
	ErrConflict = errors.New("already exists")
)

// Order selects message read ordering. Callers must choose explicitly:
// prompt assembly needs chronological order, UIs usually want latest-first.
type Order int

const (
	// OrderForward returns messages in chronological order.
	OrderForward Order = iota

	// OrderReverse returns messages latest-first.
	OrderReverse
)

// Store is the relational storage interface consumed by the pipeline.
//
// Implementations must be safe for concurrent use. Inserts that hit a
// uniqueness constraint return ErrConflict so callers can refetch; missing
// rows return ErrNotFound.
type Store interface {
	// Chatbots
	CreateChatbot(ctx context.Context, bot *Chatbot) error
	GetChatbot(ctx context.Context, id uuid.UUID) (*Chatbot, error)
	UpdateChatbotPersona(ctx context.Context, id uuid.UUID, persona Persona) error

	// Visitors. InsertVisitor enforces uniqueness on ExternalID.
	// TouchVisitor updates last_seen and backfills the name only if unset.
	GetVisitorByExternalID(ctx context.Context, externalID string) (*Visitor, error)
	InsertVisitor(ctx context.Context, v *Visitor) error
	TouchVisitor(ctx context.Context, id uuid.UUID, name string) error

	// Conversations. InsertConversation enforces uniqueness on
	// (chatbot_id, visitor_id). DeleteConversation cascades to messages.
	GetConversation(ctx context.Context, chatbotID, visitorID uuid.UUID) (*Conversation, error)
	GetConversationByID(ctx context.Context, id uuid.UUID) (*Conversation, error)
	InsertConversation(ctx context.Context, c *Conversation) error
	DeleteConversation(ctx context.Context, id uuid.UUID) error

	// Messages. InsertMessage assigns the creation timestamp server-side.
	InsertMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, conversationID uuid.UUID, limit int, order Order) ([]Message, error)

	// Tenant content
	GetProfile(ctx context.Context, tenantID string) (*Profile, error)
	UpsertProfile(ctx context.Context, p *Profile) error
	ListProjects(ctx context.Context, tenantID string) ([]Project, error)
	SaveProject(ctx context.Context, p *Project) error
	DeleteProject(ctx context.Context, tenantID string, id uuid.UUID) error
	SaveDocument(ctx context.Context, d *Document) error
	ListDocuments(ctx context.Context, tenantID string) ([]Document, error)
	SaveNote(ctx context.Context, n *Note) error
	ListNotes(ctx context.Context, tenantID string) ([]Note, error)
}

// Compile-time interface checks for both implementations.
var (
	_ Store = (*Postgres)(nil)
	_ Store = (*Memory)(nil)
)
