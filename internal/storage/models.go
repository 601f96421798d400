package storage

import (
	"time"

	"github.com/google/uuid"
)

// Sender roles for messages.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Persona is the chatbot persona configuration: directives that shape how the
// model speaks as the tenant. Stored as JSONB on the chatbot row.
type Persona struct {
	Tone         string `json:"tone,omitempty"`
	Personality  string `json:"personality,omitempty"`
	Style        string `json:"style,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// Chatbot belongs to one tenant and carries the persona configuration.
type Chatbot struct {
	ID          uuid.UUID
	TenantID    string // owner whose content is indexed and served
	Name        string
	Description string
	IsPublic    bool
	Persona     Persona
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Visitor maps an externally supplied opaque id to a durable internal id.
// Name is backfilled only if previously unset.
type Visitor struct {
	ID         uuid.UUID
	ExternalID string
	Name       string
	FirstSeen  time.Time
	LastSeen   time.Time
}

// Conversation is keyed by (chatbot_id, visitor_id); at most one exists per
// pair. Created lazily on first message, deleted only by explicit admin
// action, which cascades to its messages.
type Conversation struct {
	ID        uuid.UUID
	ChatbotID uuid.UUID
	VisitorID uuid.UUID
	TenantID  string // derived from the chatbot row, never from caller input
	CreatedAt time.Time
}

// Message is one turn in a conversation, ordered by server-assigned creation
// time. Response holds the assistant reply paired with a user message.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Sender         string
	Text           string
	Response       string
	Metadata       map[string]string
	CreatedAt      time.Time
}

// Profile is the tenant's persona source data, projected into the semantic
// index field by field.
type Profile struct {
	ID         uuid.UUID
	TenantID   string
	Name       string
	Location   string
	Bio        string
	Skills     string
	Experience string
	Projects   string // legacy free-text projects field
	Interests  string
	UpdatedAt  time.Time
}

// Fields returns the profile's indexable fields keyed by subcategory,
// omitting empty values. Iteration order is fixed by FieldOrder.
func (p *Profile) Fields() map[string]string {
	fields := map[string]string{
		"name":       p.Name,
		"location":   p.Location,
		"bio":        p.Bio,
		"skills":     p.Skills,
		"experience": p.Experience,
		"projects":   p.Projects,
		"interests":  p.Interests,
	}
	for k, v := range fields {
		if v == "" {
			delete(fields, k)
		}
	}
	return fields
}

// FieldOrder is the canonical ordering of profile subcategories, used when a
// deterministic projection order matters (chunk ids, prompt assembly).
var FieldOrder = []string{"name", "location", "bio", "skills", "experience", "projects", "interests"}

// Project is a tenant project; title/description/details are indexed as
// single chunks, content is chunked when oversized.
type Project struct {
	ID          uuid.UUID
	TenantID    string
	Title       string
	Description string
	Category    string
	Details     string
	Content     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Document is an uploaded text document owned by a tenant.
type Document struct {
	ID        uuid.UUID
	TenantID  string
	Title     string
	Content   string
	CreatedAt time.Time
}

// Note is a short free-form note owned by a tenant.
type Note struct {
	ID        uuid.UUID
	TenantID  string
	Content   string
	CreatedAt time.Time
}
