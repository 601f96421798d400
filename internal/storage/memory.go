package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is the in-process Store implementation. It backs demo mode and
// tests, and serves as the fallback when the durable store is unreachable
// at startup.
//
// Safe for concurrent use.
type Memory struct {
	mu            sync.RWMutex
	chatbots      map[uuid.UUID]Chatbot
	visitors      map[uuid.UUID]Visitor
	conversations map[uuid.UUID]Conversation
	messages      map[uuid.UUID][]Message // keyed by conversation id, append-only
	profiles      map[string]Profile      // keyed by tenant id
	projects      map[uuid.UUID]Project
	documents     map[uuid.UUID]Document
	notes         map[uuid.UUID]Note

	// seq breaks creation-time ties so message order stays monotonic even
	// when the clock does not advance between appends.
	seq uint64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		chatbots:      make(map[uuid.UUID]Chatbot),
		visitors:      make(map[uuid.UUID]Visitor),
		conversations: make(map[uuid.UUID]Conversation),
		messages:      make(map[uuid.UUID][]Message),
		profiles:      make(map[string]Profile),
		projects:      make(map[uuid.UUID]Project),
		documents:     make(map[uuid.UUID]Document),
		notes:         make(map[uuid.UUID]Note),
	}
}

// CreateChatbot stores a new chatbot, assigning an id if unset.
func (s *Memory) CreateChatbot(_ context.Context, bot *Chatbot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bot.ID == uuid.Nil {
		bot.ID = uuid.New()
	}
	if _, exists := s.chatbots[bot.ID]; exists {
		return ErrConflict
	}
	now := time.Now().UTC()
	bot.CreatedAt = now
	bot.UpdatedAt = now
	s.chatbots[bot.ID] = *bot
	return nil
}

// GetChatbot returns the chatbot with the given id.
func (s *Memory) GetChatbot(_ context.Context, id uuid.UUID) (*Chatbot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bot, ok := s.chatbots[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &bot, nil
}

// UpdateChatbotPersona replaces the persona configuration.
func (s *Memory) UpdateChatbotPersona(_ context.Context, id uuid.UUID, persona Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bot, ok := s.chatbots[id]
	if !ok {
		return ErrNotFound
	}
	bot.Persona = persona
	bot.UpdatedAt = time.Now().UTC()
	s.chatbots[id] = bot
	return nil
}

// GetVisitorByExternalID returns the visitor with the given external id.
func (s *Memory) GetVisitorByExternalID(_ context.Context, externalID string) (*Visitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.visitors {
		if v.ExternalID == externalID {
			visitor := v
			return &visitor, nil
		}
	}
	return nil, ErrNotFound
}

// InsertVisitor stores a new visitor. Returns ErrConflict if the external id
// is already mapped, mirroring the unique constraint in the durable store.
func (s *Memory) InsertVisitor(_ context.Context, v *Visitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.visitors {
		if existing.ExternalID == v.ExternalID {
			return ErrConflict
		}
	}
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	now := time.Now().UTC()
	v.FirstSeen = now
	v.LastSeen = now
	s.visitors[v.ID] = *v
	return nil
}

// TouchVisitor updates last_seen and backfills the name only if unset.
func (s *Memory) TouchVisitor(_ context.Context, id uuid.UUID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.visitors[id]
	if !ok {
		return ErrNotFound
	}
	v.LastSeen = time.Now().UTC()
	if v.Name == "" && name != "" {
		v.Name = name
	}
	s.visitors[id] = v
	return nil
}

// GetConversation returns the conversation for the (chatbot, visitor) pair.
func (s *Memory) GetConversation(_ context.Context, chatbotID, visitorID uuid.UUID) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conversations {
		if c.ChatbotID == chatbotID && c.VisitorID == visitorID {
			conv := c
			return &conv, nil
		}
	}
	return nil, ErrNotFound
}

// GetConversationByID returns the conversation with the given id.
func (s *Memory) GetConversationByID(_ context.Context, id uuid.UUID) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// InsertConversation stores a new conversation. Returns ErrConflict if one
// already exists for the (chatbot, visitor) pair.
func (s *Memory) InsertConversation(_ context.Context, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.conversations {
		if existing.ChatbotID == c.ChatbotID && existing.VisitorID == c.VisitorID {
			return ErrConflict
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now().UTC()
	s.conversations[c.ID] = *c
	return nil
}

// DeleteConversation removes a conversation and all its messages.
func (s *Memory) DeleteConversation(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

// InsertMessage appends a message with a server-assigned timestamp.
func (s *Memory) InsertMessage(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[m.ConversationID]; !ok {
		return ErrNotFound
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	s.seq++
	// Nudge the timestamp forward by the sequence so ordering stays strict
	// even for appends within the same clock tick.
	m.CreatedAt = time.Now().UTC().Add(time.Duration(s.seq) * time.Nanosecond)
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], *m)
	return nil
}

// ListMessages returns up to limit messages in the requested order.
func (s *Memory) ListMessages(_ context.Context, conversationID uuid.UUID, limit int, order Order) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.messages[conversationID]
	msgs := make([]Message, len(stored))
	copy(msgs, stored)

	// Append order is already chronological; sort defensively in case the
	// backing slice was built from an import.
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})

	if order == OrderReverse {
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

// GetProfile returns the tenant's profile.
func (s *Memory) GetProfile(_ context.Context, tenantID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// UpsertProfile replaces the tenant's profile.
func (s *Memory) UpsertProfile(_ context.Context, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.UpdatedAt = time.Now().UTC()
	s.profiles[p.TenantID] = *p
	return nil
}

// ListProjects returns the tenant's projects ordered by creation time.
func (s *Memory) ListProjects(_ context.Context, tenantID string) ([]Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Project
	for _, p := range s.projects {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SaveProject inserts or replaces a project.
func (s *Memory) SaveProject(_ context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
		p.CreatedAt = now
	} else if existing, ok := s.projects[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.projects[p.ID] = *p
	return nil
}

// DeleteProject removes a tenant's project.
func (s *Memory) DeleteProject(_ context.Context, tenantID string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok || p.TenantID != tenantID {
		return ErrNotFound
	}
	delete(s.projects, id)
	return nil
}

// SaveDocument inserts or replaces a document.
func (s *Memory) SaveDocument(_ context.Context, d *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
		d.CreatedAt = time.Now().UTC()
	}
	s.documents[d.ID] = *d
	return nil
}

// ListDocuments returns the tenant's documents ordered by creation time.
func (s *Memory) ListDocuments(_ context.Context, tenantID string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Document
	for _, d := range s.documents {
		if d.TenantID == tenantID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SaveNote inserts or replaces a note.
func (s *Memory) SaveNote(_ context.Context, n *Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
		n.CreatedAt = time.Now().UTC()
	}
	s.notes[n.ID] = *n
	return nil
}

// ListNotes returns the tenant's notes ordered by creation time.
func (s *Memory) ListNotes(_ context.Context, tenantID string) ([]Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Note
	for _, n := range s.notes {
		if n.TenantID == tenantID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
