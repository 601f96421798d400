package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Cirilcetra/agentbackend/internal/log"
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations, mapped to ErrConflict.
const uniqueViolation = "23505"

// Postgres is the durable Store implementation backed by pgx.
//
// Safe for concurrent use.
type Postgres struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewPostgres creates a PostgreSQL-backed store using the given pool.
func NewPostgres(pool *pgxpool.Pool, logger log.Logger) *Postgres {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Postgres{pool: pool, logger: logger}
}

// mapError converts driver errors to the package's sentinel errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}

// CreateChatbot stores a new chatbot, assigning an id if unset.
func (s *Postgres) CreateChatbot(ctx context.Context, bot *Chatbot) error {
	if bot.ID == uuid.Nil {
		bot.ID = uuid.New()
	}
	personaJSON, err := json.Marshal(bot.Persona)
	if err != nil {
		return fmt.Errorf("marshaling persona: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO chatbots (id, tenant_id, name, description, is_public, persona)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		bot.ID, bot.TenantID, bot.Name, bot.Description, bot.IsPublic, personaJSON)
	if err := row.Scan(&bot.CreatedAt, &bot.UpdatedAt); err != nil {
		return fmt.Errorf("creating chatbot: %w", mapError(err))
	}
	return nil
}

// GetChatbot returns the chatbot with the given id.
func (s *Postgres) GetChatbot(ctx context.Context, id uuid.UUID) (*Chatbot, error) {
	bot := &Chatbot{}
	var personaJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, description, is_public, persona, created_at, updated_at
		FROM chatbots WHERE id = $1`, id).
		Scan(&bot.ID, &bot.TenantID, &bot.Name, &bot.Description, &bot.IsPublic,
			&personaJSON, &bot.CreatedAt, &bot.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("getting chatbot %s: %w", id, mapError(err))
	}
	if err := json.Unmarshal(personaJSON, &bot.Persona); err != nil {
		s.logger.Warn("failed to parse chatbot persona", "chatbot_id", id, "error", err)
	}
	return bot, nil
}

// UpdateChatbotPersona replaces the persona configuration.
func (s *Postgres) UpdateChatbotPersona(ctx context.Context, id uuid.UUID, persona Persona) error {
	personaJSON, err := json.Marshal(persona)
	if err != nil {
		return fmt.Errorf("marshaling persona: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE chatbots SET persona = $2, updated_at = now() WHERE id = $1`,
		id, personaJSON)
	if err != nil {
		return fmt.Errorf("updating chatbot persona: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetVisitorByExternalID returns the visitor with the given external id.
func (s *Postgres) GetVisitorByExternalID(ctx context.Context, externalID string) (*Visitor, error) {
	v := &Visitor{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, external_id, name, first_seen, last_seen
		FROM visitors WHERE external_id = $1`, externalID).
		Scan(&v.ID, &v.ExternalID, &v.Name, &v.FirstSeen, &v.LastSeen)
	if err != nil {
		return nil, fmt.Errorf("getting visitor %q: %w", externalID, mapError(err))
	}
	return v, nil
}

// InsertVisitor stores a new visitor; the unique constraint on external_id
// surfaces concurrent first contact as ErrConflict.
func (s *Postgres) InsertVisitor(ctx context.Context, v *Visitor) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO visitors (id, external_id, name)
		VALUES ($1, $2, $3)
		RETURNING first_seen, last_seen`,
		v.ID, v.ExternalID, v.Name)
	if err := row.Scan(&v.FirstSeen, &v.LastSeen); err != nil {
		return fmt.Errorf("inserting visitor %q: %w", v.ExternalID, mapError(err))
	}
	return nil
}

// TouchVisitor updates last_seen and backfills the name only if unset.
func (s *Postgres) TouchVisitor(ctx context.Context, id uuid.UUID, name string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE visitors
		SET last_seen = now(),
			name = CASE WHEN name = '' AND $2 <> '' THEN $2 ELSE name END
		WHERE id = $1`, id, name)
	if err != nil {
		return fmt.Errorf("touching visitor %s: %w", id, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetConversation returns the conversation for the (chatbot, visitor) pair.
func (s *Postgres) GetConversation(ctx context.Context, chatbotID, visitorID uuid.UUID) (*Conversation, error) {
	c := &Conversation{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, chatbot_id, visitor_id, tenant_id, created_at
		FROM conversations WHERE chatbot_id = $1 AND visitor_id = $2`,
		chatbotID, visitorID).
		Scan(&c.ID, &c.ChatbotID, &c.VisitorID, &c.TenantID, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("getting conversation: %w", mapError(err))
	}
	return c, nil
}

// GetConversationByID returns the conversation with the given id.
func (s *Postgres) GetConversationByID(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	c := &Conversation{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, chatbot_id, visitor_id, tenant_id, created_at
		FROM conversations WHERE id = $1`, id).
		Scan(&c.ID, &c.ChatbotID, &c.VisitorID, &c.TenantID, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("getting conversation %s: %w", id, mapError(err))
	}
	return c, nil
}

// InsertConversation stores a new conversation; the unique constraint on
// (chatbot_id, visitor_id) surfaces concurrent creation as ErrConflict.
func (s *Postgres) InsertConversation(ctx context.Context, c *Conversation) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, chatbot_id, visitor_id, tenant_id)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		c.ID, c.ChatbotID, c.VisitorID, c.TenantID)
	if err := row.Scan(&c.CreatedAt); err != nil {
		return fmt.Errorf("inserting conversation: %w", mapError(err))
	}
	return nil
}

// DeleteConversation removes a conversation; messages cascade via the
// foreign key.
func (s *Postgres) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertMessage appends a message with a server-assigned timestamp.
func (s *Postgres) InsertMessage(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	metadataJSON, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling message metadata: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, sender, message, response, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		m.ID, m.ConversationID, m.Sender, m.Text, m.Response, metadataJSON)
	if err := row.Scan(&m.CreatedAt); err != nil {
		return fmt.Errorf("inserting message: %w", mapError(err))
	}
	return nil
}

// ListMessages returns up to limit messages in the requested order.
// The seq column breaks created_at ties so ordering is strict.
func (s *Postgres) ListMessages(ctx context.Context, conversationID uuid.UUID, limit int, order Order) ([]Message, error) {
	direction := "ASC"
	if order == OrderReverse {
		direction = "DESC"
	}
	// direction comes from the Order enum, never from user input.
	query := fmt.Sprintf(`
		SELECT id, conversation_id, sender, message, response, metadata, created_at
		FROM messages WHERE conversation_id = $1
		ORDER BY created_at %s, seq %s
		LIMIT $2`, direction, direction)

	rows, err := s.pool.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", mapError(err))
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m            Message
			metadataJSON []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Text,
			&m.Response, &metadataJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &m.Metadata); err != nil {
				s.logger.Warn("failed to parse message metadata", "message_id", m.ID, "error", err)
			}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading message rows: %w", err)
	}
	return msgs, nil
}

// GetProfile returns the tenant's profile.
func (s *Postgres) GetProfile(ctx context.Context, tenantID string) (*Profile, error) {
	p := &Profile{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, location, bio, skills, experience, projects, interests, updated_at
		FROM profiles WHERE tenant_id = $1`, tenantID).
		Scan(&p.ID, &p.TenantID, &p.Name, &p.Location, &p.Bio, &p.Skills,
			&p.Experience, &p.Projects, &p.Interests, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("getting profile for %q: %w", tenantID, mapError(err))
	}
	return p, nil
}

// UpsertProfile replaces the tenant's profile wholesale.
func (s *Postgres) UpsertProfile(ctx context.Context, p *Profile) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO profiles (id, tenant_id, name, location, bio, skills, experience, projects, interests)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id) DO UPDATE SET
			name = EXCLUDED.name,
			location = EXCLUDED.location,
			bio = EXCLUDED.bio,
			skills = EXCLUDED.skills,
			experience = EXCLUDED.experience,
			projects = EXCLUDED.projects,
			interests = EXCLUDED.interests,
			updated_at = now()
		RETURNING id, updated_at`,
		p.ID, p.TenantID, p.Name, p.Location, p.Bio, p.Skills, p.Experience, p.Projects, p.Interests)
	if err := row.Scan(&p.ID, &p.UpdatedAt); err != nil {
		return fmt.Errorf("upserting profile for %q: %w", p.TenantID, mapError(err))
	}
	return nil
}

// ListProjects returns the tenant's projects ordered by creation time.
func (s *Postgres) ListProjects(ctx context.Context, tenantID string) ([]Project, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, title, description, category, details, content, created_at, updated_at
		FROM projects WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", mapError(err))
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Title, &p.Description,
			&p.Category, &p.Details, &p.Content, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning project row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveProject inserts or replaces a project.
func (s *Postgres) SaveProject(ctx context.Context, p *Project) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO projects (id, tenant_id, title, description, category, details, content)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			details = EXCLUDED.details,
			content = EXCLUDED.content,
			updated_at = now()
		RETURNING created_at, updated_at`,
		p.ID, p.TenantID, p.Title, p.Description, p.Category, p.Details, p.Content)
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return fmt.Errorf("saving project: %w", mapError(err))
	}
	return nil
}

// DeleteProject removes a tenant's project.
func (s *Postgres) DeleteProject(ctx context.Context, tenantID string, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM projects WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("deleting project %s: %w", id, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveDocument inserts or replaces a document.
func (s *Postgres) SaveDocument(ctx context.Context, d *Document) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO documents (id, tenant_id, title, content)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content
		RETURNING created_at`,
		d.ID, d.TenantID, d.Title, d.Content)
	if err := row.Scan(&d.CreatedAt); err != nil {
		return fmt.Errorf("saving document: %w", mapError(err))
	}
	return nil
}

// ListDocuments returns the tenant's documents ordered by creation time.
func (s *Postgres) ListDocuments(ctx context.Context, tenantID string) ([]Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, title, content, created_at
		FROM documents WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", mapError(err))
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.TenantID, &d.Title, &d.Content, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SaveNote inserts or replaces a note.
func (s *Postgres) SaveNote(ctx context.Context, n *Note) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO notes (id, tenant_id, content)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content
		RETURNING created_at`,
		n.ID, n.TenantID, n.Content)
	if err := row.Scan(&n.CreatedAt); err != nil {
		return fmt.Errorf("saving note: %w", mapError(err))
	}
	return nil
}

// ListNotes returns the tenant's notes ordered by creation time.
func (s *Postgres) ListNotes(ctx context.Context, tenantID string) ([]Note, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, content, created_at
		FROM notes WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", mapError(err))
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.TenantID, &n.Content, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning note row: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
