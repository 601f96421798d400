package identity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/Cirilcetra/agentbackend/internal/log"
	"github.com/Cirilcetra/agentbackend/internal/storage"
)

func newTestResolver(t *testing.T) (*Resolver, *storage.Memory, uuid.UUID) {
	t.Helper()
	store := storage.NewMemory()
	bot := &storage.Chatbot{TenantID: "default", Name: "Assistant"}
	if err := store.CreateChatbot(context.Background(), bot); err != nil {
		t.Fatalf("CreateChatbot() error = %v", err)
	}
	return NewResolver(store, log.NewNop()), store, bot.ID
}

func TestResolveVisitorCreatesOnFirstContact(t *testing.T) {
	ctx := context.Background()
	resolver, _, _ := newTestResolver(t)

	v, err := resolver.ResolveVisitor(ctx, "session-1", "Ada")
	if err != nil {
		t.Fatalf("ResolveVisitor() error = %v", err)
	}
	if v.ID == uuid.Nil {
		t.Fatal("ResolveVisitor() returned nil id")
	}
	if v.Name != "Ada" {
		t.Errorf("visitor name = %q, want %q", v.Name, "Ada")
	}

	// Second resolve returns the same row.
	again, err := resolver.ResolveVisitor(ctx, "session-1", "")
	if err != nil {
		t.Fatalf("ResolveVisitor() second call error = %v", err)
	}
	if again.ID != v.ID {
		t.Errorf("second resolve id = %v, want %v", again.ID, v.ID)
	}
}

func TestResolveVisitorNameBackfill(t *testing.T) {
	ctx := context.Background()
	resolver, _, _ := newTestResolver(t)

	v, err := resolver.ResolveVisitor(ctx, "session-2", "")
	if err != nil {
		t.Fatalf("ResolveVisitor() error = %v", err)
	}
	if v.Name != "" {
		t.Fatalf("visitor name = %q, want empty", v.Name)
	}

	v, err = resolver.ResolveVisitor(ctx, "session-2", "Grace")
	if err != nil {
		t.Fatalf("ResolveVisitor() with name error = %v", err)
	}
	if v.Name != "Grace" {
		t.Errorf("visitor name = %q, want %q", v.Name, "Grace")
	}

	// An already-set name never changes.
	v, err = resolver.ResolveVisitor(ctx, "session-2", "Imposter")
	if err != nil {
		t.Fatalf("ResolveVisitor() third call error = %v", err)
	}
	if v.Name != "Grace" {
		t.Errorf("visitor name = %q, want %q", v.Name, "Grace")
	}
}

func TestResolveVisitorEmptyID(t *testing.T) {
	resolver, _, _ := newTestResolver(t)
	if _, err := resolver.ResolveVisitor(context.Background(), "", "Ada"); !errors.Is(err, ErrEmptyVisitorID) {
		t.Fatalf("ResolveVisitor(\"\") error = %v, want ErrEmptyVisitorID", err)
	}
}

// conflictStore forces InsertVisitor and InsertConversation to report a
// conflict once, simulating a lost first-contact race.
type conflictStore struct {
	*storage.Memory
	visitorConflicts int
	convConflicts    int
}

func (s *conflictStore) InsertVisitor(ctx context.Context, v *storage.Visitor) error {
	if s.visitorConflicts > 0 {
		s.visitorConflicts--
		shadow := &storage.Visitor{ExternalID: v.ExternalID, Name: "winner"}
		if err := s.Memory.InsertVisitor(ctx, shadow); err != nil {
			return err
		}
		return storage.ErrConflict
	}
	return s.Memory.InsertVisitor(ctx, v)
}

func (s *conflictStore) InsertConversation(ctx context.Context, c *storage.Conversation) error {
	if s.convConflicts > 0 {
		s.convConflicts--
		shadow := &storage.Conversation{ChatbotID: c.ChatbotID, VisitorID: c.VisitorID, TenantID: c.TenantID}
		if err := s.Memory.InsertConversation(ctx, shadow); err != nil {
			return err
		}
		return storage.ErrConflict
	}
	return s.Memory.InsertConversation(ctx, c)
}

func TestResolveVisitorRefetchesAfterConflict(t *testing.T) {
	ctx := context.Background()
	store := &conflictStore{Memory: storage.NewMemory(), visitorConflicts: 1}
	resolver := NewResolver(store, log.NewNop())

	v, err := resolver.ResolveVisitor(ctx, "racy-session", "loser")
	if err != nil {
		t.Fatalf("ResolveVisitor() error = %v", err)
	}
	if v.Name != "winner" {
		t.Errorf("visitor name = %q, want the winner's row", v.Name)
	}
}

func TestResolveConversationCreatesOnce(t *testing.T) {
	ctx := context.Background()
	resolver, store, chatbotID := newTestResolver(t)

	v := &storage.Visitor{ExternalID: "session-3"}
	if err := store.InsertVisitor(ctx, v); err != nil {
		t.Fatalf("InsertVisitor() error = %v", err)
	}

	c, err := resolver.ResolveConversation(ctx, chatbotID, v.ID)
	if err != nil {
		t.Fatalf("ResolveConversation() error = %v", err)
	}
	if c.TenantID != "default" {
		t.Errorf("conversation tenant = %q, want %q (derived from chatbot)", c.TenantID, "default")
	}

	again, err := resolver.ResolveConversation(ctx, chatbotID, v.ID)
	if err != nil {
		t.Fatalf("ResolveConversation() second call error = %v", err)
	}
	if again.ID != c.ID {
		t.Errorf("second resolve conversation id = %v, want %v", again.ID, c.ID)
	}
}

func TestResolveConversationUnknownChatbot(t *testing.T) {
	ctx := context.Background()
	resolver, store, _ := newTestResolver(t)

	v := &storage.Visitor{ExternalID: "session-4"}
	if err := store.InsertVisitor(ctx, v); err != nil {
		t.Fatalf("InsertVisitor() error = %v", err)
	}
	if _, err := resolver.ResolveConversation(ctx, uuid.New(), v.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("ResolveConversation() unknown chatbot error = %v, want ErrNotFound", err)
	}
}

func TestResolveVisitorConcurrentFirstContact(t *testing.T) {
	ctx := context.Background()
	resolver, _, _ := newTestResolver(t)

	const callers = 16
	ids := make([]uuid.UUID, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := resolver.ResolveVisitor(ctx, "stampede", "")
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = v.ID
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: ResolveVisitor() error = %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("caller %d resolved visitor %v, caller 0 resolved %v", i, ids[i], ids[0])
		}
	}
}

func TestResolveConversationConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	resolver, store, chatbotID := newTestResolver(t)

	v := &storage.Visitor{ExternalID: "racy-first-message"}
	if err := store.InsertVisitor(ctx, v); err != nil {
		t.Fatalf("InsertVisitor() error = %v", err)
	}

	const callers = 16
	ids := make([]uuid.UUID, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := resolver.ResolveConversation(ctx, chatbotID, v.ID)
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = c.ID
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: ResolveConversation() error = %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("caller %d resolved conversation %v, caller 0 resolved %v", i, ids[i], ids[0])
		}
	}

	// The store holds exactly the one row everybody converged on.
	c, err := store.GetConversation(ctx, chatbotID, v.ID)
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if c.ID != ids[0] {
		t.Errorf("stored conversation = %v, callers resolved %v", c.ID, ids[0])
	}
}

func TestLookupConversationNeverCreates(t *testing.T) {
	ctx := context.Background()
	resolver, store, chatbotID := newTestResolver(t)

	// Unknown visitor: nothing is minted by the lookup.
	if _, err := resolver.LookupConversation(ctx, chatbotID, "never-seen"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("LookupConversation() unknown visitor error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetVisitorByExternalID(ctx, "never-seen"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("LookupConversation() created a visitor row")
	}

	// Known visitor, no conversation yet: still not found, still no row.
	v := &storage.Visitor{ExternalID: "quiet-visitor"}
	if err := store.InsertVisitor(ctx, v); err != nil {
		t.Fatalf("InsertVisitor() error = %v", err)
	}
	if _, err := resolver.LookupConversation(ctx, chatbotID, "quiet-visitor"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("LookupConversation() no-conversation error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetConversation(ctx, chatbotID, v.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("LookupConversation() created a conversation row")
	}

	// Once a conversation exists the lookup finds it.
	c, err := resolver.ResolveConversation(ctx, chatbotID, v.ID)
	if err != nil {
		t.Fatalf("ResolveConversation() error = %v", err)
	}
	found, err := resolver.LookupConversation(ctx, chatbotID, "quiet-visitor")
	if err != nil {
		t.Fatalf("LookupConversation() error = %v", err)
	}
	if found.ID != c.ID {
		t.Errorf("LookupConversation() = %v, want %v", found.ID, c.ID)
	}
}

func TestResolveConversationRefetchesAfterConflict(t *testing.T) {
	ctx := context.Background()
	store := &conflictStore{Memory: storage.NewMemory(), convConflicts: 1}
	bot := &storage.Chatbot{TenantID: "default", Name: "Assistant"}
	if err := store.CreateChatbot(ctx, bot); err != nil {
		t.Fatalf("CreateChatbot() error = %v", err)
	}
	v := &storage.Visitor{ExternalID: "racy-conv"}
	if err := store.Memory.InsertVisitor(ctx, v); err != nil {
		t.Fatalf("InsertVisitor() error = %v", err)
	}

	resolver := NewResolver(store, log.NewNop())
	c, err := resolver.ResolveConversation(ctx, bot.ID, v.ID)
	if err != nil {
		t.Fatalf("ResolveConversation() error = %v", err)
	}
	if c.ChatbotID != bot.ID || c.VisitorID != v.ID {
		t.Errorf("resolved conversation = %+v", c)
	}
}
