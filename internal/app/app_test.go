package app

import (
	"context"
	"testing"

	"github.com/Cirilcetra/agentbackend/internal/bot"
	"github.com/Cirilcetra/agentbackend/internal/config"
	"github.com/Cirilcetra/agentbackend/internal/log"
	"github.com/Cirilcetra/agentbackend/internal/respond"
	"github.com/Cirilcetra/agentbackend/internal/storage"
)

func demoConfig() *config.Config {
	return &config.Config{
		ChatModel:         config.DefaultChatModel,
		EmbedderModel:     config.DefaultEmbedderModel,
		Temperature:       config.DefaultTemperature,
		MaxTokens:         config.DefaultMaxTokens,
		PerCategoryBudget: config.DefaultPerCategoryBudget,
		TotalBudget:       config.DefaultTotalBudget,
		HistoryWindow:     config.DefaultHistoryWindow,
		InMemory:          true,
	}
}

func TestSetupInMemoryDemoMode(t *testing.T) {
	ctx := context.Background()
	a, err := Setup(ctx, demoConfig(), log.NewNop())
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer a.Close()

	if _, ok := a.Store.(*storage.Memory); !ok {
		t.Errorf("store = %T, want in-memory", a.Store)
	}
	if err := a.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}

	// A full turn works without any external provider.
	chatbot := &storage.Chatbot{TenantID: "default", Name: "Ada"}
	if err := a.Store.CreateChatbot(ctx, chatbot); err != nil {
		t.Fatalf("CreateChatbot() error = %v", err)
	}
	resp, err := a.Bot.SubmitTurn(ctx, bot.TurnRequest{
		ChatbotID: chatbot.ID,
		VisitorID: "session-1",
		Message:   "hello",
	})
	if err != nil {
		t.Fatalf("SubmitTurn() error = %v", err)
	}
	if resp.Reply != respond.DemoReply {
		t.Errorf("reply = %q, want the demo reply", resp.Reply)
	}
}

func TestSetupRespectsRetrievalConfig(t *testing.T) {
	cfg := demoConfig()
	cfg.PerCategoryBudget = 1
	cfg.TotalBudget = 2
	cfg.HistoryWindow = 5

	a, err := Setup(context.Background(), cfg, log.NewNop())
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer a.Close()
	if a.Bot == nil {
		t.Fatal("Setup() returned nil orchestrator")
	}
}
