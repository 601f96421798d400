// Package app wires the application together: configuration, storage, the
// semantic index, the AI provider clients and the turn orchestrator. Setup
// returns an App with embedded cleanup; call Close() to release.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sashabaranov/go-openai"

	"github.com/Cirilcetra/agentbackend/internal/bot"
	"github.com/Cirilcetra/agentbackend/internal/config"
	"github.com/Cirilcetra/agentbackend/internal/convo"
	"github.com/Cirilcetra/agentbackend/internal/embed"
	"github.com/Cirilcetra/agentbackend/internal/identity"
	"github.com/Cirilcetra/agentbackend/internal/index"
	"github.com/Cirilcetra/agentbackend/internal/ingest"
	"github.com/Cirilcetra/agentbackend/internal/log"
	"github.com/Cirilcetra/agentbackend/internal/prompt"
	"github.com/Cirilcetra/agentbackend/internal/respond"
	"github.com/Cirilcetra/agentbackend/internal/retrieval"
	"github.com/Cirilcetra/agentbackend/internal/storage"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Store    storage.Store
	Index    index.Index
	Embedder embed.Embedder
	Bot      *bot.Bot

	pool *pgxpool.Pool // nil when running in memory
}

// Setup initializes every component from the configuration.
//
// Two degradations keep the process useful in partial environments: without
// an OpenAI key the embedder and generator run in demo mode, and without a
// reachable PostgreSQL the storage and index fall back to memory.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (*App, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	if err := a.setupStorage(ctx); err != nil {
		return nil, err
	}
	a.setupAI()

	resolver := identity.NewResolver(a.Store, logger)
	turns := convo.NewStore(a.Store, logger)
	pipeline := ingest.NewPipeline(a.Index, a.Embedder, logger)

	budgets := retrieval.DefaultBudgets()
	budgets.Profile = cfg.PerCategoryBudget
	budgets.Project = cfg.PerCategoryBudget
	budgets.Total = cfg.TotalBudget
	ranker := retrieval.NewRanker(a.Index, budgets, logger)

	generator := a.setupGenerator()

	a.Bot = bot.New(bot.Config{
		Store:         a.Store,
		Resolver:      resolver,
		Turns:         turns,
		Ranker:        ranker,
		Assembler:     prompt.NewAssembler(prompt.DefaultCaps()),
		Generator:     generator,
		Pipeline:      pipeline,
		HistoryWindow: cfg.HistoryWindow,
		Logger:        logger,
	})
	return a, nil
}

// setupStorage selects PostgreSQL or the in-memory twins. An unreachable
// database degrades to memory with a warning instead of refusing to start.
func (a *App) setupStorage(ctx context.Context) error {
	if !a.Config.InMemory {
		pool, err := storage.OpenPool(ctx, a.Config.PostgresConnectionString())
		if err == nil {
			a.pool = pool
			a.Store = storage.NewPostgres(pool, a.Logger)
			a.Logger.Info("using postgresql storage",
				"host", a.Config.PostgresHost,
				"database", a.Config.PostgresDBName)
			return nil
		}
		a.Logger.Warn("postgresql unreachable, falling back to in-memory storage", "error", err)
	}

	a.Store = storage.NewMemory()
	a.Logger.Info("using in-memory storage")
	return nil
}

// setupAI selects the embedder and remembers demo mode.
func (a *App) setupAI() {
	if a.Config.DemoMode() {
		a.Logger.Warn("no OpenAI API key configured, running in demo mode")
		a.Embedder = embed.NewZero(index.VectorDimension)
	} else {
		client := openai.NewClient(a.Config.OpenAIAPIKey)
		a.Embedder = embed.NewOpenAI(client, a.Config.EmbedderModel, a.Logger)
	}

	if a.pool != nil {
		a.Index = index.NewPostgres(a.pool, a.Embedder, a.Logger)
	} else {
		a.Index = index.NewMemory(a.Embedder)
	}
}

func (a *App) setupGenerator() *respond.Generator {
	if a.Config.DemoMode() {
		return respond.NewDemo(a.Logger)
	}
	client := openai.NewClient(a.Config.OpenAIAPIKey)
	return respond.New(client, a.Config.ChatModel, a.Logger,
		respond.WithTemperature(a.Config.Temperature),
		respond.WithMaxTokens(a.Config.MaxTokens))
}

// Ping verifies the durable store is reachable. Memory mode always succeeds.
func (a *App) Ping(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

// Close drains background work and releases the database pool.
func (a *App) Close() {
	if a.Bot != nil {
		a.Bot.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	a.Logger.Info("application shut down")
}
