package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Cirilcetra/agentbackend/internal/api"
	"github.com/Cirilcetra/agentbackend/internal/app"
	"github.com/Cirilcetra/agentbackend/internal/config"
	"github.com/Cirilcetra/agentbackend/internal/log"
	"github.com/Cirilcetra/agentbackend/internal/storage"
)

const shutdownTimeout = 30 * time.Second

// defaultTenant is the tenant served when none is configured.
const defaultTenant = "default"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func newLogger() log.Logger {
	var level slog.Level
	// Unknown values fall through to the info default.
	_ = level.UnmarshalText([]byte(os.Getenv("AGENT_LOG_LEVEL")))
	return log.New(log.Config{
		Level: level,
		JSON:  os.Getenv("AGENT_LOG_FORMAT") != "text",
	})
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := newLogger()
	logger.Info("starting server", "version", AppVersion, "demo_mode", cfg.DemoMode())

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	if err := ensureDefaultChatbot(ctx, a, logger); err != nil {
		return err
	}

	handler := api.NewHandler(a.Bot, defaultTenant, logger)
	server := api.NewServer(cfg.ListenAddr, handler.Routes(), logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return <-errCh
}

// ensureDefaultChatbot creates the default chatbot if it does not exist yet.
// The id is derived from the tenant, so every boot converges on the same row
// and clients can compute it without a lookup.
func ensureDefaultChatbot(ctx context.Context, a *app.App, logger log.Logger) error {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("chatbot:"+defaultTenant))

	name := os.Getenv("AGENT_BOT_NAME")
	if name == "" {
		name = "Assistant"
	}

	chatbot := &storage.Chatbot{
		ID:       id,
		TenantID: defaultTenant,
		Name:     name,
		IsPublic: true,
	}
	err := a.Store.CreateChatbot(ctx, chatbot)
	switch {
	case err == nil:
		logger.Info("default chatbot created", "chatbot_id", id, "name", name)
	case errors.Is(err, storage.ErrConflict):
		logger.Info("default chatbot ready", "chatbot_id", id)
	default:
		return fmt.Errorf("ensuring default chatbot: %w", err)
	}
	return nil
}
