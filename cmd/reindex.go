package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Cirilcetra/agentbackend/internal/app"
	"github.com/Cirilcetra/agentbackend/internal/config"
)

var reindexTenant string

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the semantic index from stored content",
	Long: `Re-embeds every profile field, project, document and note for the tenant
and replaces its chunks in the semantic index. Run after bulk content edits
or an embedding model change.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReindex(cmd.Context())
	},
}

func init() {
	reindexCmd.Flags().StringVar(&reindexTenant, "tenant", "default", "tenant to reindex")
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := newLogger()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	if err := a.Bot.Reindex(ctx, reindexTenant); err != nil {
		return fmt.Errorf("reindexing tenant %q: %w", reindexTenant, err)
	}
	fmt.Printf("tenant %q reindexed\n", reindexTenant)
	return nil
}
