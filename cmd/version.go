package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Cirilcetra/agentbackend/internal/config"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("agentbackend %s\n", AppVersion)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		fmt.Println()
		fmt.Println("Configuration:")
		fmt.Printf("  Chat model: %s\n", cfg.ChatModel)
		fmt.Printf("  Embedder: %s\n", cfg.EmbedderModel)
		fmt.Printf("  Temperature: %.2f\n", cfg.Temperature)
		fmt.Printf("  Max tokens: %d\n", cfg.MaxTokens)
		fmt.Printf("  Listen address: %s\n", cfg.ListenAddr)
		if cfg.DemoMode() {
			fmt.Println("  OPENAI_API_KEY: not set (demo mode)")
		} else {
			fmt.Println("  OPENAI_API_KEY: configured")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
