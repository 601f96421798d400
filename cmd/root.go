// Package cmd defines the CLI: serving the HTTP API, applying schema
// migrations and rebuilding the semantic index.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agentbackend",
	Short: "AI persona chatbot backend",
	Long: `agentbackend serves a persona chatbot: tenant content is embedded into a
semantic index and every chat turn is answered in the tenant's first-person
voice, grounded in the retrieved content.

Running without a subcommand starts the HTTP API server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
