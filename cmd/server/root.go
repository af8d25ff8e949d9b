// server runs the diagnosis assistant: the HTTP API by default, plus local
// tooling for the model bundle, the knowledge base and tokens.
//
// Usage:
//
//	server [serve] [--port=8080]
//	server catalog
//	server chat [--user=<id>]
//	server ingest --file=data.md
//	server token --user=<id>
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sehha.app/diagnosis-assistant/internal/config"
	"sehha.app/diagnosis-assistant/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Adaptive health interview and diagnosis assistant",
	Long: "Asks the most informative next question, validates each answer and,\n" +
		"once every feature is known, scores the answers against the condition models.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.LoadConfig(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		logging.Init(logging.ParseLevel(config.AppConfig.LogLevel), config.AppConfig.LogFormat)
		return nil
	},
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
