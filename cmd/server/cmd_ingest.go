package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sehha.app/diagnosis-assistant/internal/config"
	"sehha.app/diagnosis-assistant/internal/store"
)

var ingestFlags struct {
	file string
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load the medical knowledge table from a Markdown file and exit",
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestFlags.file, "file", "f", "data.md", "Markdown file with a | topic | content | table")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	db, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.Close()

	n, err := db.IngestKnowledgeFromFile(cmd.Context(), ingestFlags.file)
	if err != nil {
		return fmt.Errorf("knowledge ingestion failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d knowledge entries from %s\n", n, ingestFlags.file)
	return nil
}
