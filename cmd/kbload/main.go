// Command kbload loads the disease knowledge base into the database tables
// read by the server when KNOWLEDGE_SOURCE=postgres.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"diagnostic-engine/internal/config"
	"diagnostic-engine/internal/knowledge"
	"diagnostic-engine/internal/platform/postgres"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "kbload",
	Short:         "Manage the diagnostic knowledge base tables",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postgres.Migrate(cfg.MigrationsPath, cfg.DatabaseURL)
	},
}

var (
	diseasePath      string
	diseasePriorPath string
	symptomPriorPath string
	skipMigrate      bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Replace the knowledge tables with the contents of the data files",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := knowledge.LoadStore(
			valueOr(diseasePath, cfg.KnowledgePath),
			valueOr(diseasePriorPath, cfg.DiseasePriorPath),
			valueOr(symptomPriorPath, cfg.SymptomPriorPath),
		)
		if err != nil {
			return err
		}

		if !skipMigrate {
			if err := postgres.Migrate(cfg.MigrationsPath, cfg.DatabaseURL); err != nil {
				return err
			}
		}

		db, err := postgres.Connect(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := knowledge.NewSQLStore(db).Import(context.Background(), store); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d diseases\n", len(store.Diseases()))
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&diseasePath, "diseases", "", "JSON-lines disease file (default KNOWLEDGE_PATH)")
	importCmd.Flags().StringVar(&diseasePriorPath, "disease-priors", "", "disease prior CSV (default DISEASE_PRIOR_PATH)")
	importCmd.Flags().StringVar(&symptomPriorPath, "symptom-priors", "", "symptom prior CSV (default SYMPTOM_PRIOR_PATH)")
	importCmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply migrations before importing")

	rootCmd.AddCommand(migrateCmd, importCmd)
}

func valueOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
