// Command tutorctl inspects and administers a tutor worker database.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/tutor/internal/db"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tutorctl",
		Short:         "Inspect and administer the tutor worker database",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("db", envOrDefault("TUTOR_DB_PATH", "./tutor.db"), "SQLite database path")

	root.AddCommand(
		newTreeCmd(),
		newTiersCmd(),
		newCredentialCmd(),
		newAskCmd(),
		newCheckCmd(),
	)
	return root
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// openDB opens the --db database. Writable handles also ensure the schema.
func openDB(cmd *cobra.Command, writable bool) (*sql.DB, error) {
	path, _ := cmd.Flags().GetString("db")
	if !writable {
		return db.OpenReadOnly(path)
	}
	database, err := db.OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return database, nil
}
