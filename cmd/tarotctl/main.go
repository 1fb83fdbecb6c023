// Command tarotctl administers a tarot reading database: migrations,
// admin accounts, credits and development tokens.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/arcanadesk/tarot/internal/database"
	"github.com/arcanadesk/tarot/internal/migrations"
)

var (
	dbPath  string
	output  string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "tarotctl",
	Short: "Administer the tarot reading service",
	Long: `tarotctl works directly on the service database.

Commands:
  migrate         Apply pending schema migrations
  admin create    Create an admin or reset its password
  credits grant   Add credits to a user
  credits show    Show a user's balance and ledger
  token           Issue a user token for local testing`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	def := os.Getenv("DB_PATH")
	if def == "" {
		def = "data/tarot.db"
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", def, "SQLite database path (env DB_PATH)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (json, table, yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// openDB opens the database and brings its schema up to date.
func openDB(ctx context.Context) (*sql.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, fs.ModePerm); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := database.Open(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// render writes v as JSON or YAML, or calls table for the table format.
func render(w io.Writer, v any, table func(io.Writer) error) error {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	case "table", "":
		return table(w)
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}
