package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/arcanadesk/tarot/internal/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

type migrateResult struct {
	Path    string `json:"path" yaml:"path"`
	Version int64  `json:"version" yaml:"version"`
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	db, err := openDB(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close()

	v, err := migrations.Version(db)
	if err != nil {
		return err
	}
	res := migrateResult{Path: dbPath, Version: v}
	return render(cmd.OutOrStdout(), res, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s is at schema version %d\n", res.Path, res.Version)
		return err
	})
}
