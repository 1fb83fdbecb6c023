package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/arcanadesk/tarot/internal/server"
)

var adminPassword string

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage admin accounts",
}

var adminCreateCmd = &cobra.Command{
	Use:   "create <email>",
	Short: "Create an admin, or reset the password of an existing one",
	Long: `Create an admin account. The password is taken from --password,
or from ADMIN_PASSWORD when the flag is omitted.

Example:
  tarotctl admin create ops@example.com --password s3cret`,
	Args: cobra.ExactArgs(1),
	RunE: runAdminCreate,
}

func init() {
	adminCreateCmd.Flags().StringVar(&adminPassword, "password", "", "Admin password (env ADMIN_PASSWORD)")
	adminCmd.AddCommand(adminCreateCmd)
	rootCmd.AddCommand(adminCmd)
}

func runAdminCreate(cmd *cobra.Command, args []string) error {
	password := adminPassword
	if password == "" {
		password = os.Getenv("ADMIN_PASSWORD")
	}
	if password == "" {
		return errors.New("password required: pass --password or set ADMIN_PASSWORD")
	}

	db, err := openDB(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := server.SeedAdmin(cmd.Context(), newLogger(cmd), server.NewSQLiteAdminStore(db), args[0], password); err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), map[string]string{"email": args[0]}, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "admin %s ready\n", args[0])
		return err
	})
}
