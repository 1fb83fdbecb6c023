package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/arcanadesk/tarot/internal/auth"
)

var (
	tokenTTL    time.Duration
	tokenIssuer string
)

var tokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Issue a user token for local testing",
	Long: `Issue a signed user token with JWT_SECRET. A random user id is
generated when none is given.

Example:
  curl -H "Authorization: Bearer $(tarotctl token -o json | jq -r .token)" localhost:8080/api/credits`,
	Args: cobra.MaximumNArgs(1),
	RunE: runToken,
}

func init() {
	def := os.Getenv("JWT_ISSUER")
	if def == "" {
		def = "arcanadesk"
	}
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", def, "Token issuer (env JWT_ISSUER)")
	rootCmd.AddCommand(tokenCmd)
}

type tokenView struct {
	UserID    string    `json:"userId" yaml:"userId"`
	Token     string    `json:"token" yaml:"token"`
	ExpiresAt time.Time `json:"expiresAt" yaml:"expiresAt"`
}

func runToken(cmd *cobra.Command, args []string) error {
	secret := os.Getenv("JWT_SECRET")
	if len(secret) < 32 {
		return errors.New("JWT_SECRET must be set to at least 32 bytes")
	}

	userID := uuid.NewString()
	if len(args) == 1 {
		userID = args[0]
	}
	tok, err := auth.NewVerifier(secret, tokenIssuer).Issue(userID, tokenTTL)
	if err != nil {
		return err
	}
	v := tokenView{UserID: userID, Token: tok, ExpiresAt: time.Now().Add(tokenTTL).UTC()}
	return render(cmd.OutOrStdout(), v, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, v.Token)
		return err
	})
}
