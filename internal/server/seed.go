package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// SeedAdmin creates the configured admin, or resets its password so that
// the environment stays the source of truth. Idempotent.
func SeedAdmin(ctx context.Context, logger *slog.Logger, admins AdminStore, email, password string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing admin password: %w", err)
	}
	id, err := admins.UpsertAdmin(ctx, email, string(hash))
	if err != nil {
		return fmt.Errorf("seeding admin: %w", err)
	}

	logger.Info("admin account ready", "admin_id", id, "email", email)
	return nil
}
