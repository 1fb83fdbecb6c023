package server

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// AdminStore handles admin authentication: accounts and cookie sessions.
type AdminStore interface {
	AdminByEmail(ctx context.Context, email string) (adminID, passwordHash string, err error)
	CreateAdminSession(ctx context.Context, adminID string) (sessionID string, err error)
	DeleteAdminSession(ctx context.Context, sessionID string) error
	AdminFromSession(ctx context.Context, sessionID string) (adminSession, error)
	UpsertAdmin(ctx context.Context, email, passwordHash string) (adminID string, err error)
}

type SQLiteAdminStore struct {
	db *sql.DB
}

func NewSQLiteAdminStore(db *sql.DB) *SQLiteAdminStore {
	return &SQLiteAdminStore{db: db}
}

func (s *SQLiteAdminStore) AdminByEmail(ctx context.Context, email string) (string, string, error) {
	var adminID, passwordHash string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, password_hash FROM admins WHERE email = ?
	`, email).Scan(&adminID, &passwordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	return adminID, passwordHash, err
}

func (s *SQLiteAdminStore) CreateAdminSession(ctx context.Context, adminID string) (string, error) {
	var sessionID string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO admin_sessions (admin_id)
		VALUES (?)
		RETURNING id
	`, adminID).Scan(&sessionID)
	return sessionID, err
}

func (s *SQLiteAdminStore) DeleteAdminSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM admin_sessions WHERE id = ?`, sessionID)
	return err
}

func (s *SQLiteAdminStore) AdminFromSession(ctx context.Context, sessionID string) (adminSession, error) {
	var sess adminSession
	cutoff := formatTime(time.Now().Add(-adminSessionTTL))
	err := s.db.QueryRowContext(ctx, `
		SELECT a.id, a.email
		FROM admin_sessions s
		JOIN admins a ON a.id = s.admin_id
		WHERE s.id = ? AND s.created_at > ?
	`, sessionID, cutoff).Scan(&sess.AdminID, &sess.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return adminSession{}, errNoAdminSession
	}
	return sess, err
}

// UpsertAdmin creates the admin or replaces its password.
func (s *SQLiteAdminStore) UpsertAdmin(ctx context.Context, email, passwordHash string) (string, error) {
	var adminID string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO admins (email, password_hash)
		VALUES (?, ?)
		ON CONFLICT (email) DO UPDATE SET password_hash = excluded.password_hash
		RETURNING id
	`, email, passwordHash).Scan(&adminID)
	return adminID, err
}
