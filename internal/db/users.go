package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/tradecouncil/tradecouncil/internal/errs"
)

// User is an account that can own analysis sessions.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Email        *string   `json:"email,omitempty"`
	IsActive     bool      `json:"is_active"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateUser inserts a new user. The username must already be normalized to
// its lowercase handle.
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string, email *string, isAdmin bool) (*User, error) {
	user := &User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: passwordHash,
		Email:        email,
		IsActive:     true,
		IsAdmin:      isAdmin,
		CreatedAt:    time.Now(),
	}

	query := `
		INSERT INTO users (id, username, password_hash, email, is_active, is_admin, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := db.pool.Exec(ctx, query, user.ID, user.Username, user.PasswordHash, user.Email, user.IsActive, user.IsAdmin, user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user %q: %w", username, err)
	}

	log.Info().Str("username", username).Bool("is_admin", isAdmin).Msg("User created")
	return user, nil
}

// GetUserByUsername looks a user up by its lowercase handle.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := `
		SELECT id, username, password_hash, email, is_active, is_admin, created_at
		FROM users
		WHERE username = $1
	`

	var u User
	err := db.pool.QueryRow(ctx, query, username).Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.Email, &u.IsActive, &u.IsAdmin, &u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.Newf(errs.KindNotFound, "user %q not found", username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// CountUsers returns the number of user rows, used by the bootstrapper to
// decide whether to seed.
func (db *DB) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}
