// Package bootstrap performs first-run initialization: seeding the admin
// account and its default preference fixtures into an empty database.
package bootstrap

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/tradecouncil/tradecouncil/internal/db"
	"github.com/tradecouncil/tradecouncil/internal/validation"
)

const (
	defaultAdminUsername = "admin"
	passwordLength       = 16
	passwordAlphabet     = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	fixtureCategory = "fixtures"
)

// Store is the persistence surface the bootstrapper needs; satisfied by
// *db.DB.
type Store interface {
	CountUsers(ctx context.Context) (int, error)
	CreateUser(ctx context.Context, username, passwordHash string, email *string, isAdmin bool) (*db.User, error)
	UpsertPreference(ctx context.Context, userID uuid.UUID, key string, value json.RawMessage, category *string) error
}

// Seed creates the admin account on an empty database. Credentials come
// from ADMIN_USERNAME / ADMIN_PASSWORD / ADMIN_EMAIL; a missing password is
// generated and logged exactly once. A non-empty user table means the
// system is already initialized and seeding is skipped.
func Seed(ctx context.Context, store Store) error {
	count, err := store.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to check existing users: %w", err)
	}
	if count > 0 {
		log.Debug().Int("users", count).Msg("Database already seeded, skipping")
		return nil
	}

	username := os.Getenv("ADMIN_USERNAME")
	if username == "" {
		username = defaultAdminUsername
	}
	username, err = validation.ValidateUsername(username)
	if err != nil {
		return fmt.Errorf("invalid ADMIN_USERNAME: %w", err)
	}

	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		password, err = generatePassword(passwordLength)
		if err != nil {
			return fmt.Errorf("failed to generate admin password: %w", err)
		}
		// Printed once at seed time; there is no other way to recover it.
		log.Warn().
			Str("username", username).
			Str("password", password).
			Msg("ADMIN_PASSWORD not set, generated admin password")
	}

	var email *string
	if e := os.Getenv("ADMIN_EMAIL"); e != "" {
		email = &e
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin, err := store.CreateUser(ctx, username, string(hash), email, true)
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	if err := seedFixtures(ctx, store, admin.ID); err != nil {
		return err
	}

	log.Info().Str("username", username).Msg("Admin account seeded")
	return nil
}

// seedFixtures writes the default paper-trading portfolio and the economic
// calendar skeleton as opaque preference values of the admin user.
func seedFixtures(ctx context.Context, store Store, adminID uuid.UUID) error {
	category := fixtureCategory

	fixtures := map[string]any{
		"investor_portfolio": map[string]any{
			"cash_balance": 100000.0,
			"currency":     "USD",
			"positions":    []any{},
		},
		"economic_events": map[string]any{
			"watched_series": []string{"FEDFUNDS", "CPIAUCSL", "UNRATE", "GDP"},
			"refresh_days":   7,
		},
	}

	for key, value := range fixtures {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal fixture %q: %w", key, err)
		}
		if err := store.UpsertPreference(ctx, adminID, key, raw, &category); err != nil {
			return fmt.Errorf("failed to seed fixture %q: %w", key, err)
		}
	}
	return nil
}

// generatePassword draws n characters from an unambiguous alphabet.
func generatePassword(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = passwordAlphabet[idx.Int64()]
	}
	return string(out), nil
}
