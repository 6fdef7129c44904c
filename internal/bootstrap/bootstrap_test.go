package bootstrap

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tradecouncil/tradecouncil/internal/db"
)

type fakeStore struct {
	count int
	users []*db.User
	prefs map[string]json.RawMessage
}

func newFakeStore(count int) *fakeStore {
	return &fakeStore{count: count, prefs: make(map[string]json.RawMessage)}
}

func (f *fakeStore) CountUsers(context.Context) (int, error) {
	return f.count, nil
}

func (f *fakeStore) CreateUser(_ context.Context, username, passwordHash string, email *string, isAdmin bool) (*db.User, error) {
	user := &db.User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: passwordHash,
		Email:        email,
		IsActive:     true,
		IsAdmin:      isAdmin,
		CreatedAt:    time.Now().UTC(),
	}
	f.users = append(f.users, user)
	return user, nil
}

func (f *fakeStore) UpsertPreference(_ context.Context, _ uuid.UUID, key string, value json.RawMessage, _ *string) error {
	f.prefs[key] = value
	return nil
}

func TestSeedCreatesAdmin(t *testing.T) {
	t.Setenv("ADMIN_USERNAME", "Operator")
	t.Setenv("ADMIN_PASSWORD", "hunter2hunter2")
	t.Setenv("ADMIN_EMAIL", "ops@example.com")

	store := newFakeStore(0)
	require.NoError(t, Seed(context.Background(), store))

	require.Len(t, store.users, 1)
	admin := store.users[0]
	assert.Equal(t, "operator", admin.Username, "username is normalized")
	assert.True(t, admin.IsAdmin)
	require.NotNil(t, admin.Email)
	assert.Equal(t, "ops@example.com", *admin.Email)

	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte("hunter2hunter2")))
}

func TestSeedSkipsNonEmptyDatabase(t *testing.T) {
	store := newFakeStore(3)
	require.NoError(t, Seed(context.Background(), store))
	assert.Empty(t, store.users)
	assert.Empty(t, store.prefs)
}

func TestSeedGeneratesPasswordWhenUnset(t *testing.T) {
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
	t.Setenv("ADMIN_EMAIL", "")

	store := newFakeStore(0)
	require.NoError(t, Seed(context.Background(), store))

	require.Len(t, store.users, 1)
	assert.Equal(t, "admin", store.users[0].Username)
	assert.NotEmpty(t, store.users[0].PasswordHash)
}

func TestSeedWritesFixtures(t *testing.T) {
	t.Setenv("ADMIN_PASSWORD", "hunter2hunter2")

	store := newFakeStore(0)
	require.NoError(t, Seed(context.Background(), store))

	require.Contains(t, store.prefs, "investor_portfolio")
	require.Contains(t, store.prefs, "economic_events")

	var portfolio struct {
		CashBalance float64 `json:"cash_balance"`
		Currency    string  `json:"currency"`
	}
	require.NoError(t, json.Unmarshal(store.prefs["investor_portfolio"], &portfolio))
	assert.Equal(t, 100000.0, portfolio.CashBalance)
	assert.Equal(t, "USD", portfolio.Currency)
}

func TestGeneratePassword(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		p, err := generatePassword(passwordLength)
		require.NoError(t, err)
		assert.Len(t, p, passwordLength)
		for _, r := range p {
			assert.True(t, strings.ContainsRune(passwordAlphabet, r), "unexpected character %q", r)
		}
		assert.False(t, seen[p], "passwords must not repeat")
		seen[p] = true
	}
}
