package models

import (
	"fmt"
	"testing"
	"time"

	"github.com/evetools/waitlist/internal/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MockUser creates a new user in the database.
func MockUser(t *testing.T, tx *gorm.DB, email string) *User {
	t.Helper()
	require := require.New(t)

	user, err := NewUsers(tx).Create(email, "hunter2", false)
	require.NoError(err)
	return user
}

// MockCharacter creates a character bound to the user.
func MockCharacter(t *testing.T, tx *gorm.DB, user *User, id int64, name string) *Character {
	t.Helper()
	require := require.New(t)

	char := &Character{
		ID:     id,
		UserID: user.ID,
		Name:   name,
	}
	require.NoError(tx.Create(char).Error)
	return char
}

// WithScopes sets the granted scopes of a credential.
func WithScopes(scopes string) func(*Credential) {
	return func(c *Credential) {
		c.Scopes = scopes
	}
}

// WithExpiry sets the access token expiry of a credential.
func WithExpiry(at time.Time) func(*Credential) {
	return func(c *Credential) {
		c.ExpiresAt = at
	}
}

// MockCredential creates a credential for the character, valid for an hour
// unless an option says otherwise.
func MockCredential(t *testing.T, tx *gorm.DB, char *Character, opts ...func(*Credential)) *Credential {
	t.Helper()
	require := require.New(t)

	id := snowflake.Now()
	cred := &Credential{
		ID:           id,
		CharacterID:  char.ID,
		AccessToken:  fmt.Sprintf("access-%d", id),
		RefreshToken: fmt.Sprintf("refresh-%d", id),
		ExpiresAt:    time.Now().Add(time.Hour),
		Scopes:       "esi-skills.read_skills.v1 esi-clones.read_implants.v1",
	}
	for _, opt := range opts {
		opt(cred)
	}
	require.NoError(tx.Create(cred).Error)
	return cred
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	require := require.New(t)
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	require.NoError(err)

	sqlDB, err := db.DB()
	require.NoError(err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(AllTables()...)
	require.NoError(err)

	// enable foreign key constraints
	err = db.Exec("PRAGMA foreign_keys = ON").Error
	require.NoError(err)

	return db
}
