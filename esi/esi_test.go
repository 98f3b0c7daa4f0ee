package esi

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/evetools/waitlist/internal/snowflake"
	"github.com/evetools/waitlist/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
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

	err = db.AutoMigrate(models.AllTables()...)
	require.NoError(err)

	err = db.Exec("PRAGMA foreign_keys = ON").Error
	require.NoError(err)

	return db
}

// upstream is a stand-in for both ESI and the SSO login service.
type upstream struct {
	mux *http.ServeMux
	srv *httptest.Server

	refreshCalls int
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{mux: http.NewServeMux()}
	u.srv = httptest.NewServer(u.mux)
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) handle(pattern string, fn http.HandlerFunc) {
	u.mux.HandleFunc(pattern, fn)
}

// grantTokens makes the token endpoint hand out fresh access tokens.
func (u *upstream) grantTokens() {
	u.handle("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		u.refreshCalls++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"fresh-access-%d","refresh_token":"rotated","expires_in":1200}`, u.refreshCalls)
	})
}

// rejectTokens makes the token endpoint refuse every refresh, the way the
// SSO answers for a revoked refresh token.
func (u *upstream) rejectTokens() {
	u.handle("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		u.refreshCalls++
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	})
}

func (u *upstream) client() *Client {
	c := NewClient(testLogger())
	c.BaseURL = u.srv.URL
	return c
}

func (u *upstream) sso() *SSO {
	s := NewSSO("client-id", "client-secret", "http://localhost/auth/callback", testLogger())
	s.TokenURL = u.srv.URL + "/oauth/token"
	s.VerifyURL = u.srv.URL + "/oauth/verify"
	s.RevokeURL = u.srv.URL + "/oauth/revoke"
	return s
}

func createCharacter(t *testing.T, db *gorm.DB, id int64, name string) *models.Character {
	t.Helper()
	require := require.New(t)

	user, err := models.NewUsers(db).Create(fmt.Sprintf("%s@example.com", name), "hunter2", false)
	require.NoError(err)
	char := &models.Character{ID: id, UserID: user.ID, Name: name}
	require.NoError(db.Create(char).Error)
	return char
}

func createCredential(t *testing.T, db *gorm.DB, characterID int64, scopes string, expiresAt time.Time) *models.Credential {
	t.Helper()
	require := require.New(t)

	id := snowflake.Now()
	cred := &models.Credential{
		ID:           id,
		CharacterID:  characterID,
		AccessToken:  fmt.Sprintf("access-%d", id),
		RefreshToken: fmt.Sprintf("refresh-%d", id),
		ExpiresAt:    expiresAt,
		Scopes:       scopes,
	}
	require.NoError(db.Create(cred).Error)
	return cred
}
