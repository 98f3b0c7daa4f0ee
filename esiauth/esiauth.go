// Package esiauth implements the EVE SSO handshake that binds characters and
// their credentials to local users. Session handling proper is delegated to
// an authenticating proxy; we trust its X-Remote-User header.
package esiauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/evetools/waitlist/esi"
	"github.com/evetools/waitlist/internal/httpx"
	"github.com/evetools/waitlist/internal/snowflake"
	"github.com/evetools/waitlist/internal/to"
	"github.com/evetools/waitlist/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Env struct {
	*models.Env
	SSO *esi.SSO
}

type contextKey string

const userKey contextKey = "user"

// WithUser returns a context carrying the authenticated user.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the user placed in the context by RequireUser.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userKey).(*models.User)
	return user, ok
}

// RequireUser resolves the X-Remote-User header set by the authenticating
// proxy to a local user and rejects requests without one.
func RequireUser(db *gorm.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email := r.Header.Get("X-Remote-User")
			if email == "" {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusUnauthorized)
				to.JSON(w, map[string]any{"error": "authentication required"})
				return
			}
			user, err := models.NewUsers(db).FindByEmail(email)
			if err != nil {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusUnauthorized)
				to.JSON(w, map[string]any{"error": "unknown user"})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

const stateCookie = "sso_state"

// Login starts the SSO handshake by redirecting the browser to the login
// service. The state parameter round-trips through a short-lived cookie.
func Login(env *Env, w http.ResponseWriter, r *http.Request) error {
	state := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return httpx.Redirect(w, env.SSO.AuthorizeRedirect(state, esi.Scopes()))
}

// Callback completes the handshake: exchanges the code, verifies which
// character the token belongs to, and stores the character with a fresh
// credential row. Re-authenticating an existing character simply appends a
// newer credential, which becomes the active one by ordering.
func Callback(env *Env, w http.ResponseWriter, r *http.Request) error {
	user, ok := UserFromContext(r.Context())
	if !ok {
		return httpx.Error(http.StatusUnauthorized, errors.New("no authenticated user"))
	}
	var params struct {
		Code  string `schema:"code"`
		State string `schema:"state"`
	}
	if err := httpx.Params(r, &params); err != nil {
		return httpx.Error(http.StatusBadRequest, err)
	}
	cookie, err := r.Cookie(stateCookie)
	if err != nil || params.State == "" || cookie.Value != params.State {
		return httpx.Error(http.StatusBadRequest, errors.New("state mismatch"))
	}

	tok, err := env.SSO.Exchange(r.Context(), params.Code)
	if err != nil {
		return err
	}
	vc, err := env.SSO.Verify(r.Context(), tok.AccessToken)
	if err != nil {
		return err
	}

	char := &models.Character{
		ID:     vc.CharacterID,
		UserID: user.ID,
		Name:   vc.CharacterName,
	}
	if err := models.NewCharacters(env.DB).Upsert(char); err != nil {
		return err
	}
	cred := &models.Credential{
		ID:           snowflake.Now(),
		CharacterID:  vc.CharacterID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry(),
		Scopes:       vc.Scopes,
	}
	if err := models.NewCredentials(env.DB).Create(cred); err != nil {
		return err
	}
	env.Log().Info("character authenticated", "character_id", vc.CharacterID, "user_id", user.ID)
	return httpx.Redirect(w, "/pilots/"+strconv.FormatInt(vc.CharacterID, 10))
}

// Logout removes a character's credentials, revoking the refresh token with
// the SSO on a best-effort basis.
func Logout(env *Env, w http.ResponseWriter, r *http.Request) error {
	user, ok := UserFromContext(r.Context())
	if !ok {
		return httpx.Error(http.StatusUnauthorized, errors.New("no authenticated user"))
	}
	var params struct {
		CharacterID int64 `schema:"character_id" json:"character_id"`
	}
	if err := httpx.Params(r, &params); err != nil {
		return httpx.Error(http.StatusBadRequest, err)
	}
	if _, err := models.NewCharacters(env.DB).FindForUser(params.CharacterID, user.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return httpx.Error(http.StatusNotFound, fmt.Errorf("character %d: not found", params.CharacterID))
		}
		return err
	}

	creds := models.NewCredentials(env.DB)
	if cred, err := creds.Latest(params.CharacterID); err == nil {
		env.SSO.Revoke(r.Context(), cred.RefreshToken)
	}
	if err := creds.DeleteForCharacter(params.CharacterID); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
