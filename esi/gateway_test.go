package esi

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newGateway(db *gorm.DB, u *upstream) *Gateway {
	client := u.client()
	tokens := NewTokenManager(db, u.sso(), client, testLogger())
	return NewGateway(db, client, tokens, testLogger())
}

func TestGatewayInvoke(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	t.Run("passes a valid token through", func(t *testing.T) {
		require := require.New(t)
		u := newUpstream(t)
		u.grantTokens()

		char := createCharacter(t, db, 96001, "Happy")
		cred := createCredential(t, db, char.ID, ScopeReadSkills, time.Now().Add(time.Hour))

		var calls int
		u.handle(fmt.Sprintf("/characters/%d/skills/", char.ID), func(w http.ResponseWriter, r *http.Request) {
			calls++
			require.Equal("Bearer "+cred.AccessToken, r.Header.Get("Authorization"))
			fmt.Fprint(w, `{"skills":[{"skill_id":3327,"active_skill_level":5}],"total_sp":500000}`)
		})

		var out struct {
			TotalSP int64 `json:"total_sp"`
		}
		err := newGateway(db, u).Invoke(ctx, char.ID, GetSkills(char.ID), &out)
		require.NoError(err)
		require.Equal(int64(500000), out.TotalSP)
		require.Equal(1, calls)
		require.Equal(0, u.refreshCalls)
	})

	t.Run("retries once after a rejected token", func(t *testing.T) {
		require := require.New(t)
		u := newUpstream(t)
		u.grantTokens()

		char := createCharacter(t, db, 96002, "Rejected")
		createCredential(t, db, char.ID, ScopeReadSkills, time.Now().Add(time.Hour))

		// the stored token looks valid to us but was revoked upstream:
		// first call 401, the forced refresh produces a token that works
		var calls int
		u.handle(fmt.Sprintf("/characters/%d/skills/", char.ID), func(w http.ResponseWriter, r *http.Request) {
			calls++
			if r.Header.Get("Authorization") != "Bearer fresh-access-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, `{"skills":[],"total_sp":42}`)
		})

		var out struct {
			TotalSP int64 `json:"total_sp"`
		}
		err := newGateway(db, u).Invoke(ctx, char.ID, GetSkills(char.ID), &out)
		require.NoError(err)
		require.Equal(int64(42), out.TotalSP)
		require.Equal(2, calls)
		require.Equal(1, u.refreshCalls)
	})

	t.Run("a second rejection is an auth failure", func(t *testing.T) {
		require := require.New(t)
		u := newUpstream(t)
		u.grantTokens()

		char := createCharacter(t, db, 96003, "DoubleReject")
		createCredential(t, db, char.ID, ScopeReadSkills, time.Now().Add(time.Hour))

		var calls int
		u.handle(fmt.Sprintf("/characters/%d/skills/", char.ID), func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusUnauthorized)
		})

		err := newGateway(db, u).Invoke(ctx, char.ID, GetSkills(char.ID), nil)
		require.Equal(KindAuthFailure, KindOf(err))
		require.Equal(2, calls)
		require.Equal(1, u.refreshCalls)
	})

	t.Run("classifies upstream failures", func(t *testing.T) {
		require := require.New(t)
		u := newUpstream(t)
		u.grantTokens()

		char := createCharacter(t, db, 96004, "Classify")
		createCredential(t, db, char.ID, ScopeReadFleet, time.Now().Add(time.Hour))

		for path, tc := range map[string]struct {
			status int
			want   Kind
		}{
			"/fleets/1/wings/": {http.StatusForbidden, KindForbidden},
			"/fleets/2/wings/": {http.StatusNotFound, KindNotFound},
			"/fleets/3/wings/": {http.StatusInternalServerError, KindUnavailable},
			"/fleets/4/wings/": {http.StatusTeapot, KindUnexpected},
		} {
			status := tc.status
			u.handle(path, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			})
		}
		g := newGateway(db, u)

		for fleetID, want := range map[int64]Kind{
			1: KindForbidden,
			2: KindNotFound,
			3: KindUnavailable,
			4: KindUnexpected,
		} {
			err := g.Invoke(ctx, char.ID, GetFleetWings(fleetID), nil)
			require.Equal(want, KindOf(err), "fleet %d", fleetID)
		}
	})

	t.Run("undecodable body is a payload error", func(t *testing.T) {
		require := require.New(t)
		u := newUpstream(t)
		u.grantTokens()

		char := createCharacter(t, db, 96005, "Garbled")
		createCredential(t, db, char.ID, ScopeReadSkills, time.Now().Add(time.Hour))

		u.handle(fmt.Sprintf("/characters/%d/skills/", char.ID), func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<html>not json</html>`)
		})

		var out struct{}
		err := newGateway(db, u).Invoke(ctx, char.ID, GetSkills(char.ID), &out)
		require.Equal(KindPayload, KindOf(err))
	})

	t.Run("scope enforcement comes from the operation", func(t *testing.T) {
		require := require.New(t)
		u := newUpstream(t)

		char := createCharacter(t, db, 96006, "NoFleetScope")
		createCredential(t, db, char.ID, ScopeReadSkills, time.Now().Add(time.Hour))

		err := newGateway(db, u).Invoke(ctx, char.ID, GetFleetWings(1), nil)
		require.Equal(KindScopeMissing, KindOf(err))
	})
}
