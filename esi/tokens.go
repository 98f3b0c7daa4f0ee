package esi

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/evetools/waitlist/models"
	"gorm.io/gorm"
)

// TokenManager hands out valid access tokens for stored credentials,
// refreshing them through the SSO when needed.
type TokenManager struct {
	db     *gorm.DB
	sso    *SSO
	client *Client
	logger *slog.Logger
}

func NewTokenManager(db *gorm.DB, sso *SSO, client *Client, logger *slog.Logger) *TokenManager {
	return &TokenManager{db: db, sso: sso, client: client, logger: logger}
}

// EnsureValid returns a usable access token for the character, refreshing the
// stored credential if its access token has expired.
//
// The scope check runs before the expiry check: a credential that can never
// serve the request fails fast with KindScopeMissing instead of burning an
// SSO round trip. A refresh rejected by the SSO means the refresh token has
// been revoked; the credential row is deleted and KindAuthFailure returned.
func (tm *TokenManager) EnsureValid(ctx context.Context, characterID int64, scopes []string) (string, error) {
	creds := models.NewCredentials(tm.db)
	cred, err := creds.Latest(characterID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", &Error{Kind: KindCredentialNotFound, Err: err}
	}
	if err != nil {
		return "", &Error{Kind: KindUnexpected, Err: err}
	}

	if missing := cred.MissingScopes(scopes); len(missing) > 0 {
		return "", &Error{Kind: KindScopeMissing, Missing: missing}
	}
	if !cred.Expired() {
		return cred.AccessToken, nil
	}

	tok, err := tm.sso.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		if KindOf(err) == KindAuthFailure {
			if derr := creds.Delete(cred.ID); derr != nil {
				tm.logger.WarnContext(ctx, "failed to delete revoked credential",
					"character_id", characterID, "error", derr)
			}
		}
		return "", err
	}
	if err := creds.UpdateAccess(cred.ID, tok.AccessToken, tok.Expiry()); err != nil {
		return "", &Error{Kind: KindUnexpected, Err: err}
	}

	tm.refreshAffiliation(ctx, characterID)
	return tok.AccessToken, nil
}

// refreshAffiliation re-fetches public corporation/alliance data after a
// successful token refresh. Purely opportunistic: any failure is logged and
// swallowed so it can never break the call that triggered the refresh.
func (tm *TokenManager) refreshAffiliation(ctx context.Context, characterID int64) {
	var info CharacterInfo
	if err := tm.client.Do(ctx, GetCharacter(characterID), "", &info); err != nil {
		tm.logger.DebugContext(ctx, "affiliation refresh skipped", "character_id", characterID, "error", err)
		return
	}
	var corp CorporationInfo
	if err := tm.client.Do(ctx, GetCorporation(info.CorporationID), "", &corp); err != nil {
		tm.logger.DebugContext(ctx, "affiliation refresh skipped", "character_id", characterID, "error", err)
		return
	}
	var allianceName string
	if info.AllianceID != 0 {
		var alliance AllianceInfo
		if err := tm.client.Do(ctx, GetAlliance(info.AllianceID), "", &alliance); err != nil {
			tm.logger.DebugContext(ctx, "affiliation refresh skipped", "character_id", characterID, "error", err)
			return
		}
		allianceName = alliance.Name
	}
	err := models.NewCharacters(tm.db).UpdateAffiliation(characterID, info.CorporationID, corp.Name, info.AllianceID, allianceName)
	if err != nil {
		tm.logger.DebugContext(ctx, "affiliation refresh skipped", "character_id", characterID, "error", err)
	}
}

// SweepStale walks credentials that have sat expired for longer than
// olderThan and tries to refresh each. Characters whose refresh tokens turn
// out to be revoked are deleted, cascading to their credentials and
// snapshots. Superseded credential rows (an older row for a character that
// has since re-authenticated) are pruned along the way.
func (tm *TokenManager) SweepStale(ctx context.Context, olderThan time.Duration) error {
	creds := models.NewCredentials(tm.db)
	stale, err := creds.Stale(time.Now().Add(-olderThan))
	if err != nil {
		return err
	}
	for _, cred := range stale {
		latest, err := creds.Latest(cred.CharacterID)
		if err != nil {
			return err
		}
		if latest.ID != cred.ID {
			if err := creds.Delete(cred.ID); err != nil {
				return err
			}
			continue
		}
		_, err = tm.EnsureValid(ctx, cred.CharacterID, nil)
		switch KindOf(err) {
		case KindAuthFailure:
			tm.logger.InfoContext(ctx, "removing character with revoked credentials",
				"character_id", cred.CharacterID)
			if err := models.NewCharacters(tm.db).Delete(cred.CharacterID); err != nil {
				return err
			}
		case KindUnavailable:
			// upstream trouble, try again on the next sweep
			return err
		default:
			if err != nil {
				tm.logger.WarnContext(ctx, "credential sweep refresh failed",
					"character_id", cred.CharacterID, "error", err)
			}
		}
	}
	return nil
}
