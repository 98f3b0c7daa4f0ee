package models

import (
	"strings"
	"time"

	"github.com/evetools/waitlist/internal/snowflake"
	"gorm.io/gorm"
)

// A Credential is the SSO access/refresh token pair for one Character.
// A Character may accumulate several rows as it re-authenticates; the row
// with the highest ID is the active one. Snowflake IDs are time-ordered, so
// "latest by creation" is an ORDER BY id DESC.
type Credential struct {
	snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CharacterID  int64      `gorm:"index;not null"`
	Character    *Character `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
	AccessToken  string     `gorm:"type:text;not null"`
	RefreshToken string     `gorm:"type:text;not null"`
	ExpiresAt    time.Time  `gorm:"not null"`
	Scopes       string     `gorm:"type:text;not null"`
}

// Expired reports whether the access token has passed its expiry.
func (c *Credential) Expired() bool {
	return !time.Now().Before(c.ExpiresAt)
}

// ScopeSet returns the granted scopes as a set.
func (c *Credential) ScopeSet() map[string]bool {
	set := make(map[string]bool)
	for _, s := range strings.Fields(c.Scopes) {
		set[s] = true
	}
	return set
}

// MissingScopes returns the required scopes not granted to this credential.
func (c *Credential) MissingScopes(required []string) []string {
	granted := c.ScopeSet()
	var missing []string
	for _, s := range required {
		if !granted[s] {
			missing = append(missing, s)
		}
	}
	return missing
}

type Credentials struct {
	db *gorm.DB
}

func NewCredentials(db *gorm.DB) *Credentials {
	return &Credentials{db: db}
}

// Latest returns the most recently created credential for a character.
func (c *Credentials) Latest(characterID int64) (*Credential, error) {
	var cred Credential
	err := c.db.Where("character_id = ?", characterID).
		Order("id desc").
		First(&cred).Error
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (c *Credentials) Create(cred *Credential) error {
	return c.db.Create(cred).Error
}

// UpdateAccess replaces the access token and expiry of a credential in a
// single write keyed on the primary key. Two concurrent refreshers may both
// issue this update; both succeed and the last write wins, which is the
// intended outcome since either refreshed token is valid. The refresh token
// is left untouched.
func (c *Credentials) UpdateAccess(id snowflake.ID, accessToken string, expiresAt time.Time) error {
	return c.db.Model(&Credential{}).Where("id = ?", id).Updates(map[string]any{
		"access_token": accessToken,
		"expires_at":   expiresAt,
	}).Error
}

// ExpireLatest forces the active credential for a character to look expired,
// so the next EnsureValid performs a refresh.
func (c *Credentials) ExpireLatest(characterID int64) error {
	cred, err := c.Latest(characterID)
	if err != nil {
		return err
	}
	return c.db.Model(cred).Update("expires_at", time.Now().Add(-time.Minute)).Error
}

// Delete removes a credential whose refresh token has been revoked.
func (c *Credentials) Delete(id snowflake.ID) error {
	return c.db.Delete(&Credential{ID: id}).Error
}

// DeleteForCharacter removes every credential row for a character.
func (c *Credentials) DeleteForCharacter(characterID int64) error {
	return c.db.Where("character_id = ?", characterID).Delete(&Credential{}).Error
}

// Stale returns credentials whose expiry is older than the cutoff, used by
// the background refresh sweep.
func (c *Credentials) Stale(cutoff time.Time) ([]Credential, error) {
	var creds []Credential
	if err := c.db.Where("expires_at < ?", cutoff).Find(&creds).Error; err != nil {
		return nil, err
	}
	return creds, nil
}
