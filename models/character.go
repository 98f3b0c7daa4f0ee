package models

import (
	"errors"
	"time"

	"github.com/evetools/waitlist/internal/snowflake"
	"gorm.io/gorm"
)

// A Character is one EVE character bound to a local User. The ID is
// CCP-assigned and stable. Deleting a Character cascades to its Credentials,
// Snapshot and Fits, which is how a revoked refresh token tears down the
// whole identity.
type Character struct {
	ID              int64 `gorm:"primarykey;autoIncrement:false"`
	UpdatedAt       time.Time
	UserID          snowflake.ID `gorm:"index;not null"`
	User            *User        `gorm:"constraint:OnDelete:CASCADE;<-:create;"`
	Name            string       `gorm:"size:255;not null"`
	CorporationID   int64
	CorporationName string `gorm:"size:255"`
	AllianceID      int64
	AllianceName    string `gorm:"size:255"`
	Credentials     []Credential `gorm:"constraint:OnDelete:CASCADE;"`
}

type Characters struct {
	db *gorm.DB
}

func NewCharacters(db *gorm.DB) *Characters {
	return &Characters{db: db}
}

func (c *Characters) Find(id int64) (*Character, error) {
	var char Character
	if err := c.db.First(&char, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &char, nil
}

// FindForUser returns the character only if it belongs to the given user.
func (c *Characters) FindForUser(id int64, userID snowflake.ID) (*Character, error) {
	var char Character
	if err := c.db.First(&char, "id = ? and user_id = ?", id, userID).Error; err != nil {
		return nil, err
	}
	return &char, nil
}

// Upsert creates the character or, if it already exists, re-binds it and
// refreshes its name. Re-authenticating an existing character must not fail.
func (c *Characters) Upsert(char *Character) error {
	existing, err := c.Find(char.ID)
	switch {
	case err == nil:
		return c.db.Model(existing).Updates(map[string]any{
			"user_id": char.UserID,
			"name":    char.Name,
		}).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		return c.db.Create(char).Error
	default:
		return err
	}
}

// UpdateAffiliation stores freshly fetched public corporation/alliance data.
func (c *Characters) UpdateAffiliation(id int64, corpID int64, corpName string, allianceID int64, allianceName string) error {
	return c.db.Model(&Character{}).Where("id = ?", id).Updates(map[string]any{
		"corporation_id":   corpID,
		"corporation_name": corpName,
		"alliance_id":      allianceID,
		"alliance_name":    allianceName,
	}).Error
}

// Delete removes the character and, via cascade, its credentials.
func (c *Characters) Delete(id int64) error {
	return c.db.Select("Credentials").Delete(&Character{ID: id}).Error
}
