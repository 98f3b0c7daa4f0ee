package models

import (
	"errors"
	"time"

	"github.com/go-json-experiment/json"
	"gorm.io/gorm"
)

// A Snapshot holds the last fetched skills and implants payloads for one
// Character, stored as the raw upstream JSON. A failed section refresh leaves
// the prior payload in place; FetchedAt moves only when a write happens.
type Snapshot struct {
	CharacterID  int64      `gorm:"primarykey;autoIncrement:false"`
	Character    *Character `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
	SkillsJSON   []byte
	ImplantsJSON []byte
	FetchedAt    time.Time
}

// Age returns how long ago the snapshot was written. Zero-value snapshots
// report a very large age.
func (s *Snapshot) Age() time.Duration {
	if s.FetchedAt.IsZero() {
		return 1<<63 - 1
	}
	return time.Since(s.FetchedAt)
}

// A SkillEntry is one trained skill in the skills payload.
type SkillEntry struct {
	SkillID          int64 `json:"skill_id"`
	ActiveSkillLevel int   `json:"active_skill_level"`
}

// Skills decodes the stored skills payload. Missing or undecodable payloads
// yield an empty list.
func (s *Snapshot) Skills() []SkillEntry {
	if len(s.SkillsJSON) == 0 {
		return nil
	}
	var payload struct {
		Skills []SkillEntry `json:"skills"`
	}
	if err := json.Unmarshal(s.SkillsJSON, &payload); err != nil {
		return nil
	}
	return payload.Skills
}

// TotalSP returns the stored total skill points, or zero.
func (s *Snapshot) TotalSP() int64 {
	if len(s.SkillsJSON) == 0 {
		return 0
	}
	var payload struct {
		TotalSP int64 `json:"total_sp"`
	}
	if err := json.Unmarshal(s.SkillsJSON, &payload); err != nil {
		return 0
	}
	return payload.TotalSP
}

// ImplantIDs returns the stored implant type IDs, or an empty list.
func (s *Snapshot) ImplantIDs() []int64 {
	if len(s.ImplantsJSON) == 0 {
		return nil
	}
	var ids []int64
	if err := json.Unmarshal(s.ImplantsJSON, &ids); err != nil {
		return nil
	}
	return ids
}

// ReferencedTypeIDs collects every type ID the snapshot mentions, for the
// backfill engine.
func (s *Snapshot) ReferencedTypeIDs() []int64 {
	var ids []int64
	for _, sk := range s.Skills() {
		ids = append(ids, sk.SkillID)
	}
	ids = append(ids, s.ImplantIDs()...)
	return ids
}

type Snapshots struct {
	db *gorm.DB
}

func NewSnapshots(db *gorm.DB) *Snapshots {
	return &Snapshots{db: db}
}

// Find returns the snapshot for a character, or an empty snapshot for that
// character if none has been written yet.
func (s *Snapshots) Find(characterID int64) (*Snapshot, error) {
	var snap Snapshot
	err := s.db.First(&snap, "character_id = ?", characterID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Snapshot{CharacterID: characterID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Save writes the snapshot in a single upsert.
func (s *Snapshots) Save(snap *Snapshot) error {
	return s.db.Save(snap).Error
}
