package models

import (
	"time"

	"github.com/evetools/waitlist/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// A Fleet is an in-game fleet registered by its commander.
type Fleet struct {
	snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt    time.Time
	CommanderID  int64       `gorm:"not null"`
	Commander    *Character  `gorm:"<-:false;"`
	ESIFleetID   int64       `gorm:"uniqueIndex;not null"`
	Active       bool        `gorm:"default:true;not null"`
	Description  string      `gorm:"size:255"`
	Wings        []FleetWing `gorm:"constraint:OnDelete:CASCADE;"`
}

// A FleetWing mirrors one wing of the upstream fleet structure.
type FleetWing struct {
	snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	FleetID      snowflake.ID `gorm:"index;not null"`
	WingID       int64        `gorm:"not null"`
	Name         string       `gorm:"size:255"`
	Squads       []FleetSquad `gorm:"constraint:OnDelete:CASCADE;"`
}

// A FleetSquad mirrors one squad. AssignedCategory is a local mapping chosen
// by the commander and survives structure rebuilds.
type FleetSquad struct {
	snowflake.ID     `gorm:"primarykey;autoIncrement:false"`
	FleetWingID      snowflake.ID `gorm:"index;not null"`
	SquadID          int64        `gorm:"not null"`
	Name             string       `gorm:"size:255"`
	AssignedCategory string       `gorm:"size:32"`
}

// A Waitlist is the queue attached to one fleet.
type Waitlist struct {
	FleetID snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	Fleet   *Fleet       `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
	Open    bool         `gorm:"default:true;not null"`
	Fits    []Fit        `gorm:"foreignKey:WaitlistID;constraint:OnDelete:CASCADE;"`
}

// A Fit is one ship fit submitted to a waitlist. The raw fit text is opaque
// to us; the frontend supplies the hull type ID it parsed out.
type Fit struct {
	snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	UpdatedAt    time.Time
	CharacterID  int64        `gorm:"index;not null"`
	Character    *Character   `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
	WaitlistID   snowflake.ID `gorm:"index;not null"`
	Raw          string       `gorm:"type:text;not null"`
	FitStatus    `gorm:"not null;index"`
	ShipTypeID   *int64
	DenialReason string `gorm:"size:255"`
}

type FitStatus string

const (
	FitPending  FitStatus = "PENDING"
	FitApproved FitStatus = "APPROVED"
	FitDenied   FitStatus = "DENIED"
	FitInFleet  FitStatus = "IN_FLEET"
)

func (FitStatus) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql", "postgres":
		return "enum('PENDING', 'APPROVED', 'DENIED', 'IN_FLEET')"
	case "sqlite":
		return "TEXT"
	default:
		return ""
	}
}

type Fleets struct {
	db *gorm.DB
}

func NewFleets(db *gorm.DB) *Fleets {
	return &Fleets{db: db}
}

func (f *Fleets) Find(id snowflake.ID) (*Fleet, error) {
	var fleet Fleet
	if err := f.db.Preload("Commander").First(&fleet, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &fleet, nil
}

func (f *Fleets) Create(fleet *Fleet) error {
	fleet.ID = snowflake.Now()
	return f.db.Create(fleet).Error
}

// ReplaceStructure rebuilds the wing/squad rows from a fresh upstream pull,
// preserving squad category assignments by upstream squad ID.
func (f *Fleets) ReplaceStructure(fleet *Fleet, wings []FleetWing) error {
	return f.db.Transaction(func(tx *gorm.DB) error {
		assigned := make(map[int64]string)
		var squads []FleetSquad
		err := tx.Joins("JOIN fleet_wings ON fleet_wings.id = fleet_squads.fleet_wing_id").
			Where("fleet_wings.fleet_id = ? AND fleet_squads.assigned_category <> ''", fleet.ID).
			Find(&squads).Error
		if err != nil {
			return err
		}
		for _, s := range squads {
			assigned[s.SquadID] = s.AssignedCategory
		}
		if err := tx.Where("fleet_id = ?", fleet.ID).Select("Squads").Delete(&FleetWing{}).Error; err != nil {
			return err
		}
		for i := range wings {
			wings[i].ID = snowflake.Now()
			wings[i].FleetID = fleet.ID
			for j := range wings[i].Squads {
				wings[i].Squads[j].ID = snowflake.Now()
				wings[i].Squads[j].FleetWingID = wings[i].ID
				wings[i].Squads[j].AssignedCategory = assigned[wings[i].Squads[j].SquadID]
			}
			if err := tx.Create(&wings[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

type Waitlists struct {
	db *gorm.DB
}

func NewWaitlists(db *gorm.DB) *Waitlists {
	return &Waitlists{db: db}
}

// Open returns the currently open waitlist, if any.
func (w *Waitlists) Open() (*Waitlist, error) {
	var wl Waitlist
	if err := w.db.Preload("Fleet").First(&wl, "open = ?", true).Error; err != nil {
		return nil, err
	}
	return &wl, nil
}

// Create opens a waitlist for the fleet, closing any other open waitlist
// first. One waitlist at a time keeps pilots from guessing where to queue.
func (w *Waitlists) Create(fleetID snowflake.ID) (*Waitlist, error) {
	wl := &Waitlist{FleetID: fleetID, Open: true}
	err := w.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Waitlist{}).Where("open = ?", true).Update("open", false).Error; err != nil {
			return err
		}
		return tx.Create(wl).Error
	})
	if err != nil {
		return nil, err
	}
	return wl, nil
}

type Fits struct {
	db *gorm.DB
}

func NewFits(db *gorm.DB) *Fits {
	return &Fits{db: db}
}

func (f *Fits) Find(id snowflake.ID) (*Fit, error) {
	var fit Fit
	if err := f.db.First(&fit, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &fit, nil
}

// ForWaitlist returns the fits still relevant to the waitlist view, oldest
// first.
func (f *Fits) ForWaitlist(waitlistID snowflake.ID) ([]Fit, error) {
	var fits []Fit
	err := f.db.Preload("Character").
		Where("waitlist_id = ? AND fit_status IN ?", waitlistID,
			[]FitStatus{FitPending, FitApproved, FitInFleet}).
		Order("id asc").
		Find(&fits).Error
	if err != nil {
		return nil, err
	}
	return fits, nil
}

// Submit creates a fit, or resets the character's existing active fit on the
// same waitlist back to pending with the new raw text.
func (f *Fits) Submit(fit *Fit) (*Fit, error) {
	var existing Fit
	err := f.db.Where("character_id = ? AND waitlist_id = ? AND fit_status IN ?",
		fit.CharacterID, fit.WaitlistID,
		[]FitStatus{FitPending, FitApproved, FitInFleet}).
		First(&existing).Error
	if err == nil {
		updates := map[string]any{
			"raw":           fit.Raw,
			"fit_status":    FitPending,
			"ship_type_id":  fit.ShipTypeID,
			"denial_reason": "",
		}
		if err := f.db.Model(&existing).Updates(updates).Error; err != nil {
			return nil, err
		}
		return f.Find(existing.ID)
	}
	fit.ID = snowflake.Now()
	fit.FitStatus = FitPending
	if err := f.db.Create(fit).Error; err != nil {
		return nil, err
	}
	return fit, nil
}

// SetStatus applies an FC decision.
func (f *Fits) SetStatus(id snowflake.ID, status FitStatus, reason string) error {
	return f.db.Model(&Fit{}).Where("id = ?", id).Updates(map[string]any{
		"fit_status":    status,
		"denial_reason": reason,
	}).Error
}
