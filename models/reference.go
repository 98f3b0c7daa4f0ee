package models

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// The reference cache is a local, append-only mirror of the upstream
// type/group/category taxonomy. Categories are bulk-imported offline;
// types and groups arrive lazily through the backfill engine.

// A Category is the top level of the taxonomy (Ship, Module, Skill, ...).
// Rows are written only by the import-categories command; everything else
// treats this table as read-only.
type Category struct {
	ID        int64  `gorm:"primarykey;autoIncrement:false"`
	Name      string `gorm:"size:255;not null"`
	Published bool   `gorm:"default:true;not null"`
}

// A Group belongs to a Category. The category reference is nullable: a group
// fetched before its category was imported is still usable, just uncategorised.
type Group struct {
	ID         int64  `gorm:"primarykey;autoIncrement:false"`
	Name       string `gorm:"size:255;not null"`
	CategoryID *int64
	Category   *Category `gorm:"<-:false;"`
}

// A Type is one catalog item (skill, module, hull, implant). A Type is never
// created without a resolved Group.
type Type struct {
	ID      int64  `gorm:"primarykey;autoIncrement:false"`
	Name    string `gorm:"size:255;not null"`
	GroupID int64  `gorm:"not null"`
	Group   *Group `gorm:"<-:false;"`

	Published bool   `gorm:"default:true;not null"`
	IconURL   string `gorm:"size:255"`

	Mass     *float64
	Volume   *float64
	Capacity *float64

	// ImplantSlot is the implant slot number, when the type is an implant.
	ImplantSlot *int

	// SlotType is where a module fits: high, mid, low, rig, subsystem or drone.
	SlotType string `gorm:"size:10;index"`

	// Ship slot layout.
	HiSlots        *int
	MedSlots       *int
	LowSlots       *int
	RigSlots       *int
	SubsystemSlots *int
}

type Categories struct {
	db *gorm.DB
}

func NewCategories(db *gorm.DB) *Categories {
	return &Categories{db: db}
}

func (c *Categories) Find(id int64) (*Category, error) {
	var cat Category
	if err := c.db.First(&cat, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &cat, nil
}

// Upsert inserts or refreshes a category row, used by the bulk import.
func (c *Categories) Upsert(cat *Category) error {
	return c.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(cat).Error
}

type Groups struct {
	db *gorm.DB
}

func NewGroups(db *gorm.DB) *Groups {
	return &Groups{db: db}
}

func (g *Groups) Find(id int64) (*Group, error) {
	var group Group
	if err := g.db.First(&group, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &group, nil
}

// GetOrCreate inserts the group if absent, keyed on its upstream ID. Two
// concurrent backfills may race here; the insert is a single
// insert-if-absent statement and the loser reads back the winner's row.
func (g *Groups) GetOrCreate(group *Group) (*Group, error) {
	err := g.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(group).Error
	if err != nil {
		return nil, err
	}
	return g.Find(group.ID)
}

type Types struct {
	db *gorm.DB
}

func NewTypes(db *gorm.DB) *Types {
	return &Types{db: db}
}

func (t *Types) Find(id int64) (*Type, error) {
	var typ Type
	if err := t.db.Preload("Group").First(&typ, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &typ, nil
}

// FindAll returns the cached types for the given IDs, with groups preloaded.
// IDs that are not cached are simply absent from the result.
func (t *Types) FindAll(ids []int64) (map[int64]*Type, error) {
	var types []*Type
	if err := t.db.Preload("Group").Where("id IN ?", ids).Find(&types).Error; err != nil {
		return nil, err
	}
	byID := make(map[int64]*Type, len(types))
	for _, typ := range types {
		byID[typ.ID] = typ
	}
	return byID, nil
}

// MissingIDs returns the subset of ids with no Type row yet.
func (t *Types) MissingIDs(ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var existing []int64
	if err := t.db.Model(&Type{}).Where("id IN ?", ids).Pluck("id", &existing).Error; err != nil {
		return nil, err
	}
	seen := make(map[int64]bool, len(existing))
	for _, id := range existing {
		seen[id] = true
	}
	var missing []int64
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true // also dedupes the input
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// GetOrCreate inserts the type if absent, keyed on its upstream ID, with the
// same race rules as Groups.GetOrCreate.
func (t *Types) GetOrCreate(typ *Type) (*Type, error) {
	err := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(typ).Error
	if err != nil {
		return nil, err
	}
	return t.Find(typ.ID)
}

// MissingSlotData returns types that have neither ship slot counts nor a
// module slot classification, candidates for the slot backfill command.
func (t *Types) MissingSlotData() ([]Type, error) {
	var types []Type
	err := t.db.Preload("Group").
		Where("hi_slots IS NULL AND slot_type = ''").
		Find(&types).Error
	if err != nil {
		return nil, err
	}
	return types, nil
}

// UpdateSlots writes the slot columns extracted from dogma attributes.
func (t *Types) UpdateSlots(typ *Type) error {
	return t.db.Model(&Type{}).Where("id = ?", typ.ID).Updates(map[string]any{
		"implant_slot":    typ.ImplantSlot,
		"slot_type":       typ.SlotType,
		"hi_slots":        typ.HiSlots,
		"med_slots":       typ.MedSlots,
		"low_slots":       typ.LowSlots,
		"rig_slots":       typ.RigSlots,
		"subsystem_slots": typ.SubsystemSlots,
	}).Error
}
