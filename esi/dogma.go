package esi

import "github.com/evetools/waitlist/models"

// Dogma attribute IDs that carry slot information.
const (
	attrLowSlots       = 12
	attrMedSlots       = 13
	attrHiSlots        = 14
	attrImplantness    = 300
	attrRigSlots       = 1137
	attrSubsystemSlots = 1367

	attrFitsHighSlot      = 125
	attrFitsMidSlot       = 126
	attrFitsLowSlot       = 127
	attrFitsRigSlot       = 1154
	attrFitsSubsystemSlot = 1373
)

const categoryDrone = 18

// ApplySlotData fills the slot columns of typ from the type's dogma
// attributes. Drones have no fitting attributes and are classified by their
// category instead.
func ApplySlotData(typ *models.Type, info *TypeInfo, categoryID int64) {
	attrs := make(map[int64]float64, len(info.DogmaAttributes))
	for _, a := range info.DogmaAttributes {
		attrs[a.AttributeID] = a.Value
	}

	if v, ok := attrs[attrHiSlots]; ok {
		typ.HiSlots = intp(v)
	}
	if v, ok := attrs[attrMedSlots]; ok {
		typ.MedSlots = intp(v)
	}
	if v, ok := attrs[attrLowSlots]; ok {
		typ.LowSlots = intp(v)
	}
	if v, ok := attrs[attrRigSlots]; ok {
		typ.RigSlots = intp(v)
	}
	if v, ok := attrs[attrSubsystemSlots]; ok {
		typ.SubsystemSlots = intp(v)
	}

	if v, ok := attrs[attrImplantness]; ok {
		typ.ImplantSlot = intp(v)
	}

	if categoryID == categoryDrone {
		typ.SlotType = "drone"
		return
	}
	// First matching fitting attribute wins.
	for _, slot := range []struct {
		attr int64
		name string
	}{
		{attrFitsHighSlot, "high"},
		{attrFitsMidSlot, "mid"},
		{attrFitsLowSlot, "low"},
		{attrFitsRigSlot, "rig"},
		{attrFitsSubsystemSlot, "subsystem"},
	} {
		if _, ok := attrs[slot.attr]; ok {
			typ.SlotType = slot.name
			return
		}
	}
}

func intp(v float64) *int {
	i := int(v)
	return &i
}
