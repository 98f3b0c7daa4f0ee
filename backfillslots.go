package main

import (
	"context"

	"github.com/evetools/waitlist/esi"
	"github.com/evetools/waitlist/models"
	"gorm.io/gorm"
)

// BackfillSlotsCmd re-derives slot data for cached types that were written
// before slot extraction existed. New types get their slot data at cache
// time; this is a one-off repair for old rows.
type BackfillSlotsCmd struct {
}

func (b *BackfillSlotsCmd) Run(ctx *Context) error {
	db, err := gorm.Open(ctx.Dialector, &ctx.Config)
	if err != nil {
		return err
	}

	client := esi.NewClient(ctx.Logger)
	runCtx := context.Background()

	types := models.NewTypes(db)
	candidates, err := types.MissingSlotData()
	if err != nil {
		return err
	}
	var updated int
	for _, typ := range candidates {
		var info esi.TypeInfo
		if err := client.Do(runCtx, esi.GetType(typ.ID), "", &info); err != nil {
			ctx.Logger.Warn("slot backfill failed", "type_id", typ.ID, "error", err)
			continue
		}
		var categoryID int64
		if typ.Group != nil && typ.Group.CategoryID != nil {
			categoryID = *typ.Group.CategoryID
		}
		esi.ApplySlotData(&typ, &info, categoryID)
		if err := types.UpdateSlots(&typ); err != nil {
			return err
		}
		updated++
	}
	ctx.Logger.Info("slot backfill complete", "updated", updated, "candidates", len(candidates))
	return nil
}
