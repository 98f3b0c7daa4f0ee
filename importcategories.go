package main

import (
	"context"

	"github.com/evetools/waitlist/esi"
	"github.com/evetools/waitlist/models"
	"gorm.io/gorm"
)

// ImportCategoriesCmd bulk imports the category table from the public API.
// The backfill engine never writes categories, it only reads them, so this
// runs once at install time and again whenever CCP adds a category.
type ImportCategoriesCmd struct {
}

func (i *ImportCategoriesCmd) Run(ctx *Context) error {
	db, err := gorm.Open(ctx.Dialector, &ctx.Config)
	if err != nil {
		return err
	}

	client := esi.NewClient(ctx.Logger)
	runCtx := context.Background()

	var ids []int64
	if err := client.Do(runCtx, esi.GetCategories(), "", &ids); err != nil {
		return err
	}
	categories := models.NewCategories(db)
	for _, id := range ids {
		var info esi.CategoryInfo
		if err := client.Do(runCtx, esi.GetCategory(id), "", &info); err != nil {
			return err
		}
		err := categories.Upsert(&models.Category{
			ID:        id,
			Name:      info.Name,
			Published: info.Published,
		})
		if err != nil {
			return err
		}
		ctx.Logger.Debug("imported category", "category_id", id, "name", info.Name)
	}
	ctx.Logger.Info("category import complete", "count", len(ids))
	return nil
}
