package esi

import (
	"context"
	"errors"
	"log/slog"

	"github.com/evetools/waitlist/models"
	"gorm.io/gorm"
)

// Backfiller populates the local type and group tables on demand. Reference
// data is immutable upstream, so rows are written once and never refreshed.
type Backfiller struct {
	db     *gorm.DB
	client *Client
	logger *slog.Logger
}

func NewBackfiller(db *gorm.DB, client *Client, logger *slog.Logger) *Backfiller {
	return &Backfiller{db: db, client: client, logger: logger}
}

// EnsureCached makes sure every listed type ID has a local row, fetching the
// missing ones and their groups from the public API. Individual failures are
// logged and skipped; the next call retries them. Callers never need to
// handle an error here, since a missing type only degrades the display.
func (b *Backfiller) EnsureCached(ctx context.Context, typeIDs []int64) {
	missing, err := models.NewTypes(b.db).MissingIDs(typeIDs)
	if err != nil {
		b.logger.WarnContext(ctx, "type backfill query failed", "error", err)
		return
	}
	for _, id := range missing {
		if err := b.cacheType(ctx, id); err != nil {
			b.logger.WarnContext(ctx, "type backfill failed", "type_id", id, "error", err)
		}
	}
}

func (b *Backfiller) cacheType(ctx context.Context, typeID int64) error {
	var info TypeInfo
	if err := b.client.Do(ctx, GetType(typeID), "", &info); err != nil {
		return err
	}
	group, err := b.ensureGroup(ctx, info.GroupID)
	if err != nil {
		return err
	}

	typ := &models.Type{
		ID:        typeID,
		Name:      info.Name,
		GroupID:   group.ID,
		Published: info.Published,
		IconURL:   TypeIconURL(typeID),
		Mass:      info.Mass,
		Volume:    info.Volume,
		Capacity:  info.Capacity,
	}
	var categoryID int64
	if group.CategoryID != nil {
		categoryID = *group.CategoryID
	}
	ApplySlotData(typ, &info, categoryID)

	_, err = models.NewTypes(b.db).GetOrCreate(typ)
	return err
}

// ensureGroup resolves the group row for a type, fetching it if absent. A
// group pointing at a category we have not imported is stored with a null
// category; the type is still usable, just uncategorised.
func (b *Backfiller) ensureGroup(ctx context.Context, groupID int64) (*models.Group, error) {
	groups := models.NewGroups(b.db)
	group, err := groups.Find(groupID)
	if err == nil {
		return group, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var info GroupInfo
	if err := b.client.Do(ctx, GetGroup(groupID), "", &info); err != nil {
		return nil, err
	}
	group = &models.Group{ID: groupID, Name: info.Name}
	categoryID := info.CategoryID
	_, err = models.NewCategories(b.db).Find(categoryID)
	switch {
	case err == nil:
		group.CategoryID = &categoryID
	case errors.Is(err, gorm.ErrRecordNotFound):
		b.logger.WarnContext(ctx, "group references unimported category",
			"group_id", groupID, "category_id", categoryID)
	default:
		return nil, err
	}
	return groups.GetOrCreate(group)
}
