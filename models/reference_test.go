package models

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReferenceCache(t *testing.T) {
	db := setupTestDB(t)

	t.Run("GetOrCreate is idempotent", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		groups := NewGroups(tx)
		first, err := groups.GetOrCreate(&Group{ID: 25, Name: "Frigate"})
		require.NoError(err)
		second, err := groups.GetOrCreate(&Group{ID: 25, Name: "Something Else"})
		require.NoError(err)

		// the loser reads back the winner's row
		require.Equal(first.ID, second.ID)
		require.Equal("Frigate", second.Name)
	})

	t.Run("concurrent GetOrCreate settles on one row", func(t *testing.T) {
		require := require.New(t)

		hi := 4
		_, err := NewGroups(db).GetOrCreate(&Group{ID: 25, Name: "Frigate"})
		require.NoError(err)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := NewTypes(db).GetOrCreate(&Type{ID: 587, Name: "Rifter", GroupID: 25, HiSlots: &hi})
				require.NoError(err)
			}()
		}
		wg.Wait()

		var count int64
		require.NoError(db.Model(&Type{}).Where("id = ?", 587).Count(&count).Error)
		require.Equal(int64(1), count)
	})

	t.Run("MissingIDs diffs and dedupes", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		_, err := NewGroups(tx).GetOrCreate(&Group{ID: 258, Name: "Spaceship Command"})
		require.NoError(err)
		types := NewTypes(tx)
		_, err = types.GetOrCreate(&Type{ID: 3327, Name: "Spaceship Command", GroupID: 258})
		require.NoError(err)

		missing, err := types.MissingIDs([]int64{3327, 12011, 12011, 3327})
		require.NoError(err)
		require.Equal([]int64{12011}, missing)

		missing, err = types.MissingIDs(nil)
		require.NoError(err)
		require.Empty(missing)
	})

	t.Run("Upsert refreshes a category", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		categories := NewCategories(tx)
		require.NoError(categories.Upsert(&Category{ID: 6, Name: "Ship"}))
		require.NoError(categories.Upsert(&Category{ID: 6, Name: "Ships", Published: true}))

		cat, err := categories.Find(6)
		require.NoError(err)
		require.Equal("Ships", cat.Name)
	})

	t.Run("MissingSlotData skips types with slot info", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		groups := NewGroups(tx)
		_, err := groups.GetOrCreate(&Group{ID: 419, Name: "Combat Battlecruiser"})
		require.NoError(err)
		_, err = groups.GetOrCreate(&Group{ID: 60, Name: "Damage Control"})
		require.NoError(err)

		types := NewTypes(tx)
		hi := 8
		_, err = types.GetOrCreate(&Type{ID: 24698, Name: "Drake", GroupID: 419, HiSlots: &hi})
		require.NoError(err)
		_, err = types.GetOrCreate(&Type{ID: 2048, Name: "Damage Control II", GroupID: 60, SlotType: "low"})
		require.NoError(err)
		_, err = types.GetOrCreate(&Type{ID: 99001, Name: "Mystery Module", GroupID: 60})
		require.NoError(err)

		candidates, err := types.MissingSlotData()
		require.NoError(err)
		require.Len(candidates, 1)
		require.Equal(int64(99001), candidates[0].ID)
	})
}
