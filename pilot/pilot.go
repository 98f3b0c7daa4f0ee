// Package pilot serves the character sheet view: skills grouped by their
// catalog group, implants and total skill points, backed by the snapshot
// store.
package pilot

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/evetools/waitlist/esi"
	"github.com/evetools/waitlist/esiauth"
	"github.com/evetools/waitlist/internal/httpx"
	"github.com/evetools/waitlist/internal/to"
	"github.com/evetools/waitlist/models"
	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type Env struct {
	*models.Env
	Refresher *esi.Refresher
}

type Skill struct {
	TypeID  int64  `json:"type_id"`
	Name    string `json:"name"`
	Level   int    `json:"level"`
	IconURL string `json:"icon_url,omitempty"`
}

type SkillGroup struct {
	Name   string  `json:"name"`
	Skills []Skill `json:"skills"`
}

type Implant struct {
	TypeID  int64  `json:"type_id"`
	Name    string `json:"name"`
	Slot    *int   `json:"slot,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

type Pilot struct {
	CharacterID int64        `json:"character_id"`
	Name        string       `json:"name"`
	Corporation string       `json:"corporation,omitempty"`
	Alliance    string       `json:"alliance,omitempty"`
	TotalSP     int64        `json:"total_sp"`
	FetchedAt   time.Time    `json:"fetched_at"`
	SkillGroups []SkillGroup `json:"skill_groups"`
	Implants    []Implant    `json:"implants"`
	Warnings    []string     `json:"warnings,omitempty"`
}

// Show renders the character sheet. A stale snapshot triggers a refresh
// first; if only part of the refresh succeeds the sheet is served anyway
// with a warning per failed section. A revoked credential tears the
// character down.
func Show(env *Env, w http.ResponseWriter, r *http.Request) error {
	user, ok := esiauth.UserFromContext(r.Context())
	if !ok {
		return httpx.Error(http.StatusUnauthorized, errors.New("no authenticated user"))
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return httpx.Error(http.StatusBadRequest, err)
	}
	char, err := models.NewCharacters(env.DB).FindForUser(id, user.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return httpx.Error(http.StatusNotFound, fmt.Errorf("character %d: not found", id))
	}
	if err != nil {
		return err
	}

	snap, err := models.NewSnapshots(env.DB).Find(id)
	if err != nil {
		return err
	}
	var warnings []string
	if env.Refresher.NeedsRefresh(snap, esi.SectionSkills, esi.SectionImplants) {
		fresh, err := env.Refresher.Refresh(r.Context(), id)
		var re *esi.RefreshError
		switch {
		case err == nil:
			snap = fresh
		case errors.As(err, &re):
			snap = fresh
			for section, serr := range re.Sections {
				env.Log().Warn("serving stale snapshot section",
					"character_id", id, "section", string(section), "error", serr)
				warnings = append(warnings, fmt.Sprintf("%s data may be out of date", section))
			}
			sort.Strings(warnings)
		case esi.KindOf(err) == esi.KindAuthFailure:
			env.Log().Info("deleting character with revoked credentials", "character_id", id)
			if derr := models.NewCharacters(env.DB).Delete(id); derr != nil {
				return derr
			}
			return err
		default:
			return err
		}
		// the public section may have rewritten the affiliation columns
		if refreshed, ferr := models.NewCharacters(env.DB).FindForUser(id, user.ID); ferr == nil {
			char = refreshed
		}
	}

	types, err := models.NewTypes(env.DB).FindAll(snap.ReferencedTypeIDs())
	if err != nil {
		return err
	}
	pilot := &Pilot{
		CharacterID: char.ID,
		Name:        char.Name,
		Corporation: char.CorporationName,
		Alliance:    char.AllianceName,
		TotalSP:     snap.TotalSP(),
		FetchedAt:   snap.FetchedAt,
		SkillGroups: groupSkills(snap.Skills(), types),
		Implants:    implants(snap.ImplantIDs(), types),
		Warnings:    warnings,
	}
	return to.JSON(w, pilot)
}

// groupSkills buckets the snapshot's skills by their catalog group. Skills
// whose types are not cached yet land in an "Unknown" bucket and resolve on
// a later view, once the backfiller has caught up.
func groupSkills(entries []models.SkillEntry, types map[int64]*models.Type) []SkillGroup {
	buckets := make(map[string][]Skill)
	for _, entry := range entries {
		skill := Skill{TypeID: entry.SkillID, Level: entry.ActiveSkillLevel}
		groupName := "Unknown"
		if typ, ok := types[entry.SkillID]; ok {
			skill.Name = typ.Name
			skill.IconURL = typ.IconURL
			if typ.Group != nil {
				groupName = typ.Group.Name
			}
		}
		buckets[groupName] = append(buckets[groupName], skill)
	}
	groups := make([]SkillGroup, 0, len(buckets))
	for name, skills := range buckets {
		sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
		groups = append(groups, SkillGroup{Name: name, Skills: skills})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups
}

func implants(ids []int64, types map[int64]*models.Type) []Implant {
	out := make([]Implant, 0, len(ids))
	for _, id := range ids {
		implant := Implant{TypeID: id}
		if typ, ok := types[id]; ok {
			implant.Name = typ.Name
			implant.Slot = typ.ImplantSlot
			implant.IconURL = typ.IconURL
		}
		out = append(out, implant)
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := 0, 0
		if out[i].Slot != nil {
			si = *out[i].Slot
		}
		if out[j].Slot != nil {
			sj = *out[j].Slot
		}
		return si < sj
	})
	return out
}
