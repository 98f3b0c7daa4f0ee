// Package waitlist serves the fleet waitlist: fit submission and review,
// fleet registration and the mirrored fleet structure.
package waitlist

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/evetools/waitlist/esi"
	"github.com/evetools/waitlist/esiauth"
	"github.com/evetools/waitlist/internal/httpx"
	"github.com/evetools/waitlist/internal/snowflake"
	"github.com/evetools/waitlist/internal/to"
	"github.com/evetools/waitlist/models"
	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type Env struct {
	*models.Env
	Gateway  *esi.Gateway
	Backfill *esi.Backfiller
}

type fitView struct {
	ID            snowflake.ID     `json:"id"`
	CharacterID   int64            `json:"character_id"`
	CharacterName string           `json:"character_name"`
	ShipTypeID    *int64           `json:"ship_type_id,omitempty"`
	ShipName      string           `json:"ship_name,omitempty"`
	Status        models.FitStatus `json:"status"`
}

type waitlistView struct {
	FleetID snowflake.ID `json:"fleet_id"`
	Open    bool         `json:"open"`
	Fits    []fitView    `json:"fits"`
}

// Show renders the open waitlist with one row per active fit.
func Show(env *Env, w http.ResponseWriter, r *http.Request) error {
	wl, err := models.NewWaitlists(env.DB).Open()
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return httpx.Error(http.StatusNotFound, errors.New("no open waitlist"))
	}
	if err != nil {
		return err
	}
	fits, err := models.NewFits(env.DB).ForWaitlist(wl.FleetID)
	if err != nil {
		return err
	}

	var shipTypeIDs []int64
	for _, fit := range fits {
		if fit.ShipTypeID != nil {
			shipTypeIDs = append(shipTypeIDs, *fit.ShipTypeID)
		}
	}
	types, err := models.NewTypes(env.DB).FindAll(shipTypeIDs)
	if err != nil {
		return err
	}

	view := waitlistView{FleetID: wl.FleetID, Open: wl.Open, Fits: make([]fitView, 0, len(fits))}
	for _, fit := range fits {
		fv := fitView{
			ID:          fit.ID,
			CharacterID: fit.CharacterID,
			ShipTypeID:  fit.ShipTypeID,
			Status:      fit.FitStatus,
		}
		if fit.Character != nil {
			fv.CharacterName = fit.Character.Name
		}
		if fit.ShipTypeID != nil {
			if typ, ok := types[*fit.ShipTypeID]; ok {
				fv.ShipName = typ.Name
			}
		}
		view.Fits = append(view.Fits, fv)
	}
	return to.JSON(w, view)
}

// SubmitFit queues a fit on the open waitlist. Resubmitting replaces the
// character's active fit and resets it to pending.
func SubmitFit(env *Env, w http.ResponseWriter, r *http.Request) error {
	user, ok := esiauth.UserFromContext(r.Context())
	if !ok {
		return httpx.Error(http.StatusUnauthorized, errors.New("no authenticated user"))
	}
	var params struct {
		CharacterID int64  `schema:"character_id" json:"character_id"`
		Raw         string `schema:"raw" json:"raw"`
		ShipTypeID  *int64 `schema:"ship_type_id" json:"ship_type_id"`
	}
	if err := httpx.Params(r, &params); err != nil {
		return httpx.Error(http.StatusBadRequest, err)
	}
	if params.Raw == "" {
		return httpx.Error(http.StatusBadRequest, errors.New("fit is required"))
	}
	if _, err := models.NewCharacters(env.DB).FindForUser(params.CharacterID, user.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return httpx.Error(http.StatusNotFound, fmt.Errorf("character %d: not found", params.CharacterID))
		}
		return err
	}
	wl, err := models.NewWaitlists(env.DB).Open()
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return httpx.Error(http.StatusConflict, errors.New("no open waitlist"))
	}
	if err != nil {
		return err
	}

	fit, err := models.NewFits(env.DB).Submit(&models.Fit{
		CharacterID: params.CharacterID,
		WaitlistID:  wl.FleetID,
		Raw:         params.Raw,
		ShipTypeID:  params.ShipTypeID,
	})
	if err != nil {
		return err
	}
	if params.ShipTypeID != nil {
		env.Backfill.EnsureCached(r.Context(), []int64{*params.ShipTypeID})
	}
	w.WriteHeader(http.StatusCreated)
	return to.JSON(w, fit)
}

// UpdateFitStatus records an FC decision on a fit. FC-only.
func UpdateFitStatus(env *Env, w http.ResponseWriter, r *http.Request) error {
	user, ok := esiauth.UserFromContext(r.Context())
	if !ok {
		return httpx.Error(http.StatusUnauthorized, errors.New("no authenticated user"))
	}
	if !user.Admin {
		return httpx.Error(http.StatusForbidden, errors.New("fleet commanders only"))
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return httpx.Error(http.StatusBadRequest, err)
	}
	var params struct {
		Status string `schema:"status" json:"status"`
		Reason string `schema:"reason" json:"reason"`
	}
	if err := httpx.Params(r, &params); err != nil {
		return httpx.Error(http.StatusBadRequest, err)
	}
	status := models.FitStatus(params.Status)
	switch status {
	case models.FitApproved, models.FitDenied, models.FitInFleet, models.FitPending:
	default:
		return httpx.Error(http.StatusBadRequest, fmt.Errorf("unknown status %q", params.Status))
	}

	fits := models.NewFits(env.DB)
	if _, err := fits.Find(snowflake.ID(id)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return httpx.Error(http.StatusNotFound, fmt.Errorf("fit %d: not found", id))
		}
		return err
	}
	if err := fits.SetStatus(snowflake.ID(id), status, params.Reason); err != nil {
		return err
	}
	fit, err := fits.Find(snowflake.ID(id))
	if err != nil {
		return err
	}
	return to.JSON(w, fit)
}

// CreateFleet registers the fleet the commander's character is currently in
// and opens a waitlist for it. The fleet ID comes from the authenticated
// fleet membership lookup, then the wing/squad structure is mirrored.
func CreateFleet(env *Env, w http.ResponseWriter, r *http.Request) error {
	user, ok := esiauth.UserFromContext(r.Context())
	if !ok {
		return httpx.Error(http.StatusUnauthorized, errors.New("no authenticated user"))
	}
	if !user.Admin {
		return httpx.Error(http.StatusForbidden, errors.New("fleet commanders only"))
	}
	var params struct {
		CharacterID int64  `schema:"character_id" json:"character_id"`
		Description string `schema:"description" json:"description"`
	}
	if err := httpx.Params(r, &params); err != nil {
		return httpx.Error(http.StatusBadRequest, err)
	}
	if _, err := models.NewCharacters(env.DB).FindForUser(params.CharacterID, user.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return httpx.Error(http.StatusNotFound, fmt.Errorf("character %d: not found", params.CharacterID))
		}
		return err
	}

	var membership esi.FleetMembership
	err := env.Gateway.Invoke(r.Context(), params.CharacterID, esi.GetCharacterFleet(params.CharacterID), &membership)
	if esi.KindOf(err) == esi.KindNotFound {
		return httpx.Error(http.StatusConflict, errors.New("character is not in a fleet"))
	}
	if err != nil {
		return err
	}

	fleet := &models.Fleet{
		CommanderID: params.CharacterID,
		ESIFleetID:  membership.FleetID,
		Active:      true,
		Description: params.Description,
	}
	if err := models.NewFleets(env.DB).Create(fleet); err != nil {
		return err
	}
	if _, err := models.NewWaitlists(env.DB).Create(fleet.ID); err != nil {
		return err
	}
	if err := syncStructure(r.Context(), env, fleet); err != nil {
		env.Log().Warn("initial fleet structure sync failed", "fleet_id", fleet.ID, "error", err)
	}
	w.WriteHeader(http.StatusCreated)
	return to.JSON(w, fleet)
}

// FleetStructure re-mirrors the wing and squad layout from the game. Squad
// category assignments survive the rebuild.
func FleetStructure(env *Env, w http.ResponseWriter, r *http.Request) error {
	user, ok := esiauth.UserFromContext(r.Context())
	if !ok {
		return httpx.Error(http.StatusUnauthorized, errors.New("no authenticated user"))
	}
	if !user.Admin {
		return httpx.Error(http.StatusForbidden, errors.New("fleet commanders only"))
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return httpx.Error(http.StatusBadRequest, err)
	}
	fleet, err := models.NewFleets(env.DB).Find(snowflake.ID(id))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return httpx.Error(http.StatusNotFound, fmt.Errorf("fleet %d: not found", id))
	}
	if err != nil {
		return err
	}
	if err := syncStructure(r.Context(), env, fleet); err != nil {
		if esi.KindOf(err) == esi.KindForbidden {
			return httpx.Error(http.StatusForbidden, errors.New("character is not the fleet boss"))
		}
		return err
	}
	fresh, err := models.NewFleets(env.DB).Find(fleet.ID)
	if err != nil {
		return err
	}
	return to.JSON(w, fresh)
}

func syncStructure(ctx context.Context, env *Env, fleet *models.Fleet) error {
	var wings []esi.WingInfo
	err := env.Gateway.Invoke(ctx, fleet.CommanderID, esi.GetFleetWings(fleet.ESIFleetID), &wings)
	if err != nil {
		return err
	}
	sort.Slice(wings, func(i, j int) bool { return wings[i].ID < wings[j].ID })

	mirrored := make([]models.FleetWing, 0, len(wings))
	for _, wing := range wings {
		mw := models.FleetWing{WingID: wing.ID, Name: wing.Name}
		for _, squad := range wing.Squads {
			mw.Squads = append(mw.Squads, models.FleetSquad{SquadID: squad.ID, Name: squad.Name})
		}
		mirrored = append(mirrored, mw)
	}
	return models.NewFleets(env.DB).ReplaceStructure(fleet, mirrored)
}
