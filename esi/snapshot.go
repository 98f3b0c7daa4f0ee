package esi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/evetools/waitlist/models"
	"github.com/go-json-experiment/json"
	"gorm.io/gorm"
)

// SnapshotMaxAge is how long a stored snapshot is served before a refresh is
// attempted.
const SnapshotMaxAge = time.Hour

// A Section is one independently fetched part of a refresh.
type Section string

const (
	SectionSkills   Section = "skills"
	SectionImplants Section = "implants"

	// SectionPublic re-fetches unauthenticated affiliation data onto the
	// character row rather than the snapshot.
	SectionPublic Section = "public"
)

// AllSections is what Refresh pulls when the caller names none.
var AllSections = []Section{SectionSkills, SectionImplants, SectionPublic}

// A RefreshError reports the sections that could not be refreshed. The
// snapshot itself may still have been written with the sections that
// succeeded.
type RefreshError struct {
	Sections map[Section]error
}

func (e *RefreshError) Error() string {
	names := make([]string, 0, len(e.Sections))
	for s := range e.Sections {
		names = append(names, string(s))
	}
	sort.Strings(names)
	return fmt.Sprintf("snapshot refresh incomplete: %s", strings.Join(names, ", "))
}

// Refresher keeps character snapshots current and feeds newly referenced
// type IDs into the backfiller.
type Refresher struct {
	db       *gorm.DB
	client   *Client
	gateway  *Gateway
	backfill *Backfiller
	logger   *slog.Logger
}

func NewRefresher(db *gorm.DB, client *Client, gateway *Gateway, backfill *Backfiller, logger *slog.Logger) *Refresher {
	return &Refresher{db: db, client: client, gateway: gateway, backfill: backfill, logger: logger}
}

// NeedsRefresh reports whether the stored snapshot is stale, or is missing
// the payload for a requested section.
func (r *Refresher) NeedsRefresh(snap *models.Snapshot, sections ...Section) bool {
	if snap.Age() > SnapshotMaxAge {
		return true
	}
	for _, section := range sections {
		switch section {
		case SectionSkills:
			if len(snap.SkillsJSON) == 0 {
				return true
			}
		case SectionImplants:
			if len(snap.ImplantsJSON) == 0 {
				return true
			}
		}
	}
	return false
}

// Refresh pulls the named sections for the character, all of them by
// default, and stores whatever succeeded. A section that fails keeps its
// previously stored payload; FetchedAt only advances when at least one
// snapshot section was written.
//
// Auth-level failures abort immediately, since a dead credential cannot
// serve any authenticated section. Per-section failures, a 502 on implants
// say, come back as a *RefreshError alongside the partially updated
// snapshot.
func (r *Refresher) Refresh(ctx context.Context, characterID int64, sections ...Section) (*models.Snapshot, error) {
	if len(sections) == 0 {
		sections = AllSections
	}
	snap, err := models.NewSnapshots(r.db).Find(characterID)
	if err != nil {
		return nil, err
	}

	failures := make(map[Section]error)
	wrote := false
	for _, section := range sections {
		var err error
		switch section {
		case SectionSkills:
			var raw []byte
			raw, err = r.fetchSection(ctx, characterID, GetSkills(characterID), validateSkills)
			if err == nil {
				snap.SkillsJSON = raw
				wrote = true
			}
		case SectionImplants:
			var raw []byte
			raw, err = r.fetchSection(ctx, characterID, GetImplants(characterID), validateImplants)
			if err == nil {
				snap.ImplantsJSON = raw
				wrote = true
			}
		case SectionPublic:
			err = r.refreshPublic(ctx, characterID)
		default:
			err = &Error{Kind: KindUnexpected, Err: fmt.Errorf("unknown section %q", section)}
		}
		if err != nil {
			switch KindOf(err) {
			case KindAuthFailure, KindCredentialNotFound:
				return nil, err
			}
			failures[section] = err
		}
	}

	if wrote {
		snap.FetchedAt = time.Now()
		if err := models.NewSnapshots(r.db).Save(snap); err != nil {
			return nil, err
		}
		r.backfill.EnsureCached(ctx, snap.ReferencedTypeIDs())
	}
	if len(failures) > 0 {
		return snap, &RefreshError{Sections: failures}
	}
	return snap, nil
}

func (r *Refresher) fetchSection(ctx context.Context, characterID int64, op Operation, validate func([]byte) error) ([]byte, error) {
	raw, err := r.gateway.InvokeRaw(ctx, characterID, op)
	if err != nil {
		return nil, err
	}
	if err := validate(raw); err != nil {
		return nil, &Error{Kind: KindPayload, Operation: op.ID, Err: err}
	}
	return raw, nil
}

// refreshPublic updates the character's affiliation columns from the public
// endpoints. No credential involved.
func (r *Refresher) refreshPublic(ctx context.Context, characterID int64) error {
	var info CharacterInfo
	if err := r.client.Do(ctx, GetCharacter(characterID), "", &info); err != nil {
		return err
	}
	var corp CorporationInfo
	if err := r.client.Do(ctx, GetCorporation(info.CorporationID), "", &corp); err != nil {
		return err
	}
	var allianceName string
	if info.AllianceID != 0 {
		var alliance AllianceInfo
		if err := r.client.Do(ctx, GetAlliance(info.AllianceID), "", &alliance); err != nil {
			return err
		}
		allianceName = alliance.Name
	}
	return models.NewCharacters(r.db).UpdateAffiliation(characterID, info.CorporationID, corp.Name, info.AllianceID, allianceName)
}

// validateSkills rejects payloads missing the fields the rest of the
// application decodes later. Storing a half-formed payload would poison the
// snapshot until the next successful refresh.
func validateSkills(raw []byte) error {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	if _, ok := payload["skills"]; !ok {
		return errors.New("skills payload missing skills list")
	}
	if _, ok := payload["total_sp"]; !ok {
		return errors.New("skills payload missing total_sp")
	}
	return nil
}

func validateImplants(raw []byte) error {
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return fmt.Errorf("implants payload is not a list of type ids: %w", err)
	}
	return nil
}
