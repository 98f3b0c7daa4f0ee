package waitlist

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/evetools/waitlist/esi"
	"github.com/evetools/waitlist/esiauth"
	"github.com/evetools/waitlist/internal/httpx"
	"github.com/evetools/waitlist/internal/snowflake"
	"github.com/evetools/waitlist/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-json-experiment/json"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	require := require.New(t)
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	require.NoError(err)

	sqlDB, err := db.DB()
	require.NoError(err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(db.AutoMigrate(models.AllTables()...))
	require.NoError(db.Exec("PRAGMA foreign_keys = ON").Error)
	return db
}

func testServer(t *testing.T, db *gorm.DB, upstream *httptest.Server) *httptest.Server {
	t.Helper()

	client := esi.NewClient(testLogger())
	client.BaseURL = upstream.URL
	sso := esi.NewSSO("id", "secret", "http://localhost/auth/callback", testLogger())
	sso.TokenURL = upstream.URL + "/oauth/token"
	tokens := esi.NewTokenManager(db, sso, client, testLogger())
	gateway := esi.NewGateway(db, client, tokens, testLogger())
	backfill := esi.NewBackfiller(db, client, testLogger())

	env := &Env{
		Env:      &models.Env{DB: db, Logger: testLogger()},
		Gateway:  gateway,
		Backfill: backfill,
	}
	envFn := func(*http.Request) *Env { return env }

	r := chi.NewRouter()
	r.Use(esiauth.RequireUser(db))
	r.Route("/waitlist", func(r chi.Router) {
		r.Get("/", httpx.HandlerFunc(envFn, Show))
		r.Post("/fits", httpx.HandlerFunc(envFn, SubmitFit))
		r.Post("/fits/{id:[0-9]+}/status", httpx.HandlerFunc(envFn, UpdateFitStatus))
	})
	r.Route("/fleets", func(r chi.Router) {
		r.Post("/", httpx.HandlerFunc(envFn, CreateFleet))
		r.Post("/{id:[0-9]+}/structure", httpx.HandlerFunc(envFn, FleetStructure))
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func seedCharacter(t *testing.T, db *gorm.DB, id int64, name, email string, admin bool) *models.Character {
	t.Helper()
	require := require.New(t)

	user, err := models.NewUsers(db).Create(email, "hunter2", admin)
	require.NoError(err)
	char := &models.Character{ID: id, UserID: user.ID, Name: name}
	require.NoError(db.Create(char).Error)
	require.NoError(db.Create(&models.Credential{
		ID:           snowflake.Now(),
		CharacterID:  id,
		AccessToken:  "access-" + name,
		RefreshToken: "refresh-" + name,
		ExpiresAt:    time.Now().Add(time.Hour),
		Scopes:       esi.ScopeReadFleet,
	}).Error)
	return char
}

func do(t *testing.T, srv *httptest.Server, method, path, email, body string) (*http.Response, []byte) {
	t.Helper()
	require := require.New(t)

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	require.NoError(err)
	req.Header.Set("X-Remote-User", email)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(err)
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	require.NoError(err)
	return res, b
}

func TestFleetLifecycle(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)

	fc := seedCharacter(t, db, 99001, "Boss", "boss@example.com", true)

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("/characters/%d/fleet/", fc.ID), func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"fleet_id":7700,"wing_id":1,"squad_id":10}`)
	})
	structure := `[{"id":1,"name":"Wing 1","squads":[{"id":10,"name":"Squad 1"},{"id":11,"name":"Squad 2"}]}]`
	mux.HandleFunc("/fleets/7700/wings/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, structure)
	})
	upstream := httptest.NewServer(mux)
	t.Cleanup(upstream.Close)
	srv := testServer(t, db, upstream)

	// register the fleet the commander is in
	res, body := do(t, srv, "POST", "/fleets", "boss@example.com", `{"character_id":99001,"description":"HQ fleet"}`)
	require.Equal(http.StatusCreated, res.StatusCode)
	var fleet models.Fleet
	require.NoError(json.Unmarshal(body, &fleet))
	require.Equal(int64(7700), fleet.ESIFleetID)

	var wings []models.FleetWing
	require.NoError(db.Preload("Squads").Where("fleet_id = ?", fleet.ID).Find(&wings).Error)
	require.Len(wings, 1)
	require.Len(wings[0].Squads, 2)

	// assign a category, then re-sync a changed structure
	require.NoError(db.Model(&models.FleetSquad{}).
		Where("squad_id = ?", 10).Update("assigned_category", "logistics").Error)
	structure = `[{"id":1,"name":"Renamed","squads":[{"id":10,"name":"Squad 1"}]}]`

	res, _ = do(t, srv, "POST", fmt.Sprintf("/fleets/%d/structure", fleet.ID), "boss@example.com", "")
	require.Equal(http.StatusOK, res.StatusCode)

	wings = nil
	require.NoError(db.Preload("Squads").Where("fleet_id = ?", fleet.ID).Find(&wings).Error)
	require.Len(wings, 1)
	require.Equal("Renamed", wings[0].Name)
	require.Len(wings[0].Squads, 1)
	require.Equal("logistics", wings[0].Squads[0].AssignedCategory)

	// non-FCs cannot register fleets
	seedCharacter(t, db, 99002, "Grunt", "grunt@example.com", false)
	res, _ = do(t, srv, "POST", "/fleets", "grunt@example.com", `{"character_id":99002}`)
	require.Equal(http.StatusForbidden, res.StatusCode)
}

func TestFitFlow(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)

	fc := seedCharacter(t, db, 99101, "Lead", "lead@example.com", true)
	pilot := seedCharacter(t, db, 99102, "Liner", "liner@example.com", false)

	fleet := &models.Fleet{CommanderID: fc.ID, ESIFleetID: 8800, Active: true}
	require.NoError(models.NewFleets(db).Create(fleet))
	_, err := models.NewWaitlists(db).Create(fleet.ID)
	require.NoError(err)

	upstream := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(upstream.Close)
	srv := testServer(t, db, upstream)

	// pilots cannot submit fits for characters they do not own
	res, _ := do(t, srv, "POST", "/waitlist/fits", "liner@example.com",
		`{"character_id":99101,"raw":"[Rifter, sneaky]"}`)
	require.Equal(http.StatusNotFound, res.StatusCode)

	res, body := do(t, srv, "POST", "/waitlist/fits", "liner@example.com",
		fmt.Sprintf(`{"character_id":%d,"raw":"[Rifter, starter]","ship_type_id":587}`, pilot.ID))
	require.Equal(http.StatusCreated, res.StatusCode)
	var fit models.Fit
	require.NoError(json.Unmarshal(body, &fit))
	require.Equal(models.FitPending, fit.FitStatus)

	// only FCs decide
	res, _ = do(t, srv, "POST", fmt.Sprintf("/waitlist/fits/%d/status", fit.ID), "liner@example.com",
		`{"status":"APPROVED"}`)
	require.Equal(http.StatusForbidden, res.StatusCode)

	res, body = do(t, srv, "POST", fmt.Sprintf("/waitlist/fits/%d/status", fit.ID), "lead@example.com",
		`{"status":"APPROVED"}`)
	require.Equal(http.StatusOK, res.StatusCode)
	require.NoError(json.Unmarshal(body, &fit))
	require.Equal(models.FitApproved, fit.FitStatus)

	res, _ = do(t, srv, "POST", fmt.Sprintf("/waitlist/fits/%d/status", fit.ID), "lead@example.com",
		`{"status":"SOMETHING"}`)
	require.Equal(http.StatusBadRequest, res.StatusCode)

	// the waitlist view shows the approved fit
	res, body = do(t, srv, "GET", "/waitlist", "liner@example.com", "")
	require.Equal(http.StatusOK, res.StatusCode)
	var view struct {
		Open bool `json:"open"`
		Fits []struct {
			CharacterName string `json:"character_name"`
			Status        string `json:"status"`
		} `json:"fits"`
	}
	require.NoError(json.Unmarshal(body, &view))
	require.True(view.Open)
	require.Len(view.Fits, 1)
	require.Equal("Liner", view.Fits[0].CharacterName)
	require.Equal("APPROVED", view.Fits[0].Status)
}
