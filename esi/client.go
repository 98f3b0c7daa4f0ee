package esi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/carlmjohnson/requests"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public ESI endpoint.
const DefaultBaseURL = "https://esi.evetech.net/latest"

// Client performs single HTTP calls against ESI and classifies every failure
// into an *Error. It knows nothing about credentials; callers that need
// authentication go through a Gateway.
type Client struct {
	// BaseURL is the API root, without a trailing slash.
	BaseURL string

	// Transport overrides the HTTP transport, used by tests.
	Transport http.RoundTripper

	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient returns a Client for the public ESI endpoint, rate limited to
// stay clear of ESI's error budget.
func NewClient(logger *slog.Logger) *Client {
	return &Client{
		BaseURL: DefaultBaseURL,
		limiter: rate.NewLimiter(rate.Limit(20), 40),
		logger:  logger,
	}
}

// An Operation identifies one ESI route. Scopes lists the SSO scopes the
// route requires; public routes leave it empty.
type Operation struct {
	ID     string
	Path   string
	Query  url.Values
	Scopes []string
}

// Do performs the operation and decodes the JSON response into out. token may
// be empty for public routes. Every returned error is an *Error.
func (c *Client) Do(ctx context.Context, op Operation, token string, out any) error {
	rb := c.builder(op, token)
	if out != nil {
		rb.ToJSON(out)
	}
	return c.fetch(ctx, op, rb)
}

// DoRaw performs the operation and returns the undecoded response body.
func (c *Client) DoRaw(ctx context.Context, op Operation, token string) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.fetch(ctx, op, c.builder(op, token).ToBytesBuffer(&buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Client) builder(op Operation, token string) *requests.Builder {
	rb := requests.URL(c.BaseURL + op.Path).
		Accept("application/json").
		AddValidator(func(res *http.Response) error {
			return classify(op, res.StatusCode)
		})
	for k, vs := range op.Query {
		rb.Param(k, vs...)
	}
	if token != "" {
		rb.Header("Authorization", "Bearer "+token)
	}
	if c.Transport != nil {
		rb.Transport(c.Transport)
	}
	return rb
}

func (c *Client) fetch(ctx context.Context, op Operation, rb *requests.Builder) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Kind: KindUnavailable, Operation: op.ID, Err: err}
	}
	// Log the operation and which parameters were set, never their values.
	c.logger.DebugContext(ctx, "esi request", "operation", op.ID, "params", paramKeys(op.Query))
	return wrap(op, rb.Fetch(ctx))
}

func classify(op Operation, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return &Error{Kind: KindAuthFailure, Operation: op.ID, StatusCode: status}
	case status == http.StatusForbidden:
		return &Error{Kind: KindForbidden, Operation: op.ID, StatusCode: status}
	case status == http.StatusNotFound:
		return &Error{Kind: KindNotFound, Operation: op.ID, StatusCode: status}
	case status >= 500:
		return &Error{Kind: KindUnavailable, Operation: op.ID, StatusCode: status}
	default:
		return &Error{Kind: KindUnexpected, Operation: op.ID, StatusCode: status}
	}
}

// wrap folds the error kinds of the requests package into our taxonomy.
// Validator errors already carry a classified *Error and pass through.
func wrap(op Operation, err error) error {
	if err == nil {
		return nil
	}
	var esiErr *Error
	if errors.As(err, &esiErr) {
		return esiErr
	}
	switch {
	case errors.Is(err, requests.ErrHandler):
		return &Error{Kind: KindPayload, Operation: op.ID, Err: err}
	case errors.Is(err, requests.ErrTransport):
		return &Error{Kind: KindUnavailable, Operation: op.ID, Err: err}
	default:
		return &Error{Kind: KindUnexpected, Operation: op.ID, Err: err}
	}
}

func paramKeys(q url.Values) []string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	return keys
}

// TypeIconURL returns the image server URL for a type's 32px icon.
func TypeIconURL(typeID int64) string {
	return fmt.Sprintf("https://images.evetech.net/types/%d/icon?size=32", typeID)
}

type CharacterInfo struct {
	Name          string `json:"name"`
	CorporationID int64  `json:"corporation_id"`
	AllianceID    int64  `json:"alliance_id"`
}

func GetCharacter(characterID int64) Operation {
	return Operation{
		ID:   "get_characters_character_id",
		Path: fmt.Sprintf("/characters/%d/", characterID),
	}
}

type CorporationInfo struct {
	Name       string `json:"name"`
	Ticker     string `json:"ticker"`
	AllianceID int64  `json:"alliance_id"`
}

func GetCorporation(corporationID int64) Operation {
	return Operation{
		ID:   "get_corporations_corporation_id",
		Path: fmt.Sprintf("/corporations/%d/", corporationID),
	}
}

type AllianceInfo struct {
	Name   string `json:"name"`
	Ticker string `json:"ticker"`
}

func GetAlliance(allianceID int64) Operation {
	return Operation{
		ID:   "get_alliances_alliance_id",
		Path: fmt.Sprintf("/alliances/%d/", allianceID),
	}
}

type DogmaAttribute struct {
	AttributeID int64   `json:"attribute_id"`
	Value       float64 `json:"value"`
}

type TypeInfo struct {
	Name            string           `json:"name"`
	GroupID         int64            `json:"group_id"`
	Published       bool             `json:"published"`
	Mass            *float64         `json:"mass"`
	Volume          *float64         `json:"volume"`
	Capacity        *float64         `json:"capacity"`
	DogmaAttributes []DogmaAttribute `json:"dogma_attributes"`
}

func GetType(typeID int64) Operation {
	return Operation{
		ID:   "get_universe_types_type_id",
		Path: fmt.Sprintf("/universe/types/%d/", typeID),
	}
}

type GroupInfo struct {
	Name       string `json:"name"`
	CategoryID int64  `json:"category_id"`
	Published  bool   `json:"published"`
}

func GetGroup(groupID int64) Operation {
	return Operation{
		ID:   "get_universe_groups_group_id",
		Path: fmt.Sprintf("/universe/groups/%d/", groupID),
	}
}

type CategoryInfo struct {
	Name      string `json:"name"`
	Published bool   `json:"published"`
}

func GetCategories() Operation {
	return Operation{
		ID:   "get_universe_categories",
		Path: "/universe/categories/",
	}
}

func GetCategory(categoryID int64) Operation {
	return Operation{
		ID:   "get_universe_categories_category_id",
		Path: fmt.Sprintf("/universe/categories/%d/", categoryID),
	}
}

func GetSkills(characterID int64) Operation {
	return Operation{
		ID:     "get_characters_character_id_skills",
		Path:   fmt.Sprintf("/characters/%d/skills/", characterID),
		Scopes: []string{ScopeReadSkills},
	}
}

func GetImplants(characterID int64) Operation {
	return Operation{
		ID:     "get_characters_character_id_implants",
		Path:   fmt.Sprintf("/characters/%d/implants/", characterID),
		Scopes: []string{ScopeReadImplants},
	}
}

type FleetMembership struct {
	FleetID int64 `json:"fleet_id"`
	WingID  int64 `json:"wing_id"`
	SquadID int64 `json:"squad_id"`
}

func GetCharacterFleet(characterID int64) Operation {
	return Operation{
		ID:     "get_characters_character_id_fleet",
		Path:   fmt.Sprintf("/characters/%d/fleet/", characterID),
		Scopes: []string{ScopeReadFleet},
	}
}

type SquadInfo struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type WingInfo struct {
	ID     int64       `json:"id"`
	Name   string      `json:"name"`
	Squads []SquadInfo `json:"squads"`
}

func GetFleetWings(fleetID int64) Operation {
	return Operation{
		ID:     "get_fleets_fleet_id_wings",
		Path:   fmt.Sprintf("/fleets/%d/wings/", fleetID),
		Scopes: []string{ScopeReadFleet},
	}
}
