package esi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
)

// Default EVE SSO endpoints.
const (
	DefaultAuthorizeURL = "https://login.eveonline.com/v2/oauth/authorize"
	DefaultTokenURL     = "https://login.eveonline.com/v2/oauth/token"
	DefaultRevokeURL    = "https://login.eveonline.com/v2/oauth/revoke"
	DefaultVerifyURL    = "https://login.eveonline.com/oauth/verify"
)

// SSO talks to the EVE single sign-on service: code exchange, token refresh,
// verification and revocation.
type SSO struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string

	AuthorizeURL string
	TokenURL     string
	RevokeURL    string
	VerifyURL    string

	// Transport overrides the HTTP transport, used by tests.
	Transport http.RoundTripper

	logger *slog.Logger
}

// NewSSO returns an SSO client against the production login service.
func NewSSO(clientID, clientSecret, callbackURL string, logger *slog.Logger) *SSO {
	return &SSO{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		CallbackURL:  callbackURL,
		AuthorizeURL: DefaultAuthorizeURL,
		TokenURL:     DefaultTokenURL,
		RevokeURL:    DefaultRevokeURL,
		VerifyURL:    DefaultVerifyURL,
		logger:       logger,
	}
}

// A Token is the SSO token response.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Expiry converts the relative lifetime into an absolute deadline.
func (t *Token) Expiry() time.Time {
	return time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
}

// AuthorizeRedirect builds the login URL the browser is sent to.
func (s *SSO) AuthorizeRedirect(state string, scopes []string) string {
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {s.ClientID},
		"redirect_uri":  {s.CallbackURL},
		"scope":         {strings.Join(scopes, " ")},
		"state":         {state},
	}
	return s.AuthorizeURL + "?" + q.Encode()
}

// Exchange trades an authorization code for a token pair.
func (s *SSO) Exchange(ctx context.Context, code string) (*Token, error) {
	return s.token(ctx, "sso_exchange", url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
	})
}

// Refresh trades a refresh token for a new access token. A 400 response
// means the refresh token has been revoked and comes back as KindAuthFailure.
func (s *SSO) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	return s.token(ctx, "sso_refresh", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
}

func (s *SSO) token(ctx context.Context, op string, form url.Values) (*Token, error) {
	var tok Token
	rb := requests.URL(s.TokenURL).
		BasicAuth(s.ClientID, s.ClientSecret).
		BodyForm(form).
		AddValidator(func(res *http.Response) error {
			switch {
			case res.StatusCode >= 200 && res.StatusCode < 300:
				return nil
			case res.StatusCode == http.StatusBadRequest, res.StatusCode == http.StatusUnauthorized:
				return &Error{Kind: KindAuthFailure, Operation: op, StatusCode: res.StatusCode}
			case res.StatusCode >= 500:
				return &Error{Kind: KindUnavailable, Operation: op, StatusCode: res.StatusCode}
			default:
				return &Error{Kind: KindUnexpected, Operation: op, StatusCode: res.StatusCode}
			}
		}).
		ToJSON(&tok)
	if s.Transport != nil {
		rb.Transport(s.Transport)
	}
	if err := wrap(Operation{ID: op}, rb.Fetch(ctx)); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, &Error{Kind: KindPayload, Operation: op, Err: errors.New("token response without access_token")}
	}
	return &tok, nil
}

// A VerifiedCharacter is the identity bound to an access token.
type VerifiedCharacter struct {
	CharacterID   int64  `json:"CharacterID"`
	CharacterName string `json:"CharacterName"`
	Scopes        string `json:"Scopes"`
}

// Verify asks the login service which character an access token belongs to.
func (s *SSO) Verify(ctx context.Context, accessToken string) (*VerifiedCharacter, error) {
	op := Operation{ID: "sso_verify"}
	var vc VerifiedCharacter
	rb := requests.URL(s.VerifyURL).
		Header("Authorization", "Bearer "+accessToken).
		AddValidator(func(res *http.Response) error {
			return classify(op, res.StatusCode)
		}).
		ToJSON(&vc)
	if s.Transport != nil {
		rb.Transport(s.Transport)
	}
	if err := wrap(op, rb.Fetch(ctx)); err != nil {
		return nil, err
	}
	return &vc, nil
}

// Revoke invalidates a refresh token. Failures are logged and swallowed;
// revocation is a courtesy, not a requirement.
func (s *SSO) Revoke(ctx context.Context, refreshToken string) {
	rb := requests.URL(s.RevokeURL).
		BasicAuth(s.ClientID, s.ClientSecret).
		BodyForm(url.Values{
			"token_type_hint": {"refresh_token"},
			"token":           {refreshToken},
		})
	if s.Transport != nil {
		rb.Transport(s.Transport)
	}
	if err := rb.Fetch(ctx); err != nil {
		s.logger.DebugContext(ctx, "token revocation failed", "error", err)
	}
}
