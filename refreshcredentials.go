package main

import (
	"context"
	"time"

	"github.com/evetools/waitlist/esi"
	"gorm.io/gorm"
)

// RefreshCredentialsCmd runs one credential sweep by hand: refresh every
// credential that has sat expired past the cutoff and remove characters
// whose refresh tokens turn out to be revoked. The serve command runs the
// same sweep periodically.
type RefreshCredentialsCmd struct {
	SSOClientID     string `required:"" env:"SSO_CLIENT_ID" help:"EVE SSO application client id"`
	SSOClientSecret string `required:"" env:"SSO_CLIENT_SECRET" help:"EVE SSO application client secret"`

	Age time.Duration `default:"168h" help:"how long a credential may sit expired before it is swept"`
}

func (r *RefreshCredentialsCmd) Run(ctx *Context) error {
	db, err := gorm.Open(ctx.Dialector, &ctx.Config)
	if err != nil {
		return err
	}

	client := esi.NewClient(ctx.Logger)
	sso := esi.NewSSO(r.SSOClientID, r.SSOClientSecret, "", ctx.Logger)
	tokens := esi.NewTokenManager(db, sso, client, ctx.Logger)
	return tokens.SweepStale(context.Background(), r.Age)
}
