package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/evetools/waitlist/esi"
	"github.com/evetools/waitlist/esiauth"
	"github.com/evetools/waitlist/internal/httpx"
	"github.com/evetools/waitlist/models"
	"github.com/evetools/waitlist/pilot"
	"github.com/evetools/waitlist/waitlist"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type ServeCmd struct {
	Addr string `default:":8080" help:"address to listen"`

	SSOClientID     string `required:"" env:"SSO_CLIENT_ID" help:"EVE SSO application client id"`
	SSOClientSecret string `required:"" env:"SSO_CLIENT_SECRET" help:"EVE SSO application client secret"`
	SSOCallbackURL  string `required:"" env:"SSO_CALLBACK_URL" help:"EVE SSO callback URL"`

	SweepInterval time.Duration `default:"1h" help:"how often to run the credential sweep"`
	SweepAge      time.Duration `default:"168h" help:"how long a credential may sit expired before the sweep touches it"`
}

func (s *ServeCmd) Run(ctx *Context) error {
	db, err := gorm.Open(ctx.Dialector, &ctx.Config)
	if err != nil {
		return err
	}
	if err := configureDB(db); err != nil {
		return err
	}

	client := esi.NewClient(ctx.Logger)
	sso := esi.NewSSO(s.SSOClientID, s.SSOClientSecret, s.SSOCallbackURL, ctx.Logger)
	tokens := esi.NewTokenManager(db, sso, client, ctx.Logger)
	gateway := esi.NewGateway(db, client, tokens, ctx.Logger)
	backfill := esi.NewBackfiller(db, client, ctx.Logger)
	refresher := esi.NewRefresher(db, client, gateway, backfill, ctx.Logger)

	env := &models.Env{DB: db, Logger: ctx.Logger}
	authEnv := &esiauth.Env{Env: env, SSO: sso}
	pilotEnv := &pilot.Env{Env: env, Refresher: refresher}
	waitlistEnv := &waitlist.Env{Env: env, Gateway: gateway, Backfill: backfill}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(esiauth.RequireUser(db))

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", httpx.HandlerFunc(always(authEnv), esiauth.Login))
		r.Get("/callback", httpx.HandlerFunc(always(authEnv), esiauth.Callback))
		r.Post("/logout", httpx.HandlerFunc(always(authEnv), esiauth.Logout))
	})
	r.Get("/pilots/{id:[0-9]+}", httpx.HandlerFunc(always(pilotEnv), pilot.Show))
	r.Route("/waitlist", func(r chi.Router) {
		r.Get("/", httpx.HandlerFunc(always(waitlistEnv), waitlist.Show))
		r.Post("/fits", httpx.HandlerFunc(always(waitlistEnv), waitlist.SubmitFit))
		r.Post("/fits/{id:[0-9]+}/status", httpx.HandlerFunc(always(waitlistEnv), waitlist.UpdateFitStatus))
	})
	r.Route("/fleets", func(r chi.Router) {
		r.Post("/", httpx.HandlerFunc(always(waitlistEnv), waitlist.CreateFleet))
		r.Post("/{id:[0-9]+}/structure", httpx.HandlerFunc(always(waitlistEnv), waitlist.FleetStructure))
	})

	svr := &http.Server{
		Addr:         s.Addr,
		Handler:      r,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		ctx.Logger.Info("listening", "addr", s.Addr)
		if err := svr.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return svr.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(s.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := tokens.SweepStale(gctx, s.SweepAge); err != nil {
					ctx.Logger.Warn("credential sweep failed", "error", err)
				}
			}
		}
	})
	return g.Wait()
}

// always adapts a fixed environment to the per-request env lookup that
// httpx.HandlerFunc expects.
func always[E any](env *E) func(*http.Request) *E {
	return func(*http.Request) *E { return env }
}
