package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"gorm.io/gorm"
)

type Context struct {
	Debug  bool
	Logger *slog.Logger

	Dialector gorm.Dialector
	gorm.Config
}

var cli struct {
	Debug bool   `help:"Enable debug logging."`
	DSN   string `required:"" env:"WAITLIST_DSN" help:"Database connection string."`

	Serve              ServeCmd              `cmd:"" help:"Serve the waitlist API."`
	AutoMigrate        AutoMigrateCmd        `cmd:"" help:"Create or update the database schema."`
	CreateUser         CreateUserCmd         `cmd:"" help:"Create a local user."`
	ImportCategories   ImportCategoriesCmd   `cmd:"" help:"Bulk import the category taxonomy."`
	RefreshCredentials RefreshCredentialsCmd `cmd:"" help:"Refresh stale credentials and prune revoked characters."`
	BackfillSlots      BackfillSlotsCmd      `cmd:"" help:"Populate slot data for cached types that predate slot extraction."`
}

func main() {
	ctx := kong.Parse(&cli)
	level := slog.LevelInfo
	if cli.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	err := ctx.Run(&Context{
		Debug:     cli.Debug,
		Logger:    logger,
		Dialector: newDialector(cli.DSN),
	})
	ctx.FatalIfErrorf(err)
}
