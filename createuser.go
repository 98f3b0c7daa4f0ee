package main

import (
	"errors"
	"strings"

	"github.com/evetools/waitlist/models"
	"gorm.io/gorm"
)

type CreateUserCmd struct {
	Email    string `required:"" help:"email address of the user to create"`
	Password string `required:"" help:"password of the user to create"`
	Admin    bool   `help:"grant fleet commander rights"`
}

func (c *CreateUserCmd) Run(ctx *Context) error {
	if !strings.Contains(c.Email, "@") {
		return errors.New("invalid email address")
	}
	db, err := gorm.Open(ctx.Dialector, &ctx.Config)
	if err != nil {
		return err
	}
	user, err := models.NewUsers(db).Create(c.Email, c.Password, c.Admin)
	if err != nil {
		return err
	}
	ctx.Logger.Info("user created", "user_id", user.ID, "email", user.Email, "admin", user.Admin)
	return nil
}
