package models

import (
	"time"

	"github.com/evetools/waitlist/internal/snowflake"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// A User is a local account. The web frontend authenticates users before
// requests reach us; a User exists only to own Characters.
// A User can have many Characters.
type User struct {
	snowflake.ID      `gorm:"primarykey;autoIncrement:false"`
	UpdatedAt         time.Time
	Email             string `gorm:"size:64;uniqueIndex;not null"`
	EncryptedPassword []byte `gorm:"size:60;not null"`
	Admin             bool   `gorm:"default:false;not null"`
	Characters        []Character
}

type Users struct {
	db *gorm.DB
}

func NewUsers(db *gorm.DB) *Users {
	return &Users{db: db}
}

func (u *Users) FindByEmail(email string) (*User, error) {
	var user User
	if err := u.db.First(&user, "email = ?", email).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (u *Users) Create(email, password string, admin bool) (*User, error) {
	passwd, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &User{
		ID:                snowflake.Now(),
		Email:             email,
		EncryptedPassword: passwd,
		Admin:             admin,
	}
	return user, u.db.Create(user).Error
}
