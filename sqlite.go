//go:build sqlite

package main

// sqlite support

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newDialector(dsn string) gorm.Dialector {
	return sqlite.Open(dsn)
}

func configureDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	// sqlite allows one writer at a time.
	sqlDB.SetMaxOpenConns(1)
	// sqlite ships with foreign key enforcement off; the cascading deletes
	// declared on the models need it on.
	return db.Exec("PRAGMA foreign_keys = ON").Error
}
