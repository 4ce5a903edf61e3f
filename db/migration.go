package db

import (
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"gorm.io/gorm"
)

//go:embed migrations
var migrations embed.FS

// gooseDialect maps a dialect to its goose name and migration directory.
func gooseDialect(dialect string) (string, string, error) {
	switch dialect {
	case Postgres:
		return "postgres", "migrations/postgres", nil
	case SQLite:
		return "sqlite3", "migrations/sqlite", nil
	}
	return "", "", fmt.Errorf("no migrations for dialect %q", dialect)
}

func prepare(dialect string) (string, error) {
	name, dir, err := gooseDialect(dialect)
	if err != nil {
		return "", err
	}
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(name); err != nil {
		return "", err
	}
	return dir, nil
}

// Migrate creates the translation and log entry tables.
func Migrate(db *gorm.DB, dialect string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	dir, err := prepare(dialect)
	if err != nil {
		return err
	}
	return goose.Up(sqlDB, dir)
}

// Rollback reverts the last steps migrations, one when steps is not positive.
func Rollback(db *gorm.DB, dialect string, steps int) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	dir, err := prepare(dialect)
	if err != nil {
		return err
	}
	if steps <= 0 {
		steps = 1
	}
	for i := 0; i < steps; i++ {
		if err := goose.Down(sqlDB, dir); err != nil {
			return err
		}
	}
	return nil
}

// MigrationStatus prints the migration status.
func MigrationStatus(db *gorm.DB, dialect string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	dir, err := prepare(dialect)
	if err != nil {
		return err
	}
	return goose.Status(sqlDB, dir)
}

// Version returns the current migration version.
func Version(db *gorm.DB, dialect string) (int64, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return 0, err
	}
	if _, err := prepare(dialect); err != nil {
		return 0, err
	}
	return goose.GetDBVersion(sqlDB)
}
