package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/shaurya/behave/config"
)

// Dialects accepted by Connect and the migration helpers.
const (
	Postgres = "postgres"
	SQLite   = "sqlite"
)

// DB is the global database connection.
var DB *gorm.DB

// Dialect returns the dialect of cfg, postgres when unset.
func Dialect(cfg config.DatabaseConfig) string {
	if cfg.Driver == "" {
		return Postgres
	}
	return cfg.Driver
}

func dialector(cfg config.DatabaseConfig) (gorm.Dialector, string) {
	if Dialect(cfg) == SQLite {
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		return sqlite.Open(path), path
	}
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		cfg.Host, cfg.User, cfg.Password, cfg.Name, cfg.Port, cfg.SSLMode)
	return postgres.Open(dsn), fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

// Connect opens the database described by cfg with GORM.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	var logLevel gormlogger.LogLevel
	switch env {
	case "development":
		logLevel = gormlogger.Info
	case "test":
		logLevel = gormlogger.Silent
	default:
		logLevel = gormlogger.Warn
	}

	slowThreshold := time.Duration(cfg.SlowQueryMs) * time.Millisecond
	if slowThreshold == 0 {
		slowThreshold = 200 * time.Millisecond
	}

	gormLogger := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             slowThreshold,
			LogLevel:                  logLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  env == "development",
		},
	)

	d, where := dialector(cfg)
	db, err := gorm.Open(d, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("cannot open %s database at %s: %w", Dialect(cfg), where, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if Dialect(cfg) == SQLite {
		// one connection, so an in-memory database is shared by every query
		sqlDB.SetMaxOpenConns(1)
	} else if cfg.Pool > 0 {
		sqlDB.SetMaxIdleConns(cfg.Pool / 2)
		sqlDB.SetMaxOpenConns(cfg.Pool)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("cannot reach %s database at %s: %w", Dialect(cfg), where, err)
	}

	DB = db
	return db, nil
}

// MustConnect connects or exits.
func MustConnect(cfg config.DatabaseConfig) *gorm.DB {
	db, err := Connect(cfg)
	if err != nil {
		log.Fatalf("%s", err.Error())
	}
	return db
}
