package framework

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shaurya/behave/cache"
	"github.com/shaurya/behave/config"
	"github.com/shaurya/behave/db"
	"github.com/shaurya/behave/framework/i18n"
	"github.com/shaurya/behave/loggable"
)

// App wires the database, the optional Mongo log store and the translation
// cache to the behavior listeners.
type App struct {
	DB         *gorm.DB
	Mongo      *mongo.Client
	Cache      cache.Cache
	Config     *config.Config
	Log        *zap.Logger
	Extensions *Extensions

	closers []func() error
}

// New loads the configuration and returns an app ready to Boot.
func New() (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg), nil
}

// NewWithConfig returns an app for an already loaded configuration.
func NewWithConfig(cfg *config.Config) *App {
	if os.Getenv("APP_ENV") == "" && cfg.App.Env != "" {
		os.Setenv("APP_ENV", cfg.App.Env)
	}
	return &App{Config: cfg, Log: Log}
}

// Boot initializes all subsystems in order and registers the listeners.
func (a *App) Boot(ctx context.Context) error {
	// 1. Logger
	InitLogger()
	a.Log = Log
	a.Log.Info("booting", zap.String("app", a.Config.App.Name), zap.String("env", a.Config.App.Env))

	// 2. i18n, whose locale is the fallback translation locale
	if err := i18n.Configure(a.Config.I18n.Locale, a.Config.I18n.Locales...); err != nil {
		return err
	}

	// 3. Database
	if a.DB == nil {
		gdb, err := db.Connect(a.Config.Database)
		if err != nil {
			return err
		}
		a.DB = gdb
		a.closers = append(a.closers, func() error {
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
	}
	if err := a.DB.Use(QueryMetrics{}); err != nil {
		return err
	}

	// 4. Translation cache
	if err := a.bootCache(); err != nil {
		return err
	}

	// 5. Log entry store
	deps := Deps{
		Log:      a.Log,
		Cache:    a.Cache,
		CacheTTL: time.Duration(a.Config.Cache.TTL) * time.Second,
	}
	if a.Config.Behaviors.Loggable.Store == "mongo" {
		store, err := a.bootMongo(ctx)
		if err != nil {
			return err
		}
		deps.LogStore = store
	}

	// 6. Schema
	if a.Config.App.AutoMigrate {
		if err := db.Migrate(a.DB, db.Dialect(a.Config.Database)); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	// 7. Listeners
	ext, err := Register(a.DB, a.Config.Behaviors, deps)
	if err != nil {
		return err
	}
	a.Extensions = ext

	a.Log.Info("booted")
	return nil
}

func (a *App) bootCache() error {
	if a.Cache != nil {
		return nil
	}
	switch a.Config.Cache.Driver {
	case "memory":
		a.Cache = cache.NewMemoryAdapter()
	case "redis":
		r, err := cache.NewRedisAdapter(a.Config.Redis, a.Config.Cache.Prefix)
		if err != nil {
			return err
		}
		a.Cache = r
		a.closers = append(a.closers, r.Close)
	}
	return nil
}

func (a *App) bootMongo(ctx context.Context) (loggable.Store, error) {
	client, database, err := db.ConnectMongo(ctx, a.Config.Mongo)
	if err != nil {
		return nil, err
	}
	a.Mongo = client
	a.closers = append(a.closers, func() error {
		return client.Disconnect(context.Background())
	})
	store := loggable.NewMongoStore(database, a.Config.Behaviors.Loggable.Collection)
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// Close releases every connection Boot opened.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	_ = a.Log.Sync()
	return first
}
