package framework

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shaurya/behave/cache"
	"github.com/shaurya/behave/config"
	"github.com/shaurya/behave/loggable"
	"github.com/shaurya/behave/sluggable"
	"github.com/shaurya/behave/softdeleteable"
	"github.com/shaurya/behave/timestampable"
	"github.com/shaurya/behave/translatable"
	"github.com/shaurya/behave/tree"
)

// Deps are the services the listeners are built with.
type Deps struct {
	Log      *zap.Logger
	Cache    cache.Cache
	CacheTTL time.Duration
	// LogStore overrides where log entries go; the database by default.
	LogStore loggable.Store
	// Clock overrides time.Now for timestamps, log entries and deletions.
	Clock func() time.Time
}

// Extensions holds the listeners registered on a database.
type Extensions struct {
	Timestampable  *timestampable.Listener
	Sluggable      *sluggable.Listener
	Tree           *tree.Listener
	Loggable       *loggable.Listener
	Translatable   *translatable.Listener
	SoftDeleteable *softdeleteable.Listener
}

// Register builds the enabled listeners and installs them on db.
//
// Registration order is the order listeners run in within one event:
// timestamps and slugs are settled before the tree places the node, changes
// are logged before translations swap field values, and soft deletion runs
// last so the others see the delete it turns into an update.
func Register(db *gorm.DB, cfg config.BehaviorsConfig, deps Deps) (*Extensions, error) {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	ext := &Extensions{}
	var plugins []gorm.Plugin

	if cfg.Timestampable.Enabled {
		opts := []timestampable.Option{timestampable.WithLogger(log)}
		if deps.Clock != nil {
			opts = append(opts, timestampable.WithClock(deps.Clock))
		}
		ext.Timestampable = timestampable.New(opts...)
		plugins = append(plugins, ext.Timestampable)
	}
	if cfg.Sluggable.Enabled {
		ext.Sluggable = sluggable.New(sluggable.WithLogger(log))
		plugins = append(plugins, ext.Sluggable)
	}
	if cfg.Tree.Enabled {
		ext.Tree = tree.New(tree.WithLogger(log))
		plugins = append(plugins, ext.Tree)
	}
	if cfg.Loggable.Enabled {
		opts := []loggable.Option{loggable.WithLogger(log)}
		if deps.LogStore != nil {
			opts = append(opts, loggable.WithStore(deps.LogStore))
		}
		if cfg.Loggable.Username != "" {
			opts = append(opts, loggable.WithDefaultUsername(cfg.Loggable.Username))
		}
		if deps.Clock != nil {
			opts = append(opts, loggable.WithClock(deps.Clock))
		}
		ext.Loggable = loggable.New(opts...)
		plugins = append(plugins, ext.Loggable)
	}
	if cfg.Translatable.Enabled {
		t := cfg.Translatable
		opts := []translatable.Option{
			translatable.WithLogger(log),
			translatable.WithFallback(t.Fallback),
			translatable.WithPersistDefaultLocale(t.PersistDefaultLocale),
			translatable.WithSkipOnLoad(t.SkipOnLoad),
		}
		if t.DefaultLocale != "" {
			opts = append(opts, translatable.WithDefaultLocale(t.DefaultLocale))
		}
		if t.Table != "" {
			opts = append(opts, translatable.WithTable(t.Table))
		}
		if deps.Cache != nil {
			opts = append(opts, translatable.WithCache(deps.Cache, deps.CacheTTL))
		}
		ext.Translatable = translatable.New(opts...)
		plugins = append(plugins, ext.Translatable)
	}
	if cfg.SoftDeleteable.Enabled {
		opts := []softdeleteable.Option{softdeleteable.WithLogger(log)}
		if deps.Clock != nil {
			opts = append(opts, softdeleteable.WithClock(deps.Clock))
		}
		ext.SoftDeleteable = softdeleteable.New(opts...)
		plugins = append(plugins, ext.SoftDeleteable)
	}

	for _, p := range plugins {
		if err := db.Use(p); err != nil {
			return nil, fmt.Errorf("register %s: %w", p.Name(), err)
		}
		log.Debug("listener registered", zap.String("name", p.Name()))
	}
	return ext, nil
}

// AllEnabled turns every behavior on.
func AllEnabled() config.BehaviorsConfig {
	var cfg config.BehaviorsConfig
	cfg.Timestampable.Enabled = true
	cfg.Sluggable.Enabled = true
	cfg.Tree.Enabled = true
	cfg.Loggable.Enabled = true
	cfg.Translatable.Enabled = true
	cfg.SoftDeleteable.Enabled = true
	return cfg
}
