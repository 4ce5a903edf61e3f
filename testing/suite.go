// Package testing provides an in-memory database with every behavior
// registered, plus fixture models, for the behavior packages' tests.
package testing

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/shaurya/behave/cache"
	"github.com/shaurya/behave/config"
	"github.com/shaurya/behave/db"
	"github.com/shaurya/behave/framework"
	"github.com/shaurya/behave/loggable"
	"github.com/shaurya/behave/tree"
)

// MongoURIEnv names the variable enabling the Mongo backed tests.
const MongoURIEnv = "BEHAVE_TEST_MONGO_URI"

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at t.
func NewClock(t time.Time) *Clock { return &Clock{now: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Options configure a suite.
type Options struct {
	// Behaviors defaults to every behavior enabled.
	Behaviors *config.BehaviorsConfig
	// LogStore defaults to the database.
	LogStore loggable.Store
	// NoCache disables the translation cache.
	NoCache bool
}

// Suite is a fresh database with the listeners registered.
type Suite struct {
	DB    *gorm.DB
	Ext   *framework.Extensions
	Cache *cache.MemoryAdapter
	Clock *Clock
	Ctx   context.Context
	t     testing.TB
}

// NewSuite opens an in-memory database with every behavior registered and
// creates the tables of models, which default to the fixture models.
func NewSuite(t testing.TB, models ...any) *Suite {
	return NewSuiteWith(t, Options{}, models...)
}

// NewSuiteWith is NewSuite with options.
func NewSuiteWith(t testing.TB, opts Options, models ...any) *Suite {
	t.Helper()
	os.Setenv("APP_ENV", "test")

	cfg := config.DatabaseConfig{Driver: db.SQLite, Path: ":memory:"}
	gdb, err := db.Connect(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	require.NoError(t, db.Migrate(gdb, db.SQLite))

	s := &Suite{
		DB:    gdb,
		Clock: NewClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		Ctx:   context.Background(),
		t:     t,
	}
	behaviors := framework.AllEnabled()
	if opts.Behaviors != nil {
		behaviors = *opts.Behaviors
	}
	deps := Deps(s.Clock)
	deps.LogStore = opts.LogStore
	if !opts.NoCache {
		s.Cache = cache.NewMemoryAdapter()
		deps.Cache = s.Cache
		deps.CacheTTL = time.Hour
	}
	s.Ext, err = framework.Register(gdb, behaviors, deps)
	require.NoError(t, err)

	if len(models) == 0 {
		models = Models()
	}
	require.NoError(t, gdb.AutoMigrate(models...))
	require.NoError(t, tree.MigrateClosure(gdb, models...))
	return s
}

// Deps returns listener dependencies running on clock.
func Deps(clock *Clock) framework.Deps {
	return framework.Deps{Clock: clock.Now}
}

// Now is the suite clock's time.
func (s *Suite) Now() time.Time { return s.Clock.Now() }

// Create inserts every object or fails the test.
func (s *Suite) Create(objs ...any) {
	s.t.Helper()
	for _, obj := range objs {
		require.NoError(s.t, s.DB.Create(obj).Error)
	}
}

// Count counts the rows of table, soft deleted rows included.
func (s *Suite) Count(table string) int64 {
	s.t.Helper()
	var n int64
	require.NoError(s.t, s.DB.Unscoped().Table(table).Count(&n).Error)
	return n
}

// MongoStore returns a log entry store in a throwaway collection, skipping
// the test unless BEHAVE_TEST_MONGO_URI is set.
func MongoStore(t testing.TB) *loggable.MongoStore {
	t.Helper()
	uri := os.Getenv(MongoURIEnv)
	if uri == "" {
		t.Skipf("%s is not set", MongoURIEnv)
	}
	ctx := context.Background()
	client, database, err := db.ConnectMongo(ctx, config.MongoConfig{URI: uri, Database: "behave_test"})
	require.NoError(t, err)
	name := fmt.Sprintf("log_entries_%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_ = database.Collection(name).Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	store := loggable.NewMongoStore(database, name)
	require.NoError(t, store.Migrate(ctx))
	return store
}
