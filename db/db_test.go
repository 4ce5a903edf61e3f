package db_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/shaurya/behave/config"
	"github.com/shaurya/behave/db"
)

func sqlite(t *testing.T) *gorm.DB {
	t.Helper()
	os.Setenv("APP_ENV", "test")
	gdb, err := db.Connect(config.DatabaseConfig{Driver: db.SQLite, Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

func TestDialect(t *testing.T) {
	assert.Equal(t, db.Postgres, db.Dialect(config.DatabaseConfig{}))
	assert.Equal(t, db.SQLite, db.Dialect(config.DatabaseConfig{Driver: "sqlite"}))
	assert.Equal(t, db.Postgres, db.Dialect(config.DatabaseConfig{Driver: "postgres"}))
}

func TestMigrateAndRollback(t *testing.T) {
	gdb := sqlite(t)

	require.NoError(t, db.Migrate(gdb, db.SQLite))
	v, err := db.Version(gdb, db.SQLite)
	require.NoError(t, err)
	assert.EqualValues(t, 2, v)
	assert.True(t, gdb.Migrator().HasTable("ext_translations"))
	assert.True(t, gdb.Migrator().HasTable("ext_log_entries"))
	assert.True(t, gdb.Migrator().HasIndex("ext_translations", "ext_translations_unique_idx"))

	require.NoError(t, db.Migrate(gdb, db.SQLite), "migrating twice is a no-op")

	require.NoError(t, db.Rollback(gdb, db.SQLite, 1))
	v, err = db.Version(gdb, db.SQLite)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)
	assert.False(t, gdb.Migrator().HasTable("ext_log_entries"))
	assert.True(t, gdb.Migrator().HasTable("ext_translations"))

	require.NoError(t, db.Rollback(gdb, db.SQLite, 0))
	assert.False(t, gdb.Migrator().HasTable("ext_translations"))
}

func TestUnknownDialect(t *testing.T) {
	gdb := sqlite(t)
	assert.Error(t, db.Migrate(gdb, "oracle"))
}

func TestTranslationsAreUnique(t *testing.T) {
	gdb := sqlite(t)
	require.NoError(t, db.Migrate(gdb, db.SQLite))

	insert := "INSERT INTO ext_translations (locale, object_class, field, foreign_key, content) VALUES (?, ?, ?, ?, ?)"
	require.NoError(t, gdb.Exec(insert, "de", "Article", "Title", "1", "Hallo").Error)
	assert.Error(t, gdb.Exec(insert, "de", "Article", "Title", "1", "Servus").Error)
	require.NoError(t, gdb.Exec(insert, "fr", "Article", "Title", "1", "Salut").Error)
}
