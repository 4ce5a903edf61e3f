package framework_test

import (
	"context"
	"io"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shaurya/behave/config"
	"github.com/shaurya/behave/framework"
	"github.com/shaurya/behave/framework/i18n"
	"github.com/shaurya/behave/translatable"
)

func testConfig() *config.Config {
	return &config.Config{
		App:       config.AppConfig{Name: "behave", Env: "test", AutoMigrate: true},
		Database:  config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"},
		Cache:     config.CacheConfig{Driver: "memory", TTL: 60},
		Behaviors: framework.AllEnabled(),
	}
}

func boot(t *testing.T, cfg *config.Config) *framework.App {
	t.Helper()
	t.Setenv("APP_ENV", "test")
	app := framework.NewWithConfig(cfg)
	require.NoError(t, app.Boot(context.Background()))
	t.Cleanup(func() { app.Close() })
	return app
}

func TestBoot(t *testing.T) {
	app := boot(t, testConfig())

	require.NotNil(t, app.DB)
	require.NotNil(t, app.Cache)
	ext := app.Extensions
	assert.NotNil(t, ext.Timestampable)
	assert.NotNil(t, ext.Sluggable)
	assert.NotNil(t, ext.Tree)
	assert.NotNil(t, ext.Loggable)
	assert.NotNil(t, ext.Translatable)
	assert.NotNil(t, ext.SoftDeleteable)
	assert.True(t, app.DB.Migrator().HasTable(translatable.DefaultTable))

	report := app.Health(context.Background())
	assert.True(t, report.Ready, "%+v", report.Checks)
	assert.EqualValues(t, 2, report.MigrationVersion)
	names := make([]string, len(report.Checks))
	for i, c := range report.Checks {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"db", "cache"}, names)
}

func TestBootWithSomeBehaviors(t *testing.T) {
	cfg := testConfig()
	cfg.Behaviors = config.BehaviorsConfig{}
	cfg.Behaviors.Sluggable.Enabled = true
	cfg.Behaviors.Translatable.Enabled = true
	cfg.Behaviors.Translatable.DefaultLocale = "fr"
	cfg.Cache.Driver = ""

	app := boot(t, cfg)
	assert.Nil(t, app.Cache)
	assert.Nil(t, app.Extensions.Loggable)
	assert.Nil(t, app.Extensions.Tree)
	require.NotNil(t, app.Extensions.Sluggable)
	require.NotNil(t, app.Extensions.Translatable)
	assert.Equal(t, "fr", app.Extensions.Translatable.DefaultLocale())
}

func TestTranslationLocaleFollowsI18n(t *testing.T) {
	cfg := testConfig()
	cfg.I18n = config.I18nConfig{Locale: "de", Locales: []string{"en", "de", "fr"}}
	t.Cleanup(func() { _ = i18n.Configure("") })

	app := boot(t, cfg)
	tr := app.Extensions.Translatable
	ctx := context.Background()
	assert.Equal(t, "de", tr.Locale(ctx, nil, reflect.Value{}))

	require.NoError(t, i18n.SetLocale("fr"))
	assert.Equal(t, "fr", tr.Locale(ctx, nil, reflect.Value{}))

	assert.ErrorIs(t, i18n.SetLocale("it"), i18n.ErrUnknownLocale)
	assert.Equal(t, "fr", tr.Locale(ctx, nil, reflect.Value{}))
}

func TestBootRejectsUnknownLocale(t *testing.T) {
	cfg := testConfig()
	cfg.I18n = config.I18nConfig{Locale: "it", Locales: []string{"en"}}
	t.Cleanup(func() { _ = i18n.Configure("") })
	t.Setenv("APP_ENV", "test")

	err := framework.NewWithConfig(cfg).Boot(context.Background())
	assert.ErrorIs(t, err, i18n.ErrUnknownLocale)
}

func TestRegisterTwiceFails(t *testing.T) {
	app := boot(t, testConfig())
	_, err := framework.Register(app.DB, framework.AllEnabled(), framework.Deps{})
	assert.Error(t, err)
}

func TestMetricsHandler(t *testing.T) {
	app := boot(t, testConfig())
	var n int64
	require.NoError(t, app.DB.Table(translatable.DefaultTable).Count(&n).Error)

	rec := httptest.NewRecorder()
	framework.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `behave_db_query_duration_seconds_count{op="query"}`)
}

func TestLoggerContext(t *testing.T) {
	log := zap.NewExample()
	ctx := framework.WithLogger(context.Background(), log)
	assert.Same(t, log, framework.FromContext(ctx))
	assert.Same(t, framework.Log, framework.FromContext(context.Background()))
}
