package config

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Cache     CacheConfig     `mapstructure:"cache"`
	I18n      I18nConfig      `mapstructure:"i18n"`
	Behaviors BehaviorsConfig `mapstructure:"behaviors"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Env         string `mapstructure:"env" validate:"omitempty,oneof=development production test"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type DatabaseConfig struct {
	Driver      string `mapstructure:"driver" validate:"omitempty,oneof=postgres sqlite"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Name        string `mapstructure:"name"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	Pool        int    `mapstructure:"pool" validate:"gte=0"`
	SSLMode     string `mapstructure:"ssl_mode"`
	SlowQueryMs int    `mapstructure:"slow_query_ms"`
	// Path is the SQLite database file; ":memory:" for a throwaway database.
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	URL  string `mapstructure:"url"`
	Pool int    `mapstructure:"pool"`
	DB   int    `mapstructure:"db"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type CacheConfig struct {
	// Driver is "memory", "redis" or empty for no translation cache.
	Driver string `mapstructure:"driver" validate:"omitempty,oneof=memory redis"`
	TTL    int    `mapstructure:"ttl"`
	Prefix string `mapstructure:"prefix"`
}

type I18nConfig struct {
	Locale  string   `mapstructure:"locale"`
	// Locales restricts the locales that may be made current. Empty accepts any.
	Locales []string `mapstructure:"locales"`
}

type BehaviorsConfig struct {
	Timestampable  TimestampableConfig  `mapstructure:"timestampable"`
	Sluggable      SluggableConfig      `mapstructure:"sluggable"`
	Translatable   TranslatableConfig   `mapstructure:"translatable"`
	Loggable       LoggableConfig       `mapstructure:"loggable"`
	Tree           TreeConfig           `mapstructure:"tree"`
	SoftDeleteable SoftDeleteableConfig `mapstructure:"softdeleteable"`
}

type TimestampableConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type SluggableConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type TranslatableConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	DefaultLocale        string `mapstructure:"default_locale"`
	Fallback             bool   `mapstructure:"fallback"`
	PersistDefaultLocale bool   `mapstructure:"persist_default_locale"`
	SkipOnLoad           bool   `mapstructure:"skip_on_load"`
	Table                string `mapstructure:"table"`
}

type LoggableConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Store is "gorm" (same database, same transaction) or "mongo".
	Store      string `mapstructure:"store" validate:"omitempty,oneof=gorm mongo"`
	Collection string `mapstructure:"collection"`
	Username   string `mapstructure:"username"`
}

type TreeConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type SoftDeleteableConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
