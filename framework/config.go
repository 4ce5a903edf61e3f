package framework

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/shaurya/behave/config"
)

// ConfigDir is where LoadConfig looks for app.yaml and environments/.
var ConfigDir = "config"

var validate = validator.New()

func defaults(v *viper.Viper) {
	v.SetDefault("app.name", "behave")
	v.SetDefault("app.env", "development")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool", 10)
	v.SetDefault("cache.ttl", 3600)
	v.SetDefault("cache.prefix", "behave")
	v.SetDefault("i18n.locale", "en")
	v.SetDefault("behaviors.timestampable.enabled", true)
	v.SetDefault("behaviors.sluggable.enabled", true)
	v.SetDefault("behaviors.tree.enabled", true)
	v.SetDefault("behaviors.loggable.enabled", true)
	v.SetDefault("behaviors.loggable.store", "gorm")
	v.SetDefault("behaviors.translatable.enabled", true)
	v.SetDefault("behaviors.translatable.default_locale", "en")
	v.SetDefault("behaviors.softdeleteable.enabled", true)
}

// LoadConfig reads config/app.yaml, merges config/environments/<env>.yaml
// over it and applies BEHAVE_ prefixed environment variables.
func LoadConfig() (*config.Config, error) {
	v := viper.New()
	defaults(v)

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	v.AddConfigPath(ConfigDir)
	v.SetConfigName("app")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read app.yaml: %w", err)
		}
	}

	v.SetConfigName("environments/" + env)
	if err := v.MergeInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "[behave] no environment config for %s, using app.yaml\n", env)
	}

	v.SetEnvPrefix("behave")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.App.Env == "" || os.Getenv("APP_ENV") != "" {
		cfg.App.Env = env
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
