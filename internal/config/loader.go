package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "MESSENGER_GATEWAY"
	configBaseName = "messenger-gateway"
)

// LoadDotEnv loads environment variables from the given .env files without
// overriding variables already set. With no arguments it loads ./.env when
// that file exists.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// newViper creates a Viper instance reading configFile (or
// ./messenger-gateway.yaml when empty) with environment overrides bound.
func newViper(configFile string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configBaseName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindEnvKeys(v)
	return v
}

// bindEnvKeys binds every scalar key so that it can be set from the
// environment even when absent from the config file. Pages are a list and
// come from the file or the legacy page variables.
func bindEnvKeys(v *viper.Viper) {
	_ = v.BindEnv("app_secret", envPrefix+"_APP_SECRET", "APP_SECRET")
	_ = v.BindEnv("verify_token", envPrefix+"_VERIFY_TOKEN", "WEBHOOK_VERIFY_TOKEN")

	_ = v.BindEnv("server.addr")
	_ = v.BindEnv("server.shutdown_timeout")
	_ = v.BindEnv("server.max_body_bytes")

	_ = v.BindEnv("log.level", envPrefix+"_LOG_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("log.format")

	_ = v.BindEnv("dispatch.mode")
	_ = v.BindEnv("dispatch.max_concurrency")
	_ = v.BindEnv("dispatch.max_in_flight")
	_ = v.BindEnv("dispatch.handler_timeout")

	_ = v.BindEnv("graph.base_url")
	_ = v.BindEnv("graph.timeout")
	_ = v.BindEnv("graph.app_id", envPrefix+"_GRAPH_APP_ID", "APP_ID")

	_ = v.BindEnv("metrics.backend")
	_ = v.BindEnv("metrics.namespace")

	_ = v.BindEnv("forward.event_bus")
	_ = v.BindEnv("forward.source")

	_ = v.BindEnv("assistant.api_key", envPrefix+"_ASSISTANT_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("assistant.model")
}

// LoadRaw reads the config file and environment and applies defaults, but
// does not validate. Callers that resolve secrets from elsewhere (SSM) fill
// them in and then call Validate.
func LoadRaw(configFile string) (*Config, error) {
	v := newViper(configFile)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file - environment only.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Server.Addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.Server.Addr = ":" + port
		}
	}
	cfg.Pages = append(cfg.Pages, legacyPages()...)

	cfg.SetDefaults()
	return &cfg, nil
}

// Load reads, defaults and validates the configuration.
func Load(configFile string) (*Config, error) {
	cfg, err := LoadRaw(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// legacyPages builds pages from the ECHO_* and PREFIX_* variables.
func legacyPages() []PageConfig {
	var pages []PageConfig
	if id := os.Getenv("ECHO_PAGE_ID"); id != "" {
		pages = append(pages, PageConfig{
			ID:          id,
			AccessToken: os.Getenv("ECHO_ACCESS_TOKEN"),
			Handler:     "echo",
		})
	}
	if id := os.Getenv("PREFIX_PAGE_ID"); id != "" {
		pages = append(pages, PageConfig{
			ID:          id,
			AccessToken: os.Getenv("PREFIX_ACCESS_TOKEN"),
			Handler:     "prefix",
			Prefix:      os.Getenv("PREFIX_TEXT"),
		})
	}
	return pages
}
